package chat

import (
	"time"

	"github.com/google/uuid"

	"cinna/models"
)

// Entry это сообщение переписки: подтверждённое сервером или ещё отправляемое
type Entry interface {
	Text() string
	SenderID() int
	SentAt() time.Time
	isEntry()
}

// Confirmed это сообщение, полученное от сервера
type Confirmed struct {
	models.ChatMessage
}

func (m Confirmed) Text() string      { return m.Message }
func (m Confirmed) SenderID() int     { return m.Sender.Int() }
func (m Confirmed) SentAt() time.Time { return m.CreatedAt }
func (Confirmed) isEntry()            {}

// PendingSend это оптимистично показанное сообщение, отправка которого ещё не завершилась.
// LocalID не связан с серверным id.
type PendingSend struct {
	LocalID   uuid.UUID
	Sender    int
	Receiver  int
	Message   string
	CreatedAt time.Time
}

func (m PendingSend) Text() string      { return m.Message }
func (m PendingSend) SenderID() int     { return m.Sender }
func (m PendingSend) SentAt() time.Time { return m.CreatedAt }
func (PendingSend) isEntry()            {}

func confirmAll(msgs []models.ChatMessage) []Entry {
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Confirmed{m})
	}
	return out
}

// withoutPending убирает отправляемое сообщение с указанным LocalID
func withoutPending(entries []Entry, id uuid.UUID) ([]Entry, bool) {
	out := make([]Entry, 0, len(entries))
	removed := false
	for _, e := range entries {
		if p, ok := e.(PendingSend); ok && p.LocalID == id {
			removed = true
			continue
		}
		out = append(out, e)
	}
	return out, removed
}

// replacePending заменяет отправляемое сообщение подтверждённым. Если опрос уже
// принёс это сообщение, отправляемое просто убирается.
func replacePending(entries []Entry, id uuid.UUID, msg models.ChatMessage) []Entry {
	for _, e := range entries {
		if c, ok := e.(Confirmed); ok && c.ID == msg.ID {
			out, _ := withoutPending(entries, id)
			return out
		}
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		if p, ok := e.(PendingSend); ok && p.LocalID == id {
			out[i] = Confirmed{msg}
			continue
		}
		out[i] = e
	}
	return out
}
