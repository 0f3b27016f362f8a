package db

import (
	"context"

	"cinna/models"
)

const messageColumns = `
        m.id, m.sender_id, m.receiver_id, m.message, m.is_read, m.created_at,
        COALESCE(NULLIF(TRIM(u.first_name || ' ' || u.last_name), ''), u.username) AS sender_name
        FROM chat_messages m JOIN users u ON u.id = m.sender_id`

func (s *Storage) CreateMessage(ctx context.Context, m *models.ChatMessage) error {
	query := `
        INSERT INTO chat_messages (sender_id, receiver_id, message)
        VALUES ($1, $2, $3)
        RETURNING id, is_read, created_at`
	return classify(s.db.QueryRowContext(ctx, query, m.Sender, m.Receiver, m.Message).
		Scan(&m.ID, &m.IsRead, &m.CreatedAt))
}

// Conversation возвращает переписку двух пользователей в хронологическом порядке
func (s *Storage) Conversation(ctx context.Context, userID, otherID int) ([]models.ChatMessage, error) {
	query := `SELECT ` + messageColumns + `
        WHERE (m.sender_id=$1 AND m.receiver_id=$2) OR (m.sender_id=$2 AND m.receiver_id=$1)
        ORDER BY m.created_at ASC, m.id ASC`
	msgs := []models.ChatMessage{}
	if err := s.db.SelectContext(ctx, &msgs, query, userID, otherID); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Storage) UnreadCount(ctx context.Context, userID int) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM chat_messages WHERE receiver_id=$1 AND NOT is_read`, userID)
	return n, err
}

// MarkRead помечает прочитанными все сообщения senderID, адресованные userID
func (s *Storage) MarkRead(ctx context.Context, userID, senderID int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_messages SET is_read=TRUE WHERE receiver_id=$1 AND sender_id=$2 AND NOT is_read`,
		userID, senderID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
