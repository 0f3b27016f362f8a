package handlers

import (
	"errors"
	"net/http"
	"strings"

	"cinna/db"
	"cinna/models"
)

// ChatUsersHandler обрабатывает GET /api/chat/users/?role=
func (h *Handler) ChatUsersHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	role := models.Role(r.URL.Query().Get("role"))
	if role == "" {
		role = user.Role.Counterpart()
	}
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid role")
		return
	}
	users, err := h.Store.ListUsersByRole(r.Context(), role, user.ID)
	if err != nil {
		h.internalError(w, r, "Failed to get users", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// ChatMessagesHandler возвращает переписку текущего пользователя с userId
func (h *Handler) ChatMessagesHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	otherID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	msgs, err := h.Store.Conversation(r.Context(), user.ID, otherID)
	if err != nil {
		h.internalError(w, r, "Failed to get messages", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// SendMessageHandler обрабатывает POST /api/chat/send/
func (h *Handler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var input models.SendMessageRequest
	if !decodeJSON(w, r, &input) {
		return
	}
	text := strings.TrimSpace(input.Message)
	fields := map[string]string{}
	if text == "" {
		fields["message"] = "Message is required"
	}
	if input.Receiver <= 0 || input.Receiver == user.ID {
		fields["receiver"] = "Select a valid receiver."
	}
	if len(fields) > 0 {
		writeFields(w, fields)
		return
	}
	if _, err := h.Store.GetUser(r.Context(), input.Receiver); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeFields(w, map[string]string{"receiver": "Select a valid receiver."})
			return
		}
		h.internalError(w, r, "Failed to send message", err)
		return
	}

	msg := &models.ChatMessage{
		Sender:     models.Ref(user.ID),
		SenderName: user.DisplayName(),
		Receiver:   models.Ref(input.Receiver),
		Message:    text,
	}
	if err := h.Store.CreateMessage(r.Context(), msg); err != nil {
		h.internalError(w, r, "Failed to send message", err)
		return
	}
	messagesSent.Inc()
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) UnreadCountHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	n, err := h.Store.UnreadCount(r.Context(), user.ID)
	if err != nil {
		h.internalError(w, r, "Failed to count unread messages", err)
		return
	}
	writeJSON(w, http.StatusOK, models.UnreadCount{Count: n})
}

// MarkReadHandler помечает прочитанными сообщения от userId
func (h *Handler) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	senderID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	n, err := h.Store.MarkRead(r.Context(), user.ID, senderID)
	if err != nil {
		h.internalError(w, r, "Failed to mark messages read", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Updated int `json:"updated"`
	}{n})
}
