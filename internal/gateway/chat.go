package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"cinna/models"
)

// UsersByRole возвращает возможных собеседников с указанной ролью
func (c *Client) UsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	var resp []models.User
	err := c.get(ctx, "/chat/users/", url.Values{"role": {string(role)}}, &resp)
	return resp, err
}

// Messages возвращает переписку с пользователем в порядке отправки
func (c *Client) Messages(ctx context.Context, userID int) ([]models.ChatMessage, error) {
	var resp []models.ChatMessage
	err := c.get(ctx, fmt.Sprintf("/chat/messages/%d/", userID), nil, &resp)
	return resp, err
}

func (c *Client) SendMessage(ctx context.Context, receiverID int, text string) (models.ChatMessage, error) {
	var resp models.ChatMessage
	err := c.send(ctx, http.MethodPost, "/chat/send/", models.SendMessageRequest{Receiver: receiverID, Message: text}, &resp)
	return resp, err
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp models.UnreadCount
	if err := c.get(ctx, "/chat/unread-count/", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// MarkRead помечает прочитанными сообщения от senderID
func (c *Client) MarkRead(ctx context.Context, senderID int) error {
	return c.send(ctx, http.MethodPost, fmt.Sprintf("/chat/mark-read/%d/", senderID), nil, nil)
}
