package handlers

import (
	"context"
	"time"

	"cinna/db"
	"cinna/models"
)

type StorageInterface interface {
	CreateUser(ctx context.Context, u *models.User, passwordHash string) error
	GetUser(ctx context.Context, id int) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*db.UserRecord, error)
	UpdateUser(ctx context.Context, u *models.User) error
	ListUsersByRole(ctx context.Context, role models.Role, exceptID int) ([]models.User, error)

	CreateToken(ctx context.Context, token string, userID int, kind string, expiresAt time.Time) error
	TokenUser(ctx context.Context, token, kind string, now time.Time) (int, error)
	RevokeToken(ctx context.Context, token string) error

	NextTenderNumber(ctx context.Context) (string, error)
	CreateTender(ctx context.Context, t *models.Tender) error
	GetTender(ctx context.Context, id int) (*models.Tender, error)
	ListTenders(ctx context.Context) ([]models.Tender, error)
	UpdateTender(ctx context.Context, t *models.Tender) error
	DeleteTender(ctx context.Context, id int) error

	CreateBid(ctx context.Context, b *models.Bid) error
	GetBid(ctx context.Context, id int) (*models.Bid, error)
	ListBidsByBuyer(ctx context.Context, buyerID int) ([]models.Bid, error)
	ListBidsForTender(ctx context.Context, tenderID int) ([]models.Bid, error)
	UpdateBid(ctx context.Context, b *models.Bid) error
	DeleteBid(ctx context.Context, id int) error
	AcceptBid(ctx context.Context, bidID, manufacturerID int, today models.Date) (*models.Bid, error)

	CreateMessage(ctx context.Context, m *models.ChatMessage) error
	Conversation(ctx context.Context, userID, otherID int) ([]models.ChatMessage, error)
	UnreadCount(ctx context.Context, userID int) (int, error)
	MarkRead(ctx context.Context, userID, senderID int) (int, error)
}
