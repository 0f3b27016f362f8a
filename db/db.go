package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"cinna/models"
)

var (
	ErrNotFound = errors.New("not found")

	// ошибки правил принятия предложения, проверяемых под блокировкой тендера
	ErrNotOwner         = errors.New("only the tender owner can accept bids")
	ErrBiddingStillOpen = errors.New("bids can only be accepted after the tender end date")
	ErrTenderDecided    = errors.New("a bid has already been accepted for this tender")
	ErrBidNotPending    = errors.New("only pending bids can be changed")
)

// DuplicateError это нарушение уникального ограничения (username, email, одна ставка на тендер)
type DuplicateError struct {
	Constraint string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate value violates %s", e.Constraint)
}

const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return &DuplicateError{Constraint: pqErr.Constraint}
	}
	return err
}

// UserRecord это пользователь вместе с хэшем пароля, нужен только для входа
type UserRecord struct {
	models.User
	PasswordHash string `db:"password_hash"`
}

const userColumns = `id, username, email, first_name, last_name, role, company_name, phone_number, profile_picture`

func (s *Storage) CreateUser(ctx context.Context, u *models.User, passwordHash string) error {
	query := `
        INSERT INTO users (username, email, password_hash, first_name, last_name, role, company_name, phone_number)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id`
	err := s.db.QueryRowContext(ctx, query,
		u.Username, u.Email, passwordHash, u.FirstName, u.LastName, u.Role, u.CompanyName, u.PhoneNumber).
		Scan(&u.ID)
	return classify(err)
}

func (s *Storage) GetUser(ctx context.Context, id int) (*models.User, error) {
	u := &models.User{}
	query := `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	if err := s.db.GetContext(ctx, u, query, id); err != nil {
		return nil, classify(err)
	}
	return u, nil
}

func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*UserRecord, error) {
	u := &UserRecord{}
	query := `SELECT ` + userColumns + `, password_hash FROM users WHERE username=$1`
	if err := s.db.GetContext(ctx, u, query, username); err != nil {
		return nil, classify(err)
	}
	return u, nil
}

func (s *Storage) UpdateUser(ctx context.Context, u *models.User) error {
	query := `
        UPDATE users
        SET email=$1, first_name=$2, last_name=$3, company_name=$4, phone_number=$5, profile_picture=$6
        WHERE id=$7`
	_, err := s.db.ExecContext(ctx, query,
		u.Email, u.FirstName, u.LastName, u.CompanyName, u.PhoneNumber, u.ProfilePicture, u.ID)
	return classify(err)
}

// ListUsersByRole возвращает собеседников для чата, без самого пользователя
func (s *Storage) ListUsersByRole(ctx context.Context, role models.Role, exceptID int) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role=$1 AND id<>$2 ORDER BY first_name, last_name, username`
	users := []models.User{}
	if err := s.db.SelectContext(ctx, &users, query, role, exceptID); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Storage) CreateToken(ctx context.Context, token string, userID int, kind string, expiresAt time.Time) error {
	query := `INSERT INTO auth_tokens (token, user_id, kind, expires_at) VALUES ($1, $2, $3, $4)`
	_, err := s.db.ExecContext(ctx, query, token, userID, kind, expiresAt)
	return classify(err)
}

// TokenUser возвращает владельца действующего (не отозванного и не истёкшего) токена
func (s *Storage) TokenUser(ctx context.Context, token, kind string, now time.Time) (int, error) {
	var userID int
	query := `SELECT user_id FROM auth_tokens WHERE token=$1 AND kind=$2 AND NOT revoked AND expires_at > $3`
	if err := s.db.GetContext(ctx, &userID, query, token, kind, now); err != nil {
		return 0, classify(err)
	}
	return userID, nil
}

// RevokeToken отзывает refresh-токен и все access-токены его владельца
func (s *Storage) RevokeToken(ctx context.Context, token string) error {
	query := `
        UPDATE auth_tokens SET revoked = TRUE
        WHERE user_id = (SELECT user_id FROM auth_tokens WHERE token=$1 AND kind='refresh')
        AND (token=$1 OR kind='access')`
	res, err := s.db.ExecContext(ctx, query, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
