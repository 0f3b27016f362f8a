package db

import (
	"context"
	"errors"
	"fmt"

	"cinna/models"
)

const bidColumns = `
        b.id, b.tender_id, b.buyer_id,
        COALESCE(NULLIF(TRIM(u.first_name || ' ' || u.last_name), ''), u.username) AS buyer_name,
        u.company_name, b.bid_amount, b.message, b.status, b.created_at, b.updated_at
        FROM bids b JOIN users u ON u.id = b.buyer_id`

// CreateBid создаёт предложение. Второе предложение того же покупателя на тендер
// отклоняется ограничением bids_tender_buyer_key.
func (s *Storage) CreateBid(ctx context.Context, b *models.Bid) error {
	b.Status = models.BidPending
	query := `
        INSERT INTO bids (tender_id, buyer_id, bid_amount, message, status)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at, updated_at`
	err := s.db.QueryRowContext(ctx, query, b.TenderID, b.BuyerID, b.Amount, b.Message, b.Status).
		Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	return classify(err)
}

func (s *Storage) GetBid(ctx context.Context, id int) (*models.Bid, error) {
	b := &models.Bid{}
	query := `SELECT ` + bidColumns + ` WHERE b.id=$1`
	if err := s.db.GetContext(ctx, b, query, id); err != nil {
		return nil, classify(err)
	}
	return b, nil
}

func (s *Storage) ListBidsByBuyer(ctx context.Context, buyerID int) ([]models.Bid, error) {
	query := `SELECT ` + bidColumns + ` WHERE b.buyer_id=$1 ORDER BY b.created_at DESC`
	bids := []models.Bid{}
	if err := s.db.SelectContext(ctx, &bids, query, buyerID); err != nil {
		return nil, err
	}
	return bids, nil
}

func (s *Storage) ListBidsForTender(ctx context.Context, tenderID int) ([]models.Bid, error) {
	query := `SELECT ` + bidColumns + ` WHERE b.tender_id=$1 ORDER BY b.created_at ASC`
	bids := []models.Bid{}
	if err := s.db.SelectContext(ctx, &bids, query, tenderID); err != nil {
		return nil, err
	}
	return bids, nil
}

// UpdateBid меняет только сумму и сообщение и только у ожидающего предложения
func (s *Storage) UpdateBid(ctx context.Context, b *models.Bid) error {
	query := `
        UPDATE bids
        SET bid_amount=$1, message=$2, updated_at=NOW()
        WHERE id=$3 AND status='pending'
        RETURNING updated_at`
	err := classify(s.db.QueryRowContext(ctx, query, b.Amount, b.Message, b.ID).Scan(&b.UpdatedAt))
	if errors.Is(err, ErrNotFound) {
		return ErrBidNotPending
	}
	return err
}

func (s *Storage) DeleteBid(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bids WHERE id=$1 AND status='pending'`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBidNotPending
	}
	return nil
}

// AcceptBid в одной транзакции принимает предложение, отклоняет все остальные
// предложения тендера и закрывает тендер. Строка тендера блокируется, поэтому
// из двух одновременных принятий проходит только первое.
func (s *Storage) AcceptBid(ctx context.Context, bidID, manufacturerID int, today models.Date) (*models.Bid, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var row struct {
		TenderID     int                 `db:"tender_id"`
		BidStatus    models.BidStatus    `db:"bid_status"`
		Owner        int                 `db:"manufacturer_id"`
		EndDate      models.Date         `db:"end_date"`
		TenderStatus models.TenderStatus `db:"tender_status"`
	}
	query := `
        SELECT b.tender_id, b.status AS bid_status, t.manufacturer_id, t.end_date, t.status AS tender_status
        FROM bids b JOIN tenders t ON t.id = b.tender_id
        WHERE b.id=$1
        FOR UPDATE OF t`
	if err := tx.GetContext(ctx, &row, query, bidID); err != nil {
		return nil, classify(err)
	}

	switch {
	case row.Owner != manufacturerID:
		return nil, ErrNotOwner
	case !row.EndDate.Before(today):
		return nil, ErrBiddingStillOpen
	case row.TenderStatus == models.TenderClosed:
		return nil, ErrTenderDecided
	}

	var accepted int
	if err := tx.GetContext(ctx, &accepted,
		`SELECT COUNT(1) FROM bids WHERE tender_id=$1 AND status='accepted'`, row.TenderID); err != nil {
		return nil, err
	}
	if accepted > 0 {
		return nil, ErrTenderDecided
	}
	if row.BidStatus != models.BidPending {
		return nil, ErrBidNotPending
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE bids SET status='accepted', updated_at=NOW() WHERE id=$1`, bidID); err != nil {
		return nil, fmt.Errorf("accept bid: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE bids SET status='rejected', updated_at=NOW() WHERE tender_id=$1 AND id<>$2`, row.TenderID, bidID); err != nil {
		return nil, fmt.Errorf("reject sibling bids: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tenders SET status='closed' WHERE id=$1`, row.TenderID); err != nil {
		return nil, fmt.Errorf("close tender: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	return s.GetBid(ctx, bidID)
}
