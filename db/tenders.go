package db

import (
	"context"
	"fmt"

	"cinna/models"
)

const tenderColumns = `
        t.id, t.tender_number, t.tender_title, t.oil_type, t.quantity, t.tender_description,
        t.quality_grade, t.quality_score, t.start_date, t.end_date, t.status, t.manufacturer_id,
        t.report_file, t.created_at,
        (SELECT COUNT(1) FROM bids b WHERE b.tender_id = t.id) AS bid_count`

// NextTenderNumber возвращает номер, который получит следующий тендер
func (s *Storage) NextTenderNumber(ctx context.Context) (string, error) {
	var next int
	if err := s.db.GetContext(ctx, &next, `SELECT COALESCE(MAX(id), 0) + 1 FROM tenders`); err != nil {
		return "", err
	}
	return fmt.Sprintf("TND-%03d", next), nil
}

func (s *Storage) CreateTender(ctx context.Context, t *models.Tender) error {
	number, err := s.NextTenderNumber(ctx)
	if err != nil {
		return err
	}
	t.TenderNumber = number
	t.Status = models.TenderActive

	query := `
        INSERT INTO tenders
            (tender_number, tender_title, oil_type, quantity, tender_description, quality_grade, quality_score,
             start_date, end_date, status, manufacturer_id, report_file)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING id, created_at`
	err = s.db.QueryRowContext(ctx, query,
		t.TenderNumber, t.Title, t.OilType, t.Quantity, t.Description, t.QualityGrade, t.QualityScore,
		t.StartDate, t.EndDate, t.Status, t.ManufacturerID, t.ReportFile).
		Scan(&t.ID, &t.CreatedAt)
	return classify(err)
}

func (s *Storage) GetTender(ctx context.Context, id int) (*models.Tender, error) {
	t := &models.Tender{}
	query := `SELECT ` + tenderColumns + ` FROM tenders t WHERE t.id=$1`
	if err := s.db.GetContext(ctx, t, query, id); err != nil {
		return nil, classify(err)
	}
	return t, nil
}

// ListTenders возвращает все тендеры, новые первыми
func (s *Storage) ListTenders(ctx context.Context) ([]models.Tender, error) {
	query := `SELECT ` + tenderColumns + ` FROM tenders t ORDER BY t.created_at DESC, t.id DESC`
	tenders := []models.Tender{}
	if err := s.db.SelectContext(ctx, &tenders, query); err != nil {
		return nil, err
	}
	return tenders, nil
}

func (s *Storage) UpdateTender(ctx context.Context, t *models.Tender) error {
	query := `
        UPDATE tenders
        SET tender_title=$1, oil_type=$2, quantity=$3, tender_description=$4, start_date=$5, end_date=$6, status=$7
        WHERE id=$8`
	_, err := s.db.ExecContext(ctx, query,
		t.Title, t.OilType, t.Quantity, t.Description, t.StartDate, t.EndDate, t.Status, t.ID)
	return classify(err)
}

func (s *Storage) DeleteTender(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tenders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
