package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"cinna/models"
)

// NewTender это данные формы создания тендера
type NewTender struct {
	Title        string
	OilType      string
	Quantity     models.Amount
	Description  string
	StartDate    models.Date
	EndDate      models.Date
	QualityGrade *models.QualityGrade
	QualityScore *float64
	Report       File
}

func (c *Client) Tenders(ctx context.Context) ([]models.Tender, error) {
	var resp []models.Tender
	err := c.get(ctx, "/tenders/", nil, &resp)
	return resp, err
}

func (c *Client) Tender(ctx context.Context, id int) (models.Tender, error) {
	var resp models.Tender
	err := c.get(ctx, fmt.Sprintf("/tenders/%d/", id), nil, &resp)
	return resp, err
}

// CreateTender отправляет тендер вместе с файлом отчёта о качестве (multipart)
func (c *Client) CreateTender(ctx context.Context, t NewTender) (models.Tender, error) {
	form := NewForm().
		Field("tender_title", t.Title).
		Field("oil_type", t.OilType).
		Field("quantity", t.Quantity.String()).
		Field("tender_description", t.Description).
		Field("start_date", t.StartDate.String()).
		Field("end_date", t.EndDate.String())
	if t.QualityGrade != nil {
		form.Field("quality_grade", string(*t.QualityGrade))
	}
	if t.QualityScore != nil {
		form.Field("quality_score", fmt.Sprintf("%.2f", *t.QualityScore))
	}
	if len(t.Report.Data) > 0 {
		form.File("report_file", t.Report)
	}

	var resp models.Tender
	err := c.sendForm(ctx, http.MethodPost, "/tenders/", form, &resp)
	return resp, err
}

// UpdateTender полностью заменяет редактируемые поля тендера
func (c *Client) UpdateTender(ctx context.Context, id int, t models.Tender) (models.Tender, error) {
	var resp models.Tender
	err := c.send(ctx, http.MethodPut, fmt.Sprintf("/tenders/%d/", id), t, &resp)
	return resp, err
}

func (c *Client) PatchTender(ctx context.Context, id int, patch models.TenderPatch) (models.Tender, error) {
	var resp models.Tender
	err := c.send(ctx, http.MethodPatch, fmt.Sprintf("/tenders/%d/", id), patch, &resp)
	return resp, err
}

func (c *Client) DeleteTender(ctx context.Context, id int) error {
	return c.send(ctx, http.MethodDelete, fmt.Sprintf("/tenders/%d/", id), nil, nil)
}

func (c *Client) NextTenderNumber(ctx context.Context) (string, error) {
	var resp models.NextTenderNumber
	if err := c.get(ctx, "/tenders/next-number/", nil, &resp); err != nil {
		return "", err
	}
	return resp.NextTenderNumber, nil
}

// PredictQuality отправляет отчёт на анализ качества. Результат носит рекомендательный характер.
func (c *Client) PredictQuality(ctx context.Context, report File) (models.QualityPrediction, error) {
	var resp models.QualityPrediction
	err := c.sendForm(ctx, http.MethodPost, "/tenders/predict-quality/", NewForm().File("file", report), &resp)
	return resp, err
}

func (c *Client) TenderBids(ctx context.Context, tenderID int) ([]models.Bid, error) {
	var resp []models.Bid
	err := c.get(ctx, fmt.Sprintf("/tenders/%d/bids/", tenderID), nil, &resp)
	return resp, err
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
