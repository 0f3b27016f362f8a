package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cinna/internal/apperr"
	"cinna/internal/gateway"
	"cinna/models"
)

const (
	MaxReportSize       = 10 << 20
	DefaultTenderNumber = "TND-001"
	DefaultOilType      = "organic"
)

var (
	reportExtensions = map[string]bool{
		"pdf": true, "doc": true, "docx": true, "xls": true, "xlsx": true,
		"png": true, "jpg": true, "jpeg": true,
	}
	imageExtensions = map[string]bool{"png": true, "jpg": true, "jpeg": true}
)

// ValidateReport проверяет файл отчёта о качестве до загрузки: расширение,
// размер и, для изображений, что байты действительно декодируются.
func ValidateReport(name string, data []byte) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if !reportExtensions[ext] {
		return reportError("Invalid file type. Allowed: PDF, DOC, XLS, PNG, JPG")
	}
	if len(data) > MaxReportSize {
		return reportError("File size cannot exceed 10MB")
	}
	if imageExtensions[ext] {
		if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
			return reportError("Invalid or corrupted image file")
		}
	}
	return nil
}

func reportError(msg string) error {
	return apperr.Validation(map[string]string{"report_file": msg})
}

// Draft это ввод формы создания тендера как есть
type Draft struct {
	Title       string
	OilType     string
	Quantity    string
	Description string
	StartDate   string
	EndDate     string
	Report      *gateway.File
}

// ValidateDraft проверяет форму и собирает запрос на создание. Пустая дата начала означает today.
func ValidateDraft(d Draft, today time.Time) (gateway.NewTender, error) {
	fields := map[string]string{}
	out := gateway.NewTender{
		Title:       strings.TrimSpace(d.Title),
		OilType:     strings.TrimSpace(d.OilType),
		Description: strings.TrimSpace(d.Description),
	}
	if out.OilType == "" {
		out.OilType = DefaultOilType
	}
	if out.Title == "" {
		fields["tender_title"] = "Tender title is required"
	}
	qty, err := models.ParseAmount(d.Quantity)
	if err != nil || qty <= 0 {
		fields["quantity"] = "Quantity must be greater than zero"
	}
	out.Quantity = qty
	if out.Description == "" {
		fields["tender_description"] = "Description is required"
	}

	out.StartDate = models.DateOf(today)
	if strings.TrimSpace(d.StartDate) != "" {
		start, err := models.ParseDate(d.StartDate)
		if err != nil {
			fields["start_date"] = "Enter a valid start date"
		} else {
			out.StartDate = start
		}
	}
	if strings.TrimSpace(d.EndDate) == "" {
		fields["end_date"] = "End date is required"
	} else if end, err := models.ParseDate(d.EndDate); err != nil {
		fields["end_date"] = "Enter a valid end date"
	} else if !out.StartDate.Before(end) {
		fields["end_date"] = "End date must be after start date"
	} else {
		out.EndDate = end
	}

	if d.Report == nil || len(d.Report.Data) == 0 {
		fields["report_file"] = "Please upload a quality report"
	} else if err := ValidateReport(d.Report.Name, d.Report.Data); err != nil {
		for k, v := range apperr.FieldsOf(err) {
			fields[k] = v
		}
	} else {
		out.Report = *d.Report
	}

	if err := apperr.Validation(fields); err != nil {
		return gateway.NewTender{}, err
	}
	return out, nil
}

// IntakeAPI это часть шлюза, нужная для создания тендера
type IntakeAPI interface {
	NextTenderNumber(ctx context.Context) (string, error)
	PredictQuality(ctx context.Context, report gateway.File) (models.QualityPrediction, error)
	CreateTender(ctx context.Context, t gateway.NewTender) (models.Tender, error)
}

// Analysis это рекомендательный результат анализа качества. Ошибка анализа
// не мешает созданию тендера, только скрывает оценку.
type Analysis struct {
	Prediction *models.QualityPrediction
	Message    string
}

type Intake struct {
	api    IntakeAPI
	clock  func() time.Time
	logger zerolog.Logger
}

func NewIntake(api IntakeAPI, opts Options) *Intake {
	opts = opts.withDefaults("intake")
	return &Intake{api: api, clock: opts.Clock, logger: opts.Logger}
}

// NextNumber возвращает номер, который получит новый тендер, либо TND-001 при ошибке
func (i *Intake) NextNumber(ctx context.Context) string {
	n, err := i.api.NextTenderNumber(ctx)
	if err != nil || n == "" {
		i.logger.Warn().Err(err).Msg("next tender number unavailable, using default")
		return DefaultTenderNumber
	}
	return n
}

// Analyze проверяет отчёт и отправляет его на анализ качества
func (i *Intake) Analyze(ctx context.Context, report gateway.File) (Analysis, error) {
	if err := ValidateReport(report.Name, report.Data); err != nil {
		return Analysis{}, err
	}
	pred, err := i.api.PredictQuality(ctx, report)
	if err != nil {
		msg := analysisMessage(err)
		i.logger.Info().Err(err).Str("file", report.Name).Msg("quality analysis unavailable")
		return Analysis{Message: msg}, nil
	}
	if !pred.QualityGrade.Valid() {
		return Analysis{Message: "Could not analyze file quality."}, nil
	}
	return Analysis{Prediction: &pred}, nil
}

func analysisMessage(err error) string {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusBadRequest:
			return "Invalid file format for quality analysis."
		case apiErr.Status == http.StatusRequestEntityTooLarge:
			return "File too large for analysis."
		case apiErr.Message != "":
			return apiErr.Message
		}
	}
	return "Could not analyze file quality."
}

// Create проверяет черновик и создаёт тендер. Результат анализа, если он есть,
// передаётся вместе с тендером.
func (i *Intake) Create(ctx context.Context, d Draft, analysis *Analysis) (models.Tender, error) {
	req, err := ValidateDraft(d, i.clock())
	if err != nil {
		return models.Tender{}, err
	}
	if analysis != nil && analysis.Prediction != nil {
		grade, score := analysis.Prediction.QualityGrade, analysis.Prediction.QualityScore
		req.QualityGrade, req.QualityScore = &grade, &score
	}
	tender, err := i.api.CreateTender(ctx, req)
	if err != nil {
		return models.Tender{}, err
	}
	i.logger.Info().Int("tender_id", tender.ID).Str("number", tender.TenderNumber).Msg("tender created")
	return tender, nil
}
