package lifecycle_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"cinna/internal/apperr"
	"cinna/internal/gateway"
	"cinna/internal/lifecycle"
	"cinna/models"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 200, G: 120, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func reportFieldError(t *testing.T, err error) string {
	t.Helper()
	require.Equal(t, apperr.CodeValidation, apperr.Classify(err))
	return apperr.FieldsOf(err)["report_file"]
}

func TestValidateReport(t *testing.T) {
	require.NoError(t, lifecycle.ValidateReport("lab.pdf", []byte("%PDF-1.4")))
	require.NoError(t, lifecycle.ValidateReport("Lab.XLSX", []byte("PK")))
	require.NoError(t, lifecycle.ValidateReport("scan.png", pngBytes(t)))

	require.Equal(t, "Invalid file type. Allowed: PDF, DOC, XLS, PNG, JPG",
		reportFieldError(t, lifecycle.ValidateReport("lab.exe", []byte("MZ"))))
	require.Equal(t, "File size cannot exceed 10MB",
		reportFieldError(t, lifecycle.ValidateReport("lab.pdf", make([]byte, lifecycle.MaxReportSize+1))))
	require.Equal(t, "Invalid or corrupted image file",
		reportFieldError(t, lifecycle.ValidateReport("scan.jpg", []byte("definitely not a jpeg"))))

	truncated := pngBytes(t)
	truncated = truncated[:len(truncated)/2]
	require.Equal(t, "Invalid or corrupted image file",
		reportFieldError(t, lifecycle.ValidateReport("scan.png", truncated)))
}

func validDraft(t *testing.T) lifecycle.Draft {
	return lifecycle.Draft{
		Title:       "Alba grade leaf oil",
		Quantity:    "250",
		Description: "Steam distilled",
		StartDate:   "2026-10-20",
		EndDate:     "2026-11-20",
		Report:      &gateway.File{Name: "scan.png", Data: pngBytes(t)},
	}
}

func TestValidateDraft(t *testing.T) {
	req, err := lifecycle.ValidateDraft(validDraft(t), now)
	require.NoError(t, err)
	require.Equal(t, lifecycle.DefaultOilType, req.OilType)
	require.Equal(t, models.Amount(250), req.Quantity)
	require.Equal(t, "2026-11-20", req.EndDate.String())
	require.Equal(t, "scan.png", req.Report.Name)

	d := validDraft(t)
	d.StartDate = ""
	req, err = lifecycle.ValidateDraft(d, now)
	require.NoError(t, err)
	require.Equal(t, "2026-10-18", req.StartDate.String())

	_, err = lifecycle.ValidateDraft(lifecycle.Draft{Quantity: "0"}, now)
	fields := apperr.FieldsOf(err)
	require.Equal(t, "Tender title is required", fields["tender_title"])
	require.Equal(t, "Quantity must be greater than zero", fields["quantity"])
	require.Equal(t, "Description is required", fields["tender_description"])
	require.Equal(t, "End date is required", fields["end_date"])
	require.Equal(t, "Please upload a quality report", fields["report_file"])

	for _, q := range []string{"NaN", "Inf", "-Inf"} {
		d = validDraft(t)
		d.Quantity = q
		_, err = lifecycle.ValidateDraft(d, now)
		require.Equal(t, "Quantity must be greater than zero", apperr.FieldsOf(err)["quantity"], q)
	}

	d = validDraft(t)
	d.EndDate = d.StartDate
	_, err = lifecycle.ValidateDraft(d, now)
	require.Equal(t, "End date must be after start date", apperr.FieldsOf(err)["end_date"])

	d = validDraft(t)
	d.Report = &gateway.File{Name: "notes.txt", Data: []byte("x")}
	_, err = lifecycle.ValidateDraft(d, now)
	require.Contains(t, apperr.FieldsOf(err)["report_file"], "Invalid file type")
}

type intakeAPI struct {
	*fakeMarket
	nextErr    error
	predictErr error
	created    *gateway.NewTender
}

func (i *intakeAPI) NextTenderNumber(ctx context.Context) (string, error) {
	if i.nextErr != nil {
		return "", i.nextErr
	}
	return i.fakeMarket.NextTenderNumber(ctx)
}

func (i *intakeAPI) PredictQuality(ctx context.Context, f gateway.File) (models.QualityPrediction, error) {
	if i.predictErr != nil {
		return models.QualityPrediction{}, i.predictErr
	}
	return i.fakeMarket.PredictQuality(ctx, f)
}

func (i *intakeAPI) CreateTender(ctx context.Context, t gateway.NewTender) (models.Tender, error) {
	i.created = &t
	return i.fakeMarket.CreateTender(ctx, t)
}

func TestNextNumberFallsBack(t *testing.T) {
	api := &intakeAPI{fakeMarket: newFakeMarket(0)}
	api.addTender(models.Tender{ID: 1})
	intake := lifecycle.NewIntake(api, opts())
	require.Equal(t, "TND-002", intake.NextNumber(context.Background()))

	api.nextErr = &gateway.TransportError{Err: errors.New("offline")}
	require.Equal(t, lifecycle.DefaultTenderNumber, intake.NextNumber(context.Background()))
}

func TestAnalyzeIsAdvisory(t *testing.T) {
	api := &intakeAPI{fakeMarket: newFakeMarket(0)}
	intake := lifecycle.NewIntake(api, opts())
	report := gateway.File{Name: "lab.pdf", Data: []byte("%PDF")}

	a, err := intake.Analyze(context.Background(), report)
	require.NoError(t, err)
	require.NotNil(t, a.Prediction)
	require.Equal(t, models.GradeA, a.Prediction.QualityGrade)

	tests := []struct {
		err  error
		want string
	}{
		{&gateway.APIError{Status: http.StatusBadRequest}, "Invalid file format for quality analysis."},
		{&gateway.APIError{Status: http.StatusRequestEntityTooLarge}, "File too large for analysis."},
		{&gateway.APIError{Status: http.StatusServiceUnavailable, Message: "Model not loaded"}, "Model not loaded"},
		{&gateway.TransportError{Err: errors.New("offline")}, "Could not analyze file quality."},
	}
	for _, tt := range tests {
		api.predictErr = tt.err
		a, err := intake.Analyze(context.Background(), report)
		require.NoError(t, err)
		require.Nil(t, a.Prediction)
		require.Equal(t, tt.want, a.Message)
	}

	_, err = intake.Analyze(context.Background(), gateway.File{Name: "lab.exe"})
	require.Equal(t, apperr.CodeValidation, apperr.Classify(err))
}

func TestCreateTenderWithAndWithoutAnalysis(t *testing.T) {
	api := &intakeAPI{fakeMarket: newFakeMarket(0)}
	intake := lifecycle.NewIntake(api, opts())
	ctx := context.Background()

	api.predictErr = &gateway.APIError{Status: http.StatusInternalServerError}
	analysis, err := intake.Analyze(ctx, *validDraft(t).Report)
	require.NoError(t, err)

	tender, err := intake.Create(ctx, validDraft(t), &analysis)
	require.NoError(t, err)
	require.Equal(t, "TND-001", tender.TenderNumber)
	require.Nil(t, api.created.QualityGrade)

	api.predictErr = nil
	analysis, err = intake.Analyze(ctx, *validDraft(t).Report)
	require.NoError(t, err)
	_, err = intake.Create(ctx, validDraft(t), &analysis)
	require.NoError(t, err)
	require.NotNil(t, api.created.QualityGrade)
	require.Equal(t, models.GradeA, *api.created.QualityGrade)

	api.created = nil
	_, err = intake.Create(ctx, lifecycle.Draft{}, nil)
	require.Equal(t, apperr.CodeValidation, apperr.Classify(err))
	require.Nil(t, api.created)
}
