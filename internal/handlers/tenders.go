package handlers

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"cinna/db"
	"cinna/models"
)

const maxReportSize = 10 << 20

var reportExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".png": true, ".jpg": true, ".jpeg": true,
}

// GetTendersHandler возвращает все тендеры площадки
func (h *Handler) GetTendersHandler(w http.ResponseWriter, r *http.Request) {
	tenders, err := h.Store.ListTenders(r.Context())
	if err != nil {
		h.internalError(w, r, "Failed to get tenders", err)
		return
	}
	writeJSON(w, http.StatusOK, tenders)
}

func (h *Handler) GetTenderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tenderId")
	if !ok {
		return
	}
	tender, err := h.Store.GetTender(r.Context(), id)
	if err != nil {
		h.tenderLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tender)
}

func (h *Handler) tenderLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Tender not found")
		return
	}
	h.internalError(w, r, "Failed to get tender", err)
}

func (h *Handler) NextTenderNumberHandler(w http.ResponseWriter, r *http.Request) {
	number, err := h.Store.NextTenderNumber(r.Context())
	if err != nil {
		h.internalError(w, r, "Failed to get next tender number", err)
		return
	}
	writeJSON(w, http.StatusOK, models.NextTenderNumber{NextTenderNumber: number})
}

// validateTender проверяет поля тендера так же, как форма создания на клиенте
func validateTender(t *models.Tender) map[string]string {
	fields := map[string]string{}
	if strings.TrimSpace(t.Title) == "" {
		fields["tender_title"] = "Tender title is required"
	}
	if t.Quantity <= 0 {
		fields["quantity"] = "Quantity must be greater than zero"
	}
	if strings.TrimSpace(t.Description) == "" {
		fields["tender_description"] = "Description is required"
	}
	switch {
	case t.EndDate.IsZero():
		fields["end_date"] = "End date is required"
	case !t.StartDate.Before(t.EndDate):
		fields["end_date"] = "End date must be after start date"
	}
	if t.OilType == "" {
		t.OilType = "organic"
	}
	return fields
}

// CreateTenderHandler обрабатывает POST /api/tenders/ (multipart с файлом отчёта)
func (h *Handler) CreateTenderHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireRole(w, r, models.RoleManufacturer)
	if !ok {
		return
	}
	if !parseMultipart(w, r, maxReportSize+maxJSONBody, "report_file", "File size cannot exceed 10MB") {
		return
	}
	form := r.MultipartForm.Value
	value := func(key string) string {
		if v := form[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	fields := map[string]string{}
	t := &models.Tender{
		Title:          value("tender_title"),
		OilType:        value("oil_type"),
		Description:    value("tender_description"),
		ManufacturerID: models.Ref(user.ID),
		StartDate:      h.today(),
	}
	if q, err := models.ParseAmount(value("quantity")); err == nil {
		t.Quantity = q
	}
	if s := value("start_date"); s != "" {
		d, err := models.ParseDate(s)
		if err != nil {
			fields["start_date"] = "Enter a valid date."
		}
		t.StartDate = d
	}
	if s := value("end_date"); s != "" {
		d, err := models.ParseDate(s)
		if err != nil {
			fields["end_date"] = "Enter a valid date."
		}
		t.EndDate = d
	}
	if g := models.QualityGrade(value("quality_grade")); g != "" {
		if !g.Valid() {
			fields["quality_grade"] = "Select a valid quality grade."
		}
		t.QualityGrade = &g
	}
	if s := value("quality_score"); s != "" {
		score, err := strconv.ParseFloat(s, 64)
		if err != nil {
			fields["quality_score"] = "Enter a valid number."
		}
		t.QualityScore = &score
	}
	for k, v := range validateTender(t) {
		if _, seen := fields[k]; !seen {
			fields[k] = v
		}
	}

	files := r.MultipartForm.File["report_file"]
	switch {
	case len(files) == 0:
		fields["report_file"] = "Please upload a quality report"
	case !reportExtensions[strings.ToLower(filepath.Ext(files[0].Filename))]:
		fields["report_file"] = "Invalid file type. Allowed: PDF, DOC, XLS, PNG, JPG"
	case files[0].Size > maxReportSize:
		fields["report_file"] = "File size cannot exceed 10MB"
	}
	if len(fields) > 0 {
		writeFields(w, fields)
		return
	}

	path, err := h.saveUpload("quality_reports", files[0])
	if err != nil {
		h.internalError(w, r, "Failed to store report", err)
		return
	}
	t.ReportFile = &path

	if err := h.Store.CreateTender(r.Context(), t); err != nil {
		h.internalError(w, r, "Failed to create tender", err)
		return
	}
	h.cfg.Logger.Info().Int("tender_id", t.ID).Str("tender_number", t.TenderNumber).Msg("tender created")
	writeJSON(w, http.StatusCreated, t)
}

// ownTender загружает тендер и проверяет, что он принадлежит текущему производителю
func (h *Handler) ownTender(w http.ResponseWriter, r *http.Request) (*models.Tender, bool) {
	user, ok := requireRole(w, r, models.RoleManufacturer)
	if !ok {
		return nil, false
	}
	id, ok := pathID(w, r, "tenderId")
	if !ok {
		return nil, false
	}
	tender, err := h.Store.GetTender(r.Context(), id)
	if err != nil {
		h.tenderLookupError(w, r, err)
		return nil, false
	}
	if tender.ManufacturerID.Int() != user.ID {
		writeError(w, http.StatusForbidden, "You do not own this tender")
		return nil, false
	}
	return tender, true
}

// UpdateTenderHandler обрабатывает PUT /api/tenders/{tenderId}/
func (h *Handler) UpdateTenderHandler(w http.ResponseWriter, r *http.Request) {
	tender, ok := h.ownTender(w, r)
	if !ok {
		return
	}
	var input models.Tender
	if !decodeJSON(w, r, &input) {
		return
	}
	tender.Title = input.Title
	tender.OilType = input.OilType
	tender.Quantity = input.Quantity
	tender.Description = input.Description
	if !input.StartDate.IsZero() {
		tender.StartDate = input.StartDate
	}
	tender.EndDate = input.EndDate
	h.saveTender(w, r, tender)
}

// PatchTenderHandler обрабатывает PATCH /api/tenders/{tenderId}/
func (h *Handler) PatchTenderHandler(w http.ResponseWriter, r *http.Request) {
	tender, ok := h.ownTender(w, r)
	if !ok {
		return
	}
	var input models.TenderPatch
	if !decodeJSON(w, r, &input) {
		return
	}
	if input.Title != nil {
		tender.Title = *input.Title
	}
	if input.OilType != nil {
		tender.OilType = *input.OilType
	}
	if input.Quantity != nil {
		tender.Quantity = *input.Quantity
	}
	if input.Description != nil {
		tender.Description = *input.Description
	}
	if input.StartDate != nil {
		tender.StartDate = *input.StartDate
	}
	if input.EndDate != nil {
		tender.EndDate = *input.EndDate
	}
	if input.Status != nil {
		if *input.Status != models.TenderActive && *input.Status != models.TenderClosed {
			writeFields(w, map[string]string{"status": "Select a valid status."})
			return
		}
		tender.Status = *input.Status
	}
	h.saveTender(w, r, tender)
}

func (h *Handler) saveTender(w http.ResponseWriter, r *http.Request, tender *models.Tender) {
	if fields := validateTender(tender); len(fields) > 0 {
		writeFields(w, fields)
		return
	}
	if err := h.Store.UpdateTender(r.Context(), tender); err != nil {
		h.internalError(w, r, "Failed to update tender", err)
		return
	}
	writeJSON(w, http.StatusOK, tender)
}

func (h *Handler) DeleteTenderHandler(w http.ResponseWriter, r *http.Request) {
	tender, ok := h.ownTender(w, r)
	if !ok {
		return
	}
	if err := h.Store.DeleteTender(r.Context(), tender.ID); err != nil {
		h.tenderLookupError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTenderBidsHandler возвращает предложения по тендеру его владельцу
func (h *Handler) GetTenderBidsHandler(w http.ResponseWriter, r *http.Request) {
	tender, ok := h.ownTender(w, r)
	if !ok {
		return
	}
	bids, err := h.Store.ListBidsForTender(r.Context(), tender.ID)
	if err != nil {
		h.internalError(w, r, "Failed to get bids", err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

// PredictQualityHandler пересылает отчёт во внешний сервис оценки качества.
// Без QUALITY_SERVICE_URL отвечает 503.
func (h *Handler) PredictQualityHandler(w http.ResponseWriter, r *http.Request) {
	if h.cfg.QualityURL == "" {
		writeError(w, http.StatusServiceUnavailable, "Quality analysis service is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxReportSize+maxJSONBody)
	if err := r.ParseMultipartForm(maxReportSize + maxJSONBody); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	fh := files[0]
	if fh.Size > maxReportSize {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	src, err := fh.Open()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid file")
		return
	}
	defer src.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(fh.Filename))
	if err == nil {
		_, err = io.Copy(part, src)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		h.internalError(w, r, "Failed to forward file", err)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, h.cfg.QualityURL, &buf)
	if err != nil {
		h.internalError(w, r, "Failed to forward file", err)
		return
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := h.cfg.HTTPClient.Do(req)
	if err != nil {
		h.cfg.Logger.Warn().Err(err).Msg("quality service unreachable")
		writeError(w, http.StatusBadGateway, "Quality analysis service is unavailable")
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, io.LimitReader(resp.Body, maxJSONBody))
}
