package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cinna/db"
	"cinna/models"
)

// biddingOpen сообщает, принимает ли тендер предложения на дату today
func biddingOpen(t *models.Tender, today models.Date) bool {
	return t.Status == models.TenderActive && !t.EndDate.Before(today)
}

func validateBid(amount models.Amount, message string) map[string]string {
	fields := map[string]string{}
	if amount <= 0 {
		fields["bid_amount"] = "Bid amount must be greater than zero"
	}
	if strings.TrimSpace(message) == "" {
		fields["message"] = "Message is required"
	}
	return fields
}

func (h *Handler) bidLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Bid not found")
		return
	}
	h.internalError(w, r, "Failed to get bid", err)
}

// CreateBidHandler обрабатывает POST /api/bids/
func (h *Handler) CreateBidHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireRole(w, r, models.RoleBuyer)
	if !ok {
		return
	}
	var input models.BidCreate
	if !decodeJSON(w, r, &input) {
		return
	}
	if fields := validateBid(input.Amount, input.Message); len(fields) > 0 {
		writeFields(w, fields)
		return
	}

	tender, err := h.Store.GetTender(r.Context(), input.TenderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeFields(w, map[string]string{"tender": "Tender not found"})
			return
		}
		h.internalError(w, r, "Failed to get tender", err)
		return
	}
	if !biddingOpen(tender, h.today()) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Bidding is closed for tender %s", tender.TenderNumber))
		return
	}

	bid := &models.Bid{
		TenderID: models.Ref(tender.ID),
		BuyerID:  models.Ref(user.ID),
		Amount:   input.Amount,
		Message:  strings.TrimSpace(input.Message),
	}
	if err := h.Store.CreateBid(r.Context(), bid); err != nil {
		var dup *db.DuplicateError
		if errors.As(err, &dup) {
			writeError(w, http.StatusBadRequest, "You have already placed a bid on this tender")
			return
		}
		h.internalError(w, r, "Failed to create bid", err)
		return
	}
	bidsPlaced.Inc()

	created, err := h.Store.GetBid(r.Context(), bid.ID)
	if err != nil {
		h.bidLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetUserBidsHandler возвращает предложения текущего покупателя
func (h *Handler) GetUserBidsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireRole(w, r, models.RoleBuyer)
	if !ok {
		return
	}
	bids, err := h.Store.ListBidsByBuyer(r.Context(), user.ID)
	if err != nil {
		h.internalError(w, r, "Failed to get user bids", err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

// visibleBid загружает предложение, видимое его автору и владельцу тендера
func (h *Handler) visibleBid(w http.ResponseWriter, r *http.Request) (*models.Bid, *models.User, bool) {
	user, ok := currentUser(w, r)
	if !ok {
		return nil, nil, false
	}
	id, ok := pathID(w, r, "bidId")
	if !ok {
		return nil, nil, false
	}
	bid, err := h.Store.GetBid(r.Context(), id)
	if err != nil {
		h.bidLookupError(w, r, err)
		return nil, nil, false
	}
	if bid.BuyerID.Int() == user.ID {
		return bid, user, true
	}
	tender, err := h.Store.GetTender(r.Context(), bid.TenderID.Int())
	if err != nil {
		h.tenderLookupError(w, r, err)
		return nil, nil, false
	}
	if tender.ManufacturerID.Int() != user.ID {
		writeError(w, http.StatusNotFound, "Bid not found")
		return nil, nil, false
	}
	return bid, user, true
}

func (h *Handler) GetBidHandler(w http.ResponseWriter, r *http.Request) {
	bid, _, ok := h.visibleBid(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

// editableBid возвращает предложение текущего покупателя, пока оно ожидает решения и тендер открыт
func (h *Handler) editableBid(w http.ResponseWriter, r *http.Request) (*models.Bid, bool) {
	bid, user, ok := h.visibleBid(w, r)
	if !ok {
		return nil, false
	}
	if bid.BuyerID.Int() != user.ID {
		writeError(w, http.StatusForbidden, "You can only change your own bids")
		return nil, false
	}
	if bid.Status != models.BidPending {
		writeError(w, http.StatusBadRequest, db.ErrBidNotPending.Error())
		return nil, false
	}
	tender, err := h.Store.GetTender(r.Context(), bid.TenderID.Int())
	if err != nil {
		h.tenderLookupError(w, r, err)
		return nil, false
	}
	if !biddingOpen(tender, h.today()) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Bidding is closed for tender %s", tender.TenderNumber))
		return nil, false
	}
	return bid, true
}

// EditBidHandler обрабатывает PUT и PATCH /api/bids/{bidId}/. Меняются только сумма и сообщение.
func (h *Handler) EditBidHandler(w http.ResponseWriter, r *http.Request) {
	bid, ok := h.editableBid(w, r)
	if !ok {
		return
	}
	var input models.BidPatch
	if !decodeJSON(w, r, &input) {
		return
	}
	if r.Method == http.MethodPut && (input.Amount == nil || input.Message == nil) {
		fields := map[string]string{}
		if input.Amount == nil {
			fields["bid_amount"] = "This field is required."
		}
		if input.Message == nil {
			fields["message"] = "This field is required."
		}
		writeFields(w, fields)
		return
	}
	if input.Amount != nil {
		bid.Amount = *input.Amount
	}
	if input.Message != nil {
		bid.Message = strings.TrimSpace(*input.Message)
	}
	if fields := validateBid(bid.Amount, bid.Message); len(fields) > 0 {
		writeFields(w, fields)
		return
	}

	if err := h.Store.UpdateBid(r.Context(), bid); err != nil {
		if errors.Is(err, db.ErrBidNotPending) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.internalError(w, r, "Failed to update bid", err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

func (h *Handler) DeleteBidHandler(w http.ResponseWriter, r *http.Request) {
	bid, ok := h.editableBid(w, r)
	if !ok {
		return
	}
	if err := h.Store.DeleteBid(r.Context(), bid.ID); err != nil {
		if errors.Is(err, db.ErrBidNotPending) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.internalError(w, r, "Failed to delete bid", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AcceptBidHandler обрабатывает POST /api/bids/{bidId}/accept/
func (h *Handler) AcceptBidHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireRole(w, r, models.RoleManufacturer)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "bidId")
	if !ok {
		return
	}

	bid, err := h.Store.AcceptBid(r.Context(), id, user.ID, h.today())
	switch {
	case err == nil:
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, "Bid not found")
		return
	case errors.Is(err, db.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
		return
	case errors.Is(err, db.ErrBiddingStillOpen), errors.Is(err, db.ErrTenderDecided), errors.Is(err, db.ErrBidNotPending):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		h.internalError(w, r, "Failed to accept bid", err)
		return
	}

	bidsAccepted.Inc()
	h.cfg.Logger.Info().Int("bid_id", bid.ID).Int("tender_id", bid.TenderID.Int()).Msg("bid accepted")
	writeJSON(w, http.StatusOK, bid)
}
