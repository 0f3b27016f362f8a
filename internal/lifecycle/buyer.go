package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"cinna/internal/apperr"
	"cinna/models"
)

// BuyerAPI это часть шлюза, нужная покупателю
type BuyerAPI interface {
	Tenders(ctx context.Context) ([]models.Tender, error)
	MyBids(ctx context.Context) ([]models.Bid, error)
	CreateBid(ctx context.Context, req models.BidCreate) (models.Bid, error)
	UpdateBid(ctx context.Context, id int, req models.BidUpdate) (models.Bid, error)
}

// Offer это действие с предложением, доступное покупателю на тендере
type Offer string

const (
	OfferNone   Offer = "none"
	OfferCreate Offer = "create"
	OfferEdit   Offer = "edit"
)

// BidForm это ввод формы предложения как есть
type BidForm struct {
	Amount  string
	Message string
}

// TenderView это тендер вместе с производными для покупателя данными
type TenderView struct {
	models.Tender
	Stage Stage
	MyBid *models.Bid
	Offer Offer
}

// BuyerController ведёт список тендеров и собственных предложений покупателя
type BuyerController struct {
	api  BuyerAPI
	opts Options

	mu         sync.RWMutex
	tenders    []models.Tender
	bids       []models.Bid
	submitting map[int]bool
}

func NewBuyerController(api BuyerAPI, opts Options) *BuyerController {
	return &BuyerController{
		api:        api,
		opts:       opts.withDefaults("buyer"),
		submitting: map[int]bool{},
	}
}

// Refresh параллельно перечитывает тендеры и свои предложения
func (c *BuyerController) Refresh(ctx context.Context) error {
	var tenders []models.Tender
	var bids []models.Bid

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tenders, err = c.api.Tenders(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		bids, err = c.api.MyBids(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	c.mu.Lock()
	c.tenders, c.bids = tenders, bids
	c.mu.Unlock()
	return nil
}

func (c *BuyerController) Tenders(filter Filter) []TenderView {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.opts.Clock()
	filtered := filter.Apply(c.tenders)
	views := make([]TenderView, 0, len(filtered))
	for _, t := range filtered {
		v := TenderView{Tender: t, Stage: c.opts.Tracker.Observe(t, now)}
		if bid, ok := c.bidFor(t.ID); ok {
			b := bid
			v.MyBid = &b
		}
		v.Offer = offerFor(v.Stage, v.MyBid)
		views = append(views, v)
	}
	return views
}

func (c *BuyerController) Tender(id int) (TenderView, bool) {
	for _, v := range c.Tenders(FilterAll) {
		if v.ID == id {
			return v, true
		}
	}
	return TenderView{}, false
}

func (c *BuyerController) MyBids() []models.Bid {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Bid(nil), c.bids...)
}

func (c *BuyerController) MyBid(tenderID int) (models.Bid, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bidFor(tenderID)
}

func (c *BuyerController) Stats() BuyerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return BuyerStatsOf(c.tenders, c.bids)
}

func (c *BuyerController) bidFor(tenderID int) (models.Bid, bool) {
	for _, b := range c.bids {
		if b.TenderID.Int() == tenderID {
			return b, true
		}
	}
	return models.Bid{}, false
}

func offerFor(stage Stage, bid *models.Bid) Offer {
	if stage != StageOpen {
		return OfferNone
	}
	if bid == nil {
		return OfferCreate
	}
	if bid.Status == models.BidPending {
		return OfferEdit
	}
	return OfferNone
}

// ValidateBid проверяет форму до обращения к серверу
func ValidateBid(form BidForm) (models.Amount, error) {
	fields := map[string]string{}
	amount, err := models.ParseAmount(form.Amount)
	if err != nil || amount <= 0 {
		fields["bid_amount"] = "Bid amount must be greater than zero"
	}
	if strings.TrimSpace(form.Message) == "" {
		fields["message"] = "Message is required"
	}
	if err := apperr.Validation(fields); err != nil {
		return 0, err
	}
	return amount, nil
}

// SubmitBid создаёт предложение или, если оно уже есть, меняет сумму и сообщение.
// После успеха тендеры и предложения перечитываются с сервера.
func (c *BuyerController) SubmitBid(ctx context.Context, tenderID int, form BidForm) (models.Bid, error) {
	amount, err := ValidateBid(form)
	if err != nil {
		return models.Bid{}, err
	}

	c.mu.Lock()
	if c.submitting[tenderID] {
		c.mu.Unlock()
		return models.Bid{}, apperr.Conflict("A bid for this tender is already being submitted")
	}
	existing, hasBid := c.bidFor(tenderID)
	tender, known := c.tenderByID(tenderID)
	if known {
		if stage := c.opts.Tracker.Observe(tender, c.opts.Clock()); stage != StageOpen {
			c.mu.Unlock()
			return models.Bid{}, apperr.Conflict(fmt.Sprintf("Bidding is closed for tender %s", tender.TenderNumber))
		}
	}
	if hasBid && existing.Status != models.BidPending {
		c.mu.Unlock()
		return models.Bid{}, apperr.Conflict(fmt.Sprintf("Bid is %s and can no longer be edited", existing.Status))
	}
	c.submitting[tenderID] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.submitting, tenderID)
		c.mu.Unlock()
	}()

	var bid models.Bid
	if hasBid {
		bid, err = c.api.UpdateBid(ctx, existing.ID, models.BidUpdate{Amount: amount, Message: form.Message})
	} else {
		bid, err = c.api.CreateBid(ctx, models.BidCreate{TenderID: tenderID, Amount: amount, Message: form.Message})
	}
	if err != nil {
		c.opts.Logger.Warn().Err(err).Int("tender_id", tenderID).Bool("update", hasBid).Msg("bid submission failed")
		return models.Bid{}, err
	}

	c.opts.Logger.Info().Int("tender_id", tenderID).Int("bid_id", bid.ID).Bool("update", hasBid).Msg("bid submitted")
	if err := c.Refresh(ctx); err != nil {
		c.opts.Logger.Warn().Err(err).Msg("refresh after bid submission")
	}
	return bid, nil
}

func (c *BuyerController) tenderByID(id int) (models.Tender, bool) {
	for _, t := range c.tenders {
		if t.ID == id {
			return t, true
		}
	}
	return models.Tender{}, false
}
