package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"cinna/internal/apperr"
	"cinna/models"
)

// AcceptPrompt показывается перед принятием предложения
const AcceptPrompt = "Accept this bid? All other bids will be rejected."

var ErrNotConfirmed = errors.New("bid acceptance was not confirmed")

// Confirmer запрашивает явное подтверждение у пользователя
type Confirmer func(prompt string) bool

// ManufacturerAPI это часть шлюза, нужная производителю
type ManufacturerAPI interface {
	Tenders(ctx context.Context) ([]models.Tender, error)
	TenderBids(ctx context.Context, tenderID int) ([]models.Bid, error)
	AcceptBid(ctx context.Context, id int) (models.Bid, error)
}

// Review это состояние рассмотрения предложений по одному тендеру
type Review struct {
	Tender    models.Tender
	Stage     Stage
	Bids      []models.Bid
	Winner    *models.Bid
	Spread    *BidSpread
	CanAccept bool
}

// ManufacturerController ведёт тендеры производителя и выбор победителя
type ManufacturerController struct {
	api     ManufacturerAPI
	ownerID int
	opts    Options

	mu        sync.RWMutex
	tenders   []models.Tender
	bids      map[int][]models.Bid
	accepting map[int]int
}

func NewManufacturerController(api ManufacturerAPI, ownerID int, opts Options) *ManufacturerController {
	return &ManufacturerController{
		api:       api,
		ownerID:   ownerID,
		opts:      opts.withDefaults("manufacturer"),
		bids:      map[int][]models.Bid{},
		accepting: map[int]int{},
	}
}

func (c *ManufacturerController) Refresh(ctx context.Context) error {
	tenders, err := c.api.Tenders(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.tenders = tenders
	c.mu.Unlock()
	return nil
}

// LoadBids перечитывает предложения по тендеру
func (c *ManufacturerController) LoadBids(ctx context.Context, tenderID int) ([]models.Bid, error) {
	bids, err := c.api.TenderBids(ctx, tenderID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.bids[tenderID] = bids
	c.mu.Unlock()
	return bids, nil
}

// MyTenders возвращает тендеры, опубликованные этим производителем
func (c *ManufacturerController) MyTenders() []models.Tender {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.own()
}

func (c *ManufacturerController) own() []models.Tender {
	out := make([]models.Tender, 0, len(c.tenders))
	for _, t := range c.tenders {
		if t.ManufacturerID.Int() == c.ownerID {
			out = append(out, t)
		}
	}
	return out
}

// AwaitingDecision возвращает свои тендеры с истёкшим сроком, где победитель ещё не выбран
func (c *ManufacturerController) AwaitingDecision() []models.Tender {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.opts.Clock()
	var out []models.Tender
	for _, t := range c.own() {
		if c.opts.Tracker.Observe(t, now) == StageExpired {
			out = append(out, t)
		}
	}
	return out
}

func (c *ManufacturerController) Stats() ManufacturerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ManufacturerStatsOf(c.own(), c.opts.Clock())
}

func (c *ManufacturerController) Review(tenderID int) (Review, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tender, ok := c.tenderByID(tenderID)
	if !ok {
		return Review{}, false
	}
	bids := append([]models.Bid(nil), c.bids[tenderID]...)
	r := Review{
		Tender: tender,
		Stage:  c.opts.Tracker.Observe(tender, c.opts.Clock()),
		Bids:   bids,
	}
	for i := range bids {
		if bids[i].Status == models.BidAccepted {
			r.Winner = &bids[i]
		}
	}
	if spread, ok := SpreadOf(bids); ok {
		r.Spread = &spread
	}
	r.CanAccept = r.Stage == StageExpired && r.Winner == nil && hasPending(bids) && !c.inFlight(tenderID)
	return r, true
}

func hasPending(bids []models.Bid) bool {
	for _, b := range bids {
		if b.Status == models.BidPending {
			return true
		}
	}
	return false
}

func (c *ManufacturerController) inFlight(tenderID int) bool {
	_, ok := c.accepting[tenderID]
	return ok
}

// CanAccept проверяет, можно ли предложить принятие конкретного предложения
func (c *ManufacturerController) CanAccept(tenderID, bidID int) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.canAccept(tenderID, bidID)
}

func (c *ManufacturerController) canAccept(tenderID, bidID int) error {
	tender, ok := c.tenderByID(tenderID)
	if !ok {
		return apperr.New(apperr.CodeNotFound, fmt.Sprintf("tender %d is not loaded", tenderID))
	}
	if stage := c.opts.Tracker.Observe(tender, c.opts.Clock()); stage != StageExpired {
		return apperr.Conflict(fmt.Sprintf("Tender %s is %s; bids can only be accepted after the end date", tender.TenderNumber, stage))
	}
	if c.inFlight(tenderID) {
		return apperr.Conflict("Another bid on this tender is being accepted")
	}
	var target *models.Bid
	for i, b := range c.bids[tenderID] {
		if b.Status == models.BidAccepted {
			return apperr.Conflict("A bid has already been accepted for this tender")
		}
		if b.ID == bidID {
			target = &c.bids[tenderID][i]
		}
	}
	if target == nil {
		return apperr.New(apperr.CodeNotFound, fmt.Sprintf("bid %d not found on tender %s", bidID, tender.TenderNumber))
	}
	if target.Status != models.BidPending {
		return apperr.Conflict(fmt.Sprintf("Bid is already %s", target.Status))
	}
	return nil
}

// AcceptBid принимает предложение после подтверждения. Исход определяет только
// сервер: после ответа (успешного или нет) перечитываются предложения и тендеры.
func (c *ManufacturerController) AcceptBid(ctx context.Context, tenderID, bidID int, confirm Confirmer) (models.Bid, error) {
	c.mu.RLock()
	_, loaded := c.bids[tenderID]
	c.mu.RUnlock()
	if !loaded {
		if _, err := c.LoadBids(ctx, tenderID); err != nil {
			return models.Bid{}, err
		}
	}

	if err := c.CanAccept(tenderID, bidID); err != nil {
		return models.Bid{}, err
	}
	if confirm == nil || !confirm(AcceptPrompt) {
		return models.Bid{}, ErrNotConfirmed
	}

	c.mu.Lock()
	if err := c.canAccept(tenderID, bidID); err != nil {
		c.mu.Unlock()
		return models.Bid{}, err
	}
	c.accepting[tenderID] = bidID
	c.mu.Unlock()

	bid, err := c.api.AcceptBid(ctx, bidID)

	c.mu.Lock()
	delete(c.accepting, tenderID)
	c.mu.Unlock()

	if err != nil {
		c.opts.Logger.Warn().Err(err).Int("tender_id", tenderID).Int("bid_id", bidID).Msg("accept bid failed")
	} else {
		c.opts.Logger.Info().Int("tender_id", tenderID).Int("bid_id", bidID).Msg("bid accepted")
	}

	if rerr := c.refetchAfterAccept(ctx, tenderID); rerr != nil {
		c.opts.Logger.Warn().Err(rerr).Int("tender_id", tenderID).Msg("refresh after accept")
	}
	if err != nil {
		return models.Bid{}, err
	}
	return bid, nil
}

func (c *ManufacturerController) refetchAfterAccept(ctx context.Context, tenderID int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := c.LoadBids(gctx, tenderID)
		return err
	})
	g.Go(func() error {
		return c.Refresh(gctx)
	})
	return g.Wait()
}

func (c *ManufacturerController) tenderByID(id int) (models.Tender, bool) {
	for _, t := range c.tenders {
		if t.ID == id {
			return t, true
		}
	}
	return models.Tender{}, false
}
