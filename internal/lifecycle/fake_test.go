package lifecycle_test

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cinna/internal/gateway"
	"cinna/models"
)

var now = time.Date(2026, time.October, 18, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func pastDate() models.Date   { return models.NewDate(2026, time.October, 10) }
func futureDate() models.Date { return models.NewDate(2026, time.November, 1) }

// fakeMarket это сервер площадки в памяти: одна ставка на покупателя, каскадное отклонение при принятии
type fakeMarket struct {
	mu      sync.Mutex
	buyerID int
	tenders map[int]*models.Tender
	bids    map[int]*models.Bid
	nextBid int
	calls   []string

	CreateBidFunc func(ctx context.Context, req models.BidCreate) (models.Bid, error)
	AcceptBidFunc func(ctx context.Context, id int) (models.Bid, error)
	TendersFunc   func(ctx context.Context) ([]models.Tender, error)
}

func newFakeMarket(buyerID int) *fakeMarket {
	return &fakeMarket{buyerID: buyerID, tenders: map[int]*models.Tender{}, bids: map[int]*models.Bid{}, nextBid: 1}
}

func (f *fakeMarket) addTender(t models.Tender) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.Status == "" {
		t.Status = models.TenderActive
	}
	f.tenders[t.ID] = &t
}

func (f *fakeMarket) addBid(b models.Bid) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.ID >= f.nextBid {
		f.nextBid = b.ID + 1
	}
	f.bids[b.ID] = &b
}

func (f *fakeMarket) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeMarket) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeMarket) bidCount(tenderID int) int {
	n := 0
	for _, b := range f.bids {
		if b.TenderID.Int() == tenderID {
			n++
		}
	}
	return n
}

func (f *fakeMarket) Tenders(ctx context.Context) ([]models.Tender, error) {
	if f.TendersFunc != nil {
		return f.TendersFunc(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("tenders")
	out := make([]models.Tender, 0, len(f.tenders))
	for id := 1; len(out) < len(f.tenders); id++ {
		if t, ok := f.tenders[id]; ok {
			c := *t
			c.BidCount = f.bidCount(id)
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeMarket) MyBids(ctx context.Context) ([]models.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("my-bids")
	var out []models.Bid
	for id := 1; id < f.nextBid; id++ {
		if b, ok := f.bids[id]; ok && b.BuyerID.Int() == f.buyerID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeMarket) TenderBids(ctx context.Context, tenderID int) ([]models.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("tender-bids %d", tenderID))
	var out []models.Bid
	for id := 1; id < f.nextBid; id++ {
		if b, ok := f.bids[id]; ok && b.TenderID.Int() == tenderID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeMarket) CreateBid(ctx context.Context, req models.BidCreate) (models.Bid, error) {
	if f.CreateBidFunc != nil {
		return f.CreateBidFunc(ctx, req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("create-bid %d", req.TenderID))
	for _, b := range f.bids {
		if b.TenderID.Int() == req.TenderID && b.BuyerID.Int() == f.buyerID {
			return models.Bid{}, &gateway.APIError{Status: http.StatusBadRequest, Message: "You have already placed a bid on this tender"}
		}
	}
	b := models.Bid{
		ID:       f.nextBid,
		TenderID: models.Ref(req.TenderID),
		BuyerID:  models.Ref(f.buyerID),
		Amount:   req.Amount,
		Message:  req.Message,
		Status:   models.BidPending,
	}
	f.nextBid++
	f.bids[b.ID] = &b
	return b, nil
}

func (f *fakeMarket) UpdateBid(ctx context.Context, id int, req models.BidUpdate) (models.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("update-bid %d", id))
	b, ok := f.bids[id]
	if !ok {
		return models.Bid{}, &gateway.APIError{Status: http.StatusNotFound}
	}
	b.Amount, b.Message = req.Amount, req.Message
	return *b, nil
}

func (f *fakeMarket) AcceptBid(ctx context.Context, id int) (models.Bid, error) {
	if f.AcceptBidFunc != nil {
		return f.AcceptBidFunc(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("accept-bid %d", id))
	target, ok := f.bids[id]
	if !ok {
		return models.Bid{}, &gateway.APIError{Status: http.StatusNotFound}
	}
	tenderID := target.TenderID.Int()
	for _, b := range f.bids {
		if b.TenderID.Int() == tenderID && b.Status == models.BidAccepted {
			return models.Bid{}, &gateway.APIError{Status: http.StatusBadRequest, Message: "A bid has already been accepted for this tender"}
		}
	}
	for _, b := range f.bids {
		if b.TenderID.Int() == tenderID {
			b.Status = models.BidRejected
		}
	}
	target.Status = models.BidAccepted
	f.tenders[tenderID].Status = models.TenderClosed
	return *target, nil
}

func (f *fakeMarket) NextTenderNumber(ctx context.Context) (string, error) {
	return fmt.Sprintf("TND-%03d", len(f.tenders)+1), nil
}

func (f *fakeMarket) PredictQuality(ctx context.Context, report gateway.File) (models.QualityPrediction, error) {
	return models.QualityPrediction{QualityGrade: models.GradeA, QualityScore: 88.5}, nil
}

func (f *fakeMarket) CreateTender(ctx context.Context, t gateway.NewTender) (models.Tender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := len(f.tenders) + 1
	tender := models.Tender{
		ID:           id,
		TenderNumber: fmt.Sprintf("TND-%03d", id),
		Title:        t.Title,
		Quantity:     t.Quantity,
		StartDate:    t.StartDate,
		EndDate:      t.EndDate,
		QualityGrade: t.QualityGrade,
		Status:       models.TenderActive,
	}
	f.tenders[id] = &tender
	return tender, nil
}
