package lifecycle_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"cinna/internal/apperr"
	"cinna/internal/gateway"
	"cinna/internal/lifecycle"
	"cinna/models"
)

func opts() lifecycle.Options {
	return lifecycle.Options{Logger: zerolog.Nop(), Clock: clock}
}

func TestStageOf(t *testing.T) {
	tests := []struct {
		name   string
		status models.TenderStatus
		end    models.Date
		want   lifecycle.Stage
	}{
		{"closed wins over dates", models.TenderClosed, futureDate(), lifecycle.StageCompleted},
		{"closed and past", models.TenderClosed, pastDate(), lifecycle.StageCompleted},
		{"active with past end date", models.TenderActive, pastDate(), lifecycle.StageExpired},
		{"yesterday is expired", models.TenderActive, models.NewDate(2026, time.October, 17), lifecycle.StageExpired},
		{"end date today is still open", models.TenderActive, models.NewDate(2026, time.October, 18), lifecycle.StageOpen},
		{"future end date", models.TenderActive, futureDate(), lifecycle.StageOpen},
		{"no end date", models.TenderActive, models.Date{}, lifecycle.StageOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, lifecycle.StageOf(tt.status, tt.end, now))
		})
	}
}

func TestTrackerKeepsCompletedMonotonic(t *testing.T) {
	tr := lifecycle.NewTracker()
	tender := models.Tender{ID: 4, Status: models.TenderClosed, EndDate: pastDate()}
	require.Equal(t, lifecycle.StageCompleted, tr.Observe(tender, now))

	stale := models.Tender{ID: 4, Status: models.TenderActive, EndDate: futureDate()}
	require.Equal(t, lifecycle.StageCompleted, tr.Observe(stale, now))

	other := models.Tender{ID: 5, Status: models.TenderActive, EndDate: futureDate()}
	require.Equal(t, lifecycle.StageOpen, tr.Observe(other, now))
}

func TestFilter(t *testing.T) {
	tenders := []models.Tender{{ID: 1, Status: models.TenderActive}, {ID: 2, Status: models.TenderClosed}}
	require.Len(t, lifecycle.FilterAll.Apply(tenders), 2)
	require.Equal(t, 1, lifecycle.FilterActive.Apply(tenders)[0].ID)
	require.Equal(t, 2, lifecycle.FilterClosed.Apply(tenders)[0].ID)

	f, ok := lifecycle.ParseFilter("")
	require.True(t, ok)
	require.Equal(t, lifecycle.FilterAll, f)
	_, ok = lifecycle.ParseFilter("expired")
	require.False(t, ok)
}

func TestValidateBid(t *testing.T) {
	tests := []struct {
		name   string
		form   lifecycle.BidForm
		fields []string
	}{
		{"zero amount", lifecycle.BidForm{Amount: "0", Message: "ok"}, []string{"bid_amount"}},
		{"negative amount", lifecycle.BidForm{Amount: "-5", Message: "ok"}, []string{"bid_amount"}},
		{"not a number", lifecycle.BidForm{Amount: "abc", Message: "ok"}, []string{"bid_amount"}},
		{"NaN", lifecycle.BidForm{Amount: "NaN", Message: "ok"}, []string{"bid_amount"}},
		{"infinity", lifecycle.BidForm{Amount: "Inf", Message: "ok"}, []string{"bid_amount"}},
		{"signed infinity", lifecycle.BidForm{Amount: "+Inf", Message: "ok"}, []string{"bid_amount"}},
		{"blank message", lifecycle.BidForm{Amount: "10", Message: "   "}, []string{"message"}},
		{"both", lifecycle.BidForm{}, []string{"bid_amount", "message"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lifecycle.ValidateBid(tt.form)
			require.Equal(t, apperr.CodeValidation, apperr.Classify(err))
			fields := apperr.FieldsOf(err)
			require.Len(t, fields, len(tt.fields))
			for _, f := range tt.fields {
				require.Contains(t, fields, f)
			}
		})
	}

	amount, err := lifecycle.ValidateBid(lifecycle.BidForm{Amount: "1500.00", Message: "Ready to proceed"})
	require.NoError(t, err)
	require.Equal(t, models.Amount(1500), amount)
}

func TestSubmitBidValidationNeverReachesNetwork(t *testing.T) {
	market := newFakeMarket(10)
	market.addTender(models.Tender{ID: 4, TenderNumber: "TND-004", EndDate: futureDate()})
	c := lifecycle.NewBuyerController(market, opts())

	_, err := c.SubmitBid(context.Background(), 4, lifecycle.BidForm{Amount: "0", Message: ""})
	require.Equal(t, apperr.CodeValidation, apperr.Classify(err))
	require.Empty(t, market.Calls())
}

func TestSubmitBidCreatesAndRefetches(t *testing.T) {
	market := newFakeMarket(10)
	market.addTender(models.Tender{ID: 4, TenderNumber: "TND-004", EndDate: futureDate()})
	c := lifecycle.NewBuyerController(market, opts())
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	view, ok := c.Tender(4)
	require.True(t, ok)
	require.Equal(t, lifecycle.StageOpen, view.Stage)
	require.Equal(t, lifecycle.OfferCreate, view.Offer)
	require.Equal(t, 0, view.BidCount)

	bid, err := c.SubmitBid(ctx, 4, lifecycle.BidForm{Amount: "1500.00", Message: "Ready to proceed"})
	require.NoError(t, err)
	require.Equal(t, models.BidPending, bid.Status)

	view, _ = c.Tender(4)
	require.Equal(t, 1, view.BidCount)
	require.NotNil(t, view.MyBid)
	require.Equal(t, models.Amount(1500), view.MyBid.Amount)
	require.Equal(t, lifecycle.OfferEdit, view.Offer)
	require.Len(t, c.MyBids(), 1)
}

func TestSubmitBidSecondTimeRoutesToUpdate(t *testing.T) {
	market := newFakeMarket(10)
	market.addTender(models.Tender{ID: 4, TenderNumber: "TND-004", EndDate: futureDate()})
	c := lifecycle.NewBuyerController(market, opts())
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	first, err := c.SubmitBid(ctx, 4, lifecycle.BidForm{Amount: "1500", Message: "first"})
	require.NoError(t, err)
	second, err := c.SubmitBid(ctx, 4, lifecycle.BidForm{Amount: "1400", Message: "better offer"})
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Contains(t, market.Calls(), "update-bid 1")
	bids := c.MyBids()
	require.Len(t, bids, 1)
	require.Equal(t, models.Amount(1400), bids[0].Amount)
	require.Equal(t, "better offer", bids[0].Message)

	view, _ := c.Tender(4)
	require.Equal(t, 1, view.BidCount)
}

func TestSubmitBidRefusesDecidedBid(t *testing.T) {
	market := newFakeMarket(10)
	market.addTender(models.Tender{ID: 4, EndDate: futureDate()})
	market.addBid(models.Bid{ID: 3, TenderID: 4, BuyerID: 10, Amount: 100, Status: models.BidRejected})
	c := lifecycle.NewBuyerController(market, opts())
	require.NoError(t, c.Refresh(context.Background()))
	before := len(market.Calls())

	_, err := c.SubmitBid(context.Background(), 4, lifecycle.BidForm{Amount: "200", Message: "again"})
	require.Equal(t, apperr.CodeConflict, apperr.Classify(err))
	require.Len(t, market.Calls(), before)

	view, _ := c.Tender(4)
	require.Equal(t, lifecycle.OfferNone, view.Offer)
}

func TestSubmitBidRefusesExpiredTender(t *testing.T) {
	market := newFakeMarket(10)
	market.addTender(models.Tender{ID: 4, TenderNumber: "TND-004", EndDate: pastDate()})
	c := lifecycle.NewBuyerController(market, opts())
	require.NoError(t, c.Refresh(context.Background()))
	before := len(market.Calls())

	_, err := c.SubmitBid(context.Background(), 4, lifecycle.BidForm{Amount: "200", Message: "late"})
	require.Equal(t, apperr.CodeConflict, apperr.Classify(err))
	require.Len(t, market.Calls(), before)
}

func TestSubmitBidSurfacesServerFieldErrors(t *testing.T) {
	market := newFakeMarket(10)
	market.addTender(models.Tender{ID: 4, EndDate: futureDate()})
	serverErr := &gateway.APIError{
		Status: http.StatusBadRequest,
		Fields: map[string]string{"bid_amount": "Ensure that there are no more than 10 digits in total."},
	}
	market.CreateBidFunc = func(ctx context.Context, req models.BidCreate) (models.Bid, error) {
		return models.Bid{}, serverErr
	}
	c := lifecycle.NewBuyerController(market, opts())
	require.NoError(t, c.Refresh(context.Background()))

	_, err := c.SubmitBid(context.Background(), 4, lifecycle.BidForm{Amount: "99999999999", Message: "big"})
	require.ErrorIs(t, err, serverErr)
	require.Equal(t, apperr.CodeField, apperr.Classify(err))
	require.Equal(t, serverErr.Fields, apperr.FieldsOf(err))
	require.Empty(t, c.MyBids())
}

func TestBuyerStats(t *testing.T) {
	tenders := []models.Tender{{ID: 1, Status: models.TenderActive}, {ID: 2, Status: models.TenderClosed}}
	bids := []models.Bid{{Status: models.BidPending}, {Status: models.BidAccepted}, {Status: models.BidRejected}, {Status: models.BidPending}}
	s := lifecycle.BuyerStatsOf(tenders, bids)
	require.Equal(t, lifecycle.BuyerStats{Available: 2, ActiveTenders: 1, MyBids: 4, Pending: 2, Accepted: 1, Rejected: 1}, s)
}

func expiredMarket() *fakeMarket {
	market := newFakeMarket(0)
	market.addTender(models.Tender{ID: 4, TenderNumber: "TND-004", EndDate: pastDate(), ManufacturerID: 1})
	market.addBid(models.Bid{ID: 1, TenderID: 4, BuyerID: 10, Amount: 1500, Status: models.BidPending})
	market.addBid(models.Bid{ID: 2, TenderID: 4, BuyerID: 11, Amount: 1450, Status: models.BidPending})
	market.addBid(models.Bid{ID: 3, TenderID: 4, BuyerID: 12, Amount: 1600, Status: models.BidPending})
	return market
}

func yes(string) bool { return true }

func TestAcceptBidScenario(t *testing.T) {
	market := expiredMarket()
	c := lifecycle.NewManufacturerController(market, 1, opts())
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))
	_, err := c.LoadBids(ctx, 4)
	require.NoError(t, err)

	review, ok := c.Review(4)
	require.True(t, ok)
	require.Equal(t, lifecycle.StageExpired, review.Stage)
	require.True(t, review.CanAccept)
	require.Equal(t, &lifecycle.BidSpread{Highest: 1600, Lowest: 1450}, review.Spread)
	require.Len(t, c.AwaitingDecision(), 1)

	var prompt string
	bid, err := c.AcceptBid(ctx, 4, 2, func(p string) bool { prompt = p; return true })
	require.NoError(t, err)
	require.Equal(t, lifecycle.AcceptPrompt, prompt)
	require.Equal(t, models.BidAccepted, bid.Status)

	review, _ = c.Review(4)
	require.Equal(t, lifecycle.StageCompleted, review.Stage)
	require.Equal(t, models.TenderClosed, review.Tender.Status)
	require.False(t, review.CanAccept)
	require.NotNil(t, review.Winner)
	require.Equal(t, 2, review.Winner.ID)
	for _, b := range review.Bids {
		if b.ID == 2 {
			require.Equal(t, models.BidAccepted, b.Status)
		} else {
			require.Equal(t, models.BidRejected, b.Status)
		}
	}
	require.Empty(t, c.AwaitingDecision())

	calls := len(market.Calls())
	_, err = c.AcceptBid(ctx, 4, 3, yes)
	require.Equal(t, apperr.CodeConflict, apperr.Classify(err))
	require.Len(t, market.Calls(), calls)
}

func TestAcceptBidRequiresConfirmation(t *testing.T) {
	market := expiredMarket()
	c := lifecycle.NewManufacturerController(market, 1, opts())
	require.NoError(t, c.Refresh(context.Background()))

	_, err := c.AcceptBid(context.Background(), 4, 2, func(string) bool { return false })
	require.ErrorIs(t, err, lifecycle.ErrNotConfirmed)
	_, err = c.AcceptBid(context.Background(), 4, 2, nil)
	require.ErrorIs(t, err, lifecycle.ErrNotConfirmed)
	require.NotContains(t, market.Calls(), "accept-bid 2")
}

func TestAcceptBidOnlyAfterEndDate(t *testing.T) {
	market := newFakeMarket(0)
	market.addTender(models.Tender{ID: 4, TenderNumber: "TND-004", EndDate: futureDate(), ManufacturerID: 1})
	market.addBid(models.Bid{ID: 1, TenderID: 4, Status: models.BidPending})
	c := lifecycle.NewManufacturerController(market, 1, opts())
	require.NoError(t, c.Refresh(context.Background()))

	_, err := c.AcceptBid(context.Background(), 4, 1, yes)
	require.Equal(t, apperr.CodeConflict, apperr.Classify(err))
	require.NotContains(t, market.Calls(), "accept-bid 1")
}

func TestConcurrentAcceptFromAnotherTabIsRejectedByServer(t *testing.T) {
	market := expiredMarket()
	ctx := context.Background()
	first := lifecycle.NewManufacturerController(market, 1, opts())
	second := lifecycle.NewManufacturerController(market, 1, opts())
	for _, c := range []*lifecycle.ManufacturerController{first, second} {
		require.NoError(t, c.Refresh(ctx))
		_, err := c.LoadBids(ctx, 4)
		require.NoError(t, err)
	}

	_, err := first.AcceptBid(ctx, 4, 1, yes)
	require.NoError(t, err)

	// вторая вкладка ещё видит все предложения ожидающими
	_, err = second.AcceptBid(ctx, 4, 3, yes)
	var apiErr *gateway.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "A bid has already been accepted for this tender", apiErr.Message)

	review, _ := second.Review(4)
	require.Equal(t, 1, review.Winner.ID)
	require.Equal(t, lifecycle.StageCompleted, review.Stage)
}

func TestAcceptBidTransportFailureLeavesStateRecoverable(t *testing.T) {
	market := expiredMarket()
	netErr := &gateway.TransportError{Method: http.MethodPost, Path: "/bids/2/accept/", Err: errors.New("connection reset")}
	market.AcceptBidFunc = func(ctx context.Context, id int) (models.Bid, error) { return models.Bid{}, netErr }
	c := lifecycle.NewManufacturerController(market, 1, opts())
	require.NoError(t, c.Refresh(context.Background()))

	_, err := c.AcceptBid(context.Background(), 4, 2, yes)
	require.ErrorIs(t, err, netErr)

	review, _ := c.Review(4)
	require.True(t, review.CanAccept)
	require.Nil(t, review.Winner)
}

func TestManufacturerStats(t *testing.T) {
	a, b := models.GradeA, models.GradeB
	tenders := []models.Tender{
		{ID: 1, Status: models.TenderActive, EndDate: futureDate(), BidCount: 2, QualityGrade: &a},
		{ID: 2, Status: models.TenderActive, EndDate: pastDate(), BidCount: 3, QualityGrade: &a},
		{ID: 3, Status: models.TenderClosed, EndDate: pastDate(), BidCount: 0, QualityGrade: &b},
	}
	s := lifecycle.ManufacturerStatsOf(tenders, now)
	require.Equal(t, 3, s.Total)
	require.Equal(t, 1, s.Active)
	require.Equal(t, 1, s.Expired)
	require.Equal(t, 1, s.Completed)
	require.Equal(t, 5, s.TotalBids)
	require.Equal(t, 1.7, s.AverageBids)
	require.Equal(t, 2, s.WithBids)
	require.Equal(t, 33, s.SuccessRate)
	require.Equal(t, map[models.QualityGrade]int{models.GradeA: 2, models.GradeB: 1}, s.Grades)

	empty := lifecycle.ManufacturerStatsOf(nil, now)
	require.Zero(t, empty.SuccessRate)
}

func TestMyTendersFiltersByOwner(t *testing.T) {
	market := newFakeMarket(0)
	market.addTender(models.Tender{ID: 1, ManufacturerID: 1, EndDate: futureDate()})
	market.addTender(models.Tender{ID: 2, ManufacturerID: 2, EndDate: futureDate()})
	c := lifecycle.NewManufacturerController(market, 1, opts())
	require.NoError(t, c.Refresh(context.Background()))

	mine := c.MyTenders()
	require.Len(t, mine, 1)
	require.Equal(t, 1, mine[0].ID)
	require.Equal(t, 1, c.Stats().Active)
}
