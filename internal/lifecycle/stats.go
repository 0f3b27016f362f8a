package lifecycle

import (
	"math"
	"time"

	"cinna/models"
)

// ManufacturerStats это сводка по тендерам производителя
type ManufacturerStats struct {
	Total       int
	Active      int
	Expired     int
	Completed   int
	TotalBids   int
	AverageBids float64
	WithBids    int
	// SuccessRate - доля завершённых тендеров в процентах
	SuccessRate int
	Grades      map[models.QualityGrade]int
}

func ManufacturerStatsOf(tenders []models.Tender, now time.Time) ManufacturerStats {
	s := ManufacturerStats{Total: len(tenders), Grades: map[models.QualityGrade]int{}}
	for _, t := range tenders {
		switch TenderStage(t, now) {
		case StageOpen:
			s.Active++
		case StageExpired:
			s.Expired++
		case StageCompleted:
			s.Completed++
		}
		s.TotalBids += t.BidCount
		if t.BidCount > 0 {
			s.WithBids++
		}
		if t.QualityGrade != nil && t.QualityGrade.Valid() {
			s.Grades[*t.QualityGrade]++
		}
	}
	if s.Total > 0 {
		s.AverageBids = math.Round(float64(s.TotalBids)/float64(s.Total)*10) / 10
		s.SuccessRate = int(math.Round(float64(s.Completed) / float64(s.Total) * 100))
	}
	return s
}

// BuyerStats это сводка для панели покупателя
type BuyerStats struct {
	Available     int
	ActiveTenders int
	MyBids        int
	Pending       int
	Accepted      int
	Rejected      int
}

func BuyerStatsOf(tenders []models.Tender, bids []models.Bid) BuyerStats {
	s := BuyerStats{Available: len(tenders), MyBids: len(bids)}
	for _, t := range tenders {
		if t.Status == models.TenderActive {
			s.ActiveTenders++
		}
	}
	for _, b := range bids {
		switch b.Status {
		case models.BidPending:
			s.Pending++
		case models.BidAccepted:
			s.Accepted++
		case models.BidRejected:
			s.Rejected++
		}
	}
	return s
}

// BidSpread это наибольшая и наименьшая сумма предложений по тендеру
type BidSpread struct {
	Highest models.Amount
	Lowest  models.Amount
}

func SpreadOf(bids []models.Bid) (BidSpread, bool) {
	if len(bids) == 0 {
		return BidSpread{}, false
	}
	s := BidSpread{Highest: bids[0].Amount, Lowest: bids[0].Amount}
	for _, b := range bids[1:] {
		if b.Amount > s.Highest {
			s.Highest = b.Amount
		}
		if b.Amount < s.Lowest {
			s.Lowest = b.Amount
		}
	}
	return s, true
}
