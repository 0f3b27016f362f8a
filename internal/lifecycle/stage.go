package lifecycle

import (
	"sync"
	"time"

	"cinna/models"
)

// Stage это наблюдаемая клиентом стадия тендера
type Stage string

const (
	// StageOpen - приём и редактирование предложений
	StageOpen Stage = "open"
	// StageExpired - срок вышел, производитель выбирает победителя
	StageExpired Stage = "expired"
	// StageCompleted - победитель выбран, тендер закрыт
	StageCompleted Stage = "completed"
)

// StageOf вычисляет стадию по статусу, дате окончания и текущему моменту.
// Сравниваются календарные даты: тендер истекает на следующий день после end_date.
func StageOf(status models.TenderStatus, endDate models.Date, now time.Time) Stage {
	if status == models.TenderClosed {
		return StageCompleted
	}
	if !endDate.IsZero() && endDate.Before(models.DateOf(now)) {
		return StageExpired
	}
	return StageOpen
}

// TenderStage это StageOf для конкретного тендера
func TenderStage(t models.Tender, now time.Time) Stage {
	return StageOf(t.Status, t.EndDate, now)
}

// Tracker запоминает завершённые тендеры, чтобы устаревший ответ сервера
// не вернул тендер из completed обратно в open или expired
type Tracker struct {
	mu        sync.Mutex
	completed map[int]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{completed: map[int]struct{}{}}
}

func (tr *Tracker) Observe(t models.Tender, now time.Time) Stage {
	stage := TenderStage(t, now)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if stage == StageCompleted {
		tr.completed[t.ID] = struct{}{}
		return stage
	}
	if _, ok := tr.completed[t.ID]; ok {
		return StageCompleted
	}
	return stage
}

// Filter это фильтр списка тендеров по статусу
type Filter string

const (
	FilterAll    Filter = "all"
	FilterActive Filter = "active"
	FilterClosed Filter = "closed"
)

func ParseFilter(s string) (Filter, bool) {
	switch Filter(s) {
	case FilterAll, FilterActive, FilterClosed:
		return Filter(s), true
	case "":
		return FilterAll, true
	}
	return "", false
}

// Apply оставляет тендеры с подходящим статусом
func (f Filter) Apply(tenders []models.Tender) []models.Tender {
	if f == FilterAll || f == "" {
		return tenders
	}
	out := make([]models.Tender, 0, len(tenders))
	for _, t := range tenders {
		if string(t.Status) == string(f) {
			out = append(out, t)
		}
	}
	return out
}
