package chat

import (
	"strconv"
	"time"
)

// DeliveryStatus это отметка под своим сообщением
type DeliveryStatus string

const (
	StatusSending DeliveryStatus = "sending"
	StatusSent    DeliveryStatus = "sent"
	StatusRead    DeliveryStatus = "read"
)

// Line это сообщение, подготовленное к выводу
type Line struct {
	Entry    Entry
	Mine     bool
	ShowTime bool
	Time     string
	Status   DeliveryStatus
}

// DayGroup это сообщения одного календарного дня
type DayGroup struct {
	Label string
	Lines []Line
}

// DayLabel возвращает "Today", "Yesterday" или дату вида "2 Jan 2006"
func DayLabel(t, now time.Time) string {
	t = t.In(now.Location())
	switch {
	case sameDay(t, now):
		return "Today"
	case sameDay(t, now.AddDate(0, 0, -1)):
		return "Yesterday"
	}
	return t.Format("2 Jan 2006")
}

// PreviewTime форматирует время последнего сообщения в списке контактов
func PreviewTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(now.Location())
	switch {
	case sameDay(t, now):
		return t.Format("15:04")
	case sameDay(t, now.AddDate(0, 0, -1)):
		return "Yesterday"
	}
	return t.Format("2 Jan")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// GroupByDay раскладывает переписку по дням. Время показывается только у последнего
// сообщения в серии подряд идущих сообщений одного отправителя.
func GroupByDay(entries []Entry, me int, now time.Time) []DayGroup {
	var groups []DayGroup
	for _, e := range entries {
		label := DayLabel(e.SentAt(), now)
		if len(groups) == 0 || groups[len(groups)-1].Label != label {
			groups = append(groups, DayGroup{Label: label})
		}
		g := &groups[len(groups)-1]
		g.Lines = append(g.Lines, Line{
			Entry:  e,
			Mine:   e.SenderID() == me,
			Time:   e.SentAt().In(now.Location()).Format("15:04"),
			Status: statusOf(e),
		})
	}
	for gi := range groups {
		lines := groups[gi].Lines
		for i := range lines {
			last := i == len(lines)-1
			lines[i].ShowTime = last || lines[i+1].Entry.SenderID() != lines[i].Entry.SenderID()
		}
	}
	return groups
}

func statusOf(e Entry) DeliveryStatus {
	switch m := e.(type) {
	case PendingSend:
		return StatusSending
	case Confirmed:
		if m.IsRead {
			return StatusRead
		}
	}
	return StatusSent
}

// BadgeText возвращает текст счётчика непрочитанных: пусто для 0, "99+" сверх 99
func BadgeText(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > 99:
		return "99+"
	}
	return strconv.Itoa(n)
}
