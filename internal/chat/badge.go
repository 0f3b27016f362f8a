package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const DefaultBadgeInterval = 10 * time.Second

type UnreadCounter interface {
	UnreadCount(ctx context.Context) (int, error)
}

// Badge опрашивает общее число непрочитанных сообщений для значка в шапке
type Badge struct {
	api      UnreadCounter
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	count    int
	onChange func(int)
}

func NewBadge(api UnreadCounter, interval time.Duration, logger zerolog.Logger) *Badge {
	if interval <= 0 {
		interval = DefaultBadgeInterval
	}
	return &Badge{
		api:      api,
		interval: interval,
		logger:   logger.With().Str("component", "unread_badge").Logger(),
	}
}

// OnChange задаёт обработчик изменения счётчика
func (b *Badge) OnChange(fn func(int)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Run сразу запрашивает счётчик и затем повторяет запрос с фиксированным интервалом до отмены ctx
func (b *Badge) Run(ctx context.Context) {
	b.refresh(ctx)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.refresh(ctx)
		}
	}
}

func (b *Badge) refresh(ctx context.Context) {
	n, err := b.api.UnreadCount(ctx)
	if err != nil {
		if ctx.Err() == nil {
			b.logger.Debug().Err(err).Msg("unread count failed")
		}
		return
	}
	b.set(n)
}

// Reset обнуляет счётчик локально, когда пользователь открывает чат
func (b *Badge) Reset() {
	b.set(0)
}

func (b *Badge) set(n int) {
	b.mu.Lock()
	changed := b.count != n
	b.count = n
	fn := b.onChange
	b.mu.Unlock()
	if changed && fn != nil {
		fn(n)
	}
}

func (b *Badge) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *Badge) Text() string {
	return BadgeText(b.Count())
}
