package main

import (
	"errors"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cinna/internal/chat"
	"cinna/internal/session"
	"cinna/models"
)

func newWatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the unread badge and session changes made by other cinna processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.user()
			if err != nil {
				return err
			}
			a.printf("Watching as %s, press Ctrl+C to stop\n", u.DisplayName())

			g, ctx := errgroup.WithContext(cmd.Context())

			badge := chat.NewBadge(a.api, a.cfg.BadgeInterval, a.logger)
			badge.OnChange(func(n int) {
				if n == 0 {
					a.printf("No unread messages\n")
					return
				}
				a.printf("Unread messages: %s\n", chat.BadgeText(n))
			})

			loggedOut := newStopSignal()
			unsubscribe := a.store.Subscribe(func(u *models.User) {
				if u == nil {
					loggedOut.fire(func() { a.printf("Logged out in another session\n") })
					return
				}
				a.printf("Session is now %s (%s)\n", u.DisplayName(), u.Role)
			})
			defer unsubscribe()

			g.Go(func() error {
				badge.Run(ctx)
				return nil
			})
			g.Go(func() error {
				err := a.store.Sync(ctx)
				if errors.Is(err, session.ErrNoNotifier) {
					return nil
				}
				return err
			})
			g.Go(func() error {
				select {
				case <-ctx.Done():
					return nil
				case <-loggedOut.done:
					return errStopWatching
				}
			})

			if err := g.Wait(); err != nil && !errors.Is(err, errStopWatching) {
				return err
			}
			return nil
		},
	}
}

var errStopWatching = errors.New("session ended")

// stopSignal закрывает done один раз, сколько бы раз ни пришёл выход из сессии
type stopSignal struct {
	once sync.Once
	done chan struct{}
}

func newStopSignal() *stopSignal {
	return &stopSignal{done: make(chan struct{})}
}

func (s *stopSignal) fire(first func()) {
	s.once.Do(func() {
		first()
		close(s.done)
	})
}
