package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cinna/internal/chat"
)

// settleTimeout ограничивает ожидание первых ответов опроса после открытия чата
const settleTimeout = 3 * time.Second

func (a *app) openChat(ctx context.Context) (*chat.Controller, error) {
	u, err := a.user()
	if err != nil {
		return nil, err
	}
	ctrl := chat.NewController(a.api, u, chat.Options{
		ListInterval:   a.cfg.ChatListInterval,
		ActiveInterval: a.cfg.ChatActiveInterval,
		Logger:         a.logger,
	})
	if err := ctrl.Open(ctx); err != nil {
		ctrl.Close()
		return nil, err
	}
	return ctrl, nil
}

// settle ждёт, пока контроллер перестанет присылать обновления, но не дольше settleTimeout
func settle(ctx context.Context, ctrl *chat.Controller) {
	deadline := time.NewTimer(settleTimeout)
	defer deadline.Stop()
	for {
		quiet := time.NewTimer(300 * time.Millisecond)
		select {
		case <-ctx.Done():
			quiet.Stop()
			return
		case <-deadline.C:
			quiet.Stop()
			return
		case <-quiet.C:
			return
		case <-ctrl.Updates():
			quiet.Stop()
		}
	}
}

func newChatCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Message buyers and manufacturers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newChatContactsCommand(a))
	cmd.AddCommand(newChatOpenCommand(a))
	cmd.AddCommand(newChatSendCommand(a))
	cmd.AddCommand(newChatUnreadCommand(a))
	return cmd
}

func newChatContactsCommand(a *app) *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "List chat contacts with their last message",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := a.openChat(cmd.Context())
			if err != nil {
				return err
			}
			defer ctrl.Close()
			settle(cmd.Context(), ctrl)

			contacts := ctrl.Contacts(query)
			if len(contacts) == 0 {
				a.printf("No contacts found\n")
				return nil
			}
			now := time.Now()
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCOMPANY\tLAST MESSAGE\tWHEN\tUNREAD")
			for _, c := range contacts {
				when := ""
				if !c.Preview.Time.IsZero() {
					when = chat.PreviewTime(c.Preview.Time, now)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					c.ID, c.DisplayName(), c.CompanyName, truncate(c.Preview.Text, 40), when, chat.BadgeText(c.Preview.Unread))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&query, "search", "s", "", "Fuzzy search by name or username")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// transcript печатает переписку построчно, дописывая только новые строки
type transcript struct {
	a       *app
	printed int
	label   string
}

func (t *transcript) render(groups []chat.DayGroup) {
	i := 0
	for _, g := range groups {
		for _, line := range g.Lines {
			if i >= t.printed {
				if g.Label != t.label {
					t.a.printf("\n  %s\n", g.Label)
					t.label = g.Label
				}
				t.a.printf("%s\n", formatLine(line))
			}
			i++
		}
	}
	if i > t.printed {
		t.printed = i
	}
}

func formatLine(l chat.Line) string {
	who := "them"
	if l.Mine {
		who = "me"
	}
	s := fmt.Sprintf("%4s: %s", who, l.Entry.Text())
	if l.ShowTime {
		s += "  (" + l.Time
		if l.Mine {
			s += ", " + string(l.Status)
		}
		s += ")"
	}
	return s
}

func newChatOpenCommand(a *app) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "open USER_ID",
		Short: "Show the conversation with a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contactID, err := parseID(args[0], "user")
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			ctrl, err := a.openChat(ctx)
			if err != nil {
				return err
			}
			defer ctrl.Close()
			if err := ctrl.Select(ctx, contactID); err != nil {
				return err
			}

			t := &transcript{a: a}
			t.render(ctrl.Groups())
			if !follow {
				return nil
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ctrl.Updates():
					t.render(ctrl.Groups())
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling and print new messages until interrupted")
	return cmd
}

func newChatSendCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send USER_ID MESSAGE...",
		Short: "Send a message to a contact",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			contactID, err := parseID(args[0], "user")
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			ctrl, err := a.openChat(ctx)
			if err != nil {
				return err
			}
			defer ctrl.Close()
			if err := ctrl.Select(ctx, contactID); err != nil {
				return err
			}

			out, err := ctrl.Send(ctx, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			<-out.Done()
			if err := out.Err(); err != nil {
				return err
			}
			a.printf("Sent\n")
			return nil
		},
	}
}

func newChatUnreadCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Show the number of unread messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.user(); err != nil {
				return err
			}
			n, err := a.api.UnreadCount(cmd.Context())
			if err != nil {
				return err
			}
			if n == 0 {
				a.printf("No unread messages\n")
				return nil
			}
			a.printf("Unread messages: %s\n", chat.BadgeText(n))
			return nil
		},
	}
}
