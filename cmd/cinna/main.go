package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"cinna/internal/apperr"
	"cinna/internal/config"
	"cinna/internal/gateway"
	"cinna/internal/session"
	"cinna/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdin, os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", describe(err))
		os.Exit(1)
	}
}

// app собирает зависимости команд один раз на запуск
type app struct {
	cfg      config.Client
	logger   zerolog.Logger
	store    *session.Store
	api      *gateway.Client
	in       *bufio.Reader
	out      io.Writer
	shutdown func(context.Context) error
}

func newRootCommand(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: bufio.NewReader(in), out: out}

	cmd := &cobra.Command{
		Use:           "cinna",
		Short:         "Terminal client for the cinnamon oil tender marketplace",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	cmd.AddCommand(newLoginCommand(a))
	cmd.AddCommand(newRegisterCommand(a))
	cmd.AddCommand(newLogoutCommand(a))
	cmd.AddCommand(newWhoamiCommand(a))
	cmd.AddCommand(newProfileCommand(a))
	cmd.AddCommand(newTendersCommand(a))
	cmd.AddCommand(newBidsCommand(a))
	cmd.AddCommand(newChatCommand(a))
	cmd.AddCommand(newWatchCommand(a))
	return cmd
}

func (a *app) init(ctx context.Context) error {
	cfg, err := config.LoadClient(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	a.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	a.shutdown, err = telemetry.Init(ctx, "cinna-client", cfg.OTLPEndpoint, a.logger)
	if err != nil {
		return err
	}

	storage, err := session.NewFileStorage(cfg.SessionFile)
	if err != nil {
		return err
	}
	a.store = session.NewStore(storage, a.logger)

	a.api, err = gateway.New(gateway.Options{
		BaseURL:    cfg.APIURL,
		Timeout:    cfg.RequestTimeout,
		GetRetries: cfg.GetRetries,
		RetryBase:  cfg.RetryBase,
		Logger:     a.logger,
	}, a.store)
	return err
}

func (a *app) close() error {
	if a.shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.shutdown(ctx)
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// prompt читает одну строку ответа пользователя
func (a *app) prompt(question string) string {
	a.printf("%s ", question)
	line, _ := a.in.ReadString('\n')
	return strings.TrimSpace(line)
}

// confirm спрашивает y/N; всё, кроме явного "y" или "yes", считается отказом
func (a *app) confirm(question string) bool {
	switch strings.ToLower(a.prompt(question + " [y/N]")) {
	case "y", "yes":
		return true
	}
	return false
}

// describe превращает ошибку в текст для пользователя: ошибки полей построчно,
// иначе сообщение, предназначенное для показа
func describe(err error) string {
	if fields := apperr.FieldsOf(err); len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %s", k, fields[k]))
		}
		return strings.Join(lines, "\n")
	}
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	return err.Error()
}
