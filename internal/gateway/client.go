package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"cinna/internal/telemetry"
)

// Session это то, что шлюзу нужно от хранилища сессии
type Session interface {
	AccessToken() string
	// Invalidate вызывается при 401 на защищённом запросе
	Invalidate()
}

// Эндпоинты, которые никогда не получают bearer-токен
var publicPaths = []string{"/auth/login/", "/auth/register/"}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	GetRetries uint64
	RetryBase  time.Duration
	Logger     zerolog.Logger
	// Transport по умолчанию http.DefaultTransport, обёрнутый otelhttp
	Transport http.RoundTripper
}

// Client это типизированный REST-клиент площадки
type Client struct {
	base       *url.URL
	http       *http.Client
	session    Session
	logger     zerolog.Logger
	getRetries uint64
	retryBase  time.Duration
}

func New(opts Options, session Session) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api url %q: %w", opts.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid api url %q: scheme and host are required", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 300 * time.Millisecond
	}
	return &Client{
		base: base,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: telemetry.Transport(opts.Transport),
		},
		session:    session,
		logger:     opts.Logger.With().Str("component", "gateway").Logger(),
		getRetries: opts.GetRetries,
		retryBase:  opts.RetryBase,
	}, nil
}

// BaseURL возвращает адрес API без завершающего слэша
func (c *Client) BaseURL() string {
	return c.base.String()
}

// body это уже закодированное тело запроса
type body struct {
	contentType string
	data        []byte
}

func jsonBody(v any) (*body, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return &body{contentType: "application/json", data: data}, nil
}

func isPublic(path string) bool {
	for _, p := range publicPaths {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do выполняет запрос и декодирует JSON-ответ в out (если out != nil).
// GET повторяется при сетевых ошибках и 5xx; изменяющие запросы не повторяются.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, b *body, out any) error {
	if method != http.MethodGet || c.getRetries == 0 {
		return c.once(ctx, method, path, query, b, out)
	}

	backoff := retry.WithMaxRetries(c.getRetries, retry.NewExponential(c.retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.once(ctx, method, path, query, b, out)
		if retryable(err) {
			c.logger.Debug().Err(err).Str("path", path).Msg("retrying request")
			return retry.RetryableError(err)
		}
		return err
	})
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return !errors.Is(err, context.Canceled)
	}
	var ae *APIError
	return errors.As(err, &ae) && ae.Status >= 500
}

func (c *Client) once(ctx context.Context, method, path string, query url.Values, b *body, out any) error {
	var reader io.Reader
	if b != nil {
		reader = bytes.NewReader(b.data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if b != nil {
		req.Header.Set("Content-Type", b.contentType)
	}
	if !isPublic(path) && c.session != nil {
		if token := c.session.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Method: method, Path: path, Err: err}
	}
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized && !isPublic(path) && c.session != nil {
			c.session.Invalidate()
		}
		return newAPIError(method, path, resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) send(ctx context.Context, method, path string, in, out any) error {
	b, err := jsonBody(in)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, nil, b, out)
}

func (c *Client) sendForm(ctx context.Context, method, path string, form *Form, out any) error {
	b, err := form.encode()
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, nil, b, out)
}

// ResolveMediaURL превращает относительный путь медиафайла в абсолютный адрес
// на хосте API. Абсолютные http(s) адреса возвращаются как есть.
func (c *Client) ResolveMediaURL(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	origin := url.URL{Scheme: c.base.Scheme, Host: c.base.Host}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return origin.String() + path
}
