package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"cinna/db"
	"cinna/models"
)

const maxJSONBody = 1048576

var (
	bidsPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cinna_bids_placed_total",
		Help: "Bids created by buyers.",
	})
	bidsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cinna_bids_accepted_total",
		Help: "Bids accepted by manufacturers.",
	})
	messagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cinna_chat_messages_total",
		Help: "Chat messages stored.",
	})
	loginFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cinna_login_failures_total",
		Help: "Rejected login attempts.",
	})
)

type Config struct {
	MediaRoot  string
	QualityURL string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Clock      func() time.Time
	Logger     zerolog.Logger
	HTTPClient *http.Client
}

// Handler обслуживает REST API площадки поверх Storage
type Handler struct {
	Store StorageInterface
	cfg   Config
}

// NewHandler создает новый Handler
func NewHandler(store StorageInterface, cfg Config) *Handler {
	if cfg.MediaRoot == "" {
		cfg.MediaRoot = "media"
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 14 * 24 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Handler{Store: store, cfg: cfg}
}

func (h *Handler) today() models.Date {
	return models.DateOf(h.cfg.Clock())
}

// PingHandler отвечает "ok" для проверки сервера
func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type userKey struct{}

// ContextWithUser кладёт аутентифицированного пользователя в контекст запроса
func ContextWithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

func UserFrom(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userKey{}).(*models.User)
	return u, ok && u != nil
}

// Authenticate пропускает запрос только с действующим access-токеном в заголовке Authorization
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			return
		}
		userID, err := h.Store.TokenUser(r.Context(), strings.TrimSpace(token), db.TokenAccess, h.cfg.Clock())
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type"})
			return
		}
		user, err := h.Store.GetUser(r.Context(), userID)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "User not found"})
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	u, ok := UserFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
	}
	return u, ok
}

// requireRole отвечает 403, если роль пользователя не подходит
func requireRole(w http.ResponseWriter, r *http.Request, role models.Role) (*models.User, bool) {
	u, ok := currentUser(w, r)
	if !ok {
		return nil, false
	}
	if u.Role != role {
		writeError(w, http.StatusForbidden, fmt.Sprintf("Only %ss can perform this action", role))
		return nil, false
	}
	return u, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}

// writeFields отвечает 400 с ошибками полей в виде {"поле": ["сообщение"]}
func writeFields(w http.ResponseWriter, fields map[string]string) {
	body := make(map[string][]string, len(fields))
	for k, v := range fields {
		body[k] = []string{v}
	}
	writeJSON(w, http.StatusBadRequest, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return false
	}
	return true
}

// parseMultipart разбирает multipart-форму; превышение лимита сообщается как ошибка поля field
func parseMultipart(w http.ResponseWriter, r *http.Request, limit int64, field, tooLarge string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	err := r.ParseMultipartForm(limit)
	if err == nil {
		return true
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeFields(w, map[string]string{field: tooLarge})
		return false
	}
	writeError(w, http.StatusBadRequest, "Invalid form data")
	return false
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.cfg.Logger.Error().Err(err).Str("path", r.URL.Path).Msg(msg)
	writeError(w, http.StatusInternalServerError, msg)
}

// saveUpload сохраняет загруженный файл в MEDIA_ROOT/dir и возвращает путь относительно сервера
func (h *Handler) saveUpload(dir string, fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	target := filepath.Join(h.cfg.MediaRoot, dir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", err
	}
	name := uuid.NewString() + strings.ToLower(filepath.Ext(fh.Filename))
	dst, err := os.Create(filepath.Join(target, name))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return "/media/" + dir + "/" + name, nil
}
