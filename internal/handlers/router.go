package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterOptions struct {
	AllowedOrigins     []string
	RateLimitPerMinute int
	// Middleware оборачивает весь роутер (например, трассировка)
	Middleware []func(http.Handler) http.Handler
}

// Router собирает маршруты API под /api, метрики и раздачу загруженных файлов
func Router(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	for _, mw := range opts.Middleware {
		r.Use(mw)
	}

	allowed := opts.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))
	if opts.RateLimitPerMinute > 0 {
		r.Use(httprate.LimitByIP(opts.RateLimitPerMinute, time.Minute))
	}

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(h.cfg.MediaRoot))))

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.PingHandler)
		r.Post("/auth/register/", h.RegisterHandler)
		r.Post("/auth/login/", h.LoginHandler)

		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate)

			r.Post("/auth/logout/", h.LogoutHandler)
			r.Get("/auth/profile/", h.ProfileHandler)
			r.Patch("/auth/profile/", h.UpdateProfileHandler)

			// тендеры
			r.Get("/tenders/", h.GetTendersHandler)
			r.Post("/tenders/", h.CreateTenderHandler)
			r.Get("/tenders/next-number/", h.NextTenderNumberHandler)
			r.Post("/tenders/predict-quality/", h.PredictQualityHandler)
			r.Get("/tenders/{tenderId}/", h.GetTenderHandler)
			r.Put("/tenders/{tenderId}/", h.UpdateTenderHandler)
			r.Patch("/tenders/{tenderId}/", h.PatchTenderHandler)
			r.Delete("/tenders/{tenderId}/", h.DeleteTenderHandler)
			r.Get("/tenders/{tenderId}/bids/", h.GetTenderBidsHandler)

			// предложения (bids)
			r.Get("/bids/", h.GetUserBidsHandler)
			r.Post("/bids/", h.CreateBidHandler)
			r.Get("/bids/{bidId}/", h.GetBidHandler)
			r.Put("/bids/{bidId}/", h.EditBidHandler)
			r.Patch("/bids/{bidId}/", h.EditBidHandler)
			r.Delete("/bids/{bidId}/", h.DeleteBidHandler)
			r.Post("/bids/{bidId}/accept/", h.AcceptBidHandler)

			// чат
			r.Get("/chat/users/", h.ChatUsersHandler)
			r.Get("/chat/messages/{userId}/", h.ChatMessagesHandler)
			r.Post("/chat/send/", h.SendMessageHandler)
			r.Get("/chat/unread-count/", h.UnreadCountHandler)
			r.Post("/chat/mark-read/{userId}/", h.MarkReadHandler)
		})
	})
	return r
}
