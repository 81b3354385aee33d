package ingest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/middleware"
)

// NewRouter builds the indexd route table:
//
//	POST   /api/v1/documents
//	DELETE /api/v1/documents/{id}
//	GET    /api/v1/documents/{id}/status
//	GET    /health/live
//	GET    /health/ready
//
// Writes require an admin key when cfg.AdminKeyHashes is set.
func NewRouter(h *Handler, checker *health.Checker, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics(metrics.Get()))

	r.Get("/health/live", checker.LiveHandler())
	r.Get("/health/ready", checker.ReadyHandler())

	r.Route("/api/v1/documents", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateBurst))
		if cfg.WriteTimeout > 0 {
			r.Use(middleware.Timeout(cfg.WriteTimeout))
		}
		r.Get("/{id}/status", h.Status)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAPIKey(cfg.AdminKeyHashes))
			r.Post("/", h.Ingest)
			r.Delete("/{id}", h.Delete)
		})
	})
	return r
}
