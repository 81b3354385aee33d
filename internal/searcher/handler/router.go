package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/middleware"
)

// NewRouter builds the searchd route table:
//
//	GET  /api/v1/search?q=&limit=
//	GET  /api/v1/documents/{id}
//	GET  /api/v1/index/stats
//	POST /api/v1/index/refresh      (admin key)
//	GET  /api/v1/cache/stats
//	POST /api/v1/cache/invalidate   (admin key)
//	GET  /health/live
//	GET  /health/ready
func NewRouter(h *Handler, checker *health.Checker, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics(metrics.Get()))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Get("/health/live", checker.LiveHandler())
	r.Get("/health/ready", checker.ReadyHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateBurst))
		if cfg.WriteTimeout > 0 {
			r.Use(middleware.Timeout(cfg.WriteTimeout))
		}
		r.Get("/search", h.Search)
		r.Get("/documents/{id}", h.GetDocument)
		r.Get("/index/stats", h.IndexStats)
		r.Get("/cache/stats", h.CacheStats)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAPIKey(cfg.AdminKeyHashes))
			r.Post("/index/refresh", h.Refresh)
			r.Post("/cache/invalidate", h.CacheInvalidate)
		})
	})
	return r
}
