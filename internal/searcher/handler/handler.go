// Package handler serves the searchd HTTP API over a searcher.Manager.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/semaphore"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/segdex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/tracing"
)

// Snapshots hands out searchers and refreshes them. *searcher.Manager
// satisfies it.
type Snapshots interface {
	Acquire() (*searcher.Searcher, func(), error)
	Refresh() (bool, error)
	Generation() uint64
}

type Handler struct {
	snapshots    Snapshots
	cache        *cache.QueryCache
	slots        *semaphore.Weighted
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// New creates a Handler. queryCache may be nil.
func New(snapshots Snapshots, queryCache *cache.QueryCache, cfg config.SearchConfig) *Handler {
	slots := cfg.MaxConcurrentQueries
	if slots <= 0 {
		slots = 64
	}
	return &Handler{
		snapshots:    snapshots,
		cache:        queryCache,
		slots:        semaphore.NewWeighted(int64(slots)),
		defaultLimit: cfg.DefaultLimit,
		maxResults:   cfg.MaxResults,
		logger:       slog.Default().With("component", "search-handler"),
		metrics:      metrics.Get(),
	}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracing.Start(r.Context(), "search")
	log := logger.FromContext(ctx)
	defer func() {
		span.End()
		span.Log(ctx, log)
	}()

	text := r.URL.Query().Get("q")
	if text == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit := h.defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if h.maxResults > 0 && limit > h.maxResults {
		limit = h.maxResults
	}

	if err := h.slots.Acquire(ctx, 1); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "search capacity exhausted")
		return
	}
	defer h.slots.Release(1)

	s, release, err := h.snapshots.Acquire()
	if err != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		h.writeError(w, http.StatusServiceUnavailable, "index not ready")
		return
	}
	defer release()

	_, parseSpan := tracing.Start(ctx, "parse")
	q, err := s.Parse(text)
	parseSpan.End()
	if err != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues("invalid").Inc()
		h.writeAppError(w, err)
		return
	}

	cacheStatus := "disabled"
	var result *executor.SearchResult
	if h.cache != nil {
		key := cache.Key{Index: s.Path(), Generation: s.Generation(), Query: q.String(), Limit: limit}
		var hit bool
		result, hit, err = h.cache.GetOrCompute(ctx, key, func() (*executor.SearchResult, error) {
			return h.execute(ctx, s, q, limit)
		})
		cacheStatus = "miss"
		if hit {
			cacheStatus = "hit"
		}
	} else {
		result, err = h.execute(ctx, s, q, limit)
	}
	span.SetAttr("cache", cacheStatus)
	if err != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		log.Error("search execution failed", "query", text, "error", err)
		h.writeAppError(w, err)
		return
	}

	resultType := "hit"
	if len(result.Results) == 0 {
		resultType = "empty"
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	h.metrics.SearchResultsCount.Observe(float64(len(result.Results)))
	log.Info("search completed",
		"query", result.Query,
		"generation", s.Generation(),
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache", cacheStatus,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) execute(ctx context.Context, s *searcher.Searcher, q parser.Query, limit int) (*executor.SearchResult, error) {
	ctx, span := tracing.Start(ctx, "execute")
	defer span.End()
	span.SetAttr("generation", s.Generation())
	return s.Execute(ctx, q, limit)
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, release, err := h.snapshots.Acquire()
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "index not ready")
		return
	}
	defer release()

	fields, ok := s.Document(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("document %q not found", id))
		return
	}
	h.writeJSON(w, http.StatusOK, fields)
}

func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	s, release, err := h.snapshots.Acquire()
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "index not ready")
		return
	}
	defer release()
	h.writeJSON(w, http.StatusOK, s.Stats())
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	swapped, err := h.snapshots.Refresh()
	if err != nil {
		logger.FromContext(r.Context()).Error("manual refresh failed", "error", err)
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"swapped":    swapped,
		"generation": h.snapshots.Generation(),
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	dropped, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "dropped": dropped})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError maps typed index errors to statuses. Syntax errors carry
// their position so clients can point at the offending token.
func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	body := map[string]any{"error": err.Error()}
	var syntax *parser.SyntaxError
	if errors.As(err, &syntax) {
		body["token"] = syntax.Token
		body["position"] = syntax.Pos
	}
	h.writeJSON(w, apperrors.HTTPStatusCode(err), body)
}
