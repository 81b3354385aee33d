package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/middleware"
)

func addDocs(t *testing.T, dir string, docs map[string]string) {
	t.Helper()
	cfg := config.Default().Index
	cfg.DataDir = dir
	w, err := indexer.Open(cfg)
	require.NoError(t, err)
	for id, text := range docs {
		require.NoError(t, w.AddDocument(document.Document{ID: id, Fields: map[string]string{"body": text}}))
	}
	require.NoError(t, w.Close())
}

type fixture struct {
	dir    string
	mgr    *searcher.Manager
	cache  *cache.QueryCache
	router http.Handler
}

func newFixture(t *testing.T, docs map[string]string) *fixture {
	t.Helper()
	dir := t.TempDir()
	if docs != nil {
		addDocs(t, dir, docs)
	}
	mgr, err := searcher.NewManager(dir)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	qc, err := cache.New(64, nil, time.Minute)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Server.RateLimit = 0
	checker := health.NewChecker()
	checker.Register("index", health.IndexCheck(mgr.Ready, mgr.Generation))
	h := New(mgr, qc, cfg.Search)
	return &fixture{dir: dir, mgr: mgr, cache: qc, router: NewRouter(h, checker, cfg.Server)}
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t, map[string]string{"1": "the quick fox", "2": "the lazy dog"})

	rec := f.do(t, http.MethodGet, "/api/v1/search?q=the&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	var res executor.SearchResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.Len(t, res.Results, 2)
	assert.Equal(t, "1", res.Results[0].DocID)
	assert.Equal(t, "2", res.Results[1].DocID)
	assert.Equal(t, "fulltext:the", res.Query)

	rec = f.do(t, http.MethodGet, "/api/v1/search?q=the&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	hits, _ := f.cache.Stats()
	assert.Equal(t, int64(1), hits)
}

func TestSearchValidation(t *testing.T) {
	f := newFixture(t, map[string]string{"1": "x"})

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/search").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/search?q=x&limit=-1").Code)

	rec := f.do(t, http.MethodGet, "/api/v1/search?q=x+AND")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "AND", body["token"])
	assert.Equal(t, 2.0, body["position"])
}

func TestDocumentEndpoint(t *testing.T) {
	f := newFixture(t, map[string]string{"doc-1": "hello"})

	rec := f.do(t, http.MethodGet, "/api/v1/documents/doc-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var fields map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&fields))
	assert.Equal(t, "hello", fields["body"])

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/documents/nope").Code)
}

func TestStatsAndRefresh(t *testing.T) {
	f := newFixture(t, map[string]string{"1": "one"})

	rec := f.do(t, http.MethodGet, "/api/v1/index/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats searcher.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 1, stats.LiveDocs)

	addDocs(t, f.dir, map[string]string{"2": "two"})
	rec = f.do(t, http.MethodPost, "/api/v1/index/refresh")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"swapped":true,"generation":2}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/search?q=two")
	require.Equal(t, http.StatusOK, rec.Code)
	var res executor.SearchResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.Len(t, res.Results, 1)
	assert.Equal(t, "2", res.Results[0].DocID)
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t, map[string]string{"1": "one"})
	f.do(t, http.MethodGet, "/api/v1/search?q=one")

	rec := f.do(t, http.MethodPost, "/api/v1/cache/invalidate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"invalidated","dropped":1}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/cache/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 1.0, stats["misses"])
}

func TestNotReady(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/api/v1/search?q=x").Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/health/ready").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/live").Code)

	addDocs(t, f.dir, map[string]string{"1": "x"})
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/index/refresh").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/ready").Code)
}

func TestAdminRoutesRequireKey(t *testing.T) {
	f := newFixture(t, map[string]string{"1": "fox"})
	cfg := config.Default()
	cfg.Server.RateLimit = 0
	cfg.Server.AdminKeyHashes = []string{middleware.HashKey("ops-key")}
	router := NewRouter(New(f.mgr, f.cache, cfg.Search), health.NewChecker(), cfg.Server)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/index/refresh", nil)
	req.Header.Set("X-API-Key", "ops-key")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=fox", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
