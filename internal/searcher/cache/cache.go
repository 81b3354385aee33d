// Package cache memoises search results per index generation. Results live
// in an in-process LRU and, when configured, in Redis so that every searchd
// replica reading the same index shares them. Keys embed the snapshot
// generation, so a refresh makes older entries unreachable without any
// explicit invalidation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/segdex/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/resilience"
)

const keyPrefix = "search:"

// DefaultEntries bounds the in-process cache.
const DefaultEntries = 1024

// Remote is a shared byte cache. *pkgredis.Client satisfies it.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key identifies one cacheable search.
type Key struct {
	Index      string
	Generation uint64
	Query      string // canonical form
	Limit      int
}

func (k Key) sum() [32]byte {
	h := sha256.New()
	h.Write([]byte(k.Index))
	h.Write([]byte{0})
	h.Write(strconv.AppendUint(nil, k.Generation, 10))
	h.Write([]byte{0})
	h.Write([]byte(k.Query))
	h.Write([]byte{0})
	h.Write(strconv.AppendInt(nil, int64(k.Limit), 10))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func remoteKey(sum [32]byte) string {
	return keyPrefix + hex.EncodeToString(sum[:16])
}

type QueryCache struct {
	local   *lru.Cache[[32]byte, *executor.SearchResult]
	remote  Remote
	ttl     time.Duration
	group   singleflight.Group
	hits    atomic.Int64
	misses  atomic.Int64
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a cache holding up to entries results in memory. remote may
// be nil.
func New(entries int, remote Remote, ttl time.Duration) (*QueryCache, error) {
	if entries <= 0 {
		entries = DefaultEntries
	}
	local, err := lru.New[[32]byte, *executor.SearchResult](entries)
	if err != nil {
		return nil, fmt.Errorf("creating lru cache: %w", err)
	}
	return &QueryCache{
		local:   local,
		remote:  remote,
		ttl:     ttl,
		logger:  slog.Default().With("component", "query-cache"),
		metrics: metrics.Get(),
	}, nil
}

// Get looks key up locally, then remotely. Remote hits are promoted to the
// local cache.
func (c *QueryCache) Get(ctx context.Context, key Key) (*executor.SearchResult, bool) {
	sum := key.sum()
	if result, ok := c.local.Get(sum); ok {
		c.hit()
		return result, true
	}
	if c.remote != nil {
		rk := remoteKey(sum)
		data, err := c.remote.Get(ctx, rk)
		switch {
		case err == nil:
			var result executor.SearchResult
			if err := json.Unmarshal(data, &result); err != nil {
				c.logger.Error("cache unmarshal failed", "key", rk, "error", err)
				break
			}
			c.local.Add(sum, &result)
			c.hit()
			return &result, true
		case !pkgredis.IsNilError(err):
			c.logger.Error("cache get failed", "key", rk, "error", err)
		}
	}
	c.misses.Add(1)
	c.metrics.CacheMissesTotal.Inc()
	return nil, false
}

func (c *QueryCache) hit() {
	c.hits.Add(1)
	c.metrics.CacheHitsTotal.Inc()
}

// Set stores result under key. Remote failures are logged, not returned.
func (c *QueryCache) Set(ctx context.Context, key Key, result *executor.SearchResult) {
	sum := key.sum()
	c.local.Add(sum, result)
	if c.remote == nil {
		return
	}
	rk := remoteKey(sum)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", rk, "error", err)
		return
	}
	if err := c.remote.Set(ctx, rk, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", rk, "error", err)
	}
}

// GetOrCompute returns the cached result for key or runs compute once for
// all concurrent callers asking for the same key. The boolean reports a
// cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	key Key,
	compute func() (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, key); ok {
		return result, true, nil
	}
	sum := key.sum()
	val, err, _ := c.group.Do(string(sum[:]), func() (any, error) {
		if result, ok := c.local.Get(sum); ok {
			return result, nil
		}
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.SearchResult), false, nil
}

// Invalidate drops every cached result, locally and remotely.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	dropped := int64(c.local.Len())
	c.local.Purge()
	if c.remote != nil {
		deleted, err := c.remote.FlushByPattern(ctx, keyPrefix+"*")
		if err != nil {
			return dropped, fmt.Errorf("invalidating cache: %w", err)
		}
		dropped += deleted
	}
	c.logger.Info("cache invalidated", "entries_dropped", dropped)
	return dropped, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

type guardedRemote struct {
	remote Remote
	cb     *resilience.CircuitBreaker
}

// Guard routes remote calls through cb so that an unreachable Redis is
// skipped for the breaker's reset timeout instead of costing a network
// timeout on every query. Cache misses do not count as failures.
func Guard(remote Remote, cfg resilience.CircuitBreakerConfig) Remote {
	cfg.IsFailure = func(err error) bool { return !pkgredis.IsNilError(err) }
	return &guardedRemote{remote: remote, cb: resilience.NewCircuitBreaker("query-cache", cfg)}
}

func (g *guardedRemote) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := g.cb.Execute(func() error {
		var err error
		data, err = g.remote.Get(ctx, key)
		return err
	})
	return data, err
}

func (g *guardedRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return g.cb.Execute(func() error {
		return g.remote.Set(ctx, key, value, ttl)
	})
}

func (g *guardedRemote) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	var n int64
	err := g.cb.Execute(func() error {
		var err error
		n, err = g.remote.FlushByPattern(ctx, pattern)
		return err
	})
	return n, err
}
