// Package cache memoizes retrieval results. A QueryCache sits in front of a
// Backend (an in-process expirable LRU or Redis), collapses concurrent
// identical queries with singleflight, and never fails a query because the
// backend is unavailable: backend errors are logged and treated as misses.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/redis"
	"golang.org/x/sync/singleflight"
)

// Backend stores encoded results. Get reports a miss with ok=false and a nil
// error.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Flush(ctx context.Context) (int64, error)
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

var _ executor.Cache = (*QueryCache)(nil)

// New wraps backend. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache", "backend", backend.Name()),
	}
}

// FromConfig builds the cache selected by cfg.Cache.Backend. It returns nil
// for "none" or an empty backend; callers then run without a cache.
func FromConfig(cfg *config.Config, m *metrics.Metrics) (*QueryCache, error) {
	switch cfg.Cache.Backend {
	case "", "none":
		return nil, nil
	case "lru":
		return New(NewLRUBackend(cfg.Cache.Size, cfg.Cache.TTL), cfg.Cache.TTL, m), nil
	case "redis":
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connecting query cache: %w", err)
		}
		return New(NewRedisBackend(client, m), cfg.Cache.TTL, m), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// Backend returns the underlying store.
func (c *QueryCache) Backend() Backend {
	return c.backend
}

// Get returns the cached result for key.
func (c *QueryCache) Get(ctx context.Context, key string) (*executor.RetrievalResult, bool) {
	result, ok := c.lookup(ctx, key)
	if !ok {
		c.misses.Add(1)
		if c.metrics != nil {
			c.metrics.CacheMissesTotal.Inc()
		}
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "key", key)
	return result, true
}

func (c *QueryCache) lookup(ctx context.Context, key string) (*executor.RetrievalResult, bool) {
	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var result executor.RetrievalResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return &result, true
}

// Set stores result under key. Failures are logged, not returned.
func (c *QueryCache) Set(ctx context.Context, key string, result *executor.RetrievalResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for key or runs compute once for
// all concurrent callers asking for the same key.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	key string,
	compute func() (*executor.RetrievalResult, error),
) (*executor.RetrievalResult, bool, error) {
	if result, ok := c.Get(ctx, key); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		// A flight that finished just before this one already stored it.
		if result, ok := c.lookup(ctx, key); ok {
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
	return val.(*executor.RetrievalResult), false, nil
}

// Invalidate drops every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.backend.Flush(ctx)
	if err != nil {
		return 0, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return deleted, nil
}

// Stats returns the hit and miss counts since creation.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
