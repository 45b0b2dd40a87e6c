package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/resilience"
)

func sampleResult() *executor.RetrievalResult {
	return &executor.RetrievalResult{
		Query:      "James Madison was president",
		Terms:      []string{"jame", "madison", "presid"},
		TotalHits:  2,
		Generation: 4,
		Hits: []executor.Hit{
			{DocID: "7", Title: "James Madison", Sentences: []string{"James Madison was the 4th president."}, Score: 12.345678901234567, URL: "https://en.wikipedia.org/wiki?curid=7"},
			{DocID: "9", Title: "Dolley Madison", Score: 3.5},
		},
	}
}

type failingBackend struct{ calls atomic.Int32 }

func (f *failingBackend) Name() string { return "failing" }
func (f *failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	f.calls.Add(1)
	return nil, false, errors.New("connection refused")
}
func (f *failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	f.calls.Add(1)
	return errors.New("connection refused")
}
func (f *failingBackend) Flush(context.Context) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestGetOrComputeMissThenHit(t *testing.T) {
	m := metrics.New()
	c := New(NewLRUBackend(16, time.Minute), time.Minute, m)
	ctx := context.Background()

	computes := 0
	compute := func() (*executor.RetrievalResult, error) {
		computes++
		return sampleResult(), nil
	}

	first, hit, err := c.GetOrCompute(ctx, "k1", compute)
	require.NoError(t, err)
	assert.False(t, hit)

	second, hit, err := c.GetOrCompute(ctx, "k1", compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, computes)
	assert.Equal(t, first, second, "cached result must round-trip exactly, scores included")

	hits, misses := c.Stats()
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 1, misses)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CacheHitsTotal), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CacheMissesTotal), 1e-9)
}

func TestGetOrComputeCollapsesConcurrentCallers(t *testing.T) {
	c := New(NewLRUBackend(16, time.Minute), time.Minute, nil)
	release := make(chan struct{})
	var computes atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := c.GetOrCompute(context.Background(), "same", func() (*executor.RetrievalResult, error) {
				computes.Add(1)
				<-release
				return sampleResult(), nil
			})
			assert.NoError(t, err)
			assert.Len(t, res.Hits, 2)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, computes.Load())
}

func TestComputeErrorsAreNotCached(t *testing.T) {
	c := New(NewLRUBackend(16, time.Minute), time.Minute, nil)
	boom := errors.New("index closed")

	_, _, err := c.GetOrCompute(context.Background(), "k", func() (*executor.RetrievalResult, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	res, hit, err := c.GetOrCompute(context.Background(), "k", func() (*executor.RetrievalResult, error) {
		return sampleResult(), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "7", res.Hits[0].DocID)
}

func TestBackendFailuresDegradeToCompute(t *testing.T) {
	backend := &failingBackend{}
	c := New(backend, time.Minute, nil)

	res, hit, err := c.GetOrCompute(context.Background(), "k", func() (*executor.RetrievalResult, error) {
		return sampleResult(), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, res.TotalHits)
	assert.Positive(t, backend.calls.Load())

	_, err = c.Invalidate(context.Background())
	assert.Error(t, err)
}

func TestLRUExpiryAndInvalidate(t *testing.T) {
	backend := NewLRUBackend(16, 30*time.Millisecond)
	c := New(backend, 30*time.Millisecond, nil)
	ctx := context.Background()

	c.Set(ctx, "a", sampleResult())
	c.Set(ctx, "b", sampleResult())
	assert.Equal(t, 2, backend.Len())

	n, err := c.Invalidate(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	c.Set(ctx, "c", sampleResult())
	time.Sleep(80 * time.Millisecond)
	_, ok = c.Get(ctx, "c")
	assert.False(t, ok, "entry should expire after the ttl")
}

func TestLRUEvictsBeyondSize(t *testing.T) {
	backend := NewLRUBackend(2, time.Minute)
	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, backend.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, backend.Set(ctx, "c", []byte("3"), 0))

	_, ok, _ := backend.Get(ctx, "a")
	assert.False(t, ok)
	v, ok, _ := backend.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, []byte("3"), v)
}

func TestRedisBackendBreakerOpensWhenUnreachable(t *testing.T) {
	m := metrics.New()
	client := pkgredis.Dial(config.RedisConfig{Addr: "127.0.0.1:1", PoolSize: 1})
	t.Cleanup(func() { client.Close() })
	backend := NewRedisBackend(client, m)
	c := New(backend, time.Minute, m)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		res, hit, err := c.GetOrCompute(ctx, "k", func() (*executor.RetrievalResult, error) {
			return sampleResult(), nil
		})
		require.NoError(t, err, "an unreachable cache must not fail the query")
		assert.False(t, hit)
		assert.Len(t, res.Hits, 2)
	}

	assert.Equal(t, resilience.StateOpen, backend.Breaker().GetState())
	_, _, err := backend.Get(ctx, "k")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.InDelta(t, float64(resilience.StateOpen),
		testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("redis-cache")), 1e-9)
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{Cache: config.CacheConfig{Backend: "none"}}
	c, err := FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	cfg.Cache = config.CacheConfig{Backend: "lru", Size: 8, TTL: time.Minute}
	c, err = FromConfig(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "lru", c.Backend().Name())

	cfg.Cache.Backend = "memcached"
	_, err = FromConfig(cfg, nil)
	assert.Error(t, err)
}
