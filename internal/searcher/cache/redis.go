package cache

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/resilience"
)

const keyPrefix = "hover:retrieve:"

// RedisBackend stores results in Redis under keyPrefix. Calls go through a
// circuit breaker so a dead Redis costs one fast error per query instead of
// a dial timeout.
type RedisBackend struct {
	client  *pkgredis.Client
	breaker *resilience.CircuitBreaker
}

// NewRedisBackend wraps client. m may be nil; when set, breaker transitions
// are exported as the circuit_breaker_state gauge.
func NewRedisBackend(client *pkgredis.Client, m *metrics.Metrics) *RedisBackend {
	cfg := resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
	if m != nil {
		m.CircuitBreakerState.WithLabelValues("redis-cache").Set(float64(resilience.StateClosed))
		cfg.OnStateChange = func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return &RedisBackend{
		client:  client,
		breaker: resilience.NewCircuitBreaker("redis-cache", cfg),
	}
}

func (b *RedisBackend) Name() string { return "redis" }

// Breaker exposes the circuit breaker for health reporting.
func (b *RedisBackend) Breaker() *resilience.CircuitBreaker {
	return b.breaker
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := resilience.Call(b.breaker, func() ([]byte, error) {
		v, err := b.client.Get(ctx, keyPrefix+key)
		if pkgredis.IsNilError(err) {
			return nil, nil
		}
		return v, err
	})
	if err != nil {
		return nil, false, err
	}
	return val, val != nil, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return b.breaker.Execute(func() error {
		return b.client.Set(ctx, keyPrefix+key, val, ttl)
	})
}

func (b *RedisBackend) Flush(ctx context.Context) (int64, error) {
	return resilience.Call(b.breaker, func() (int64, error) {
		return b.client.FlushByPattern(ctx, keyPrefix+"*")
	})
}

// Ping checks connectivity without going through the breaker.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx)
}
