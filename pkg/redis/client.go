// Package redis is the shared query cache store: byte values with a TTL,
// prefix invalidation after a new index generation, and a PING probe for
// the health endpoint.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/config"
	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint for SCAN and the most keys unlinked per call.
const scanBatch = 500

type Client struct {
	rdb  *redis.Client
	addr string
}

// NewClient connects and verifies the server answers PING within five
// seconds.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	c := Dial(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis at %s unreachable: %w", cfg.Addr, err)
	}
	return c, nil
}

// Dial creates a client without contacting the server. Connections open
// lazily. Timeouts are short: a slow cache is worse than a cache miss.
func Dial(cfg config.RedisConfig) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		DialTimeout:     2 * time.Second,
		ReadTimeout:     500 * time.Millisecond,
		WriteTimeout:    500 * time.Millisecond,
		ConnMaxIdleTime: 5 * time.Minute,
		MaxRetries:      1,
	})
	return &Client{rdb: rdb, addr: cfg.Addr}
}

func (c *Client) Addr() string {
	return c.addr
}

// Get returns the value at key, or an error satisfying IsNilError when the
// key does not exist.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	return c.rdb.Get(ctx, key).Bytes()
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// FlushByPattern unlinks every key matching the glob pattern, one SCAN page
// at a time, and returns how many keys were removed. Keys written during the
// scan may survive.
func (c *Client) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("scanning %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Unlink(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("unlinking %d keys: %w", len(keys), err)
			}
			deleted += n
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

// IsNilError reports whether err means the key does not exist.
func IsNilError(err error) bool {
	return errors.Is(err, redis.Nil)
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
