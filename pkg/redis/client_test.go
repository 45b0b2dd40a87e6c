package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/config"
)

func TestIsNilError(t *testing.T) {
	assert.True(t, IsNilError(goredis.Nil))
	assert.True(t, IsNilError(fmt.Errorf("get: %w", goredis.Nil)))
	assert.False(t, IsNilError(nil))
	assert.False(t, IsNilError(context.DeadlineExceeded))
}

func TestUnreachableServer(t *testing.T) {
	cfg := config.RedisConfig{Addr: "127.0.0.1:1", PoolSize: 1}

	_, err := NewClient(cfg)
	assert.ErrorContains(t, err, "redis at 127.0.0.1:1 unreachable")

	c := Dial(cfg)
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = c.Get(ctx, "k")
	require.Error(t, err)
	assert.False(t, IsNilError(err))
}

func TestDialKeepsAddress(t *testing.T) {
	c := Dial(config.RedisConfig{Addr: "cache.internal:6380"})
	defer c.Close()
	assert.Equal(t, "cache.internal:6380", c.Addr())
	assert.NoError(t, c.Del(context.Background()), "deleting no keys is a no-op")
}
