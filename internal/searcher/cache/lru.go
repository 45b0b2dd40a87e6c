package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultLRUSize is used when a non-positive size is configured.
const DefaultLRUSize = 4096

// LRUBackend keeps encoded results in process memory. Entries expire after
// the TTL given at construction; the per-Set ttl is ignored.
type LRUBackend struct {
	lru *expirable.LRU[string, []byte]
}

func NewLRUBackend(size int, ttl time.Duration) *LRUBackend {
	if size <= 0 {
		size = DefaultLRUSize
	}
	return &LRUBackend{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (b *LRUBackend) Name() string { return "lru" }

func (b *LRUBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := b.lru.Get(key)
	return v, ok, nil
}

func (b *LRUBackend) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	b.lru.Add(key, val)
	return nil
}

func (b *LRUBackend) Flush(context.Context) (int64, error) {
	n := b.lru.Len()
	b.lru.Purge()
	return int64(n), nil
}

// Len reports the number of live entries.
func (b *LRUBackend) Len() int {
	return b.lru.Len()
}
