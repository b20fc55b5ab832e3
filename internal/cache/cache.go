//go:generate go run go.uber.org/mock/mockgen -source=cache.go -destination=../mocks/mock_cache.go -package=mocks

// Package cache is the profile cache that readers consult before the registry.
// After the registry changes, the maintenance task drops a whole category so
// readers re-fetch fresh records.
package cache

import (
	"context"
	"sync"
)

// Category groups cache entries that are invalidated together.
type Category string

// CategoryProfiles holds rendered peer profiles keyed by identity.
const CategoryProfiles Category = "profiles"

// Cache is the external cache subsystem.
type Cache interface {
	Get(ctx context.Context, category Category, key string) ([]byte, bool, error)
	Put(ctx context.Context, category Category, key string, value []byte) error
	// EvictCategory drops every entry of category and returns how many were removed.
	EvictCategory(ctx context.Context, category Category) (int, error)
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[Category]map[string][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[Category]map[string][]byte)}
}

func (c *MemoryCache) Get(_ context.Context, category Category, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.entries[category][key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (c *MemoryCache) Put(_ context.Context, category Category, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.entries[category]
	if !ok {
		bucket = make(map[string][]byte)
		c.entries[category] = bucket
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	bucket[key] = stored
	return nil
}

func (c *MemoryCache) EvictCategory(_ context.Context, category Category) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries[category])
	delete(c.entries, category)
	return n, nil
}
