package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/coreauth/coreauth/internal/store"
)

var _ store.Cache = (*Cache)(nil)

type cacheEntry struct {
	value   []byte
	counter int64
	expiry  time.Time
}

// Cache is a mutex-protected, map-backed store.Cache, used by tests and by
// single-process deployments in place of Redis.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewCache returns an empty in-memory cache using time.Now for expiry decisions.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry), now: func() time.Time { return time.Now().UTC() }}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiry) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiry: c.now().Add(ttl)}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *Cache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			n++
		}
	}
	return n, nil
}

func (c *Cache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiry) {
		e = cacheEntry{expiry: c.now().Add(ttl)}
	}
	e.counter++
	c.entries[key] = e
	return e.counter, nil
}
