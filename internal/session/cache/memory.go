package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is an in-memory Cache implementation with expiry on read.
type MemoryCache struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		m:    make(map[string]entry),
		nowF: utcNow,
	}
}

func utcNow() time.Time { return time.Now().UTC() }

// Get returns the value for key if present and not expired.
func (c *MemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.After(c.nowF()) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value for key until ttl elapses.
func (c *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = entry{value: value, expiresAt: c.nowF().Add(ttl)}
	return nil
}

// Delete removes key.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

// Flush drops every entry. Tests use it to simulate a cache restart.
func (c *MemoryCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string]entry)
}

// Close is a no-op for the memory cache.
func (c *MemoryCache) Close() error { return nil }
