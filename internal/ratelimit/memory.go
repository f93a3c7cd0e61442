package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	bucket    Bucket
	expiresAt time.Time
}

// MemoryCounterStore is an in-process CounterStore for tests and single-node
// runs. The mutex gives the same per-key atomicity the Redis script gives
// across instances.
type MemoryCounterStore struct {
	mu sync.Mutex
	m  map[string]memEntry
}

// NewMemoryCounterStore returns an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{m: make(map[string]memEntry)}
}

// Take refills and spends one token for key under lock.
func (s *MemoryCounterStore) Take(ctx context.Context, key string, lim Limit, now time.Time, ttl time.Duration) (Bucket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := Bucket{Tokens: lim.Burst, LastRefillAt: now}
	if e, ok := s.m[key]; ok && e.expiresAt.After(now) {
		bucket = e.bucket
	}
	tokens := refill(bucket, lim, now)
	allowed := tokens >= 1
	if allowed {
		tokens--
	}
	bucket = Bucket{Tokens: tokens, LastRefillAt: now}
	s.m[key] = memEntry{bucket: bucket, expiresAt: now.Add(ttl)}
	return bucket, allowed, nil
}

// Get returns the bucket for key if present and unexpired.
func (s *MemoryCounterStore) Get(ctx context.Context, key string) (Bucket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok || !e.expiresAt.After(time.Now().UTC()) {
		return Bucket{}, false, nil
	}
	return e.bucket, true, nil
}

// Delete drops the bucket for key.
func (s *MemoryCounterStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}
