// Package cache provides the fast tier of the session store: a key/value
// store with per-key TTL. The Redis implementation backs production; the
// memory implementation backs tests and single-node runs.
package cache

import (
	"context"
	"time"
)

// Cache is a key/value store with TTL. Get returns ok=false for a missing
// or expired key; an error only for store failures.
type Cache interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
