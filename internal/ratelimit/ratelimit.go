// Package ratelimit implements a token-bucket rate limiter backed by a
// shared counter store, so that every gateway instance draws from the same
// per-key budget. The limiter is protective, not billing: if the counter
// store is unreachable it fails open.
package ratelimit

import (
	"context"
	"log"
	"time"
)

// idleKeyTTL bounds how long an untouched bucket survives in the counter
// store before expiring.
const idleKeyTTL = time.Hour

// Limit describes one token bucket: sustained rate and burst capacity.
type Limit struct {
	PerSecond float64
	Burst     float64
}

// Bucket is the persisted per-key state.
type Bucket struct {
	Tokens       float64
	LastRefillAt time.Time
}

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed    bool
	Remaining  float64
	ResetAt    time.Time
	RetryAfter time.Duration // zero when allowed
}

// CounterStore persists buckets. Take must apply refill and spend in a
// single atomic step per key so two instances cannot both spend the last
// token.
type CounterStore interface {
	// Take refills the bucket for key at lim's rate, spends one token if at
	// least one is available, persists the result with ttl, and returns the
	// post-call bucket plus whether the token was granted.
	Take(ctx context.Context, key string, lim Limit, now time.Time, ttl time.Duration) (Bucket, bool, error)
	// Get returns the current bucket without modifying it.
	Get(ctx context.Context, key string) (Bucket, bool, error)
	// Delete drops the bucket for key.
	Delete(ctx context.Context, key string) error
}

// Limiter checks per-key token buckets against a shared counter store.
type Limiter struct {
	store CounterStore
	nowF  func() time.Time
}

// New returns a limiter on the given counter store.
func New(store CounterStore) *Limiter {
	return &Limiter{store: store, nowF: utcNow}
}

func utcNow() time.Time { return time.Now().UTC() }

// Check spends one token for key under lim. When the counter store is
// unreachable the request is allowed and the error logged: availability of
// the gateway is worth more than strict enforcement.
func (l *Limiter) Check(ctx context.Context, key string, lim Limit) Decision {
	now := l.nowF()
	bucket, allowed, err := l.store.Take(ctx, key, lim, now, idleKeyTTL)
	if err != nil {
		log.Printf("ratelimit: counter store unavailable for %s, failing open: %v", key, err)
		return Decision{Allowed: true, Remaining: lim.Burst, ResetAt: now}
	}
	d := Decision{
		Allowed:   allowed,
		Remaining: bucket.Tokens,
		ResetAt:   now.Add(refillDuration(lim, lim.Burst-bucket.Tokens)),
	}
	if !allowed {
		d.RetryAfter = refillDuration(lim, 1-bucket.Tokens)
	}
	return d
}

// Reset drops the bucket for key, returning it to full burst on next use.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Delete(ctx, key)
}

// Status reports the bucket for key without spending a token. A key that
// has never been used reports a full bucket.
func (l *Limiter) Status(ctx context.Context, key string, lim Limit) (Decision, error) {
	now := l.nowF()
	bucket, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{Allowed: true, Remaining: lim.Burst, ResetAt: now}, nil
	}
	tokens := refill(bucket, lim, now)
	return Decision{
		Allowed:   tokens >= 1,
		Remaining: tokens,
		ResetAt:   now.Add(refillDuration(lim, lim.Burst-tokens)),
	}, nil
}

// refill advances bucket to now at lim's rate, capped at burst.
func refill(b Bucket, lim Limit, now time.Time) float64 {
	elapsed := now.Sub(b.LastRefillAt)
	if elapsed < 0 {
		elapsed = 0
	}
	tokens := b.Tokens + elapsed.Seconds()*lim.PerSecond
	if tokens > lim.Burst {
		tokens = lim.Burst
	}
	return tokens
}

// refillDuration is how long lim takes to accrue the given token deficit.
func refillDuration(lim Limit, deficit float64) time.Duration {
	if deficit <= 0 || lim.PerSecond <= 0 {
		return 0
	}
	return time.Duration(deficit / lim.PerSecond * float64(time.Second))
}

// KeyHandle scopes a bucket to one handle.
func KeyHandle(handleID string) string {
	return "handle:" + handleID
}

// KeyHandleMethod scopes a bucket to one method on one handle.
func KeyHandleMethod(handleID, method string) string {
	return "handle:" + handleID + ":method:" + method
}
