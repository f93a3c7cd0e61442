// Package pool bounds and reuses live native TDLib handles. The pool owns
// its entry map behind one mutex and is constructed once and injected; no
// process-wide registry.
package pool

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"tdlib-gateway/internal/tdlib"
	"tdlib-gateway/internal/telemetry"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("pool: closed")

// Config tunes the pool bounds.
type Config struct {
	// MaxSize is the hard capacity; reaching it evicts the LRU entry.
	MaxSize int
	// MaxIdle is how long an entry may sit unused before the sweep removes it.
	MaxIdle time.Duration
	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration
}

type entry struct {
	handleID   string
	createdAt  time.Time
	lastUsedAt time.Time
	useCount   int64
	healthy    bool
}

// Stats is a read-only view of the pool.
type Stats struct {
	Size        int
	Healthy     int
	Unhealthy   int
	AvgUseCount float64
}

// Pool manages bounded reuse of native handles.
type Pool struct {
	client  tdlib.Client
	prober  tdlib.HealthProber
	cfg     Config
	metrics *telemetry.Metrics
	nowF    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// New returns an empty pool. metrics may be nil.
func New(client tdlib.Client, prober tdlib.HealthProber, cfg Config, metrics *telemetry.Metrics) *Pool {
	return &Pool{
		client:  client,
		prober:  prober,
		cfg:     cfg,
		metrics: metrics,
		nowF:    utcNow,
		entries: make(map[string]*entry),
	}
}

func utcNow() time.Time { return time.Now().UTC() }

// Acquire returns a live handle id. A known healthy handleID is reused; a
// known unhealthy one is replaced. When the pool is full, the
// least-recently-used entry is evicted first — exactly one per call. A
// native creation failure propagates to the caller.
func (p *Pool) Acquire(ctx context.Context, handleID string) (string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}

	var victims []string
	if e, ok := p.entries[handleID]; ok {
		if e.healthy {
			e.lastUsedAt = p.nowF()
			e.useCount++
			p.metrics.PoolAcquire(ctx, "reused")
			p.mu.Unlock()
			return e.handleID, nil
		}
		p.dropLocked(ctx, handleID, "unhealthy")
		victims = append(victims, handleID)
	}

	if len(p.entries) >= p.cfg.MaxSize {
		if v := p.evictLRULocked(ctx); v != "" {
			victims = append(victims, v)
		}
	}

	id, err := p.client.CreateHandle(ctx)
	if err != nil {
		p.mu.Unlock()
		p.destroyAll(ctx, victims, "evicted")
		return "", err
	}
	now := p.nowF()
	p.entries[id] = &entry{
		handleID:   id,
		createdAt:  now,
		lastUsedAt: now,
		useCount:   1,
		healthy:    true,
	}
	p.metrics.PoolAcquire(ctx, "created")
	p.metrics.PoolSizeAdd(ctx, 1)
	p.mu.Unlock()
	p.destroyAll(ctx, victims, "evicted")
	return id, nil
}

// Release marks the entry idle, updating lastUsedAt. Unknown ids are a
// no-op.
func (p *Pool) Release(handleID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[handleID]; ok {
		e.lastUsedAt = p.nowF()
	}
}

// Remove destroys the native handle and drops the entry. Destruction errors
// are logged, not returned; removal of an unknown id is a no-op. Safe to
// call concurrently with an in-flight poll for the same handle.
func (p *Pool) Remove(ctx context.Context, handleID string) {
	p.mu.Lock()
	_, ok := p.entries[handleID]
	if ok {
		p.dropLocked(ctx, handleID, "explicit")
	}
	p.mu.Unlock()
	if ok {
		p.destroy(ctx, handleID, "explicit")
	}
}

// MarkUnhealthy flags the entry so the next Acquire replaces it and the next
// sweep removes it.
func (p *Pool) MarkUnhealthy(handleID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[handleID]; ok {
		e.healthy = false
	}
}

// Contains reports whether handleID is currently pooled.
func (p *Pool) Contains(handleID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[handleID]
	return ok
}

// Stats returns a read-only snapshot with no side effects.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Size: len(p.entries)}
	var totalUse int64
	for _, e := range p.entries {
		if e.healthy {
			s.Healthy++
		} else {
			s.Unhealthy++
		}
		totalUse += e.useCount
	}
	if s.Size > 0 {
		s.AvgUseCount = float64(totalUse) / float64(s.Size)
	}
	return s
}

// Sweep removes entries idle past MaxIdle and probes the rest, removing any
// that fail the probe. One entry's failure never stops the sweep.
func (p *Pool) Sweep(ctx context.Context) {
	p.mu.Lock()
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.sweepOne(ctx, id)
	}
}

func (p *Pool) sweepOne(ctx context.Context, handleID string) {
	p.mu.Lock()
	e, ok := p.entries[handleID]
	if !ok {
		p.mu.Unlock()
		return
	}
	if !e.healthy || p.nowF().Sub(e.lastUsedAt) > p.cfg.MaxIdle {
		p.dropLocked(ctx, handleID, "idle")
		p.mu.Unlock()
		p.destroy(ctx, handleID, "idle")
		return
	}
	p.mu.Unlock()

	// Probe outside the lock; the native round-trip must not block the pool.
	healthy, err := p.prober.CheckHealth(ctx, handleID)
	if err != nil {
		log.Printf("pool: health probe failed for %s: %v", handleID, err)
		healthy = false
	}
	if healthy {
		return
	}
	p.mu.Lock()
	_, ok = p.entries[handleID]
	if ok {
		p.dropLocked(ctx, handleID, "unhealthy")
	}
	p.mu.Unlock()
	if ok {
		p.destroy(ctx, handleID, "unhealthy")
	}
}

// Start runs the background sweep until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Sweep(ctx)
			}
		}
	}()
}

// Close destroys every entry and rejects further acquires. Idempotent.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	for _, id := range ids {
		p.dropLocked(ctx, id, "close")
	}
	p.mu.Unlock()
	p.destroyAll(ctx, ids, "close")
}

// evictLRULocked drops the single least-recently-used entry and returns its
// id for deferred destruction. Caller holds the mutex.
func (p *Pool) evictLRULocked(ctx context.Context) string {
	var victim string
	var oldest time.Time
	for id, e := range p.entries {
		if victim == "" || e.lastUsedAt.Before(oldest) {
			victim = id
			oldest = e.lastUsedAt
		}
	}
	if victim != "" {
		p.dropLocked(ctx, victim, "lru")
	}
	return victim
}

// dropLocked removes the entry and records the eviction. Caller holds the
// mutex and must destroy the native handle after releasing it; a slow
// native teardown must not block the pool.
func (p *Pool) dropLocked(ctx context.Context, handleID, reason string) {
	delete(p.entries, handleID)
	p.metrics.PoolEviction(ctx, reason)
	p.metrics.PoolSizeAdd(ctx, -1)
}

// destroy tears down the native handle best-effort. Called without the
// mutex.
func (p *Pool) destroy(ctx context.Context, handleID, reason string) {
	if err := p.client.DestroyHandle(ctx, handleID); err != nil {
		log.Printf("pool: destroy %s (%s): %v", handleID, reason, err)
	}
}

func (p *Pool) destroyAll(ctx context.Context, handleIDs []string, reason string) {
	for _, id := range handleIDs {
		p.destroy(ctx, id, reason)
	}
}
