package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository for tests and storeless runs.
type MemoryRepository struct {
	mu sync.RWMutex
	m  map[string]*Record
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]*Record)}
}

// Upsert inserts or replaces the row for r.HandleID.
func (r *MemoryRepository) Upsert(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.m[rec.HandleID] = &cp
	return nil
}

// GetByHandle returns the row for handleID, or nil if not found.
func (r *MemoryRepository) GetByHandle(ctx context.Context, handleID string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.m[handleID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// ListByAccount returns active rows linked to accountID.
func (r *MemoryRepository) ListByAccount(ctx context.Context, accountID string) ([]*Record, error) {
	return r.filter(func(rec *Record) bool { return rec.Active && rec.AccountID == accountID }), nil
}

// ListByOwner returns active rows owned by ownerUserID.
func (r *MemoryRepository) ListByOwner(ctx context.Context, ownerUserID string) ([]*Record, error) {
	return r.filter(func(rec *Record) bool { return rec.Active && rec.OwnerUserID == ownerUserID }), nil
}

// ListActive returns every active row.
func (r *MemoryRepository) ListActive(ctx context.Context) ([]*Record, error) {
	return r.filter(func(rec *Record) bool { return rec.Active }), nil
}

// MarkInactive flags the row for handleID as inactive.
func (r *MemoryRepository) MarkInactive(ctx context.Context, handleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.m[handleID]; ok {
		rec.Active = false
	}
	return nil
}

// MarkInactiveOlderThan flags rows whose last_used_at predates cutoff.
func (r *MemoryRepository) MarkInactiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.m {
		if rec.Active && rec.LastUsedAt.Before(cutoff) {
			rec.Active = false
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) filter(keep func(*Record) bool) []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Record
	for _, rec := range r.m {
		if keep(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out
}
