package repository

import (
	"context"
	"sync"

	"tdlib-gateway/internal/audit/domain"
)

// MemoryRepository is an in-memory Repository for tests and db-less runs.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []*domain.AuditLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.entries {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) ListByHandle(_ context.Context, handleID string, limit, offset int32) ([]*domain.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*domain.AuditLog
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].HandleID == handleID {
			matched = append(matched, r.entries[i])
		}
	}
	if offset >= int32(len(matched)) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < int32(len(matched)) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *MemoryRepository) Create(_ context.Context, a *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, a)
	return nil
}
