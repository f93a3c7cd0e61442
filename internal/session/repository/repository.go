package repository

import (
	"context"
	"time"
)

// Record is one durable-tier session row. Payload is the sealed session blob
// as written by the session store; the repository treats it as opaque.
type Record struct {
	HandleID    string
	AccountID   string
	OwnerUserID string
	Subject     string
	Payload     string
	Active      bool
	LastUsedAt  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Repository defines persistence for session backups in the durable tier.
type Repository interface {
	// Upsert inserts or replaces the row for r.HandleID.
	Upsert(ctx context.Context, r *Record) error
	// GetByHandle returns the row for handleID, or nil if not found.
	GetByHandle(ctx context.Context, handleID string) (*Record, error)
	// ListByAccount returns active rows linked to accountID.
	ListByAccount(ctx context.Context, accountID string) ([]*Record, error)
	// ListByOwner returns active rows owned by ownerUserID.
	ListByOwner(ctx context.Context, ownerUserID string) ([]*Record, error)
	// ListActive returns every active row.
	ListActive(ctx context.Context) ([]*Record, error)
	// MarkInactive flags the row for handleID as inactive.
	MarkInactive(ctx context.Context, handleID string) error
	// MarkInactiveOlderThan flags rows whose last_used_at predates cutoff
	// and returns how many were flagged.
	MarkInactiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
