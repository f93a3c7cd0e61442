package repository

import (
	"context"
	"database/sql"
	"errors"

	"tdlib-gateway/internal/audit/domain"
)

// PostgresRepository implements Repository on the gateway_audit_log table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given
// db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const auditColumns = `id, handle_id, action, resource, metadata, created_at`

// GetByID returns the audit log for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM gateway_audit_log WHERE id = $1`, id)
	a := &domain.AuditLog{}
	err := row.Scan(&a.ID, &a.HandleID, &a.Action, &a.Resource, &a.Metadata, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListByHandle returns audit logs for the given handle, newest first,
// paginated by limit and offset.
func (r *PostgresRepository) ListByHandle(ctx context.Context, handleID string, limit, offset int32) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM gateway_audit_log
		 WHERE handle_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		handleID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		a := &domain.AuditLog{}
		if err := rows.Scan(&a.ID, &a.HandleID, &a.Action, &a.Resource, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create persists the audit log. The entry must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO gateway_audit_log (`+auditColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.HandleID, a.Action, a.Resource, a.Metadata, a.CreatedAt)
	return err
}
