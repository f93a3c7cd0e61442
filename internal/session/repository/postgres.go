package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepository implements Repository on the gateway_sessions table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db
// for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recordColumns = `handle_id, account_id, owner_user_id, subject, payload, active, last_used_at, created_at, updated_at`

// Upsert inserts or replaces the row for r.HandleID.
func (r *PostgresRepository) Upsert(ctx context.Context, rec *Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO gateway_sessions (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (handle_id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			owner_user_id = EXCLUDED.owner_user_id,
			subject = EXCLUDED.subject,
			payload = EXCLUDED.payload,
			active = EXCLUDED.active,
			last_used_at = EXCLUDED.last_used_at,
			updated_at = EXCLUDED.updated_at`,
		rec.HandleID, rec.AccountID, nullString(rec.OwnerUserID), rec.Subject,
		rec.Payload, rec.Active, rec.LastUsedAt, rec.CreatedAt, rec.UpdatedAt)
	return err
}

// GetByHandle returns the row for handleID, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByHandle(ctx context.Context, handleID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM gateway_sessions WHERE handle_id = $1`, handleID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListByAccount returns active rows linked to accountID.
func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string) ([]*Record, error) {
	return r.list(ctx,
		`SELECT `+recordColumns+` FROM gateway_sessions WHERE account_id = $1 AND active`, accountID)
}

// ListByOwner returns active rows owned by ownerUserID.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerUserID string) ([]*Record, error) {
	return r.list(ctx,
		`SELECT `+recordColumns+` FROM gateway_sessions WHERE owner_user_id = $1 AND active`, ownerUserID)
}

// ListActive returns every active row.
func (r *PostgresRepository) ListActive(ctx context.Context) ([]*Record, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM gateway_sessions WHERE active`)
}

// MarkInactive flags the row for handleID as inactive. Missing rows are not
// an error.
func (r *PostgresRepository) MarkInactive(ctx context.Context, handleID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE gateway_sessions SET active = FALSE, updated_at = NOW() WHERE handle_id = $1`, handleID)
	return err
}

// MarkInactiveOlderThan flags rows whose last_used_at predates cutoff and
// returns how many were flagged.
func (r *PostgresRepository) MarkInactiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE gateway_sessions SET active = FALSE, updated_at = NOW() WHERE active AND last_used_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var owner sql.NullString
	if err := s.Scan(&rec.HandleID, &rec.AccountID, &owner, &rec.Subject,
		&rec.Payload, &rec.Active, &rec.LastUsedAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if owner.Valid {
		rec.OwnerUserID = owner.String
	}
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
