package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"tdlib-gateway/internal/audit/domain"
	auditrepo "tdlib-gateway/internal/audit/repository"
)

// SentinelHandleID is the handle_id used for audit events not tied to a
// specific handle (e.g. pool-wide sweeps).
const SentinelHandleID = "_system"

// AuditLogger writes a single audit event with explicit action/resource.
// Used by the update dispatcher's authorization-failure path.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, handleID, action, resource, metadata string)
}

// Logger implements AuditLogger using the audit repository.
type Logger struct {
	repo auditrepo.Repository
}

// NewLogger returns an AuditLogger that persists to repo. repo may be nil;
// then LogEvent is a no-op.
func NewLogger(repo auditrepo.Repository) *Logger {
	return &Logger{repo: repo}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and
// not returned.
func (l *Logger) LogEvent(ctx context.Context, handleID, action, resource, metadata string) {
	if l.repo == nil {
		return
	}
	if handleID == "" {
		handleID = SentinelHandleID
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		HandleID:  handleID,
		Action:    action,
		Resource:  resource,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s/%s: %v", action, resource, err)
	}
}

// Entry returns one audit log entry by id, or nil if absent. Without a
// backing repository every entry is absent.
func (l *Logger) Entry(ctx context.Context, id string) (*domain.AuditLog, error) {
	if l.repo == nil {
		return nil, nil
	}
	return l.repo.GetByID(ctx, id)
}

// Trail returns the audit entries for handleID, newest first. Without a
// backing repository the trail is empty.
func (l *Logger) Trail(ctx context.Context, handleID string, limit, offset int32) ([]*domain.AuditLog, error) {
	if l.repo == nil {
		return nil, nil
	}
	return l.repo.ListByHandle(ctx, handleID, limit, offset)
}
