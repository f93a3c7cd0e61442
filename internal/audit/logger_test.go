package audit

import (
	"context"
	"errors"
	"testing"

	"tdlib-gateway/internal/audit/domain"
	auditrepo "tdlib-gateway/internal/audit/repository"
)

type failingAuditRepo struct {
	*auditrepo.MemoryRepository
}

func (m *failingAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	return errors.New("db down")
}

func TestLogger_LogEvent_Success(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	logger := NewLogger(repo)

	logger.LogEvent(context.Background(), "handle-1", "session_revoked", "session", `{"reason":"operator"}`)

	entries, err := repo.ListByHandle(context.Background(), "handle-1", 10, 0)
	if err != nil {
		t.Fatalf("ListByHandle: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.ID == "" {
		t.Error("entry ID is empty, want generated uuid")
	}
	if e.Action != "session_revoked" {
		t.Errorf("Action = %q, want %q", e.Action, "session_revoked")
	}
	if e.Resource != "session" {
		t.Errorf("Resource = %q, want %q", e.Resource, "session")
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
}

func TestLogger_LogEvent_SentinelHandleID(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	logger := NewLogger(repo)

	logger.LogEvent(context.Background(), "", "pool_swept", "pool", "")

	entries, _ := repo.ListByHandle(context.Background(), SentinelHandleID, 10, 0)
	if len(entries) != 1 {
		t.Fatalf("entries under sentinel = %d, want 1", len(entries))
	}
}

func TestLogger_LogEvent_RepositoryError(t *testing.T) {
	logger := NewLogger(&failingAuditRepo{auditrepo.NewMemoryRepository()})

	// Must not panic or propagate; best-effort only.
	logger.LogEvent(context.Background(), "handle-1", "session_revoked", "session", "")
}

func TestLogger_LogEvent_NilRepo(t *testing.T) {
	logger := NewLogger(nil)
	logger.LogEvent(context.Background(), "handle-1", "session_revoked", "session", "")
}

func TestLogger_EntryAndTrail(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	l := NewLogger(repo)
	ctx := context.Background()

	l.LogEvent(ctx, "handle-1", "session_opened", "session", "")
	l.LogEvent(ctx, "handle-1", "session_revoked", "session", "")

	trail, err := l.Trail(ctx, "handle-1", 10, 0)
	if err != nil {
		t.Fatalf("Trail: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("trail length = %d, want 2", len(trail))
	}
	if trail[0].Action != "session_revoked" {
		t.Errorf("newest action = %q, want %q", trail[0].Action, "session_revoked")
	}

	got, err := l.Entry(ctx, trail[1].ID)
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if got == nil || got.Action != "session_opened" {
		t.Errorf("Entry = %+v, want the session_opened entry", got)
	}
	if missing, _ := l.Entry(ctx, "absent"); missing != nil {
		t.Errorf("Entry for unknown id = %+v, want nil", missing)
	}
}

func TestLogger_ReadsWithoutRepository(t *testing.T) {
	l := NewLogger(nil)
	ctx := context.Background()

	if trail, err := l.Trail(ctx, "handle-1", 10, 0); err != nil || len(trail) != 0 {
		t.Errorf("Trail without repo = %v, %v; want empty, nil", trail, err)
	}
	if entry, err := l.Entry(ctx, "id-1"); err != nil || entry != nil {
		t.Errorf("Entry without repo = %v, %v; want nil, nil", entry, err)
	}
}
