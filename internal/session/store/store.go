// Package store implements the dual-tier session store: a TTL-bounded cache
// for the hot path and a durable backup for crash recovery and
// secondary-index lookups. Records are sealed before any physical write.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"tdlib-gateway/internal/cryptobox"
	"tdlib-gateway/internal/session/cache"
	"tdlib-gateway/internal/session/domain"
	"tdlib-gateway/internal/session/repository"
	"tdlib-gateway/internal/telemetry"
)

// ErrNotFound is returned when no session exists for a handle id. It is an
// expected outcome, never logged as an error.
var ErrNotFound = errors.New("session: not found")

// Store is the session store. The cache is authoritative on the hot path;
// the repository is best-effort backup plus the only secondary index. A nil
// repository disables durable backup: restore and the by-owner/by-account
// queries become empty results with a capability warning.
type Store struct {
	cache  cache.Cache
	repo   repository.Repository
	box    *cryptobox.Box
	ttl    time.Duration
	events telemetry.EventEmitter
	nowF   func() time.Time

	listWarn sync.Once
}

// New returns a session store. repo and events may be nil.
func New(c cache.Cache, repo repository.Repository, box *cryptobox.Box, ttl time.Duration, events telemetry.EventEmitter) *Store {
	return &Store{
		cache:  c,
		repo:   repo,
		box:    box,
		ttl:    ttl,
		events: events,
		nowF:   utcNow,
	}
}

func utcNow() time.Time { return time.Now().UTC() }

// NewHandleID mints a new opaque handle id.
func NewHandleID() string {
	return uuid.New().String()
}

// Create stamps a fresh session for the given identity and saves it.
// handleID is usually the id of an already-created native handle; pass ""
// to mint one.
func (st *Store) Create(ctx context.Context, handleID, ownerUserID, linkedAccountID, subject string) (*domain.Session, error) {
	if handleID == "" {
		handleID = NewHandleID()
	}
	now := st.nowF()
	s := &domain.Session{
		HandleID:          handleID,
		OwnerUserID:       ownerUserID,
		LinkedAccountID:   linkedAccountID,
		SubjectIdentifier: subject,
		CreatedAt:         now,
	}
	if err := st.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Save stamps updatedAt/lastActivityAt, seals the serialized record, and
// writes it to the cache with the session TTL. When the session carries a
// linked account and durable backup is enabled, the sealed blob is also
// upserted as a backup row; a backup failure is logged and swallowed so it
// never fails the save.
func (st *Store) Save(ctx context.Context, s *domain.Session) error {
	now := st.nowF()
	s.UpdatedAt = now
	s.LastActivityAt = now

	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	sealed, err := st.box.Seal(string(raw))
	if err != nil {
		return fmt.Errorf("session: seal: %w", err)
	}
	if err := st.cache.Set(ctx, s.HandleID, sealed, st.ttl); err != nil {
		return fmt.Errorf("session: cache write: %w", err)
	}

	if st.repo != nil && s.LinkedAccountID != "" {
		rec := &repository.Record{
			HandleID:    s.HandleID,
			AccountID:   s.LinkedAccountID,
			OwnerUserID: s.OwnerUserID,
			Subject:     s.SubjectIdentifier,
			Payload:     sealed,
			Active:      !s.Revoked(),
			LastUsedAt:  s.LastActivityAt,
			CreatedAt:   s.CreatedAt,
			UpdatedAt:   s.UpdatedAt,
		}
		if err := st.repo.Upsert(ctx, rec); err != nil {
			log.Printf("session: durable backup failed for %s: %v", s.HandleID, err)
		}
	}
	telemetry.EmitAsync(st.events, ctx, &telemetry.Event{
		EventType: "session_saved",
		HandleID:  s.HandleID,
		AccountID: s.LinkedAccountID,
		OwnerID:   s.OwnerUserID,
		Source:    "session-store",
	})
	return nil
}

// Get returns the session for handleID. A cache hit refreshes
// lastActivityAt by re-invoking Save (last-writer-wins on the activity
// stamp is acceptable). A miss falls through to the durable backup and, on
// success, repopulates the cache. Returns ErrNotFound when neither tier has
// the session.
func (st *Store) Get(ctx context.Context, handleID string) (*domain.Session, error) {
	sealed, ok, err := st.cache.Get(ctx, handleID)
	if err != nil {
		log.Printf("session: cache read failed for %s: %v", handleID, err)
		ok = false
	}
	if ok {
		s, err := st.decode(sealed)
		if err != nil {
			log.Printf("session: undecodable cache entry for %s: %v", handleID, err)
		} else {
			if err := st.Save(ctx, s); err != nil {
				return nil, err
			}
			return s, nil
		}
	}
	return st.restore(ctx, handleID)
}

// restore loads the durable backup row for handleID, rebuilds the session,
// and writes it back into the cache.
func (st *Store) restore(ctx context.Context, handleID string) (*domain.Session, error) {
	if st.repo == nil {
		return nil, ErrNotFound
	}
	rec, err := st.repo.GetByHandle(ctx, handleID)
	if err != nil {
		log.Printf("session: durable read failed for %s: %v", handleID, err)
		return nil, ErrNotFound
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	s, err := st.decode(rec.Payload)
	if err != nil {
		// Blob from before sealed JSON payloads; rebuild from the row itself.
		s = &domain.Session{
			HandleID:          rec.HandleID,
			OwnerUserID:       rec.OwnerUserID,
			LinkedAccountID:   rec.AccountID,
			SubjectIdentifier: rec.Subject,
			CreatedAt:         rec.CreatedAt,
		}
	}
	if err := st.Save(ctx, s); err != nil {
		return nil, err
	}
	telemetry.EmitAsync(st.events, ctx, &telemetry.Event{
		EventType: "session_restored",
		HandleID:  s.HandleID,
		AccountID: s.LinkedAccountID,
		Source:    "session-store",
	})
	return s, nil
}

// GetByOwner returns the sessions owned by ownerUserID. Requires durable
// backup; without it the fast tier has no secondary index, so the result is
// empty with a capability warning.
func (st *Store) GetByOwner(ctx context.Context, ownerUserID string) ([]*domain.Session, error) {
	if st.repo == nil {
		log.Printf("session: GetByOwner(%s) without durable backup; returning empty", ownerUserID)
		return nil, nil
	}
	recs, err := st.repo.ListByOwner(ctx, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("session: list by owner: %w", err)
	}
	return st.resolve(ctx, recs), nil
}

// GetByAccount returns the sessions linked to accountID. Requires durable
// backup, as GetByOwner.
func (st *Store) GetByAccount(ctx context.Context, accountID string) ([]*domain.Session, error) {
	if st.repo == nil {
		log.Printf("session: GetByAccount(%s) without durable backup; returning empty", accountID)
		return nil, nil
	}
	recs, err := st.repo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("session: list by account: %w", err)
	}
	return st.resolve(ctx, recs), nil
}

// resolve maps durable rows through Get so the canonical, possibly fresher
// cached record wins. Rows that no longer resolve are skipped.
func (st *Store) resolve(ctx context.Context, recs []*repository.Record) []*domain.Session {
	out := make([]*domain.Session, 0, len(recs))
	for _, rec := range recs {
		s, err := st.Get(ctx, rec.HandleID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			log.Printf("session: resolve %s: %v", rec.HandleID, err)
			continue
		}
		out = append(out, s)
	}
	return out
}

// Revoke terminally revokes the session for handleID. A missing session is a
// warning-level no-op; an already-revoked session keeps its original
// revocation time.
func (st *Store) Revoke(ctx context.Context, handleID string) error {
	s, err := st.Get(ctx, handleID)
	if errors.Is(err, ErrNotFound) {
		log.Printf("session: revoke of unknown handle %s", handleID)
		return nil
	}
	if err != nil {
		return err
	}
	if !s.Revoked() {
		at := st.nowF()
		s.RevokedAt = &at
		if err := st.Save(ctx, s); err != nil {
			return err
		}
	}
	if st.repo != nil {
		if err := st.repo.MarkInactive(ctx, handleID); err != nil {
			log.Printf("session: mark inactive failed for %s: %v", handleID, err)
		}
	}
	telemetry.EmitAsync(st.events, ctx, &telemetry.Event{
		EventType: "session_revoked",
		HandleID:  handleID,
		AccountID: s.LinkedAccountID,
		Source:    "session-store",
	})
	return nil
}

// RevokeAllForAccount revokes every session linked to accountID and returns
// how many were revoked.
func (st *Store) RevokeAllForAccount(ctx context.Context, accountID string) (int, error) {
	sessions, err := st.GetByAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	revoked := 0
	for _, s := range sessions {
		if err := st.Revoke(ctx, s.HandleID); err != nil {
			log.Printf("session: revoke %s for account %s: %v", s.HandleID, accountID, err)
			continue
		}
		revoked++
	}
	return revoked, nil
}

// ListAllActive returns every durably active session, resolved through Get
// so the cache is authoritative, and filtered to exclude sessions whose
// canonical record carries a revocation not yet reflected in the durable
// row.
func (st *Store) ListAllActive(ctx context.Context) ([]*domain.Session, error) {
	if st.repo == nil {
		// The poller calls this on every tick; warn once, not per call.
		st.listWarn.Do(func() {
			log.Printf("session: ListAllActive without durable backup; returning empty")
		})
		return nil, nil
	}
	recs, err := st.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: list active: %w", err)
	}
	all := st.resolve(ctx, recs)
	out := all[:0]
	for _, s := range all {
		if !s.Revoked() {
			out = append(out, s)
		}
	}
	return out, nil
}

// SweepExpired marks durable rows inactive when their last use predates the
// session lifetime. Cache entries are untouched; they expire via TTL.
func (st *Store) SweepExpired(ctx context.Context) (int64, error) {
	if st.repo == nil {
		return 0, nil
	}
	return st.repo.MarkInactiveOlderThan(ctx, st.nowF().Add(-st.ttl))
}

func (st *Store) decode(value string) (*domain.Session, error) {
	plain, err := st.box.Open(value)
	if err != nil {
		return nil, err
	}
	var s domain.Session
	if err := json.Unmarshal([]byte(plain), &s); err != nil {
		return nil, err
	}
	if s.HandleID == "" {
		return nil, errors.New("session: payload missing handleId")
	}
	return &s, nil
}
