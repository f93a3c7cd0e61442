// Package gateway is the narrow surface callers use to talk to managed
// Telegram handles. Expected failures come back as typed errors, never
// panics: a denied send is a value, not an exception.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	auditdomain "tdlib-gateway/internal/audit/domain"
	"tdlib-gateway/internal/breaker"
	"tdlib-gateway/internal/pool"
	"tdlib-gateway/internal/ratelimit"
	sessiondomain "tdlib-gateway/internal/session/domain"
	sessionstore "tdlib-gateway/internal/session/store"
	"tdlib-gateway/internal/tdlib"
	"tdlib-gateway/internal/telemetry"
)

var (
	// ErrNotFound means no session exists for the handle id.
	ErrNotFound = errors.New("gateway: session not found")
	// ErrRevoked means the session exists but has been revoked.
	ErrRevoked = errors.New("gateway: session revoked")
	// ErrBreakerOpen means the native boundary is tripped and the send was
	// rejected without reaching it.
	ErrBreakerOpen = errors.New("gateway: breaker open")
)

// RateLimitedError is returned when the per-handle token bucket denies a
// send. RetryAfter says how long until one token is available.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("gateway: rate limited, retry after %s", e.RetryAfter)
}

// SessionView is the read model handed to callers. Revoked sessions remain
// visible; RevokedAt says when.
type SessionView struct {
	HandleID        string     `json:"handleId"`
	OwnerUserID     string     `json:"ownerUserId"`
	LinkedAccountID string     `json:"linkedAccountId"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastActivityAt  time.Time  `json:"lastActivityAt"`
	RevokedAt       *time.Time `json:"revokedAt,omitempty"`
	Revoked         bool       `json:"revoked"`
}

// AuditLog is the audit surface the service consumes: best-effort event
// writes plus operator reads over the recorded trail. *audit.Logger
// implements it.
type AuditLog interface {
	LogEvent(ctx context.Context, handleID, action, resource, metadata string)
	Entry(ctx context.Context, id string) (*auditdomain.AuditLog, error)
	Trail(ctx context.Context, handleID string, limit, offset int32) ([]*auditdomain.AuditLog, error)
}

// Service composes the session store, pool, limiter, and breaker into the
// send path and a handful of read/admin operations.
type Service struct {
	sessions *sessionstore.Store
	handles  *pool.Pool
	limiter  *ratelimit.Limiter
	limit    ratelimit.Limit
	brk      *breaker.Breaker
	client   tdlib.Client
	auditLog AuditLog
	metrics  *telemetry.Metrics
}

// New wires the service. auditLog and metrics may be nil.
func New(sessions *sessionstore.Store, handles *pool.Pool, limiter *ratelimit.Limiter, limit ratelimit.Limit, brk *breaker.Breaker, client tdlib.Client, auditLog AuditLog, metrics *telemetry.Metrics) *Service {
	return &Service{
		sessions: sessions,
		handles:  handles,
		limiter:  limiter,
		limit:    limit,
		brk:      brk,
		client:   client,
		auditLog: auditLog,
		metrics:  metrics,
	}
}

// OpenSession creates a native handle through the pool and a session
// record under its id. The handle is torn down again if the session cannot
// be saved.
func (s *Service) OpenSession(ctx context.Context, ownerUserID, linkedAccountID, subject string) (*SessionView, error) {
	id, err := s.handles.Acquire(ctx, "")
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Create(ctx, id, ownerUserID, linkedAccountID, subject)
	if err != nil {
		s.handles.Remove(ctx, id)
		return nil, err
	}
	if s.auditLog != nil {
		s.auditLog.LogEvent(ctx, id, "session_opened", "session", "")
	}
	return viewOf(sess), nil
}

// GetSession returns the view for handleID, or ErrNotFound.
func (s *Service) GetSession(ctx context.Context, handleID string) (*SessionView, error) {
	sess, err := s.sessions.Get(ctx, handleID)
	if err != nil {
		if errors.Is(err, sessionstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return viewOf(sess), nil
}

// ListSessionsForOwner returns every session owned by ownerUserID,
// revoked ones included.
func (s *Service) ListSessionsForOwner(ctx context.Context, ownerUserID string) ([]*SessionView, error) {
	list, err := s.sessions.GetByOwner(ctx, ownerUserID)
	if err != nil {
		return nil, err
	}
	out := make([]*SessionView, len(list))
	for i, sess := range list {
		out[i] = viewOf(sess)
	}
	return out, nil
}

// RevokeSession revokes the session and tears down its pooled handle.
// Repeat calls succeed without changing anything; an unknown handle id is
// ErrNotFound.
func (s *Service) RevokeSession(ctx context.Context, handleID string) error {
	sess, err := s.sessions.Get(ctx, handleID)
	if err != nil {
		if errors.Is(err, sessionstore.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	alreadyRevoked := sess.Revoked()
	if err := s.sessions.Revoke(ctx, handleID); err != nil {
		return err
	}
	s.handles.Remove(ctx, handleID)
	if !alreadyRevoked && s.auditLog != nil {
		s.auditLog.LogEvent(ctx, handleID, "session_revoked", "session", "")
	}
	return nil
}

// AuditTrail returns the audit entries recorded for handleID, newest first.
// Without an audit backend the trail is empty.
func (s *Service) AuditTrail(ctx context.Context, handleID string, limit, offset int32) ([]*auditdomain.AuditLog, error) {
	if s.auditLog == nil {
		return nil, nil
	}
	return s.auditLog.Trail(ctx, handleID, limit, offset)
}

// AuditEntry returns one recorded audit entry by id, or nil when absent.
func (s *Service) AuditEntry(ctx context.Context, id string) (*auditdomain.AuditLog, error) {
	if s.auditLog == nil {
		return nil, nil
	}
	return s.auditLog.Entry(ctx, id)
}

// Send pushes one request through the full admission path: session check,
// per-handle token bucket, breaker-wrapped native send, then an activity
// refresh. Denials are typed; only unexpected infrastructure failures come
// back as plain errors.
func (s *Service) Send(ctx context.Context, handleID string, req tdlib.Request) error {
	sess, err := s.sessions.Get(ctx, handleID)
	if err != nil {
		if errors.Is(err, sessionstore.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if sess.Revoked() {
		return ErrRevoked
	}

	d := s.limiter.Check(ctx, ratelimit.KeyHandleMethod(handleID, req.Type), s.limit)
	s.metrics.Limiter(ctx, d.Allowed)
	if !d.Allowed {
		return &RateLimitedError{RetryAfter: d.RetryAfter}
	}

	id, err := s.handles.Acquire(ctx, handleID)
	if err != nil {
		return err
	}
	err = s.brk.Execute(ctx, func(ctx context.Context) error {
		return s.client.Send(ctx, id, req)
	})
	s.metrics.BreakerState(ctx, int64(s.brk.State()))
	if err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			return ErrBreakerOpen
		}
		if errors.Is(err, tdlib.ErrHandleNotFound) {
			s.handles.MarkUnhealthy(id)
		}
		return err
	}
	s.handles.Release(id)

	if err := s.sessions.Save(ctx, sess); err != nil {
		return err
	}
	return nil
}

// CheckRateLimit reports the bucket decision for handleID and method
// without consuming a token.
func (s *Service) CheckRateLimit(ctx context.Context, handleID, method string) (ratelimit.Decision, error) {
	return s.limiter.Status(ctx, ratelimit.KeyHandleMethod(handleID, method), s.limit)
}

// PoolStats returns a snapshot of the handle pool.
func (s *Service) PoolStats() pool.Stats {
	return s.handles.Stats()
}

// BreakerState returns a snapshot of the native-boundary breaker.
func (s *Service) BreakerState() breaker.Snapshot {
	return s.brk.Snapshot()
}

func viewOf(sess *sessiondomain.Session) *SessionView {
	v := &SessionView{
		HandleID:        sess.HandleID,
		OwnerUserID:     sess.OwnerUserID,
		LinkedAccountID: sess.LinkedAccountID,
		CreatedAt:       sess.CreatedAt,
		LastActivityAt:  sess.LastActivityAt,
		Revoked:         sess.Revoked(),
	}
	if sess.RevokedAt != nil {
		t := *sess.RevokedAt
		v.RevokedAt = &t
	}
	return v
}
