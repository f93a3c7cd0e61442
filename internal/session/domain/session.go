package domain

import "time"

// Session identifies one authenticated TDLib handle.
type Session struct {
	HandleID          string     `json:"handleId"`
	OwnerUserID       string     `json:"ownerUserId,omitempty"`     // platform user owning the handle
	LinkedAccountID   string     `json:"linkedAccountId,omitempty"` // domain account; required for durable backup
	SubjectIdentifier string     `json:"subjectIdentifier"`         // external identity, e.g. phone number
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	LastActivityAt    time.Time  `json:"lastActivityAt"`
	RevokedAt         *time.Time `json:"revokedAt,omitempty"` // nil when not revoked; once set, terminal
}

// Revoked reports whether the session is terminally revoked.
func (s *Session) Revoked() bool {
	return s != nil && s.RevokedAt != nil
}

// Clone returns a deep copy so callers can mutate without aliasing the
// store's view.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.RevokedAt != nil {
		at := *s.RevokedAt
		out.RevokedAt = &at
	}
	return &out
}
