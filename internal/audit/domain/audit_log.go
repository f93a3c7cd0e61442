package domain

import "time"

// AuditLog represents one operator-visible event on a handle.
type AuditLog struct {
	ID        string
	HandleID  string
	Action    string
	Resource  string
	Metadata  string
	CreatedAt time.Time
}
