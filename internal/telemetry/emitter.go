// Package telemetry carries best-effort gateway events to Kafka and holds
// the OTel instrument bundle used by the pool, limiter, and poller.
package telemetry

import (
	"context"
	"time"
)

// Event is one gateway lifecycle event (session saved/revoked/restored,
// handle created/evicted, authorization failure flagged).
type Event struct {
	EventType string    `json:"event_type"`
	HandleID  string    `json:"handle_id,omitempty"`
	AccountID string    `json:"account_id,omitempty"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Metadata  string    `json:"metadata,omitempty"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// EventEmitter emits gateway events. Best-effort; callers log and ignore
// errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}
