// Package tdlib declares the boundary this gateway consumes from the native
// TDLib layer. The wrapper that actually speaks to the addon lives outside
// this core; everything here is an interface plus the update/request
// envelopes the core routes.
package tdlib

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrHandleNotFound is returned by implementations when the handle id does
// not map to a live native client. An in-flight Receive against a handle
// destroyed concurrently must return this (or a nil update), never panic.
var ErrHandleNotFound = errors.New("tdlib: handle not found")

// Request is an opaque outbound call keyed by TDLib's @type tag.
type Request struct {
	Type    string          `json:"@type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Update is one inbound event from a native handle, keyed by @type.
type Update struct {
	Type    string          `json:"@type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client is the native resource boundary. All methods are fallible and
// Receive must always be bounded by timeout.
type Client interface {
	// CreateHandle creates a new native client and returns its handle id.
	CreateHandle(ctx context.Context) (string, error)
	// DestroyHandle tears down the native client for handleID.
	DestroyHandle(ctx context.Context, handleID string) error
	// Send submits a request on the given handle.
	Send(ctx context.Context, handleID string, req Request) error
	// Receive pulls at most one pending update, waiting up to timeout.
	// A nil update with nil error means nothing was pending.
	Receive(ctx context.Context, handleID string, timeout time.Duration) (*Update, error)
}

// HealthProber checks whether a native handle is still responsive.
// Any error is treated by callers as unhealthy.
type HealthProber interface {
	CheckHealth(ctx context.Context, handleID string) (bool, error)
}
