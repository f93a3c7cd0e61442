package tdlib

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Loopback is an in-process Client used when the process runs without a
// linked native library (development, CI). Handles are real entries with
// real lifecycles; sends are accepted and dropped, and no updates are ever
// produced.
type Loopback struct {
	mu      sync.Mutex
	handles map[string]struct{}
}

func NewLoopback() *Loopback {
	return &Loopback{handles: make(map[string]struct{})}
}

func (l *Loopback) CreateHandle(ctx context.Context) (string, error) {
	id := uuid.New().String()
	l.mu.Lock()
	l.handles[id] = struct{}{}
	l.mu.Unlock()
	return id, nil
}

func (l *Loopback) DestroyHandle(ctx context.Context, handleID string) error {
	l.mu.Lock()
	delete(l.handles, handleID)
	l.mu.Unlock()
	return nil
}

func (l *Loopback) Send(ctx context.Context, handleID string, req Request) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.handles[handleID]; !ok {
		return ErrHandleNotFound
	}
	return nil
}

func (l *Loopback) Receive(ctx context.Context, handleID string, timeout time.Duration) (*Update, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.handles[handleID]; !ok {
		return nil, ErrHandleNotFound
	}
	return nil, nil
}

// CheckHealth reports live handles healthy, satisfying HealthProber.
func (l *Loopback) CheckHealth(ctx context.Context, handleID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.handles[handleID]
	return ok, nil
}
