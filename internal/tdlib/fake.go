package tdlib

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeClient is an in-memory Client for tests and local runs without the
// native addon. Hooks override individual calls when set.
type FakeClient struct {
	mu      sync.Mutex
	nextID  int
	handles map[string]bool
	pending map[string][]*Update
	sent    map[string][]Request

	CreateErr  error
	DestroyErr error
	SendErr    error
	ReceiveErr error

	// DestroyHook, when set, runs at the start of DestroyHandle before any
	// state changes. Tests use it to stall destruction.
	DestroyHook func(handleID string)
}

// NewFakeClient returns an empty fake.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		handles: make(map[string]bool),
		pending: make(map[string][]*Update),
		sent:    make(map[string][]Request),
	}
}

// CreateHandle mints handle-1, handle-2, ...
func (f *FakeClient) CreateHandle(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.nextID++
	id := fmt.Sprintf("handle-%d", f.nextID)
	f.handles[id] = true
	return id, nil
}

// DestroyHandle removes the handle and its queue.
func (f *FakeClient) DestroyHandle(ctx context.Context, handleID string) error {
	if f.DestroyHook != nil {
		f.DestroyHook(handleID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DestroyErr != nil {
		return f.DestroyErr
	}
	delete(f.handles, handleID)
	delete(f.pending, handleID)
	return nil
}

// Send records the request.
func (f *FakeClient) Send(ctx context.Context, handleID string, req Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	if !f.handles[handleID] {
		return ErrHandleNotFound
	}
	f.sent[handleID] = append(f.sent[handleID], req)
	return nil
}

// Receive pops one queued update, or returns nil when nothing is pending.
// A destroyed handle yields ErrHandleNotFound, as the native layer would.
func (f *FakeClient) Receive(ctx context.Context, handleID string, timeout time.Duration) (*Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReceiveErr != nil {
		return nil, f.ReceiveErr
	}
	if !f.handles[handleID] {
		return nil, ErrHandleNotFound
	}
	q := f.pending[handleID]
	if len(q) == 0 {
		return nil, nil
	}
	f.pending[handleID] = q[1:]
	return q[0], nil
}

// QueueUpdate appends an update to the handle's pending queue, registering
// the handle if tests did not create it through CreateHandle.
func (f *FakeClient) QueueUpdate(handleID string, u *Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handles[handleID] = true
	f.pending[handleID] = append(f.pending[handleID], u)
}

// Sent returns the requests recorded for handleID.
func (f *FakeClient) Sent(handleID string) []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.sent[handleID]...)
}

// Live reports whether handleID currently exists.
func (f *FakeClient) Live(handleID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[handleID]
}

// LiveCount returns how many handles currently exist.
func (f *FakeClient) LiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

// FakeProber is a HealthProber whose verdict is set per handle.
type FakeProber struct {
	mu        sync.Mutex
	unhealthy map[string]bool
	Err       error
}

// NewFakeProber returns a prober that reports every handle healthy.
func NewFakeProber() *FakeProber {
	return &FakeProber{unhealthy: make(map[string]bool)}
}

// SetUnhealthy makes subsequent probes for handleID fail.
func (p *FakeProber) SetUnhealthy(handleID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unhealthy[handleID] = true
}

// CheckHealth reports the configured verdict.
func (p *FakeProber) CheckHealth(ctx context.Context, handleID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return false, p.Err
	}
	return !p.unhealthy[handleID], nil
}
