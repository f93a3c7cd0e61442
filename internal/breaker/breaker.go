// Package breaker implements a three-state circuit breaker around the
// native TDLib boundary. State is evaluated lazily at the start of every
// Execute call; there is no background timer.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without attempting it.
var ErrOpen = errors.New("breaker: open")

// State is the breaker's position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes the breaker thresholds.
type Config struct {
	// FailureThreshold is how many consecutive failures in Closed trip the
	// breaker.
	FailureThreshold int
	// ResetTimeout is how long Open lasts before a trial call is allowed.
	ResetTimeout time.Duration
	// SuccessThreshold is how many consecutive successes in HalfOpen close
	// the breaker again.
	SuccessThreshold int
}

// Snapshot is a read-only view of the breaker for the produced contract.
type Snapshot struct {
	State         State
	FailureCount  int
	SuccessCount  int
	LastFailureAt time.Time
}

// Breaker guards one protected resource. Construct once and inject; the
// zero value is not usable.
type Breaker struct {
	cfg  Config
	nowF func() time.Time

	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	lastFailureAt time.Time
}

// New returns a Closed breaker with the given thresholds.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, nowF: time.Now}
}

// Execute runs fn under the breaker. If the breaker is Open the call is
// rejected with ErrOpen before fn is invoked. fn's error, if any, is
// returned unchanged: the breaker decides whether to attempt the call,
// never what the call's failure looks like.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn(ctx)
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// allow evaluates state, applying the lazy Open -> HalfOpen transition.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open {
		if b.nowF().Sub(b.lastFailureAt) >= b.cfg.ResetTimeout {
			b.state = HalfOpen
			b.successCount = 0
		} else {
			return false
		}
	}
	return true
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failureCount = 0
			b.successCount = 0
		}
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailureAt = b.nowF()
	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = Open
		}
	case HalfOpen:
		// One failure during trial is enough.
		b.state = Open
		b.successCount = 0
	}
}

// State returns the current state, applying the lazy timeout check so a
// timed-out Open reads as HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.nowF().Sub(b.lastFailureAt) >= b.cfg.ResetTimeout {
		b.state = HalfOpen
		b.successCount = 0
	}
	return b.state
}

// Snapshot returns a read-only view for operators.
func (b *Breaker) Snapshot() Snapshot {
	state := b.State()
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:         state,
		FailureCount:  b.failureCount,
		SuccessCount:  b.successCount,
		LastFailureAt: b.lastFailureAt,
	}
}

// Reset forces Closed with zero counters. Exposed for operational recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
	b.successCount = 0
	b.lastFailureAt = time.Time{}
}
