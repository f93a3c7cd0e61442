package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func newTestBreaker() (*Breaker, func(time.Duration)) {
	b := New(Config{
		FailureThreshold: 3,
		ResetTimeout:     time.Second,
		SuccessThreshold: 2,
	})
	now := time.Now()
	b.nowF = func() time.Time { return now }
	return b, func(d time.Duration) { now = now.Add(d) }
}

func fail(ctx context.Context) error { return errBoom }
func ok(ctx context.Context) error   { return nil }

func TestBreaker_OpensAfterFailureThreshold(t *testing.T) {
	b, _ := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("Execute %d = %v, want errBoom", i+1, err)
		}
	}
	if b.State() != Open {
		t.Errorf("state = %v, want Open after 3 failures", b.State())
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker()
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, ok)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)

	if b.State() != Closed {
		t.Errorf("state = %v, want Closed; success must reset the failure count", b.State())
	}
}

func TestBreaker_OpenRejectsWithoutInvoking(t *testing.T) {
	b, _ := newTestBreaker()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}

	invoked := false
	err := b.Execute(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Execute while Open = %v, want ErrOpen", err)
	}
	if invoked {
		t.Error("wrapped function invoked while breaker is Open")
	}
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	b, advance := newTestBreaker()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}

	advance(time.Second)

	invoked := false
	err := b.Execute(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if err != nil {
		t.Fatalf("trial call = %v, want nil", err)
	}
	if !invoked {
		t.Error("trial call not attempted after reset timeout")
	}
	if b.State() != HalfOpen {
		t.Errorf("state = %v, want HalfOpen after one trial success", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, advance := newTestBreaker()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}
	advance(time.Second)

	if err := b.Execute(ctx, fail); !errors.Is(err, errBoom) {
		t.Fatalf("trial call = %v, want errBoom", err)
	}
	if b.State() != Open {
		t.Errorf("state = %v, want Open after one half-open failure", b.State())
	}
	if err := b.Execute(ctx, ok); !errors.Is(err, ErrOpen) {
		t.Errorf("Execute = %v, want ErrOpen immediately after reopen", err)
	}
}

func TestBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	b, advance := newTestBreaker()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}
	advance(time.Second)

	_ = b.Execute(ctx, ok)
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want HalfOpen after first success", b.State())
	}
	_ = b.Execute(ctx, ok)
	if b.State() != Closed {
		t.Errorf("state = %v, want Closed after 2 half-open successes", b.State())
	}

	snap := b.Snapshot()
	if snap.FailureCount != 0 || snap.SuccessCount != 0 {
		t.Errorf("counters = %d/%d, want 0/0 after close", snap.FailureCount, snap.SuccessCount)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}

	b.Reset()
	if b.State() != Closed {
		t.Errorf("state = %v, want Closed after Reset", b.State())
	}
	if err := b.Execute(ctx, ok); err != nil {
		t.Errorf("Execute after Reset = %v, want nil", err)
	}
}

func TestBreaker_ErrorPassesThroughUnchanged(t *testing.T) {
	b, _ := newTestBreaker()
	err := b.Execute(context.Background(), fail)
	if !errors.Is(err, errBoom) {
		t.Errorf("Execute = %v, want the wrapped function's own error", err)
	}
}
