package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestLimiter() (*Limiter, func(time.Duration)) {
	l := New(NewMemoryCounterStore())
	now := time.Now().UTC()
	l.nowF = func() time.Time { return now }
	advance := func(d time.Duration) { now = now.Add(d) }
	return l, advance
}

func TestLimiter_BurstThenDeny(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()
	lim := Limit{PerSecond: 10, Burst: 20}

	for i := 0; i < 20; i++ {
		d := l.Check(ctx, "handle:h1", lim)
		if !d.Allowed {
			t.Fatalf("call %d denied, want allowed within burst", i+1)
		}
	}
	d := l.Check(ctx, "handle:h1", lim)
	if d.Allowed {
		t.Fatal("21st call allowed, want denied")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", d.RetryAfter)
	}
}

func TestLimiter_RefillsOverTime(t *testing.T) {
	l, advance := newTestLimiter()
	ctx := context.Background()
	lim := Limit{PerSecond: 10, Burst: 20}

	for i := 0; i < 20; i++ {
		l.Check(ctx, "handle:h1", lim)
	}
	if d := l.Check(ctx, "handle:h1", lim); d.Allowed {
		t.Fatal("bucket should be empty")
	}

	// 100ms at 10/s accrues one token.
	advance(100 * time.Millisecond)
	if d := l.Check(ctx, "handle:h1", lim); !d.Allowed {
		t.Error("call after 100ms refill denied, want allowed")
	}
}

func TestLimiter_TokensCappedAtBurst(t *testing.T) {
	l, advance := newTestLimiter()
	ctx := context.Background()
	lim := Limit{PerSecond: 10, Burst: 5}

	l.Check(ctx, "handle:h1", lim)
	advance(time.Hour)

	d := l.Check(ctx, "handle:h1", lim)
	if d.Remaining > lim.Burst {
		t.Errorf("Remaining = %v, want <= burst %v", d.Remaining, lim.Burst)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()
	lim := Limit{PerSecond: 1, Burst: 1}

	if d := l.Check(ctx, KeyHandle("h1"), lim); !d.Allowed {
		t.Fatal("first call on h1 denied")
	}
	if d := l.Check(ctx, KeyHandle("h1"), lim); d.Allowed {
		t.Fatal("second call on h1 allowed, want denied")
	}
	if d := l.Check(ctx, KeyHandle("h2"), lim); !d.Allowed {
		t.Error("call on h2 denied; keys must be independent")
	}
	if d := l.Check(ctx, KeyHandleMethod("h1", "sendMessage"), lim); !d.Allowed {
		t.Error("per-method key shares budget with per-handle key")
	}
}

type downStore struct{}

func (downStore) Take(context.Context, string, Limit, time.Time, time.Duration) (Bucket, bool, error) {
	return Bucket{}, false, errors.New("connection refused")
}
func (downStore) Get(context.Context, string) (Bucket, bool, error) {
	return Bucket{}, false, errors.New("connection refused")
}
func (downStore) Delete(context.Context, string) error { return errors.New("connection refused") }

func TestLimiter_FailsOpenWhenStoreDown(t *testing.T) {
	l := New(downStore{})
	d := l.Check(context.Background(), "handle:h1", Limit{PerSecond: 1, Burst: 1})
	if !d.Allowed {
		t.Error("limiter must fail open when the counter store is unreachable")
	}
}

func TestLimiter_Reset(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()
	lim := Limit{PerSecond: 1, Burst: 1}

	l.Check(ctx, "handle:h1", lim)
	if d := l.Check(ctx, "handle:h1", lim); d.Allowed {
		t.Fatal("bucket should be empty")
	}
	if err := l.Reset(ctx, "handle:h1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if d := l.Check(ctx, "handle:h1", lim); !d.Allowed {
		t.Error("call after Reset denied, want full bucket")
	}
}

func TestLimiter_Status_DoesNotSpend(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()
	lim := Limit{PerSecond: 1, Burst: 2}

	d, err := l.Status(ctx, "handle:h1", lim)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !d.Allowed || d.Remaining != 2 {
		t.Errorf("fresh Status = %+v, want full bucket", d)
	}

	l.Check(ctx, "handle:h1", lim)
	d, _ = l.Status(ctx, "handle:h1", lim)
	if d.Remaining != 1 {
		t.Errorf("Remaining after one spend = %v, want 1", d.Remaining)
	}
	// Status again: unchanged.
	d, _ = l.Status(ctx, "handle:h1", lim)
	if d.Remaining != 1 {
		t.Errorf("Status consumed a token: Remaining = %v", d.Remaining)
	}
}

func TestLimiter_RefillsOnWallClock(t *testing.T) {
	// No injected clock: a fast bucket must refill in real elapsed time.
	l := New(NewMemoryCounterStore())
	ctx := context.Background()
	lim := Limit{PerSecond: 1000, Burst: 2}

	for i := 0; i < 2; i++ {
		if d := l.Check(ctx, "handle:h1", lim); !d.Allowed {
			t.Fatalf("call %d denied, want allowed within burst", i+1)
		}
	}
	if d := l.Check(ctx, "handle:h1", lim); d.Allowed {
		t.Fatal("call past burst allowed, want denied")
	}

	time.Sleep(50 * time.Millisecond)
	if d := l.Check(ctx, "handle:h1", lim); !d.Allowed {
		t.Errorf("call after refill window denied: %+v", d)
	}
}
