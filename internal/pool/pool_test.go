package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"tdlib-gateway/internal/tdlib"
)

func newTestPool(maxSize int) (*Pool, *tdlib.FakeClient, *tdlib.FakeProber) {
	client := tdlib.NewFakeClient()
	prober := tdlib.NewFakeProber()
	p := New(client, prober, Config{
		MaxSize:       maxSize,
		MaxIdle:       30 * time.Minute,
		SweepInterval: time.Minute,
	}, nil)
	return p, client, prober
}

func TestPool_Acquire_CreatesAndReuses(t *testing.T) {
	p, client, _ := newTestPool(5)
	ctx := context.Background()

	id, err := p.Acquire(ctx, "unknown")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !client.Live(id) {
		t.Fatal("acquired handle has no native counterpart")
	}

	again, err := p.Acquire(ctx, id)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if again != id {
		t.Errorf("reuse returned %q, want %q", again, id)
	}
	if client.LiveCount() != 1 {
		t.Errorf("native handles = %d, want 1 (reuse, not create)", client.LiveCount())
	}
}

func TestPool_Acquire_ReplacesUnhealthyEntry(t *testing.T) {
	p, client, _ := newTestPool(5)
	ctx := context.Background()

	id, _ := p.Acquire(ctx, "x")
	p.MarkUnhealthy(id)

	replacement, err := p.Acquire(ctx, id)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if replacement == id {
		t.Error("unhealthy entry was reused instead of replaced")
	}
	if client.Live(id) {
		t.Error("unhealthy native handle was not destroyed")
	}
}

func TestPool_CapacityBoundWithLRUEviction(t *testing.T) {
	p, _, _ := newTestPool(3)
	ctx := context.Background()

	now := time.Now().UTC()
	p.nowF = func() time.Time { return now }

	var ids []string
	for i := 0; i < 3; i++ {
		now = now.Add(time.Second)
		id, err := p.Acquire(ctx, "new")
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	// ids[0] is the LRU; the next create must evict exactly it.
	now = now.Add(time.Second)
	extra, err := p.Acquire(ctx, "another")
	if err != nil {
		t.Fatalf("Acquire over capacity: %v", err)
	}
	if got := p.Stats().Size; got != 3 {
		t.Errorf("pool size = %d, want capacity 3", got)
	}
	if p.Contains(ids[0]) {
		t.Error("LRU entry survived eviction")
	}
	for _, id := range append(ids[1:], extra) {
		if !p.Contains(id) {
			t.Errorf("entry %s missing; only the LRU should be evicted", id)
		}
	}
}

func TestPool_Acquire_CreationFailurePropagates(t *testing.T) {
	p, client, _ := newTestPool(5)
	client.CreateErr = errors.New("addon not ready")

	if _, err := p.Acquire(context.Background(), "x"); err == nil {
		t.Error("Acquire should propagate native creation failure")
	}
	if p.Stats().Size != 0 {
		t.Error("failed creation must not register a pool entry")
	}
}

func TestPool_Release_UnknownIDIsNoop(t *testing.T) {
	p, _, _ := newTestPool(5)
	p.Release("never-acquired")
	if p.Stats().Size != 0 {
		t.Error("Release must not create entries")
	}
}

func TestPool_Remove_DestroysNativeHandle(t *testing.T) {
	p, client, _ := newTestPool(5)
	ctx := context.Background()

	id, _ := p.Acquire(ctx, "x")
	p.Remove(ctx, id)

	if p.Contains(id) {
		t.Error("entry still pooled after Remove")
	}
	if client.Live(id) {
		t.Error("native handle still live after Remove")
	}
}

func TestPool_Remove_DestroyErrorIsSwallowed(t *testing.T) {
	p, client, _ := newTestPool(5)
	ctx := context.Background()

	id, _ := p.Acquire(ctx, "x")
	client.DestroyErr = errors.New("native teardown failed")
	p.Remove(ctx, id)

	if p.Contains(id) {
		t.Error("entry must be dropped even when native destroy fails")
	}
}

func TestPool_Sweep_RemovesIdleEntries(t *testing.T) {
	p, _, _ := newTestPool(5)
	ctx := context.Background()

	now := time.Now().UTC()
	p.nowF = func() time.Time { return now }

	idle, _ := p.Acquire(ctx, "idle")
	now = now.Add(time.Hour)
	fresh, _ := p.Acquire(ctx, "fresh")

	p.Sweep(ctx)

	if p.Contains(idle) {
		t.Error("idle entry survived the sweep")
	}
	if !p.Contains(fresh) {
		t.Error("fresh entry was swept")
	}
}

func TestPool_Sweep_RemovesProbeFailures(t *testing.T) {
	p, _, prober := newTestPool(5)
	ctx := context.Background()

	sick, _ := p.Acquire(ctx, "a")
	healthy, _ := p.Acquire(ctx, "b")
	prober.SetUnhealthy(sick)

	p.Sweep(ctx)

	if p.Contains(sick) {
		t.Error("probe-failing entry survived the sweep")
	}
	if !p.Contains(healthy) {
		t.Error("healthy entry was swept; one failure must not block the rest")
	}
}

func TestPool_Sweep_ProbeErrorTreatedAsUnhealthy(t *testing.T) {
	p, _, prober := newTestPool(5)
	ctx := context.Background()

	id, _ := p.Acquire(ctx, "a")
	prober.Err = errors.New("probe timeout")

	p.Sweep(ctx)

	if p.Contains(id) {
		t.Error("entry survived a probe exception; it must be treated as unhealthy")
	}
}

func TestPool_Stats(t *testing.T) {
	p, _, _ := newTestPool(5)
	ctx := context.Background()

	a, _ := p.Acquire(ctx, "a")
	b, _ := p.Acquire(ctx, "b")
	_, _ = p.Acquire(ctx, a) // bump a's use count
	p.MarkUnhealthy(b)

	s := p.Stats()
	if s.Size != 2 {
		t.Errorf("Size = %d, want 2", s.Size)
	}
	if s.Healthy != 1 || s.Unhealthy != 1 {
		t.Errorf("Healthy/Unhealthy = %d/%d, want 1/1", s.Healthy, s.Unhealthy)
	}
	if s.AvgUseCount != 1.5 {
		t.Errorf("AvgUseCount = %v, want 1.5", s.AvgUseCount)
	}
}

func TestPool_Close_IsIdempotent(t *testing.T) {
	p, client, _ := newTestPool(5)
	ctx := context.Background()

	_, _ = p.Acquire(ctx, "a")
	p.Close(ctx)
	p.Close(ctx)

	if client.LiveCount() != 0 {
		t.Error("native handles still live after Close")
	}
	if _, err := p.Acquire(ctx, "a"); !errors.Is(err, ErrClosed) {
		t.Errorf("Acquire after Close = %v, want ErrClosed", err)
	}
}

func TestPool_LastUsedAdvancesOnWallClock(t *testing.T) {
	// No injected clock: Release must stamp a strictly later lastUsedAt so
	// idle sweeps and LRU order track real time.
	p, _, _ := newTestPool(4)
	ctx := context.Background()

	id, err := p.Acquire(ctx, "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	first := p.entries[id].lastUsedAt

	time.Sleep(20 * time.Millisecond)
	p.Release(id)
	if second := p.entries[id].lastUsedAt; !second.After(first) {
		t.Errorf("lastUsedAt did not advance: first %v, second %v", first, second)
	}
}

func TestPool_RemoveDoesNotBlockAcquire(t *testing.T) {
	// A slow native destroy must not hold the pool mutex.
	p, client, _ := newTestPool(4)
	ctx := context.Background()

	id, err := p.Acquire(ctx, "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	client.DestroyHook = func(string) {
		close(entered)
		<-release
	}

	removed := make(chan struct{})
	go func() {
		p.Remove(ctx, id)
		close(removed)
	}()
	<-entered

	acquired := make(chan struct{})
	go func() {
		if _, err := p.Acquire(ctx, ""); err != nil {
			t.Errorf("Acquire during destroy: %v", err)
		}
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Acquire blocked while a native destroy was in flight")
	}

	close(release)
	<-removed
	if client.Live(id) {
		t.Error("removed handle should be destroyed")
	}
}
