package updates

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	sessiondomain "tdlib-gateway/internal/session/domain"
	"tdlib-gateway/internal/tdlib"
)

type staticLister struct {
	handles []string
}

func (l *staticLister) ListAllActive(context.Context) ([]*sessiondomain.Session, error) {
	out := make([]*sessiondomain.Session, len(l.handles))
	for i, h := range l.handles {
		out[i] = &sessiondomain.Session{HandleID: h}
	}
	return out, nil
}

func newTestPoller(client *tdlib.FakeClient, handles ...string) (*Poller, *Dispatcher) {
	d := NewDispatcher(nil, nil, nil, nil)
	p := NewPoller(client, &staticLister{handles: handles}, d, PollerConfig{
		Interval:       10 * time.Millisecond,
		ReceiveTimeout: time.Second,
	}, nil)
	return p, d
}

func collect(d *Dispatcher) func() map[string]int {
	var mu sync.Mutex
	seen := make(map[string]int)
	d.On(CategoryMessage, func(_ context.Context, handleID string, _ *tdlib.Update) error {
		mu.Lock()
		defer mu.Unlock()
		seen[handleID]++
		return nil
	})
	return func() map[string]int {
		mu.Lock()
		defer mu.Unlock()
		out := make(map[string]int, len(seen))
		for k, v := range seen {
			out[k] = v
		}
		return out
	}
}

func newMessage() *tdlib.Update {
	return &tdlib.Update{Type: tdlib.UpdateNewMessage, Payload: json.RawMessage(`{}`)}
}

func TestPoller_OneUpdatePerHandlePerTick(t *testing.T) {
	client := tdlib.NewFakeClient()
	ctx := context.Background()
	a, _ := client.CreateHandle(ctx)
	b, _ := client.CreateHandle(ctx)
	client.QueueUpdate(a, newMessage())
	client.QueueUpdate(a, newMessage())
	client.QueueUpdate(b, newMessage())

	p, d := newTestPoller(client, a, b)
	seen := collect(d)

	p.PollOnce(ctx)
	got := seen()
	if got[a] != 1 || got[b] != 1 {
		t.Errorf("after one tick seen = %v, want one update per handle", got)
	}

	p.PollOnce(ctx)
	got = seen()
	if got[a] != 2 {
		t.Errorf("second tick drained a's queue to %d, want 2 total", got[a])
	}
}

func TestPoller_EmptyQueueDispatchesNothing(t *testing.T) {
	client := tdlib.NewFakeClient()
	ctx := context.Background()
	a, _ := client.CreateHandle(ctx)

	p, d := newTestPoller(client, a)
	seen := collect(d)

	p.PollOnce(ctx)
	if len(seen()) != 0 {
		t.Errorf("dispatched %v with nothing pending", seen())
	}
}

func TestPoller_DestroyedHandleIsIsolated(t *testing.T) {
	client := tdlib.NewFakeClient()
	ctx := context.Background()
	live, _ := client.CreateHandle(ctx)
	dead, _ := client.CreateHandle(ctx)
	client.QueueUpdate(live, newMessage())
	_ = client.DestroyHandle(ctx, dead)

	p, d := newTestPoller(client, dead, live)
	seen := collect(d)

	p.PollOnce(ctx)
	if seen()[live] != 1 {
		t.Errorf("live handle not polled past a destroyed sibling: %v", seen())
	}
}

func TestPoller_ReceiveErrorDoesNotStopTick(t *testing.T) {
	client := tdlib.NewFakeClient()
	ctx := context.Background()
	a, _ := client.CreateHandle(ctx)
	client.QueueUpdate(a, newMessage())

	p, d := newTestPoller(client, a)
	seen := collect(d)

	client.ReceiveErr = context.DeadlineExceeded
	p.PollOnce(ctx)
	if len(seen()) != 0 {
		t.Fatalf("dispatched despite receive errors: %v", seen())
	}

	client.ReceiveErr = nil
	p.PollOnce(ctx)
	if seen()[a] != 1 {
		t.Errorf("poller did not recover after receive errors: %v", seen())
	}
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	client := tdlib.NewFakeClient()
	p, _ := newTestPoller(client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestPoller_WorkerLimitDefaults(t *testing.T) {
	p := NewPoller(tdlib.NewFakeClient(), &staticLister{}, NewDispatcher(nil, nil, nil, nil), PollerConfig{
		Interval:       time.Second,
		ReceiveTimeout: time.Second,
	}, nil)
	if p.cfg.Workers != defaultWorkers {
		t.Errorf("Workers = %d, want default %d", p.cfg.Workers, defaultWorkers)
	}
}
