package updates

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	sessiondomain "tdlib-gateway/internal/session/domain"
	"tdlib-gateway/internal/tdlib"
	"tdlib-gateway/internal/telemetry"
)

const defaultWorkers = 16

// SessionLister is the slice of the session store the poller needs.
type SessionLister interface {
	ListAllActive(ctx context.Context) ([]*sessiondomain.Session, error)
}

// PollerConfig sizes the polling loop.
type PollerConfig struct {
	Interval       time.Duration
	ReceiveTimeout time.Duration
	Workers        int
}

// Poller drains pending updates from every active handle on a fixed
// interval and feeds them to the dispatcher. At most one update is taken
// per handle per tick; a slow or broken handle never blocks the others.
type Poller struct {
	client     tdlib.Client
	sessions   SessionLister
	dispatcher *Dispatcher
	cfg        PollerConfig
	metrics    *telemetry.Metrics
}

// NewPoller returns a poller over client's handles. metrics may be nil.
func NewPoller(client tdlib.Client, sessions SessionLister, dispatcher *Dispatcher, cfg PollerConfig, metrics *telemetry.Metrics) *Poller {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Poller{
		client:     client,
		sessions:   sessions,
		dispatcher: dispatcher,
		cfg:        cfg,
		metrics:    metrics,
	}
}

// Run ticks every Interval until ctx is cancelled. In-flight polls finish
// before Run returns.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	log.Printf("poller: started (interval %s, %d workers)", p.cfg.Interval, p.cfg.Workers)
	for {
		select {
		case <-ctx.Done():
			log.Println("poller: stopped")
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce polls every active handle once, bounded by the worker limit.
func (p *Poller) PollOnce(ctx context.Context) {
	start := time.Now()
	sessions, err := p.sessions.ListAllActive(ctx)
	if err != nil {
		log.Printf("poller: listing active sessions: %v", err)
		return
	}

	sem := make(chan struct{}, p.cfg.Workers)
	var wg sync.WaitGroup
	for _, s := range sessions {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(handleID string) {
			defer wg.Done()
			defer func() { <-sem }()
			p.pollHandle(ctx, handleID)
		}(s.HandleID)
	}
	wg.Wait()
	p.metrics.PollTick(ctx, time.Since(start).Seconds())
}

// pollHandle takes at most one pending update from handleID. Failures are
// isolated to the handle; a destroyed handle is quietly skipped.
func (p *Poller) pollHandle(ctx context.Context, handleID string) {
	u, err := p.client.Receive(ctx, handleID, p.cfg.ReceiveTimeout)
	if err != nil {
		if !errors.Is(err, tdlib.ErrHandleNotFound) {
			log.Printf("poller: receive from %s: %v", handleID, err)
		}
		return
	}
	if u == nil {
		return
	}
	p.dispatcher.Dispatch(ctx, handleID, u)
}
