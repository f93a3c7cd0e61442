package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics is the gateway's instrument bundle. A nil *Metrics is safe to use;
// every method is a no-op so tests and storeless wiring skip instrumentation.
type Metrics struct {
	poolSize        metric.Int64UpDownCounter
	poolAcquires    metric.Int64Counter
	poolEvictions   metric.Int64Counter
	limiterAllowed  metric.Int64Counter
	limiterDenied   metric.Int64Counter
	breakerState    metric.Int64Gauge
	pollTickSeconds metric.Float64Histogram
	updatesRouted   metric.Int64Counter
}

// NewMetrics registers the gateway instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.poolSize, err = meter.Int64UpDownCounter("tdgw.pool.size",
		metric.WithDescription("Live entries in the connection pool.")); err != nil {
		return nil, err
	}
	if m.poolAcquires, err = meter.Int64Counter("tdgw.pool.acquires",
		metric.WithDescription("Pool acquire calls, by outcome (reused, created).")); err != nil {
		return nil, err
	}
	if m.poolEvictions, err = meter.Int64Counter("tdgw.pool.evictions",
		metric.WithDescription("Entries removed, by reason (lru, idle, unhealthy, explicit).")); err != nil {
		return nil, err
	}
	if m.limiterAllowed, err = meter.Int64Counter("tdgw.ratelimit.allowed"); err != nil {
		return nil, err
	}
	if m.limiterDenied, err = meter.Int64Counter("tdgw.ratelimit.denied"); err != nil {
		return nil, err
	}
	if m.breakerState, err = meter.Int64Gauge("tdgw.breaker.state",
		metric.WithDescription("Circuit breaker state: 0 closed, 1 open, 2 half-open.")); err != nil {
		return nil, err
	}
	if m.pollTickSeconds, err = meter.Float64Histogram("tdgw.poll.tick.duration",
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.updatesRouted, err = meter.Int64Counter("tdgw.updates.routed",
		metric.WithDescription("Updates dispatched, by category.")); err != nil {
		return nil, err
	}
	return m, nil
}

// PoolSizeAdd records a pool size delta.
func (m *Metrics) PoolSizeAdd(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.poolSize.Add(ctx, delta)
}

// PoolAcquire records one acquire with its outcome.
func (m *Metrics) PoolAcquire(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.poolAcquires.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// PoolEviction records one removal with its reason.
func (m *Metrics) PoolEviction(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.poolEvictions.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// Limiter records one rate-limit decision.
func (m *Metrics) Limiter(ctx context.Context, allowed bool) {
	if m == nil {
		return
	}
	if allowed {
		m.limiterAllowed.Add(ctx, 1)
	} else {
		m.limiterDenied.Add(ctx, 1)
	}
}

// BreakerState records the current breaker state.
func (m *Metrics) BreakerState(ctx context.Context, state int64) {
	if m == nil {
		return
	}
	m.breakerState.Record(ctx, state)
}

// PollTick records the duration of one polling tick in seconds.
func (m *Metrics) PollTick(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.pollTickSeconds.Record(ctx, seconds)
}

// UpdateRouted records one dispatched update by category.
func (m *Metrics) UpdateRouted(ctx context.Context, category string) {
	if m == nil {
		return
	}
	m.updatesRouted.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}
