package provider

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"payments/internal/providererr"
	"payments/internal/resilience"
)

const tracerName = "payments/provider"

// ErrorMapper translates an upstream error into the canonical provider error.
type ErrorMapper func(err error) *providererr.Error

// GuardConfig configures a Guard.
type GuardConfig struct {
	Name       string
	Retry      resilience.RetryPolicy
	Breaker    resilience.BreakerConfig
	WindowSize int
	Recorder   Recorder
	Tracer     trace.Tracer
	Logger     *zap.Logger
	Clock      resilience.Clock
	MapError   ErrorMapper
}

// Guard is the single funnel every upstream call of one provider goes
// through: metrics timer, span, circuit breaker, retry, upstream call, error
// mapping. It owns the provider's breaker and metrics.
type Guard struct {
	name     string
	policy   resilience.RetryPolicy
	breaker  *resilience.CircuitBreaker
	metrics  *Metrics
	recorder Recorder
	tracer   trace.Tracer
	logger   *zap.Logger
	mapError ErrorMapper
	now      func() time.Time
}

// NewGuard creates a Guard with a closed breaker.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if err := cfg.Retry.Validate(); err != nil {
		return nil, providererr.Wrap(cfg.Name, providererr.CodeConfiguration, "invalid retry policy", err)
	}
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	g := &Guard{
		name:     cfg.Name,
		policy:   cfg.Retry,
		metrics:  NewMetrics(cfg.WindowSize),
		recorder: cfg.Recorder,
		tracer:   cfg.Tracer,
		logger:   cfg.Logger.With(zap.String("provider", cfg.Name)),
		mapError: cfg.MapError,
		now:      time.Now,
	}

	opts := []resilience.BreakerOption{
		resilience.WithStateChangeHook(g.onStateChange),
	}
	if cfg.Clock != nil {
		opts = append(opts, resilience.WithClock(cfg.Clock))
		g.now = cfg.Clock.Now
	}
	g.breaker = resilience.NewCircuitBreaker(cfg.Name, cfg.Breaker, opts...)
	return g, nil
}

// Name returns the provider name the guard reports under.
func (g *Guard) Name() string { return g.name }

// Breaker returns the provider's circuit breaker.
func (g *Guard) Breaker() *resilience.CircuitBreaker { return g.breaker }

// Snapshot returns the rolling metrics.
func (g *Guard) Snapshot() Snapshot { return g.metrics.Snapshot() }

func (g *Guard) onStateChange(name string, from, to resilience.State) {
	g.logger.Warn("circuit breaker state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	g.recorder.BreakerStateChanged(name, from, to)
}

// normalize converts any error into a *providererr.Error owned by this provider.
func (g *Guard) normalize(err error) error {
	if err == nil {
		return nil
	}
	if pe, ok := providererr.As(err); ok {
		return pe
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return providererr.Wrap(g.name, providererr.CodeTimeout, "upstream request timed out", err)
	case errors.Is(err, context.Canceled):
		return providererr.Wrap(g.name, providererr.CodeNetwork, "upstream request cancelled", err)
	}
	if g.mapError != nil {
		if pe := g.mapError(err); pe != nil {
			return pe
		}
	}
	return providererr.Wrap(g.name, providererr.CodeUnknown, err.Error(), err)
}

// Do runs call behind the breaker with retries. Callers must attach an
// idempotency key to every mutating request before calling Do.
func Do[T any](ctx context.Context, g *Guard, op string, call func(ctx context.Context) (T, error)) (T, error) {
	return run(ctx, g, op, true, call)
}

// DoOnce runs call behind the breaker without retries.
func DoOnce[T any](ctx context.Context, g *Guard, op string, call func(ctx context.Context) (T, error)) (T, error) {
	return run(ctx, g, op, false, call)
}

// Local records a call that never leaves the process, such as signature
// verification, so it still produces exactly one tally and latency sample.
func Local[T any](ctx context.Context, g *Guard, op string, call func(ctx context.Context) (T, error)) (T, error) {
	start := g.now()
	v, err := call(ctx)
	err = g.normalize(err)
	g.observe(op, err, g.now().Sub(start))
	return v, err
}

func run[T any](ctx context.Context, g *Guard, op string, retry bool, call func(ctx context.Context) (T, error)) (T, error) {
	start := g.now()
	ctx, span := g.tracer.Start(ctx, "provider."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("payment.provider", g.name),
			attribute.String("payment.operation", op),
		),
	)
	defer span.End()

	attempt := func(ctx context.Context) (T, error) {
		v, err := call(ctx)
		return v, g.normalize(err)
	}

	upstream := attempt
	if retry {
		upstream = func(ctx context.Context) (T, error) {
			return resilience.Retry(ctx, g.policy, attempt,
				resilience.OnRetry(func(n int, delay time.Duration, err error) {
					span.AddEvent("retry", trace.WithAttributes(attribute.Int("attempt", n)))
					g.logger.Info("retrying provider call",
						zap.String("operation", op),
						zap.Int("attempt", n),
						zap.Duration("delay", delay),
						zap.Error(err),
					)
				}),
			)
		}
	}

	v, err := resilience.Execute(ctx, g.breaker, upstream)
	elapsed := g.now().Sub(start)
	g.observe(op, err, elapsed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(providererr.CodeOf(err)))
		var zero T
		return zero, err
	}
	span.SetStatus(codes.Ok, "")
	return v, nil
}

func (g *Guard) observe(op string, err error, elapsed time.Duration) {
	g.metrics.Record(err == nil, elapsed)
	g.recorder.ObserveRequest(g.name, op, err, elapsed)
	if err != nil {
		g.logger.Debug("provider call failed",
			zap.String("operation", op),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	}
}
