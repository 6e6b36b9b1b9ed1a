// Package resilience holds the retry and circuit breaker primitives that
// every payment provider composes around its upstream calls.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"payments/internal/providererr"
)

var errPanicked = errors.New("protected call panicked")

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures when a breaker opens and how long it stays open.
type BreakerConfig struct {
	Threshold int
	Timeout   time.Duration
}

// DefaultBreakerConfig opens after five failures and probes after a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Timeout: 60 * time.Second}
}

// Clock supplies the current time. Tests inject a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// BreakerOption customizes a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithClock replaces the wall clock.
func WithClock(c Clock) BreakerOption {
	return func(b *CircuitBreaker) { b.clock = c }
}

// WithFailurePredicate decides which errors count toward opening the circuit.
func WithFailurePredicate(fn func(error) bool) BreakerOption {
	return func(b *CircuitBreaker) { b.isFailure = fn }
}

// WithStateChangeHook is called after every transition, outside the lock.
func WithStateChangeHook(fn func(name string, from, to State)) BreakerOption {
	return func(b *CircuitBreaker) { b.onStateChange = fn }
}

// CircuitBreaker guards one upstream. It is owned by a single provider
// instance and safe for concurrent use.
type CircuitBreaker struct {
	name          string
	cfg           BreakerConfig
	clock         Clock
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	if cfg.Threshold < 1 {
		cfg.Threshold = 1
	}
	b := &CircuitBreaker{
		name:      name,
		cfg:       cfg,
		clock:     systemClock{},
		isFailure: DefaultFailurePredicate,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// DefaultFailurePredicate counts every error except caller cancellation and
// errors caused by the request itself (declines, validation, not found).
func DefaultFailurePredicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !providererr.IsClientError(err)
}

// Name returns the breaker name.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// State returns the current state, applying the open→half-open timeout.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	from, to, changed := b.refreshLocked()
	state := b.state
	b.mu.Unlock()
	if changed {
		b.notify(from, to)
	}
	return state
}

// Failures returns the current failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker closed with a zero failure count.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.lastFailure = time.Time{}
	b.probing = false
	b.mu.Unlock()
	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}

// refreshLocked moves open to half-open once the timeout has elapsed.
func (b *CircuitBreaker) refreshLocked() (State, State, bool) {
	if b.state == StateOpen && b.clock.Now().Sub(b.lastFailure) > b.cfg.Timeout {
		b.state = StateHalfOpen
		b.probing = false
		return StateOpen, StateHalfOpen, true
	}
	return b.state, b.state, false
}

// acquire decides whether a call may proceed. The returned flag marks the
// single half-open probe.
func (b *CircuitBreaker) acquire() (allowed, probe bool) {
	b.mu.Lock()
	from, to, changed := b.refreshLocked()

	switch b.state {
	case StateClosed:
		allowed = true
	case StateHalfOpen:
		if !b.probing {
			b.probing = true
			allowed, probe = true, true
		}
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, to)
	}
	return allowed, probe
}

// release records the outcome of an allowed call.
func (b *CircuitBreaker) release(probe bool, err error) {
	b.mu.Lock()
	from := b.state
	failed := b.isFailure(err)

	if probe {
		b.probing = false
	}

	switch {
	case !failed && err == nil:
		b.failures = 0
		if probe || b.state == StateHalfOpen {
			b.state = StateClosed
		}
	case failed:
		b.failures++
		b.lastFailure = b.clock.Now()
		if probe || b.state == StateHalfOpen || b.failures >= b.cfg.Threshold {
			b.state = StateOpen
		}
	default:
		// Errors that do not count leave the counter alone. A probe that
		// ended that way proved the upstream answers, so close.
		if probe {
			b.failures = 0
			b.state = StateClosed
		}
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *CircuitBreaker) notify(from, to State) {
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

// Execute runs fn through the breaker. While open it returns a retriable
// circuit_breaker_open error without calling fn.
func Execute[T any](ctx context.Context, b *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	return ExecuteWithFallback(ctx, b, fn, nil)
}

// ExecuteWithFallback is Execute with a function that serves calls while the
// circuit is open. A nil fallback rejects instead.
func ExecuteWithFallback[T any](
	ctx context.Context,
	b *CircuitBreaker,
	fn func(ctx context.Context) (T, error),
	fallback func(ctx context.Context, err error) (T, error),
) (T, error) {
	allowed, probe := b.acquire()
	if !allowed {
		openErr := providererr.CircuitOpen(b.name)
		if fallback != nil {
			return fallback(ctx, openErr)
		}
		var zero T
		return zero, openErr
	}

	released := false
	defer func() {
		if !released {
			// fn panicked; free the probe slot before the panic unwinds further.
			b.release(probe, errPanicked)
		}
	}()

	v, err := fn(ctx)
	released = true
	b.release(probe, err)
	return v, err
}
