package resilience

import (
	"context"
	"errors"
	"time"

	"payments/internal/providererr"
)

// ErrInvalidPolicy is returned by RetryPolicy.Validate.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// RetryPolicy configures bounded exponential backoff. It is a plain value and
// is never mutated after construction.
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	RetryableErrors   []providererr.Code
}

// DefaultRetryPolicy retries transient upstream failures three times.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      200 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 2,
		RetryableErrors: []providererr.Code{
			providererr.CodeNetwork,
			providererr.CodeTimeout,
			providererr.CodeRateLimited,
			providererr.CodeIdempotencyConflict,
			providererr.CodeServiceUnavailable,
		},
	}
}

// Validate rejects policies that cannot make progress.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return errors.Join(ErrInvalidPolicy, errors.New("max attempts must be at least 1"))
	case p.InitialDelay < 0 || p.MaxDelay < 0:
		return errors.Join(ErrInvalidPolicy, errors.New("delays must not be negative"))
	case p.BackoffMultiplier < 1:
		return errors.Join(ErrInvalidPolicy, errors.New("backoff multiplier must be at least 1"))
	}
	return nil
}

// Delay returns the wait before retry number n (1-based): InitialDelay grown
// by BackoffMultiplier per attempt and capped at MaxDelay.
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(p.InitialDelay)
	for i := 1; i < n; i++ {
		d *= p.BackoffMultiplier
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// IsRetryable reports whether err may be retried under the policy. Provider
// errors are retried only when their code is listed; any other error is
// treated as transient.
func (p RetryPolicy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	pe, ok := providererr.As(err)
	if !ok {
		return true
	}
	for _, code := range p.RetryableErrors {
		if pe.Code == code {
			return true
		}
	}
	return false
}

// RetryOption customizes a single Retry call.
type RetryOption func(*retryOptions)

type retryOptions struct {
	onRetry func(attempt int, delay time.Duration, err error)
	sleep   func(ctx context.Context, d time.Duration) error
}

// OnRetry registers a hook called before each scheduled retry.
func OnRetry(fn func(attempt int, delay time.Duration, err error)) RetryOption {
	return func(o *retryOptions) { o.onRetry = fn }
}

// WithSleeper replaces the wait between attempts. Tests use it to avoid real delays.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(o *retryOptions) { o.sleep = fn }
}

// Retry runs fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached, in which case the last error is returned. The wait
// between attempts only blocks the calling goroutine and is abandoned as
// soon as ctx is done.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error), opts ...RetryOption) (T, error) {
	o := retryOptions{sleep: sleepContext}
	for _, opt := range opts {
		opt(&o)
	}

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !policy.IsRetryable(err) || attempt == attempts {
			break
		}

		delay := policy.Delay(attempt)
		if o.onRetry != nil {
			o.onRetry(attempt, delay, err)
		}
		if err := o.sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
