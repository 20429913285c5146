package errors

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig bounds how often and how fast an operation is reattempted.
// The zero value never retries; use NewRetryConfig or one of the presets.
type RetryConfig struct {
	// MaxAttempts caps total attempts, the first one included.
	MaxAttempts int

	// InitialBackoff is the pause before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the pause between attempts.
	MaxBackoff time.Duration

	// BackoffFactor scales the pause after every failed attempt.
	BackoffFactor float64

	// Jitter spreads each pause by up to this fraction in either
	// direction, between 0 and 1.
	Jitter float64

	// RetryableFunc decides whether a failure is worth another attempt.
	// Nil means transient-only, per IsRetryable.
	RetryableFunc func(error) bool
}

// Presets for the common retry shapes.
var (
	// DefaultRetry suits workflow steps calling external services.
	DefaultRetry = RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
	}

	// HandlerRetry suits event-handler dispatch: a deeper budget with a
	// shorter first pause.
	HandlerRetry = RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.2,
	}

	// NoRetry gives every operation exactly one attempt.
	NoRetry = RetryConfig{
		MaxAttempts: 1,
	}
)

// RetryOption adjusts one RetryConfig field.
type RetryOption func(*RetryConfig)

// WithMaxAttempts caps total attempts, the first one included.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxAttempts = n }
}

// WithInitialBackoff sets the pause before the second attempt.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.InitialBackoff = d }
}

// WithMaxBackoff caps the pause between attempts.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxBackoff = d }
}

// WithBackoffFactor sets the backoff growth factor.
func WithBackoffFactor(f float64) RetryOption {
	return func(cfg *RetryConfig) { cfg.BackoffFactor = f }
}

// WithJitter sets the backoff jitter fraction.
func WithJitter(j float64) RetryOption {
	return func(cfg *RetryConfig) { cfg.Jitter = j }
}

// WithRetryableFunc replaces the transient-only retry decision.
func WithRetryableFunc(fn func(error) bool) RetryOption {
	return func(cfg *RetryConfig) { cfg.RetryableFunc = fn }
}

// NewRetryConfig starts from DefaultRetry and applies the given options.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// RetryResult reports how a retried operation ended.
type RetryResult[T any] struct {
	// Value holds the successful result.
	Value T

	// Err is the terminal error after the last attempt, nil on success.
	Err error

	// Attempts counts the attempts actually made.
	Attempts int

	// Duration is the wall time spent across attempts and pauses.
	Duration time.Duration
}

// WithRetry reattempts fn per cfg. Use WithRetryContext when the caller
// carries a deadline or can be cancelled.
func WithRetry[T any](cfg RetryConfig, fn func() (T, error)) RetryResult[T] {
	return WithRetryContext(context.Background(), cfg, func(_ context.Context) (T, error) {
		return fn()
	})
}

// WithRetryContext reattempts fn per cfg until it succeeds, the failure is
// judged not retryable, the attempt budget runs out, or ctx ends. The pause
// between attempts grows by BackoffFactor up to MaxBackoff, spread by Jitter.
func WithRetryContext[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func(context.Context) (T, error),
) RetryResult[T] {
	start := time.Now()

	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = IsRetryable
	}

	fail := func(err error, attempts int) RetryResult[T] {
		return RetryResult[T]{
			Err:      err,
			Attempts: attempts,
			Duration: time.Since(start),
		}
	}

	pause := cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fail(&CategorizedError{
				Err:      err,
				Category: CategoryPermanent,
				Context:  "context cancelled",
			}, attempt-1)
		}

		value, err := fn(ctx)
		if err == nil {
			return RetryResult[T]{
				Value:    value,
				Attempts: attempt,
				Duration: time.Since(start),
			}
		}
		lastErr = err

		if !retryable(err) {
			return fail(&CategorizedError{
				Err:      err,
				Category: Categorize(err),
				Retries:  attempt,
			}, attempt)
		}

		// No pause after the final attempt.
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fail(&CategorizedError{
				Err:      ctx.Err(),
				Category: CategoryPermanent,
				Context:  "context cancelled during backoff",
			}, attempt)
		case <-time.After(jittered(pause, cfg.Jitter)):
		}

		pause = time.Duration(float64(pause) * cfg.BackoffFactor)
		if pause > cfg.MaxBackoff {
			pause = cfg.MaxBackoff
		}
	}

	return fail(&CategorizedError{
		Err:      lastErr,
		Category: Categorize(lastErr),
		Retries:  cfg.MaxAttempts,
		Context:  "max retries exceeded",
	}, cfg.MaxAttempts)
}

// jittered spreads d by up to the given fraction in either direction.
func jittered(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	offset := float64(d) * fraction * (rand.Float64()*2 - 1)
	return time.Duration(float64(d) + offset)
}
