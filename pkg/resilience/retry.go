// SPDX-License-Identifier: Apache-2.0

// Package resilience provides retry with backoff and a circuit breaker for
// model backend calls.
package resilience

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/puppylab/miniagent/pkg/errors"
	"github.com/puppylab/miniagent/pkg/llm"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (values below 1 mean 1).
	MaxAttempts int

	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// Multiplier for exponential backoff (default 2.0).
	Multiplier float64

	// Jitter randomizes each delay by ±Jitter (0.1 means ±10%).
	Jitter float64

	// IsRecoverable decides whether an error is retried. Nil means
	// IsRetryable.
	IsRecoverable func(error) bool

	// OnRetry is called before each retry with the attempt about to run and
	// the error that caused it.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns the configuration used for backend calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// WithMaxAttempts returns a copy with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(n int) RetryConfig {
	rc.MaxAttempts = n
	return rc
}

// WithInitialDelay returns a copy with InitialDelay set.
func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

// Do runs fn until it succeeds, returns a non-recoverable error, or the
// attempts run out. The last error is returned.
func (rc RetryConfig) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := Retry(ctx, rc, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Retry is Do for functions that return a value.
func Retry[T any](ctx context.Context, rc RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	attempts := max(rc.MaxAttempts, 1)
	recoverable := rc.IsRecoverable
	if recoverable == nil {
		recoverable = IsRetryable
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := backoff(attempt-1, rc)
			if rc.OnRetry != nil {
				rc.OnRetry(attempt, lastErr, delay)
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, stderrors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil || !recoverable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

// backoff computes InitialDelay * Multiplier^(n-1) capped at MaxDelay, with
// jitter.
func backoff(n int, rc RetryConfig) time.Duration {
	mult := rc.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := float64(rc.InitialDelay) * math.Pow(mult, float64(n-1))
	if rc.MaxDelay > 0 && d > float64(rc.MaxDelay) {
		d = float64(rc.MaxDelay)
	}
	if rc.Jitter > 0 {
		d += d * rc.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(max(d, 0))
}

// IsRetryable is the default retry predicate. Context overflow and
// cancellation are never retried; typed errors follow their recoverable
// flag; anything else (network failures, 5xx) is retried.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case stderrors.Is(err, llm.ErrContextOverflow),
		stderrors.Is(err, context.Canceled),
		stderrors.Is(err, context.DeadlineExceeded),
		stderrors.Is(err, ErrBreakerOpen):
		return false
	}
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Recoverable
	}
	return true
}
