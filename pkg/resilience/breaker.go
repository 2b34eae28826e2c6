// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/puppylab/miniagent/pkg/errors"
)

// ErrBreakerOpen is the cause of the error returned, without calling
// through, while a breaker is open.
var ErrBreakerOpen = stderrors.New("circuit breaker open")

// BreakerState is the state of a circuit breaker.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that close it.
	SuccessThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	Name     string
}

// CircuitBreaker fails fast while a shared dependency, such as the model
// backend, keeps failing. It does not hold its lock during calls, so
// concurrent tasks still reach the backend in parallel.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time
}

// NewCircuitBreaker creates a closed breaker, filling zero config fields.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "breaker"
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// Call runs fn unless the breaker is open. Only errors accepted by counts
// are recorded as failures; nil counts means every error counts.
func (cb *CircuitBreaker) Call(ctx context.Context, counts func(error) bool, fn func(context.Context) error) error {
	if cb == nil {
		return fn(ctx)
	}
	if !cb.allow() {
		return errors.New(errors.CodeLLMError, "backend unavailable", ErrBreakerOpen).
			WithContext("breaker", cb.cfg.Name)
	}
	err := fn(ctx)
	cb.record(err == nil || (counts != nil && !counts(err)))
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.Cooldown {
		cb.state = StateHalfOpen
		cb.successes = 0
	}
	return cb.state != StateOpen
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if ok {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.cfg.SuccessThreshold {
				cb.state = StateClosed
			}
		}
		return
	}
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		cb.state = StateOpen
		cb.openedAt = cb.now()
		cb.failures = 0
	}
}

// State returns the current state, moving to half-open once the cooldown
// has passed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.Cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
}
