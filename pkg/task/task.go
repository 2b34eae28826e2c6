// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package task implements a task: one conversation session with an
// identity, a lifecycle state and a cooperative cancellation flag, driven by
// a sequential turn loop.
package task

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/puppylab/miniagent/pkg/core"
	"github.com/puppylab/miniagent/pkg/errors"
	"github.com/puppylab/miniagent/pkg/history"
	"github.com/puppylab/miniagent/pkg/session"
	"github.com/puppylab/miniagent/pkg/skills"
	"github.com/puppylab/miniagent/pkg/telemetry"
)

// DefaultMaxSteps bounds the backend turns of a single run.
const DefaultMaxSteps = 16

// Resolver looks skills up by name.
type Resolver interface {
	Resolve(name string) (skills.Descriptor, error)
}

// SkillInvoker runs one skill invocation.
type SkillInvoker interface {
	Invoke(ctx context.Context, d skills.Descriptor, args map[string]any) (skills.Result, error)
}

// Config holds the loop limits.
type Config struct {
	MaxSteps int
	// AllowFollowUp lets a completed task accept new input.
	AllowFollowUp bool
}

// Task owns exactly one session. Run is serialized; the other methods may
// be called concurrently with it.
type Task struct {
	id       ID
	name     string
	session  *session.Session
	resolver Resolver
	invoker  SkillInvoker
	cfg      Config

	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	emitter core.EventEmitter

	run       sync.Mutex
	cancelled atomic.Bool

	mu         sync.Mutex
	state      State
	steps      int
	failures   int
	createdAt  time.Time
	lastActive time.Time
	err        error
	// done is non-nil while a run is in flight and closed when it ends.
	done chan struct{}
}

// Option configures a Task.
type Option func(*Task)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Task) { t.logger = l }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(t *Task) { t.metrics = m }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e core.EventEmitter) Option {
	return func(t *Task) { t.emitter = e }
}

// New creates a task in the created state.
func New(id ID, name string, sess *session.Session, resolver Resolver, invoker SkillInvoker, cfg Config, opts ...Option) *Task {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	now := time.Now().UTC()
	t := &Task{
		id:         id,
		name:       name,
		session:    sess,
		resolver:   resolver,
		invoker:    invoker,
		cfg:        cfg,
		logger:     slog.Default(),
		tracer:     telemetry.Tracer(),
		emitter:    core.NoopEventEmitter{},
		state:      StateCreated,
		createdAt:  now,
		lastActive: now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.emitter == nil {
		t.emitter = core.NoopEventEmitter{}
	}
	t.logger = t.logger.With(slog.String("task_id", string(id)))
	return t
}

// ID returns the task id.
func (t *Task) ID() ID { return t.id }

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// State returns the current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Accepting reports whether the task takes new input.
func (t *Task) Accepting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acceptingLocked()
}

func (t *Task) acceptingLocked() bool {
	if t.state == StateCompleted && t.cfg.AllowFollowUp && !t.cancelled.Load() {
		return true
	}
	return !t.state.Terminal()
}

// Cancel sets the cancellation flag and returns immediately. A running loop
// observes it at its next check point; an idle task is cancelled at once.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
	if !t.run.TryLock() {
		return
	}
	defer t.run.Unlock()
	t.mu.Lock()
	idle := t.state == StateCreated || (t.state == StateCompleted && t.cfg.AllowFollowUp)
	t.mu.Unlock()
	if idle {
		t.transition(context.Background(), StateCancelled)
	}
}

// Wait blocks until no run is in flight or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Busy reports whether a run is in flight.
func (t *Task) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done != nil
}

// CancelRequested reports whether Cancel was called.
func (t *Task) CancelRequested() bool {
	return t.cancelled.Load()
}

// History returns the session messages. The history of cancelled and
// failed tasks is kept.
func (t *Task) History() []history.Message {
	return t.session.Messages()
}

// Session returns the task's session.
func (t *Task) Session() *session.Session {
	return t.session
}

// Close closes the session. A task that was not finished is cancelled. A run
// in flight makes Close return errors.ErrTaskBusy and leaves the task open.
func (t *Task) Close() error {
	if !t.run.TryLock() {
		return errors.TaskBusy(string(t.id))
	}
	defer t.run.Unlock()
	t.cancelled.Store(true)
	t.mu.Lock()
	active := !t.state.Terminal()
	t.mu.Unlock()
	if active {
		t.transition(context.Background(), StateCancelled)
	}
	t.session.Close()
	return nil
}

// Snapshot returns the current task attributes.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{
		ID:         t.id,
		Name:       t.name,
		State:      t.state,
		Steps:      t.steps,
		Failures:   t.failures,
		Messages:   t.session.Len(),
		CreatedAt:  t.createdAt,
		LastActive: t.lastActive,
	}
	if t.err != nil {
		snap.Err = t.err.Error()
	}
	return snap
}

// transition moves the task to state to and reports whether it did. Nothing
// leaves cancelled or failed, and completed is left only in follow-up mode.
func (t *Task) transition(ctx context.Context, to State) bool {
	t.mu.Lock()
	from := t.state
	if from == to {
		t.lastActive = time.Now().UTC()
		t.mu.Unlock()
		return true
	}
	if !t.canLeaveLocked(from, to) {
		t.mu.Unlock()
		t.logger.DebugContext(ctx, "task.transition.refused",
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return false
	}
	t.state = to
	t.lastActive = time.Now().UTC()
	t.mu.Unlock()

	t.metrics.RecordTransition(ctx, string(from), string(to))
	t.logger.DebugContext(ctx, "task.transition",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	t.emitter.Emit(ctx, core.NewEvent(core.EventTaskTransition, string(t.id), map[string]any{
		"from": string(from),
		"to":   string(to),
	}))

	switch to {
	case StateCompleted:
		t.emitter.Emit(ctx, core.NewEvent(core.EventTaskCompleted, string(t.id), nil))
	case StateCancelled:
		t.emitter.Emit(ctx, core.NewEvent(core.EventTaskCancelled, string(t.id), nil))
	}
	return true
}

func (t *Task) canLeaveLocked(from, to State) bool {
	switch from {
	case StateCancelled, StateFailed:
		return false
	case StateCompleted:
		return t.cfg.AllowFollowUp && (to == StateRunning || to == StateCancelled)
	}
	return true
}
