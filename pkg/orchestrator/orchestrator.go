// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator owns the live tasks of a process. It creates them,
// routes input to the one named, and enforces their lifecycle. Tasks share
// only the read-only skill registry and the skill invoker.
package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/puppylab/miniagent/pkg/core"
	"github.com/puppylab/miniagent/pkg/errors"
	"github.com/puppylab/miniagent/pkg/history"
	"github.com/puppylab/miniagent/pkg/llm"
	"github.com/puppylab/miniagent/pkg/resilience"
	"github.com/puppylab/miniagent/pkg/session"
	"github.com/puppylab/miniagent/pkg/skills"
	"github.com/puppylab/miniagent/pkg/task"
	"github.com/puppylab/miniagent/pkg/telemetry"
)

// ErrClosed is returned by StartTask and SendInput after Close.
var ErrClosed = stderrors.New("orchestrator: closed")

// Config holds the settings applied to every task.
type Config struct {
	Model            string
	Temperature      float64
	MaxContextTokens int
	SystemPrompt     string
	// WindowMessages limits the messages sent to the backend. Zero sends
	// the whole history.
	WindowMessages int
	Task           task.Config
	// Stream emits assistant text deltas as core.EventAssistantDelta.
	Stream bool
	// ArchiveAfter drops finished tasks idle for longer than this from the
	// table. Zero keeps them until CloseTask.
	ArchiveAfter  time.Duration
	SweepInterval time.Duration
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	provider llm.Provider
	registry *skills.Registry
	invoker  task.SkillInvoker
	cfg      Config

	logger  *slog.Logger
	metrics *telemetry.Metrics
	emitter core.EventEmitter
	store   history.Store
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	now     func() time.Time

	mu     sync.RWMutex
	tasks  map[task.ID]*task.Task
	order  []task.ID
	nextID uint64
	closed bool

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e core.EventEmitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithStore mirrors every task history into store.
func WithStore(s history.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithRetry sets the backend retry policy of every session.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(o *Orchestrator) { o.retry = rc }
}

// WithBreaker shares cb between all sessions.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(o *Orchestrator) { o.breaker = cb }
}

// New creates an orchestrator. The registry may be nil, in which case no
// skills are advertised and every tool call is an unknown skill.
func New(provider llm.Provider, registry *skills.Registry, invoker task.SkillInvoker, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider: provider,
		registry: registry,
		invoker:  invoker,
		cfg:      cfg,
		logger:   slog.Default(),
		emitter:  core.NoopEventEmitter{},
		retry:    resilience.DefaultRetryConfig(),
		now:      time.Now,
		tasks:    make(map[task.ID]*task.Task),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.emitter == nil {
		o.emitter = core.NoopEventEmitter{}
	}
	o.startSweeper()
	return o
}

// StartTask creates a task in the created state. Ids are never reused.
func (o *Orchestrator) StartTask(ctx context.Context, name string) (task.ID, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrClosed
	}
	o.nextID++
	id := task.ID(fmt.Sprintf("task-%d", o.nextID))
	if name == "" {
		name = string(id)
	}
	t := task.New(id, name, o.newSession(id), o.registry, o.invoker, o.cfg.Task,
		task.WithLogger(o.logger),
		task.WithMetrics(o.metrics),
		task.WithEmitter(o.emitter),
	)
	o.tasks[id] = t
	o.order = append(o.order, id)
	o.mu.Unlock()

	o.metrics.TaskOpened(ctx)
	o.logger.InfoContext(ctx, "task.started", slog.String("task_id", string(id)), slog.String("name", name))
	o.emitter.Emit(ctx, core.NewEvent(core.EventTaskStarted, string(id), map[string]any{"name": name}))
	return id, nil
}

func (o *Orchestrator) newSession(id task.ID) *session.Session {
	opts := []session.Option{
		session.WithLogger(o.logger.With(slog.String("task_id", string(id)))),
		session.WithMetrics(o.metrics),
		session.WithRetry(o.retry),
		session.WithBreaker(o.breaker),
	}
	if o.store != nil {
		opts = append(opts, session.WithStore(o.store))
	}
	if o.cfg.WindowMessages > 0 {
		opts = append(opts, session.WithWindow(history.NewWindowStrategy(o.cfg.WindowMessages, true)))
	}
	if o.cfg.Stream {
		opts = append(opts, session.WithDeltaHandler(func(delta string) {
			o.emitter.Emit(context.Background(), core.NewEvent(core.EventAssistantDelta, string(id), map[string]any{"delta": delta}))
		}))
	}

	var tools []llm.Tool
	if o.registry != nil {
		tools = o.registry.Catalog()
	}
	return session.New(o.provider, session.Config{
		Model:            o.cfg.Model,
		Temperature:      o.cfg.Temperature,
		Tools:            tools,
		MaxContextTokens: o.cfg.MaxContextTokens,
		SystemPrompt:     o.cfg.SystemPrompt,
	}, opts...)
}

func (o *Orchestrator) lookup(id task.ID) (*task.Task, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.tasks[id]
	if !ok {
		return nil, errors.UnknownTask(string(id))
	}
	return t, nil
}

// SendInput appends text to the named task and drives its loop until the
// model answers or the task reaches a terminal state. Missing and finished
// tasks are errors.ErrUnknownTask; a task whose loop is already in flight is
// errors.ErrTaskBusy.
func (o *Orchestrator) SendInput(ctx context.Context, id task.ID, text string) (task.Outcome, error) {
	o.mu.RLock()
	closed := o.closed
	o.mu.RUnlock()
	if closed {
		return task.Outcome{TaskID: id}, ErrClosed
	}

	t, err := o.lookup(id)
	if err != nil {
		return task.Outcome{TaskID: id}, err
	}
	if !t.Accepting() {
		return task.Outcome{TaskID: id, State: t.State()}, errors.UnknownTask(string(id))
	}
	return t.Run(ctx, text)
}

// CancelTask sets the cancellation flag of the named task and returns
// without waiting for the task to observe it.
func (o *Orchestrator) CancelTask(id task.ID) error {
	t, err := o.lookup(id)
	if err != nil {
		return err
	}
	if !t.Accepting() {
		return errors.UnknownTask(string(id))
	}
	t.Cancel()
	o.logger.Info("task.cancel.requested", slog.String("task_id", string(id)))
	return nil
}

// ListTasks returns a snapshot of every task in creation order.
func (o *Orchestrator) ListTasks() []task.Snapshot {
	o.mu.RLock()
	tasks := make([]*task.Task, 0, len(o.order))
	for _, id := range o.order {
		tasks = append(tasks, o.tasks[id])
	}
	o.mu.RUnlock()

	out := make([]task.Snapshot, len(tasks))
	for i, t := range tasks {
		out[i] = t.Snapshot()
	}
	return out
}

// Snapshot returns the snapshot of one task.
func (o *Orchestrator) Snapshot(id task.ID) (task.Snapshot, error) {
	t, err := o.lookup(id)
	if err != nil {
		return task.Snapshot{}, err
	}
	return t.Snapshot(), nil
}

// History returns the messages of a task, including cancelled and failed
// ones that have not been closed.
func (o *Orchestrator) History(id task.ID) ([]history.Message, error) {
	t, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	return t.History(), nil
}

// CloseTask closes the task session and removes it from the table. A task
// with a loop in flight is errors.ErrTaskBusy; cancel it first.
func (o *Orchestrator) CloseTask(ctx context.Context, id task.ID) error {
	t, err := o.lookup(id)
	if err != nil {
		return err
	}
	return o.remove(ctx, t)
}

func (o *Orchestrator) remove(ctx context.Context, t *task.Task) error {
	if err := t.Close(); err != nil {
		return err
	}

	o.mu.Lock()
	if _, ok := o.tasks[t.ID()]; !ok {
		o.mu.Unlock()
		return nil
	}
	delete(o.tasks, t.ID())
	for i, id := range o.order {
		if id == t.ID() {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	o.mu.Unlock()

	o.metrics.TaskClosed(ctx)
	o.logger.InfoContext(ctx, "task.closed", slog.String("task_id", string(t.ID())), slog.String("state", string(t.State())))
	o.emitter.Emit(ctx, core.NewEvent(core.EventTaskClosed, string(t.ID()), nil))
	return nil
}

// Close cancels every task, waits for in-flight loops to end or ctx to be
// done, and closes all sessions and the history store. Tasks whose loop is
// still in flight when ctx is done stay open, and so does the store.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	tasks := make([]*task.Task, 0, len(o.tasks))
	for _, id := range o.order {
		tasks = append(tasks, o.tasks[id])
	}
	o.mu.Unlock()

	o.stopSweeper()

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		t.Cancel()
		g.Go(func() error {
			if err := t.Wait(gctx); err != nil {
				return fmt.Errorf("wait for %s: %w", t.ID(), err)
			}
			return nil
		})
	}
	err := g.Wait()

	busy := false
	for _, t := range tasks {
		if rerr := o.remove(context.WithoutCancel(ctx), t); rerr != nil {
			busy = true
			o.logger.WarnContext(ctx, "task.close.skipped", slog.String("task_id", string(t.ID())), slog.String("error", rerr.Error()))
		}
	}
	if busy {
		return err
	}
	if o.store != nil {
		err = stderrors.Join(err, o.store.Close())
	}
	return err
}
