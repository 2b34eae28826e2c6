// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the conversation session owned by a task: an
// append-only message history and the exchange with the model backend.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/puppylab/miniagent/pkg/history"
	"github.com/puppylab/miniagent/pkg/llm"
	"github.com/puppylab/miniagent/pkg/resilience"
	"github.com/puppylab/miniagent/pkg/skills"
	"github.com/puppylab/miniagent/pkg/telemetry"
)

var (
	// ErrSessionClosed is returned by every mutating call on a closed session.
	ErrSessionClosed = stderrors.New("session: closed")

	// ErrUnpairedToolResult is returned when a tool result does not answer
	// the pending tool call.
	ErrUnpairedToolResult = stderrors.New("session: tool result does not answer the pending tool call")

	// ErrToolResultPending is returned by Turn while a tool call is still
	// unanswered.
	ErrToolResultPending = stderrors.New("session: pending tool call has no result")
)

// Config holds the backend request settings of a session.
type Config struct {
	Model       string
	Temperature float64
	// Tools is the catalog advertised with every request.
	Tools []llm.Tool
	// MaxContextTokens bounds the estimated size of the model-facing view.
	// Zero disables the check.
	MaxContextTokens int
	// SystemPrompt, when set, is the first message of the history.
	SystemPrompt string
}

// Session is one isolated conversation. It is safe for concurrent use, but
// a task drives it from a single loop.
type Session struct {
	id       string
	cfg      Config
	provider llm.Provider

	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	store   history.Store
	window  history.Strategy
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	onDelta func(string)

	mu       sync.Mutex
	messages []history.Message
	seq      int64
	pending  *llm.ToolCall
	closed   bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithStore mirrors every appended message into store.
func WithStore(store history.Store) Option {
	return func(s *Session) { s.store = store }
}

// WithWindow shrinks the model-facing view before each request. The stored
// history is not affected.
func WithWindow(w history.Strategy) Option {
	return func(s *Session) { s.window = w }
}

// WithRetry sets the backend retry policy.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(s *Session) { s.retry = rc }
}

// WithBreaker routes backend calls through a shared circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *Session) { s.breaker = cb }
}

// WithDeltaHandler streams assistant text to fn when the backend supports
// streaming.
func WithDeltaHandler(fn func(delta string)) Option {
	return func(s *Session) { s.onDelta = fn }
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// New creates a session talking to provider.
func New(provider llm.Provider, cfg Config, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		provider: provider,
		logger:   slog.Default(),
		tracer:   telemetry.Tracer(),
		retry:    resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if cfg.SystemPrompt != "" {
		_ = s.AppendSystem(cfg.SystemPrompt)
	}
	return s
}

// ID returns the session id, also used as the history store key.
func (s *Session) ID() string { return s.id }

// AppendUser appends a user message.
func (s *Session) AppendUser(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.appendLocked(context.Background(), history.Message{Role: llm.RoleUser, Content: text})
	return nil
}

// AppendSystem appends a system message.
func (s *Session) AppendSystem(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.appendLocked(context.Background(), history.Message{Role: llm.RoleSystem, Content: text})
	return nil
}

// AppendToolResult appends result as the answer to the pending tool call
// callID. It must directly follow the call, so any other callID, or no
// pending call, is ErrUnpairedToolResult.
func (s *Session) AppendToolResult(callID string, result skills.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.pending == nil || s.pending.ID != callID {
		return fmt.Errorf("%w: %q", ErrUnpairedToolResult, callID)
	}
	s.appendLocked(context.Background(), history.Message{
		Role:       llm.RoleTool,
		Content:    result.ToolContent(),
		ToolCallID: callID,
		Failure:    !result.OK(),
	})
	s.pending = nil
	return nil
}

// Messages returns a copy of the history in insertion order.
func (s *Session) Messages() []history.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of messages.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Close marks the session closed. The history stays readable.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) appendLocked(ctx context.Context, msg history.Message) {
	s.seq++
	msg.ID = uuid.NewString()
	msg.SessionID = s.id
	msg.Seq = s.seq
	msg.CreatedAt = time.Now().UTC()
	s.messages = append(s.messages, msg)

	if s.store == nil {
		return
	}
	if err := s.store.Append(ctx, s.id, msg.Clone()); err != nil {
		s.logger.WarnContext(ctx, "session.store.append_failed",
			slog.String("session_id", s.id),
			slog.Int64("seq", msg.Seq),
			slog.String("error", err.Error()),
		)
	}
}
