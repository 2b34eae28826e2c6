// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/puppylab/miniagent/pkg/errors"
	"github.com/puppylab/miniagent/pkg/history"
	"github.com/puppylab/miniagent/pkg/llm"
	"github.com/puppylab/miniagent/pkg/resilience"
	"github.com/puppylab/miniagent/pkg/telemetry"
)

// Turn sends the history and tool catalog to the backend and appends what
// it received. Only the first tool call of a response is kept.
//
// An oversized history, by estimate or by backend rejection, is returned as
// an errors.ErrContextOverflow error and nothing is appended.
func (s *Session) Turn(ctx context.Context) (Reply, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.pending != nil {
		s.mu.Unlock()
		return nil, ErrToolResultPending
	}
	view := s.messages
	if s.window != nil {
		view = s.window.Window(view)
	}
	req := llm.ChatRequest{
		Model:       s.cfg.Model,
		Messages:    make([]llm.Message, len(view)),
		Tools:       s.cfg.Tools,
		Temperature: s.cfg.Temperature,
	}
	for i, m := range view {
		req.Messages[i] = m.LLM()
	}
	estimate := history.EstimateTokens(view)
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "Session.Turn",
		trace.WithAttributes(telemetry.LLMAttributes(s.id, s.cfg.Model, len(req.Messages), len(req.Tools))...),
	)
	defer span.End()

	fail := func(err error) (Reply, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordError(ctx, err, "session")
		return nil, err
	}

	if limit := s.cfg.MaxContextTokens; limit > 0 && estimate > limit {
		return fail(errors.ContextOverflow(estimate, limit, nil))
	}

	retry := s.retry
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.WarnContext(ctx, "session.turn.retry",
			slog.String("session_id", s.id),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}
	resp, err := resilience.Retry(ctx, retry, func(ctx context.Context) (*llm.ChatResponse, error) {
		var resp *llm.ChatResponse
		err := s.breaker.Call(ctx, countsAgainstBackend, func(ctx context.Context) error {
			var err error
			resp, err = s.complete(ctx, req)
			return err
		})
		return resp, err
	})
	if err != nil {
		switch {
		case stderrors.Is(err, llm.ErrContextOverflow):
			err = errors.ContextOverflow(estimate, s.cfg.MaxContextTokens, err)
		case stderrors.Is(err, resilience.ErrBreakerOpen):
		default:
			err = errors.LLM(err, s.cfg.Model)
		}
		return fail(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fail(ErrSessionClosed)
	}

	msg := history.Message{Role: llm.RoleAssistant, Content: resp.Content}
	var reply Reply = FinalMessage{Content: resp.Content}
	if len(resp.ToolCalls) > 0 {
		tc := resp.ToolCalls[0]
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()
		}
		tc.Type = llm.ToolTypeFunction
		if tc.Function.Arguments == "" {
			tc.Function.Arguments = "{}"
		}
		msg.ToolCall = &tc
		s.pending = &tc
		reply = ToolCallRequest{
			CallID:    tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
			Content:   resp.Content,
		}
		if len(resp.ToolCalls) > 1 {
			s.logger.DebugContext(ctx, "session.turn.extra_tool_calls_dropped",
				slog.String("session_id", s.id),
				slog.Int("count", len(resp.ToolCalls)-1),
			)
		}
	}
	s.appendLocked(ctx, msg)

	kind := replyKind(reply)
	span.SetAttributes(attribute.String(telemetry.AttrReplyKind, kind))
	span.SetAttributes(telemetry.LLMUsageAttributes(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, len(resp.ToolCalls))...)
	s.metrics.RecordTurn(ctx, kind, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return reply, nil
}

func (s *Session) complete(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if s.onDelta != nil {
		if sp, ok := s.provider.(llm.StreamingProvider); ok {
			chunks, err := sp.ChatStream(ctx, req)
			if err != nil {
				return nil, err
			}
			return llm.Collect(chunks, s.onDelta)
		}
	}
	return s.provider.Chat(ctx, req)
}

// countsAgainstBackend reports whether err says something about backend
// health. Oversized requests and caller cancellation do not.
func countsAgainstBackend(err error) bool {
	return !stderrors.Is(err, llm.ErrContextOverflow) &&
		!stderrors.Is(err, context.Canceled) &&
		!stderrors.Is(err, context.DeadlineExceeded)
}

func replyKind(r Reply) string {
	switch r.(type) {
	case ToolCallRequest:
		return "tool_call"
	default:
		return "final"
	}
}
