// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/puppylab/miniagent/pkg/core"
	"github.com/puppylab/miniagent/pkg/errors"
	"github.com/puppylab/miniagent/pkg/session"
	"github.com/puppylab/miniagent/pkg/skills"
	"github.com/puppylab/miniagent/pkg/telemetry"
)

// Run appends input as a user message and drives the turn loop until the
// model sends a final message, the cancellation flag is observed, or an
// error fails the task.
//
// Data-level skill failures never end the loop; they are appended as tool
// results for the model to see. A run already in flight makes Run return
// errors.ErrTaskBusy, and a task that no longer accepts input returns
// errors.ErrUnknownTask.
func (t *Task) Run(ctx context.Context, input string) (Outcome, error) {
	if !t.run.TryLock() {
		return Outcome{TaskID: t.id, State: t.State()}, errors.TaskBusy(string(t.id))
	}
	defer t.run.Unlock()

	t.mu.Lock()
	t.done = make(chan struct{})
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		close(t.done)
		t.done = nil
		t.mu.Unlock()
	}()

	if !t.Accepting() {
		return Outcome{TaskID: t.id, State: t.State()}, errors.UnknownTask(string(t.id))
	}

	ctx = core.WithTaskID(ctx, string(t.id))
	ctx, span := t.tracer.Start(ctx, "Task.Run",
		trace.WithAttributes(telemetry.TaskAttributes(string(t.id), t.name, string(t.State()))...),
	)
	defer span.End()

	if err := t.session.AppendUser(input); err != nil {
		return t.fail(ctx, span, Outcome{TaskID: t.id}, err)
	}
	t.transition(ctx, StateRunning)

	out := Outcome{TaskID: t.id}
	for out.Steps < t.cfg.MaxSteps {
		if t.cancelled.Load() {
			t.transition(ctx, StateCancelled)
			out.State = StateCancelled
			span.SetAttributes(attribute.String(telemetry.AttrTaskState, string(out.State)))
			return out, nil
		}

		t.logger.DebugContext(ctx, "task.turn.start", slog.Int("step", out.Steps+1))
		reply, err := t.session.Turn(ctx)
		if err != nil {
			return t.fail(ctx, span, out, err)
		}
		out.Steps++
		t.mu.Lock()
		t.steps++
		t.mu.Unlock()

		switch r := reply.(type) {
		case session.FinalMessage:
			t.transition(ctx, StateCompleted)
			out.State = StateCompleted
			out.Message = r.Content
			span.SetAttributes(
				attribute.String(telemetry.AttrTaskState, string(out.State)),
				attribute.Int(telemetry.AttrTaskStep, out.Steps),
			)
			t.logger.InfoContext(ctx, "task.completed", slog.Int("steps", out.Steps))
			return out, nil

		case session.ToolCallRequest:
			t.transition(ctx, StateWaitingOnSkill)
			result, err := t.invoke(ctx, r)
			if err != nil {
				return t.fail(ctx, span, out, err)
			}
			if err := t.session.AppendToolResult(r.CallID, result); err != nil {
				return t.fail(ctx, span, out, err)
			}
			if !result.OK() {
				t.mu.Lock()
				t.failures++
				t.mu.Unlock()
			}
			t.transition(ctx, StateRunning)

		default:
			return t.fail(ctx, span, out, fmt.Errorf("unexpected reply %T", reply))
		}
	}

	err := errors.New(errors.CodeTimeout, "task exceeded its step limit", nil).
		WithContext("max_steps", t.cfg.MaxSteps)
	return t.fail(ctx, span, out, err)
}

// invoke resolves and runs one tool call. Unknown skills and bad arguments
// become failure results; only errors that should fail the task are
// returned.
func (t *Task) invoke(ctx context.Context, call session.ToolCallRequest) (skills.Result, error) {
	logger := t.logger.With(
		slog.String("skill", call.Name),
		slog.String("call_id", call.CallID),
	)
	t.emitter.Emit(ctx, core.NewEvent(core.EventSkillInvoked, string(t.id), map[string]any{
		"skill":   call.Name,
		"call_id": call.CallID,
	}))

	d, err := t.resolver.Resolve(call.Name)
	if err != nil {
		if !stderrors.Is(err, errors.ErrUnknownSkill) {
			return skills.Result{}, err
		}
		logger.WarnContext(ctx, "task.skill.unknown")
		return skills.Failed(call.Name, skills.FailureUnknownSkill, errors.As(err).Message), nil
	}

	req, err := call.Invocation()
	if err != nil {
		logger.WarnContext(ctx, "task.skill.bad_arguments", slog.String("error", err.Error()))
		return skills.Failed(call.Name, skills.FailureValidation, err.Error()), nil
	}

	result, err := t.invoker.Invoke(ctx, d, req.Arguments)
	if err != nil {
		if !stderrors.Is(err, errors.ErrValidation) {
			return skills.Result{}, err
		}
		if result.Failure == nil {
			result = skills.Failed(call.Name, skills.FailureValidation, errors.As(err).Message)
		}
	}
	logger.DebugContext(ctx, "task.skill.result", slog.String("outcome", result.Kind()))
	return result, nil
}

func (t *Task) fail(ctx context.Context, span trace.Span, out Outcome, err error) (Outcome, error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.transition(ctx, StateFailed)

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	t.metrics.RecordError(ctx, err, "task")
	t.logger.ErrorContext(ctx, "task.failed",
		slog.String("code", string(errors.CodeOf(err))),
		slog.String("error", err.Error()),
	)
	t.emitter.Emit(ctx, core.NewEvent(core.EventTaskFailed, string(t.id), map[string]any{
		"error": err.Error(),
	}))

	out.State = StateFailed
	return out, err
}
