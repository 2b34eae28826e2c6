// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/puppylab/miniagent/pkg/errors"
)

// Metrics holds the runtime instruments. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	transitions   metric.Int64Counter
	invocations   metric.Int64Counter
	skillDuration metric.Float64Histogram
	turns         metric.Int64Counter
	tokens        metric.Int64Counter
	errorsTotal   metric.Int64Counter
	activeTasks   metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(InstrumentationName)
	m := &Metrics{}
	var err error

	if m.transitions, err = meter.Int64Counter(
		"miniagent.tasks.transitions",
		metric.WithDescription("Task state transitions by source and target state"),
	); err != nil {
		return nil, err
	}
	if m.invocations, err = meter.Int64Counter(
		"miniagent.skills.invocations",
		metric.WithDescription("Skill invocations by skill and outcome kind"),
	); err != nil {
		return nil, err
	}
	if m.skillDuration, err = meter.Float64Histogram(
		"miniagent.skills.duration",
		metric.WithDescription("Skill invocation wall time"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.turns, err = meter.Int64Counter(
		"miniagent.session.turns",
		metric.WithDescription("Backend exchanges by reply kind"),
	); err != nil {
		return nil, err
	}
	if m.tokens, err = meter.Int64Counter(
		"miniagent.llm.tokens",
		metric.WithDescription("Tokens reported by the model backend"),
	); err != nil {
		return nil, err
	}
	if m.errorsTotal, err = meter.Int64Counter(
		"miniagent.errors.total",
		metric.WithDescription("Errors by code and component"),
	); err != nil {
		return nil, err
	}
	if m.activeTasks, err = meter.Int64UpDownCounter(
		"miniagent.tasks.active",
		metric.WithDescription("Tasks held by the orchestrator"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordTransition counts a task moving between states.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrTransitionFrom, from),
		attribute.String(AttrTransitionTo, to),
	))
}

// RecordInvocation counts one skill invocation and its duration.
func (m *Metrics) RecordInvocation(ctx context.Context, skill, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrSkillName, skill),
		attribute.String(AttrSkillOutcome, outcome),
	)
	m.invocations.Add(ctx, 1, attrs)
	m.skillDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

// RecordTurn counts one backend exchange and its token usage.
func (m *Metrics) RecordTurn(ctx context.Context, kind string, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.turns.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrReplyKind, kind)))
	if promptTokens > 0 {
		m.tokens.Add(ctx, int64(promptTokens), metric.WithAttributes(attribute.String("direction", "input")))
	}
	if completionTokens > 0 {
		m.tokens.Add(ctx, int64(completionTokens), metric.WithAttributes(attribute.String("direction", "output")))
	}
}

// RecordError counts err under its code.
func (m *Metrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	e := errors.As(err)
	m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, string(e.Code)),
		attribute.String(AttrComponent, component),
		attribute.String(AttrRecoverable, e.RecoverableString()),
	))
}

// TaskOpened and TaskClosed track the number of live tasks.
func (m *Metrics) TaskOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeTasks.Add(ctx, 1)
}

func (m *Metrics) TaskClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeTasks.Add(ctx, -1)
}
