// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package core holds the lifecycle events shared by the orchestrator and its
// front-ends, and small context helpers.
package core

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	EventTaskStarted    EventType = "task.started"
	EventTaskTransition EventType = "task.transition"
	EventSkillInvoked   EventType = "skill.invoked"
	EventTaskCompleted  EventType = "task.completed"
	EventTaskCancelled  EventType = "task.cancelled"
	EventTaskFailed     EventType = "task.failed"
	EventTaskClosed     EventType = "task.closed"
	EventAssistantDelta EventType = "assistant.delta"
)

// Event is one lifecycle notification.
type Event struct {
	Type      EventType
	TaskID    string
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives lifecycle events. Emit must not block for long; it
// is called from task loops.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter discards events.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType EventType, taskID string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(ctx context.Context, event Event)

// Emit implements EventEmitter.
func (f EmitterFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// LogEmitter writes every event to a slog logger at debug level.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements EventEmitter.
func (e LogEmitter) Emit(ctx context.Context, event Event) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{slog.String("task_id", event.TaskID)}
	for k, v := range event.Payload {
		attrs = append(attrs, slog.Any(k, v))
	}
	logger.DebugContext(ctx, string(event.Type), attrs...)
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements EventEmitter.
func (r *Recorder) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types, optionally limited to one task.
func (r *Recorder) Types(taskID string) []EventType {
	var out []EventType
	for _, ev := range r.Events() {
		if taskID == "" || ev.TaskID == taskID {
			out = append(out, ev.Type)
		}
	}
	return out
}

// Multi fans events out to several emitters.
func Multi(emitters ...EventEmitter) EventEmitter {
	return EmitterFunc(func(ctx context.Context, event Event) {
		for _, e := range emitters {
			if e != nil {
				e.Emit(ctx, event)
			}
		}
	})
}
