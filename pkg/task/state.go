// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package task

import "time"

// ID identifies a task for the lifetime of the process.
type ID string

// State is a task lifecycle state.
type State string

const (
	StateCreated        State = "created"
	StateRunning        State = "running"
	StateWaitingOnSkill State = "waiting_on_skill"
	StateCompleted      State = "completed"
	StateCancelled      State = "cancelled"
	StateFailed         State = "failed"
)

// Terminal reports whether no further transition is possible, follow-up
// mode aside.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	}
	return false
}

// Snapshot is a point-in-time view of a task.
type Snapshot struct {
	ID         ID        `json:"id"`
	Name       string    `json:"name"`
	State      State     `json:"state"`
	Steps      int       `json:"steps"`
	Failures   int       `json:"failures"`
	Messages   int       `json:"messages"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Err        string    `json:"error,omitempty"`
}

// Outcome is the result of driving a task with one input.
type Outcome struct {
	TaskID ID    `json:"task_id"`
	State  State `json:"state"`
	// Message is the final assistant message when State is completed.
	Message string `json:"message,omitempty"`
	// Steps counts the backend turns taken by this run.
	Steps int `json:"steps"`
}
