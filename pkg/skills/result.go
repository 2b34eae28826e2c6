// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"encoding/json"
	"maps"
)

// FailureKind classifies a failed invocation.
type FailureKind string

const (
	FailureValidation   FailureKind = "validation"
	FailureUnknownSkill FailureKind = "unknown_skill"
	FailureTimeout      FailureKind = "timeout"
	FailureExitStatus   FailureKind = "exit_status"
)

// Failure describes why an invocation did not succeed.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Result is the captured outcome of one invocation. It is serialized into
// the conversation exactly once, as a tool-result message.
type Result struct {
	Skill    string         `json:"skill"`
	Output   string         `json:"output,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Failure  *Failure       `json:"failure,omitempty"`
}

// Succeeded builds a success result.
func Succeeded(skill, output string, metadata map[string]any) Result {
	return Result{Skill: skill, Output: output, Metadata: maps.Clone(metadata)}
}

// Failed builds a failure result.
func Failed(skill string, kind FailureKind, message string) Result {
	return Result{Skill: skill, Failure: &Failure{Kind: kind, Message: message}}
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool {
	return r.Failure == nil
}

// Kind returns the failure kind, or "ok".
func (r Result) Kind() string {
	if r.Failure == nil {
		return "ok"
	}
	return string(r.Failure.Kind)
}

// ToolContent renders the result as the body of a tool-result message.
func (r Result) ToolContent() string {
	data, err := json.Marshal(r)
	if err != nil {
		// Metadata holds only plain values; fall back to the bare output.
		return r.Output
	}
	return string(data)
}
