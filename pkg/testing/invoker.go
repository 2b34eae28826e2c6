// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"encoding/json"
	"maps"
	"sync"

	"github.com/puppylab/miniagent/pkg/skills"
)

// SkillCall records one invocation seen by a ScenarioInvoker.
type SkillCall struct {
	Skill string
	Args  map[string]any
}

// InvokeResponse is one queued invocation outcome.
type InvokeResponse struct {
	Output  string
	Failure *skills.Failure
	Err     error
	// Before runs when the response is used, before it is returned.
	Before func(ctx context.Context, args map[string]any)
}

// ScenarioInvoker is a skill invoker with per-skill scripted outcomes. It
// records every call. Skills without queued outcomes succeed with their
// arguments as JSON output.
type ScenarioInvoker struct {
	mu        sync.Mutex
	responses map[string][]InvokeResponse
	calls     []SkillCall
	onInvoke  func(ctx context.Context, d skills.Descriptor, args map[string]any) (skills.Result, error)
}

// NewScenarioInvoker creates an invoker with nothing queued.
func NewScenarioInvoker() *ScenarioInvoker {
	return &ScenarioInvoker{responses: make(map[string][]InvokeResponse)}
}

// AddResponse queues resp for skill.
func (i *ScenarioInvoker) AddResponse(skill string, resp InvokeResponse) *ScenarioInvoker {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.responses[skill] = append(i.responses[skill], resp)
	return i
}

// AddOutput queues a successful result.
func (i *ScenarioInvoker) AddOutput(skill, output string) *ScenarioInvoker {
	return i.AddResponse(skill, InvokeResponse{Output: output})
}

// AddFailure queues a failed result.
func (i *ScenarioInvoker) AddFailure(skill string, kind skills.FailureKind, message string) *ScenarioInvoker {
	return i.AddResponse(skill, InvokeResponse{Failure: &skills.Failure{Kind: kind, Message: message}})
}

// AddError queues an infrastructure error.
func (i *ScenarioInvoker) AddError(skill string, err error) *ScenarioInvoker {
	return i.AddResponse(skill, InvokeResponse{Err: err})
}

// WithInvokeFunc replaces the queue with fn.
func (i *ScenarioInvoker) WithInvokeFunc(fn func(ctx context.Context, d skills.Descriptor, args map[string]any) (skills.Result, error)) *ScenarioInvoker {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onInvoke = fn
	return i
}

// Invoke implements task.SkillInvoker.
func (i *ScenarioInvoker) Invoke(ctx context.Context, d skills.Descriptor, args map[string]any) (skills.Result, error) {
	i.mu.Lock()
	i.calls = append(i.calls, SkillCall{Skill: d.Name, Args: maps.Clone(args)})
	fn := i.onInvoke
	var (
		resp   InvokeResponse
		queued bool
	)
	if q := i.responses[d.Name]; len(q) > 0 {
		resp, queued = q[0], true
		i.responses[d.Name] = q[1:]
	}
	i.mu.Unlock()

	if fn != nil {
		return fn(ctx, d, args)
	}
	if !queued {
		data, _ := json.Marshal(args)
		return skills.Succeeded(d.Name, string(data), nil), nil
	}
	if resp.Before != nil {
		resp.Before(ctx, args)
	}
	if resp.Err != nil {
		return skills.Result{}, resp.Err
	}
	return skills.Result{Skill: d.Name, Output: resp.Output, Failure: resp.Failure}, nil
}

// Calls returns the recorded invocations in order.
func (i *ScenarioInvoker) Calls() []SkillCall {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]SkillCall(nil), i.calls...)
}

// CallCount returns the number of invocations.
func (i *ScenarioInvoker) CallCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.calls)
}

// Reset drops recorded calls and queued outcomes.
func (i *ScenarioInvoker) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = nil
	i.responses = make(map[string][]InvokeResponse)
}
