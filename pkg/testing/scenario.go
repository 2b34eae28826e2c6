// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing drives tasks end to end in tests.
//
// A Harness wires an orchestrator to a scripted model backend, a scripted
// skill invoker and an event recorder. A Scenario sends one or more inputs
// to a fresh task and checks declarative expectations on the outcome:
//
//	h := testing.NewHarness(t, testing.LoadSkills(t, testing.SkillDoc("echo", "Print text.", "echo {text}", "text: text to print")))
//	h.Provider.Enqueue(llm.CallTool("c1", "echo", map[string]any{"text": "hi"}), llm.Reply("done"))
//
//	s := testing.NewScenario("echo once").
//	    WithInput("say hi").
//	    ExpectState(task.StateCompleted).
//	    ExpectSkillCall("echo")
//	h.Run(t, s).Assert(t)
package testing

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/puppylab/miniagent/pkg/core"
	"github.com/puppylab/miniagent/pkg/errors"
	"github.com/puppylab/miniagent/pkg/llm"
	"github.com/puppylab/miniagent/pkg/orchestrator"
	"github.com/puppylab/miniagent/pkg/resilience"
	"github.com/puppylab/miniagent/pkg/skills"
	"github.com/puppylab/miniagent/pkg/task"
	"github.com/puppylab/miniagent/pkg/telemetry"
)

// TaskRunner is the orchestrator surface a scenario drives.
type TaskRunner interface {
	StartTask(ctx context.Context, name string) (task.ID, error)
	SendInput(ctx context.Context, id task.ID, text string) (task.Outcome, error)
}

// Scenario is a declarative task run.
type Scenario struct {
	name         string
	inputs       []string
	timeout      time.Duration
	expectations []Expectation
}

// Expectation is a condition checked against a scenario result.
type Expectation interface {
	Check(result *ScenarioResult) error
	Description() string
}

// ScenarioResult is what a scenario observed. Events holds only the events
// of the scenario's task.
type ScenarioResult struct {
	TaskID   task.ID
	Outcome  task.Outcome
	Outcomes []task.Outcome
	Error    error
	Events   []core.Event
	Duration time.Duration

	scenario *Scenario
}

// NewScenario creates a scenario with a 30s timeout.
func NewScenario(name string) *Scenario {
	return &Scenario{name: name, timeout: 30 * time.Second}
}

// WithInput appends an input. Inputs are sent in order and the run stops
// at the first error.
func (s *Scenario) WithInput(input string) *Scenario {
	s.inputs = append(s.inputs, input)
	return s
}

// WithTimeout bounds the whole run.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// Expect adds an expectation.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectState expects the final outcome state.
func (s *Scenario) ExpectState(state task.State) *Scenario {
	return s.Expect(check(fmt.Sprintf("state %s", state), func(r *ScenarioResult) error {
		if r.Outcome.State != state {
			return fmt.Errorf("state is %q", r.Outcome.State)
		}
		return nil
	}))
}

// ExpectMessage expects the final assistant message to match.
func (s *Scenario) ExpectMessage(m StringMatcher) *Scenario {
	return s.Expect(check("message "+m.Description(), func(r *ScenarioResult) error {
		if !m.Match(r.Outcome.Message) {
			return fmt.Errorf("message %q does not match", r.Outcome.Message)
		}
		return nil
	}))
}

// ExpectNoError expects every input to be accepted and run without error.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(check("no error", func(r *ScenarioResult) error {
		if r.Error != nil {
			return fmt.Errorf("got %v", r.Error)
		}
		return nil
	}))
}

// ExpectErrorCode expects the run to stop with a typed error of code.
func (s *Scenario) ExpectErrorCode(code errors.ErrorCode) *Scenario {
	return s.Expect(check(fmt.Sprintf("error code %s", code), func(r *ScenarioResult) error {
		if r.Error == nil {
			return fmt.Errorf("got no error")
		}
		if got := errors.CodeOf(r.Error); got != code {
			return fmt.Errorf("got code %s (%v)", got, r.Error)
		}
		return nil
	}))
}

// ExpectSkillCall expects at least one invocation of skill.
func (s *Scenario) ExpectSkillCall(skill string) *Scenario {
	return s.Expect(check(fmt.Sprintf("skill %q called", skill), func(r *ScenarioResult) error {
		if !slices.Contains(r.SkillCalls(), skill) {
			return fmt.Errorf("calls were %v", r.SkillCalls())
		}
		return nil
	}))
}

// ExpectNoSkillCalls expects the model never to request a skill.
func (s *Scenario) ExpectNoSkillCalls() *Scenario {
	return s.Expect(check("no skill calls", func(r *ScenarioResult) error {
		if calls := r.SkillCalls(); len(calls) > 0 {
			return fmt.Errorf("calls were %v", calls)
		}
		return nil
	}))
}

// ExpectEvent expects an event of type t for the task.
func (s *Scenario) ExpectEvent(t core.EventType) *Scenario {
	return s.Expect(check(fmt.Sprintf("event %s", t), func(r *ScenarioResult) error {
		for _, ev := range r.Events {
			if ev.Type == t {
				return nil
			}
		}
		return fmt.Errorf("event not emitted")
	}))
}

// ExpectTransitions expects exactly these target states, in order.
func (s *Scenario) ExpectTransitions(states ...task.State) *Scenario {
	return s.Expect(check(fmt.Sprintf("transitions %v", states), func(r *ScenarioResult) error {
		if got := r.Transitions(); !slices.Equal(got, states) {
			return fmt.Errorf("got %v", got)
		}
		return nil
	}))
}

// ExpectMaxDuration expects the run to finish within d.
func (s *Scenario) ExpectMaxDuration(d time.Duration) *Scenario {
	return s.Expect(check(fmt.Sprintf("duration <= %v", d), func(r *ScenarioResult) error {
		if r.Duration > d {
			return fmt.Errorf("took %v", r.Duration)
		}
		return nil
	}))
}

// Run starts a task named after the scenario and sends every input. Events
// are read from events, which must be the runner's emitter; it may be nil.
func (s *Scenario) Run(t *testing.T, runner TaskRunner, events *core.Recorder) *ScenarioResult {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	res := &ScenarioResult{scenario: s}
	start := time.Now()
	id, err := runner.StartTask(ctx, s.name)
	if err != nil {
		t.Fatalf("scenario %q: start task: %v", s.name, err)
	}
	res.TaskID = id
	for _, input := range s.inputs {
		out, err := runner.SendInput(ctx, id, input)
		res.Outcomes = append(res.Outcomes, out)
		res.Outcome = out
		if err != nil {
			res.Error = err
			break
		}
	}
	res.Duration = time.Since(start)

	if events != nil {
		for _, ev := range events.Events() {
			if ev.TaskID == string(id) {
				res.Events = append(res.Events, ev)
			}
		}
	}
	return res
}

// Assert reports every failed expectation.
func (r *ScenarioResult) Assert(t *testing.T) {
	t.Helper()
	for _, exp := range r.scenario.expectations {
		if err := exp.Check(r); err != nil {
			t.Errorf("scenario %q: expected %s: %v", r.scenario.name, exp.Description(), err)
		}
	}
}

// SkillCalls returns the skills the task invoked, in order.
func (r *ScenarioResult) SkillCalls() []string {
	var out []string
	for _, ev := range r.Events {
		if ev.Type == core.EventSkillInvoked {
			name, _ := ev.Payload["skill"].(string)
			out = append(out, name)
		}
	}
	return out
}

// Transitions returns the target state of every transition, in order.
func (r *ScenarioResult) Transitions() []task.State {
	var out []task.State
	for _, ev := range r.Events {
		if ev.Type == core.EventTaskTransition {
			to, _ := ev.Payload["to"].(string)
			out = append(out, task.State(to))
		}
	}
	return out
}

type funcExpectation struct {
	desc string
	fn   func(*ScenarioResult) error
}

func check(desc string, fn func(*ScenarioResult) error) Expectation {
	return funcExpectation{desc: desc, fn: fn}
}

func (e funcExpectation) Check(r *ScenarioResult) error { return e.fn(r) }
func (e funcExpectation) Description() string           { return e.desc }

// Harness is an orchestrator over a scripted backend and invoker.
type Harness struct {
	Provider     *llm.ScriptedProvider
	Invoker      *ScenarioInvoker
	Events       *core.Recorder
	Orchestrator *orchestrator.Orchestrator
}

// NewHarness builds a harness over registry. The orchestrator does not
// retry backend calls and is closed when the test ends.
func NewHarness(t *testing.T, registry *skills.Registry, opts ...HarnessOption) *Harness {
	t.Helper()
	h := &Harness{
		Provider: llm.NewScriptedProvider(),
		Invoker:  NewScenarioInvoker(),
		Events:   &core.Recorder{},
	}
	hc := harnessConfig{}
	for _, opt := range opts {
		opt(&hc)
	}
	emitter := core.EventEmitter(h.Events)
	if len(hc.emitters) > 0 {
		emitter = core.Multi(append([]core.EventEmitter{h.Events}, hc.emitters...)...)
	}
	orchOpts := append([]orchestrator.Option{
		orchestrator.WithLogger(telemetry.Discard()),
		orchestrator.WithRetry(resilience.RetryConfig{MaxAttempts: 1}),
	}, hc.options...)
	orchOpts = append(orchOpts, orchestrator.WithEmitter(emitter))

	h.Orchestrator = orchestrator.New(h.Provider, registry, h.Invoker, hc.config, orchOpts...)
	t.Cleanup(func() { _ = h.Orchestrator.Close(context.Background()) })
	return h
}

// Run runs s against the harness orchestrator.
func (h *Harness) Run(t *testing.T, s *Scenario) *ScenarioResult {
	t.Helper()
	return s.Run(t, h.Orchestrator, h.Events)
}

type harnessConfig struct {
	config   orchestrator.Config
	options  []orchestrator.Option
	emitters []core.EventEmitter
}

// HarnessOption configures a Harness.
type HarnessOption func(*harnessConfig)

// WithConfig sets the orchestrator config.
func WithConfig(cfg orchestrator.Config) HarnessOption {
	return func(hc *harnessConfig) { hc.config = cfg }
}

// WithOrchestratorOptions adds orchestrator options, applied after the
// harness defaults.
func WithOrchestratorOptions(opts ...orchestrator.Option) HarnessOption {
	return func(hc *harnessConfig) { hc.options = append(hc.options, opts...) }
}

// WithEmitter also sends every event to e.
func WithEmitter(e core.EventEmitter) HarnessOption {
	return func(hc *harnessConfig) { hc.emitters = append(hc.emitters, e) }
}

// SkillDoc builds a SKILL.md source for a skill named name. Params are
// "name: description" lines of the usage section.
func SkillDoc(name, description, usage string, params ...string) skills.Source {
	var b strings.Builder
	fmt.Fprintf(&b, "## description\n%s\n## usage\n%s\n", description, usage)
	for _, p := range params {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	return skills.Source{Path: name + "/SKILL.md", Data: []byte(b.String())}
}

// LoadSkills loads sources into a registry or fails the test.
func LoadSkills(t *testing.T, sources ...skills.Source) *skills.Registry {
	t.Helper()
	reg, err := skills.Load(context.Background(), sources)
	if err != nil {
		t.Fatalf("load skills: %v", err)
	}
	return reg
}
