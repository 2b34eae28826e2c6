// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/puppylab/miniagent/pkg/core"
	"github.com/puppylab/miniagent/pkg/errors"
	"github.com/puppylab/miniagent/pkg/invoker"
	"github.com/puppylab/miniagent/pkg/llm"
	"github.com/puppylab/miniagent/pkg/resilience"
	"github.com/puppylab/miniagent/pkg/session"
	"github.com/puppylab/miniagent/pkg/skills"
)

func testRegistry(t *testing.T) *skills.Registry {
	t.Helper()
	doc := "## description\nPrint text.\n## usage\necho {text}\n- text: text to print\n"
	r, err := skills.Load(context.Background(), []skills.Source{{Path: "echo/SKILL.md", Data: []byte(doc)}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return r
}

// fakeInvoker records invocations and returns what fn returns.
type fakeInvoker struct {
	mu    sync.Mutex
	calls []map[string]any
	fn    func(ctx context.Context, d skills.Descriptor, args map[string]any) (skills.Result, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, d skills.Descriptor, args map[string]any) (skills.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()
	if f.fn == nil {
		return skills.Succeeded(d.Name, "ok", nil), nil
	}
	return f.fn(ctx, d, args)
}

func (f *fakeInvoker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTask(t *testing.T, p llm.Provider, inv SkillInvoker, cfg Config, opts ...Option) *Task {
	t.Helper()
	sess := session.New(p, session.Config{}, session.WithRetry(resilience.RetryConfig{MaxAttempts: 1}))
	return New("task-1", "test", sess, testRegistry(t), inv, cfg, opts...)
}

func TestRunCompletes(t *testing.T) {
	rec := &core.Recorder{}
	p := llm.NewScriptedProvider(
		llm.CallTool("c1", "echo", map[string]any{"text": "hi"}),
		llm.Reply("said hi"),
	)
	inv := &fakeInvoker{}
	tk := newTask(t, p, inv, Config{}, WithEmitter(rec))

	if tk.State() != StateCreated {
		t.Fatalf("expected created, got %s", tk.State())
	}
	out, err := tk.Run(context.Background(), "say hi")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.State != StateCompleted || out.Message != "said hi" || out.Steps != 2 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if inv.count() != 1 {
		t.Fatalf("expected one invocation, got %d", inv.count())
	}

	snap := tk.Snapshot()
	if snap.Steps != 2 || snap.Failures != 0 || snap.Messages != 4 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	var transitions []string
	for _, ev := range rec.Events() {
		if ev.Type == core.EventTaskTransition {
			transitions = append(transitions, ev.Payload["to"].(string))
		}
	}
	want := "running,waiting_on_skill,running,completed"
	if strings.Join(transitions, ",") != want {
		t.Fatalf("expected transitions %s, got %v", want, transitions)
	}
}

func TestCompletedIsTerminal(t *testing.T) {
	p := llm.NewScriptedProvider(llm.Reply("one"), llm.Reply("two"))
	tk := newTask(t, p, &fakeInvoker{}, Config{})
	if _, err := tk.Run(context.Background(), "a"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := tk.Run(context.Background(), "b"); !stderrors.Is(err, errors.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestFollowUpMode(t *testing.T) {
	p := llm.NewScriptedProvider(llm.Reply("one"), llm.Reply("two"))
	tk := newTask(t, p, &fakeInvoker{}, Config{AllowFollowUp: true})
	if _, err := tk.Run(context.Background(), "a"); err != nil {
		t.Fatalf("run: %v", err)
	}
	out, err := tk.Run(context.Background(), "b")
	if err != nil || out.Message != "two" {
		t.Fatalf("expected follow-up reply, got %+v (%v)", out, err)
	}
	if n := len(tk.History()); n != 4 {
		t.Fatalf("expected 4 messages, got %d", n)
	}
}

func TestTimeoutResultKeepsTaskRunning(t *testing.T) {
	var stateDuringTurn State
	p := llm.NewScriptedProvider(llm.CallTool("c1", "echo", map[string]any{"text": "x"}))
	inv := &fakeInvoker{fn: func(context.Context, skills.Descriptor, map[string]any) (skills.Result, error) {
		return skills.Failed("echo", skills.FailureTimeout, "timed out after 1s"), nil
	}}
	tk := newTask(t, p, inv, Config{})

	next := llm.Reply("gave up")
	next.Before = func(llm.ChatRequest) { stateDuringTurn = tk.State() }
	p.Enqueue(next)

	out, err := tk.Run(context.Background(), "go")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stateDuringTurn != StateRunning {
		t.Fatalf("expected running after a timeout result, got %s", stateDuringTurn)
	}
	if out.State != StateCompleted || tk.Snapshot().Failures != 1 {
		t.Fatalf("unexpected outcome %+v / %+v", out, tk.Snapshot())
	}
	last := p.Requests()[1].Messages
	if !strings.Contains(last[len(last)-1].Content, `"kind":"timeout"`) {
		t.Fatalf("backend did not see the timeout: %+v", last[len(last)-1])
	}
}

func TestCancelDuringInvocationKeepsResult(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.CallTool("c1", "echo", map[string]any{"text": "x"}),
		llm.Reply("unreachable"),
	)
	var tk *Task
	inv := &fakeInvoker{fn: func(ctx context.Context, d skills.Descriptor, _ map[string]any) (skills.Result, error) {
		tk.Cancel()
		if tk.State() != StateWaitingOnSkill {
			t.Errorf("cancel must not interrupt the invocation, state %s", tk.State())
		}
		if ctx.Err() != nil {
			t.Errorf("invocation context was cancelled")
		}
		return skills.Succeeded(d.Name, "finished", nil), nil
	}}
	tk = newTask(t, p, inv, Config{})

	out, err := tk.Run(context.Background(), "go")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.State != StateCancelled || tk.State() != StateCancelled {
		t.Fatalf("expected cancelled, got %+v", out)
	}
	if p.CallCount() != 1 {
		t.Fatalf("no backend call may follow cancellation, got %d", p.CallCount())
	}
	msgs := tk.History()
	last := msgs[len(msgs)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "c1" || !strings.Contains(last.Content, "finished") {
		t.Fatalf("expected the invocation result to be appended, got %+v", last)
	}
	if _, err := tk.Run(context.Background(), "more"); !stderrors.Is(err, errors.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask after cancel, got %v", err)
	}
}

func TestCancelIdleTask(t *testing.T) {
	p := llm.NewScriptedProvider()
	tk := newTask(t, p, &fakeInvoker{}, Config{})
	tk.Cancel()
	if tk.State() != StateCancelled || !tk.CancelRequested() {
		t.Fatalf("expected cancelled, got %s", tk.State())
	}
	if p.CallCount() != 0 {
		t.Fatal("cancelled task must not reach the backend")
	}
}

func TestCancelCompletedFollowUpTask(t *testing.T) {
	p := llm.NewScriptedProvider(llm.Reply("one"))
	tk := newTask(t, p, &fakeInvoker{}, Config{AllowFollowUp: true})
	if _, err := tk.Run(context.Background(), "a"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !tk.Accepting() {
		t.Fatal("a completed task in follow-up mode accepts input")
	}
	tk.Cancel()
	if tk.State() != StateCancelled || tk.Accepting() {
		t.Fatalf("expected cancelled, got %s (accepting %v)", tk.State(), tk.Accepting())
	}
	if _, err := tk.Run(context.Background(), "b"); !stderrors.Is(err, errors.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestFinishedStatesAreFinal(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name string
		cfg  Config
		from State
		to   State
		want bool
	}{
		{"cancelled to failed", Config{}, StateCancelled, StateFailed, false},
		{"cancelled to running", Config{}, StateCancelled, StateRunning, false},
		{"failed to cancelled", Config{}, StateFailed, StateCancelled, false},
		{"failed to completed", Config{}, StateFailed, StateCompleted, false},
		{"completed to running", Config{}, StateCompleted, StateRunning, false},
		{"completed to cancelled", Config{}, StateCompleted, StateCancelled, false},
		{"completed to failed in follow-up mode", Config{AllowFollowUp: true}, StateCompleted, StateFailed, false},
		{"completed to running in follow-up mode", Config{AllowFollowUp: true}, StateCompleted, StateRunning, true},
		{"running to failed", Config{}, StateRunning, StateFailed, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := &core.Recorder{}
			tk := newTask(t, llm.NewScriptedProvider(), &fakeInvoker{}, tc.cfg, WithEmitter(rec))
			tk.state = tc.from

			if got := tk.transition(ctx, tc.to); got != tc.want {
				t.Fatalf("transition %s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
			}
			want := tc.from
			if tc.want {
				want = tc.to
			}
			if tk.State() != want {
				t.Fatalf("expected %s, got %s", want, tk.State())
			}
			if n := len(rec.Events()); tc.want != (n > 0) {
				t.Fatalf("unexpected events %v", rec.Types(""))
			}
		})
	}
}

func TestCloseWhileRunningIsBusy(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.CallTool("c1", "echo", map[string]any{"text": "x"}),
		llm.Reply("done"),
	)
	started := make(chan struct{})
	release := make(chan struct{})
	inv := &fakeInvoker{fn: func(_ context.Context, d skills.Descriptor, _ map[string]any) (skills.Result, error) {
		close(started)
		<-release
		return skills.Succeeded(d.Name, "ok", nil), nil
	}}
	tk := newTask(t, p, inv, Config{})

	result := make(chan Outcome, 1)
	go func() {
		out, _ := tk.Run(context.Background(), "go")
		result <- out
	}()
	<-started

	if err := tk.Close(); !stderrors.Is(err, errors.ErrTaskBusy) {
		t.Fatalf("expected ErrTaskBusy, got %v", err)
	}
	if tk.State() != StateWaitingOnSkill {
		t.Fatalf("close must leave a running task alone, state %s", tk.State())
	}
	close(release)
	if out := <-result; out.State != StateCompleted {
		t.Fatalf("expected completed, got %+v", out)
	}
	if err := tk.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if tk.State() != StateCompleted {
		t.Fatalf("close must keep the finished state, got %s", tk.State())
	}
}

func TestUnknownSkillIsReportedToModel(t *testing.T) {
	var stateDuringTurn State
	p := llm.NewScriptedProvider(llm.CallTool("c1", "missing", nil))
	inv := &fakeInvoker{}
	tk := newTask(t, p, inv, Config{})
	next := llm.Reply("sorry")
	next.Before = func(llm.ChatRequest) { stateDuringTurn = tk.State() }
	p.Enqueue(next)

	out, err := tk.Run(context.Background(), "go")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.State != StateCompleted || stateDuringTurn != StateRunning {
		t.Fatalf("unexpected outcome %+v (state during turn %s)", out, stateDuringTurn)
	}
	if inv.count() != 0 {
		t.Fatal("unknown skill must not be invoked")
	}
	msgs := p.Requests()[1].Messages
	last := msgs[len(msgs)-1]
	if last.Role != llm.RoleTool || !strings.Contains(last.Content, `"kind":"unknown_skill"`) {
		t.Fatalf("second backend call did not see the failure: %+v", last)
	}
}

func TestValidationFailureIsAppended(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.CallTool("c1", "echo", map[string]any{}),
		llm.Reply("retrying"),
	)
	inv := invoker.New(invoker.Config{Timeout: time.Second})
	tk := newTask(t, p, inv, Config{})

	out, err := tk.Run(context.Background(), "go")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.State != StateCompleted {
		t.Fatalf("unexpected outcome %+v", out)
	}
	msgs := tk.History()
	result := msgs[len(msgs)-2]
	if result.Role != llm.RoleTool || !result.Failure || !strings.Contains(result.Content, `"kind":"validation"`) {
		t.Fatalf("expected validation failure result, got %+v", result)
	}
}

func TestMalformedArgumentsAreValidationFailures(t *testing.T) {
	bad := llm.ScriptedResponse{ToolCalls: []llm.ToolCall{{ID: "c1", Function: llm.FunctionCall{Name: "echo", Arguments: "{not json"}}}}
	p := llm.NewScriptedProvider(bad, llm.Reply("ok"))
	inv := &fakeInvoker{}
	tk := newTask(t, p, inv, Config{})

	if _, err := tk.Run(context.Background(), "go"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if inv.count() != 0 {
		t.Fatal("malformed arguments must not be invoked")
	}
	if tk.Snapshot().Failures != 1 {
		t.Fatalf("expected one failure, got %+v", tk.Snapshot())
	}
}

func TestInfrastructureErrorFailsTask(t *testing.T) {
	p := llm.NewScriptedProvider(llm.CallTool("c1", "echo", map[string]any{"text": "x"}))
	inv := &fakeInvoker{fn: func(context.Context, skills.Descriptor, map[string]any) (skills.Result, error) {
		return skills.Result{}, errors.Infrastructure("executable not found", nil)
	}}
	rec := &core.Recorder{}
	tk := newTask(t, p, inv, Config{}, WithEmitter(rec))

	out, err := tk.Run(context.Background(), "go")
	if !stderrors.Is(err, errors.ErrInfrastructure) {
		t.Fatalf("expected ErrInfrastructure, got %v", err)
	}
	if out.State != StateFailed || tk.Snapshot().Err == "" {
		t.Fatalf("expected failed task with error, got %+v", tk.Snapshot())
	}
	types := rec.Types("task-1")
	if types[len(types)-1] != core.EventTaskFailed {
		t.Fatalf("expected task.failed event last, got %v", types)
	}
}

func TestContextOverflowFailsTask(t *testing.T) {
	p := llm.NewScriptedProvider(llm.Fail(llm.ErrContextOverflow))
	tk := newTask(t, p, &fakeInvoker{}, Config{})
	_, err := tk.Run(context.Background(), "go")
	if !stderrors.Is(err, errors.ErrContextOverflow) || tk.State() != StateFailed {
		t.Fatalf("expected overflow failure, got %v in %s", err, tk.State())
	}
}

func TestStepLimit(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.CallTool("c1", "echo", map[string]any{"text": "1"}),
		llm.CallTool("c2", "echo", map[string]any{"text": "2"}),
		llm.CallTool("c3", "echo", map[string]any{"text": "3"}),
	)
	tk := newTask(t, p, &fakeInvoker{}, Config{MaxSteps: 2})

	out, err := tk.Run(context.Background(), "loop")
	if !stderrors.Is(err, errors.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if out.Steps != 2 || p.CallCount() != 2 {
		t.Fatalf("expected 2 steps, got %+v with %d calls", out, p.CallCount())
	}
}

func TestConcurrentRunIsBusy(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.CallTool("c1", "echo", map[string]any{"text": "x"}),
		llm.Reply("done"),
	)
	started := make(chan struct{})
	release := make(chan struct{})
	inv := &fakeInvoker{fn: func(_ context.Context, d skills.Descriptor, _ map[string]any) (skills.Result, error) {
		close(started)
		<-release
		return skills.Succeeded(d.Name, "", nil), nil
	}}
	tk := newTask(t, p, inv, Config{})

	done := make(chan error, 1)
	go func() {
		_, err := tk.Run(context.Background(), "first")
		done <- err
	}()
	<-started

	if _, err := tk.Run(context.Background(), "second"); !stderrors.Is(err, errors.ErrTaskBusy) {
		t.Fatalf("expected ErrTaskBusy, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestWaitReturnsWhenRunEnds(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.CallTool("c1", "echo", map[string]any{"text": "x"}),
		llm.Reply("done"),
	)
	started := make(chan struct{})
	release := make(chan struct{})
	inv := &fakeInvoker{fn: func(_ context.Context, d skills.Descriptor, _ map[string]any) (skills.Result, error) {
		close(started)
		<-release
		return skills.Succeeded(d.Name, "", nil), nil
	}}
	tk := newTask(t, p, inv, Config{})
	if err := tk.Wait(context.Background()); err != nil {
		t.Fatalf("idle wait: %v", err)
	}

	go func() { _, _ = tk.Run(context.Background(), "go") }()
	<-started
	if !tk.Busy() {
		t.Fatal("expected busy task")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := tk.Wait(ctx); !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while running, got %v", err)
	}

	close(release)
	if err := tk.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if tk.State() != StateCompleted {
		t.Fatalf("expected completed, got %s", tk.State())
	}
}
