// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/puppylab/miniagent/pkg/core"
	"github.com/puppylab/miniagent/pkg/errors"
	"github.com/puppylab/miniagent/pkg/history"
	"github.com/puppylab/miniagent/pkg/llm"
	"github.com/puppylab/miniagent/pkg/resilience"
	"github.com/puppylab/miniagent/pkg/skills"
	"github.com/puppylab/miniagent/pkg/task"
)

func loadRegistry(t *testing.T) *skills.Registry {
	t.Helper()
	doc := "## description\nPrint text.\n## usage\necho {text}\n- text: text to print\n"
	r, err := skills.Load(context.Background(), []skills.Source{{Path: "echo/SKILL.md", Data: []byte(doc)}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return r
}

type invokerFunc func(ctx context.Context, d skills.Descriptor, args map[string]any) (skills.Result, error)

func (f invokerFunc) Invoke(ctx context.Context, d skills.Descriptor, args map[string]any) (skills.Result, error) {
	return f(ctx, d, args)
}

func echoInvoker() invokerFunc {
	return func(_ context.Context, d skills.Descriptor, args map[string]any) (skills.Result, error) {
		text, _ := args["text"].(string)
		return skills.Succeeded(d.Name, text, nil), nil
	}
}

func newOrchestrator(t *testing.T, p llm.Provider, inv task.SkillInvoker, cfg Config, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{WithRetry(resilience.RetryConfig{MaxAttempts: 1})}, opts...)
	o := New(p, loadRegistry(t), inv, cfg, opts...)
	t.Cleanup(func() { _ = o.Close(context.Background()) })
	return o
}

func TestTaskIDsAreNeverReused(t *testing.T) {
	o := newOrchestrator(t, llm.NewScriptedProvider(), echoInvoker(), Config{})
	ctx := context.Background()

	var ids []task.ID
	for range 3 {
		id, err := o.StartTask(ctx, "")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		ids = append(ids, id)
	}
	if ids[0] != "task-1" || ids[2] != "task-3" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if err := o.CloseTask(ctx, "task-3"); err != nil {
		t.Fatalf("close: %v", err)
	}
	id, _ := o.StartTask(ctx, "")
	if id != "task-4" {
		t.Fatalf("expected task-4, got %s", id)
	}
}

func TestSendInputCompletes(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.CallTool("c1", "echo", map[string]any{"text": "hi"}),
		llm.Reply("echoed hi"),
	)
	rec := &core.Recorder{}
	o := newOrchestrator(t, p, echoInvoker(), Config{Model: "m"}, WithEmitter(rec))
	ctx := context.Background()

	id, _ := o.StartTask(ctx, "greeter")
	out, err := o.SendInput(ctx, id, "echo hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out.State != task.StateCompleted || out.Message != "echoed hi" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(p.Requests()[0].Tools) != 1 {
		t.Fatal("expected the skill catalog in the request")
	}

	types := rec.Types(string(id))
	if types[0] != core.EventTaskStarted || types[len(types)-1] != core.EventTaskCompleted {
		t.Fatalf("unexpected events %v", types)
	}

	if _, err := o.SendInput(ctx, id, "again"); !stderrors.Is(err, errors.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask for a completed task, got %v", err)
	}
}

func TestUnknownTask(t *testing.T) {
	o := newOrchestrator(t, llm.NewScriptedProvider(), echoInvoker(), Config{})
	ctx := context.Background()

	if _, err := o.SendInput(ctx, "task-99", "hi"); !stderrors.Is(err, errors.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
	if err := o.CancelTask("task-99"); !stderrors.Is(err, errors.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
	if _, err := o.History("task-99"); !stderrors.Is(err, errors.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}

	id, _ := o.StartTask(ctx, "")
	if err := o.CancelTask(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := o.SendInput(ctx, id, "hi"); !stderrors.Is(err, errors.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask for a cancelled task, got %v", err)
	}
}

func TestTasksAreIsolated(t *testing.T) {
	p := llm.NewScriptedProvider(llm.Reply("for a"), llm.Reply("for b"), llm.Reply("a again"))
	o := newOrchestrator(t, p, echoInvoker(), Config{Task: task.Config{AllowFollowUp: true}})
	ctx := context.Background()

	a, _ := o.StartTask(ctx, "a")
	b, _ := o.StartTask(ctx, "b")
	if _, err := o.SendInput(ctx, a, "hello a"); err != nil {
		t.Fatalf("send a: %v", err)
	}
	if _, err := o.SendInput(ctx, b, "hello b"); err != nil {
		t.Fatalf("send b: %v", err)
	}

	before := historyJSON(t, o, b)
	if _, err := o.SendInput(ctx, a, "more for a"); err != nil {
		t.Fatalf("send a: %v", err)
	}
	if after := historyJSON(t, o, b); after != before {
		t.Fatalf("task b changed:\n%s\n%s", before, after)
	}

	ha, _ := o.History(a)
	if len(ha) != 4 || ha[3].Content != "a again" {
		t.Fatalf("unexpected history for a: %+v", ha)
	}
	for _, m := range ha {
		if m.Content == "hello b" || m.Content == "for b" {
			t.Fatalf("task a observed task b's message %q", m.Content)
		}
	}
	if third := p.Requests()[2]; len(third.Messages) != 3 {
		t.Fatalf("backend saw %d messages for a's follow-up, want 3", len(third.Messages))
	}
}

func historyJSON(t *testing.T, o *Orchestrator, id task.ID) string {
	t.Helper()
	msgs, err := o.History(id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestBusyAndCancelMidInvocation(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.CallTool("c1", "echo", map[string]any{"text": "slow"}),
		llm.Reply("unreachable"),
	)
	started := make(chan struct{})
	release := make(chan struct{})
	inv := invokerFunc(func(_ context.Context, d skills.Descriptor, _ map[string]any) (skills.Result, error) {
		close(started)
		<-release
		return skills.Succeeded(d.Name, "slow done", nil), nil
	})
	o := newOrchestrator(t, p, inv, Config{})
	ctx := context.Background()
	id, _ := o.StartTask(ctx, "slow")

	var (
		wg  sync.WaitGroup
		out task.Outcome
		err error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		out, err = o.SendInput(ctx, id, "go")
	}()
	<-started

	if _, err := o.SendInput(ctx, id, "again"); !stderrors.Is(err, errors.ErrTaskBusy) {
		t.Fatalf("expected ErrTaskBusy, got %v", err)
	}
	if err := o.CloseTask(ctx, id); !stderrors.Is(err, errors.ErrTaskBusy) {
		t.Fatalf("expected ErrTaskBusy from CloseTask, got %v", err)
	}
	if err := o.CancelTask(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if snap, _ := o.Snapshot(id); snap.State != task.StateWaitingOnSkill {
		t.Fatalf("cancel must not interrupt the invocation, state %s", snap.State)
	}

	close(release)
	wg.Wait()
	if err != nil || out.State != task.StateCancelled {
		t.Fatalf("expected cancelled outcome, got %+v (%v)", out, err)
	}

	msgs, _ := o.History(id)
	if last := msgs[len(msgs)-1]; last.Role != llm.RoleTool || last.ToolCallID != "c1" {
		t.Fatalf("expected the in-flight result to be kept, got %+v", last)
	}
	if p.CallCount() != 1 {
		t.Fatalf("expected one backend call, got %d", p.CallCount())
	}
}

func TestFailureIsIsolated(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.CallTool("c1", "echo", map[string]any{"text": "x"}),
		llm.Reply("b is fine"),
	)
	inv := invokerFunc(func(_ context.Context, d skills.Descriptor, _ map[string]any) (skills.Result, error) {
		return skills.Result{}, errors.Infrastructure("echo: executable not found", nil)
	})
	o := newOrchestrator(t, p, inv, Config{})
	ctx := context.Background()
	a, _ := o.StartTask(ctx, "a")
	b, _ := o.StartTask(ctx, "b")

	if _, err := o.SendInput(ctx, a, "break"); !stderrors.Is(err, errors.ErrInfrastructure) {
		t.Fatalf("expected infrastructure failure, got %v", err)
	}
	out, err := o.SendInput(ctx, b, "hi")
	if err != nil || out.State != task.StateCompleted {
		t.Fatalf("task b affected by a's failure: %+v (%v)", out, err)
	}

	list := o.ListTasks()
	if len(list) != 2 || list[0].ID != a || list[0].State != task.StateFailed || list[1].State != task.StateCompleted {
		t.Fatalf("unexpected snapshots %+v", list)
	}
	if list[0].Err == "" {
		t.Fatal("expected the failure in the snapshot")
	}
	if msgs, err := o.History(a); err != nil || len(msgs) != 2 {
		t.Fatalf("failed task history must be retained, got %d messages (%v)", len(msgs), err)
	}
}

func TestCloseTaskKeepsStoredHistory(t *testing.T) {
	store := history.NewInMemoryStore()
	o := newOrchestrator(t, llm.NewScriptedProvider(llm.Reply("bye")), echoInvoker(), Config{}, WithStore(store))
	ctx := context.Background()
	id, _ := o.StartTask(ctx, "")
	if _, err := o.SendInput(ctx, id, "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := o.CloseTask(ctx, id); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := o.History(id); !stderrors.Is(err, errors.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask after close, got %v", err)
	}
	if len(o.ListTasks()) != 0 {
		t.Fatal("closed task still listed")
	}
	sessions, _ := store.Sessions(ctx)
	if len(sessions) != 1 {
		t.Fatalf("expected the stored session to remain, got %v", sessions)
	}
}

func TestSweepArchivesIdleFinishedTasks(t *testing.T) {
	p := llm.NewScriptedProvider(llm.Reply("done"))
	o := newOrchestrator(t, p, echoInvoker(), Config{ArchiveAfter: time.Minute, SweepInterval: time.Hour})
	ctx := context.Background()
	done, _ := o.StartTask(ctx, "done")
	idle, _ := o.StartTask(ctx, "idle")
	if _, err := o.SendInput(ctx, done, "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if n := o.Sweep(ctx); n != 0 {
		t.Fatalf("nothing is stale yet, archived %d", n)
	}
	o.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if n := o.Sweep(ctx); n != 1 {
		t.Fatalf("expected one archived task, got %d", n)
	}
	if _, err := o.Snapshot(done); !stderrors.Is(err, errors.ErrUnknownTask) {
		t.Fatalf("expected archived task to be gone, got %v", err)
	}
	if _, err := o.Snapshot(idle); err != nil {
		t.Fatalf("created task must survive the sweep: %v", err)
	}
}

func TestCloseWaitsAndRejects(t *testing.T) {
	p := llm.NewScriptedProvider(llm.CallTool("c1", "echo", map[string]any{"text": "x"}), llm.Reply("x"))
	started := make(chan struct{})
	inv := invokerFunc(func(_ context.Context, d skills.Descriptor, _ map[string]any) (skills.Result, error) {
		close(started)
		time.Sleep(20 * time.Millisecond)
		return skills.Succeeded(d.Name, "", nil), nil
	})
	o := New(p, loadRegistry(t), inv, Config{}, WithRetry(resilience.RetryConfig{MaxAttempts: 1}))
	ctx := context.Background()
	id, _ := o.StartTask(ctx, "")

	result := make(chan task.Outcome, 1)
	go func() {
		out, _ := o.SendInput(ctx, id, "go")
		result <- out
	}()
	<-started

	if err := o.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if out := <-result; out.State != task.StateCancelled {
		t.Fatalf("expected the in-flight task to be cancelled, got %+v", out)
	}
	if _, err := o.StartTask(ctx, ""); !stderrors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := o.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestCloseTimeoutLeavesRunningTaskOpen(t *testing.T) {
	p := llm.NewScriptedProvider(llm.CallTool("c1", "echo", map[string]any{"text": "x"}), llm.Reply("x"))
	started := make(chan struct{})
	release := make(chan struct{})
	inv := invokerFunc(func(_ context.Context, d skills.Descriptor, _ map[string]any) (skills.Result, error) {
		close(started)
		<-release
		return skills.Succeeded(d.Name, "", nil), nil
	})
	rec := &core.Recorder{}
	o := newOrchestrator(t, p, inv, Config{}, WithEmitter(rec))
	ctx := context.Background()
	id, _ := o.StartTask(ctx, "")

	result := make(chan task.Outcome, 1)
	go func() {
		out, _ := o.SendInput(ctx, id, "go")
		result <- out
	}()
	<-started

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := o.Close(cctx); !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if snap, err := o.Snapshot(id); err != nil || snap.State != task.StateWaitingOnSkill {
		t.Fatalf("expected the running task to stay open, got %+v (%v)", snap, err)
	}

	close(release)
	if out := <-result; out.State != task.StateCancelled {
		t.Fatalf("expected cancelled, got %+v", out)
	}
	for _, ev := range rec.Events() {
		if ev.Type == core.EventTaskTransition && ev.Payload["from"] == string(task.StateCancelled) {
			t.Fatalf("unexpected transition out of cancelled: %v", ev.Payload)
		}
	}
	if err := o.CloseTask(ctx, id); err != nil {
		t.Fatalf("close task: %v", err)
	}
}

type streamingProvider struct {
	*llm.ScriptedProvider
}

func (streamingProvider) ChatStream(context.Context, llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 2)
	ch <- llm.StreamChunk{Content: "str"}
	ch <- llm.StreamChunk{Content: "eamed", Done: true}
	close(ch)
	return ch, nil
}

func TestStreamEmitsDeltas(t *testing.T) {
	rec := &core.Recorder{}
	o := newOrchestrator(t, streamingProvider{llm.NewScriptedProvider()}, echoInvoker(), Config{Stream: true}, WithEmitter(rec))
	ctx := context.Background()
	id, _ := o.StartTask(ctx, "")

	out, err := o.SendInput(ctx, id, "hi")
	if err != nil || out.Message != "streamed" {
		t.Fatalf("unexpected outcome %+v (%v)", out, err)
	}
	var deltas []string
	for _, ev := range rec.Events() {
		if ev.Type == core.EventAssistantDelta {
			deltas = append(deltas, ev.Payload["delta"].(string))
		}
	}
	if len(deltas) != 2 || deltas[0] != "str" {
		t.Fatalf("unexpected deltas %v", deltas)
	}
}
