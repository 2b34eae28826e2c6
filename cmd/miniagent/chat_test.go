// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/puppylab/miniagent/pkg/core"
	"github.com/puppylab/miniagent/pkg/llm"
	"github.com/puppylab/miniagent/pkg/orchestrator"
	"github.com/puppylab/miniagent/pkg/task"
	agenttest "github.com/puppylab/miniagent/pkg/testing"
)

func newTestREPL(t *testing.T, responses ...llm.ScriptedResponse) (*repl, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	r := newREPL(&out)
	h := agenttest.NewHarness(t, nil,
		agenttest.WithConfig(orchestrator.Config{Task: task.Config{MaxSteps: 4}}),
		agenttest.WithEmitter(r),
	)
	h.Provider.Enqueue(responses...)
	r.client = h.Orchestrator
	return r, &out
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want command
		ok   bool
	}{
		{"", command{}, false},
		{"   ", command{}, false},
		{"hello there", command{arg: "hello there"}, true},
		{"/new", command{name: "new"}, true},
		{"/new  release notes ", command{name: "new", arg: "release notes"}, true},
		{"/SWITCH task-2", command{name: "switch", arg: "task-2"}, true},
		{"  /exit", command{name: "exit"}, true},
	}
	for _, tc := range tests {
		got, ok := parseLine(tc.line)
		if ok != tc.ok || got != tc.want {
			t.Errorf("parseLine(%q) = %+v, %v; want %+v, %v", tc.line, got, ok, tc.want, tc.ok)
		}
	}
}

func TestTaskNameKeepsRunes(t *testing.T) {
	name := taskName(strings.Repeat("é", 39) + "日本語のタスク")
	if !utf8.ValidString(name) {
		t.Fatalf("task name is not valid UTF-8: %q", name)
	}
	if want := strings.Repeat("é", 39) + "日..."; name != want {
		t.Fatalf("expected %q, got %q", want, name)
	}
	if got := taskName("  short   text "); got != "short text" {
		t.Fatalf("expected short text, got %q", got)
	}
}

func TestREPLNewAndSend(t *testing.T) {
	r, out := newTestREPL(t, llm.Reply("hi there"))
	ctx := context.Background()

	r.execute(ctx, "/new notes")
	r.execute(ctx, "hello")
	r.running.Wait()

	got := out.String()
	if !strings.Contains(got, "started task-1 (notes)") {
		t.Errorf("missing start line in %q", got)
	}
	if !strings.Contains(got, "[task-1] hi there") {
		t.Errorf("missing reply in %q", got)
	}
}

func TestREPLStartsTaskForPlainInput(t *testing.T) {
	r, out := newTestREPL(t, llm.Reply("done"))

	r.execute(context.Background(), "list   files in /tmp")
	r.running.Wait()

	got := out.String()
	if !strings.Contains(got, "started task-1 (list files in /tmp)") {
		t.Errorf("expected an auto-started task, got %q", got)
	}
	if r.currentID() != "task-1" {
		t.Errorf("current = %q, want task-1", r.currentID())
	}
}

func TestREPLSwitch(t *testing.T) {
	r, out := newTestREPL(t)
	ctx := context.Background()

	r.execute(ctx, "/new a")
	r.execute(ctx, "/new b")
	if r.currentID() != "task-2" {
		t.Fatalf("current = %q, want task-2", r.currentID())
	}
	r.execute(ctx, "/switch task-1")
	if r.currentID() != "task-1" {
		t.Fatalf("current = %q, want task-1", r.currentID())
	}
	r.execute(ctx, "/switch task-9")
	if r.currentID() != "task-1" {
		t.Errorf("unknown switch changed current to %q", r.currentID())
	}

	got := out.String()
	if !strings.Contains(got, "current task is task-1 (a, created)") {
		t.Errorf("missing switch line in %q", got)
	}
	if !strings.Contains(got, "Error [Unknown Task]") {
		t.Errorf("missing unknown task error in %q", got)
	}
}

func TestREPLCommandsNeedATask(t *testing.T) {
	r, out := newTestREPL(t)
	for _, line := range []string{"/cancel", "/history", "/close"} {
		out.Reset()
		r.execute(context.Background(), line)
		if !strings.Contains(out.String(), "no current task") {
			t.Errorf("%s: got %q", line, out.String())
		}
	}
}

func TestREPLCloseAndList(t *testing.T) {
	r, out := newTestREPL(t)
	ctx := context.Background()

	r.execute(ctx, "/new a")
	out.Reset()
	r.execute(ctx, "/list")
	if !strings.Contains(out.String(), "* task-1") || !strings.Contains(out.String(), "created") {
		t.Errorf("list output %q", out.String())
	}

	r.execute(ctx, "/close")
	if r.currentID() != "" {
		t.Errorf("current = %q after close", r.currentID())
	}
	out.Reset()
	r.execute(ctx, "/status")
	if strings.TrimSpace(out.String()) != "no tasks" {
		t.Errorf("status after close = %q", out.String())
	}
}

func TestREPLHistory(t *testing.T) {
	r, out := newTestREPL(t, llm.Reply("hi there"))
	ctx := context.Background()

	r.execute(ctx, "/new a")
	r.execute(ctx, "hello")
	r.running.Wait()
	out.Reset()
	r.execute(ctx, "/history task-1")

	got := out.String()
	if !strings.Contains(got, "1 user: hello") || !strings.Contains(got, "2 assistant: hi there") {
		t.Errorf("history output %q", got)
	}
}

func TestREPLReportsFailures(t *testing.T) {
	r, out := newTestREPL(t, llm.Fail(stderrors.New("backend down")))
	ctx := context.Background()

	r.execute(ctx, "/new a")
	r.execute(ctx, "hello")
	r.running.Wait()

	got := out.String()
	if !strings.Contains(got, "[task-1] Error [LLM Error]") {
		t.Errorf("missing failure in %q", got)
	}
	if !strings.Contains(got, "Hint:") {
		t.Errorf("missing hint in %q", got)
	}
}

func TestREPLExitAndUnknownCommand(t *testing.T) {
	r, out := newTestREPL(t)
	ctx := context.Background()

	if !r.execute(ctx, "/frobnicate") {
		t.Fatal("unknown command ended the session")
	}
	if !strings.Contains(out.String(), "unknown command /frobnicate") {
		t.Errorf("got %q", out.String())
	}
	if r.execute(ctx, "/exit") {
		t.Error("/exit did not end the session")
	}
}

func TestREPLRunWaitsAtEndOfInput(t *testing.T) {
	r, out := newTestREPL(t, llm.Reply("pong"))

	if err := r.run(context.Background(), strings.NewReader("/new a\nping\n")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "[task-1] pong") {
		t.Errorf("reply not printed before run returned: %q", out.String())
	}
}

func TestREPLRunStopsAtExit(t *testing.T) {
	r, out := newTestREPL(t)

	if err := r.run(context.Background(), strings.NewReader("/exit\n/new a\n")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Contains(out.String(), "started") {
		t.Errorf("lines after /exit were executed: %q", out.String())
	}
}

func TestREPLPrintsDeltas(t *testing.T) {
	var out bytes.Buffer
	r := newREPL(&out)
	ctx := context.Background()

	r.Emit(ctx, core.NewEvent(core.EventAssistantDelta, "task-1", map[string]any{"delta": "hel"}))
	r.Emit(ctx, core.NewEvent(core.EventAssistantDelta, "task-1", map[string]any{"delta": "lo"}))
	r.Emit(ctx, core.NewEvent(core.EventSkillInvoked, "task-1", map[string]any{"skill": "grep"}))
	r.Emit(ctx, core.NewEvent(core.EventTaskCompleted, "task-1", nil))

	want := "[task-1] hello\n[task-1] running skill grep\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}
