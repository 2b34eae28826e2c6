// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/puppylab/miniagent/pkg/core"
	"github.com/puppylab/miniagent/pkg/errors"
	"github.com/puppylab/miniagent/pkg/history"
	"github.com/puppylab/miniagent/pkg/llm"
	"github.com/puppylab/miniagent/pkg/task"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat with one or more tasks",
	Long: `Start an interactive session. Plain lines are sent to the current task;
lines starting with / are commands. Type /help for the list.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

const chatHelp = `Commands:
  /new [name]      start a task and make it current
  /switch <id>     make another task current
  /list, /status   list tasks with state, steps and failures
  /cancel [id]     cancel a task (default: current)
  /history [id]    print a task's conversation
  /close [id]      close a finished task and drop it from the list
  /help            show this help
  /exit, /quit     leave; running tasks are cancelled
Anything else is sent to the current task. With no current task a new one
is started.`

// taskClient is the orchestrator surface driven by the chat front-end.
type taskClient interface {
	StartTask(ctx context.Context, name string) (task.ID, error)
	SendInput(ctx context.Context, id task.ID, text string) (task.Outcome, error)
	CancelTask(id task.ID) error
	ListTasks() []task.Snapshot
	History(id task.ID) ([]history.Message, error)
	CloseTask(ctx context.Context, id task.ID) error
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	r := newREPL(cmd.OutOrStdout())
	a, err := newApp(ctx, r)
	if err != nil {
		return err
	}
	r.client = a.orch
	r.streamed = a.cfg.LLM.Stream

	fmt.Fprintf(r.out, "miniagent %s, %d skills loaded. Type /help for commands.\n", version, a.registry.Len())
	runErr := r.run(ctx, cmd.InOrStdin())

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		a.logger.Warn("chat.close.failed", "error", err)
	}
	return runErr
}

// command is one parsed input line. An empty name is plain text for the
// current task.
type command struct {
	name string
	arg  string
}

// parseLine splits a line into a command. It reports false for blank lines.
func parseLine(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, false
	}
	if !strings.HasPrefix(line, "/") {
		return command{arg: line}, true
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}, true
}

// repl reads lines and routes them to tasks. Input for a task runs in the
// background so the prompt stays usable for /cancel and other tasks.
type repl struct {
	client   taskClient
	streamed bool

	mu      sync.Mutex
	out     io.Writer
	current task.ID
	inLine  map[string]bool

	running sync.WaitGroup
}

func newREPL(out io.Writer) *repl {
	return &repl{out: out, inLine: make(map[string]bool)}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLinesLocked()
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) printErr(prefix string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLinesLocked()
	if prefix != "" {
		fmt.Fprint(r.out, prefix)
	}
	printError(r.out, err)
}

func (r *repl) endLines() {
	r.mu.Lock()
	r.endLinesLocked()
	r.mu.Unlock()
}

// endLinesLocked terminates streamed output still on an open line.
func (r *repl) endLinesLocked() {
	for id, open := range r.inLine {
		if open {
			fmt.Fprintln(r.out)
			r.inLine[id] = false
		}
	}
}

// Emit implements core.EventEmitter. Deltas are written as they arrive and
// skill calls are announced.
func (r *repl) Emit(_ context.Context, ev core.Event) {
	switch ev.Type {
	case core.EventAssistantDelta:
		delta, _ := ev.Payload["delta"].(string)
		r.mu.Lock()
		if !r.inLine[ev.TaskID] {
			r.endLinesLocked()
			fmt.Fprintf(r.out, "[%s] ", ev.TaskID)
			r.inLine[ev.TaskID] = true
		}
		fmt.Fprint(r.out, delta)
		r.mu.Unlock()
	case core.EventSkillInvoked:
		r.printf("[%s] running skill %v\n", ev.TaskID, ev.Payload["skill"])
	}
}

func (r *repl) currentID() task.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *repl) setCurrent(id task.ID) {
	r.mu.Lock()
	r.current = id
	r.mu.Unlock()
}

// target resolves an optional id argument to the current task.
func (r *repl) target(arg string) (task.ID, bool) {
	if arg != "" {
		return task.ID(arg), true
	}
	id := r.currentID()
	if id == "" {
		r.printf("no current task; use /new or /switch\n")
		return "", false
	}
	return id, true
}

// run processes lines until /exit, end of input or ctx cancellation. At end
// of input it waits for the inputs still in flight.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				r.running.Wait()
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if !r.execute(ctx, line) {
				return nil
			}
		}
	}
}

// execute handles one line. It returns false after /exit.
func (r *repl) execute(ctx context.Context, line string) bool {
	cmd, ok := parseLine(line)
	if !ok {
		return true
	}
	switch cmd.name {
	case "":
		r.send(ctx, cmd.arg)
	case "help":
		r.printf("%s\n", chatHelp)
	case "new":
		r.newTask(ctx, cmd.arg)
	case "switch":
		r.switchTask(cmd.arg)
	case "list", "status":
		r.list()
	case "cancel":
		if id, ok := r.target(cmd.arg); ok {
			if err := r.client.CancelTask(id); err != nil {
				r.printErr("", err)
				return true
			}
			r.printf("[%s] cancel requested\n", id)
		}
	case "history":
		if id, ok := r.target(cmd.arg); ok {
			r.history(id)
		}
	case "close":
		if id, ok := r.target(cmd.arg); ok {
			if err := r.client.CloseTask(ctx, id); err != nil {
				r.printErr("", err)
				return true
			}
			r.mu.Lock()
			if r.current == id {
				r.current = ""
			}
			r.mu.Unlock()
			r.printf("[%s] closed\n", id)
		}
	case "exit", "quit":
		return false
	default:
		r.printf("unknown command /%s; type /help\n", cmd.name)
	}
	return true
}

func (r *repl) newTask(ctx context.Context, name string) (task.ID, bool) {
	id, err := r.client.StartTask(ctx, name)
	if err != nil {
		r.printErr("", err)
		return "", false
	}
	r.setCurrent(id)
	if name == "" {
		r.printf("started %s\n", id)
	} else {
		r.printf("started %s (%s)\n", id, name)
	}
	return id, true
}

func (r *repl) switchTask(arg string) {
	if arg == "" {
		r.printf("usage: /switch <id>\n")
		return
	}
	id := task.ID(arg)
	for _, s := range r.client.ListTasks() {
		if s.ID == id {
			r.setCurrent(id)
			r.printf("current task is %s (%s, %s)\n", id, s.Name, s.State)
			return
		}
	}
	r.printErr("", errors.UnknownTask(arg))
}

// send routes text to the current task, starting one named after the text
// when there is none.
func (r *repl) send(ctx context.Context, text string) {
	id := r.currentID()
	if id == "" {
		var ok bool
		if id, ok = r.newTask(ctx, taskName(text)); !ok {
			return
		}
	}

	r.running.Add(1)
	go func() {
		defer r.running.Done()
		out, err := r.client.SendInput(ctx, id, text)
		prefix := fmt.Sprintf("[%s] ", id)
		if err != nil {
			r.printErr(prefix, err)
			return
		}
		switch out.State {
		case task.StateCompleted:
			if r.streamed {
				r.endLines()
				return
			}
			r.printf("%s%s\n", prefix, out.Message)
		case task.StateCancelled:
			r.printf("%scancelled after %d steps\n", prefix, out.Steps)
		default:
			r.printf("%s%s\n", prefix, out.State)
		}
	}()
}

func taskName(text string) string {
	const limit = 40
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > limit {
		text = strings.TrimSpace(string(r[:limit])) + "..."
	}
	return text
}

func (r *repl) list() {
	snaps := r.client.ListTasks()
	if len(snaps) == 0 {
		r.printf("no tasks\n")
		return
	}
	current := r.currentID()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLinesLocked()
	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tNAME\tSTATE\tSTEPS\tFAILURES\tLAST ACTIVE")
	for _, s := range snaps {
		mark := " "
		if s.ID == current {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s %s\t%s\t%s\t%d\t%d\t%s\n",
			mark, s.ID, s.Name, s.State, s.Steps, s.Failures, s.LastActive.Format(time.TimeOnly))
	}
	_ = tw.Flush()
}

func (r *repl) history(id task.ID) {
	msgs, err := r.client.History(id)
	if err != nil {
		r.printErr("", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLinesLocked()
	for _, m := range msgs {
		switch {
		case m.ToolCall != nil:
			fmt.Fprintf(r.out, "%3d %s: call %s %s\n", m.Seq, m.Role, m.ToolCall.Function.Name, m.ToolCall.Function.Arguments)
		case m.Role == llm.RoleTool:
			status := "ok"
			if m.Failure {
				status = "failed"
			}
			fmt.Fprintf(r.out, "%3d %s[%s] %s: %s\n", m.Seq, m.Role, m.ToolCallID, status, m.Content)
		default:
			fmt.Fprintf(r.out, "%3d %s: %s\n", m.Seq, m.Role, m.Content)
		}
	}
}
