// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/puppylab/miniagent/pkg/errors"
)

func TestPrintError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{
			name: "typed error with code hint",
			err:  errors.TaskBusy("task-3"),
			want: []string{`Error [Task Busy]: task "task-3" is already running`, "Hint: wait for the task"},
		},
		{
			name: "wrapped typed error",
			err:  fmt.Errorf("send: %w", errors.LLM(stderrors.New("connection refused"), "llama3")),
			want: []string{"Error [LLM Error]: model backend call failed: connection refused", "Hint: check llm.provider"},
		},
		{
			name: "config error keeps its own hint",
			err:  newConfigError(stderrors.New("bad yaml"), "miniagent.yaml"),
			want: []string{"Error: bad yaml", "Hint: check miniagent.yaml"},
		},
		{
			name: "plain error",
			err:  stderrors.New("boom"),
			want: []string{"Error: boom"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			printError(&buf, tc.err)
			for _, w := range tc.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("output %q missing %q", buf.String(), w)
				}
			}
		})
	}
}

func TestPrintErrorWithoutHint(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, errors.Infrastructure("skill program not found", nil))
	if strings.Contains(buf.String(), "Hint") {
		t.Errorf("unexpected hint in %q", buf.String())
	}
}
