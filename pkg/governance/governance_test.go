// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/puppylab/miniagent/pkg/skills"
)

func TestSkillFilterCheck(t *testing.T) {
	f, err := NewSkillFilter([]string{"git-*", "ls"}, []string{"git-push", " "})
	if err != nil {
		t.Fatalf("new filter: %v", err)
	}
	tests := []struct {
		name string
		want bool
	}{
		{"git-log", true},
		{"ls", true},
		{"git-push", false},
		{"rm", false},
	}
	for _, tc := range tests {
		if got := f.Check(tc.name); got.Allowed != tc.want {
			t.Errorf("Check(%q) = %+v, want allowed=%v", tc.name, got, tc.want)
		}
	}
	if d := f.Check("git-push"); !strings.Contains(d.Reason, "git-push") {
		t.Errorf("deny reason should name the pattern, got %q", d.Reason)
	}
}

func TestSkillFilterDenyOnly(t *testing.T) {
	f, err := NewSkillFilter(nil, []string{"rm*"})
	if err != nil {
		t.Fatalf("new filter: %v", err)
	}
	if !f.Check("ls").Allowed || f.Check("rmdir").Allowed {
		t.Fatal("deny-only filter should allow everything but the denied names")
	}
}

func TestSkillFilterBadPattern(t *testing.T) {
	if _, err := NewSkillFilter([]string{"[a-"}, nil); err == nil {
		t.Fatal("expected an error for a malformed pattern")
	}
}

func TestSkillFilterApply(t *testing.T) {
	doc := func(n string) skills.Source {
		return skills.Source{
			Path: filepath.Join(n, "SKILL.md"),
			Data: []byte("## description\nRun " + n + ".\n## usage\n" + n + " {arg}\n- arg: argument\n"),
		}
	}
	reg, err := skills.Load(context.Background(), []skills.Source{doc("ls"), doc("rm"), doc("cat")})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	var empty *SkillFilter
	if got, dropped := empty.Apply(reg); got != reg || dropped != nil {
		t.Fatal("a nil filter should return the registry unchanged")
	}

	f, _ := NewSkillFilter(nil, []string{"rm"})
	got, dropped := f.Apply(reg)
	if got.Len() != 2 || len(dropped) != 1 || dropped[0] != "rm" {
		t.Fatalf("expected rm dropped, got %d skills, dropped %v", got.Len(), dropped)
	}
	if _, err := got.Resolve("rm"); err == nil {
		t.Fatal("rm should not resolve after filtering")
	}
}

func TestLoadInstructionsWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, InstructionsFile), []byte("Use British spelling.\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ins, err := LoadInstructions(nested)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ins == nil || ins.Content != "Use British spelling." {
		t.Fatalf("unexpected instructions %+v", ins)
	}
	if ins.Path != filepath.Join(root, InstructionsFile) {
		t.Errorf("path = %s", ins.Path)
	}
}

func TestLoadInstructionsRequiresDir(t *testing.T) {
	if _, err := LoadInstructions(" "); err == nil {
		t.Fatal("expected an error for an empty start directory")
	}
}

func TestSystemPrompt(t *testing.T) {
	ins := &Instructions{Path: "/p/AGENTS.md", Content: "Be brief."}
	tests := []struct {
		base string
		ins  *Instructions
		want string
	}{
		{"You are helpful.", nil, "You are helpful."},
		{"", ins, "Project instructions (AGENTS.md):\nBe brief."},
		{"You are helpful.\n", ins, "You are helpful.\n\nProject instructions (AGENTS.md):\nBe brief."},
	}
	for _, tc := range tests {
		if got := SystemPrompt(tc.base, tc.ins); got != tc.want {
			t.Errorf("SystemPrompt(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}
