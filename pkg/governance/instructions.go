// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// InstructionsFile is the project instructions document name.
const InstructionsFile = "AGENTS.md"

// Instructions holds a project instructions document.
type Instructions struct {
	Path    string
	Content string
}

// LoadInstructions looks for AGENTS.md in startDir and its parents. It
// returns nil without error when there is none.
func LoadInstructions(startDir string) (*Instructions, error) {
	if strings.TrimSpace(startDir) == "" {
		return nil, errors.New("start directory is required")
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		candidate := filepath.Join(dir, InstructionsFile)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			raw, err := os.ReadFile(candidate)
			if err != nil {
				return nil, err
			}
			return &Instructions{Path: candidate, Content: strings.TrimSpace(string(raw))}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// SystemPrompt appends the project instructions to base.
func SystemPrompt(base string, ins *Instructions) string {
	if ins == nil || ins.Content == "" {
		return base
	}
	section := "Project instructions (" + filepath.Base(ins.Path) + "):\n" + ins.Content
	if strings.TrimSpace(base) == "" {
		return section
	}
	return strings.TrimRight(base, "\n") + "\n\n" + section
}
