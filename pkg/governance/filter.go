// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package governance decides which skills a process may expose and which
// project instructions reach the model.
package governance

import (
	"fmt"
	"path"
	"strings"

	"github.com/puppylab/miniagent/pkg/skills"
)

// Decision is the outcome of checking one skill name.
type Decision struct {
	Allowed bool
	Reason  string
}

// SkillFilter allows or denies skills by name. Patterns use path.Match
// syntax, so "git-*" matches every skill starting with "git-".
type SkillFilter struct {
	allow []string
	deny  []string
}

// NewSkillFilter validates the patterns and builds a filter. Empty entries
// are ignored.
func NewSkillFilter(allow, deny []string) (*SkillFilter, error) {
	f := &SkillFilter{}
	var err error
	if f.allow, err = patterns(allow); err != nil {
		return nil, err
	}
	if f.deny, err = patterns(deny); err != nil {
		return nil, err
	}
	return f, nil
}

func patterns(in []string) ([]string, error) {
	var out []string
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid skill pattern %q: %w", p, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Check evaluates name. A deny match wins; a non-empty allow list must
// match; everything else is allowed.
func (f *SkillFilter) Check(name string) Decision {
	if f == nil {
		return Decision{Allowed: true}
	}
	if p, ok := match(name, f.deny); ok {
		return Decision{Reason: fmt.Sprintf("denied by %q", p)}
	}
	if len(f.allow) > 0 {
		if _, ok := match(name, f.allow); !ok {
			return Decision{Reason: "not in allow list"}
		}
	}
	return Decision{Allowed: true}
}

// Empty reports whether the filter lets every skill through.
func (f *SkillFilter) Empty() bool {
	return f == nil || (len(f.allow) == 0 && len(f.deny) == 0)
}

// Apply returns the registry restricted to allowed skills and the names
// that were dropped.
func (f *SkillFilter) Apply(reg *skills.Registry) (*skills.Registry, []string) {
	if f.Empty() {
		return reg, nil
	}
	var dropped []string
	out := reg.Filter(func(d skills.Descriptor) bool {
		if f.Check(d.Name).Allowed {
			return true
		}
		dropped = append(dropped, d.Name)
		return false
	})
	return out, dropped
}

func match(name string, list []string) (string, bool) {
	for _, p := range list {
		if ok, _ := path.Match(p, name); ok {
			return p, true
		}
	}
	return "", false
}
