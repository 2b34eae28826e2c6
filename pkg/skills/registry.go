// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/puppylab/miniagent/pkg/errors"
	"github.com/puppylab/miniagent/pkg/llm"
)

// parseConcurrency bounds the number of documents parsed at once.
const parseConcurrency = 8

// Registry is the immutable table of loaded skills. It is safe for
// concurrent use without locking because nothing mutates it after Load.
type Registry struct {
	ordered []Descriptor
	byName  map[string]int
}

// Load parses every source and builds a registry. Descriptors keep the order
// of sources. Any malformed document or repeated name fails the whole load
// and no registry is returned.
func Load(ctx context.Context, sources []Source) (*Registry, error) {
	parsed := make([]Descriptor, len(sources))
	errs := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parseConcurrency)
	for i, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			parsed[i], errs[i] = Parse(src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Report the first failing document in source order.
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	r := &Registry{
		ordered: parsed,
		byName:  make(map[string]int, len(parsed)),
	}
	for i, d := range parsed {
		if first, dup := r.byName[d.Name]; dup {
			return nil, errors.DuplicateSkill(d.Name, parsed[first].Source, d.Source)
		}
		r.byName[d.Name] = i
	}
	return r, nil
}

// LoadDir loads <root>/<skill>/SKILL.md for every subdirectory of root, in
// directory name order. Subdirectories without a SKILL.md are skipped.
func LoadDir(ctx context.Context, root string) (*Registry, error) {
	sources, err := DirSources(root)
	if err != nil {
		return nil, err
	}
	return Load(ctx, sources)
}

// DirSources lists the skill documents under root.
func DirSources(root string) ([]Source, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Infrastructure("cannot read skills directory", err).WithContext("dir", root)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var sources []Source
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), "SKILL.md")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		sources = append(sources, Source{Path: path})
	}
	return sources, nil
}

// Len returns the number of loaded skills.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.ordered)
}

// List returns all descriptors in source load order.
func (r *Registry) List() []Descriptor {
	if r == nil {
		return nil
	}
	out := make([]Descriptor, len(r.ordered))
	for i, d := range r.ordered {
		out[i] = d.clone()
	}
	return out
}

// Resolve returns the descriptor registered under name.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	if r != nil {
		if i, ok := r.byName[name]; ok {
			return r.ordered[i].clone(), nil
		}
	}
	return Descriptor{}, errors.UnknownSkill(name)
}

// Filter returns a registry holding the skills keep accepts, in the same
// order. r is not modified.
func (r *Registry) Filter(keep func(Descriptor) bool) *Registry {
	out := &Registry{byName: make(map[string]int)}
	if r == nil {
		return out
	}
	for _, d := range r.ordered {
		if keep(d.clone()) {
			out.byName[d.Name] = len(out.ordered)
			out.ordered = append(out.ordered, d)
		}
	}
	return out
}

// Catalog returns the tool definitions advertised to the model, one per
// skill, in List order.
func (r *Registry) Catalog() []llm.Tool {
	if r == nil {
		return nil
	}
	tools := make([]llm.Tool, 0, len(r.ordered))
	for _, d := range r.ordered {
		tools = append(tools, d.Tool())
	}
	return tools
}

// Tool returns the function definition of the skill. The JSON schema is
// derived from the parameter list.
func (d Descriptor) Tool() llm.Tool {
	properties := make(map[string]any, len(d.Parameters))
	required := make([]string, 0, len(d.Parameters))
	for _, p := range d.Parameters {
		properties[p.Name] = map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        d.Name,
			Description: d.Description,
			Parameters: map[string]any{
				"type":                 "object",
				"properties":           properties,
				"required":             required,
				"additionalProperties": !d.Closed,
			},
		},
	}
}
