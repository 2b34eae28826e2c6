// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package skills loads skill descriptors from SKILL.md documents and exposes
// them as an immutable registry and a model-facing tool catalog.
package skills

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// ParamType is the declared type of a skill parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
)

func (t ParamType) valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean:
		return true
	}
	return false
}

// Parameter is one named argument of a skill.
type Parameter struct {
	Name        string
	Type        ParamType
	Required    bool
	Description string
}

// Descriptor describes one loaded skill. Descriptors are never mutated after
// load; the registry hands out copies.
type Descriptor struct {
	Name        string
	Description string
	// Template is the usage line with {placeholder} names.
	Template   string
	Parameters []Parameter
	Examples   []string
	// Meta is author/reference text carried through unmodified.
	Meta string
	// Closed rejects arguments that are not declared parameters.
	Closed bool
	// Timeout overrides the invoker default when non-zero.
	Timeout time.Duration
	Source  string
}

// Parameter returns the named parameter.
func (d Descriptor) Parameter(name string) (Parameter, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

func (d Descriptor) clone() Descriptor {
	d.Parameters = slices.Clone(d.Parameters)
	d.Examples = slices.Clone(d.Examples)
	return d
}

// Source is one skill document. When Data is nil the document is read from
// Path.
type Source struct {
	Path string
	Data []byte
}

// InvocationRequest is a model tool call addressed to a skill.
type InvocationRequest struct {
	CallID    string
	Name      string
	Arguments map[string]any
}

// NewInvocationRequest decodes the JSON argument payload of a tool call.
// Numbers are kept as json.Number so integer and number parameters can be
// told apart during validation.
func NewInvocationRequest(callID, name, rawArgs string) (InvocationRequest, error) {
	req := InvocationRequest{CallID: callID, Name: name, Arguments: map[string]any{}}
	if len(bytes.TrimSpace([]byte(rawArgs))) == 0 {
		return req, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(rawArgs)))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return req, fmt.Errorf("tool call arguments are not a JSON object: %w", err)
	}
	if args != nil {
		req.Arguments = args
	}
	return req, nil
}

// Clone returns a copy with its own argument map.
func (r InvocationRequest) Clone() InvocationRequest {
	r.Arguments = maps.Clone(r.Arguments)
	return r
}
