// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package invoker

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/puppylab/miniagent/pkg/errors"
	"github.com/puppylab/miniagent/pkg/skills"
)

// Validate checks arguments against the descriptor's parameter schema. All
// problems are reported together, declared parameters first, then unexpected
// names in sorted order.
func Validate(d skills.Descriptor, args map[string]any) error {
	var problems []string
	for _, p := range d.Parameters {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Required {
				problems = append(problems, fmt.Sprintf("missing required argument %q", p.Name))
			}
			continue
		}
		if !typeMatches(p.Type, v) {
			problems = append(problems, fmt.Sprintf("argument %q must be of type %s, got %s", p.Name, p.Type, describe(v)))
		}
	}

	if d.Closed {
		var unexpected []string
		for name := range args {
			if _, ok := d.Parameter(name); !ok {
				unexpected = append(unexpected, name)
			}
		}
		sort.Strings(unexpected)
		for _, name := range unexpected {
			problems = append(problems, fmt.Sprintf("unexpected argument %q", name))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.Validation(d.Name, strings.Join(problems, "; ")).
		WithContext("problems", problems)
}

func typeMatches(t skills.ParamType, v any) bool {
	switch t {
	case skills.TypeString:
		_, ok := v.(string)
		return ok
	case skills.TypeBoolean:
		_, ok := v.(bool)
		return ok
	case skills.TypeInteger:
		switch n := v.(type) {
		case json.Number:
			_, err := n.Int64()
			return err == nil
		case int, int32, int64:
			return true
		case float64:
			return n == math.Trunc(n) && !math.IsInf(n, 0)
		}
		return false
	case skills.TypeNumber:
		switch n := v.(type) {
		case json.Number:
			_, err := n.Float64()
			return err == nil
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	}
	return false
}

func describe(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, int, int32, int64, float32, float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

// formatValue renders a validated argument as a single argv word.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}
