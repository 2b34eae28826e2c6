// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package invoker

import (
	"fmt"
	"regexp"

	"github.com/google/shlex"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Render turns a usage template into argv. The template is split with shell
// word rules first and placeholders are substituted inside each word, so an
// argument value always stays one argv element and is never interpreted by a
// shell. A word whose placeholders are all absent from args is dropped; a
// supplied empty string stays an empty argv element.
func Render(template string, args map[string]any) ([]string, error) {
	words, err := shlex.Split(template)
	if err != nil {
		return nil, fmt.Errorf("split usage template: %w", err)
	}

	argv := make([]string, 0, len(words))
	for _, word := range words {
		placeholders, supplied := 0, 0
		rendered := placeholder.ReplaceAllStringFunc(word, func(m string) string {
			placeholders++
			v, ok := args[m[1:len(m)-1]]
			if !ok || v == nil {
				return ""
			}
			supplied++
			return formatValue(v)
		})
		if placeholders > 0 && supplied == 0 && rendered == "" {
			continue
		}
		argv = append(argv, rendered)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("usage template %q renders to an empty command", template)
	}
	return argv, nil
}
