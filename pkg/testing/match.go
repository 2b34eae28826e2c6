// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"fmt"
	"regexp"
	"strings"
)

// StringMatcher matches task messages and error texts in expectations.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains matches strings containing substr.
func Contains(substr string) StringMatcher {
	return matcher{
		fn:   func(s string) bool { return strings.Contains(s, substr) },
		desc: fmt.Sprintf("contains %q", substr),
	}
}

// Equals matches exactly expected.
func Equals(expected string) StringMatcher {
	return matcher{
		fn:   func(s string) bool { return s == expected },
		desc: fmt.Sprintf("equals %q", expected),
	}
}

// HasPrefix matches strings starting with prefix.
func HasPrefix(prefix string) StringMatcher {
	return matcher{
		fn:   func(s string) bool { return strings.HasPrefix(s, prefix) },
		desc: fmt.Sprintf("has prefix %q", prefix),
	}
}

// Regex matches strings against pattern. An invalid pattern matches
// nothing.
func Regex(pattern string) StringMatcher {
	re, err := regexp.Compile(pattern)
	return matcher{
		fn:   func(s string) bool { return err == nil && re.MatchString(s) },
		desc: fmt.Sprintf("matches regex %q", pattern),
	}
}

type matcher struct {
	fn   func(string) bool
	desc string
}

func (m matcher) Match(s string) bool { return m.fn(s) }
func (m matcher) Description() string { return m.desc }
