// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package history

import "github.com/puppylab/miniagent/pkg/llm"

// Strategy selects the part of a history that is sent to the model. It
// returns a new slice and never modifies its input.
type Strategy interface {
	Window(messages []Message) []Message
}

// WindowStrategy keeps the last MaxMessages messages, optionally keeping
// system messages regardless of the window.
type WindowStrategy struct {
	MaxMessages int
	KeepSystem  bool
}

// NewWindowStrategy creates a window strategy.
func NewWindowStrategy(maxMessages int, keepSystem bool) *WindowStrategy {
	return &WindowStrategy{MaxMessages: maxMessages, KeepSystem: keepSystem}
}

// Window implements Strategy. The window never starts with a tool result
// whose tool call fell outside it.
func (w *WindowStrategy) Window(messages []Message) []Message {
	if w.MaxMessages <= 0 || len(messages) <= w.MaxMessages {
		return append([]Message(nil), messages...)
	}

	var system, other []Message
	for _, m := range messages {
		if w.KeepSystem && m.Role == llm.RoleSystem {
			system = append(system, m)
		} else {
			other = append(other, m)
		}
	}

	available := max(w.MaxMessages-len(system), 0)
	if len(other) > available {
		other = other[len(other)-available:]
	}
	for len(other) > 0 && other[0].Role == llm.RoleTool {
		other = other[1:]
	}

	out := make([]Message, 0, len(system)+len(other))
	out = append(out, system...)
	return append(out, other...)
}

// EstimateTokens approximates the token count of a message list at four
// bytes per token.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		n := len(m.Content)
		if m.ToolCall != nil {
			n += len(m.ToolCall.Function.Name) + len(m.ToolCall.Function.Arguments)
		}
		total += n/4 + 4
	}
	return total
}
