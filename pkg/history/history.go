// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package history defines the session message record and the append-only
// stores that mirror session histories.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/puppylab/miniagent/pkg/llm"
)

// Message is one entry of a session history. Seq starts at 1 and increases
// by one per append within a session.
type Message struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Seq        int64         `json:"seq"`
	Role       llm.Role      `json:"role"`
	Content    string        `json:"content"`
	ToolCall   *llm.ToolCall `json:"tool_call,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	// Failure marks a tool result that carries a failed skill result.
	Failure   bool      `json:"failure,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LLM converts the record to the backend wire message.
func (m Message) LLM() llm.Message {
	out := llm.Message{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	if m.ToolCall != nil {
		out.ToolCalls = []llm.ToolCall{*m.ToolCall}
	}
	return out
}

// Clone returns a copy that shares no pointers with m.
func (m Message) Clone() Message {
	if m.ToolCall != nil {
		tc := *m.ToolCall
		m.ToolCall = &tc
	}
	return m
}

// Store persists session histories. Stores only append; they never rewrite
// or reorder messages of a session.
type Store interface {
	// Append adds msg to the end of the session history.
	Append(ctx context.Context, sessionID string, msg Message) error
	// Messages returns the session history in Seq order.
	Messages(ctx context.Context, sessionID string) ([]Message, error)
	// Sessions lists the ids of stored sessions.
	Sessions(ctx context.Context) ([]string, error)
	// Delete removes a session history.
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// Open builds a store for the configured driver: memory, file (path is a
// directory) or sqlite (path is a database file).
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewInMemoryStore(), nil
	case "file":
		return NewFileStore(path)
	case "sqlite":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown history driver %q", driver)
	}
}
