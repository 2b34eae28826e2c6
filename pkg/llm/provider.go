// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package llm defines the model backend interface consumed by sessions and
// the wire types shared by every backend implementation.
package llm

import (
	"context"
	"errors"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolType represents the type of tool.
type ToolType string

const (
	ToolTypeFunction ToolType = "function"
)

// ErrContextOverflow is returned (possibly wrapped) by backends that reject
// a request because the history exceeds the model context window.
var ErrContextOverflow = errors.New("llm: context length exceeded")

// FunctionDef defines a function tool advertised to the model.
type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters"` // JSON Schema
}

// Tool is one entry of the tool catalog sent with every request.
type Tool struct {
	Type     ToolType    `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionCall is the name and JSON-encoded arguments of a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a request from the model to invoke a tool.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     ToolType     `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is a single unit of the request history.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ChatRequest encapsulates the input for the backend.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// ChatResponse encapsulates the backend output. A response with tool calls
// is a tool-call request; otherwise it is a final assistant message.
type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider is the model backend interface.
type Provider interface {
	// Chat sends the history and tool catalog and returns the model output.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// StreamChunk is one increment of a streamed response. The final chunk has
// Done set and carries the complete tool calls, if any.
type StreamChunk struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *Usage
	Done      bool
	Error     error
}

// StreamingProvider is implemented by backends that can stream responses.
type StreamingProvider interface {
	Provider
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
}

// Collect drains a stream into a ChatResponse, calling onDelta for every
// non-empty content increment.
func Collect(chunks <-chan StreamChunk, onDelta func(string)) (*ChatResponse, error) {
	resp := &ChatResponse{}
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Content != "" {
			resp.Content += chunk.Content
			if onDelta != nil {
				onDelta(chunk.Content)
			}
		}
		if len(chunk.ToolCalls) > 0 {
			resp.ToolCalls = chunk.ToolCalls
		}
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
	}
	return resp, nil
}
