// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package anthropic

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/puppylab/miniagent/pkg/llm"
)

func TestNewProvider(t *testing.T) {
	p := NewWithAPIKey("test-key", WithModel("claude-3-5-haiku-latest"), WithMaxTokens(1024))
	if p.model != "claude-3-5-haiku-latest" {
		t.Errorf("unexpected model %s", p.model)
	}
	if p.maxTokens != 1024 {
		t.Errorf("expected 1024 max tokens, got %d", p.maxTokens)
	}
}

func TestConvertTool(t *testing.T) {
	tool := llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        "convert",
			Description: "Convert files",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"input_file": map[string]any{"type": "string"},
				},
				"required": []string{"input_file"},
			},
		},
	}
	converted := convertTool(tool)
	if converted.OfTool == nil || converted.OfTool.Name != "convert" {
		t.Fatalf("unexpected tool %+v", converted)
	}
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"stop_reason": "tool_use",
			"content": [
				{"type": "text", "text": "Converting."},
				{"type": "tool_use", "id": "toolu_1", "name": "convert", "input": {"input_file": "a.md"}}
			],
			"usage": {"input_tokens": 12, "output_tokens": 4}
		}`))
	}))
	defer srv.Close()

	p := New(WithAPIKey("test"), WithBaseURL(srv.URL), WithMaxRetries(0))
	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleUser, Content: "convert a.md"},
		},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "Converting." {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "convert" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if resp.Usage.TotalTokens != 16 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
}

func TestChatContextOverflow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"prompt is too long: 210000 tokens > 200000 maximum"}}`))
	}))
	defer srv.Close()

	p := New(WithAPIKey("test"), WithBaseURL(srv.URL), WithMaxRetries(0))
	_, err := p.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if !errors.Is(err, llm.ErrContextOverflow) {
		t.Fatalf("expected ErrContextOverflow, got %v", err)
	}
}
