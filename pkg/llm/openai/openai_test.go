// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package openai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/puppylab/miniagent/pkg/llm"
)

func TestNewProvider(t *testing.T) {
	p := NewWithAPIKey("test-key")
	if p.model != "gpt-5-mini" {
		t.Errorf("expected model gpt-5-mini, got %s", p.model)
	}
	p = New(WithModel("gpt-4.1"), WithAPIKey("k"), WithBaseURL("http://localhost:1"))
	if p.model != "gpt-4.1" {
		t.Errorf("expected model gpt-4.1, got %s", p.model)
	}
	if len(p.clientOpts) != 2 {
		t.Errorf("expected both client options to be kept, got %d", len(p.clientOpts))
	}
}

func TestConvertMessages(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are helpful"},
		{Role: llm.RoleUser, Content: "Convert a.md"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{
			ID:       "call_1",
			Type:     llm.ToolTypeFunction,
			Function: llm.FunctionCall{Name: "convert", Arguments: `{"input_file":"a.md"}`},
		}}},
		{Role: llm.RoleTool, Content: `{"output":"ok"}`, ToolCallID: "call_1"},
	}

	for _, msg := range msgs {
		converted := convertMessage(msg)
		switch msg.Role {
		case llm.RoleAssistant:
			if converted.OfAssistant == nil || len(converted.OfAssistant.ToolCalls) != 1 {
				t.Errorf("expected assistant tool call, got %+v", converted)
			}
		case llm.RoleTool:
			if converted.OfTool == nil {
				t.Errorf("expected tool message")
			}
		}
	}
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-5-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "convert", "arguments": "{\"input_file\":\"a.md\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8}
		}`))
	}))
	defer srv.Close()

	p := New(WithAPIKey("test"), WithBaseURL(srv.URL), WithMaxRetries(0))
	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Convert a.md"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_1" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if resp.Usage.TotalTokens != 8 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
}

func TestChatContextOverflow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"This model's maximum context length is 8192 tokens.","type":"invalid_request_error","param":"messages","code":"context_length_exceeded"}}`))
	}))
	defer srv.Close()

	p := New(WithAPIKey("test"), WithBaseURL(srv.URL), WithMaxRetries(0))
	_, err := p.Chat(context.Background(), llm.ChatRequest{})
	if !errors.Is(err, llm.ErrContextOverflow) {
		t.Fatalf("expected ErrContextOverflow, got %v", err)
	}
}
