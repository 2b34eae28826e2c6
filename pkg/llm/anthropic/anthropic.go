// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package anthropic provides an Anthropic messages API backend.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/puppylab/miniagent/pkg/llm"
)

// Provider implements llm.Provider for the Anthropic API.
type Provider struct {
	client     anthropic.Client
	model      string
	maxTokens  int64
	clientOpts []option.RequestOption
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithMaxTokens sets the maximum tokens for responses.
func WithMaxTokens(tokens int64) Option {
	return func(p *Provider) {
		p.maxTokens = tokens
	}
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, option.WithBaseURL(url))
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(apiKey string) Option {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, option.WithAPIKey(apiKey))
	}
}

// WithMaxRetries sets the SDK-level retry count.
func WithMaxRetries(n int) Option {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, option.WithMaxRetries(n))
	}
}

// New creates a new Anthropic provider.
// API key is read from ANTHROPIC_API_KEY environment variable by default.
func New(opts ...Option) *Provider {
	p := &Provider{
		model:     "claude-sonnet-4-20250514",
		maxTokens: 4096,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.client = anthropic.NewClient(p.clientOpts...)
	return p
}

// NewWithAPIKey creates a new Anthropic provider with explicit API key.
func NewWithAPIKey(apiKey string, opts ...Option) *Provider {
	opts = append([]Option{WithAPIKey(apiKey)}, opts...)
	return New(opts...)
}

// Chat implements llm.Provider. System messages are concatenated into the
// request system prompt; tool results travel as user messages.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	var system []string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		messages = append(messages, convertMessage(msg))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: p.maxTokens,
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: strings.Join(system, "\n\n")},
		}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, convertTool(tool))
		}
		params.Tools = tools
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}
	return convertResponse(message), nil
}

func mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
		if strings.Contains(strings.ToLower(err.Error()), "prompt is too long") {
			return fmt.Errorf("anthropic message failed: %w: %w", llm.ErrContextOverflow, err)
		}
	}
	return fmt.Errorf("anthropic message failed: %w", err)
}

func convertMessage(msg llm.Message) anthropic.MessageParam {
	switch msg.Role {
	case llm.RoleAssistant:
		if len(msg.ToolCalls) == 0 {
			return anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content))
		}
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
		if msg.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			input := map[string]any{}
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
		}
		return anthropic.NewAssistantMessage(blocks...)
	case llm.RoleTool:
		isError := strings.Contains(msg.Content, `"failure"`)
		return anthropic.NewUserMessage(anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, isError))
	default:
		return anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content))
	}
}

func convertTool(tool llm.Tool) anthropic.ToolUnionParam {
	var schema anthropic.ToolInputSchemaParam
	if raw, err := json.Marshal(tool.Function.Parameters); err == nil {
		_ = json.Unmarshal(raw, &schema)
	}

	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        tool.Function.Name,
			Description: anthropic.String(tool.Function.Description),
			InputSchema: schema,
		},
	}
}

func convertResponse(message *anthropic.Message) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		Usage: llm.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := "{}"
			if raw, err := json.Marshal(block.Input); err == nil && len(raw) > 0 && string(raw) != "null" {
				args = string(raw)
			}
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:   block.ID,
				Type: llm.ToolTypeFunction,
				Function: llm.FunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
		}
	}
	resp.Content = text.String()
	return resp
}

var _ llm.Provider = (*Provider)(nil)
