// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai provides an OpenAI chat-completions backend.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/puppylab/miniagent/pkg/llm"
)

// Provider implements llm.StreamingProvider for the OpenAI API and any
// compatible endpoint.
type Provider struct {
	client     openai.Client
	model      string
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

// WithBaseURL sets a custom base URL (Azure OpenAI, proxies, local servers).
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

// WithMaxRetries sets the SDK-level retry count. Sessions retry on their own,
// so callers usually set this to zero.
func WithMaxRetries(n int) Option {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, option.WithMaxRetries(n))
	}
}

// New creates a new OpenAI provider.
// API key is read from OPENAI_API_KEY environment variable by default.
func New(opts ...Option) *Provider {
	p := &Provider{model: "gpt-5-mini"}
	for _, opt := range opts {
		opt(p)
	}
	p.client = openai.NewClient(p.clientOpts...)
	return p
}

// NewWithAPIKey creates a new OpenAI provider with explicit API key.
func NewWithAPIKey(apiKey string, opts ...Option) *Provider {
	opts = append([]Option{WithAPIKey(apiKey)}, opts...)
	return New(opts...)
}

func (p *Provider) params(req llm.ChatRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, convertMessage(msg))
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, convertTool(tool))
		}
		params.Tools = tools
	}
	return params
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	completion, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return nil, mapError(err)
	}
	return convertResponse(completion), nil
}

// mapError tags context-window rejections with llm.ErrContextOverflow.
func mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
		text := strings.ToLower(err.Error())
		if strings.Contains(text, "context_length_exceeded") || strings.Contains(text, "maximum context length") {
			return fmt.Errorf("openai chat completion failed: %w: %w", llm.ErrContextOverflow, err)
		}
	}
	return fmt.Errorf("openai chat completion failed: %w", err)
}

func convertMessage(msg llm.Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case llm.RoleSystem:
		return openai.SystemMessage(msg.Content)
	case llm.RoleUser:
		return openai.UserMessage(msg.Content)
	case llm.RoleAssistant:
		if len(msg.ToolCalls) == 0 {
			return openai.AssistantMessage(msg.Content)
		}
		toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
		if msg.Content != "" {
			assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: param.NewOpt(msg.Content),
			}
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
	case llm.RoleTool:
		return openai.ToolMessage(msg.Content, msg.ToolCallID)
	default:
		return openai.UserMessage(msg.Content)
	}
}

func convertTool(tool llm.Tool) openai.ChatCompletionToolParam {
	var params openai.FunctionParameters
	if raw, err := json.Marshal(tool.Function.Parameters); err == nil {
		_ = json.Unmarshal(raw, &params)
	}

	return openai.ChatCompletionToolParam{
		Function: openai.FunctionDefinitionParam{
			Name:        tool.Function.Name,
			Description: openai.String(tool.Function.Description),
			Parameters:  params,
		},
	}
}

func convertResponse(completion *openai.ChatCompletion) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		Usage: llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) == 0 {
		return resp
	}

	msg := completion.Choices[0].Message
	resp.Content = msg.Content
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
			ID:   tc.ID,
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return resp
}

// ChatStream implements llm.StreamingProvider. Tool call fragments are
// accumulated by index and delivered complete on the final chunk.
func (p *Provider) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(req))
	chunks := make(chan llm.StreamChunk, 100)

	go func() {
		defer close(chunks)
		defer stream.Close()

		calls := make(map[int]*llm.ToolCall)

		for stream.Next() {
			event := stream.Current()
			chunk := llm.StreamChunk{}

			if len(event.Choices) > 0 {
				delta := event.Choices[0].Delta
				chunk.Content = delta.Content

				for _, tc := range delta.ToolCalls {
					idx := int(tc.Index)
					if _, ok := calls[idx]; !ok {
						calls[idx] = &llm.ToolCall{
							ID:       tc.ID,
							Type:     llm.ToolTypeFunction,
							Function: llm.FunctionCall{Name: tc.Function.Name},
						}
					}
					calls[idx].Function.Arguments += tc.Function.Arguments
				}

				if event.Choices[0].FinishReason != "" {
					chunk.Done = true
					for i := 0; i < len(calls); i++ {
						if tc, ok := calls[i]; ok {
							chunk.ToolCalls = append(chunk.ToolCalls, *tc)
						}
					}
				}
			}

			if event.Usage.TotalTokens > 0 {
				chunk.Usage = &llm.Usage{
					PromptTokens:     int(event.Usage.PromptTokens),
					CompletionTokens: int(event.Usage.CompletionTokens),
					TotalTokens:      int(event.Usage.TotalTokens),
				}
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				chunks <- llm.StreamChunk{Error: ctx.Err()}
				return
			}
		}

		if err := stream.Err(); err != nil {
			chunks <- llm.StreamChunk{Error: mapError(err)}
		}
	}()

	return chunks, nil
}

var _ llm.StreamingProvider = (*Provider)(nil)
