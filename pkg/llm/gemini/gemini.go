// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package gemini provides a Google Gemini API backend.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/puppylab/miniagent/pkg/llm"
)

const defaultModel = "gemini-2.5-flash"

// Provider implements llm.StreamingProvider for the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
}

// Option configures the Provider.
type Option func(*providerConfig)

type providerConfig struct {
	model   string
	apiKey  string
	baseURL string
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(c *providerConfig) { c.model = model }
}

// WithAPIKey sets the API key. Without it the client reads GOOGLE_API_KEY
// or GEMINI_API_KEY.
func WithAPIKey(key string) Option {
	return func(c *providerConfig) { c.apiKey = key }
}

// WithBaseURL sets a custom endpoint.
func WithBaseURL(url string) Option {
	return func(c *providerConfig) { c.baseURL = url }
}

// New creates a Gemini provider.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	cfg := providerConfig{model: defaultModel}
	for _, opt := range opts {
		opt(&cfg)
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Provider{client: client, model: cfg.model}, nil
}

func (p *Provider) request(req llm.ChatRequest) (string, []*genai.Content, *genai.GenerateContentConfig) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	contents, system := convertMessages(req.Messages)

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		config.Temperature = &temp
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: convertTools(req.Tools)}}
	}
	return model, contents, config
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model, contents, config := p.request(req)
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, mapError(err)
	}
	return convertResponse(resp), nil
}

// ChatStream implements llm.StreamingProvider. Tool calls are collected and
// delivered with the final chunk.
func (p *Provider) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	model, contents, config := p.request(req)
	chunks := make(chan llm.StreamChunk, 16)

	go func() {
		defer close(chunks)
		final := llm.StreamChunk{Done: true}
		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				chunks <- llm.StreamChunk{Error: mapError(err)}
				return
			}
			part := convertResponse(resp)
			if resp.UsageMetadata != nil {
				usage := part.Usage
				final.Usage = &usage
			}
			final.ToolCalls = append(final.ToolCalls, part.ToolCalls...)
			if part.Content == "" {
				continue
			}
			select {
			case chunks <- llm.StreamChunk{Content: part.Content}:
			case <-ctx.Done():
				chunks <- llm.StreamChunk{Error: ctx.Err()}
				return
			}
		}
		chunks <- final
	}()
	return chunks, nil
}

func mapError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "token") && strings.Contains(msg, "exceed") {
		return fmt.Errorf("gemini generate content failed: %w: %w", llm.ErrContextOverflow, err)
	}
	return fmt.Errorf("gemini generate content failed: %w", err)
}

// convertMessages maps the history to Gemini contents. System messages are
// joined into the system instruction. Gemini pairs function responses by
// name, so tool results look up the name of the call they answer.
func convertMessages(messages []llm.Message) ([]*genai.Content, string) {
	var system []string
	names := make(map[string]string)
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleAssistant:
			content := &genai.Content{Role: "model"}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				names[tc.ID] = tc.Function.Name
				args := map[string]any{}
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Function.Name, Args: args},
				})
			}
			contents = append(contents, content)
		case llm.RoleTool:
			var result map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &result); err != nil {
				result = map[string]any{"result": msg.Content}
			}
			name := names[msg.ToolCallID]
			if name == "" {
				name = msg.ToolCallID
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{Name: name, Response: result},
				}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}
	return contents, strings.Join(system, "\n\n")
}

func convertTools(tools []llm.Tool) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  convertSchema(tool.Function.Parameters),
		})
	}
	return decls
}

// convertSchema translates the JSON schema subset skills produce. Gemini
// spells types in upper case and has no additionalProperties.
func convertSchema(v any) *genai.Schema {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			s.Properties[name] = convertSchema(prop)
		}
	}
	switch req := m["required"].(type) {
	case []string:
		s.Required = append(s.Required, req...)
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	return s
}

// convertResponse reads the first candidate. Gemini has no call ids, so
// tool calls leave ID empty for the session to fill in.
func convertResponse(resp *genai.GenerateContentResponse) *llm.ChatResponse {
	out := &llm.ChatResponse{}
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil || string(args) == "null" {
				args = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				Type:     llm.ToolTypeFunction,
				Function: llm.FunctionCall{Name: part.FunctionCall.Name, Arguments: string(args)},
			})
		}
	}
	out.Content = text.String()
	return out
}

var _ llm.StreamingProvider = (*Provider)(nil)
