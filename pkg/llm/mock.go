package llm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned by ScriptedProvider when no response is left.
var ErrScriptExhausted = errors.New("scripted provider: no more responses available")

// ScriptedResponse is one queued backend reply.
type ScriptedResponse struct {
	Content   string
	ToolCalls []ToolCall
	Err       error
	// Before runs when the response is popped, before it is returned.
	Before func(req ChatRequest)
}

// ScriptedProvider returns a pre-defined sequence of responses and records
// every request it receives. Useful for testing multi-turn tool loops.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []ScriptedResponse
	requests  []ChatRequest
}

// NewScriptedProvider creates a provider that replies with the given
// responses in order.
func NewScriptedProvider(responses ...ScriptedResponse) *ScriptedProvider {
	return &ScriptedProvider{responses: responses}
}

// Reply is a final assistant message response.
func Reply(content string) ScriptedResponse {
	return ScriptedResponse{Content: content}
}

// CallTool is a single tool-call response with the given arguments.
func CallTool(id, name string, args map[string]any) ScriptedResponse {
	data, _ := json.Marshal(args)
	return ScriptedResponse{ToolCalls: []ToolCall{{
		ID:   id,
		Type: ToolTypeFunction,
		Function: FunctionCall{
			Name:      name,
			Arguments: string(data),
		},
	}}}
}

// Fail is an error response.
func Fail(err error) ScriptedResponse {
	return ScriptedResponse{Err: err}
}

// Chat pops the next scripted response.
func (s *ScriptedProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	req.Messages = append([]Message(nil), req.Messages...)
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		s.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	s.mu.Unlock()

	if next.Before != nil {
		next.Before(req)
	}
	if next.Err != nil {
		return nil, next.Err
	}
	return &ChatResponse{
		Content:   next.Content,
		ToolCalls: next.ToolCalls,
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 10,
			TotalTokens:      20,
		},
	}, nil
}

// Enqueue appends responses to the script.
func (s *ScriptedProvider) Enqueue(responses ...ScriptedResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, responses...)
}

// Requests returns a copy of all captured requests.
func (s *ScriptedProvider) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatRequest(nil), s.requests...)
}

// CallCount returns the number of Chat calls made.
func (s *ScriptedProvider) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Pending returns how many scripted responses remain.
func (s *ScriptedProvider) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses)
}
