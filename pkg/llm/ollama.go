package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider implements Provider and StreamingProvider against a local
// Ollama server.
type OllamaProvider struct {
	baseURL string
	client  *http.Client
}

// NewOllama creates a new OllamaProvider.
func NewOllama(baseURL string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Tools    []Tool         `json:"tools,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// ollamaResponse is both the non-streamed body and one NDJSON stream event.
type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

// ollamaMessage mirrors Message but accepts tool call arguments as a JSON
// object, which is how Ollama encodes them.
type ollamaMessage struct {
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

func (m ollamaMessage) toolCalls() []ToolCall {
	if len(m.ToolCalls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(m.ToolCalls))
	for i, tc := range m.ToolCalls {
		args := strings.TrimSpace(string(tc.Function.Arguments))
		// Some versions send the arguments as a JSON string.
		var s string
		if err := json.Unmarshal(tc.Function.Arguments, &s); err == nil {
			args = s
		}
		if args == "" {
			args = "{}"
		}
		out = append(out, ToolCall{
			ID:   fmt.Sprintf("call_%d", i),
			Type: ToolTypeFunction,
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: args,
			},
		})
	}
	return out
}

func (p *OllamaProvider) newRequest(ctx context.Context, req ChatRequest, stream bool) (*http.Request, error) {
	oReq := ollamaRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   stream,
		Tools:    req.Tools,
	}
	if req.Temperature != 0 {
		oReq.Options = map[string]any{"temperature": req.Temperature}
	}

	body, err := json.Marshal(oReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

func statusError(resp *http.Response) error {
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(respBody))
	if resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(msg), "context") {
		return fmt.Errorf("ollama: %s: %w", msg, ErrContextOverflow)
	}
	return fmt.Errorf("ollama api returned status %d: %s", resp.StatusCode, msg)
}

// Chat sends a chat request to Ollama and maps the response to ChatResponse.
func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	httpReq, err := p.newRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama api call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var oResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&oResp); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}

	return &ChatResponse{
		Content:   oResp.Message.Content,
		ToolCalls: oResp.Message.toolCalls(),
		Usage: Usage{
			PromptTokens:     oResp.PromptEvalCount,
			CompletionTokens: oResp.EvalCount,
			TotalTokens:      oResp.PromptEvalCount + oResp.EvalCount,
		},
	}, nil
}

// ChatStream implements StreamingProvider.
func (p *OllamaProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	httpReq, err := p.newRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama api call failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	chunks := make(chan StreamChunk, 100)

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		var toolCalls []ToolCall

		for {
			if err := ctx.Err(); err != nil {
				chunks <- StreamChunk{Error: err}
				return
			}

			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err != io.EOF {
					chunks <- StreamChunk{Error: err}
				}
				return
			}

			var event ollamaResponse
			if err := json.Unmarshal(line, &event); err != nil {
				continue
			}

			// Ollama sends complete tool calls, not deltas.
			if calls := event.Message.toolCalls(); len(calls) > 0 {
				toolCalls = calls
			}

			if event.Done {
				chunks <- StreamChunk{
					Content:   event.Message.Content,
					Done:      true,
					ToolCalls: toolCalls,
					Usage: &Usage{
						PromptTokens:     event.PromptEvalCount,
						CompletionTokens: event.EvalCount,
						TotalTokens:      event.PromptEvalCount + event.EvalCount,
					},
				}
				return
			}

			if event.Message.Content != "" {
				chunks <- StreamChunk{Content: event.Message.Content}
			}
		}
	}()

	return chunks, nil
}

var _ StreamingProvider = (*OllamaProvider)(nil)
