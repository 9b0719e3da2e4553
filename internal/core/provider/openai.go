package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/colonyops/relay/internal/core/task"
	"github.com/colonyops/relay/internal/core/tools"
)

// OpenAIClient speaks the OpenAI-compatible chat completions protocol.
// Most hosted and local model gateways accept this shape.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(baseURL, apiKey string, timeout time.Duration) *OpenAIClient {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OpenAIClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function tools.Definition `json:"function"`
}

type completionRequest struct {
	Model           string        `json:"model"`
	Messages        []wireMessage `json:"messages"`
	Tools           []wireTool    `json:"tools,omitempty"`
	Temperature     float64       `json:"temperature,omitempty"`
	ReasoningEffort string        `json:"reasoning_effort,omitempty"`
	ResponseFormat  *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ChatCompletion makes one completion call.
func (c *OpenAIClient) ChatCompletion(ctx context.Context, history []task.Message, defs []tools.Definition, opts Options) (task.Message, Usage, error) {
	reqBody := completionRequest{
		Model:           opts.Model,
		Messages:        toWire(history),
		Temperature:     opts.Temperature,
		ReasoningEffort: opts.ReasoningEffort,
	}
	for _, def := range defs {
		reqBody.Tools = append(reqBody.Tools, wireTool{Type: "function", Function: def})
	}
	if opts.Structured {
		reqBody.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return task.Message{}, Usage{}, fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return task.Message{}, Usage{}, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return task.Message{}, Usage{}, fmt.Errorf("completion call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return task.Message{}, Usage{}, fmt.Errorf("read completion response: %w", err)
	}

	if resp.StatusCode == http.StatusPaymentRequired {
		return task.Message{}, Usage{}, fmt.Errorf("model %s: %w", opts.Model, ErrQuotaExhausted)
	}
	if resp.StatusCode != http.StatusOK {
		return task.Message{}, Usage{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return task.Message{}, Usage{}, fmt.Errorf("decode completion response: %w", err)
	}
	if parsed.Error != nil {
		if parsed.Error.Type == "insufficient_quota" {
			return task.Message{}, Usage{}, fmt.Errorf("model %s: %w", opts.Model, ErrQuotaExhausted)
		}
		return task.Message{}, Usage{}, fmt.Errorf("provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return task.Message{}, Usage{}, fmt.Errorf("provider returned no choices")
	}

	return fromWire(parsed.Choices[0].Message), parsed.Usage, nil
}

func toWire(history []task.Message) []wireMessage {
	out := make([]wireMessage, 0, len(history))
	for _, m := range history {
		wm := wireMessage{Role: m.Role, ToolCallID: m.ToolCallID}
		if len(m.Parts) > 0 {
			parts := make([]map[string]any, 0, len(m.Parts))
			for _, p := range m.Parts {
				if p.Type == "image_url" {
					parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]string{"url": p.URL}})
					continue
				}
				parts = append(parts, map[string]any{"type": "text", "text": p.Text})
			}
			wm.Content = parts
		} else if m.Content != "" || len(m.ToolCalls) == 0 {
			wm.Content = m.Content
		}
		for _, call := range m.ToolCalls {
			wc := wireToolCall{ID: call.ID, Type: "function"}
			wc.Function.Name = call.Name
			wc.Function.Arguments = string(call.Arguments)
			wm.ToolCalls = append(wm.ToolCalls, wc)
		}
		out = append(out, wm)
	}
	return out
}

func fromWire(wm wireMessage) task.Message {
	m := task.Message{Role: wm.Role, ToolCallID: wm.ToolCallID}
	if s, ok := wm.Content.(string); ok {
		m.Content = s
	}
	for _, wc := range wm.ToolCalls {
		m.ToolCalls = append(m.ToolCalls, task.ToolCall{
			ID:        wc.ID,
			Name:      wc.Function.Name,
			Arguments: json.RawMessage(wc.Function.Arguments),
		})
	}
	return m
}
