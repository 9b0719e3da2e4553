package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/relay/internal/core/task"
	"github.com/colonyops/relay/internal/core/tools"
)

func TestScripted_ReplaysSteps(t *testing.T) {
	s := NewScripted(
		Step{Message: task.Message{Content: "first"}, Usage: Usage{PromptTokens: 10, CompletionTokens: 5}},
		Step{Err: errors.New("boom")},
	)

	msg, usage, err := s.ChatCompletion(context.Background(), nil, nil, Options{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, task.RoleAssistant, msg.Role)
	assert.Equal(t, "first", msg.Content)
	assert.Equal(t, 15, usage.Total())

	_, _, err = s.ChatCompletion(context.Background(), nil, nil, Options{})
	assert.Error(t, err)

	_, _, err = s.ChatCompletion(context.Background(), nil, nil, Options{})
	assert.Error(t, err, "calls beyond the script fail")
	assert.Len(t, s.Calls(), 3)
}

func TestRetryClient_RetriesTransient(t *testing.T) {
	s := NewScripted(
		Step{Err: errors.New("connection refused")},
		Step{Message: task.Message{Content: "ok"}},
	)
	c := NewRetryClient(s, 3, time.Millisecond)

	msg, _, err := c.ChatCompletion(context.Background(), nil, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Content)
	assert.Len(t, s.Calls(), 2)
}

func TestRetryClient_NoRetryOnQuota(t *testing.T) {
	s := NewScripted(
		Step{Err: ErrQuotaExhausted},
		Step{Message: task.Message{Content: "never reached"}},
	)
	c := NewRetryClient(s, 3, time.Millisecond)

	_, _, err := c.ChatCompletion(context.Background(), nil, nil, Options{})
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.Len(t, s.Calls(), 1)
}

func TestRetryClient_GivesUpAfterAttempts(t *testing.T) {
	s := NewScripted(
		Step{Err: errors.New("connection reset")},
		Step{Err: errors.New("connection reset")},
		Step{Err: errors.New("connection reset")},
	)
	c := NewRetryClient(s, 3, time.Millisecond)

	_, _, err := c.ChatCompletion(context.Background(), nil, nil, Options{})
	assert.Error(t, err)
	assert.Len(t, s.Calls(), 3)
}

func TestRetryClient_NonRetryableSurfacesImmediately(t *testing.T) {
	s := NewScripted(Step{Err: errors.New("invalid api key")})
	c := NewRetryClient(s, 5, time.Millisecond)

	_, _, err := c.ChatCompletion(context.Background(), nil, nil, Options{})
	assert.Error(t, err)
	assert.Len(t, s.Calls(), 1)
}

func TestOpenAIClient_ChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {
				"role": "assistant",
				"content": null,
				"tool_calls": [{"id": "c1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"query\":\"berlin\"}"}}]
			}}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 7}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "test-key", time.Second)
	history := []task.Message{{Role: task.RoleUser, Content: "weather in berlin"}}
	defs := []tools.Definition{{Name: "get_weather", Description: "weather lookup"}}

	msg, usage, err := c.ChatCompletion(context.Background(), history, defs, Options{Model: "budget-small"})
	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "get_weather", msg.ToolCalls[0].Name)
	assert.Equal(t, 49, usage.Total())
}

func TestOpenAIClient_QuotaExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "", time.Second)
	_, _, err := c.ChatCompletion(context.Background(), nil, nil, Options{Model: "premium-large"})
	assert.ErrorIs(t, err, ErrQuotaExhausted)
}

func TestOpenAIClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "", time.Second)
	_, _, err := c.ChatCompletion(context.Background(), nil, nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 500")
}

func TestWireRoundTrip_ToolMessages(t *testing.T) {
	history := []task.Message{
		{Role: task.RoleAssistant, ToolCalls: []task.ToolCall{{ID: "c1", Name: "get_weather", Arguments: []byte(`{"q":"x"}`)}}},
		{Role: task.RoleTool, ToolCallID: "c1", Content: "sunny"},
	}

	wire := toWire(history)
	require.Len(t, wire, 2)
	require.Len(t, wire[0].ToolCalls, 1)
	assert.Equal(t, "get_weather", wire[0].ToolCalls[0].Function.Name)
	assert.Equal(t, "c1", wire[1].ToolCallID)
}
