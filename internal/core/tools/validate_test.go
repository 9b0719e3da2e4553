package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/relay/internal/core/task"
)

func TestValidator_IsMutating(t *testing.T) {
	v := NewValidator(nil)

	tests := []struct {
		tool string
		want bool
	}{
		{"get_weather", false},
		{"search_news", false},
		{"convert_currency", false},
		{"create_issue", true},
		{"write_file", true},
		{"delete_branch", true},
		{"update_record", true},
		{"run_command", true},
		{"open_pr", true},
		{"send_message", true},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			assert.Equal(t, tt.want, v.IsMutating(tt.tool))
		})
	}
}

func TestValidator_IsMutatingCustomPatterns(t *testing.T) {
	v := NewValidator([]string{"danger_*"})
	assert.True(t, v.IsMutating("danger_zone"))
	assert.False(t, v.IsMutating("run_command"))
}

func TestValidator_ValidateSuccess(t *testing.T) {
	v := NewValidator(nil)
	res := v.Validate("c1", "get_weather", "sunny, 21C", nil)

	assert.True(t, res.Success)
	assert.Equal(t, "c1", res.ID)
	assert.Equal(t, task.ErrorKind(""), res.Kind)
	assert.Equal(t, "sunny, 21C", res.Content)
}

func TestValidator_ValidateCapsContent(t *testing.T) {
	v := NewValidator(nil)
	res := v.Validate("c1", "get_weather", strings.Repeat("x", task.MaxToolResultBytes*2), nil)
	assert.LessOrEqual(t, len(res.Content), task.MaxToolResultBytes+32)
}

func TestValidator_Classify(t *testing.T) {
	v := NewValidator(nil)

	tests := []struct {
		name string
		err  error
		want task.ErrorKind
	}{
		{"deadline exceeded", context.DeadlineExceeded, task.ErrKindTimeout},
		{"wrapped deadline", errors.New("request timed out after 30s"), task.ErrKindTimeout},
		{"http 401", &HTTPError{Status: 401, Body: "nope"}, task.ErrKindAuth},
		{"http 403", &HTTPError{Status: 403, Body: "nope"}, task.ErrKindAuth},
		{"http 404", &HTTPError{Status: 404, Body: "gone"}, task.ErrKindNotFound},
		{"http 429", &HTTPError{Status: 429, Body: "slow down"}, task.ErrKindRateLimit},
		{"http 500", &HTTPError{Status: 500, Body: "oops"}, task.ErrKindHTTP},
		{"auth phrasing", errors.New("Unauthorized: invalid API key"), task.ErrKindAuth},
		{"not found phrasing", errors.New("branch not found"), task.ErrKindNotFound},
		{"rate limit phrasing", errors.New("rate limit exceeded, retry later"), task.ErrKindRateLimit},
		{"invalid args phrasing", errors.New("missing required field query"), task.ErrKindInvalidArgs},
		{"unmarshal failure", errors.New("json: cannot unmarshal string into Go value"), task.ErrKindInvalidArgs},
		{"anything else", errors.New("disk on fire"), task.ErrKindGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate("c1", "tool", "", tt.err)
			require.False(t, res.Success)
			assert.Equal(t, tt.want, res.Kind)
		})
	}
}

func TestValidator_ValidateKeepsPartialOutput(t *testing.T) {
	v := NewValidator(nil)
	res := v.Validate("c1", "run_command", "partial output", errors.New("exit status 1"))

	assert.False(t, res.Success)
	assert.Contains(t, res.Content, "partial output")
	assert.Contains(t, res.Content, "exit status 1")
}
