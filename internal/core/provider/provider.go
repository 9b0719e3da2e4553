// Package provider defines the model provider client contract and common
// implementations.
package provider

import (
	"context"
	"errors"

	"github.com/colonyops/relay/internal/core/task"
	"github.com/colonyops/relay/internal/core/tools"
)

// ErrQuotaExhausted indicates the provider refused the call for billing or
// quota reasons (HTTP 402-equivalent). The engine reacts by falling back to
// an alternate model exactly once; retrying the same model is pointless.
var ErrQuotaExhausted = errors.New("provider quota exhausted")

// Options are per-call completion options.
type Options struct {
	Model           string
	Temperature     float64
	Structured      bool
	ReasoningEffort string
}

// Usage reports token counts for cost accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns the combined token count.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Client exposes a chat-completion call, possibly with tool calling. The
// engine invokes it once per iteration with a caller-supplied timeout on
// the context.
type Client interface {
	ChatCompletion(ctx context.Context, history []task.Message, defs []tools.Definition, opts Options) (task.Message, Usage, error)
}
