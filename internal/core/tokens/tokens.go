// Package tokens estimates the token cost of messages and conversations.
package tokens

import (
	"strings"

	"github.com/colonyops/relay/internal/core/task"
)

// perMessageOverhead accounts for role and metadata tokens that providers
// charge per message beyond the raw text.
const perMessageOverhead = 4

// perToolCallOverhead accounts for the serialized call envelope.
const perToolCallOverhead = 8

// imagePartTokens is a flat charge per image content part.
const imagePartTokens = 768

// Estimator estimates token counts for a target model's tokenization
// scheme. Implementations must be deterministic for the same input.
type Estimator interface {
	Message(m task.Message) int
	History(history []task.Message) int
}

// Heuristic estimates tokens from character counts. It is the fallback when
// no exact tokenizer is available for the model, and is deterministic so
// tests can rely on it.
type Heuristic struct {
	charsPerToken float64
}

var modelRatios = map[string]float64{
	// Dense technical output tokenizes shorter than prose; these ratios are
	// intentionally conservative so compression triggers early.
	"budget-small":  3.6,
	"premium-large": 3.8,
}

const defaultCharsPerToken = 4.0

// NewHeuristic returns a character-count estimator tuned for the model.
// Unknown models use a conservative default ratio.
func NewHeuristic(model string) *Heuristic {
	ratio, ok := modelRatios[model]
	if !ok {
		ratio = defaultCharsPerToken
	}
	return &Heuristic{charsPerToken: ratio}
}

// Message estimates the token cost of a single message, including
// per-message overhead and any tool-call envelopes.
func (h *Heuristic) Message(m task.Message) int {
	n := perMessageOverhead + h.text(m.Content)
	for _, p := range m.Parts {
		if p.Type == "image_url" {
			n += imagePartTokens
			continue
		}
		n += h.text(p.Text)
	}
	for _, c := range m.ToolCalls {
		n += perToolCallOverhead + h.text(c.Name) + h.text(string(c.Arguments))
	}
	if m.ToolCallID != "" {
		n += h.text(m.ToolCallID)
	}
	return n
}

// History estimates the total token cost of a conversation.
func (h *Heuristic) History(history []task.Message) int {
	total := 0
	for _, m := range history {
		total += h.Message(m)
	}
	return total
}

func (h *Heuristic) text(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	n := int(float64(len(s)) / h.charsPerToken)
	if n == 0 {
		n = 1
	}
	return n
}
