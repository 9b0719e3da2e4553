// Package compress reduces a conversation history to fit a token budget
// while preserving tool-call pairing and recency.
package compress

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/colonyops/relay/internal/core/task"
	"github.com/colonyops/relay/internal/core/tokens"
)

// Priority bands. Within a band, recency breaks ties.
const (
	scoreSystem   = 1000.0
	scoreSummary  = 900.0
	scoreFileData = 500.0
	scoreRecency  = 400.0
)

var pathPattern = regexp.MustCompile(`(?:[\w.-]+/)+[\w.-]+|\b[\w-]+\.(?:go|py|js|ts|rs|java|c|h|md|txt|json|yaml|yml|toml|sql|sh)\b`)

// Compressor produces budget-bounded histories.
type Compressor struct {
	est tokens.Estimator
}

// New creates a compressor using the given token estimator.
func New(est tokens.Estimator) *Compressor {
	return &Compressor{est: est}
}

// unit is the smallest include-or-exclude-together slice of history: an
// assistant message that requested tools plus all of its result messages,
// or a single message otherwise.
type unit struct {
	indices  []int
	cost     int
	score    float64
	required bool
}

// Compress returns a history that fits tokenBudget.
//
// System messages and the most recent minRecent messages are always
// retained verbatim, even when that overshoots the budget. A tool
// call and its paired results are never split. Excluded contiguous runs are
// replaced by one synthetic summary message naming the tools and file paths
// they referenced, so the model keeps a trace of prior activity. Orphaned
// tool calls are dropped, never left dangling.
//
// Re-applying Compress with the same budget to its own output retains the
// same messages: a fitting history is returned unchanged.
func (c *Compressor) Compress(history []task.Message, tokenBudget, minRecent int) []task.Message {
	if len(history) == 0 || c.est.History(history) <= tokenBudget {
		return history
	}

	units := c.buildUnits(history)
	markRequired(units, len(history), minRecent)

	// Synthetic summaries are only sized after selection, so a pass can land
	// slightly over budget. Shrink the spendable amount until the rebuilt
	// history fits; required units stay in regardless.
	out := c.pass(history, units, tokenBudget)
	for attempt := 0; attempt < 4; attempt++ {
		total := c.est.History(out)
		if total <= tokenBudget || tokenBudget <= 0 {
			break
		}
		tokenBudget -= total - tokenBudget
		if tokenBudget < 0 {
			tokenBudget = 0
		}
		out = c.pass(history, units, tokenBudget)
	}
	return out
}

// pass runs one greedy selection with the given spendable budget.
func (c *Compressor) pass(history []task.Message, units []*unit, spend int) []task.Message {
	remaining := spend
	included := make([]bool, len(history))
	for _, u := range units {
		if u.required {
			remaining -= u.cost
			for _, i := range u.indices {
				included[i] = true
			}
		}
	}

	order := make([]*unit, 0, len(units))
	for _, u := range units {
		if !u.required {
			order = append(order, u)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].score != order[j].score {
			return order[i].score > order[j].score
		}
		return order[i].indices[0] > order[j].indices[0] // newer first
	})

	for _, u := range order {
		if u.cost > remaining {
			continue
		}
		remaining -= u.cost
		for _, i := range u.indices {
			included[i] = true
		}
	}

	out := c.rebuild(history, included)
	out, _ = task.RepairHistory(out)
	return out
}

func (c *Compressor) buildUnits(history []task.Message) []*unit {
	byCall := map[string]*unit{}
	var units []*unit
	n := len(history)

	for i, m := range history {
		if m.Role == task.RoleTool && m.ToolCallID != "" {
			if u, ok := byCall[m.ToolCallID]; ok {
				u.indices = append(u.indices, i)
				u.cost += c.est.Message(m)
				if score := scoreMessage(m, i, n); score > u.score {
					u.score = score
				}
				continue
			}
		}
		u := &unit{
			indices: []int{i},
			cost:    c.est.Message(m),
			score:   scoreMessage(m, i, n),
			// System prompts carry the task's ground rules; no budget is
			// small enough to justify dropping them.
			required: m.Role == task.RoleSystem,
		}
		units = append(units, u)
		for _, call := range m.ToolCalls {
			byCall[call.ID] = u
		}
	}
	return units
}

func scoreMessage(m task.Message, idx, total int) float64 {
	recency := 0.0
	if total > 1 {
		recency = float64(idx) / float64(total-1)
	}
	switch {
	case m.Role == task.RoleSystem:
		return scoreSystem
	case m.Summary:
		return scoreSummary
	case m.Role == task.RoleTool && pathPattern.MatchString(m.Content):
		return scoreFileData + recency*100
	default:
		return recency * scoreRecency
	}
}

func markRequired(units []*unit, historyLen, minRecent int) {
	cutoff := historyLen - minRecent
	if cutoff < 0 {
		cutoff = 0
	}
	for _, u := range units {
		for _, i := range u.indices {
			if i >= cutoff {
				u.required = true
				break
			}
		}
	}
}

// rebuild emits included messages in original order, replacing each
// contiguous excluded run with a single summary message.
func (c *Compressor) rebuild(history []task.Message, included []bool) []task.Message {
	out := make([]task.Message, 0, len(history))
	runStart := -1

	flush := func(end int) {
		if runStart < 0 {
			return
		}
		out = append(out, summarize(history[runStart:end]))
		runStart = -1
	}

	for i, m := range history {
		if included[i] {
			flush(i)
			out = append(out, m)
			continue
		}
		if runStart < 0 {
			runStart = i
		}
	}
	flush(len(history))
	return out
}

// summarize produces the synthetic stand-in for an excluded run, naming the
// tools invoked and the file paths they touched.
func summarize(run []task.Message) task.Message {
	toolSet := map[string]bool{}
	pathSet := map[string]bool{}
	for _, m := range run {
		for _, call := range m.ToolCalls {
			toolSet[call.Name] = true
		}
		if m.Role == task.RoleTool {
			for _, p := range pathPattern.FindAllString(m.Content, 5) {
				pathSet[p] = true
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%d earlier messages compressed", len(run))
	if len(toolSet) > 0 {
		fmt.Fprintf(&b, "; tools used: %s", strings.Join(sortedKeys(toolSet), ", "))
	}
	if len(pathSet) > 0 {
		fmt.Fprintf(&b, "; files referenced: %s", strings.Join(sortedKeys(pathSet), ", "))
	}
	b.WriteString("]")

	return task.Message{Role: task.RoleUser, Content: b.String(), Summary: true}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
