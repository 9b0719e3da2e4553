// Package dispatch decides whether a batch of tool calls may run
// concurrently and executes it either way.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/colonyops/relay/internal/core/logging"
	"github.com/colonyops/relay/internal/core/task"
)

// Mode is how a batch is executed.
type Mode string

// Dispatch modes.
const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
)

// Plan is the dispatch decision for one batch. Order always reflects call
// order; parallel batches record results in call order regardless of
// completion order so pairing stays deterministic.
type Plan struct {
	Mode  Mode
	Order []int
}

// Policy decides the dispatch mode for a batch.
//
// A batch runs in parallel only when every call matches the read-only
// allow-list and the selected model declares multi-call support. One
// mutating or unlisted call forces the whole batch sequential.
type Policy struct {
	allowlist []string
}

// NewPolicy creates a policy from doublestar patterns naming read-only,
// side-effect-free tools.
func NewPolicy(allowlist []string) *Policy {
	return &Policy{allowlist: allowlist}
}

// DefaultAllowlist covers the built-in read-only lookup tools.
var DefaultAllowlist = []string{
	"get_*",
	"search_*",
	"read_*",
	"list_*",
	"convert_currency",
}

// Plan returns the dispatch plan for a batch of tool calls.
func (p *Policy) Plan(batch []task.ToolCall, parallelCapable bool) Plan {
	order := make([]int, len(batch))
	for i := range batch {
		order[i] = i
	}

	mode := ModeSequential
	if parallelCapable && len(batch) > 1 && p.allAllowed(batch) {
		mode = ModeParallel
	}
	return Plan{Mode: mode, Order: order}
}

func (p *Policy) allAllowed(batch []task.ToolCall) bool {
	for _, call := range batch {
		if !p.allowed(call.Name) {
			return false
		}
	}
	return true
}

func (p *Policy) allowed(name string) bool {
	for _, pattern := range p.allowlist {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Invoker executes one tool call and returns its classified result.
type Invoker func(ctx context.Context, call task.ToolCall) task.ToolResult

// Runner executes planned batches.
type Runner struct {
	invoke      Invoker
	callTimeout time.Duration
	log         zerolog.Logger
}

// NewRunner creates a runner. callTimeout bounds each individual call;
// zero disables the per-call timeout.
func NewRunner(invoke Invoker, callTimeout time.Duration) *Runner {
	return &Runner{
		invoke:      invoke,
		callTimeout: callTimeout,
		log:         logging.Component("dispatch"),
	}
}

// Run executes the batch per the plan and returns one result per call, in
// call order. Failures are isolated: a failing call never aborts its
// siblings, so partial results remain available to the model.
func (r *Runner) Run(ctx context.Context, plan Plan, batch []task.ToolCall) []task.ToolResult {
	results := make([]task.ToolResult, len(batch))

	if plan.Mode == ModeParallel {
		var wg sync.WaitGroup
		for _, i := range plan.Order {
			wg.Add(1)
			go func(slot int, call task.ToolCall) {
				defer wg.Done()
				results[slot] = r.one(ctx, call)
			}(i, batch[i])
		}
		wg.Wait()
		return results
	}

	for _, i := range plan.Order {
		results[i] = r.one(ctx, batch[i])
	}
	return results
}

func (r *Runner) one(ctx context.Context, call task.ToolCall) task.ToolResult {
	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}

	start := time.Now()
	res := r.invoke(ctx, call)
	r.log.Debug().
		Ctx(ctx).
		Str("tool", call.Name).
		Str("call_id", call.ID).
		Bool("success", res.Success).
		Dur("took", time.Since(start)).
		Msg("tool call finished")
	return res
}
