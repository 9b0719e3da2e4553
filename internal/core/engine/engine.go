// Package engine drives the resumable task execution state machine.
//
// One Engine may execute many tasks, but never the same task ID from two
// goroutines at once. The caller owns that single-writer guarantee.
package engine

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/relay/internal/core/accounting"
	"github.com/colonyops/relay/internal/core/budget"
	"github.com/colonyops/relay/internal/core/dispatch"
	"github.com/colonyops/relay/internal/core/logging"
	"github.com/colonyops/relay/internal/core/notify"
	"github.com/colonyops/relay/internal/core/provider"
	"github.com/colonyops/relay/internal/core/task"
	"github.com/colonyops/relay/internal/core/tools"
)

// Model describes engine-relevant traits of a configured model.
type Model struct {
	// Tier is "budget" or "premium". Budget models get a higher iteration
	// ceiling since they are cheaper to let loop.
	Tier string
	// MultiCall reports whether the model supports parallel tool calls.
	MultiCall bool
}

// Config holds engine limits and policy knobs.
type Config struct {
	Models map[string]Model

	// FallbackModel is switched to once if the primary model's provider
	// reports quota exhaustion. Empty disables fallback.
	FallbackModel string

	MaxIterations       int // per-task tool iteration ceiling, premium tier
	BudgetMaxIterations int // ceiling for budget-tier models
	MaxElapsed          time.Duration

	ResumeLimit     int
	CheckpointEvery int

	// AlwaysReview forces a review pass even for tasks that never used a
	// tool. The zero value skips review when there is no tool evidence to
	// check.
	AlwaysReview bool

	TokenBudget int // context compression ceiling
	MinRecent   int // messages always kept verbatim by compression

	ModelTimeout time.Duration
	ToolTimeout  time.Duration

	Guard budget.Guard

	Allowlist        []string // read-only tools eligible for parallel dispatch
	MutatingPatterns []string
}

func (c *Config) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 15
	}
	if c.BudgetMaxIterations <= 0 {
		c.BudgetMaxIterations = 30
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = 30 * time.Minute
	}
	if c.ResumeLimit <= 0 {
		c.ResumeLimit = 10
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 3
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = 24_000
	}
	if c.MinRecent <= 0 {
		c.MinRecent = 6
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = 2 * time.Minute
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = time.Minute
	}
	if len(c.Allowlist) == 0 {
		c.Allowlist = dispatch.DefaultAllowlist
	}
	if c.Guard == (budget.Guard{}) {
		c.Guard = budget.Guard{
			Plan:   2 * time.Minute,
			Work:   10 * time.Minute,
			Review: time.Minute,
		}
	}
}

// iterLimit returns the iteration ceiling for a model's tier.
func (c Config) iterLimit(model string) int {
	if c.Models[model].Tier == "budget" {
		return c.BudgetMaxIterations
	}
	return c.MaxIterations
}

// Deps are the engine's external collaborators.
type Deps struct {
	Client   provider.Client
	Tools    *tools.Registry
	Store    task.CheckpointStore
	Recorder accounting.Recorder // optional, defaults to no-op
	Notifier notify.Notifier     // optional, defaults to no-op
}

// Engine executes task requests against a model provider.
type Engine struct {
	cfg       Config
	client    provider.Client
	tools     *tools.Registry
	validator *tools.Validator
	policy    *dispatch.Policy
	runner    *dispatch.Runner
	store     task.CheckpointStore
	rec       accounting.Recorder
	notifier  notify.Notifier
	log       zerolog.Logger

	now func() time.Time
}

// New constructs an engine. Config zero values are replaced with defaults.
func New(cfg Config, deps Deps) *Engine {
	cfg.applyDefaults()

	e := &Engine{
		cfg:       cfg,
		client:    deps.Client,
		tools:     deps.Tools,
		validator: tools.NewValidator(cfg.MutatingPatterns),
		policy:    dispatch.NewPolicy(cfg.Allowlist),
		store:     deps.Store,
		rec:       deps.Recorder,
		notifier:  deps.Notifier,
		log:       logging.Component("engine"),
		now:       time.Now,
	}
	if e.rec == nil {
		e.rec = accounting.Noop{}
	}
	if e.notifier == nil {
		e.notifier = notify.Noop{}
	}
	e.runner = dispatch.NewRunner(e.invoke, cfg.ToolTimeout)
	return e
}
