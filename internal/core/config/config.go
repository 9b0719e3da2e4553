// Package config handles configuration loading and validation for relay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/colonyops/relay/internal/core/dispatch"
	"github.com/colonyops/relay/internal/core/tools"
)

// Model tiers. Budget models get higher iteration ceilings.
const (
	TierBudget  = "budget"
	TierPremium = "premium"
)

// Duration is a time.Duration that unmarshals from YAML strings like "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the application configuration.
type Config struct {
	Provider     Provider         `yaml:"provider"`
	DefaultModel string           `yaml:"default_model"`
	Models       map[string]Model `yaml:"models"`
	Engine       Engine           `yaml:"engine"`
	Budgets      Budgets          `yaml:"budgets"`
	Tools        Tools            `yaml:"tools"`
	Database     Database         `yaml:"database"`
	DataDir      string           `yaml:"-"` // set by caller, not from config file
}

// Provider configures the model provider endpoint.
type Provider struct {
	// Kind is "openai" (HTTP, OpenAI-compatible) or "scripted" (offline stub).
	Kind          string   `yaml:"kind"`
	BaseURL       string   `yaml:"base_url"`
	APIKey        string   `yaml:"api_key"`
	APIKeyEnv     string   `yaml:"api_key_env"`
	Timeout       Duration `yaml:"timeout"`
	RetryAttempts int      `yaml:"retry_attempts"`
	RetryWait     Duration `yaml:"retry_wait"`
}

// Key resolves the API key, preferring the environment variable when set.
func (p Provider) Key() string {
	if p.APIKeyEnv != "" {
		if v := os.Getenv(p.APIKeyEnv); v != "" {
			return v
		}
	}
	return p.APIKey
}

// Model describes one selectable model.
type Model struct {
	Tier              string `yaml:"tier"`
	ParallelToolCalls bool   `yaml:"parallel_tool_calls"`
}

// Engine holds the execution engine knobs.
type Engine struct {
	FallbackModel          string   `yaml:"fallback_model"`
	MaxIterations          int      `yaml:"max_iterations"`
	BudgetMaxIterations    int      `yaml:"budget_max_iterations"`
	MaxElapsed             Duration `yaml:"max_elapsed"`
	ResumeLimit            int      `yaml:"resume_limit"`
	CheckpointEvery        int      `yaml:"checkpoint_every"`
	SkipReviewWithoutTools *bool    `yaml:"skip_review_without_tools"`
	TokenBudget            int      `yaml:"token_budget"`
	MinRecent              int      `yaml:"min_recent"`
	ToolTimeout            Duration `yaml:"tool_timeout"`
}

// SkipReview reports the review-skip policy, defaulting to true.
func (e Engine) SkipReview() bool {
	if e.SkipReviewWithoutTools == nil {
		return true
	}
	return *e.SkipReviewWithoutTools
}

// Budgets holds the per-phase wall-clock ceilings.
type Budgets struct {
	Plan   Duration `yaml:"plan"`
	Work   Duration `yaml:"work"`
	Review Duration `yaml:"review"`
}

// Tools configures the tool registry and dispatch policy.
type Tools struct {
	ParallelAllowlist []string    `yaml:"parallel_allowlist"`
	MutatingPatterns  []string    `yaml:"mutating_patterns"`
	CommandWorkdir    string      `yaml:"command_workdir"`
	Fetch             []FetchTool `yaml:"fetch"`
}

// FetchTool declares one read-only HTTP fetch tool.
type FetchTool struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	URL         string `yaml:"url"`
}

// Database configures the checkpoint/usage backend.
type Database struct {
	// Backend is "sqlite" (default) or "file" (JSON file per task).
	Backend       string `yaml:"backend"`
	MaxOpenConns  int    `yaml:"max_open_conns"`
	MaxIdleConns  int    `yaml:"max_idle_conns"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider: Provider{
			Kind:          "openai",
			BaseURL:       "https://api.openai.com",
			APIKeyEnv:     "OPENAI_API_KEY",
			Timeout:       Duration(2 * time.Minute),
			RetryAttempts: 3,
			RetryWait:     Duration(500 * time.Millisecond),
		},
		DefaultModel: "gpt-4o",
		Models: map[string]Model{
			"gpt-4o":      {Tier: TierPremium, ParallelToolCalls: true},
			"gpt-4o-mini": {Tier: TierBudget, ParallelToolCalls: true},
		},
		Engine: Engine{
			FallbackModel:       "gpt-4o-mini",
			MaxIterations:       15,
			BudgetMaxIterations: 30,
			MaxElapsed:          Duration(30 * time.Minute),
			ResumeLimit:         10,
			CheckpointEvery:     3,
			TokenBudget:         24_000,
			MinRecent:           6,
			ToolTimeout:         Duration(time.Minute),
		},
		Budgets: Budgets{
			Plan:   Duration(2 * time.Minute),
			Work:   Duration(10 * time.Minute),
			Review: Duration(time.Minute),
		},
		Tools: Tools{
			ParallelAllowlist: append([]string(nil), dispatch.DefaultAllowlist...),
			MutatingPatterns:  append([]string(nil), tools.DefaultMutatingPatterns...),
			CommandWorkdir:    ".",
		},
		Database: Database{
			Backend:       "sqlite",
			MaxOpenConns:  10,
			MaxIdleConns:  5,
			BusyTimeoutMS: 5000,
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Provider.Kind == "" {
		c.Provider.Kind = defaults.Provider.Kind
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = defaults.Provider.Timeout
	}
	if c.Provider.RetryAttempts == 0 {
		c.Provider.RetryAttempts = defaults.Provider.RetryAttempts
	}
	if c.Provider.RetryWait == 0 {
		c.Provider.RetryWait = defaults.Provider.RetryWait
	}

	if c.Engine.MaxIterations == 0 {
		c.Engine.MaxIterations = defaults.Engine.MaxIterations
	}
	if c.Engine.BudgetMaxIterations == 0 {
		c.Engine.BudgetMaxIterations = defaults.Engine.BudgetMaxIterations
	}
	if c.Engine.MaxElapsed == 0 {
		c.Engine.MaxElapsed = defaults.Engine.MaxElapsed
	}
	if c.Engine.ResumeLimit == 0 {
		c.Engine.ResumeLimit = defaults.Engine.ResumeLimit
	}
	if c.Engine.CheckpointEvery == 0 {
		c.Engine.CheckpointEvery = defaults.Engine.CheckpointEvery
	}
	if c.Engine.TokenBudget == 0 {
		c.Engine.TokenBudget = defaults.Engine.TokenBudget
	}
	if c.Engine.MinRecent == 0 {
		c.Engine.MinRecent = defaults.Engine.MinRecent
	}
	if c.Engine.ToolTimeout == 0 {
		c.Engine.ToolTimeout = defaults.Engine.ToolTimeout
	}

	if c.Budgets.Plan == 0 {
		c.Budgets.Plan = defaults.Budgets.Plan
	}
	if c.Budgets.Work == 0 {
		c.Budgets.Work = defaults.Budgets.Work
	}
	if c.Budgets.Review == 0 {
		c.Budgets.Review = defaults.Budgets.Review
	}

	if len(c.Tools.ParallelAllowlist) == 0 {
		c.Tools.ParallelAllowlist = defaults.Tools.ParallelAllowlist
	}
	if len(c.Tools.MutatingPatterns) == 0 {
		c.Tools.MutatingPatterns = defaults.Tools.MutatingPatterns
	}
	if c.Tools.CommandWorkdir == "" {
		c.Tools.CommandWorkdir = defaults.Tools.CommandWorkdir
	}

	if c.Database.Backend == "" {
		c.Database.Backend = defaults.Database.Backend
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = defaults.Database.MaxOpenConns
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = defaults.Database.MaxIdleConns
	}
	if c.Database.BusyTimeoutMS == 0 {
		c.Database.BusyTimeoutMS = defaults.Database.BusyTimeoutMS
	}
}

// CheckpointsDir returns the path where JSON-file checkpoints are stored.
func (c *Config) CheckpointsDir() string {
	return filepath.Join(c.DataDir, "checkpoints")
}
