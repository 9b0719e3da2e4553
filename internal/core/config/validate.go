package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"
)

// Validate checks that the configuration is structurally valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	switch c.Provider.Kind {
	case "openai":
		if c.Provider.BaseURL == "" {
			return fmt.Errorf("provider.base_url is required for the openai provider")
		}
	case "scripted":
	default:
		return fmt.Errorf("provider.kind must be \"openai\" or \"scripted\", got %q", c.Provider.Kind)
	}

	if c.DefaultModel == "" {
		return fmt.Errorf("default_model is required")
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}
	if _, ok := c.Models[c.DefaultModel]; !ok {
		return fmt.Errorf("default_model %q is not in models", c.DefaultModel)
	}
	if fb := c.Engine.FallbackModel; fb != "" {
		if _, ok := c.Models[fb]; !ok {
			return fmt.Errorf("engine.fallback_model %q is not in models", fb)
		}
	}
	for name, m := range c.Models {
		switch m.Tier {
		case "", TierBudget, TierPremium:
		default:
			return fmt.Errorf("model %q has invalid tier %q", name, m.Tier)
		}
	}

	if c.Engine.ResumeLimit < 1 {
		return fmt.Errorf("engine.resume_limit must be at least 1")
	}
	if c.Engine.CheckpointEvery < 1 {
		return fmt.Errorf("engine.checkpoint_every must be at least 1")
	}
	if c.Engine.MinRecent < 1 {
		return fmt.Errorf("engine.min_recent must be at least 1")
	}
	if c.Budgets.Plan <= 0 || c.Budgets.Work <= 0 || c.Budgets.Review <= 0 {
		return fmt.Errorf("budgets must all be positive")
	}

	switch c.Database.Backend {
	case "sqlite", "file":
	default:
		return fmt.Errorf("database.backend must be \"sqlite\" or \"file\", got %q", c.Database.Backend)
	}

	seen := map[string]bool{}
	for i, ft := range c.Tools.Fetch {
		if ft.Name == "" {
			return fmt.Errorf("tools.fetch[%d]: name is required", i)
		}
		if ft.URL == "" {
			return fmt.Errorf("tools.fetch[%d] (%s): url is required", i, ft.Name)
		}
		if seen[ft.Name] {
			return fmt.Errorf("tools.fetch: duplicate tool name %q", ft.Name)
		}
		seen[ft.Name] = true
	}

	return nil
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// Warnings returns non-fatal configuration issues.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	if c.Provider.Kind == "openai" && c.Provider.Key() == "" {
		warnings = append(warnings, ValidationWarning{
			Category: "Provider",
			Message:  "no API key configured; model calls will fail with auth errors",
		})
	}
	if c.Engine.FallbackModel == "" {
		warnings = append(warnings, ValidationWarning{
			Category: "Engine",
			Message:  "no fallback_model set; quota exhaustion will fail the task",
		})
	}

	return warnings
}

// ValidateDeep performs comprehensive validation including glob pattern
// syntax, URL syntax, and file accessibility. The configPath argument
// specifies the config file location (empty string skips the file check).
// This calls Validate() first, then adds I/O checks.
func (c *Config) ValidateDeep(configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return criterio.ValidateStruct(
		validateConfigFile(configPath),
		criterio.Run("data_dir", c.DataDir, isDirectoryOrNotExist),
		criterio.Run("tools.command_workdir", c.Tools.CommandWorkdir, isDirectoryOrNotExist),
		c.validatePatterns(),
		c.validateFetchURLs(),
	)
}

func validateConfigFile(configPath string) error {
	if configPath == "" {
		return nil
	}

	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return nil // not found is fine, using defaults
	}
	if err != nil {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("cannot access: %w", err))
	}
	if info.IsDir() {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
	}
	return nil
}

// isDirectoryOrNotExist validates that a path is a directory or doesn't exist.
func isDirectoryOrNotExist(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil // will be created
	}
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("exists but is not a directory")
	}
	return nil
}

// validatePatterns checks the dispatch allow-list and mutating patterns are
// valid glob syntax.
func (c *Config) validatePatterns() error {
	var errs criterio.FieldErrorsBuilder

	for i, p := range c.Tools.ParallelAllowlist {
		if !doublestar.ValidatePattern(p) {
			errs = errs.Append(fmt.Sprintf("tools.parallel_allowlist[%d]", i), fmt.Errorf("invalid glob pattern %q", p))
		}
	}
	for i, p := range c.Tools.MutatingPatterns {
		if !doublestar.ValidatePattern(p) {
			errs = errs.Append(fmt.Sprintf("tools.mutating_patterns[%d]", i), fmt.Errorf("invalid glob pattern %q", p))
		}
	}

	return errs.ToError()
}

func (c *Config) validateFetchURLs() error {
	var errs criterio.FieldErrorsBuilder

	for i, ft := range c.Tools.Fetch {
		u, err := url.Parse(ft.URL)
		if err != nil {
			errs = errs.Append(fmt.Sprintf("tools.fetch[%d].url", i), fmt.Errorf("invalid url %q: %w", ft.URL, err))
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			errs = errs.Append(fmt.Sprintf("tools.fetch[%d].url", i), fmt.Errorf("url %q must use http or https", ft.URL))
		}
	}

	return errs.ToError()
}
