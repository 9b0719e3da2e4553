package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/relay/internal/commands"
	"github.com/colonyops/relay/internal/core/accounting"
	"github.com/colonyops/relay/internal/core/budget"
	"github.com/colonyops/relay/internal/core/config"
	"github.com/colonyops/relay/internal/core/engine"
	"github.com/colonyops/relay/internal/core/notify"
	"github.com/colonyops/relay/internal/core/provider"
	"github.com/colonyops/relay/internal/core/task"
	"github.com/colonyops/relay/internal/core/tools"
	"github.com/colonyops/relay/internal/data/db"
	"github.com/colonyops/relay/internal/data/stores"
	"github.com/colonyops/relay/pkg/logutils"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	// When installed via `go install module@version`, init() populates
	// these from runtime/debug.BuildInfo instead.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	v, c, d := version, commit, date

	// When installed via `go install module@version`, ldflags aren't set
	// so version remains "dev". Fall back to runtime/debug.BuildInfo which
	// Go populates automatically with the module version and VCS metadata.
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					c = s.Value
				case "vcs.time":
					d = s.Value
				}
			}
		}
	}

	short := c
	if len(c) > 7 {
		short = c[:7]
	}

	return fmt.Sprintf("%s (%s) %s", v, short, d)
}

func main() {
	ctx := context.Background()

	var (
		logCloser func()
		database  *db.DB
	)

	flags := &commands.Flags{}

	app := &cli.Command{
		Name:      "relay",
		Usage:     "Run resumable agentic tasks against LLM backends",
		UsageText: "relay [global options] command [command options]",
		Description: `Relay drives multi-step, tool-using tasks through a plan/work/review state
machine with wall-clock and token budgets, crash-safe checkpoints, and
bounded auto-resume.

Run 'relay run --prompt ...' to execute a task.
Run 'relay tasks' to list interrupted tasks eligible for resume.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("RELAY_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (defaults to <data-dir>/relay.log)",
				Sources:     cli.EnvVars("RELAY_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("RELAY_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "path to data directory",
				Sources:     cli.EnvVars("RELAY_DATA_DIR"),
				Value:       commands.DefaultDataDir(),
				Destination: &flags.DataDir,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			// Always log to a file; use explicit path or default to <datadir>/relay.log
			logFile := flags.LogFile
			if logFile == "" {
				logFile = filepath.Join(flags.DataDir, "relay.log")
			}

			logger, closer, err := logutils.New(flags.LogLevel, logFile)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger
			logCloser = closer

			cfg, err := config.Load(flags.ConfigPath, flags.DataDir)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			flags.Config = cfg

			// Checkpoint + usage stores
			var (
				cpStore  task.CheckpointStore
				recorder accounting.Recorder = accounting.Noop{}
			)
			switch cfg.Database.Backend {
			case "sqlite":
				dbOpts := db.OpenOptions{
					MaxOpenConns: cfg.Database.MaxOpenConns,
					MaxIdleConns: cfg.Database.MaxIdleConns,
					BusyTimeout:  cfg.Database.BusyTimeoutMS,
				}
				database, err = db.Open(cfg.DataDir, dbOpts)
				if err != nil && stores.IsCorruptionError(err) {
					log.Warn().Err(err).Msg("database corrupted, backing it up and starting fresh")
					if recErr := stores.RecoverFromCorruption(cfg.DataDir); recErr != nil {
						return ctx, fmt.Errorf("recover database: %w", recErr)
					}
					database, err = db.Open(cfg.DataDir, dbOpts)
				}
				if err != nil {
					return ctx, fmt.Errorf("open database: %w", err)
				}
				cpStore = stores.NewCheckpointStore(database)
				usage := stores.NewUsageStore(database)
				recorder = usage
				flags.Usage = usage
			case "file":
				cpStore, err = stores.NewFileCheckpointStore(cfg.CheckpointsDir())
				if err != nil {
					return ctx, fmt.Errorf("open checkpoint dir: %w", err)
				}
			}
			flags.Checkpoints = cpStore

			// Model provider
			var client provider.Client
			switch cfg.Provider.Kind {
			case "openai":
				client = provider.NewOpenAIClient(cfg.Provider.BaseURL, cfg.Provider.Key(), cfg.Provider.Timeout.Std())
			case "scripted":
				client = provider.NewScripted()
			}
			client = provider.NewRetryClient(client, cfg.Provider.RetryAttempts, cfg.Provider.RetryWait.Std())

			// Tool registry: configured fetch tools plus run_command
			registry := tools.NewRegistry()
			httpClient := &http.Client{Timeout: cfg.Engine.ToolTimeout.Std()}
			for _, ft := range cfg.Tools.Fetch {
				def, handler := tools.NewFetchTool(ft.Name, ft.Description, ft.URL, httpClient)
				if err := registry.Register(def, handler); err != nil {
					return ctx, fmt.Errorf("register tool %s: %w", ft.Name, err)
				}
			}
			cmdDef, cmdHandler := tools.NewCommandTool(cfg.Tools.CommandWorkdir)
			if err := registry.Register(cmdDef, cmdHandler); err != nil {
				return ctx, fmt.Errorf("register run_command: %w", err)
			}

			models := make(map[string]engine.Model, len(cfg.Models))
			for name, m := range cfg.Models {
				models[name] = engine.Model{Tier: m.Tier, MultiCall: m.ParallelToolCalls}
			}

			flags.Engine = engine.New(engine.Config{
				Models:              models,
				FallbackModel:       cfg.Engine.FallbackModel,
				MaxIterations:       cfg.Engine.MaxIterations,
				BudgetMaxIterations: cfg.Engine.BudgetMaxIterations,
				MaxElapsed:          cfg.Engine.MaxElapsed.Std(),
				ResumeLimit:         cfg.Engine.ResumeLimit,
				CheckpointEvery:     cfg.Engine.CheckpointEvery,
				AlwaysReview:        !cfg.Engine.SkipReview(),
				TokenBudget:         cfg.Engine.TokenBudget,
				MinRecent:           cfg.Engine.MinRecent,
				ModelTimeout:        cfg.Provider.Timeout.Std(),
				ToolTimeout:         cfg.Engine.ToolTimeout.Std(),
				Guard: budget.Guard{
					Plan:   cfg.Budgets.Plan.Std(),
					Work:   cfg.Budgets.Work.Std(),
					Review: cfg.Budgets.Review.Std(),
				},
				Allowlist:        cfg.Tools.ParallelAllowlist,
				MutatingPatterns: cfg.Tools.MutatingPatterns,
			}, engine.Deps{
				Client:   client,
				Tools:    registry,
				Store:    cpStore,
				Recorder: recorder,
				Notifier: notify.Func(func(ctx context.Context, e notify.Event) {
					log.Info().Ctx(ctx).Str("task_id", e.TaskID).Str("phase", string(e.Phase)).Msg(e.Activity)
				}),
			})

			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if database != nil {
				if err := database.Close(); err != nil {
					log.Warn().Err(err).Msg("close database")
				}
			}
			if logCloser != nil {
				logCloser()
			}
			return nil
		},
	}

	commands.NewRunCmd(flags).Register(app)
	commands.NewTasksCmd(flags).Register(app)
	commands.NewConfigValidateCmd(flags).Register(app)

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
