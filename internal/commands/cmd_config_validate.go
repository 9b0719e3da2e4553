package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/relay/pkg/iojson"
)

type ConfigValidateCmd struct {
	flags *Flags

	// flags
	jsonOutput bool
}

// NewConfigValidateCmd creates a new config validate command.
func NewConfigValidateCmd(flags *Flags) *ConfigValidateCmd {
	return &ConfigValidateCmd{flags: flags}
}

// Register adds the config validate command to the application.
func (cmd *ConfigValidateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Configuration management commands",
		Commands: []*cli.Command{
			{
				Name:        "validate",
				Usage:       "Validate configuration file",
				UsageText:   "relay config validate [--json]",
				Description: "Validates the configuration file, checking model references, glob patterns, fetch tool URLs, and file paths.",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:        "json",
						Usage:       "output as JSON",
						Destination: &cmd.jsonOutput,
					},
				},
				Action: cmd.run,
			},
		},
	})

	return app
}

func (cmd *ConfigValidateCmd) run(_ context.Context, c *cli.Command) error {
	err := cmd.flags.Config.ValidateDeep(cmd.flags.ConfigPath)
	warnings := cmd.flags.Config.Warnings()

	if cmd.jsonOutput {
		out := struct {
			Valid    bool   `json:"valid"`
			Error    string `json:"error,omitempty"`
			Warnings any    `json:"warnings,omitempty"`
		}{Valid: err == nil, Warnings: warnings}
		if err != nil {
			out.Error = err.Error()
		}
		if werr := iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, out); werr != nil {
			return werr
		}
		if err != nil {
			return cli.Exit("", 1)
		}
		return nil
	}

	out := c.Root().Writer
	for _, w := range warnings {
		fmt.Fprintf(out, "warning: %s: %s\n", w.Category, w.Message)
	}
	if err != nil {
		fmt.Fprintf(out, "invalid configuration:\n%v\n", err)
		return cli.Exit("", 1)
	}
	fmt.Fprintln(out, "Configuration is valid")
	return nil
}
