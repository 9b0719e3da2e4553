package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/relay/internal/core/task"
	"github.com/colonyops/relay/pkg/iojson"
)

type RunCmd struct {
	flags  *Flags
	reader iojson.FileReader[task.Request]

	// flags
	prompt     string
	model      string
	taskID     string
	jsonOutput bool
}

// NewRunCmd creates a new run command.
func NewRunCmd(flags *Flags) *RunCmd {
	return &RunCmd{flags: flags}
}

// Register adds the run command to the application.
func (cmd *RunCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "run",
		Usage:     "Execute a task request",
		UsageText: "relay run [--prompt text | -f request.json] [options]",
		Description: `Runs a task through the execution engine: plan, work with tools, review.

The request is given either inline with --prompt or as a JSON document via
-f (or stdin). Re-running with the same --task-id resumes an interrupted
task from its last checkpoint.`,
		Flags: []cli.Flag{
			cmd.reader.Flag(),
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "inline task prompt (alternative to JSON input)",
				Destination: &cmd.prompt,
			},
			&cli.StringFlag{
				Name:        "model",
				Usage:       "model to use (defaults to default_model from config)",
				Destination: &cmd.model,
			},
			&cli.StringFlag{
				Name:        "task-id",
				Usage:       "task identifier; reuse to resume an interrupted task",
				Destination: &cmd.taskID,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output the structured result as JSON",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *RunCmd) run(ctx context.Context, c *cli.Command) error {
	req, err := cmd.request()
	if err != nil {
		return err
	}

	res, execErr := cmd.flags.Engine.Execute(ctx, req)

	if cmd.jsonOutput {
		if err := iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, res); err != nil {
			return err
		}
	} else {
		out := c.Root().Writer
		fmt.Fprintln(out, res.Text)
		fmt.Fprintf(out, "\ntask: %s  status: %s  phase: %s  iterations: %d\n",
			res.TaskID, res.Status, res.Phase, res.Iterations)
	}

	if execErr != nil {
		return cli.Exit(fmt.Sprintf("task did not complete: %v", execErr), 1)
	}
	return nil
}

// request builds the task request from flags or JSON input.
func (cmd *RunCmd) request() (task.Request, error) {
	var req task.Request
	if cmd.prompt != "" {
		req = task.Request{Prompt: cmd.prompt}
	} else {
		var err error
		req, err = cmd.reader.Read()
		if err != nil {
			return task.Request{}, fmt.Errorf("read request: %w", err)
		}
	}

	if req.Prompt == "" {
		return task.Request{}, fmt.Errorf("request has no prompt")
	}
	if cmd.model != "" {
		req.Model = cmd.model
	}
	if req.Model == "" {
		req.Model = cmd.flags.Config.DefaultModel
	}
	if _, ok := cmd.flags.Config.Models[req.Model]; !ok {
		return task.Request{}, fmt.Errorf("unknown model %q", req.Model)
	}
	if cmd.taskID != "" {
		req.TaskID = cmd.taskID
	}
	return req, nil
}
