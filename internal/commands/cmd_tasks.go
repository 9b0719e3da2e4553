package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/relay/internal/core/task"
	"github.com/colonyops/relay/internal/data/stores"
	"github.com/colonyops/relay/pkg/iojson"
)

type TasksCmd struct {
	flags *Flags

	// flags
	remove     string
	jsonOutput bool
}

// NewTasksCmd creates a new tasks command.
func NewTasksCmd(flags *Flags) *TasksCmd {
	return &TasksCmd{flags: flags}
}

// Register adds the tasks command to the application.
func (cmd *TasksCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "tasks",
		Usage:       "List interrupted tasks with checkpoints",
		UsageText:   "relay tasks [--rm task-id] [--json]",
		Description: "Shows every task with a stored checkpoint. These are candidates for resume via 'relay run --task-id'.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "rm",
				Usage:       "delete the checkpoint for the given task ID",
				Destination: &cmd.remove,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON lines",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *TasksCmd) run(ctx context.Context, c *cli.Command) error {
	if cmd.remove != "" {
		if err := cmd.flags.Checkpoints.Delete(ctx, cmd.remove); err != nil {
			return fmt.Errorf("delete checkpoint: %w", err)
		}
		fmt.Fprintf(c.Root().Writer, "deleted checkpoint for task %s\n", cmd.remove)
		return nil
	}

	sums, err := cmd.flags.Checkpoints.List(ctx)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}

	if len(sums) == 0 {
		if !cmd.jsonOutput {
			fmt.Fprintln(os.Stderr, "No interrupted tasks")
		}
		return nil
	}

	out := c.Root().Writer

	if cmd.jsonOutput {
		for _, s := range sums {
			row := taskRow{Summary: s, Usage: cmd.totals(ctx, s.TaskID)}
			if err := iojson.WriteLine(out, row); err != nil {
				return fmt.Errorf("encode summary: %w", err)
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TASK\tPHASE\tSTATUS\tITER\tRESUMES\tTOKENS\tAGE")
	for _, s := range sums {
		age := time.Since(s.UpdatedAt).Round(time.Second)
		tokens := "-"
		if u := cmd.totals(ctx, s.TaskID); u != nil {
			tokens = fmt.Sprintf("%d", u.PromptTokens+u.CompletionTokens)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n", s.TaskID, s.Phase, s.Status, s.Iterations, s.Resumes, tokens, age)
	}
	return w.Flush()
}

// taskRow is one JSON line of tasks output: the checkpoint summary plus
// aggregated token usage when the backend records it.
type taskRow struct {
	task.Summary
	Usage *stores.TaskUsage `json:"usage,omitempty"`
}

// totals fetches aggregate usage for a task. Returns nil when no usage
// store is configured (file backend) or the lookup fails.
func (cmd *TasksCmd) totals(ctx context.Context, taskID string) *stores.TaskUsage {
	if cmd.flags.Usage == nil {
		return nil
	}
	u, err := cmd.flags.Usage.Totals(ctx, taskID)
	if err != nil {
		return nil
	}
	return &u
}
