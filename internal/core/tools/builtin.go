package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/colonyops/relay/internal/core/task"
	"github.com/colonyops/relay/pkg/executil"
)

// maxFetchBytes caps HTTP tool responses before validation sees them.
const maxFetchBytes = task.MaxToolResultBytes

// NewFetchTool returns a read-only tool that GETs a configured URL
// template. The url argument is interpolated from the model's arguments;
// responses are size-capped and non-2xx statuses become HTTPError so the
// validator can classify them by code.
func NewFetchTool(name, description, urlTemplate string, client *http.Client) (Definition, Handler) {
	if client == nil {
		client = http.DefaultClient
	}

	def := Definition{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "value substituted into the endpoint"},
			},
			"required": []string{"query"},
		},
	}

	handler := func(ctx context.Context, args json.RawMessage) (string, error) {
		var in struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("invalid args for %s: %w", name, err)
		}
		if in.Query == "" {
			return "", fmt.Errorf("invalid args for %s: missing required field query", name)
		}

		url := fmt.Sprintf(urlTemplate, in.Query)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("fetch %s: %w", name, err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
		if err != nil {
			return "", fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", &HTTPError{Status: resp.StatusCode, Body: string(body)}
		}
		return string(body), nil
	}

	return def, handler
}

// NewCommandTool returns the mutating run_command tool. Output is capped at
// the tool result ceiling; a non-zero exit is a failure carrying the
// captured output.
func NewCommandTool(workdir string) (Definition, Handler) {
	def := Definition{
		Name:        "run_command",
		Description: "Execute a shell command and return its combined output",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string", "description": "shell command to execute"},
			},
			"required": []string{"command"},
		},
	}

	handler := func(ctx context.Context, args json.RawMessage) (string, error) {
		var in struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("invalid args for run_command: %w", err)
		}
		if in.Command == "" {
			return "", fmt.Errorf("invalid args for run_command: missing required field command")
		}
		return executil.Output(ctx, workdir, in.Command, maxFetchBytes)
	}

	return def, handler
}
