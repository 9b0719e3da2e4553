package engine

import (
	"fmt"
	"strings"

	"github.com/colonyops/relay/internal/core/task"
)

var technicalKeywords = []string{
	"code", "bug", "fix", "implement", "deploy", "build", "test",
	"api", "server", "database", "script", "config", "install",
	"debug", "compile", "function", "refactor", "repo", "commit",
	"error", "stack trace", "endpoint",
}

// isTechnical reports whether a prompt reads like a coding or ops task.
// Only technical results get a confidence label.
func isTechnical(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, kw := range technicalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// mutationWarning is appended to the result whenever a mutating tool call
// failed. The engine must never report clean success over a failed write.
func mutationWarning(name string, kind task.ErrorKind) string {
	return fmt.Sprintf("Warning: the %s operation failed (%s). The result above may be incomplete; verify before relying on it.", name, kind)
}

// confidence derives the label for a technical task.
func confidence(usedTools, mutationFailed bool) task.Confidence {
	switch {
	case mutationFailed:
		return task.ConfidenceLow
	case usedTools:
		return task.ConfidenceHigh
	default:
		return task.ConfidenceMedium
	}
}
