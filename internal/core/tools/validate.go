package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/colonyops/relay/internal/core/task"
)

// HTTPError carries an HTTP status from a tool so classification can use
// the code instead of pattern-matching the message.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// DefaultMutatingPatterns match tools that create, update, or delete
// external state. Anything matching is dispatched sequentially and its
// failures are never silently absorbed.
var DefaultMutatingPatterns = []string{
	"create_*",
	"write_*",
	"update_*",
	"delete_*",
	"run_command",
	"open_pr",
	"send_*",
}

// Validator classifies tool outcomes and identifies mutating tools.
type Validator struct {
	mutating []string
}

// NewValidator creates a validator with the given mutating-tool patterns
// (doublestar globs). Nil patterns fall back to the defaults.
func NewValidator(mutatingPatterns []string) *Validator {
	if mutatingPatterns == nil {
		mutatingPatterns = DefaultMutatingPatterns
	}
	return &Validator{mutating: mutatingPatterns}
}

// IsMutating returns true for any tool whose execution changes external
// state, as opposed to a read-only lookup.
func (v *Validator) IsMutating(name string) bool {
	for _, pattern := range v.mutating {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Validate classifies a tool's outcome into a typed ToolResult. Content is
// capped before it reaches the engine.
func (v *Validator) Validate(callID, name string, raw string, err error) task.ToolResult {
	if err == nil {
		return task.ToolResult{ID: callID, Name: name, Success: true, Content: task.Truncate(raw)}
	}

	res := task.ToolResult{ID: callID, Name: name, Success: false, Kind: classify(err), Content: task.Truncate(err.Error())}
	if raw != "" {
		res.Content = task.Truncate(raw + "\n" + err.Error())
	}
	return res
}

func classify(err error) task.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return task.ErrKindTimeout
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return task.ErrKindAuth
		case http.StatusNotFound:
			return task.ErrKindNotFound
		case http.StatusTooManyRequests:
			return task.ErrKindRateLimit
		default:
			return task.ErrKindHTTP
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return task.ErrKindTimeout
	case containsAny(msg, "unauthorized", "forbidden", "invalid api key", "authentication"):
		return task.ErrKindAuth
	case containsAny(msg, "not found", "no such"):
		return task.ErrKindNotFound
	case containsAny(msg, "rate limit", "too many requests"):
		return task.ErrKindRateLimit
	case containsAny(msg, "invalid argument", "missing required", "cannot unmarshal", "invalid args"):
		return task.ErrKindInvalidArgs
	case strings.Contains(msg, "http "):
		return task.ErrKindHTTP
	default:
		return task.ErrKindGeneric
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
