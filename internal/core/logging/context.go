package logging

import "context"

type contextKey string

const (
	taskIDKey contextKey = "task_id"
	phaseKey  contextKey = "phase"
)

// WithTaskID adds a task ID to the context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey, taskID)
}

// WithPhase adds the current execution phase to the context.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseKey, phase)
}

// GetTaskID retrieves the task ID from the context.
// Returns empty string if not present.
func GetTaskID(ctx context.Context) string {
	if id, ok := ctx.Value(taskIDKey).(string); ok {
		return id
	}
	return ""
}

// GetPhase retrieves the execution phase from the context.
// Returns empty string if not present.
func GetPhase(ctx context.Context) string {
	if p, ok := ctx.Value(phaseKey).(string); ok {
		return p
	}
	return ""
}
