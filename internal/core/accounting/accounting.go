// Package accounting records per-task token usage.
//
// The recorder is an injected collaborator, never a package-level
// singleton, so independent engines can be instantiated without shared
// state.
package accounting

import (
	"context"

	"github.com/colonyops/relay/internal/core/provider"
)

// Recorder accumulates token usage for cost tracking.
type Recorder interface {
	Record(ctx context.Context, taskID, model string, usage provider.Usage) error
}

// Noop discards all usage.
type Noop struct{}

// Record implements Recorder.
func (Noop) Record(ctx context.Context, taskID, model string, usage provider.Usage) error {
	return nil
}

// Func adapts a function to the Recorder interface.
type Func func(ctx context.Context, taskID, model string, usage provider.Usage) error

// Record implements Recorder.
func (f Func) Record(ctx context.Context, taskID, model string, usage provider.Usage) error {
	return f(ctx, taskID, model, usage)
}
