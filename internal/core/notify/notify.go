// Package notify delivers task progress events to the messaging front-end.
package notify

import (
	"context"
	"time"

	"github.com/colonyops/relay/internal/core/task"
)

// Event is one progress update: a phase transition or a periodic note
// during a long tool batch.
type Event struct {
	TaskID    string     `json:"task_id"`
	Phase     task.Phase `json:"phase"`
	Activity  string     `json:"activity"`
	CreatedAt time.Time  `json:"created_at"`
}

// Notifier receives progress events. Implementations must not block the
// engine; slow consumers should buffer or drop.
type Notifier interface {
	Progress(ctx context.Context, e Event)
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, e Event)

// Progress implements Notifier.
func (f Func) Progress(ctx context.Context, e Event) {
	f(ctx, e)
}

// Noop discards all events.
type Noop struct{}

// Progress implements Notifier.
func (Noop) Progress(ctx context.Context, e Event) {}

// Recorder collects events for tests.
type Recorder struct {
	Events []Event
}

// Progress implements Notifier.
func (r *Recorder) Progress(ctx context.Context, e Event) {
	r.Events = append(r.Events, e)
}
