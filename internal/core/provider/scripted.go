package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/colonyops/relay/internal/core/task"
	"github.com/colonyops/relay/internal/core/tools"
)

// Step is one scripted provider turn: either a response or an error.
type Step struct {
	Message task.Message
	Usage   Usage
	Err     error
}

// Scripted replays a fixed sequence of completions. It is the offline
// provider used by tests and dry runs; calls beyond the script fail.
type Scripted struct {
	mu    sync.Mutex
	steps []Step
	calls []Call
}

// Call records the inputs of one ChatCompletion invocation.
type Call struct {
	History []task.Message
	Opts    Options
}

// NewScripted creates a scripted provider from the given steps.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// ChatCompletion pops the next scripted step.
func (s *Scripted) ChatCompletion(ctx context.Context, history []task.Message, defs []tools.Definition, opts Options) (task.Message, Usage, error) {
	if err := ctx.Err(); err != nil {
		return task.Message{}, Usage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{History: append([]task.Message(nil), history...), Opts: opts})
	if len(s.steps) == 0 {
		return task.Message{}, Usage{}, fmt.Errorf("scripted provider: no steps remaining (call %d)", len(s.calls))
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.Err != nil {
		return task.Message{}, Usage{}, step.Err
	}
	msg := step.Message
	if msg.Role == "" {
		msg.Role = task.RoleAssistant
	}
	return msg, step.Usage, nil
}

// Calls returns the recorded invocations.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Remaining returns how many scripted steps are left.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}
