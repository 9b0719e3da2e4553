// Package budget enforces per-phase wall-clock ceilings.
package budget

import (
	"fmt"
	"time"

	"github.com/colonyops/relay/internal/core/task"
)

// PhaseExceededError reports that a phase ran past its configured ceiling.
type PhaseExceededError struct {
	Phase   task.Phase
	Elapsed time.Duration
	Limit   time.Duration
}

func (e *PhaseExceededError) Error() string {
	return fmt.Sprintf("phase %s exceeded budget: %s elapsed, %s allowed", e.Phase, e.Elapsed.Round(time.Second), e.Limit)
}

// Guard holds the per-phase wall-clock ceilings. The zero value disables
// enforcement for any phase with no ceiling set.
type Guard struct {
	Plan   time.Duration
	Work   time.Duration
	Review time.Duration
}

// Limit returns the ceiling for the given phase.
func (g Guard) Limit(phase task.Phase) time.Duration {
	switch phase {
	case task.PhasePlan:
		return g.Plan
	case task.PhaseWork:
		return g.Work
	case task.PhaseReview:
		return g.Review
	}
	return 0
}

// Check returns a PhaseExceededError when elapsed time since the phase
// started exceeds the phase's ceiling. Monotone: once it errors for a given
// phase, it errors for every larger elapsed value.
func (g Guard) Check(phase task.Phase, elapsed time.Duration) error {
	limit := g.Limit(phase)
	if limit <= 0 {
		return nil
	}
	if elapsed > limit {
		return &PhaseExceededError{Phase: phase, Elapsed: elapsed, Limit: limit}
	}
	return nil
}
