package engine

import (
	"fmt"
	"time"
)

// ResumeLimitError is terminal: the task was resumed too many times
// without completing and will not be restarted again.
type ResumeLimitError struct {
	TaskID  string
	Resumes int
	Limit   int
}

func (e *ResumeLimitError) Error() string {
	return fmt.Sprintf("task %s: resume limit exceeded (%d of %d)", e.TaskID, e.Resumes, e.Limit)
}

// IterationLimitError is terminal: the task hit its tool iteration or
// total elapsed ceiling without producing a final answer.
type IterationLimitError struct {
	TaskID     string
	Iterations int
	Elapsed    time.Duration
	Reason     string
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("task %s: %s after %d iterations (%s elapsed)", e.TaskID, e.Reason, e.Iterations, e.Elapsed.Round(time.Second))
}
