// Package task defines the task domain types and store interfaces.
package task

import (
	"fmt"
	"sort"
	"time"
)

// Phase represents an execution phase of a task.
type Phase string

// Execution phases, in order.
const (
	PhasePlan   Phase = "plan"
	PhaseWork   Phase = "work"
	PhaseReview Phase = "review"
)

// Valid returns true if the phase is a known value.
func (p Phase) Valid() bool {
	switch p {
	case PhasePlan, PhaseWork, PhaseReview:
		return true
	}
	return false
}

// Status represents the lifecycle status of a task.
type Status string

// Task statuses. Completed and failed are terminal.
const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusPaused, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal returns true if no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Confidence is a coarse self-assessment attached to technical task results.
type Confidence string

// Confidence labels.
const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// Task is the unit of work driven by the execution engine.
//
// A task is owned exclusively by a single engine instance; the engine is the
// only writer. External callers observe tasks through checkpoints.
type Task struct {
	ID         string          `json:"id"`
	Request    Request         `json:"request"`
	Phase      Phase           `json:"phase"`
	Status     Status          `json:"status"`
	History    []Message       `json:"history"`
	ToolsUsed  map[string]bool `json:"tools_used,omitempty"`
	Iterations int             `json:"iterations"`
	Elapsed    time.Duration   `json:"elapsed"`
	Resumes    int             `json:"resumes"`
	Warnings   []string        `json:"warnings,omitempty"`
	Result     string          `json:"result,omitempty"`
	Confidence Confidence      `json:"confidence,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// New creates a fresh task in the plan phase from a request.
func New(req Request, now time.Time) *Task {
	t := &Task{
		ID:        req.TaskID,
		Request:   req,
		Phase:     PhasePlan,
		Status:    StatusRunning,
		ToolsUsed: map[string]bool{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.SystemPrompt != "" {
		t.History = append(t.History, Message{Role: RoleSystem, Content: req.SystemPrompt})
	}
	t.History = append(t.History, Message{Role: RoleUser, Content: req.Prompt, Parts: req.Parts})
	return t
}

// SetStatus transitions the task status, enforcing forward-only moves.
// The only backward transition allowed is paused -> running (resume).
func (t *Task) SetStatus(s Status, now time.Time) error {
	if !s.Valid() {
		return fmt.Errorf("invalid status %q", s)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("task %s is %s: cannot transition to %s", t.ID, t.Status, s)
	}
	if t.Status == StatusPaused && s != StatusRunning && !s.Terminal() {
		return fmt.Errorf("task %s is paused: cannot transition to %s", t.ID, s)
	}
	t.Status = s
	t.UpdatedAt = now
	return nil
}

// MarkToolUsed records that a tool has been invoked for this task.
func (t *Task) MarkToolUsed(name string) {
	if t.ToolsUsed == nil {
		t.ToolsUsed = map[string]bool{}
	}
	t.ToolsUsed[name] = true
}

// UsedAnyTool returns true if at least one tool has been invoked.
func (t *Task) UsedAnyTool() bool {
	return len(t.ToolsUsed) > 0
}

// ToolNames returns the names of all tools used, sorted.
func (t *Task) ToolNames() []string {
	names := make([]string, 0, len(t.ToolsUsed))
	for name := range t.ToolsUsed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
