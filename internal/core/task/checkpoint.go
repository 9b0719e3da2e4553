package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CheckpointVersion is the current checkpoint schema version. Stores treat
// blobs with an unknown version as not found, forcing a fresh start.
const CheckpointVersion = 1

// ErrNotFound is returned when no checkpoint exists for a task ID.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is a durable snapshot of a task at a point in time.
type Checkpoint struct {
	Version    int           `json:"version"`
	TaskID     string        `json:"task_id"`
	Request    Request       `json:"request"`
	Phase      Phase         `json:"phase"`
	Status     Status        `json:"status"`
	History    []Message     `json:"history"`
	ToolsUsed  []string      `json:"tools_used,omitempty"`
	Iterations int           `json:"iterations"`
	Elapsed    time.Duration `json:"elapsed"`
	Resumes    int           `json:"resumes"`
	Warnings   []string      `json:"warnings,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Snapshot captures the task's current state as a checkpoint.
func Snapshot(t *Task, now time.Time) Checkpoint {
	return Checkpoint{
		Version:    CheckpointVersion,
		TaskID:     t.ID,
		Request:    t.Request,
		Phase:      t.Phase,
		Status:     t.Status,
		History:    append([]Message(nil), t.History...),
		ToolsUsed:  t.ToolNames(),
		Iterations: t.Iterations,
		Elapsed:    t.Elapsed,
		Resumes:    t.Resumes,
		Warnings:   append([]string(nil), t.Warnings...),
		CreatedAt:  now,
	}
}

// Restore rebuilds a task from a checkpoint. The history pairing invariant
// is re-established defensively; a checkpoint written mid-dispatch may
// contain dangling tool calls.
func Restore(cp Checkpoint, now time.Time) (*Task, error) {
	if cp.Version != CheckpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", cp.Version)
	}
	if !cp.Phase.Valid() || !cp.Status.Valid() {
		return nil, fmt.Errorf("checkpoint %s: invalid phase %q or status %q", cp.TaskID, cp.Phase, cp.Status)
	}

	history, _ := RepairHistory(cp.History)
	t := &Task{
		ID:         cp.TaskID,
		Request:    cp.Request,
		Phase:      cp.Phase,
		Status:     StatusRunning,
		History:    history,
		ToolsUsed:  map[string]bool{},
		Iterations: cp.Iterations,
		Elapsed:    cp.Elapsed,
		Resumes:    cp.Resumes,
		Warnings:   append([]string(nil), cp.Warnings...),
		CreatedAt:  cp.CreatedAt,
		UpdatedAt:  now,
	}
	for _, name := range cp.ToolsUsed {
		t.ToolsUsed[name] = true
	}
	return t, nil
}

// Decode parses a checkpoint blob. Malformed blobs and unknown versions
// return an error; callers treat that as not found.
func Decode(data []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	if cp.Version != CheckpointVersion {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: unsupported version %d", cp.Version)
	}
	return cp, nil
}

// Summary is a listing row for stored checkpoints.
type Summary struct {
	TaskID     string    `json:"task_id"`
	Phase      Phase     `json:"phase"`
	Status     Status    `json:"status"`
	Iterations int       `json:"iterations"`
	Resumes    int       `json:"resumes"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CheckpointStore persists checkpoints across process restarts.
//
// At-least-once write semantics are acceptable; the engine's resume logic
// tolerates stale or duplicate checkpoints. Load returns found=false for
// missing, malformed, or unknown-version checkpoints.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, taskID string) (Checkpoint, bool, error)
	Delete(ctx context.Context, taskID string) error
	List(ctx context.Context) ([]Summary, error)
}
