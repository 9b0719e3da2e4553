package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/relay/internal/core/logging"
	"github.com/colonyops/relay/internal/core/task"
	"github.com/colonyops/relay/internal/data/db"
)

// CheckpointStore implements task.CheckpointStore using SQLite.
type CheckpointStore struct {
	db  *db.DB
	log zerolog.Logger
}

var _ task.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore creates a new SQLite-backed checkpoint store.
func NewCheckpointStore(database *db.DB) *CheckpointStore {
	return &CheckpointStore{db: database, log: logging.Component("checkpointstore")}
}

// Save upserts the checkpoint for its task ID.
func (s *CheckpointStore) Save(ctx context.Context, cp task.Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint save %q marshal: %w", cp.TaskID, err)
	}

	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO checkpoints (task_id, version, phase, status, iterations, resumes, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			version = excluded.version,
			phase = excluded.phase,
			status = excluded.status,
			iterations = excluded.iterations,
			resumes = excluded.resumes,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		cp.TaskID, cp.Version, string(cp.Phase), string(cp.Status), cp.Iterations, cp.Resumes, payload, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("checkpoint save %q: %w", cp.TaskID, err)
	}
	return nil
}

// Load returns the checkpoint for a task ID. Malformed or unknown-version
// payloads are reported as not found: a corrupt checkpoint must force a
// fresh start, not crash the task.
func (s *CheckpointStore) Load(ctx context.Context, taskID string) (task.Checkpoint, bool, error) {
	var payload []byte
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT payload FROM checkpoints WHERE task_id = ?`, taskID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Checkpoint{}, false, nil
	}
	if err != nil {
		return task.Checkpoint{}, false, fmt.Errorf("checkpoint load %q: %w", taskID, err)
	}

	cp, err := task.Decode(payload)
	if err != nil {
		s.log.Warn().Ctx(ctx).Err(err).Str("task_id", taskID).Msg("discarding unreadable checkpoint")
		return task.Checkpoint{}, false, nil
	}
	return cp, true, nil
}

// Delete removes a task's checkpoint.
func (s *CheckpointStore) Delete(ctx context.Context, taskID string) error {
	if _, err := s.db.Conn().ExecContext(ctx, `DELETE FROM checkpoints WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("checkpoint delete %q: %w", taskID, err)
	}
	return nil
}

// List returns summaries for all stored checkpoints, newest first.
func (s *CheckpointStore) List(ctx context.Context) ([]task.Summary, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT task_id, phase, status, iterations, resumes, updated_at
		FROM checkpoints ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("checkpoint list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []task.Summary
	for rows.Next() {
		var (
			sum       task.Summary
			phase     string
			status    string
			updatedAt int64
		)
		if err := rows.Scan(&sum.TaskID, &phase, &status, &sum.Iterations, &sum.Resumes, &updatedAt); err != nil {
			return nil, fmt.Errorf("checkpoint list scan: %w", err)
		}
		sum.Phase = task.Phase(phase)
		sum.Status = task.Status(status)
		sum.UpdatedAt = time.Unix(0, updatedAt)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checkpoint list rows: %w", err)
	}
	return out, nil
}
