package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/colonyops/relay/internal/core/logging"
	"github.com/colonyops/relay/internal/core/task"
)

// FileCheckpointStore persists one JSON file per task under a directory.
// It is the fallback backend for installs that opt out of SQLite.
type FileCheckpointStore struct {
	mu  sync.Mutex
	dir string
	log zerolog.Logger
}

var _ task.CheckpointStore = (*FileCheckpointStore)(nil)

// NewFileCheckpointStore creates the directory if needed.
func NewFileCheckpointStore(dir string) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir %q: %w", dir, err)
	}
	return &FileCheckpointStore{dir: dir, log: logging.Component("checkpointfile")}, nil
}

func (s *FileCheckpointStore) path(taskID string) string {
	return filepath.Join(s.dir, taskID+".json")
}

// Save writes the checkpoint to a temp file and renames it into place so a
// crash mid-write never leaves a truncated checkpoint behind.
func (s *FileCheckpointStore) Save(_ context.Context, cp task.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint save %q marshal: %w", cp.TaskID, err)
	}

	tmp := s.path(cp.TaskID) + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("checkpoint save %q: %w", cp.TaskID, err)
	}
	if err := os.Rename(tmp, s.path(cp.TaskID)); err != nil {
		return fmt.Errorf("checkpoint save %q rename: %w", cp.TaskID, err)
	}
	return nil
}

// Load reads a task's checkpoint. Missing or unreadable files report
// found=false so the caller starts fresh.
func (s *FileCheckpointStore) Load(ctx context.Context, taskID string) (task.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(taskID))
	if os.IsNotExist(err) {
		return task.Checkpoint{}, false, nil
	}
	if err != nil {
		return task.Checkpoint{}, false, fmt.Errorf("checkpoint load %q: %w", taskID, err)
	}

	cp, err := task.Decode(data)
	if err != nil {
		s.log.Warn().Ctx(ctx).Err(err).Str("task_id", taskID).Msg("discarding unreadable checkpoint")
		return task.Checkpoint{}, false, nil
	}
	return cp, true, nil
}

// Delete removes a task's checkpoint file. Deleting a missing file is not
// an error.
func (s *FileCheckpointStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(taskID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checkpoint delete %q: %w", taskID, err)
	}
	return nil
}

// List returns summaries for every readable checkpoint file, newest first.
// Unreadable files are skipped.
func (s *FileCheckpointStore) List(ctx context.Context) ([]task.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("checkpoint list: %w", err)
	}

	var out []task.Summary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		cp, err := task.Decode(data)
		if err != nil {
			s.log.Warn().Ctx(ctx).Err(err).Str("file", entry.Name()).Msg("skipping unreadable checkpoint")
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, task.Summary{
			TaskID:     cp.TaskID,
			Phase:      cp.Phase,
			Status:     cp.Status,
			Iterations: cp.Iterations,
			Resumes:    cp.Resumes,
			UpdatedAt:  info.ModTime(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
