package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/colonyops/relay/internal/core/accounting"
	"github.com/colonyops/relay/internal/core/provider"
	"github.com/colonyops/relay/internal/data/db"
)

// UsageStore records per-call token usage for later inspection.
type UsageStore struct {
	db *db.DB
}

var _ accounting.Recorder = (*UsageStore)(nil)

func NewUsageStore(database *db.DB) *UsageStore {
	return &UsageStore{db: database}
}

// Record appends one usage row for a model call.
func (s *UsageStore) Record(ctx context.Context, taskID, model string, usage provider.Usage) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO usage_log (task_id, model, prompt_tokens, completion_tokens, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		taskID, model, usage.PromptTokens, usage.CompletionTokens, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("usage record %q: %w", taskID, err)
	}
	return nil
}

// TaskUsage is aggregated token usage for a single task.
type TaskUsage struct {
	TaskID           string `json:"task_id"`
	Calls            int    `json:"calls"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// Totals returns the aggregate usage for a task.
func (s *UsageStore) Totals(ctx context.Context, taskID string) (TaskUsage, error) {
	var out TaskUsage
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0)
		FROM usage_log WHERE task_id = ?`, taskID).
		Scan(&out.Calls, &out.PromptTokens, &out.CompletionTokens)
	if err != nil {
		return TaskUsage{}, fmt.Errorf("usage totals %q: %w", taskID, err)
	}
	out.TaskID = taskID
	return out, nil
}
