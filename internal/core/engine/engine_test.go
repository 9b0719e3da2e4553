package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/relay/internal/core/accounting"
	"github.com/colonyops/relay/internal/core/budget"
	"github.com/colonyops/relay/internal/core/dispatch"
	"github.com/colonyops/relay/internal/core/notify"
	"github.com/colonyops/relay/internal/core/prompts"
	"github.com/colonyops/relay/internal/core/provider"
	"github.com/colonyops/relay/internal/core/task"
	"github.com/colonyops/relay/internal/core/tools"
)

type memStore struct {
	mu    sync.Mutex
	cps   map[string]task.Checkpoint
	saves int
}

func newMemStore() *memStore {
	return &memStore{cps: map[string]task.Checkpoint{}}
}

func (s *memStore) Save(_ context.Context, cp task.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cps[cp.TaskID] = cp
	s.saves++
	return nil
}

func (s *memStore) Load(_ context.Context, taskID string) (task.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.cps[taskID]
	return cp, ok, nil
}

func (s *memStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cps, taskID)
	return nil
}

func (s *memStore) List(_ context.Context) ([]task.Summary, error) { return nil, nil }

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cps)
}

func newTestEngine(t *testing.T, client provider.Client, cfg Config) (*Engine, *memStore) {
	t.Helper()

	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(
		tools.Definition{Name: "read_file", Description: "read a file"},
		func(_ context.Context, _ json.RawMessage) (string, error) {
			return "file contents", nil
		},
	))
	require.NoError(t, reg.Register(
		tools.Definition{Name: "write_file", Description: "write a file"},
		func(_ context.Context, _ json.RawMessage) (string, error) {
			return "", &tools.HTTPError{Status: 500, Body: "disk full"}
		},
	))

	store := newMemStore()
	return New(cfg, Deps{Client: client, Tools: reg, Store: store}), store
}

func toolCallMsg(calls ...task.ToolCall) task.Message {
	return task.Message{Role: task.RoleAssistant, ToolCalls: calls}
}

func textMsg(content string) task.Message {
	return task.Message{Role: task.RoleAssistant, Content: content}
}

func TestExecute_SimpleTaskSkipsReview(t *testing.T) {
	script := provider.NewScripted(
		provider.Step{Message: textMsg("I will answer directly.")},
		provider.Step{Message: textMsg("4")},
	)
	eng, store := newTestEngine(t, script, Config{})

	res, err := eng.Execute(context.Background(), task.Request{Model: "gpt-test", Prompt: "what is 2+2"})
	require.NoError(t, err)

	assert.Equal(t, "4", res.Text)
	assert.Equal(t, task.StatusCompleted, res.Status)
	assert.Empty(t, res.Confidence)
	assert.NotContains(t, res.Text, "Confidence:")
	assert.Equal(t, 0, script.Remaining())
	assert.Len(t, script.Calls(), 2)
	assert.Equal(t, 0, store.len(), "terminal task keeps no checkpoint")

	// the plan instruction is injected before the first call
	first := script.Calls()[0].History
	assert.Equal(t, prompts.Plan(), first[len(first)-1].Content)
}

func TestExecute_ToolTaskRunsReview(t *testing.T) {
	script := provider.NewScripted(
		provider.Step{Message: textMsg("plan: read the file")},
		provider.Step{Message: toolCallMsg(task.ToolCall{ID: "c1", Name: "read_file"})},
		provider.Step{Message: textMsg("the bug is on line 3")},
		provider.Step{Message: textMsg("fixed: the bug was on line 3")},
	)
	eng, store := newTestEngine(t, script, Config{})

	res, err := eng.Execute(context.Background(), task.Request{Model: "gpt-test", Prompt: "fix the bug in main.go"})
	require.NoError(t, err)

	assert.Equal(t, task.StatusCompleted, res.Status)
	assert.Equal(t, task.PhaseReview, res.Phase)
	assert.Equal(t, task.ConfidenceHigh, res.Confidence)
	assert.Contains(t, res.Text, "Confidence: High")
	assert.Len(t, script.Calls(), 4)
	assert.Equal(t, 0, store.len())

	// the tool result is paired to its call in the history the model saw
	histories := script.Calls()
	third := histories[2].History
	last := third[len(third)-1]
	assert.Equal(t, task.RoleTool, last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
	assert.True(t, task.Paired(third))
}

func TestExecute_MutatingFailureForcesWarning(t *testing.T) {
	script := provider.NewScripted(
		provider.Step{Message: textMsg("plan: write the file")},
		provider.Step{Message: toolCallMsg(task.ToolCall{ID: "c1", Name: "write_file"})},
		provider.Step{Message: textMsg("done writing")},
		provider.Step{Message: textMsg("the file was updated")},
	)
	eng, _ := newTestEngine(t, script, Config{})

	res, err := eng.Execute(context.Background(), task.Request{Model: "gpt-test", Prompt: "update the config file"})
	require.NoError(t, err)

	assert.Equal(t, task.StatusCompleted, res.Status)
	assert.Contains(t, res.Text, "Warning: the write_file operation failed")
	assert.NotEqual(t, task.ConfidenceHigh, res.Confidence)
	assert.Equal(t, task.ConfidenceLow, res.Confidence)
	assert.Equal(t, task.ErrKindHTTP, res.LastErrKind)
}

func TestExecute_ParallelBatchRecordedInCallOrder(t *testing.T) {
	script := provider.NewScripted(
		provider.Step{Message: textMsg("plan")},
		provider.Step{Message: toolCallMsg(
			task.ToolCall{ID: "c1", Name: "read_file"},
			task.ToolCall{ID: "c2", Name: "read_file"},
		)},
		provider.Step{Message: textMsg("compared both files")},
		provider.Step{Message: textMsg("final: files compared")},
	)
	cfg := Config{Models: map[string]Model{"gpt-test": {MultiCall: true}}}
	eng, _ := newTestEngine(t, script, cfg)

	_, err := eng.Execute(context.Background(), task.Request{Model: "gpt-test", Prompt: "compare config files"})
	require.NoError(t, err)

	third := script.Calls()[2].History
	n := len(third)
	require.GreaterOrEqual(t, n, 2)
	assert.Equal(t, "c1", third[n-2].ToolCallID)
	assert.Equal(t, "c2", third[n-1].ToolCallID)
}

func TestExecute_PhaseBudgetExceededPausesWithCheckpoint(t *testing.T) {
	script := provider.NewScripted(
		provider.Step{Message: textMsg("plan")},
	)
	cfg := Config{Guard: budget.Guard{Plan: time.Hour, Work: time.Nanosecond, Review: time.Hour}}
	eng, store := newTestEngine(t, script, cfg)

	res, err := eng.Execute(context.Background(), task.Request{TaskID: "t-budget", Model: "gpt-test", Prompt: "hello"})
	require.Error(t, err)

	var pe *budget.PhaseExceededError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, task.PhaseWork, pe.Phase)
	assert.Equal(t, time.Nanosecond, pe.Limit)
	assert.Equal(t, task.StatusPaused, res.Status)

	cp, found, lerr := store.Load(context.Background(), "t-budget")
	require.NoError(t, lerr)
	require.True(t, found, "checkpoint persisted before the error surfaced")
	assert.Equal(t, task.PhaseWork, cp.Phase)
	assert.Equal(t, task.StatusPaused, cp.Status)
}

func TestExecute_ResumeSkipsPlanPhase(t *testing.T) {
	script := provider.NewScripted(
		provider.Step{Message: textMsg("the answer")},
		provider.Step{Message: textMsg("reviewed answer")},
	)
	eng, store := newTestEngine(t, script, Config{})

	req := task.Request{TaskID: "t-resume", Model: "gpt-test", Prompt: "fix the build"}
	cp := task.Checkpoint{
		Version: task.CheckpointVersion,
		TaskID:  "t-resume",
		Request: req,
		Phase:   task.PhaseWork,
		Status:  task.StatusPaused,
		History: []task.Message{
			{Role: task.RoleUser, Content: "fix the build"},
			{Role: task.RoleAssistant, Content: "working on it"},
		},
		ToolsUsed:  []string{"read_file"},
		Iterations: 1,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.Save(context.Background(), cp))

	res, err := eng.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Resumes)
	assert.Equal(t, task.StatusCompleted, res.Status)
	assert.Len(t, script.Calls(), 2)

	// no planning instruction on resume
	for _, m := range script.Calls()[0].History {
		assert.NotEqual(t, prompts.Plan(), m.Content)
	}
}

func TestExecute_ResumeLimitRefused(t *testing.T) {
	script := provider.NewScripted()
	eng, store := newTestEngine(t, script, Config{ResumeLimit: 10})

	req := task.Request{TaskID: "t-limit", Model: "gpt-test", Prompt: "hello"}
	cp := task.Checkpoint{
		Version:   task.CheckpointVersion,
		TaskID:    "t-limit",
		Request:   req,
		Phase:     task.PhaseWork,
		Status:    task.StatusPaused,
		History:   []task.Message{{Role: task.RoleUser, Content: "hello"}},
		Resumes:   10,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.Save(context.Background(), cp))

	res, err := eng.Execute(context.Background(), req)
	require.Error(t, err)

	var rl *ResumeLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 11, rl.Resumes)
	assert.Equal(t, 10, rl.Limit)
	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Contains(t, res.Text, "resume limit exceeded")
	assert.Equal(t, 0, store.len())
	assert.Empty(t, script.Calls(), "no model call once resume is refused")
}

func TestExecute_ResumeIdempotentWithoutProgress(t *testing.T) {
	// killing the process before any checkpoint write must not burn
	// through the resume budget: each retry sees the same counter.
	req := task.Request{TaskID: "t-stuck", Model: "gpt-test", Prompt: "hello"}
	cp := task.Checkpoint{
		Version:   task.CheckpointVersion,
		TaskID:    "t-stuck",
		Request:   req,
		Phase:     task.PhaseWork,
		Status:    task.StatusPaused,
		History:   []task.Message{{Role: task.RoleUser, Content: "hello"}},
		Resumes:   4,
		CreatedAt: time.Now(),
	}

	for i := 0; i < 3; i++ {
		script := provider.NewScripted() // fail before any progress
		eng, store := newTestEngine(t, script, Config{})
		require.NoError(t, store.Save(context.Background(), cp))

		res, err := eng.Execute(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, 5, res.Resumes)
	}
}

func TestExecute_QuotaFallsBackOnce(t *testing.T) {
	script := provider.NewScripted(
		provider.Step{Err: provider.ErrQuotaExhausted},
		provider.Step{Message: textMsg("plan on fallback")},
		provider.Step{Message: textMsg("answer")},
	)
	cfg := Config{FallbackModel: "gpt-small"}
	eng, _ := newTestEngine(t, script, cfg)

	res, err := eng.Execute(context.Background(), task.Request{Model: "gpt-big", Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, res.Status)

	calls := script.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "gpt-big", calls[0].Opts.Model)
	assert.Equal(t, "gpt-small", calls[1].Opts.Model)
	assert.Equal(t, "gpt-small", calls[2].Opts.Model, "fallback sticks for the rest of the task")
}

func TestExecute_IterationLimitFails(t *testing.T) {
	script := provider.NewScripted(
		provider.Step{Message: toolCallMsg(task.ToolCall{ID: "c1", Name: "read_file"})},
	)
	cfg := Config{MaxIterations: 1, BudgetMaxIterations: 1}
	eng, store := newTestEngine(t, script, cfg)

	res, err := eng.Execute(context.Background(), task.Request{Model: "gpt-test", Prompt: "hello"})
	require.Error(t, err)

	var il *IterationLimitError
	require.ErrorAs(t, err, &il)
	assert.Equal(t, 1, il.Iterations)
	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Contains(t, res.Text, "failed in work phase")
	assert.Equal(t, 0, store.len())
}

func TestExecute_BudgetTierGetsHigherCeiling(t *testing.T) {
	cfg := Config{
		Models:              map[string]Model{"gpt-free": {Tier: "budget"}},
		MaxIterations:       5,
		BudgetMaxIterations: 20,
	}
	cfg.applyDefaults()
	assert.Equal(t, 20, cfg.iterLimit("gpt-free"))
	assert.Equal(t, 5, cfg.iterLimit("gpt-pro"))
	assert.Equal(t, 5, cfg.iterLimit("unknown"))
}

func TestExecute_CancelledPausesForResume(t *testing.T) {
	script := provider.NewScripted()
	eng, store := newTestEngine(t, script, Config{})

	req := task.Request{TaskID: "t-cancel", Model: "gpt-test", Prompt: "hello"}
	cp := task.Checkpoint{
		Version:   task.CheckpointVersion,
		TaskID:    "t-cancel",
		Request:   req,
		Phase:     task.PhaseWork,
		Status:    task.StatusPaused,
		History:   []task.Message{{Role: task.RoleUser, Content: "hello"}},
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.Save(context.Background(), cp))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := eng.Execute(ctx, req)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, task.StatusPaused, res.Status)
	assert.Equal(t, 1, store.len(), "checkpoint survives cancellation")
	assert.Empty(t, script.Calls())
}

func TestExecute_CheckpointCadence(t *testing.T) {
	script := provider.NewScripted(
		provider.Step{Message: textMsg("plan")},
		provider.Step{Message: toolCallMsg(task.ToolCall{ID: "c1", Name: "read_file"})},
		provider.Step{Message: toolCallMsg(task.ToolCall{ID: "c2", Name: "read_file"})},
		provider.Step{Message: textMsg("done")},
		provider.Step{Message: textMsg("reviewed")},
	)
	cfg := Config{CheckpointEvery: 1}
	eng, store := newTestEngine(t, script, cfg)

	_, err := eng.Execute(context.Background(), task.Request{Model: "gpt-test", Prompt: "check the server logs"})
	require.NoError(t, err)

	// plan->work transition, two tool iterations, work->review transition
	assert.Equal(t, 4, store.saves)
	assert.Equal(t, 0, store.len())
}

func TestExecute_MalformedCheckpointStartsFresh(t *testing.T) {
	script := provider.NewScripted(
		provider.Step{Message: textMsg("plan")},
		provider.Step{Message: textMsg("answer")},
	)
	eng, store := newTestEngine(t, script, Config{})

	req := task.Request{TaskID: "t-bad", Model: "gpt-test", Prompt: "hello"}
	store.cps["t-bad"] = task.Checkpoint{Version: task.CheckpointVersion, TaskID: "t-bad", Phase: "bogus", Status: "bogus"}

	res, err := eng.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, res.Status)
	assert.Equal(t, 0, res.Resumes)

	// fresh start means the plan instruction was injected
	first := script.Calls()[0].History
	assert.Equal(t, prompts.Plan(), first[len(first)-1].Content)
}

func TestIsTechnical(t *testing.T) {
	assert.True(t, isTechnical("fix the bug in the parser"))
	assert.True(t, isTechnical("deploy the API server"))
	assert.False(t, isTechnical("what is 2+2"))
	assert.False(t, isTechnical("summarize this article about birds"))
}

func TestExecute_AlwaysReviewWithoutTools(t *testing.T) {
	script := provider.NewScripted(
		provider.Step{Message: textMsg("plan")},
		provider.Step{Message: textMsg("draft answer")},
		provider.Step{Message: textMsg("reviewed answer")},
	)
	eng, _ := newTestEngine(t, script, Config{AlwaysReview: true})

	res, err := eng.Execute(context.Background(), task.Request{Model: "gpt-test", Prompt: "compare two poems"})
	require.NoError(t, err)

	assert.Len(t, script.Calls(), 3)
	assert.Equal(t, task.PhaseReview, res.Phase)
	assert.Equal(t, "reviewed answer", res.Text)
}

func TestConfig_ZeroValueDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	assert.Equal(t, dispatch.DefaultAllowlist, cfg.Allowlist)
	assert.False(t, cfg.AlwaysReview, "zero value must skip review for tool-less tasks")
}

func TestExecute_ProgressEventsOnPhaseTransitions(t *testing.T) {
	script := provider.NewScripted(
		provider.Step{Message: textMsg("plan")},
		provider.Step{Message: toolCallMsg(task.ToolCall{ID: "c1", Name: "read_file"})},
		provider.Step{Message: textMsg("found it")},
		provider.Step{Message: textMsg("final answer")},
	)
	eng, _ := newTestEngine(t, script, Config{})
	rec := &notify.Recorder{}
	eng.notifier = rec

	_, err := eng.Execute(context.Background(), task.Request{Model: "gpt-test", Prompt: "look something up"})
	require.NoError(t, err)

	var activities []string
	for _, e := range rec.Events {
		activities = append(activities, e.Activity)
		if e.Activity == "entering work" {
			assert.Equal(t, task.PhaseWork, e.Phase)
		}
	}
	assert.Contains(t, activities, "entering work")
	assert.Contains(t, activities, "entering review")
}

func TestExecute_RecordsUsagePerCall(t *testing.T) {
	script := provider.NewScripted(
		provider.Step{Message: textMsg("plan"), Usage: provider.Usage{PromptTokens: 10, CompletionTokens: 2}},
		provider.Step{Message: textMsg("4"), Usage: provider.Usage{PromptTokens: 12, CompletionTokens: 1}},
	)
	eng, _ := newTestEngine(t, script, Config{})

	var recorded []provider.Usage
	eng.rec = accounting.Func(func(_ context.Context, taskID, model string, usage provider.Usage) error {
		recorded = append(recorded, usage)
		return nil
	})

	_, err := eng.Execute(context.Background(), task.Request{Model: "gpt-test", Prompt: "what is 2+2"})
	require.NoError(t, err)

	require.Len(t, recorded, 2)
	assert.Equal(t, 10, recorded[0].PromptTokens)
	assert.Equal(t, 1, recorded[1].CompletionTokens)
}
