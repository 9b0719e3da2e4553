package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/colonyops/relay/internal/core/compress"
	"github.com/colonyops/relay/internal/core/logging"
	"github.com/colonyops/relay/internal/core/notify"
	"github.com/colonyops/relay/internal/core/prompts"
	"github.com/colonyops/relay/internal/core/provider"
	"github.com/colonyops/relay/internal/core/task"
	"github.com/colonyops/relay/internal/core/tokens"
)

// Result is the structured outcome of Execute, populated on success and on
// failure so the caller can always render something meaningful.
type Result struct {
	TaskID      string
	Text        string
	Confidence  task.Confidence
	Phase       task.Phase
	Status      task.Status
	Iterations  int
	Resumes     int
	LastErrKind task.ErrorKind
}

// run holds per-execution state. A new run is created for every Execute
// call; the Engine itself stays stateless across tasks.
type run struct {
	e *Engine
	t *task.Task

	start       time.Time
	baseElapsed time.Duration
	phaseStart  time.Time
	fresh       bool
	fellBack    bool
	lastKind    task.ErrorKind
}

// Execute drives a task request to completion, resuming from a checkpoint
// when one exists for the request's task ID.
func (e *Engine) Execute(ctx context.Context, req task.Request) (Result, error) {
	req.Normalize()
	ctx = logging.WithTaskID(ctx, req.TaskID)

	cp, found, err := e.store.Load(ctx, req.TaskID)
	if err != nil {
		return Result{TaskID: req.TaskID}, fmt.Errorf("load checkpoint: %w", err)
	}

	now := e.now()
	var t *task.Task
	if found {
		if cp.Resumes+1 > e.cfg.ResumeLimit {
			rlErr := &ResumeLimitError{TaskID: req.TaskID, Resumes: cp.Resumes + 1, Limit: e.cfg.ResumeLimit}
			if delErr := e.store.Delete(ctx, req.TaskID); delErr != nil {
				e.log.Error().Ctx(ctx).Err(delErr).Msg("checkpoint delete failed")
			}
			return Result{
				TaskID:     req.TaskID,
				Text:       fmt.Sprintf("task failed in %s phase after %d iterations: resume limit exceeded", cp.Phase, cp.Iterations),
				Phase:      cp.Phase,
				Status:     task.StatusFailed,
				Iterations: cp.Iterations,
				Resumes:    cp.Resumes,
			}, rlErr
		}
		t, err = task.Restore(cp, now)
		if err != nil {
			e.log.Warn().Ctx(ctx).Err(err).Msg("checkpoint unusable, starting fresh")
			t = nil
		} else {
			t.Resumes++
			e.log.Info().Ctx(ctx).Str("phase", string(t.Phase)).Int("resumes", t.Resumes).Msg("resuming task")
		}
	}

	fresh := t == nil
	if fresh {
		t = task.New(req, now)
	}

	r := &run{
		e:           e,
		t:           t,
		start:       now,
		baseElapsed: t.Elapsed,
		phaseStart:  now,
		fresh:       fresh,
	}
	return r.execute(ctx)
}

func (r *run) execute(ctx context.Context) (Result, error) {
	var pending []task.ToolCall

	switch r.t.Phase {
	case task.PhasePlan:
		if r.fresh {
			calls, res, done, err := r.plan(ctx)
			if done {
				return res, err
			}
			pending = calls
		}
		r.transition(ctx, task.PhaseWork)
	case task.PhaseReview:
		return r.review(ctx)
	}

	return r.work(ctx, pending)
}

// plan injects the planning instruction and makes the single plan-phase
// model call. done is set when planning itself ends the run.
func (r *run) plan(ctx context.Context) ([]task.ToolCall, Result, bool, error) {
	pctx := logging.WithPhase(ctx, string(task.PhasePlan))
	r.notify(pctx, "planning")

	if err := r.e.cfg.Guard.Check(task.PhasePlan, r.e.now().Sub(r.phaseStart)); err != nil {
		res, rerr := r.pause(pctx, err)
		return nil, res, true, rerr
	}

	r.t.History = append(r.t.History, task.Message{Role: task.RoleUser, Content: prompts.Plan()})
	resp, err := r.call(pctx)
	if err != nil {
		res, rerr := r.fail(pctx, err)
		return nil, res, true, rerr
	}
	return resp.ToolCalls, Result{}, false, nil
}

// work runs the main iteration loop: call the model, dispatch any requested
// tools, repeat until the model answers without tool calls or a ceiling is
// hit. pending carries tool calls left over from the plan response.
func (r *run) work(ctx context.Context, pending []task.ToolCall) (Result, error) {
	wctx := logging.WithPhase(ctx, string(task.PhaseWork))

	for {
		if err := ctx.Err(); err != nil {
			return r.pause(wctx, err)
		}
		if limit := r.e.cfg.iterLimit(r.model()); r.t.Iterations >= limit {
			return r.fail(wctx, &IterationLimitError{TaskID: r.t.ID, Iterations: r.t.Iterations, Elapsed: r.elapsed(), Reason: "iteration limit reached"})
		}
		if r.elapsed() > r.e.cfg.MaxElapsed {
			return r.fail(wctx, &IterationLimitError{TaskID: r.t.ID, Iterations: r.t.Iterations, Elapsed: r.elapsed(), Reason: "elapsed time limit reached"})
		}

		if len(pending) > 0 {
			r.dispatch(wctx, pending)
			pending = nil
			continue
		}

		if err := r.e.cfg.Guard.Check(task.PhaseWork, r.e.now().Sub(r.phaseStart)); err != nil {
			return r.pause(wctx, err)
		}
		r.compress()

		resp, err := r.call(wctx)
		if err != nil {
			return r.fail(wctx, err)
		}
		if len(resp.ToolCalls) > 0 {
			pending = resp.ToolCalls
			continue
		}

		if r.t.UsedAnyTool() || r.e.cfg.AlwaysReview {
			return r.review(ctx)
		}
		return r.finalize(wctx, resp.Content)
	}
}

// review makes exactly one more model call against the review instruction
// and finalizes with its answer.
func (r *run) review(ctx context.Context) (Result, error) {
	rctx := logging.WithPhase(ctx, string(task.PhaseReview))
	if r.t.Phase != task.PhaseReview {
		r.transition(rctx, task.PhaseReview)
	}
	r.notify(rctx, "reviewing")

	if err := r.e.cfg.Guard.Check(task.PhaseReview, r.e.now().Sub(r.phaseStart)); err != nil {
		return r.pause(rctx, err)
	}

	instr, err := prompts.Review(prompts.ReviewData{
		Tools:       r.t.ToolNames(),
		HadFailures: r.lastKind != "" || len(r.t.Warnings) > 0,
	})
	if err != nil {
		return r.fail(rctx, err)
	}
	r.t.History = append(r.t.History, task.Message{Role: task.RoleUser, Content: instr})

	resp, err := r.call(rctx)
	if err != nil {
		return r.fail(rctx, err)
	}
	return r.finalize(rctx, resp.Content)
}

// dispatch runs one batch of tool calls and appends results in call order.
func (r *run) dispatch(ctx context.Context, batch []task.ToolCall) {
	plan := r.e.policy.Plan(batch, r.e.cfg.Models[r.model()].MultiCall)
	r.notify(ctx, fmt.Sprintf("running %d tool call(s)", len(batch)))

	results := r.e.runner.Run(ctx, plan, batch)
	for _, res := range results {
		r.t.MarkToolUsed(res.Name)
		if !res.Success {
			r.lastKind = res.Kind
			if r.e.validator.IsMutating(res.Name) {
				r.t.Warnings = append(r.t.Warnings, mutationWarning(res.Name, res.Kind))
			}
		}
		r.t.History = append(r.t.History, res.Msg())
	}

	r.t.Iterations++
	if r.t.Iterations%r.e.cfg.CheckpointEvery == 0 {
		r.checkpoint(ctx)
	}
}

// call makes one model call, falling back once to the configured alternate
// model on quota exhaustion. The response is appended to history.
func (r *run) call(ctx context.Context) (task.Message, error) {
	opts := provider.Options{
		Model:           r.model(),
		Structured:      r.t.Request.Structured,
		ReasoningEffort: r.t.Request.ReasoningEffort,
	}

	cctx, cancel := context.WithTimeout(ctx, r.e.cfg.ModelTimeout)
	defer cancel()

	resp, usage, err := r.e.client.ChatCompletion(cctx, r.t.History, r.e.tools.Definitions(), opts)
	if errors.Is(err, provider.ErrQuotaExhausted) && !r.fellBack && r.e.cfg.FallbackModel != "" {
		r.fellBack = true
		r.t.Request.Model = r.e.cfg.FallbackModel
		opts.Model = r.e.cfg.FallbackModel
		r.e.log.Warn().Ctx(ctx).Str("fallback", opts.Model).Msg("quota exhausted, switching model")
		resp, usage, err = r.e.client.ChatCompletion(cctx, r.t.History, r.e.tools.Definitions(), opts)
	}
	if err != nil {
		return task.Message{}, fmt.Errorf("model call: %w", err)
	}

	if recErr := r.e.rec.Record(ctx, r.t.ID, opts.Model, usage); recErr != nil {
		r.e.log.Warn().Ctx(ctx).Err(recErr).Msg("usage record failed")
	}
	r.t.History = append(r.t.History, resp)
	return resp, nil
}

// compress shrinks history to the token budget when it has outgrown it.
func (r *run) compress() {
	est := tokens.NewHeuristic(r.model())
	if est.History(r.t.History) <= r.e.cfg.TokenBudget {
		return
	}
	before := len(r.t.History)
	r.t.History = compress.New(est).Compress(r.t.History, r.e.cfg.TokenBudget, r.e.cfg.MinRecent)
	r.e.log.Debug().Int("before", before).Int("after", len(r.t.History)).Msg("compressed history")
}

// finalize completes the task, applying warnings and the confidence label.
func (r *run) finalize(ctx context.Context, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if len(r.t.Warnings) > 0 {
		text = text + "\n\n" + strings.Join(r.t.Warnings, "\n")
	}
	if isTechnical(r.t.Request.Prompt) {
		r.t.Confidence = confidence(r.t.UsedAnyTool(), len(r.t.Warnings) > 0)
		text = text + "\n\nConfidence: " + string(r.t.Confidence)
	}

	r.t.Result = text
	if err := r.t.SetStatus(task.StatusCompleted, r.e.now()); err != nil {
		return r.fail(ctx, err)
	}
	if err := r.e.store.Delete(ctx, r.t.ID); err != nil {
		r.e.log.Error().Ctx(ctx).Err(err).Msg("checkpoint delete failed")
	}
	r.notify(ctx, "completed")
	r.e.log.Info().Ctx(ctx).Int("iterations", r.t.Iterations).Msg("task completed")
	return r.result(text), nil
}

// pause checkpoints the task for a later resume and surfaces the cause.
// Used for budget errors and external cancellation.
func (r *run) pause(ctx context.Context, cause error) (Result, error) {
	if err := r.t.SetStatus(task.StatusPaused, r.e.now()); err != nil {
		r.e.log.Warn().Ctx(ctx).Err(err).Msg("pause transition rejected")
	}
	r.checkpoint(ctx)
	r.notify(ctx, "paused")
	r.e.log.Warn().Ctx(ctx).Err(cause).Msg("task paused")
	return r.result(""), cause
}

// fail marks the task terminally failed. Terminal tasks keep no checkpoint.
func (r *run) fail(ctx context.Context, cause error) (Result, error) {
	if err := r.t.SetStatus(task.StatusFailed, r.e.now()); err != nil {
		r.e.log.Warn().Ctx(ctx).Err(err).Msg("fail transition rejected")
	}
	if err := r.e.store.Delete(ctx, r.t.ID); err != nil {
		r.e.log.Error().Ctx(ctx).Err(err).Msg("checkpoint delete failed")
	}
	r.notify(ctx, "failed")
	r.e.log.Error().Ctx(ctx).Err(cause).Str("phase", string(r.t.Phase)).Int("iterations", r.t.Iterations).Msg("task failed")
	return r.result(fmt.Sprintf("task failed in %s phase after %d iterations: %v", r.t.Phase, r.t.Iterations, cause)), cause
}

// transition moves the task to a new phase, notifies, and checkpoints.
func (r *run) transition(ctx context.Context, p task.Phase) {
	r.t.Phase = p
	r.phaseStart = r.e.now()
	r.notify(ctx, "entering "+string(p))
	r.checkpoint(ctx)
}

// checkpoint persists the current task state. Save failures are logged, not
// surfaced; losing a checkpoint costs resumability, not correctness.
func (r *run) checkpoint(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	r.t.Elapsed = r.elapsed()
	if err := r.e.store.Save(ctx, task.Snapshot(r.t, r.e.now())); err != nil {
		r.e.log.Error().Ctx(ctx).Err(err).Msg("checkpoint save failed")
	}
}

func (r *run) notify(ctx context.Context, activity string) {
	r.e.notifier.Progress(ctx, notify.Event{
		TaskID:    r.t.ID,
		Phase:     r.t.Phase,
		Activity:  activity,
		CreatedAt: r.e.now(),
	})
}

func (r *run) model() string { return r.t.Request.Model }

func (r *run) elapsed() time.Duration { return r.baseElapsed + r.e.now().Sub(r.start) }

func (r *run) result(text string) Result {
	return Result{
		TaskID:      r.t.ID,
		Text:        text,
		Confidence:  r.t.Confidence,
		Phase:       r.t.Phase,
		Status:      r.t.Status,
		Iterations:  r.t.Iterations,
		Resumes:     r.t.Resumes,
		LastErrKind: r.lastKind,
	}
}

// invoke executes one tool call and classifies its outcome.
func (e *Engine) invoke(ctx context.Context, call task.ToolCall) task.ToolResult {
	raw, err := e.tools.Execute(ctx, call.Name, call.Arguments)
	return e.validator.Validate(call.ID, call.Name, raw, err)
}
