// internal/agent/task_controller.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/clock"
)

const (
	DefaultMaxIterations     = 20
	DefaultDelayBetweenSteps = 2 * time.Second
)

var uuidNewString = uuid.NewString

// TaskOptions bounds a whole task.
type TaskOptions struct {
	MaxIterations     int
	DelayBetweenSteps time.Duration
	// MaxStepAttempts is handed to every StepController the task spawns.
	MaxStepAttempts int
}

// TaskDeps are the collaborators of a TaskController. TaskSnapshots and
// StepSnapshots write to separate artifact directories.
type TaskDeps struct {
	Decisions     DecisionSource
	Executor      ActionExecutor
	TaskSnapshots Snapshotter
	StepSnapshots Snapshotter
	Clock         clock.Clock
	Journal       Journal
	Logger        *zap.Logger
}

// TaskController decomposes a task into steps and runs each one through a
// fresh StepController until the model declares success or failure.
type TaskController struct {
	task       string
	opts       TaskOptions
	deps       TaskDeps
	runID      string
	history    []schemas.StepRecord
	iterations int
	state      TaskState
	logger     *zap.Logger
}

// NewTaskController validates its arguments.
func NewTaskController(task string, opts TaskOptions, deps TaskDeps) (*TaskController, error) {
	if task == "" {
		return nil, fmt.Errorf("%w: task description is required", ErrInvalidArgument)
	}
	if opts.MaxIterations < 1 {
		return nil, fmt.Errorf("%w: max iterations must be at least 1, got %d", ErrInvalidArgument, opts.MaxIterations)
	}
	if opts.MaxStepAttempts < 1 {
		return nil, fmt.Errorf("%w: max step attempts must be at least 1, got %d", ErrInvalidArgument, opts.MaxStepAttempts)
	}
	if opts.DelayBetweenSteps < 0 {
		return nil, fmt.Errorf("%w: delay between steps must not be negative", ErrInvalidArgument)
	}
	if deps.Decisions == nil || deps.Executor == nil || deps.TaskSnapshots == nil || deps.StepSnapshots == nil {
		return nil, fmt.Errorf("%w: decision source, executor and snapshotters are required", ErrInvalidArgument)
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	runID := uuidNewString()
	return &TaskController{
		task:   task,
		opts:   opts,
		deps:   deps,
		runID:  runID,
		state:  TaskRunning,
		logger: deps.Logger.Named("task_controller").With(zap.String("run_id", runID)),
	}, nil
}

// RunID identifies this execution in the journal.
func (t *TaskController) RunID() string { return t.runID }

// State reports where the controller is in its lifecycle.
func (t *TaskController) State() TaskState { return t.state }

// Iterations reports how many steps have been run.
func (t *TaskController) Iterations() int { return t.iterations }

// History returns a copy of the completed steps.
func (t *TaskController) History() []schemas.StepRecord {
	out := make([]schemas.StepRecord, len(t.history))
	copy(out, t.history)
	return out
}

// Run executes the task. It returns a TaskSuccess or TaskFailure verdict, or
// an error: ExhaustionError when the iteration budget runs out, and
// MalformedResponseError when a planning reply cannot be interpreted. Step
// failures are recorded in the history and never end the run.
func (t *TaskController) Run(ctx context.Context) (verdict Verdict, err error) {
	if t.state != TaskRunning {
		return nil, fmt.Errorf("task controller already finished in state %s", t.state)
	}

	t.beginRun(ctx)
	defer func() { t.finishRun(verdict, err) }()

	t.logger.Info("Starting task.", zap.String("task", t.task), zap.Int("max_iterations", t.opts.MaxIterations))

	shot, err := t.deps.TaskSnapshots.Snap(ctx)
	if err != nil {
		return t.abort(fmt.Errorf("capturing screen: %w", err))
	}

	for t.iterations < t.opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return t.abort(err)
		}

		t.logger.Info("Planning next step.", zap.Int("iteration", t.iterations+1))
		raw, err := t.deps.Decisions.Decide(ctx, buildTaskPrompt(t.task, t.history), shot)
		if err != nil {
			return t.abort(fmt.Errorf("requesting task decision: %w", err))
		}

		decision, err := ParseTaskResponse(raw)
		if err != nil {
			t.logger.Error("Model reply could not be parsed.", zap.Error(err), zap.String("raw", raw))
			return t.abort(err)
		}

		switch v := decision.Verdict.(type) {
		case TaskSuccess:
			t.state = TaskSucceeded
			t.logger.Info("Task completed successfully.", zap.String("message", v.Message))
			return v, nil
		case TaskFailure:
			t.state = TaskFailed
			t.logger.Warn("Task failed.", zap.String("message", v.Message))
			return v, nil
		}

		rec, err := t.runStep(ctx, *decision.Next)
		if err != nil {
			return t.abort(err)
		}
		t.history = append(t.history, rec)
		t.journalStep(ctx, rec)

		if err := t.deps.Clock.Sleep(ctx, t.opts.DelayBetweenSteps); err != nil {
			return t.abort(err)
		}
		shot, err = t.deps.TaskSnapshots.Snap(ctx)
		if err != nil {
			return t.abort(fmt.Errorf("capturing screen: %w", err))
		}
		t.iterations++
	}

	t.state = TaskTimedOut
	t.logger.Warn("Task iterations exhausted.", zap.Int("max_iterations", t.opts.MaxIterations))
	return nil, &ExhaustionError{Code: ErrCodeIterationsExceeded, Limit: t.opts.MaxIterations}
}

// runStep turns the outcome of one StepController into a StepRecord. Only
// cancellation of ctx or an unbuildable controller is returned as an error.
func (t *TaskController) runStep(ctx context.Context, next NextStep) (schemas.StepRecord, error) {
	t.logger.Info("Executing step.",
		zap.String("description", next.Description),
		zap.String("expected_outcome", next.ExpectedOutcome))

	step, err := NewStepController(next, StepOptions{
		MaxAttempts:          t.opts.MaxStepAttempts,
		DelayBetweenAttempts: t.opts.DelayBetweenSteps,
	}, StepDeps{
		Decisions: t.deps.Decisions,
		Executor:  t.deps.Executor,
		Snapshots: t.deps.StepSnapshots,
		Clock:     t.deps.Clock,
		Journal:   t.deps.Journal,
		Logger:    t.deps.Logger,
	})
	if err != nil {
		return schemas.StepRecord{}, err
	}
	step.scope = journalScope{runID: t.runID, step: len(t.history) + 1}

	verdict, err := step.Run(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return schemas.StepRecord{}, err
		}
		t.logger.Warn("Step ended with an error.", zap.Error(err))
		return schemas.StepRecord{Description: next.Description, Status: schemas.StepStatusError, Result: err.Error()}, nil
	}

	if _, ok := verdict.(StepSuccess); ok {
		return schemas.StepRecord{Description: next.Description, Status: schemas.StepStatusSuccess, Result: verdict.Summary()}, nil
	}
	return schemas.StepRecord{Description: next.Description, Status: schemas.StepStatusFailure, Result: verdict.Summary()}, nil
}

func (t *TaskController) abort(err error) (Verdict, error) {
	t.state = TaskAborted
	return nil, err
}

func (t *TaskController) beginRun(ctx context.Context) {
	if t.deps.Journal == nil {
		return
	}
	run := schemas.Run{
		ID:        t.runID,
		Task:      t.task,
		Status:    schemas.RunStatusRunning,
		StartedAt: t.deps.Clock.Now().UTC(),
	}
	if err := t.deps.Journal.BeginRun(ctx, run); err != nil {
		t.logger.Warn("Failed to journal run start.", zap.Error(err))
	}
}

func (t *TaskController) journalStep(ctx context.Context, rec schemas.StepRecord) {
	if t.deps.Journal == nil {
		return
	}
	if err := t.deps.Journal.AppendStep(ctx, t.runID, len(t.history), rec); err != nil {
		t.logger.Warn("Failed to journal step.", zap.Error(err))
	}
}

func (t *TaskController) finishRun(verdict Verdict, err error) {
	if t.deps.Journal == nil {
		return
	}
	status, message := runOutcome(t.state, verdict, err)
	// The run context may already be cancelled; the final record is still written.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if jerr := t.deps.Journal.FinishRun(ctx, t.runID, status, message, t.deps.Clock.Now().UTC()); jerr != nil {
		t.logger.Warn("Failed to journal run result.", zap.Error(jerr))
	}
}

func runOutcome(state TaskState, verdict Verdict, err error) (schemas.RunStatus, string) {
	switch state {
	case TaskSucceeded:
		return schemas.RunStatusSuccess, verdict.Summary()
	case TaskFailed:
		return schemas.RunStatusFailure, verdict.Summary()
	case TaskTimedOut:
		return schemas.RunStatusExhausted, err.Error()
	}
	if err != nil {
		return schemas.RunStatusAborted, err.Error()
	}
	return schemas.RunStatusAborted, ""
}
