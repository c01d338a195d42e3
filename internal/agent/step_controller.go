// internal/agent/step_controller.go
package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/clock"
)

const (
	DefaultMaxStepAttempts      = 10
	DefaultDelayBetweenAttempts = 2 * time.Second
)

// ActionExecutor runs a raw model decision. *Dispatcher satisfies it.
type ActionExecutor interface {
	Dispatch(ctx context.Context, rec schemas.ActionRecord) error
}

var _ ActionExecutor = (*Dispatcher)(nil)

// StepOptions bounds a single step.
type StepOptions struct {
	MaxAttempts          int
	DelayBetweenAttempts time.Duration
}

// StepDeps are the collaborators of a StepController.
type StepDeps struct {
	Decisions DecisionSource
	Executor  ActionExecutor
	Snapshots Snapshotter
	Clock     clock.Clock
	Journal   Journal
	Logger    *zap.Logger
}

func (d *StepDeps) validate() error {
	if d.Decisions == nil {
		return fmt.Errorf("%w: decision source is required", ErrInvalidArgument)
	}
	if d.Executor == nil {
		return fmt.Errorf("%w: action executor is required", ErrInvalidArgument)
	}
	if d.Snapshots == nil {
		return fmt.Errorf("%w: snapshotter is required", ErrInvalidArgument)
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return nil
}

// journalScope ties a step's actions to a persisted run.
type journalScope struct {
	runID string
	step  int
}

// StepController drives one step to a verdict through repeated
// observe/decide/act attempts. A controller is single use.
type StepController struct {
	step     NextStep
	opts     StepOptions
	deps     StepDeps
	scope    journalScope
	history  []schemas.ActionRecord
	attempts int
	state    StepState
	logger   *zap.Logger
}

// NewStepController validates its arguments before any screen is captured.
func NewStepController(step NextStep, opts StepOptions, deps StepDeps) (*StepController, error) {
	if opts.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidArgument, opts.MaxAttempts)
	}
	if opts.DelayBetweenAttempts < 0 {
		return nil, fmt.Errorf("%w: delay between attempts must not be negative", ErrInvalidArgument)
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &StepController{
		step:   step,
		opts:   opts,
		deps:   deps,
		state:  StepRunning,
		logger: deps.Logger.Named("step_controller"),
	}, nil
}

// State reports where the controller is in its lifecycle.
func (s *StepController) State() StepState { return s.state }

// Attempts reports how many actions have been dispatched.
func (s *StepController) Attempts() int { return s.attempts }

// History returns a copy of the actions recorded so far.
func (s *StepController) History() []schemas.ActionRecord {
	out := make([]schemas.ActionRecord, len(s.history))
	copy(out, s.history)
	return out
}

// Run executes the step. It returns a StepSuccess or StepProblem verdict, or
// an error: ExhaustionError when the attempt budget runs out, and
// MalformedResponseError, InvalidCommandError or ExecutionError when an
// attempt fails fatally.
func (s *StepController) Run(ctx context.Context) (Verdict, error) {
	if s.state != StepRunning {
		return nil, fmt.Errorf("step controller already finished in state %s", s.state)
	}

	s.logger.Info("Starting step.",
		zap.String("description", s.step.Description),
		zap.String("expected_outcome", s.step.ExpectedOutcome),
		zap.Int("max_attempts", s.opts.MaxAttempts))

	shot, err := s.deps.Snapshots.Snap(ctx)
	if err != nil {
		return s.abort(fmt.Errorf("capturing screen: %w", err))
	}

	for s.attempts < s.opts.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return s.abort(err)
		}

		prompt := buildStepPrompt(s.step, s.history)
		raw, err := s.deps.Decisions.Decide(ctx, prompt, shot)
		if err != nil {
			return s.abort(fmt.Errorf("requesting step decision: %w", err))
		}

		decision, err := ParseStepResponse(raw)
		if err != nil {
			s.logger.Error("Model reply could not be parsed.", zap.Error(err), zap.String("raw", raw))
			return s.abort(err)
		}

		if decision.Verdict != nil {
			switch decision.Verdict.(type) {
			case StepSuccess:
				s.state = StepSucceeded
				s.logger.Info("Step completed.", zap.String("description", decision.Verdict.Summary()))
			default:
				s.state = StepProblemReported
				s.logger.Warn("Step reported a problem.", zap.String("problem", decision.Verdict.Summary()))
			}
			return decision.Verdict, nil
		}

		rec := *decision.Action
		s.history = append(s.history, rec)
		s.journalAction(ctx, rec)

		s.logger.Info("Executing action.",
			zap.Int("attempt", s.attempts+1),
			zap.String("action_type", rec.ActionType))
		if err := s.deps.Executor.Dispatch(ctx, rec); err != nil {
			s.logger.Error("Action failed.", zap.String("action_type", rec.ActionType), zap.Error(err))
			return s.abort(err)
		}

		if err := s.deps.Clock.Sleep(ctx, s.opts.DelayBetweenAttempts); err != nil {
			return s.abort(err)
		}
		shot, err = s.deps.Snapshots.Snap(ctx)
		if err != nil {
			return s.abort(fmt.Errorf("capturing screen: %w", err))
		}
		s.attempts++
	}

	s.state = StepAttemptsExceeded
	s.logger.Warn("Step attempts exhausted.", zap.Int("max_attempts", s.opts.MaxAttempts))
	return nil, &ExhaustionError{Code: ErrCodeAttemptsExceeded, Limit: s.opts.MaxAttempts}
}

func (s *StepController) abort(err error) (Verdict, error) {
	s.state = StepAborted
	return nil, err
}

func (s *StepController) journalAction(ctx context.Context, rec schemas.ActionRecord) {
	if s.deps.Journal == nil || s.scope.runID == "" {
		return
	}
	if err := s.deps.Journal.AppendAction(ctx, s.scope.runID, s.scope.step, len(s.history), rec); err != nil {
		s.logger.Warn("Failed to journal action.", zap.String("run_id", s.scope.runID), zap.Error(err))
	}
}
