package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/clock"
)

const (
	planNext    = `{"status": "next_step", "description": "open notepad", "expected_outcome": "notepad is open"}`
	planSuccess = `{"status": "success", "message": "notepad shows the text"}`
	stepTyping  = `{"action_type": "type", "parameters": {"text": "hello"}}`
	stepDone    = `{"result": "success", "description": "notepad opened"}`
)

type taskFixture struct {
	decisions *MockDecisionSource
	executor  *MockExecutor
	taskShots *MockSnapshotter
	stepShots *MockSnapshotter
	journal   *MockJournal
	clock     *clock.Fake
}

func newTaskFixture(t *testing.T) *taskFixture {
	t.Helper()
	orig := uuidNewString
	uuidNewString = func() string { return "run-test" }
	t.Cleanup(func() { uuidNewString = orig })

	return &taskFixture{
		decisions: new(MockDecisionSource),
		executor:  new(MockExecutor),
		taskShots: blankSnapshotter(),
		stepShots: blankSnapshotter(),
		clock:     clock.NewFake(epoch),
	}
}

func (f *taskFixture) controller(t *testing.T, opts TaskOptions) *TaskController {
	t.Helper()
	deps := TaskDeps{
		Decisions:     f.decisions,
		Executor:      f.executor,
		TaskSnapshots: f.taskShots,
		StepSnapshots: f.stepShots,
		Clock:         f.clock,
	}
	if f.journal != nil {
		deps.Journal = f.journal
	}
	tc, err := NewTaskController("write hello in notepad", opts, deps)
	require.NoError(t, err)
	return tc
}

func defaultTaskOptions() TaskOptions {
	return TaskOptions{MaxIterations: 5, MaxStepAttempts: 3, DelayBetweenSteps: 2 * time.Second}
}

func TestNewTaskController_Validation(t *testing.T) {
	f := newTaskFixture(t)
	deps := TaskDeps{Decisions: f.decisions, Executor: f.executor, TaskSnapshots: f.taskShots, StepSnapshots: f.stepShots}

	tests := []struct {
		name string
		task string
		opts TaskOptions
		deps TaskDeps
	}{
		{"empty task", "", defaultTaskOptions(), deps},
		{"zero iterations", "t", TaskOptions{MaxIterations: 0, MaxStepAttempts: 1}, deps},
		{"zero step attempts", "t", TaskOptions{MaxIterations: 1, MaxStepAttempts: 0}, deps},
		{"negative delay", "t", TaskOptions{MaxIterations: 1, MaxStepAttempts: 1, DelayBetweenSteps: -1}, deps},
		{"missing snapshotter", "t", defaultTaskOptions(), TaskDeps{Decisions: f.decisions, Executor: f.executor, TaskSnapshots: f.taskShots}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTaskController(tt.task, tt.opts, tt.deps)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestTaskController_ImmediateSuccess(t *testing.T) {
	f := newTaskFixture(t)
	f.decisions.replies(planSuccess)
	tc := f.controller(t, defaultTaskOptions())

	verdict, err := tc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TaskSuccess{Message: "notepad shows the text"}, verdict)
	assert.Equal(t, TaskSucceeded, tc.State())
	assert.Zero(t, tc.Iterations())
	assert.Empty(t, tc.History())
	assert.Equal(t, "run-test", tc.RunID())
	f.stepShots.AssertNotCalled(t, "Snap", mock.Anything)
}

func TestTaskController_StepThenSuccess(t *testing.T) {
	f := newTaskFixture(t)
	f.decisions.replies(planNext, stepTyping, stepDone, planSuccess)
	f.executor.On("Dispatch", mock.Anything, schemas.ActionRecord{
		ActionType: "type", Parameters: map[string]any{"text": "hello"},
	}).Return(nil).Once()
	tc := f.controller(t, defaultTaskOptions())

	verdict, err := tc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TaskSuccess{Message: "notepad shows the text"}, verdict)
	assert.Equal(t, 1, tc.Iterations())
	assert.Equal(t, []schemas.StepRecord{
		{Description: "open notepad", Status: schemas.StepStatusSuccess, Result: "notepad opened"},
	}, tc.History())

	prompts := f.decisions.prompts()
	require.Len(t, prompts, 4)
	assert.Contains(t, prompts[0], "TASK DESCRIPTION: write hello in notepad")
	assert.Contains(t, prompts[0], noHistoryMarker)
	assert.Contains(t, prompts[1], "TASK DESCRIPTION: open notepad")
	assert.Contains(t, prompts[3], "Step 1:\n  Description: open notepad\n  Status: success\n  Result: notepad opened")

	// One pause after the action and one after the step, both at the step delay.
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, f.clock.Sleeps())
	f.taskShots.AssertNumberOfCalls(t, "Snap", 2)
	f.stepShots.AssertNumberOfCalls(t, "Snap", 2)
	f.executor.AssertExpectations(t)
}

func TestTaskController_Failure(t *testing.T) {
	f := newTaskFixture(t)
	f.decisions.replies(`{"status": "failure", "message": "notepad is not installed"}`)
	tc := f.controller(t, defaultTaskOptions())

	verdict, err := tc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TaskFailure{Message: "notepad is not installed"}, verdict)
	assert.Equal(t, TaskFailed, tc.State())
}

func TestTaskController_StepOutcomesAreRecordedNotFatal(t *testing.T) {
	f := newTaskFixture(t)
	f.decisions.replies(
		planNext, `{"result": "problem", "description": "no start menu"}`,
		planNext, `I cannot tell`,
		planNext, stepTyping,
		planSuccess,
	)
	f.executor.On("Dispatch", mock.Anything, mock.Anything).
		Return(&ExecutionError{ActionType: ActionTypeText, Err: errors.New("keyboard unplugged")}).Once()
	tc := f.controller(t, defaultTaskOptions())

	verdict, err := tc.Run(context.Background())
	require.NoError(t, err)
	assert.IsType(t, TaskSuccess{}, verdict)

	history := tc.History()
	require.Len(t, history, 3)
	assert.Equal(t, schemas.StepStatusFailure, history[0].Status)
	assert.Equal(t, "no start menu", history[0].Result)
	assert.Equal(t, schemas.StepStatusError, history[1].Status)
	assert.Contains(t, history[1].Result, "malformed model response")
	assert.Equal(t, schemas.StepStatusError, history[2].Status)
	assert.Contains(t, history[2].Result, "keyboard unplugged")
	assert.Equal(t, 3, tc.Iterations())
}

func TestTaskController_StepAttemptsExhaustedIsRecorded(t *testing.T) {
	f := newTaskFixture(t)
	f.decisions.replies(planNext, stepTyping, planSuccess)
	f.executor.On("Dispatch", mock.Anything, mock.Anything).Return(nil).Once()
	tc := f.controller(t, TaskOptions{MaxIterations: 3, MaxStepAttempts: 1})

	_, err := tc.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, tc.History(), 1)
	assert.Equal(t, schemas.StepStatusError, tc.History()[0].Status)
	assert.Equal(t, "maximum attempts (1) reached without completing the step", tc.History()[0].Result)
}

func TestTaskController_IterationsExhausted(t *testing.T) {
	f := newTaskFixture(t)
	f.decisions.replies(
		planNext, `{"result": "problem", "description": "first"}`,
		planNext, `{"result": "problem", "description": "second"}`,
	)
	tc := f.controller(t, TaskOptions{MaxIterations: 2, MaxStepAttempts: 2})

	verdict, err := tc.Run(context.Background())
	assert.Nil(t, verdict)
	assert.ErrorIs(t, err, ErrIterationsExceeded)
	assert.Equal(t, TaskTimedOut, tc.State())
	assert.Equal(t, 2, tc.Iterations())
	assert.Len(t, tc.History(), 2)
	f.decisions.AssertNumberOfCalls(t, "Decide", 4)
}

func TestTaskController_MalformedPlanIsFatal(t *testing.T) {
	f := newTaskFixture(t)
	f.decisions.replies(`{"status": "thinking"}`)
	tc := f.controller(t, defaultTaskOptions())

	_, err := tc.Run(context.Background())
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Equal(t, TaskAborted, tc.State())
}

func TestTaskController_CancellationDuringStepAborts(t *testing.T) {
	f := newTaskFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.decisions.replies(planNext, stepTyping)
	f.executor.On("Dispatch", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(&ExecutionError{ActionType: ActionTypeText, Err: context.Canceled}).Once()
	tc := f.controller(t, defaultTaskOptions())

	_, err := tc.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, TaskAborted, tc.State())
	assert.Empty(t, tc.History())
}

func TestTaskController_SingleUse(t *testing.T) {
	f := newTaskFixture(t)
	f.decisions.replies(planSuccess)
	tc := f.controller(t, defaultTaskOptions())

	_, err := tc.Run(context.Background())
	require.NoError(t, err)
	_, err = tc.Run(context.Background())
	assert.ErrorContains(t, err, "already finished")
}

func TestTaskController_Journal(t *testing.T) {
	f := newTaskFixture(t)
	f.decisions.replies(planNext, stepTyping, stepDone, planSuccess)
	f.executor.On("Dispatch", mock.Anything, mock.Anything).Return(nil).Once()

	f.journal = new(MockJournal)
	f.journal.On("BeginRun", mock.Anything, schemas.Run{
		ID: "run-test", Task: "write hello in notepad", Status: schemas.RunStatusRunning, StartedAt: epoch,
	}).Return(nil).Once()
	f.journal.On("AppendAction", mock.Anything, "run-test", 1, 1, mock.Anything).Return(nil).Once()
	f.journal.On("AppendStep", mock.Anything, "run-test", 1, schemas.StepRecord{
		Description: "open notepad", Status: schemas.StepStatusSuccess, Result: "notepad opened",
	}).Return(nil).Once()
	f.journal.On("FinishRun", mock.Anything, "run-test", schemas.RunStatusSuccess, "notepad shows the text",
		epoch.Add(4*time.Second)).Return(nil).Once()
	tc := f.controller(t, defaultTaskOptions())

	_, err := tc.Run(context.Background())
	require.NoError(t, err)
	f.journal.AssertExpectations(t)
}

func TestTaskController_JournalFailuresAreIgnored(t *testing.T) {
	f := newTaskFixture(t)
	f.decisions.replies(`{"status": "next_step"}`, `{"result": "problem"}`)

	broken := errors.New("journal offline")
	f.journal = new(MockJournal)
	f.journal.On("BeginRun", mock.Anything, mock.Anything).Return(broken)
	f.journal.On("AppendStep", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(broken)
	f.journal.On("FinishRun", mock.Anything, "run-test", schemas.RunStatusExhausted,
		"maximum iterations (1) reached without completing the task", mock.Anything).Return(broken).Once()
	tc := f.controller(t, TaskOptions{MaxIterations: 1, MaxStepAttempts: 1})

	_, err := tc.Run(context.Background())
	assert.ErrorIs(t, err, ErrIterationsExceeded)
	require.Len(t, tc.History(), 1)
	assert.Equal(t, "Unknown step", tc.History()[0].Description)
	f.journal.AssertExpectations(t)
}

func TestRunOutcome(t *testing.T) {
	status, msg := runOutcome(TaskAborted, nil, context.Canceled)
	assert.Equal(t, schemas.RunStatusAborted, status)
	assert.Equal(t, "context canceled", msg)

	status, msg = runOutcome(TaskFailed, TaskFailure{Message: "nope"}, nil)
	assert.Equal(t, schemas.RunStatusFailure, status)
	assert.Equal(t, "nope", msg)
}
