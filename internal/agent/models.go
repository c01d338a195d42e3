// internal/agent/models.go
package agent

import (
	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// ActionType is the vocabulary of primitive UI actions the model may request.
type ActionType string

const (
	ActionClick       ActionType = "click"
	ActionDoubleClick ActionType = "doubleclick"
	ActionTypeText    ActionType = "type"
	ActionScroll      ActionType = "scroll"
	ActionHotkey      ActionType = "hotkey"
)

// ScrollDirection is one of the four scroll axes.
type ScrollDirection string

const (
	ScrollUp    ScrollDirection = "up"
	ScrollDown  ScrollDirection = "down"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

// DefaultScrollAmount is used when a scroll command carries no amount.
const DefaultScrollAmount = 5

// ActionCommand is a validated primitive action. The set of implementations
// is closed; see DecodeAction.
type ActionCommand interface {
	Type() ActionType
	isCommand()
}

// PointerTarget identifies where a click lands: either an explicit screen
// point or a natural-language description resolved at execution time.
type PointerTarget struct {
	Point           *schemas.Point
	Target          string
	FallbackTargets []string
}

// Describe names the target for logs and errors.
func (p PointerTarget) Describe() string {
	if p.Point != nil {
		return pointString(*p.Point)
	}
	return p.Target
}

// ClickCommand is a single left click.
type ClickCommand struct{ PointerTarget }

// DoubleClickCommand is a left double click.
type DoubleClickCommand struct{ PointerTarget }

// TypeCommand types multi-line text. Leading spaces on a line are converted
// to tab presses, four spaces per tab.
type TypeCommand struct {
	Text string
}

// ScrollCommand scrolls by Amount notches in Direction.
type ScrollCommand struct {
	Direction ScrollDirection
	Amount    int
}

// HotkeyCommand presses Keys together as one chord.
type HotkeyCommand struct {
	Keys []string
}

func (ClickCommand) Type() ActionType       { return ActionClick }
func (DoubleClickCommand) Type() ActionType { return ActionDoubleClick }
func (TypeCommand) Type() ActionType        { return ActionTypeText }
func (ScrollCommand) Type() ActionType      { return ActionScroll }
func (HotkeyCommand) Type() ActionType      { return ActionHotkey }

func (ClickCommand) isCommand()       {}
func (DoubleClickCommand) isCommand() {}
func (TypeCommand) isCommand()        {}
func (ScrollCommand) isCommand()      {}
func (HotkeyCommand) isCommand()      {}

// Verdict is a terminal decision that ends the loop that received it.
// Verdicts are never recorded in history.
type Verdict interface {
	// Summary is the human-readable text carried by the verdict.
	Summary() string
	isVerdict()
}

// StepSuccess reports that the current step's expected outcome was reached.
type StepSuccess struct {
	Description string
}

// StepProblem reports that the current step cannot be completed as planned.
type StepProblem struct {
	Description         string
	SuggestedFix        string
	AlternativeApproach string
}

// TaskSuccess reports that the whole task is done.
type TaskSuccess struct {
	Message string
}

// TaskFailure reports that the task cannot be completed.
type TaskFailure struct {
	Message string
}

func (v StepSuccess) Summary() string { return v.Description }
func (v TaskSuccess) Summary() string { return v.Message }
func (v TaskFailure) Summary() string { return v.Message }

func (v StepProblem) Summary() string {
	s := v.Description
	if v.SuggestedFix != "" {
		s += "; suggested fix: " + v.SuggestedFix
	}
	if v.AlternativeApproach != "" {
		s += "; alternative: " + v.AlternativeApproach
	}
	return s
}

func (StepSuccess) isVerdict() {}
func (StepProblem) isVerdict() {}
func (TaskSuccess) isVerdict() {}
func (TaskFailure) isVerdict() {}

// NextStep is the task-level instruction to run one more step.
type NextStep struct {
	Description     string
	ExpectedOutcome string
	Verification    string
	Alternatives    []string
}

// StepDecision is the parsed reply to a step prompt. Exactly one of Verdict
// and Action is set.
type StepDecision struct {
	Verdict Verdict
	Action  *schemas.ActionRecord
}

// TaskDecision is the parsed reply to a task prompt. Exactly one of Verdict
// and Next is set.
type TaskDecision struct {
	Verdict Verdict
	Next    *NextStep
}

// StepState tracks a StepController through its lifecycle.
type StepState string

const (
	StepRunning          StepState = "RUNNING"
	StepSucceeded        StepState = "SUCCESS"
	StepProblemReported  StepState = "PROBLEM"
	StepAttemptsExceeded StepState = "ATTEMPTS_EXCEEDED"
	StepAborted          StepState = "ABORTED" // A fatal error unwound the step.
)

// TaskState tracks a TaskController through its lifecycle.
type TaskState string

const (
	TaskRunning   TaskState = "RUNNING"
	TaskSucceeded TaskState = "SUCCESS"
	TaskFailed    TaskState = "FAILURE"
	TaskTimedOut  TaskState = "TIMED_OUT"
	TaskAborted   TaskState = "ABORTED"
)
