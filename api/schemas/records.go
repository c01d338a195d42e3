package schemas

import "time"

// StepStatus is the outcome recorded for a completed step.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success" // The step controller reported success.
	StepStatusFailure StepStatus = "failure" // The model reported a problem with the step.
	StepStatusError   StepStatus = "error"   // The step ended with an error (exhaustion, execution, parsing).
)

// ActionRecord is a model decision exactly as received, kept for prompting.
// It is appended before the action is dispatched and never re-validated.
type ActionRecord struct {
	ActionType string         `json:"action_type"`
	Parameters map[string]any `json:"parameters"`
}

// StepRecord summarises one completed step of a task.
type StepRecord struct {
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
	Result      string     `json:"result"`
}

// RunStatus is the terminal state of a persisted task run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailure   RunStatus = "failure"
	RunStatusExhausted RunStatus = "exhausted"
	RunStatusAborted   RunStatus = "aborted"
)

// Run is the journal entry for a single task execution.
type Run struct {
	ID         string    `json:"id"`
	Task       string    `json:"task"`
	Status     RunStatus `json:"status"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// JournaledStep is a step record as persisted, with its position in the run.
type JournaledStep struct {
	RunID    string     `json:"run_id"`
	Sequence int        `json:"sequence"`
	Record   StepRecord `json:"record"`
}

// JournaledAction is an action record as persisted. Step is the sequence of
// the step it belongs to.
type JournaledAction struct {
	RunID    string       `json:"run_id"`
	Step     int          `json:"step"`
	Sequence int          `json:"sequence"`
	Record   ActionRecord `json:"record"`
}

// RunDetail is a run together with everything recorded for it.
type RunDetail struct {
	Run     Run               `json:"run"`
	Steps   []JournaledStep   `json:"steps"`
	Actions []JournaledAction `json:"actions"`
}
