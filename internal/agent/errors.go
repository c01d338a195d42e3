// internal/agent/errors.go
package agent

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a string type used for structured error reporting from the
// dispatcher and the controllers.
type ErrorCode string

const (
	// -- Command validation --
	ErrCodeInvalidCommand    ErrorCode = "INVALID_COMMAND"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeUnknownAction     ErrorCode = "UNKNOWN_ACTION_TYPE"

	// -- Execution --
	ErrCodeExecutionFailure ErrorCode = "EXECUTION_FAILURE"
	ErrCodeElementNotFound  ErrorCode = "ELEMENT_NOT_FOUND"

	// -- Model output --
	ErrCodeMalformedResponse ErrorCode = "MALFORMED_RESPONSE"

	// -- Budgets --
	ErrCodeAttemptsExceeded   ErrorCode = "ATTEMPTS_EXCEEDED"
	ErrCodeIterationsExceeded ErrorCode = "ITERATIONS_EXCEEDED"
)

var (
	// ErrInvalidArgument is returned by constructors given unusable options.
	ErrInvalidArgument = errors.New("invalid argument")

	ErrInvalidCommand     = errors.New("invalid command")
	ErrExecutionFailure   = errors.New("action execution failed")
	ErrMalformedResponse  = errors.New("malformed model response")
	ErrExhausted          = errors.New("retry budget exhausted")
	ErrAttemptsExceeded   = fmt.Errorf("step attempts exceeded: %w", ErrExhausted)
	ErrIterationsExceeded = fmt.Errorf("task iterations exceeded: %w", ErrExhausted)
)

// InvalidCommandError reports a model decision that does not describe a valid
// action. It is raised before any side effect.
type InvalidCommandError struct {
	Code       ErrorCode
	ActionType string
	Reason     string
}

func (e *InvalidCommandError) Error() string {
	if e.ActionType == "" {
		return fmt.Sprintf("invalid command: %s", e.Reason)
	}
	return fmt.Sprintf("invalid %s command: %s", e.ActionType, e.Reason)
}

func (e *InvalidCommandError) Is(target error) bool { return target == ErrInvalidCommand }

func invalidCommand(code ErrorCode, action ActionType, format string, args ...any) error {
	return &InvalidCommandError{Code: code, ActionType: string(action), Reason: fmt.Sprintf(format, args...)}
}

// ExecutionError reports a failure of the resolver or the actuator while
// carrying out a valid command.
type ExecutionError struct {
	ActionType ActionType
	Target     string
	Err        error
}

func (e *ExecutionError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.ActionType))
	b.WriteString(" failed")
	if e.Target != "" {
		fmt.Fprintf(&b, " for target %q", e.Target)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ExecutionError) Is(target error) bool { return target == ErrExecutionFailure }
func (e *ExecutionError) Unwrap() error        { return e.Err }

// Code distinguishes element grounding failures from actuator failures.
func (e *ExecutionError) Code() ErrorCode {
	if errors.Is(e.Err, ErrElementNotFound) {
		return ErrCodeElementNotFound
	}
	return ErrCodeExecutionFailure
}

// ErrElementNotFound may be returned (or wrapped) by an ElementResolver that
// could not ground a description.
var ErrElementNotFound = errors.New("element not found")

// MalformedResponseError carries the raw model output that could not be
// interpreted.
type MalformedResponseError struct {
	Raw    string
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	msg := "malformed model response: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedResponseError) Is(target error) bool { return target == ErrMalformedResponse }
func (e *MalformedResponseError) Unwrap() error        { return e.Err }

// ExhaustionError reports that a controller ran out of attempts or iterations.
type ExhaustionError struct {
	Code  ErrorCode
	Limit int
}

func (e *ExhaustionError) Error() string {
	switch e.Code {
	case ErrCodeAttemptsExceeded:
		return fmt.Sprintf("maximum attempts (%d) reached without completing the step", e.Limit)
	case ErrCodeIterationsExceeded:
		return fmt.Sprintf("maximum iterations (%d) reached without completing the task", e.Limit)
	}
	return fmt.Sprintf("retry budget of %d exhausted", e.Limit)
}

func (e *ExhaustionError) Is(target error) bool {
	switch target {
	case ErrExhausted:
		return true
	case ErrAttemptsExceeded:
		return e.Code == ErrCodeAttemptsExceeded
	case ErrIterationsExceeded:
		return e.Code == ErrCodeIterationsExceeded
	}
	return false
}
