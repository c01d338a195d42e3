// internal/agent/interfaces.go
package agent

import (
	"context"
	"time"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// DecisionSource turns a prompt and the current screen into the model's raw
// reply.
type DecisionSource interface {
	Decide(ctx context.Context, prompt string, shot *schemas.Screenshot) (string, error)
}

// ElementResolver grounds a natural-language description of a UI element to
// the screen point that should be clicked.
type ElementResolver interface {
	Locate(ctx context.Context, description string) (schemas.Point, error)
}

// Actuator performs operating-system input. Scroll amounts are in wheel
// notches; positive scrolls up (or right for HScroll).
type Actuator interface {
	Click(ctx context.Context, x, y int) error
	DoubleClick(ctx context.Context, x, y int) error
	PressKey(ctx context.Context, key string) error
	Hotkey(ctx context.Context, keys ...string) error
	TypeText(ctx context.Context, text string) error
	Scroll(ctx context.Context, amount int) error
	HScroll(ctx context.Context, amount int) error
}

// Limiter gates rate-limited actions.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Snapshotter captures the screen and persists the frame as a debugging
// artifact.
type Snapshotter interface {
	Snap(ctx context.Context) (*schemas.Screenshot, error)
}

// Journal observes a run. Its failures are logged and never alter the
// control flow.
type Journal interface {
	BeginRun(ctx context.Context, run schemas.Run) error
	AppendStep(ctx context.Context, runID string, seq int, rec schemas.StepRecord) error
	AppendAction(ctx context.Context, runID string, step, seq int, rec schemas.ActionRecord) error
	FinishRun(ctx context.Context, runID string, status schemas.RunStatus, message string, at time.Time) error
}
