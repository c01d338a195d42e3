// internal/agent/dispatcher.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/clock"
)

const (
	// DefaultKeystrokePause follows every key press and every typed line.
	DefaultKeystrokePause = 100 * time.Millisecond

	keyEnter     = "enter"
	keyTab       = "tab"
	spacesPerTab = 4
)

// DispatcherOptions tunes the dispatcher's timing.
type DispatcherOptions struct {
	KeystrokePause time.Duration
}

// Dispatcher executes one validated action against the actuator. Only the
// type action is rate limited.
type Dispatcher struct {
	actuator Actuator
	resolver ElementResolver
	limiter  Limiter
	clock    clock.Clock
	opts     DispatcherOptions
	logger   *zap.Logger
}

// NewDispatcher wires a dispatcher. The resolver may be nil when every click
// is expected to carry explicit coordinates.
func NewDispatcher(act Actuator, resolver ElementResolver, limiter Limiter, clk clock.Clock, opts DispatcherOptions, logger *zap.Logger) (*Dispatcher, error) {
	if act == nil {
		return nil, fmt.Errorf("%w: actuator is required", ErrInvalidArgument)
	}
	if limiter == nil {
		return nil, fmt.Errorf("%w: limiter is required", ErrInvalidArgument)
	}
	if opts.KeystrokePause < 0 {
		return nil, fmt.Errorf("%w: keystroke pause must not be negative", ErrInvalidArgument)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		actuator: act,
		resolver: resolver,
		limiter:  limiter,
		clock:    clk,
		opts:     opts,
		logger:   logger.Named("action_dispatcher"),
	}, nil
}

// Dispatch validates a raw model decision and executes it. Validation
// failures surface as InvalidCommandError before any side effect.
func (d *Dispatcher) Dispatch(ctx context.Context, rec schemas.ActionRecord) error {
	cmd, err := DecodeAction(rec)
	if err != nil {
		return err
	}
	return d.Execute(ctx, cmd)
}

// Execute carries out a typed command.
func (d *Dispatcher) Execute(ctx context.Context, cmd ActionCommand) error {
	switch c := cmd.(type) {
	case ClickCommand:
		return d.executePointer(ctx, ActionClick, c.PointerTarget, d.actuator.Click)
	case DoubleClickCommand:
		return d.executePointer(ctx, ActionDoubleClick, c.PointerTarget, d.actuator.DoubleClick)
	case TypeCommand:
		return d.executeType(ctx, c)
	case ScrollCommand:
		return d.executeScroll(ctx, c)
	case HotkeyCommand:
		return d.executeHotkey(ctx, c)
	case nil:
		return invalidCommand(ErrCodeInvalidCommand, "", "nil command")
	default:
		return invalidCommand(ErrCodeUnknownAction, cmd.Type(), "unsupported command %T", cmd)
	}
}

type pointerFunc func(ctx context.Context, x, y int) error

func (d *Dispatcher) executePointer(ctx context.Context, at ActionType, target PointerTarget, press pointerFunc) error {
	if target.Point != nil {
		d.logger.Info("Clicking at coordinates.", zap.String("action", string(at)), zap.Int("x", target.Point.X), zap.Int("y", target.Point.Y))
		if err := press(ctx, target.Point.X, target.Point.Y); err != nil {
			return &ExecutionError{ActionType: at, Target: target.Describe(), Err: err}
		}
		return nil
	}

	if target.Target == "" {
		return invalidCommand(ErrCodeInvalidParameters, at, "missing target description or x,y coordinates")
	}
	if d.resolver == nil {
		return &ExecutionError{ActionType: at, Target: target.Target, Err: errors.New("no element resolver configured")}
	}

	pt, err := d.locate(ctx, target)
	if err != nil {
		return &ExecutionError{ActionType: at, Target: target.Target, Err: err}
	}

	d.logger.Info("Clicking on located element.", zap.String("action", string(at)), zap.Int("x", pt.X), zap.Int("y", pt.Y))
	if err := press(ctx, pt.X, pt.Y); err != nil {
		return &ExecutionError{ActionType: at, Target: target.Target, Err: err}
	}
	return nil
}

// locate tries the primary description, then each fallback in order.
func (d *Dispatcher) locate(ctx context.Context, target PointerTarget) (schemas.Point, error) {
	candidates := append([]string{target.Target}, target.FallbackTargets...)
	var errs []error
	for _, desc := range candidates {
		d.logger.Debug("Searching for element.", zap.String("target", desc))
		pt, err := d.resolver.Locate(ctx, desc)
		if err == nil {
			return pt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return schemas.Point{}, ctxErr
		}
		d.logger.Warn("Element not located.", zap.String("target", desc), zap.Error(err))
		errs = append(errs, fmt.Errorf("%q: %w", desc, err))
	}
	return schemas.Point{}, errors.Join(errs...)
}

func (d *Dispatcher) executeType(ctx context.Context, c TypeCommand) error {
	if err := d.limiter.Acquire(ctx); err != nil {
		return &ExecutionError{ActionType: ActionTypeText, Err: err}
	}

	d.logger.Info("Typing text.", zap.Int("length", len(c.Text)))

	first := true
	for _, line := range strings.Split(c.Text, "\n") {
		content := strings.TrimSpace(line)
		if content == "" {
			continue
		}
		if !first {
			if err := d.pressKey(ctx, keyEnter); err != nil {
				return err
			}
		}
		first = false

		leading := len(line) - len(strings.TrimLeft(line, " "))
		for i := 0; i < leading/spacesPerTab; i++ {
			if err := d.pressKey(ctx, keyTab); err != nil {
				return err
			}
		}

		if err := d.actuator.TypeText(ctx, content); err != nil {
			return &ExecutionError{ActionType: ActionTypeText, Err: err}
		}
		if err := d.pause(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) pressKey(ctx context.Context, key string) error {
	if err := d.actuator.PressKey(ctx, key); err != nil {
		return &ExecutionError{ActionType: ActionTypeText, Err: fmt.Errorf("pressing %s: %w", key, err)}
	}
	return d.pause(ctx)
}

func (d *Dispatcher) pause(ctx context.Context) error {
	if err := d.clock.Sleep(ctx, d.opts.KeystrokePause); err != nil {
		return &ExecutionError{ActionType: ActionTypeText, Err: err}
	}
	return nil
}

func (d *Dispatcher) executeScroll(ctx context.Context, c ScrollCommand) error {
	d.logger.Info("Scrolling.", zap.String("direction", string(c.Direction)), zap.Int("amount", c.Amount))

	var err error
	switch c.Direction {
	case ScrollUp:
		err = d.actuator.Scroll(ctx, c.Amount)
	case ScrollDown:
		err = d.actuator.Scroll(ctx, -c.Amount)
	case ScrollRight:
		err = d.actuator.HScroll(ctx, c.Amount)
	case ScrollLeft:
		err = d.actuator.HScroll(ctx, -c.Amount)
	default:
		return invalidCommand(ErrCodeInvalidParameters, ActionScroll, "invalid direction %q", c.Direction)
	}
	if err != nil {
		return &ExecutionError{ActionType: ActionScroll, Target: string(c.Direction), Err: err}
	}
	return nil
}

func (d *Dispatcher) executeHotkey(ctx context.Context, c HotkeyCommand) error {
	if len(c.Keys) == 0 {
		return invalidCommand(ErrCodeInvalidParameters, ActionHotkey, "keys must be a non-empty list")
	}
	for i, k := range c.Keys {
		if strings.TrimSpace(k) == "" {
			return invalidCommand(ErrCodeInvalidParameters, ActionHotkey, "key %d is not a key name", i)
		}
	}

	chord := strings.Join(c.Keys, "+")
	d.logger.Info("Pressing hotkey.", zap.String("keys", chord))
	if err := d.actuator.Hotkey(ctx, c.Keys...); err != nil {
		return &ExecutionError{ActionType: ActionHotkey, Target: chord, Err: err}
	}
	return nil
}
