package actuator

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/go-vgo/robotgo"
	"go.uber.org/zap"
)

// Driver is the native input surface used by Desktop. The production
// implementation wraps robotgo; tests substitute a recorder.
type Driver interface {
	Move(x, y int)
	Click(button string, double bool)
	KeyTap(key string) error
	KeyToggle(key string, down bool) error
	TypeStr(text string)
	ScrollDir(amount int, direction string)
	CaptureImg() (image.Image, error)
	ScreenSize() (width, height int)
}

type robotgoDriver struct{}

func (robotgoDriver) Move(x, y int) { robotgo.Move(x, y) }

func (robotgoDriver) Click(button string, double bool) { robotgo.Click(button, double) }

func (robotgoDriver) KeyTap(key string) error { return robotgo.KeyTap(key) }

func (robotgoDriver) KeyToggle(key string, down bool) error {
	if down {
		return robotgo.KeyToggle(key)
	}
	return robotgo.KeyToggle(key, "up")
}

func (robotgoDriver) TypeStr(text string) { robotgo.TypeStr(text) }

func (robotgoDriver) ScrollDir(amount int, direction string) { robotgo.ScrollDir(amount, direction) }

func (robotgoDriver) CaptureImg() (image.Image, error) { return robotgo.CaptureImg() }

func (robotgoDriver) ScreenSize() (int, int) { return robotgo.GetScreenSize() }

// Desktop drives the local display. Native input calls cannot be
// interrupted, so cancellation is only observed between calls.
type Desktop struct {
	mu     sync.Mutex
	driver Driver
	logger *zap.Logger
}

// NewDesktop returns a Desktop over robotgo.
func NewDesktop(logger *zap.Logger) *Desktop {
	return NewDesktopWithDriver(robotgoDriver{}, logger)
}

// NewDesktopWithDriver returns a Desktop over an arbitrary driver.
func NewDesktopWithDriver(driver Driver, logger *zap.Logger) *Desktop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Desktop{driver: driver, logger: logger.Named("desktop_actuator")}
}

func (d *Desktop) Click(ctx context.Context, x, y int) error {
	return d.click(ctx, x, y, false)
}

func (d *Desktop) DoubleClick(ctx context.Context, x, y int) error {
	return d.click(ctx, x, y, true)
}

func (d *Desktop) click(ctx context.Context, x, y int, double bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.driver.Move(x, y)
	d.driver.Click("left", double)
	d.logger.Debug("Clicked.", zap.Int("x", x), zap.Int("y", y), zap.Bool("double", double))
	return nil
}

func (d *Desktop) PressKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.driver.KeyTap(k); err != nil {
		return fmt.Errorf("key tap %q: %w", k, err)
	}
	return nil
}

// Hotkey holds every key down in order and releases them in reverse.
func (d *Desktop) Hotkey(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("hotkey requires at least one key")
	}
	norm, err := normalizeAll(keys)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(norm) == 1 {
		return d.driver.KeyTap(norm[0])
	}

	pressed := make([]string, 0, len(norm))
	var downErr error
	for _, k := range norm {
		if downErr = d.driver.KeyToggle(k, true); downErr != nil {
			downErr = fmt.Errorf("key down %q: %w", k, downErr)
			break
		}
		pressed = append(pressed, k)
	}
	// Release whatever went down, even after a failure, so no key stays stuck.
	var upErr error
	for i := len(pressed) - 1; i >= 0; i-- {
		if err := d.driver.KeyToggle(pressed[i], false); err != nil && upErr == nil {
			upErr = fmt.Errorf("key up %q: %w", pressed[i], err)
		}
	}
	if downErr != nil {
		return downErr
	}
	return upErr
}

func (d *Desktop) TypeText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.driver.TypeStr(text)
	return nil
}

// Scroll scrolls vertically by amount notches; positive is up.
func (d *Desktop) Scroll(ctx context.Context, amount int) error {
	return d.scroll(ctx, amount, "up", "down")
}

// HScroll scrolls horizontally by amount notches; positive is right.
func (d *Desktop) HScroll(ctx context.Context, amount int) error {
	return d.scroll(ctx, amount, "right", "left")
}

func (d *Desktop) scroll(ctx context.Context, amount int, positive, negative string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	dir := positive
	if amount < 0 {
		dir, amount = negative, -amount
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.driver.ScrollDir(amount, dir)
	return nil
}

// Capture grabs the whole primary display.
func (d *Desktop) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	img, err := d.driver.CaptureImg()
	if err != nil {
		return nil, fmt.Errorf("failed to capture screen: %w", err)
	}
	return img, nil
}

// Size reports the logical screen size used for input coordinates. On HiDPI
// displays this is smaller than the captured image.
func (d *Desktop) Size(ctx context.Context) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	w, h := d.driver.ScreenSize()
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("screen size unavailable (%dx%d)", w, h)
	}
	return w, h, nil
}

func (d *Desktop) Close() error { return nil }
