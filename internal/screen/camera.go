// Package screen captures screenshots, persists them as debugging artifacts
// and prepares them for the model.
package screen

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/clock"
)

// Artifact directory names under the data directory, one per consumer.
const (
	TaskPlannerDir  = "task_planner"
	StepHandlerDir  = "step_handler"
	ClickLocatorDir = "click_locator"
)

// Capturer grabs the current screen.
type Capturer interface {
	Capture(ctx context.Context) (image.Image, error)
	// Size reports the logical screen size in the coordinate space used for
	// input events.
	Size(ctx context.Context) (width, height int, err error)
}

// Camera captures frames and writes each one to dir as
// <prefix>_<unix millis>.png. Frames saved within the same millisecond get a
// _<n> sequence suffix so none overwrites another.
type Camera struct {
	capturer Capturer
	dir      string
	prefix   string
	clock    clock.Clock
	logger   *zap.Logger

	mu    sync.Mutex
	names map[string]nameStamp // last stamp used per suffix
}

type nameStamp struct {
	millis int64
	seq    int
}

// NewCamera creates a camera. An empty dir disables persistence.
func NewCamera(capturer Capturer, dir, prefix string, clk clock.Clock, logger *zap.Logger) *Camera {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Camera{
		capturer: capturer,
		dir:      dir,
		prefix:   prefix,
		clock:    clk,
		logger:   logger.Named("camera").With(zap.String("prefix", prefix)),
		names:    make(map[string]nameStamp),
	}
}

// Capturer exposes the underlying capture source.
func (c *Camera) Capturer() Capturer { return c.capturer }

// Snap captures the screen. A failure to persist the frame is logged and the
// frame is still returned.
func (c *Camera) Snap(ctx context.Context) (*schemas.Screenshot, error) {
	if c.capturer == nil {
		return nil, errors.New("no screen capturer configured")
	}
	img, err := c.capturer.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("screen capture failed: %w", err)
	}

	shot := &schemas.Screenshot{Image: img, TakenAt: c.clock.Now()}
	if c.dir == "" {
		return shot, nil
	}

	path, err := c.Save(img, "")
	if err != nil {
		c.logger.Warn("Failed to persist screenshot.", zap.Error(err))
		return shot, nil
	}
	shot.Path = path
	c.logger.Debug("Screenshot saved.", zap.String("path", path))
	return shot, nil
}

// Save writes img under the camera's directory, naming it from the current
// time and an optional suffix.
func (c *Camera) Save(img image.Image, suffix string) (string, error) {
	if c.dir == "" {
		return "", errors.New("camera has no output directory")
	}
	path := filepath.Join(c.dir, c.nextName(suffix))
	if err := SavePNG(path, img); err != nil {
		return "", err
	}
	return path, nil
}

// SavePNG encodes img to path, creating parent directories as needed.
func SavePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create screenshot file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode screenshot: %w", err)
	}
	return f.Close()
}

func (c *Camera) nextName(suffix string) string {
	millis := c.clock.Now().UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.names[suffix]
	if !ok || last.millis != millis {
		c.names[suffix] = nameStamp{millis: millis}
		return fmt.Sprintf("%s_%d%s.png", c.prefix, millis, suffix)
	}
	last.seq++
	c.names[suffix] = last
	return fmt.Sprintf("%s_%d_%d%s.png", c.prefix, millis, last.seq, suffix)
}
