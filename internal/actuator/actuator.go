// Package actuator provides the input backends: the native desktop through
// robotgo and a Chrome page through CDP. Each backend can also capture what it
// drives.
package actuator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/agent"
	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/screen"
)

const (
	BackendDesktop = "desktop"
	BackendBrowser = "browser"
)

// Backend is an actuator that can also capture its own surface.
type Backend interface {
	agent.Actuator
	screen.Capturer
	Close() error
}

var (
	_ Backend = (*Desktop)(nil)
	_ Backend = (*Browser)(nil)
)

// New builds the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.ActuatorConfig, logger *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case BackendDesktop, "":
		return NewDesktop(logger), nil
	case BackendBrowser:
		return NewBrowser(ctx, cfg.Browser, logger)
	default:
		return nil, fmt.Errorf("unknown actuator backend %q", cfg.Backend)
	}
}
