// Package store persists run history: each task run, the steps it completed
// and the actions the model chose along the way.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/agent"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Journal drivers accepted by Open.
const (
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// ErrRunNotFound is returned when a run id has no journal entry.
var ErrRunNotFound = errors.New("run not found")

// Store is a run journal that can also be read back.
type Store interface {
	agent.Journal
	// ListRuns returns the most recently started runs first. A non-positive
	// limit returns every run.
	ListRuns(ctx context.Context, limit int) ([]schemas.Run, error)
	GetRun(ctx context.Context, id string) (*schemas.RunDetail, error)
	Close() error
}

// Open builds the journal selected by cfg.Driver.
func Open(ctx context.Context, cfg config.JournalConfig, db config.DatabaseConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case DriverBolt, "":
		return OpenBolt(cfg.Path, logger)
	case DriverPostgres:
		if db.URL == "" {
			return nil, errors.New("database.url is required for the postgres journal")
		}
		pool, err := connectPool(ctx, db.URL)
		if err != nil {
			return nil, err
		}
		s, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	case DriverNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown journal driver %q", cfg.Driver)
	}
}

// Nop discards everything. It backs journal.driver "none".
type Nop struct{}

var _ Store = Nop{}

func (Nop) BeginRun(context.Context, schemas.Run) error                                   { return nil }
func (Nop) AppendStep(context.Context, string, int, schemas.StepRecord) error             { return nil }
func (Nop) AppendAction(context.Context, string, int, int, schemas.ActionRecord) error    { return nil }
func (Nop) FinishRun(context.Context, string, schemas.RunStatus, string, time.Time) error { return nil }
func (Nop) ListRuns(context.Context, int) ([]schemas.Run, error)                          { return nil, nil }
func (Nop) Close() error                                                                  { return nil }

func (Nop) GetRun(_ context.Context, id string) (*schemas.RunDetail, error) {
	return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
}
