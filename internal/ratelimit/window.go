// Package ratelimit bounds how often typing actions may run.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/clock"
)

const (
	DefaultCapacity = 15
	DefaultInterval = 60 * time.Second
)

// Window is a rolling-window limiter: at most capacity acquisitions may
// complete within any interval. It keeps the timestamps of the most recent
// acquisitions in FIFO order.
type Window struct {
	mu       sync.Mutex
	capacity int
	interval time.Duration
	stamps   []time.Time
	clock    clock.Clock
	logger   *zap.Logger
}

// NewWindow creates a limiter. A non-positive capacity or interval falls back
// to the defaults.
func NewWindow(capacity int, interval time.Duration, clk clock.Clock, logger *zap.Logger) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Window{
		capacity: capacity,
		interval: interval,
		stamps:   make([]time.Time, 0, capacity),
		clock:    clk,
		logger:   logger.Named("rate_limiter"),
	}
}

// Acquire returns once another acquisition fits in the window. When the
// window is full the oldest stamp is evicted and, if it is younger than the
// interval, Acquire sleeps for the remainder. The stamp recorded is the time
// after any sleep.
func (w *Window) Acquire(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.stamps) < w.capacity {
		w.stamps = append(w.stamps, w.clock.Now())
		return nil
	}

	oldest := w.stamps[0]
	w.stamps = w.stamps[1:]

	if elapsed := w.clock.Now().Sub(oldest); elapsed < w.interval {
		wait := w.interval - elapsed
		w.logger.Info("Rate limit reached, waiting.",
			zap.Int("capacity", w.capacity),
			zap.Duration("wait", wait))
		if err := w.clock.Sleep(ctx, wait); err != nil {
			// The evicted stamp is restored so an interrupted wait leaves the window unchanged.
			w.stamps = append([]time.Time{oldest}, w.stamps...)
			return fmt.Errorf("rate limiter wait interrupted: %w", err)
		}
	}

	w.stamps = append(w.stamps, w.clock.Now())
	return nil
}

// Len reports how many stamps the window currently holds.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.stamps)
}
