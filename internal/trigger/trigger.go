// Package trigger drives reminder runs from inside the service: a minute
// ticker and a Postgres LISTEN consumer. Both share one Gate so in-process
// runs never overlap.
package trigger

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/catatduit/reminder-dispatch/internal/reminder"
)

// Runner executes one reminder run for the instant now.
type Runner interface {
	Run(ctx context.Context, now time.Time) reminder.Result
}

// Gate serializes runs. A fire that arrives while a run is in progress is
// dropped, not queued.
type Gate struct {
	runner Runner
	busy   atomic.Bool
	now    func() time.Time
	logger *slog.Logger
}

// NewGate wraps runner.
func NewGate(runner Runner, logger *slog.Logger) *Gate {
	return &Gate{runner: runner, now: time.Now, logger: logger}
}

// Fire runs once unless a run is already in progress. It reports whether the
// run happened.
func (g *Gate) Fire(ctx context.Context, source string) (reminder.Result, bool) {
	if !g.busy.CompareAndSwap(false, true) {
		g.logger.Warn("Reminder run still in progress, skipping", "source", source)
		return reminder.Result{}, false
	}
	defer g.busy.Store(false)

	return g.runner.Run(ctx, g.now()), true
}
