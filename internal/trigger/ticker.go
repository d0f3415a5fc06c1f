package trigger

import (
	"context"
	"time"
)

// untilNextMinute returns the wait from now to the next XX:XX:00 boundary.
func untilNextMinute(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}

// StartTicker fires the gate at the top of every minute. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func StartTicker(ctx context.Context, g *Gate) {
	g.logger.Info("Reminder ticker started")

	timer := time.NewTimer(untilNextMinute(g.now()))
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			// Run in the background so a slow run does not shift the next
			// boundary; the gate drops ticks that land mid-run.
			go g.Fire(ctx, "ticker")
			timer.Reset(untilNextMinute(g.now()))
		case <-ctx.Done():
			g.logger.Info("Reminder ticker stopped")
			return
		}
	}
}
