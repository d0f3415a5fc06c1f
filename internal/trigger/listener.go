package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// StartListener opens a dedicated connection and runs the gate for every
// notification on channel. The payload is ignored; the run resolves its own
// minute. It reconnects automatically on connection loss. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func StartListener(ctx context.Context, dbURL, channel string, g *Gate) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, channel, g)
		if ctx.Err() != nil {
			g.logger.Info("Reminder listener stopped (context cancelled)")
			return
		}

		g.logger.Error("Reminder listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = nextBackoff(backoff)
		case <-ctx.Done():
			return
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	return min(d*2, maxReconnect)
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL, channel string, g *Gate) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("LISTEN %s: %w", channel, err)
	}
	g.logger.Info("Reminder listener connected", "channel", channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		g.logger.Info("Reminder trigger received", "channel", n.Channel, "pid", n.PID)

		// Run asynchronously to keep draining the connection.
		go g.Fire(ctx, "listener")
	}
}
