// Package db provides a pgxpool-based connection pool with prepared statement
// registration and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/catatduit/reminder-dispatch/internal/config"
)

// Prepared statement names shared with the reminder store.
const (
	StmtHealthCheck         = "health_check"
	StmtReminderAudience    = "reminder_audience"
	StmtReminderActiveUsers = "reminder_active_users"
	StmtInsertNotifications = "reminder_insert_notifications"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, StmtHealthCheck).Scan(&n)
}

// Statements returns the SQL registered on every connection, keyed by name.
//
// reminder_active_users compares transaction_date against literal local
// date strings ("2025-12-16T00:00:00" .. "2025-12-16T23:59:59"). The bounds
// are passed as text and cast by Postgres in the session time zone.
func Statements() map[string]string {
	return map[string]string{
		StmtHealthCheck: "SELECT 1",

		StmtReminderAudience: `
			SELECT p.id::text, COALESCE(p.full_name, ''), d.fcm_token
			FROM ` + config.ProfilesTable + ` p
			JOIN ` + config.DevicesTable + ` d ON d.user_id = p.id
			WHERE p.daily_reminder_time = $1::time
			ORDER BY p.id, d.fcm_token`,

		StmtReminderActiveUsers: `
			SELECT DISTINCT t.user_id::text
			FROM ` + config.TransactionsTable + ` t
			WHERE t.user_id::text = ANY($1::text[])
			  AND t.transaction_date >= $2::text::timestamp
			  AND t.transaction_date <= $3::text::timestamp`,

		StmtInsertNotifications: `
			INSERT INTO ` + config.NotificationsTable + ` (user_id, title, body, type, data)
			SELECT r.u::uuid, r.t, r.b, r.ty, r.d::jsonb
			FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[]) AS r(u, t, b, ty, d)`,
	}
}

// registerPreparedStatements registers all statements the reminder pipeline
// uses. Prepared statements eliminate parse overhead on every run.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	for name, sql := range Statements() {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
