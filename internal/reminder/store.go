package reminder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/catatduit/reminder-dispatch/internal/db"
)

// Store is everything the pipeline reads from and writes to Postgres.
type Store interface {
	// ScheduledAt returns one row per device of every profile whose reminder
	// time equals timeLabel. Profiles without devices are absent.
	ScheduledAt(ctx context.Context, timeLabel string) ([]Device, error)
	// ActiveOn returns the subset of userIDs with a transaction inside the
	// literal local-date bounds [dayStart, dayEnd].
	ActiveOn(ctx context.Context, userIDs []string, dayStart, dayEnd string) ([]string, error)
	// InsertNotifications writes all records in one statement.
	InsertNotifications(ctx context.Context, records []Record) error
}

// PGStore implements Store with the prepared statements registered by db.New.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore returns a Store backed by pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// ScheduledAt implements Store.
func (s *PGStore) ScheduledAt(ctx context.Context, timeLabel string) ([]Device, error) {
	rows, err := s.pool.Query(ctx, db.StmtReminderAudience, timeLabel)
	if err != nil {
		return nil, fmt.Errorf("query reminder audience: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.UserID, &d.FullName, &d.Token); err != nil {
			return nil, fmt.Errorf("scan audience row: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// ActiveOn implements Store.
func (s *PGStore) ActiveOn(ctx context.Context, userIDs []string, dayStart, dayEnd string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, db.StmtReminderActiveUsers, userIDs, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()

	var active []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan active user: %w", err)
		}
		active = append(active, id)
	}
	return active, rows.Err()
}

// InsertNotifications implements Store.
func (s *PGStore) InsertNotifications(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	n := len(records)
	userIDs := make([]string, n)
	titles := make([]string, n)
	bodies := make([]string, n)
	types := make([]string, n)
	payloads := make([]string, n)
	for i, r := range records {
		data, err := json.Marshal(r.Data)
		if err != nil {
			return fmt.Errorf("marshal notification data: %w", err)
		}
		userIDs[i], titles[i], bodies[i], types[i], payloads[i] = r.UserID, r.Title, r.Body, r.Type, string(data)
	}

	tag, err := s.pool.Exec(ctx, db.StmtInsertNotifications, userIDs, titles, bodies, types, payloads)
	if err != nil {
		return fmt.Errorf("insert notifications: %w", err)
	}
	if int(tag.RowsAffected()) != n {
		return fmt.Errorf("insert notifications: wrote %d of %d rows", tag.RowsAffected(), n)
	}
	return nil
}
