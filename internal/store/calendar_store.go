package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ambia/internal/database"
	"ambia/internal/models"
)

// CalendarStore reads upstream calendar facts. Ingestion writes them; Put exists
// for that collaborator and for operators seeding data.
type CalendarStore struct {
	db *database.DB
}

// NewCalendarStore creates a new calendar store
func NewCalendarStore(db *database.DB) *CalendarStore {
	return &CalendarStore{db: db}
}

// Put inserts or replaces one calendar event
func (s *CalendarStore) Put(ctx context.Context, ev *models.CalendarEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin calendar write: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE calendar_events SET user_id = ?, title = ?, location = ?, start_time = ?, end_time = ?
		WHERE id = ?
	`, ev.UserID, ev.Title, ev.Location, toMillis(ev.StartTime), nullMillis(ev.EndTime), ev.ID)
	if err != nil {
		return fmt.Errorf("failed to update calendar event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO calendar_events (id, user_id, title, location, start_time, end_time)
			VALUES (?, ?, ?, ?, ?, ?)
		`, ev.ID, ev.UserID, ev.Title, ev.Location, toMillis(ev.StartTime), nullMillis(ev.EndTime)); err != nil {
			return fmt.Errorf("failed to insert calendar event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit calendar write: %w", err)
	}
	return nil
}

// Upcoming returns the user's events starting within [from, to], earliest first
func (s *CalendarStore) Upcoming(ctx context.Context, userID string, from, to time.Time) ([]models.CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, location, start_time, end_time
		FROM calendar_events
		WHERE user_id = ? AND start_time >= ? AND start_time <= ?
		ORDER BY start_time ASC
	`, userID, toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar events: %w", err)
	}
	defer rows.Close()

	var events []models.CalendarEvent
	for rows.Next() {
		var (
			ev    models.CalendarEvent
			start int64
			end   sql.NullInt64
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Title, &ev.Location, &start, &end); err != nil {
			return nil, fmt.Errorf("failed to scan calendar event: %w", err)
		}
		ev.StartTime = fromMillis(start)
		ev.EndTime = fromNullMillis(end)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// UsersWithUpcoming returns every user with an event starting within [from, to]
func (s *CalendarStore) UsersWithUpcoming(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM calendar_events
		WHERE start_time >= ? AND start_time <= ?
		ORDER BY user_id
	`, toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan calendar user: %w", err)
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}
