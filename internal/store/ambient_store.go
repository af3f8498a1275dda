package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ambia/internal/database"
	"ambia/internal/models"
)

// AmbientStore persists derived insight records
type AmbientStore struct {
	db *database.DB
}

// NewAmbientStore creates a new ambient record store
func NewAmbientStore(db *database.DB) *AmbientStore {
	return &AmbientStore{db: db}
}

const ambientColumns = `id, user_id, calendar_event_id, priority, title, body, starts_at, valid_until,
	enrichment, enriched_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAmbient(row rowScanner) (*models.AmbientRecord, error) {
	var (
		rec        models.AmbientRecord
		eventID    sql.NullString
		priority   string
		startsAt   sql.NullInt64
		validUntil int64
		enrichment sql.NullString
		enrichedAt sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &eventID, &priority, &rec.Title, &rec.Body, &startsAt,
		&validUntil, &enrichment, &enrichedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	rec.CalendarEventID = fromNullString(eventID)
	rec.Priority = models.AmbientPriority(priority)
	rec.StartsAt = fromNullMillis(startsAt)
	rec.ValidUntil = fromMillis(validUntil)
	if enrichment.Valid && enrichment.String != "" {
		rec.Enrichment = json.RawMessage(enrichment.String)
	}
	rec.EnrichedAt = fromNullMillis(enrichedAt)
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return &rec, nil
}

// Get returns the record with id, or ErrNotFound
func (s *AmbientStore) Get(ctx context.Context, id string) (*models.AmbientRecord, error) {
	rec, err := scanAmbient(s.db.QueryRowContext(ctx,
		`SELECT `+ambientColumns+` FROM ambient_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ambient record: %w", err)
	}
	return rec, nil
}

// FindByEvent returns the user's record derived from calendarEventID, or ErrNotFound
func (s *AmbientStore) FindByEvent(ctx context.Context, userID, calendarEventID string) (*models.AmbientRecord, error) {
	rec, err := scanAmbient(s.db.QueryRowContext(ctx,
		`SELECT `+ambientColumns+` FROM ambient_records WHERE user_id = ? AND calendar_event_id = ?`,
		userID, calendarEventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ambient record: %w", err)
	}
	return rec, nil
}

// Insert writes a new record. Returns ErrDuplicate when (user, event) already exists.
func (s *AmbientStore) Insert(ctx context.Context, rec *models.AmbientRecord) error {
	var enrichment sql.NullString
	if len(rec.Enrichment) > 0 {
		enrichment = sql.NullString{String: string(rec.Enrichment), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ambient_records (`+ambientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.UserID, nullString(rec.CalendarEventID), string(rec.Priority), rec.Title, rec.Body,
		nullMillis(rec.StartsAt), toMillis(rec.ValidUntil), enrichment, nullMillis(rec.EnrichedAt),
		toMillis(rec.CreatedAt), toMillis(rec.UpdatedAt))
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert ambient record: %w", err)
	}
	return nil
}

// UpdateFields rewrites the mutable fields of record id in place
func (s *AmbientStore) UpdateFields(ctx context.Context, id string, fields models.AmbientFields, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ambient_records
		SET priority = ?, title = ?, body = ?, starts_at = ?, valid_until = ?, updated_at = ?
		WHERE id = ?
	`, string(fields.Priority), fields.Title, fields.Body, nullMillis(fields.StartsAt),
		toMillis(fields.ValidUntil), toMillis(at), id)
	if err != nil {
		return fmt.Errorf("failed to update ambient record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEnrichment stores the enrichment layout for record id
func (s *AmbientStore) SetEnrichment(ctx context.Context, id string, layout json.RawMessage, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ambient_records SET enrichment = ?, enriched_at = ?, updated_at = ? WHERE id = ?
	`, string(layout), toMillis(at), toMillis(at), id)
	if err != nil {
		return fmt.Errorf("failed to store enrichment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearEnrichment nulls the enrichment of record id so the next scan re-enriches it
func (s *AmbientStore) ClearEnrichment(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ambient_records SET enrichment = NULL, enriched_at = NULL, updated_at = ? WHERE id = ?
	`, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("failed to clear enrichment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive returns the user's records still valid at now
func (s *AmbientStore) ListActive(ctx context.Context, userID string, now time.Time) ([]models.AmbientRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ambientColumns+`
		FROM ambient_records
		WHERE user_id = ? AND valid_until > ?
		ORDER BY valid_until ASC
	`, userID, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list ambient records: %w", err)
	}
	defer rows.Close()

	var records []models.AmbientRecord
	for rows.Next() {
		rec, err := scanAmbient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ambient record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// CountForEvent counts the user's records for one calendar event
func (s *AmbientStore) CountForEvent(ctx context.Context, userID, calendarEventID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ambient_records WHERE user_id = ? AND calendar_event_id = ?
	`, userID, calendarEventID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count ambient records: %w", err)
	}
	return count, nil
}
