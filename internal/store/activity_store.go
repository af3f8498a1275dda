package store

import (
	"context"
	"fmt"
	"time"

	"ambia/internal/database"
	"ambia/internal/models"
)

// ActivityStore reads and appends the activity log
type ActivityStore struct {
	db *database.DB
}

// NewActivityStore creates a new activity store
func NewActivityStore(db *database.DB) *ActivityStore {
	return &ActivityStore{db: db}
}

// Append writes one activity record. NormalizedQuery is derived when empty.
func (s *ActivityStore) Append(ctx context.Context, rec *models.ActivityRecord) error {
	if rec.NormalizedQuery == "" {
		rec.NormalizedQuery = models.NormalizeQuery(rec.QueryText)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (user_id, query_text, normalized_query, created_at)
		VALUES (?, ?, ?, ?)
	`, rec.UserID, rec.QueryText, rec.NormalizedQuery, toMillis(rec.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// Recent returns the user's records since the cutoff, newest first, at most limit
func (s *ActivityStore) Recent(ctx context.Context, userID string, since time.Time, limit int) ([]models.ActivityRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, query_text, normalized_query, created_at
		FROM activity_log
		WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, toMillis(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var records []models.ActivityRecord
	for rows.Next() {
		var (
			rec models.ActivityRecord
			ts  int64
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.QueryText, &rec.NormalizedQuery, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		rec.Timestamp = fromMillis(ts)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountMatching counts records since the cutoff whose normalized query contains
// normalizedQuery. Containment covers exact and prefix matches too.
func (s *ActivityStore) CountMatching(ctx context.Context, userID, normalizedQuery string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM activity_log
		WHERE user_id = ? AND created_at >= ? AND normalized_query LIKE ?
	`, userID, toMillis(since), "%"+normalizedQuery+"%").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count matching activity: %w", err)
	}
	return count, nil
}

// TopQueries groups the user's records since the cutoff by normalized query and
// returns those asked at least minCount times, most frequent first.
func (s *ActivityStore) TopQueries(ctx context.Context, userID string, since time.Time, minCount, limit int) ([]models.QueryFrequency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT normalized_query, COUNT(*) AS freq, MAX(created_at) AS last_seen
		FROM activity_log
		WHERE user_id = ? AND created_at >= ? AND normalized_query <> ''
		GROUP BY normalized_query
		HAVING COUNT(*) >= ?
		ORDER BY freq DESC, last_seen DESC
		LIMIT ?
	`, userID, toMillis(since), minCount, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top queries: %w", err)
	}

	type groupRow struct {
		normalized string
		count      int
		lastSeen   int64
	}
	var groups []groupRow
	for rows.Next() {
		var g groupRow
		if err := rows.Scan(&g.normalized, &g.count, &g.lastSeen); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan top query: %w", err)
		}
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The original spelling comes from the most recent record of each group
	result := make([]models.QueryFrequency, 0, len(groups))
	for _, g := range groups {
		var original string
		err := s.db.QueryRowContext(ctx, `
			SELECT query_text FROM activity_log
			WHERE user_id = ? AND normalized_query = ? AND created_at = ?
			LIMIT 1
		`, userID, g.normalized, g.lastSeen).Scan(&original)
		if err != nil {
			original = g.normalized
		}
		result = append(result, models.QueryFrequency{
			Query:           original,
			NormalizedQuery: g.normalized,
			Count:           g.count,
		})
	}
	return result, nil
}

// ActiveUsers returns every user with activity since the cutoff
func (s *ActivityStore) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM activity_log WHERE created_at >= ? ORDER BY user_id
	`, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query active users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}
