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

// PageCacheStore persists generated pages keyed by (user, normalized query)
type PageCacheStore struct {
	db *database.DB
}

// NewPageCacheStore creates a new page cache store
func NewPageCacheStore(db *database.DB) *PageCacheStore {
	return &PageCacheStore{db: db}
}

// Get returns the entry for key, or ErrNotFound
func (s *PageCacheStore) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	var (
		entry     models.CacheEntry
		payload   string
		tier      int
		createdAt int64
		accessed  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT cache_key, user_id, query, payload, tier, created_at, last_accessed_at, access_count
		FROM page_cache
		WHERE cache_key = ?
	`, key).Scan(&entry.Key, &entry.UserID, &entry.Query, &payload, &tier, &createdAt, &accessed, &entry.AccessCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	entry.Payload = json.RawMessage(payload)
	entry.Tier = models.Tier(tier)
	entry.CreatedAt = fromMillis(createdAt)
	entry.LastAccessedAt = fromMillis(accessed)
	return &entry, nil
}

// Upsert writes entry under its key. On conflict the payload, tier and
// timestamps are replaced and access_count is incremented.
func (s *PageCacheStore) Upsert(ctx context.Context, entry *models.CacheEntry, normalizedQuery string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache upsert: %w", err)
	}
	defer tx.Rollback()

	updated, err := s.updateExisting(ctx, tx, entry)
	if err != nil {
		return err
	}

	if !updated {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO page_cache (cache_key, user_id, query, normalized_query, payload, tier, created_at, last_accessed_at, access_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, entry.Key, entry.UserID, entry.Query, normalizedQuery, string(entry.Payload), int(entry.Tier),
			toMillis(entry.CreatedAt), toMillis(entry.LastAccessedAt), entry.AccessCount)
		if isUniqueViolation(err) {
			// Lost an insert race to another writer; last writer wins
			if _, err = s.updateExisting(ctx, tx, entry); err != nil {
				return err
			}
		} else if err != nil {
			return fmt.Errorf("failed to insert cache entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache upsert: %w", err)
	}
	return nil
}

func (s *PageCacheStore) updateExisting(ctx context.Context, tx *sql.Tx, entry *models.CacheEntry) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE page_cache
		SET query = ?, payload = ?, tier = ?, created_at = ?, last_accessed_at = ?, access_count = access_count + 1
		WHERE cache_key = ?
	`, entry.Query, string(entry.Payload), int(entry.Tier), toMillis(entry.CreatedAt), toMillis(entry.LastAccessedAt), entry.Key)
	if err != nil {
		return false, fmt.Errorf("failed to update cache entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read cache update result: %w", err)
	}
	return n > 0, nil
}

// Touch records one access to key
func (s *PageCacheStore) Touch(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE page_cache SET access_count = access_count + 1, last_accessed_at = ? WHERE cache_key = ?
	`, toMillis(at), key)
	if err != nil {
		return fmt.Errorf("failed to touch cache entry: %w", err)
	}
	return nil
}

// DeleteCreatedBefore removes every entry created before cutoff
func (s *PageCacheStore) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM page_cache WHERE created_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return res.RowsAffected()
}

// DeleteTierCreatedBefore removes entries of one tier created before cutoff
func (s *PageCacheStore) DeleteTierCreatedBefore(ctx context.Context, tier models.Tier, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM page_cache WHERE tier = ? AND created_at < ?
	`, int(tier), toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete tier %s cache entries: %w", tier, err)
	}
	return res.RowsAffected()
}

// CountByTier reports how many entries each tier holds
func (s *PageCacheStore) CountByTier(ctx context.Context) (map[models.Tier]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tier, COUNT(*) FROM page_cache GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("failed to count cache entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Tier]int64)
	for rows.Next() {
		var (
			tier  int
			count int64
		)
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, fmt.Errorf("failed to scan cache count: %w", err)
		}
		counts[models.Tier(tier)] = count
	}
	return counts, rows.Err()
}
