package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ambia/internal/database"
	"ambia/internal/models"
)

const maxLastErrorLength = 500

// GenerationQueueStore persists deferred generations
type GenerationQueueStore struct {
	db *database.DB
}

// NewGenerationQueueStore creates a new generation queue store
func NewGenerationQueueStore(db *database.DB) *GenerationQueueStore {
	return &GenerationQueueStore{db: db}
}

const queueColumns = `id, user_id, query, reason, priority, status, attempts, scheduled_for, valid_until,
	last_error, created_at, completed_at`

func scanJob(row rowScanner) (*models.GenerationJob, error) {
	var (
		job          models.GenerationJob
		scheduledFor int64
		validUntil   int64
		createdAt    int64
		completedAt  sql.NullInt64
	)
	if err := row.Scan(&job.ID, &job.UserID, &job.Query, &job.Reason, &job.Priority, &job.Status,
		&job.Attempts, &scheduledFor, &validUntil, &job.LastError, &createdAt, &completedAt); err != nil {
		return nil, err
	}
	job.ScheduledFor = fromMillis(scheduledFor)
	job.ValidUntil = fromMillis(validUntil)
	job.CreatedAt = fromMillis(createdAt)
	job.CompletedAt = fromNullMillis(completedAt)
	return &job, nil
}

// Enqueue stores a queued job
func (s *GenerationQueueStore) Enqueue(ctx context.Context, job *models.GenerationJob) error {
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generation_queue (id, user_id, query, normalized_query, reason, priority, status, attempts,
			scheduled_for, valid_until, last_error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`, job.ID, job.UserID, job.Query, models.NormalizeQuery(job.Query), job.Reason, job.Priority, job.Status,
		job.Attempts, toMillis(job.ScheduledFor), toMillis(job.ValidUntil), job.LastError, toMillis(job.CreatedAt))
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue generation: %w", err)
	}
	return nil
}

// HasPending reports whether the user already has a queued or processing job for the query
func (s *GenerationQueueStore) HasPending(ctx context.Context, userID, normalizedQuery string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM generation_queue
		WHERE user_id = ? AND normalized_query = ? AND status IN (?, ?)
	`, userID, normalizedQuery, models.JobStatusQueued, models.JobStatusProcessing).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check pending generation: %w", err)
	}
	return count > 0, nil
}

// ClaimDue marks up to limit due jobs of userID (every user when empty) as
// processing and returns them, highest priority first. Jobs whose validity
// lapsed before they ran are failed instead.
func (s *GenerationQueueStore) ClaimDue(ctx context.Context, userID string, now time.Time, limit int) ([]models.GenerationJob, error) {
	nowMs := toMillis(now)

	if _, err := s.db.ExecContext(ctx, `
		UPDATE generation_queue SET status = ?, last_error = ?, completed_at = ?
		WHERE status = ? AND valid_until <= ?
	`, models.JobStatusFailed, "expired before generation", nowMs, models.JobStatusQueued, nowMs); err != nil {
		return nil, fmt.Errorf("failed to expire stale generations: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM generation_queue
		WHERE status = ? AND scheduled_for <= ? AND (? = '' OR user_id = ?)
		ORDER BY priority DESC, scheduled_for ASC
		LIMIT ?
	`, models.JobStatusQueued, nowMs, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due generations: %w", err)
	}

	var due []models.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		due = append(due, *job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Claim by compare-and-set on status so concurrent drainers never share a job
	claimed := make([]models.GenerationJob, 0, len(due))
	for _, job := range due {
		res, err := s.db.ExecContext(ctx, `
			UPDATE generation_queue SET status = ?, attempts = attempts + 1
			WHERE id = ? AND status = ?
		`, models.JobStatusProcessing, job.ID, models.JobStatusQueued)
		if err != nil {
			return claimed, fmt.Errorf("failed to claim generation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		job.Status = models.JobStatusProcessing
		job.Attempts++
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// Complete marks job id as completed
func (s *GenerationQueueStore) Complete(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE generation_queue SET status = ?, last_error = '', completed_at = ? WHERE id = ?
	`, models.JobStatusCompleted, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("failed to complete generation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail records a failed attempt. The job returns to the queue until it has used
// MaxGenerationAttempts, then it is marked failed.
func (s *GenerationQueueStore) Fail(ctx context.Context, id string, cause error, at time.Time) error {
	msg := ""
	if cause != nil {
		msg = truncate(cause.Error(), maxLastErrorLength)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE generation_queue
		SET status = CASE WHEN attempts >= ? THEN ? ELSE ? END,
			completed_at = CASE WHEN attempts >= ? THEN ? ELSE NULL END,
			last_error = ?
		WHERE id = ?
	`, models.MaxGenerationAttempts, models.JobStatusFailed, models.JobStatusQueued,
		models.MaxGenerationAttempts, toMillis(at), msg, id)
	if err != nil {
		return fmt.Errorf("failed to record generation failure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns job id, or ErrNotFound
func (s *GenerationQueueStore) Get(ctx context.Context, id string) (*models.GenerationJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM generation_queue WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get generation: %w", err)
	}
	return job, nil
}

// PurgeFinished deletes completed and failed jobs finished before cutoff
func (s *GenerationQueueStore) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM generation_queue WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?
	`, models.JobStatusCompleted, models.JobStatusFailed, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to purge finished generations: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus reports queue depth per status
func (s *GenerationQueueStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM generation_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count generations: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan generation count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
