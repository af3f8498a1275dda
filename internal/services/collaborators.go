package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ambia/internal/models"
)

var (
	// ErrEmptyQuery is returned when a query normalizes to nothing
	ErrEmptyQuery = errors.New("query is empty after normalization")
	// ErrGeneratorUnavailable is returned when no generator is configured
	ErrGeneratorUnavailable = errors.New("generator unavailable")
	// ErrGeneratorCoolingDown is returned by background work while the generator is in cooldown
	ErrGeneratorCoolingDown = errors.New("generator cooling down")
	// ErrQueueFull is returned when the enrichment queue cannot take more work
	ErrQueueFull = errors.New("enrichment queue is full")
)

// GenerationError wraps a failed generator call for one query
type GenerationError struct {
	Query string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for %q: %v", e.Query, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Generator is the opaque content producer: a query in, a structured page out
type Generator interface {
	Generate(ctx context.Context, userID, query string) (json.RawMessage, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, userID, query string) (json.RawMessage, error)

// Generate calls f
func (f GeneratorFunc) Generate(ctx context.Context, userID, query string) (json.RawMessage, error) {
	return f(ctx, userID, query)
}

// Enricher is the opaque layout producer for ambient records
type Enricher interface {
	Enrich(ctx context.Context, record *models.AmbientRecord) (json.RawMessage, error)
}

// EnricherFunc adapts a function to Enricher
type EnricherFunc func(ctx context.Context, record *models.AmbientRecord) (json.RawMessage, error)

// Enrich calls f
func (f EnricherFunc) Enrich(ctx context.Context, record *models.AmbientRecord) (json.RawMessage, error) {
	return f(ctx, record)
}

// ActivityLog is the activity history the analyzer and cache read
type ActivityLog interface {
	Append(ctx context.Context, rec *models.ActivityRecord) error
	Recent(ctx context.Context, userID string, since time.Time, limit int) ([]models.ActivityRecord, error)
	CountMatching(ctx context.Context, userID, normalizedQuery string, since time.Time) (int, error)
	TopQueries(ctx context.Context, userID string, since time.Time, minCount, limit int) ([]models.QueryFrequency, error)
	ActiveUsers(ctx context.Context, since time.Time) ([]string, error)
}

// CacheStore persists cache entries by key
type CacheStore interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	Upsert(ctx context.Context, entry *models.CacheEntry, normalizedQuery string) error
	Touch(ctx context.Context, key string, at time.Time) error
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteTierCreatedBefore(ctx context.Context, tier models.Tier, cutoff time.Time) (int64, error)
	CountByTier(ctx context.Context) (map[models.Tier]int64, error)
}

// AmbientStore persists insight records
type AmbientStore interface {
	Get(ctx context.Context, id string) (*models.AmbientRecord, error)
	FindByEvent(ctx context.Context, userID, calendarEventID string) (*models.AmbientRecord, error)
	Insert(ctx context.Context, rec *models.AmbientRecord) error
	UpdateFields(ctx context.Context, id string, fields models.AmbientFields, at time.Time) error
	SetEnrichment(ctx context.Context, id string, layout json.RawMessage, at time.Time) error
	ClearEnrichment(ctx context.Context, id string, at time.Time) error
	ListActive(ctx context.Context, userID string, now time.Time) ([]models.AmbientRecord, error)
}

// CalendarSource supplies upstream calendar facts
type CalendarSource interface {
	Upcoming(ctx context.Context, userID string, from, to time.Time) ([]models.CalendarEvent, error)
	UsersWithUpcoming(ctx context.Context, from, to time.Time) ([]string, error)
}

// GenerationQueue persists deferred generations
type GenerationQueue interface {
	Enqueue(ctx context.Context, job *models.GenerationJob) error
	HasPending(ctx context.Context, userID, normalizedQuery string) (bool, error)
	ClaimDue(ctx context.Context, userID string, now time.Time, limit int) ([]models.GenerationJob, error)
	Complete(ctx context.Context, id string, at time.Time) error
	Fail(ctx context.Context, id string, cause error, at time.Time) error
	PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error)
}

// DecisionRecorder receives every think decision for the audit trail
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, decision *models.Decision)
}
