package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"ambia/internal/clock"
	"ambia/internal/health"
	"ambia/internal/models"
	"ambia/internal/store"

	"github.com/google/uuid"
)

const (
	// InsightHorizon is how far ahead calendar facts are scanned
	InsightHorizon = 7 * 24 * time.Hour

	highPriorityMinutes   = 60
	mediumPriorityMinutes = 24 * 60

	validAfterEnd         = 15 * time.Minute
	validWithoutEnd       = time.Hour
	defaultEnrichTimeout  = 90 * time.Second
	defaultEnrichWorkers  = 2
	defaultEnrichCapacity = 64
)

// InsightConfig sizes the enrichment queue
type InsightConfig struct {
	Workers       int
	QueueSize     int
	EnrichTimeout time.Duration
}

// InsightGeneratorService turns upcoming calendar facts into one ambient record
// per (user, event) and enriches each record once in the background
type InsightGeneratorService struct {
	ambient  AmbientStore
	calendar CalendarSource
	enricher Enricher
	health   *health.Tracker
	metrics  *Metrics
	clock    clock.Clock
	queue    *EnrichmentQueue

	enrichTimeout time.Duration
	userLocks     sync.Map // userID -> *sync.Mutex
}

// NewInsightGeneratorService creates the service and starts its enrichment
// workers. enricher may be nil, in which case records stay unenriched.
func NewInsightGeneratorService(ambient AmbientStore, calendar CalendarSource, enricher Enricher, tracker *health.Tracker, metrics *Metrics, clk clock.Clock, cfg InsightConfig) *InsightGeneratorService {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultEnrichWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultEnrichCapacity
	}
	if cfg.EnrichTimeout <= 0 {
		cfg.EnrichTimeout = defaultEnrichTimeout
	}

	s := &InsightGeneratorService{
		ambient:       ambient,
		calendar:      calendar,
		enricher:      enricher,
		health:        tracker,
		metrics:       metrics,
		clock:         clk,
		enrichTimeout: cfg.EnrichTimeout,
	}
	s.queue = NewEnrichmentQueue(cfg.Workers, cfg.QueueSize, s.enrich)
	return s
}

// Queue exposes the enrichment queue so callers can await or close it
func (s *InsightGeneratorService) Queue() *EnrichmentQueue {
	return s.queue
}

// Close drains and stops the enrichment workers
func (s *InsightGeneratorService) Close() {
	s.queue.Close()
}

// PriorityForMinutes maps time-to-start to a display priority
func PriorityForMinutes(minutesUntil int) models.AmbientPriority {
	switch {
	case minutesUntil <= highPriorityMinutes:
		return models.AmbientPriorityHigh
	case minutesUntil <= mediumPriorityMinutes:
		return models.AmbientPriorityMedium
	default:
		return models.AmbientPriorityLow
	}
}

// startsInText renders "Starts in N minutes/hours/days"
func startsInText(minutesUntil int) string {
	unit := func(n int, singular string) string {
		if n == 1 {
			return fmt.Sprintf("Starts in 1 %s", singular)
		}
		return fmt.Sprintf("Starts in %d %ss", n, singular)
	}

	switch {
	case minutesUntil < 60:
		return unit(minutesUntil, "minute")
	case minutesUntil < 24*60:
		return unit(minutesUntil/60, "hour")
	default:
		return unit(minutesUntil/(24*60), "day")
	}
}

// InsightFields derives the record fields for ev as seen at now
func InsightFields(ev models.CalendarEvent, now time.Time) models.AmbientFields {
	minutesUntil := int(ev.StartTime.Sub(now).Minutes())

	body := startsInText(minutesUntil)
	if ev.Location != "" {
		body += " at " + ev.Location
	}

	validUntil := ev.StartTime.Add(validWithoutEnd)
	if ev.EndTime != nil {
		validUntil = ev.EndTime.Add(validAfterEnd)
	}

	starts := ev.StartTime
	return models.AmbientFields{
		Priority:   PriorityForMinutes(minutesUntil),
		Title:      ev.Title,
		Body:       body,
		StartsAt:   &starts,
		ValidUntil: validUntil,
	}
}

// Scan converts the user's upcoming calendar facts into ambient records
func (s *InsightGeneratorService) Scan(ctx context.Context, userID string) (*models.ScanResult, error) {
	now := s.clock.Now()

	events, err := s.calendar.Upcoming(ctx, userID, now, now.Add(InsightHorizon))
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar: %w", err)
	}

	result := &models.ScanResult{UserID: userID, EventsSeen: len(events)}
	for _, ev := range events {
		until := ev.StartTime.Sub(now)
		if until < 0 || until > InsightHorizon {
			result.Skipped++
			continue
		}

		outcome, err := s.Upsert(ctx, userID, ev.ID, InsightFields(ev, now))
		if err != nil {
			log.Printf("❌ [INSIGHT] Failed to upsert event %s for user %s: %v", ev.ID, userID, err)
			result.Errors++
			continue
		}
		if outcome.Created {
			result.Created++
		} else {
			result.Updated++
		}
		if outcome.EnrichmentQueued {
			result.EnrichmentsQueued++
		}
	}

	if result.Created > 0 || result.Errors > 0 {
		log.Printf("📅 [INSIGHT] User %s: %d events, %d created, %d updated, %d skipped, %d errors",
			userID, result.EventsSeen, result.Created, result.Updated, result.Skipped, result.Errors)
	}
	return result, nil
}

// ScanAll scans every user with upcoming events. One user's failure does not
// stop the others.
func (s *InsightGeneratorService) ScanAll(ctx context.Context) ([]models.ScanResult, error) {
	now := s.clock.Now()
	users, err := s.calendar.UsersWithUpcoming(ctx, now, now.Add(InsightHorizon))
	if err != nil {
		return nil, fmt.Errorf("failed to list calendar users: %w", err)
	}

	results := make([]models.ScanResult, 0, len(users))
	for _, userID := range users {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res, err := s.Scan(ctx, userID)
		if err != nil {
			log.Printf("❌ [INSIGHT] Scan failed for user %s: %v", userID, err)
			results = append(results, models.ScanResult{UserID: userID, Errors: 1})
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}

func (s *InsightGeneratorService) lockUser(userID string) func() {
	value, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Upsert writes the record for (userID, calendarEventID). An existing record is
// updated in place and only enriched if it has no enrichment yet; a new record
// is always enriched. An empty calendarEventID always inserts.
func (s *InsightGeneratorService) Upsert(ctx context.Context, userID, calendarEventID string, fields models.AmbientFields) (*models.UpsertOutcome, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	now := s.clock.Now()

	if calendarEventID != "" {
		existing, err := s.ambient.FindByEvent(ctx, userID, calendarEventID)
		switch {
		case err == nil:
			return s.updateExisting(ctx, existing, fields, now)
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	rec := &models.AmbientRecord{
		ID:         uuid.New().String(),
		UserID:     userID,
		Priority:   fields.Priority,
		Title:      fields.Title,
		Body:       fields.Body,
		StartsAt:   fields.StartsAt,
		ValidUntil: fields.ValidUntil,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if calendarEventID != "" {
		eventID := calendarEventID
		rec.CalendarEventID = &eventID
	}

	err := s.ambient.Insert(ctx, rec)
	if errors.Is(err, store.ErrDuplicate) {
		// Another process inserted first; fall back to updating its row
		existing, ferr := s.ambient.FindByEvent(ctx, userID, calendarEventID)
		if ferr != nil {
			return nil, ferr
		}
		return s.updateExisting(ctx, existing, fields, now)
	}
	if err != nil {
		return nil, err
	}

	return &models.UpsertOutcome{
		Record:           rec,
		Created:          true,
		EnrichmentQueued: s.triggerEnrichment(rec.ID),
	}, nil
}

func (s *InsightGeneratorService) updateExisting(ctx context.Context, existing *models.AmbientRecord, fields models.AmbientFields, now time.Time) (*models.UpsertOutcome, error) {
	if err := s.ambient.UpdateFields(ctx, existing.ID, fields, now); err != nil {
		return nil, err
	}

	existing.Priority = fields.Priority
	existing.Title = fields.Title
	existing.Body = fields.Body
	existing.StartsAt = fields.StartsAt
	existing.ValidUntil = fields.ValidUntil
	existing.UpdatedAt = now

	outcome := &models.UpsertOutcome{Record: existing}
	if !existing.IsEnriched() {
		outcome.EnrichmentQueued = s.triggerEnrichment(existing.ID)
	}
	return outcome, nil
}

// triggerEnrichment queues recordID. A skipped trigger leaves the record
// unenriched, so the next scan tries again.
func (s *InsightGeneratorService) triggerEnrichment(recordID string) bool {
	if s.enricher == nil {
		return false
	}
	if !s.health.Available(health.CollaboratorEnricher) {
		s.metrics.RecordEnrichment("deferred")
		return false
	}

	queued, err := s.queue.Submit(recordID)
	if err != nil {
		log.Printf("⚠️ [ENRICH] Could not queue record %s: %v", recordID, err)
		s.metrics.RecordEnrichment("dropped")
		return false
	}
	return queued
}

// enrich runs in a queue worker. It re-reads the record so an enrichment that
// landed meanwhile is never repeated.
func (s *InsightGeneratorService) enrich(ctx context.Context, recordID string) {
	rec, err := s.ambient.Get(ctx, recordID)
	if err != nil {
		log.Printf("❌ [ENRICH] Failed to load record %s: %v", recordID, err)
		s.metrics.RecordEnrichment("error")
		return
	}
	if rec.IsEnriched() {
		s.metrics.RecordEnrichment("skipped")
		return
	}

	enrichCtx, cancel := context.WithTimeout(ctx, s.enrichTimeout)
	defer cancel()

	layout, err := s.enricher.Enrich(enrichCtx, rec)
	if err == nil && !json.Valid(layout) {
		err = fmt.Errorf("enricher returned invalid JSON")
	}
	if err != nil {
		log.Printf("❌ [ENRICH] Enrichment failed for record %s, will retry on next scan: %v", recordID, err)
		s.metrics.RecordEnrichment("failed")
		return
	}

	if err := s.ambient.SetEnrichment(ctx, recordID, layout, s.clock.Now()); err != nil {
		log.Printf("❌ [ENRICH] Failed to store enrichment for record %s: %v", recordID, err)
		s.metrics.RecordEnrichment("error")
		return
	}

	s.metrics.RecordEnrichment("success")
	log.Printf("✨ [ENRICH] Record %s enriched", recordID)
}

// ListActive returns the user's unexpired records, highest priority first
func (s *InsightGeneratorService) ListActive(ctx context.Context, userID string) ([]models.AmbientRecord, error) {
	records, err := s.ambient.ListActive(ctx, userID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Priority.Rank() > records[j].Priority.Rank()
	})
	return records, nil
}

// ClearEnrichment drops a record's enrichment so the next scan enriches it again
func (s *InsightGeneratorService) ClearEnrichment(ctx context.Context, recordID string) error {
	return s.ambient.ClearEnrichment(ctx, recordID, s.clock.Now())
}
