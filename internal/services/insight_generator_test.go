package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"ambia/internal/clock"
	"ambia/internal/health"
	"ambia/internal/models"
	"ambia/internal/store"
)

type insightEnv struct {
	store   *store.Store
	clock   *clock.Fixed
	health  *health.Tracker
	insight *InsightGeneratorService
}

func newInsightEnv(t *testing.T, enricher Enricher) *insightEnv {
	t.Helper()

	env := &insightEnv{
		store: newTestStore(t),
		clock: clock.NewFixed(monday0840),
	}
	env.health = health.NewTracker(env.clock, 3, 5*time.Minute)
	env.insight = NewInsightGeneratorService(env.store.Ambient, env.store.Calendar, enricher, env.health, nil, env.clock,
		InsightConfig{Workers: 2, QueueSize: 8, EnrichTimeout: 5 * time.Second})
	t.Cleanup(env.insight.Close)
	return env
}

func (e *insightEnv) addEvent(t *testing.T, userID, id string, startsIn time.Duration, location string) {
	t.Helper()
	ev := &models.CalendarEvent{
		ID:        id,
		UserID:    userID,
		Title:     "Design review",
		Location:  location,
		StartTime: monday0840.Add(startsIn),
	}
	if err := e.store.Calendar.Put(context.Background(), ev); err != nil {
		t.Fatalf("Failed to add calendar event: %v", err)
	}
}

func (e *insightEnv) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.insight.Queue().Wait(ctx); err != nil {
		t.Fatalf("Enrichment did not finish: %v", err)
	}
}

func TestPriorityForMinutes(t *testing.T) {
	tests := []struct {
		minutes int
		want    models.AmbientPriority
	}{
		{0, models.AmbientPriorityHigh},
		{60, models.AmbientPriorityHigh},
		{61, models.AmbientPriorityMedium},
		{1440, models.AmbientPriorityMedium},
		{1441, models.AmbientPriorityLow},
	}

	for _, tt := range tests {
		if got := PriorityForMinutes(tt.minutes); got != tt.want {
			t.Errorf("PriorityForMinutes(%d) = %s, want %s", tt.minutes, got, tt.want)
		}
	}
}

func TestInsightFields(t *testing.T) {
	end := monday0840.Add(90 * time.Minute)

	tests := []struct {
		name       string
		event      models.CalendarEvent
		body       string
		priority   models.AmbientPriority
		validUntil time.Time
	}{
		{
			name:       "soon with location and end",
			event:      models.CalendarEvent{Title: "Standup", Location: "Room 4", StartTime: monday0840.Add(30 * time.Minute), EndTime: &end},
			body:       "Starts in 30 minutes at Room 4",
			priority:   models.AmbientPriorityHigh,
			validUntil: end.Add(15 * time.Minute),
		},
		{
			name:       "one minute",
			event:      models.CalendarEvent{Title: "Call", StartTime: monday0840.Add(time.Minute)},
			body:       "Starts in 1 minute",
			priority:   models.AmbientPriorityHigh,
			validUntil: monday0840.Add(time.Minute + time.Hour),
		},
		{
			name:       "hours away",
			event:      models.CalendarEvent{Title: "Lunch", StartTime: monday0840.Add(3*time.Hour + 20*time.Minute)},
			body:       "Starts in 3 hours",
			priority:   models.AmbientPriorityMedium,
			validUntil: monday0840.Add(4*time.Hour + 20*time.Minute),
		},
		{
			name:       "days away",
			event:      models.CalendarEvent{Title: "Offsite", Location: "Lisbon", StartTime: monday0840.Add(50 * time.Hour)},
			body:       "Starts in 2 days at Lisbon",
			priority:   models.AmbientPriorityLow,
			validUntil: monday0840.Add(51 * time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := InsightFields(tt.event, monday0840)
			if fields.Body != tt.body {
				t.Errorf("Expected body %q, got %q", tt.body, fields.Body)
			}
			if fields.Priority != tt.priority {
				t.Errorf("Expected priority %s, got %s", tt.priority, fields.Priority)
			}
			if !fields.ValidUntil.Equal(tt.validUntil) {
				t.Errorf("Expected validUntil %v, got %v", tt.validUntil, fields.ValidUntil)
			}
			if fields.Title != tt.event.Title {
				t.Errorf("Expected title %q, got %q", tt.event.Title, fields.Title)
			}
		})
	}
}

func TestScan_TwoScansProduceOneRecordEnrichedOnce(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	enricher := EnricherFunc(func(ctx context.Context, rec *models.AmbientRecord) (json.RawMessage, error) {
		calls.Add(1)
		<-release
		return json.RawMessage(`{"layout":"card"}`), nil
	})

	env := newInsightEnv(t, enricher)
	ctx := context.Background()
	env.addEvent(t, "u1", "evt-1", 30*time.Minute, "Room 4")

	first, err := env.insight.Scan(ctx, "u1")
	if err != nil {
		t.Fatalf("First scan failed: %v", err)
	}
	if first.Created != 1 || first.EnrichmentsQueued != 1 {
		t.Errorf("Expected 1 created and queued, got %+v", first)
	}

	// The first enrichment is still running
	second, err := env.insight.Scan(ctx, "u1")
	if err != nil {
		t.Fatalf("Second scan failed: %v", err)
	}
	if second.Updated != 1 || second.Created != 0 || second.EnrichmentsQueued != 0 {
		t.Errorf("Expected 1 update without a new enrichment, got %+v", second)
	}

	close(release)
	env.wait(t)

	count, err := env.store.Ambient.CountForEvent(ctx, "u1", "evt-1")
	if err != nil {
		t.Fatalf("CountForEvent failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 record for the event, got %d", count)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected enrichment once, got %d calls", calls.Load())
	}

	rec, err := env.store.Ambient.FindByEvent(ctx, "u1", "evt-1")
	if err != nil {
		t.Fatalf("FindByEvent failed: %v", err)
	}
	if !rec.IsEnriched() || string(rec.Enrichment) != `{"layout":"card"}` {
		t.Errorf("Expected stored enrichment, got %s", rec.Enrichment)
	}
	if rec.Priority != models.AmbientPriorityHigh || rec.Body != "Starts in 30 minutes at Room 4" {
		t.Errorf("Unexpected record fields: %+v", rec)
	}

	// An enriched record is never enriched again
	third, _ := env.insight.Scan(ctx, "u1")
	env.wait(t)
	if third.EnrichmentsQueued != 0 || calls.Load() != 1 {
		t.Errorf("Expected no further enrichment, got %+v and %d calls", third, calls.Load())
	}
}

func TestScan_FailedEnrichmentRetriesOnNextScan(t *testing.T) {
	var calls atomic.Int32
	enricher := EnricherFunc(func(ctx context.Context, rec *models.AmbientRecord) (json.RawMessage, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("layout service down")
		}
		return json.RawMessage(`{"layout":"card"}`), nil
	})

	env := newInsightEnv(t, enricher)
	ctx := context.Background()
	env.addEvent(t, "u1", "evt-1", 2*time.Hour, "")

	if _, err := env.insight.Scan(ctx, "u1"); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	env.wait(t)

	rec, _ := env.store.Ambient.FindByEvent(ctx, "u1", "evt-1")
	if rec.IsEnriched() {
		t.Fatal("Failed enrichment must leave the record unenriched")
	}

	result, err := env.insight.Scan(ctx, "u1")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if result.EnrichmentsQueued != 1 {
		t.Errorf("Expected a retry to be queued, got %+v", result)
	}
	env.wait(t)

	rec, _ = env.store.Ambient.FindByEvent(ctx, "u1", "evt-1")
	if !rec.IsEnriched() {
		t.Error("Expected record to be enriched after retry")
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 enrichment calls, got %d", calls.Load())
	}
}

func TestScan_InvalidEnrichmentIsDiscarded(t *testing.T) {
	enricher := EnricherFunc(func(ctx context.Context, rec *models.AmbientRecord) (json.RawMessage, error) {
		return json.RawMessage(`{"layout":`), nil
	})

	env := newInsightEnv(t, enricher)
	ctx := context.Background()
	env.addEvent(t, "u1", "evt-1", time.Hour, "")

	if _, err := env.insight.Scan(ctx, "u1"); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	env.wait(t)

	rec, _ := env.store.Ambient.FindByEvent(ctx, "u1", "evt-1")
	if rec.IsEnriched() {
		t.Errorf("Invalid enrichment must not be stored, got %s", rec.Enrichment)
	}
}

func TestScan_EnricherCooldownDefersEnrichment(t *testing.T) {
	var calls atomic.Int32
	enricher := EnricherFunc(func(ctx context.Context, rec *models.AmbientRecord) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(`{}`), nil
	})

	env := newInsightEnv(t, enricher)
	ctx := context.Background()
	env.addEvent(t, "u1", "evt-1", time.Hour, "")
	env.health.SetCooldown(health.CollaboratorEnricher, 10*time.Minute)

	result, err := env.insight.Scan(ctx, "u1")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if result.Created != 1 || result.EnrichmentsQueued != 0 {
		t.Errorf("Expected record without enrichment, got %+v", result)
	}

	env.clock.Advance(11 * time.Minute)
	result, _ = env.insight.Scan(ctx, "u1")
	env.wait(t)
	if result.EnrichmentsQueued != 1 || calls.Load() != 1 {
		t.Errorf("Expected enrichment after cooldown, got %+v and %d calls", result, calls.Load())
	}
}

func TestScan_UpdatesChangedEventInPlace(t *testing.T) {
	env := newInsightEnv(t, nil)
	ctx := context.Background()
	env.addEvent(t, "u1", "evt-1", 3*time.Hour, "")

	if _, err := env.insight.Scan(ctx, "u1"); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	before, _ := env.store.Ambient.FindByEvent(ctx, "u1", "evt-1")
	if before.Priority != models.AmbientPriorityMedium {
		t.Errorf("Expected medium priority, got %s", before.Priority)
	}

	// Time passes; the same event is now close
	env.clock.Advance(2*time.Hour + 30*time.Minute)
	result, err := env.insight.Scan(ctx, "u1")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if result.Updated != 1 || result.Created != 0 {
		t.Errorf("Expected in-place update, got %+v", result)
	}

	after, _ := env.store.Ambient.FindByEvent(ctx, "u1", "evt-1")
	if after.ID != before.ID {
		t.Errorf("Expected same record id, got %s and %s", before.ID, after.ID)
	}
	if after.Priority != models.AmbientPriorityHigh || after.Body != "Starts in 30 minutes" {
		t.Errorf("Expected refreshed fields, got %+v", after)
	}
}

func TestScan_IgnoresEventsBeyondHorizon(t *testing.T) {
	env := newInsightEnv(t, nil)
	ctx := context.Background()
	env.addEvent(t, "u1", "near", time.Hour, "")
	env.addEvent(t, "u1", "far", 8*24*time.Hour, "")

	result, err := env.insight.Scan(ctx, "u1")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if result.Created != 1 {
		t.Errorf("Expected only the near event, got %+v", result)
	}
	if _, err := env.store.Ambient.FindByEvent(ctx, "u1", "far"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected no record for the far event, got %v", err)
	}
}

func TestScanAll(t *testing.T) {
	env := newInsightEnv(t, nil)
	env.addEvent(t, "u1", "a", time.Hour, "")
	env.addEvent(t, "u2", "b", 5*time.Hour, "")

	results, err := env.insight.ScanAll(context.Background())
	if err != nil {
		t.Fatalf("ScanAll failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 user results, got %+v", results)
	}
	for _, r := range results {
		if r.Created != 1 {
			t.Errorf("Expected 1 created for %s, got %+v", r.UserID, r)
		}
	}
}

func TestListActive_OrdersByPriority(t *testing.T) {
	env := newInsightEnv(t, nil)
	ctx := context.Background()

	upsert := func(title string, priority models.AmbientPriority, validFor time.Duration) {
		_, err := env.insight.Upsert(ctx, "u1", "", models.AmbientFields{
			Priority:   priority,
			Title:      title,
			ValidUntil: monday0840.Add(validFor),
		})
		if err != nil {
			t.Fatalf("Upsert %s failed: %v", title, err)
		}
	}
	upsert("low", models.AmbientPriorityLow, time.Hour)
	upsert("high", models.AmbientPriorityHigh, 3*time.Hour)
	upsert("medium", models.AmbientPriorityMedium, 2*time.Hour)
	upsert("expired", models.AmbientPriorityHigh, -time.Minute)

	records, err := env.insight.ListActive(ctx, "u1")
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	want := []string{"high", "medium", "low"}
	if len(records) != len(want) {
		t.Fatalf("Expected %d records, got %+v", len(want), records)
	}
	for i, title := range want {
		if records[i].Title != title {
			t.Errorf("Position %d: expected %s, got %s", i, title, records[i].Title)
		}
	}
}

func TestClearEnrichment_ReenrichesOnNextScan(t *testing.T) {
	var calls atomic.Int32
	enricher := EnricherFunc(func(ctx context.Context, rec *models.AmbientRecord) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(`{"layout":"card"}`), nil
	})

	env := newInsightEnv(t, enricher)
	ctx := context.Background()
	env.addEvent(t, "u1", "evt-1", time.Hour, "")

	env.insight.Scan(ctx, "u1")
	env.wait(t)

	rec, _ := env.store.Ambient.FindByEvent(ctx, "u1", "evt-1")
	if err := env.insight.ClearEnrichment(ctx, rec.ID); err != nil {
		t.Fatalf("ClearEnrichment failed: %v", err)
	}

	env.insight.Scan(ctx, "u1")
	env.wait(t)

	if calls.Load() != 2 {
		t.Errorf("Expected re-enrichment after clear, got %d calls", calls.Load())
	}
	if err := env.insight.ClearEnrichment(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
