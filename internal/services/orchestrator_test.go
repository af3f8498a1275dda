package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ambia/internal/health"
	"ambia/internal/models"
	"ambia/internal/store"
)

func TestThink_WaitsWithoutSuggestions(t *testing.T) {
	env := newTestEnv(t, at(13, 20), &countingGenerator{})

	decision, err := env.orch.Think(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Think failed: %v", err)
	}
	if decision.Action != models.ActionWait || decision.Reason == "" {
		t.Errorf("Expected wait with a reason, got %+v", decision)
	}
	if decision.Considered != 0 || len(decision.Pages) != 0 {
		t.Errorf("Expected nothing considered, got %+v", decision)
	}
	if len(env.decided) != 1 {
		t.Errorf("Expected decision to be audited, got %d records", len(env.decided))
	}
}

func TestThink_WaitsWhenNothingPassesTheGate(t *testing.T) {
	now := at(23, 10)
	env := newTestEnv(t, now, &countingGenerator{})
	for week := 1; week <= 3; week++ {
		seedActivity(t, env.store, "u1", "weather", 1, now.AddDate(0, 0, -7*week))
	}

	decision, err := env.orch.Think(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Think failed: %v", err)
	}
	if decision.Action != models.ActionWait {
		t.Fatalf("Expected wait, got %+v", decision)
	}
	if decision.Considered != 1 {
		t.Errorf("Expected 1 suggestion considered, got %d", decision.Considered)
	}
	if !strings.Contains(decision.Reason, "0.60") {
		t.Errorf("Expected threshold in reason, got %q", decision.Reason)
	}
}

func TestThink_GeneratesMorningBriefing(t *testing.T) {
	env := newTestEnv(t, monday0840, &countingGenerator{})

	decision, err := env.orch.Think(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Think failed: %v", err)
	}
	if decision.Action != models.ActionGenerate {
		t.Fatalf("Expected generate, got %+v", decision)
	}
	if len(decision.Pages) != 1 || decision.Pages[0].Query != "morning briefing" {
		t.Fatalf("Expected morning briefing page, got %+v", decision.Pages)
	}
	page := decision.Pages[0]
	if page.MinutesUntilGeneration != 0 || !page.ScheduleAt.Equal(monday0840) {
		t.Errorf("Expected immediate schedule, got %+v", page)
	}
	if decision.Context.Temporal.TimeBucket != models.BucketEarlyMorning {
		t.Errorf("Expected early_morning context, got %s", decision.Context.Temporal.TimeBucket)
	}
	if decision.ID == "" {
		t.Error("Expected decision id")
	}
}

func TestThink_RequiresUser(t *testing.T) {
	env := newTestEnv(t, monday0840, nil)
	if _, err := env.orch.Think(context.Background(), ""); err == nil {
		t.Error("Expected error for empty user")
	}
}

func TestSmartGenerate_FrequentQueryIsCachedAtTierOne(t *testing.T) {
	gen := &countingGenerator{}
	env := newTestEnv(t, monday0840, gen)
	ctx := context.Background()

	seedActivity(t, env.store, "u1", "weather", 10, monday0840.Add(-time.Hour))

	result, err := env.orch.SmartGenerate(ctx, "u1", "weather", nil)
	if err != nil {
		t.Fatalf("SmartGenerate failed: %v", err)
	}
	if result.FromCache || result.Tier != models.TierHot {
		t.Errorf("Expected fresh tier 1 result, got %+v", result)
	}

	entry, err := env.store.Cache.Get(ctx, models.CacheKey("u1", "weather"))
	if err != nil {
		t.Fatalf("Expected page to be cached: %v", err)
	}
	if entry.Tier != models.TierHot {
		t.Errorf("Expected cached tier 1, got %s", entry.Tier)
	}

	again, err := env.orch.SmartGenerate(ctx, "u1", "Weather", nil)
	if err != nil {
		t.Fatalf("SmartGenerate failed: %v", err)
	}
	if !again.FromCache || again.CachedAt == nil {
		t.Errorf("Expected cache hit, got %+v", again)
	}
	if gen.calls.Load() != 1 {
		t.Errorf("Expected 1 generator call, got %d", gen.calls.Load())
	}

	// Both calls were logged
	count, _ := env.store.Activity.CountMatching(ctx, "u1", "weather", monday0840.Add(-FrequencyWindow))
	if count != 12 {
		t.Errorf("Expected 12 logged queries, got %d", count)
	}
}

func TestSmartGenerate_TierCountsPriorAsksOnly(t *testing.T) {
	tests := []struct {
		name       string
		prior      int
		wantTier   models.Tier
		wantCached bool
	}{
		{"four prior asks", 4, models.TierOnDemand, false},
		{"five prior asks", 5, models.TierWarm, true},
		{"nine prior asks", 9, models.TierWarm, true},
		{"ten prior asks", 10, models.TierHot, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, monday0840, &countingGenerator{})
			ctx := context.Background()

			seedActivity(t, env.store, "u1", "weather", tt.prior, monday0840.Add(-time.Hour))

			result, err := env.orch.SmartGenerate(ctx, "u1", "weather", nil)
			if err != nil {
				t.Fatalf("SmartGenerate failed: %v", err)
			}
			if result.Tier != tt.wantTier {
				t.Errorf("Expected tier %s, got %s", tt.wantTier, result.Tier)
			}

			entry, err := env.store.Cache.Get(ctx, models.CacheKey("u1", "weather"))
			if !tt.wantCached {
				if !errors.Is(err, store.ErrNotFound) {
					t.Errorf("Expected no stored page, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected page to be cached: %v", err)
			}
			if entry.Tier != tt.wantTier {
				t.Errorf("Expected cached tier %s, got %s", tt.wantTier, entry.Tier)
			}
		})
	}
}

func TestSmartGenerate_RareQueryIsNotPersisted(t *testing.T) {
	gen := &countingGenerator{}
	env := newTestEnv(t, monday0840, gen)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := env.orch.SmartGenerate(ctx, "u1", "obscure question", nil)
		if err != nil {
			t.Fatalf("SmartGenerate failed: %v", err)
		}
		if result.FromCache || result.Tier != models.TierOnDemand {
			t.Errorf("Expected uncached tier 3 result, got %+v", result)
		}
	}

	if gen.calls.Load() != 2 {
		t.Errorf("Expected 2 generator calls, got %d", gen.calls.Load())
	}
	if _, err := env.store.Cache.Get(ctx, models.CacheKey("u1", "obscure question")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Tier 3 result must not be stored, got %v", err)
	}
}

func TestSmartGenerate_GeneratorErrorIsNotCached(t *testing.T) {
	gen := &countingGenerator{err: errors.New("upstream exploded")}
	env := newTestEnv(t, monday0840, gen)
	ctx := context.Background()

	seedActivity(t, env.store, "u1", "weather", 10, monday0840.Add(-time.Hour))

	_, err := env.orch.SmartGenerate(ctx, "u1", "weather", nil)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("Expected GenerationError, got %v", err)
	}
	if genErr.Query != "weather" {
		t.Errorf("Expected query in error, got %q", genErr.Query)
	}
	if _, err := env.store.Cache.Get(ctx, models.CacheKey("u1", "weather")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Failed generation must not be cached, got %v", err)
	}
}

func TestSmartGenerate_MalformedOutputServesFallback(t *testing.T) {
	gen := &countingGenerator{payload: json.RawMessage(`here is your page!`)}
	env := newTestEnv(t, monday0840, gen)
	ctx := context.Background()

	seedActivity(t, env.store, "u1", "weather", 10, monday0840.Add(-time.Hour))

	result, err := env.orch.SmartGenerate(ctx, "u1", "weather", nil)
	if err != nil {
		t.Fatalf("SmartGenerate failed: %v", err)
	}
	if !result.Fallback || result.Tier != models.TierOnDemand {
		t.Errorf("Expected tier 3 fallback, got %+v", result)
	}
	if !json.Valid(result.Payload) {
		t.Errorf("Fallback payload must be valid JSON: %s", result.Payload)
	}
	if _, err := env.store.Cache.Get(ctx, models.CacheKey("u1", "weather")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Fallback must not be cached, got %v", err)
	}
}

func TestSmartGenerate_RejectsEmptyQueryAndMissingGenerator(t *testing.T) {
	env := newTestEnv(t, monday0840, nil)
	ctx := context.Background()

	if _, err := env.orch.SmartGenerate(ctx, "u1", "   ", &countingGenerator{}); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("Expected ErrEmptyQuery, got %v", err)
	}
	if _, err := env.orch.SmartGenerate(ctx, "u1", "weather", nil); !errors.Is(err, ErrGeneratorUnavailable) {
		t.Errorf("Expected ErrGeneratorUnavailable, got %v", err)
	}
}

func TestSmartGenerate_ConcurrentMissesShareOneGeneration(t *testing.T) {
	release := make(chan struct{})
	var (
		mu    sync.Mutex
		calls int
	)
	gen := GeneratorFunc(func(ctx context.Context, userID, query string) (json.RawMessage, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return json.RawMessage(`{"components":[]}`), nil
	})

	env := newTestEnv(t, monday0840, gen)
	seedActivity(t, env.store, "u1", "weather", 10, monday0840.Add(-time.Hour))

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*models.SmartResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.orch.SmartGenerate(context.Background(), "u1", "weather", nil)
		}(i)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		started := calls
		mu.Unlock()
		if started > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Give the remaining callers time to join the in-flight generation
	time.Sleep(200 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("Caller %d failed: %v", i, errs[i])
		}
		if string(results[i].Payload) != `{"components":[]}` {
			t.Errorf("Caller %d got unexpected payload %s", i, results[i].Payload)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("Expected 1 generation, got %d", calls)
	}
}

func TestPregenerateValuablePages_IsolatesFailures(t *testing.T) {
	gen := GeneratorFunc(func(ctx context.Context, userID, query string) (json.RawMessage, error) {
		if query == "stock prices" {
			return nil, errors.New("quote feed down")
		}
		return json.RawMessage(`{"components":[]}`), nil
	})
	env := newTestEnv(t, monday0840, gen)
	ctx := context.Background()

	seedActivity(t, env.store, "u1", "weather", 10, monday0840.Add(-time.Hour))
	seedActivity(t, env.store, "u1", "stock prices", 6, monday0840.Add(-2*time.Hour))

	results, err := env.orch.PregenerateValuablePages(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("PregenerateValuablePages failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %+v", results)
	}

	byQuery := make(map[string]models.PregenerationResult)
	for _, r := range results {
		byQuery[r.Query] = r
	}
	if r := byQuery["weather"]; !r.Success || r.Tier != models.TierHot {
		t.Errorf("Expected weather to succeed at tier 1, got %+v", r)
	}
	if r := byQuery["stock prices"]; r.Success || !strings.Contains(r.Error, "quote feed down") {
		t.Errorf("Expected stock prices to fail, got %+v", r)
	}

	if _, err := env.store.Cache.Get(ctx, models.CacheKey("u1", "weather")); err != nil {
		t.Errorf("Expected weather to be cached: %v", err)
	}
}

func TestPregenerateValuablePages_SkipsGeneratorInCooldown(t *testing.T) {
	gen := &countingGenerator{}
	env := newTestEnv(t, monday0840, gen)

	seedActivity(t, env.store, "u1", "weather", 10, monday0840.Add(-time.Hour))
	env.health.SetCooldown(health.CollaboratorGenerator, time.Hour)

	results, err := env.orch.PregenerateValuablePages(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("PregenerateValuablePages failed: %v", err)
	}
	if len(results) != 1 || results[0].Success || results[0].Error != ErrGeneratorCoolingDown.Error() {
		t.Errorf("Expected cooldown failure, got %+v", results)
	}
	if gen.calls.Load() != 0 {
		t.Errorf("Generator must not be called during cooldown, got %d calls", gen.calls.Load())
	}
}

func TestThinkAndWarm_WarmsThenSkipsFreshPages(t *testing.T) {
	gen := &countingGenerator{}
	env := newTestEnv(t, monday0840, gen)
	ctx := context.Background()

	report, err := env.orch.ThinkAndWarm(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("ThinkAndWarm failed: %v", err)
	}
	if report.Warmed != 1 || report.Failed != 0 {
		t.Errorf("Expected 1 warmed page, got %+v", report)
	}

	// Proactive pages are kept even at tier 3
	entry, err := env.store.Cache.Get(ctx, models.CacheKey("u1", "morning briefing"))
	if err != nil {
		t.Fatalf("Expected morning briefing to be cached: %v", err)
	}
	if entry.Tier != models.TierOnDemand {
		t.Errorf("Expected tier 3, got %s", entry.Tier)
	}

	env.clock.Advance(5 * time.Minute)
	report, err = env.orch.ThinkAndWarm(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("ThinkAndWarm failed: %v", err)
	}
	if report.Fresh != 1 || report.Warmed != 0 {
		t.Errorf("Expected fresh page to be skipped, got %+v", report)
	}
	if gen.calls.Load() != 1 {
		t.Errorf("Expected 1 generator call, got %d", gen.calls.Load())
	}
}

func enqueueJob(t *testing.T, env *testEnv, id, query string, scheduledFor time.Time) {
	t.Helper()
	job := &models.GenerationJob{
		ID:           id,
		UserID:       "u1",
		Query:        query,
		Priority:     70,
		ScheduledFor: scheduledFor,
		ValidUntil:   scheduledFor.Add(time.Hour),
		CreatedAt:    scheduledFor.Add(-30 * time.Minute),
	}
	if err := env.store.Queue.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
}

func TestThinkAndWarm_DrainsDueQueue(t *testing.T) {
	now := at(13, 20)
	gen := &countingGenerator{}
	env := newTestEnv(t, now, gen)
	ctx := context.Background()

	enqueueJob(t, env, "due", "weather forecast", now.Add(-time.Minute))
	enqueueJob(t, env, "later", "news briefing", now.Add(20*time.Minute))

	report, err := env.orch.ThinkAndWarm(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("ThinkAndWarm failed: %v", err)
	}
	if report.Drained != 1 || report.Decision.Action != models.ActionWait {
		t.Errorf("Expected 1 drained job and a wait decision, got %+v", report)
	}

	job, err := env.store.Queue.Get(ctx, "due")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if job.Status != models.JobStatusCompleted {
		t.Errorf("Expected completed job, got %s", job.Status)
	}
	if later, _ := env.store.Queue.Get(ctx, "later"); later.Status != models.JobStatusQueued {
		t.Errorf("Job not yet due must stay queued, got %s", later.Status)
	}
	if _, found, _ := env.cache.Get(ctx, "u1", "weather forecast"); !found {
		t.Error("Expected drained page to be cached")
	}
}

func TestThinkAndWarm_FailedDrainReturnsJobToQueue(t *testing.T) {
	now := at(13, 20)
	env := newTestEnv(t, now, &countingGenerator{err: errors.New("timeout")})
	ctx := context.Background()

	enqueueJob(t, env, "due", "weather forecast", now.Add(-time.Minute))

	report, err := env.orch.ThinkAndWarm(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("ThinkAndWarm failed: %v", err)
	}
	if report.Failed != 1 {
		t.Errorf("Expected 1 failure, got %+v", report)
	}

	job, _ := env.store.Queue.Get(ctx, "due")
	if job.Status != models.JobStatusQueued || job.Attempts != 1 || !strings.Contains(job.LastError, "timeout") {
		t.Errorf("Expected job requeued after one attempt, got %+v", job)
	}
}

func TestEnqueueDeferred_SkipsPendingDuplicates(t *testing.T) {
	env := newTestEnv(t, monday0840, &countingGenerator{})
	ctx := context.Background()

	page := models.RankedSuggestion{
		Suggestion:             models.Suggestion{Query: "weather forecast", Reason: "pattern"},
		FinalScore:             0.75,
		ScheduleAt:             monday0840.Add(30 * time.Minute),
		MinutesUntilGeneration: 30,
	}

	if !env.orch.enqueueDeferred(ctx, "u1", page) {
		t.Fatal("Expected page to be enqueued")
	}
	if env.orch.enqueueDeferred(ctx, "u1", page) {
		t.Error("Pending page must not be enqueued twice")
	}

	counts, err := env.store.Queue.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts[models.JobStatusQueued] != 1 {
		t.Errorf("Expected 1 queued job, got %v", counts)
	}

	env.clock.Advance(31 * time.Minute)
	jobs, _ := env.store.Queue.ClaimDue(ctx, "u1", env.clock.Now(), 10)
	if len(jobs) != 1 || jobs[0].Priority != 75 {
		t.Errorf("Expected one job with priority 75, got %+v", jobs)
	}
}

func TestMaintain(t *testing.T) {
	env := newTestEnv(t, monday0840, &countingGenerator{})
	ctx := context.Background()

	env.clock.Set(monday0840.Add(-10 * 24 * time.Hour))
	if err := env.cache.Put(ctx, "u1", "old page", json.RawMessage(`{}`), models.TierHot); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	enqueueJob(t, env, "old", "old page", env.clock.Now())
	if err := env.store.Queue.Complete(ctx, "old", env.clock.Now()); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	env.clock.Set(monday0840)

	report, err := env.orch.Maintain(ctx)
	if err != nil {
		t.Fatalf("Maintain failed: %v", err)
	}
	if report.Eviction.Expired != 1 || report.PurgedJobs != 1 {
		t.Errorf("Expected 1 eviction and 1 purge, got %+v", report)
	}
}

func TestActiveUsers(t *testing.T) {
	env := newTestEnv(t, monday0840, nil)

	seedActivity(t, env.store, "recent", "weather", 1, monday0840.Add(-24*time.Hour))
	seedActivity(t, env.store, "dormant", "weather", 1, monday0840.Add(-8*24*time.Hour))

	users, err := env.orch.ActiveUsers(context.Background())
	if err != nil {
		t.Fatalf("ActiveUsers failed: %v", err)
	}
	if len(users) != 1 || users[0] != "recent" {
		t.Errorf("Expected only the recent user, got %v", users)
	}
}
