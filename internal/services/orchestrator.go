package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"ambia/internal/clock"
	"ambia/internal/health"
	"ambia/internal/logging"
	"ambia/internal/models"

	"github.com/google/uuid"
)

const (
	// ActiveUserWindow is how recent activity must be for background cycles to include a user
	ActiveUserWindow = 7 * 24 * time.Hour
	// FinishedJobRetention is how long completed and failed queue rows are kept
	FinishedJobRetention = 7 * 24 * time.Hour

	queueDrainLimit   = 10
	deferredValidity  = time.Hour
	defaultGenTimeout = 60 * time.Second
)

// Generation sources used as metric labels
const (
	sourceRequest     = "request"
	sourceProactive   = "proactive"
	sourcePregenerate = "pregenerate"
	sourceQueue       = "queue"
)

// OrchestratorDeps are the collaborators the orchestrator composes.
// Queue, Audit, Health, Throttle and Metrics may be nil.
type OrchestratorDeps struct {
	Analyzer         *ContextAnalyzerService
	Ranker           *PriorityRankerService
	Cache            *PageCacheService
	Activity         ActivityLog
	Queue            GenerationQueue
	Lease            *GenerationLease
	Generator        Generator
	Audit            DecisionRecorder
	Health           *health.Tracker
	Throttle         *Throttle
	Metrics          *Metrics
	Clock            clock.Clock
	GeneratorTimeout time.Duration
}

// OrchestratorService composes the analyzer, ranker and cache into the proactive
// decision, the cache-aware generation path and the maintenance pass
type OrchestratorService struct {
	analyzer   *ContextAnalyzerService
	ranker     *PriorityRankerService
	cache      *PageCacheService
	activity   ActivityLog
	queue      GenerationQueue
	lease      *GenerationLease
	generator  Generator
	audit      DecisionRecorder
	health     *health.Tracker
	throttle   *Throttle
	metrics    *Metrics
	clock      clock.Clock
	genTimeout time.Duration
}

// NewOrchestratorService creates a new orchestrator
func NewOrchestratorService(deps OrchestratorDeps) *OrchestratorService {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	lease := deps.Lease
	if lease == nil {
		lease = NewGenerationLease(nil)
	}
	timeout := deps.GeneratorTimeout
	if timeout <= 0 {
		timeout = defaultGenTimeout
	}

	return &OrchestratorService{
		analyzer:   deps.Analyzer,
		ranker:     deps.Ranker,
		cache:      deps.Cache,
		activity:   deps.Activity,
		queue:      deps.Queue,
		lease:      lease,
		generator:  deps.Generator,
		audit:      deps.Audit,
		health:     deps.Health,
		throttle:   deps.Throttle,
		metrics:    deps.Metrics,
		clock:      clk,
		genTimeout: timeout,
	}
}

// Think decides whether anything is worth preparing for userID right now
func (o *OrchestratorService) Think(ctx context.Context, userID string) (*models.Decision, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	snapshot, suggestions := o.analyzer.Analyze(ctx, userID)
	now := o.clock.Now()

	decision := &models.Decision{
		ID:         NewDecisionID(now),
		UserID:     userID,
		Action:     models.ActionWait,
		Considered: len(suggestions),
		Context:    snapshot,
		DecidedAt:  now,
	}

	switch filtered := o.ranker.Filter(o.ranker.Rank(suggestions, snapshot)); {
	case len(suggestions) == 0:
		decision.Reason = "no suggestions for the current context"
	case len(filtered) == 0:
		decision.Reason = fmt.Sprintf("no suggestion scored at least %.2f", o.ranker.Threshold())
	default:
		decision.Action = models.ActionGenerate
		decision.Pages = o.ranker.Schedule(filtered)
		decision.Reason = fmt.Sprintf("%d of %d suggestions worth preparing", len(filtered), len(suggestions))
	}

	o.metrics.RecordDecision(decision.Action)
	logging.WithUser(userID).Info("think decision",
		"decision_id", decision.ID,
		"action", decision.Action,
		"considered", decision.Considered,
		"pages", len(decision.Pages),
		"time_bucket", snapshot.Temporal.TimeBucket,
		"engagement", snapshot.Behavioral.EngagementScore,
	)

	if o.audit != nil {
		o.audit.RecordDecision(ctx, decision)
	}
	return decision, nil
}

// RecordActivity appends one user query to the activity log
func (o *OrchestratorService) RecordActivity(ctx context.Context, userID, query string) error {
	if models.NormalizeQuery(query) == "" {
		return ErrEmptyQuery
	}
	return o.activity.Append(ctx, &models.ActivityRecord{
		UserID:    userID,
		QueryText: query,
		Timestamp: o.clock.Now(),
	})
}

// SmartGenerate serves (userID, query) from the cache, or generates it. A fresh
// result is cached at its frequency tier when that tier caches. The tier counts
// only prior asks, so it is fixed before this query is logged. Generator
// failures propagate as *GenerationError and are never cached.
func (o *OrchestratorService) SmartGenerate(ctx context.Context, userID, query string, gen Generator) (*models.SmartResult, error) {
	start := time.Now()

	normalized := models.NormalizeQuery(query)
	if normalized == "" {
		return nil, ErrEmptyQuery
	}
	if gen == nil {
		gen = o.generator
	}
	if gen == nil {
		return nil, ErrGeneratorUnavailable
	}

	class := o.classify(ctx, userID, query)

	// Every user query is logged, best-effort
	if err := o.RecordActivity(ctx, userID, query); err != nil {
		log.Printf("⚠️ [ORCHESTRATOR] Failed to record activity for user %s: %v", userID, err)
	}

	hit, found, err := o.cache.Get(ctx, userID, query)
	if err != nil {
		log.Printf("⚠️ [ORCHESTRATOR] Cache read failed for user %s, generating: %v", userID, err)
	}
	if found {
		cachedAt := hit.CachedAt
		return &models.SmartResult{
			Payload:   hit.Payload,
			FromCache: true,
			Tier:      hit.Tier,
			CachedAt:  &cachedAt,
			Latency:   time.Since(start),
		}, nil
	}

	peek := func(ctx context.Context) (json.RawMessage, bool) {
		if hit, found, _ := o.cache.Get(ctx, userID, query); found {
			return hit.Payload, true
		}
		return nil, false
	}

	res, err := o.lease.Do(ctx, models.CacheKey(userID, normalized), peek, func(ctx context.Context) (LeaseResult, error) {
		payload, fallback, err := o.callGenerator(ctx, gen, userID, query, sourceRequest)
		if err != nil {
			return LeaseResult{}, err
		}
		if fallback {
			log.Printf("⚠️ [ORCHESTRATOR] Malformed generator output for %q, serving fallback", query)
			return LeaseResult{Payload: payload, Tier: models.TierOnDemand, Fallback: true}, nil
		}

		if class.ShouldCache {
			if err := o.cache.Put(ctx, userID, query, payload, class.Tier); err != nil {
				log.Printf("⚠️ [ORCHESTRATOR] Failed to cache %q for user %s: %v", query, userID, err)
			}
		}
		return LeaseResult{Payload: payload, Tier: class.Tier}, nil
	})
	if err != nil {
		return nil, err
	}

	tier := res.Tier
	if res.FromPeer {
		tier = class.Tier
	}
	return &models.SmartResult{
		Payload:   res.Payload,
		FromCache: res.FromPeer,
		Tier:      tier,
		Latency:   time.Since(start),
		Fallback:  res.Fallback,
	}, nil
}

// classify tiers a query, treating a failed count as tier 3
func (o *OrchestratorService) classify(ctx context.Context, userID, query string) models.TierClassification {
	class, err := o.cache.Classify(ctx, userID, query)
	if err != nil {
		log.Printf("⚠️ [ORCHESTRATOR] Failed to classify %q for user %s: %v", query, userID, err)
		return TierForFrequency(0)
	}
	return class
}

// callGenerator invokes gen under the generator timeout and validates its output
func (o *OrchestratorService) callGenerator(ctx context.Context, gen Generator, userID, query, source string) (json.RawMessage, bool, error) {
	genCtx, cancel := context.WithTimeout(ctx, o.genTimeout)
	defer cancel()

	start := time.Now()
	raw, err := gen.Generate(genCtx, userID, query)
	o.metrics.RecordGeneration(source, time.Since(start), err)
	if err != nil {
		return nil, false, &GenerationError{Query: query, Err: err}
	}

	payload, fallback := NormalizePayload(query, raw)
	return payload, fallback, nil
}

// PregenerateValuablePages regenerates every refresh candidate of userID and
// stores it at the candidate's tier. One failing item never aborts the batch.
func (o *OrchestratorService) PregenerateValuablePages(ctx context.Context, userID string, gen Generator) ([]models.PregenerationResult, error) {
	if gen == nil {
		gen = o.generator
	}
	if gen == nil {
		return nil, ErrGeneratorUnavailable
	}

	candidates, err := o.cache.CandidatesForRefresh(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find refresh candidates: %w", err)
	}

	results := make([]models.PregenerationResult, 0, len(candidates))
	for _, c := range candidates {
		result := models.PregenerationResult{Query: c.Query}
		if err := o.warm(ctx, gen, userID, c.Query, c.Tier, sourcePregenerate); err != nil {
			result.Error = err.Error()
		} else {
			result.Success = true
			result.Tier = c.Tier
		}
		results = append(results, result)
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	if len(results) > 0 {
		log.Printf("🔥 [PREGEN] User %s: %d/%d pages pregenerated", userID, succeeded, len(results))
	}
	return results, nil
}

// warm generates query in the background path and stores it at tier
func (o *OrchestratorService) warm(ctx context.Context, gen Generator, userID, query string, tier models.Tier, source string) error {
	if !o.health.Available(health.CollaboratorGenerator) {
		return ErrGeneratorCoolingDown
	}
	if err := o.throttle.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait aborted: %w", err)
	}

	payload, fallback, err := o.callGenerator(ctx, gen, userID, query, source)
	if err != nil {
		return err
	}
	if fallback {
		return fmt.Errorf("generator returned malformed output for %q", query)
	}
	return o.cache.Put(ctx, userID, query, payload, tier)
}

// ThinkAndWarm is one think cycle for userID: drain the user's due queue rows,
// decide, then generate pages due now and enqueue the deferred ones.
func (o *OrchestratorService) ThinkAndWarm(ctx context.Context, userID string, gen Generator) (*models.WarmReport, error) {
	if gen == nil {
		gen = o.generator
	}
	if gen == nil {
		return nil, ErrGeneratorUnavailable
	}

	report := &models.WarmReport{}
	report.Drained, report.Failed = o.drainQueue(ctx, userID, gen)

	decision, err := o.Think(ctx, userID)
	if err != nil {
		return nil, err
	}
	report.Decision = *decision
	if decision.Action == models.ActionWait {
		return report, nil
	}

	for _, page := range decision.Pages {
		fresh, err := o.cache.IsFresh(ctx, userID, page.Query)
		if err != nil {
			log.Printf("⚠️ [ORCHESTRATOR] Freshness check failed for %q: %v", page.Query, err)
		}
		if fresh {
			report.Fresh++
			continue
		}

		if page.MinutesUntilGeneration > 0 {
			if o.enqueueDeferred(ctx, userID, page) {
				report.Deferred++
			}
			continue
		}

		// Proactive pages are persisted at their classified tier, tier 3 included
		tier := o.classify(ctx, userID, page.Query).Tier
		if err := o.warm(ctx, gen, userID, page.Query, tier, sourceProactive); err != nil {
			log.Printf("❌ [ORCHESTRATOR] Failed to warm %q for user %s: %v", page.Query, userID, err)
			report.Failed++
			continue
		}
		report.Warmed++
	}

	log.Printf("🧠 [ORCHESTRATOR] User %s: warmed=%d fresh=%d deferred=%d drained=%d failed=%d",
		userID, report.Warmed, report.Fresh, report.Deferred, report.Drained, report.Failed)
	return report, nil
}

// enqueueDeferred enqueues a page for later generation unless one is already pending
func (o *OrchestratorService) enqueueDeferred(ctx context.Context, userID string, page models.RankedSuggestion) bool {
	if o.queue == nil {
		return false
	}

	pending, err := o.queue.HasPending(ctx, userID, models.NormalizeQuery(page.Query))
	if err != nil {
		log.Printf("⚠️ [ORCHESTRATOR] Pending check failed for %q: %v", page.Query, err)
		return false
	}
	if pending {
		return false
	}

	now := o.clock.Now()
	job := &models.GenerationJob{
		ID:           uuid.New().String(),
		UserID:       userID,
		Query:        page.Query,
		Reason:       page.Reason,
		Priority:     int(page.FinalScore * 100),
		Status:       models.JobStatusQueued,
		ScheduledFor: page.ScheduleAt,
		ValidUntil:   page.ScheduleAt.Add(deferredValidity),
		CreatedAt:    now,
	}
	if err := o.queue.Enqueue(ctx, job); err != nil {
		log.Printf("⚠️ [ORCHESTRATOR] Failed to enqueue %q for user %s: %v", page.Query, userID, err)
		return false
	}
	log.Printf("📥 [ORCHESTRATOR] Deferred %q for user %s until %s", page.Query, userID, job.ScheduledFor.Format(time.RFC3339))
	return true
}

// drainQueue generates the user's due deferred pages. Nothing is claimed while
// the generator cools down, so attempts are not burned.
func (o *OrchestratorService) drainQueue(ctx context.Context, userID string, gen Generator) (drained, failed int) {
	if o.queue == nil || !o.health.Available(health.CollaboratorGenerator) {
		return 0, 0
	}

	jobs, err := o.queue.ClaimDue(ctx, userID, o.clock.Now(), queueDrainLimit)
	if err != nil {
		log.Printf("⚠️ [ORCHESTRATOR] Failed to claim queued generations: %v", err)
	}

	for _, job := range jobs {
		tier := o.classify(ctx, job.UserID, job.Query).Tier
		if err := o.warm(ctx, gen, job.UserID, job.Query, tier, sourceQueue); err != nil {
			failed++
			if ferr := o.queue.Fail(ctx, job.ID, err, o.clock.Now()); ferr != nil {
				log.Printf("⚠️ [ORCHESTRATOR] Failed to record queue failure for %s: %v", job.ID, ferr)
			}
			continue
		}
		drained++
		if err := o.queue.Complete(ctx, job.ID, o.clock.Now()); err != nil {
			log.Printf("⚠️ [ORCHESTRATOR] Failed to complete queue job %s: %v", job.ID, err)
		}
	}
	return drained, failed
}

// Maintain evicts stale pages and purges finished queue rows
func (o *OrchestratorService) Maintain(ctx context.Context) (*models.MaintenanceReport, error) {
	eviction, err := o.cache.EvictStale(ctx)
	if err != nil {
		return nil, err
	}
	report := &models.MaintenanceReport{Eviction: eviction}

	if o.queue != nil {
		purged, err := o.queue.PurgeFinished(ctx, o.clock.Now().Add(-FinishedJobRetention))
		if err != nil {
			return report, fmt.Errorf("failed to purge generation queue: %w", err)
		}
		report.PurgedJobs = purged
	}

	log.Printf("🧹 [MAINTAIN] Evicted %d pages, purged %d finished jobs", eviction.Total(), report.PurgedJobs)
	return report, nil
}

// ActiveUsers returns users with activity inside ActiveUserWindow
func (o *OrchestratorService) ActiveUsers(ctx context.Context) ([]string, error) {
	users, err := o.activity.ActiveUsers(ctx, o.clock.Now().Add(-ActiveUserWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	return users, nil
}
