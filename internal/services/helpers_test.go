package services

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"ambia/internal/clock"
	"ambia/internal/database"
	"ambia/internal/health"
	"ambia/internal/models"
	"ambia/internal/store"
)

// monday0840 falls inside the workday_start window
var monday0840 = time.Date(2025, 3, 10, 8, 40, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "services_test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	return store.New(db)
}

func seedActivity(t *testing.T, s *store.Store, userID, query string, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		rec := &models.ActivityRecord{
			UserID:    userID,
			QueryText: query,
			Timestamp: at.Add(-time.Duration(i) * time.Minute),
		}
		if err := s.Activity.Append(context.Background(), rec); err != nil {
			t.Fatalf("Failed to seed activity: %v", err)
		}
	}
}

// countingGenerator returns a fixed page and counts calls
type countingGenerator struct {
	calls   atomic.Int32
	payload json.RawMessage
	err     error
}

func (g *countingGenerator) Generate(ctx context.Context, userID, query string) (json.RawMessage, error) {
	g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	if g.payload != nil {
		return g.payload, nil
	}
	return json.RawMessage(`{"components":[{"type":"text","title":"` + query + `"}]}`), nil
}

type testEnv struct {
	store   *store.Store
	clock   *clock.Fixed
	cache   *PageCacheService
	health  *health.Tracker
	orch    *OrchestratorService
	decided []*models.Decision
}

func (e *testEnv) RecordDecision(ctx context.Context, d *models.Decision) {
	e.decided = append(e.decided, d)
}

func newTestEnv(t *testing.T, now time.Time, gen Generator) *testEnv {
	t.Helper()

	env := &testEnv{
		store: newTestStore(t),
		clock: clock.NewFixed(now),
	}
	env.health = health.NewTracker(env.clock, 3, 5*time.Minute)
	env.cache = NewPageCacheService(env.store.Cache, env.store.Activity, env.clock, nil)
	env.orch = NewOrchestratorService(OrchestratorDeps{
		Analyzer:  NewContextAnalyzerService(env.store.Activity, env.clock),
		Ranker:    NewPriorityRankerService(env.clock, DefaultRankThreshold),
		Cache:     env.cache,
		Activity:  env.store.Activity,
		Queue:     env.store.Queue,
		Generator: gen,
		Audit:     env,
		Health:    env.health,
		Clock:     env.clock,
	})
	return env
}
