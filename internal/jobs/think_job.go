package jobs

import (
	"context"
	"errors"
	"log"
	"time"

	"ambia/internal/services"
)

// ThinkJob runs a think-and-warm cycle for every recently active user
type ThinkJob struct {
	orchestrator *services.OrchestratorService
}

// NewThinkJob creates a new think job
func NewThinkJob(orchestrator *services.OrchestratorService) *ThinkJob {
	return &ThinkJob{orchestrator: orchestrator}
}

// Name returns the job name used by the scheduler and the API
func (j *ThinkJob) Name() string { return "think" }

// Run thinks for each active user. One user's failure does not stop the others.
func (j *ThinkJob) Run(ctx context.Context) error {
	users, err := j.orchestrator.ActiveUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return nil
	}

	startTime := time.Now()
	var warmed, deferred, failed int
	for _, userID := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		report, err := j.orchestrator.ThinkAndWarm(ctx, userID, nil)
		if errors.Is(err, services.ErrGeneratorUnavailable) {
			return err
		}
		if err != nil {
			log.Printf("❌ [THINK] Cycle failed for user %s: %v", userID, err)
			failed++
			continue
		}
		warmed += report.Warmed + report.Drained
		deferred += report.Deferred
		failed += report.Failed
	}

	log.Printf("🧠 [THINK] %d users: %d pages warmed, %d deferred, %d failures in %v",
		len(users), warmed, deferred, failed, time.Since(startTime))
	return nil
}
