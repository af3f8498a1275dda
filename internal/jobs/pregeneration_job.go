package jobs

import (
	"context"
	"errors"
	"log"

	"ambia/internal/services"
)

// PregenerationJob refreshes every active user's frequent pages before they age out
type PregenerationJob struct {
	orchestrator *services.OrchestratorService
}

// NewPregenerationJob creates a new pregeneration job
func NewPregenerationJob(orchestrator *services.OrchestratorService) *PregenerationJob {
	return &PregenerationJob{orchestrator: orchestrator}
}

func (j *PregenerationJob) Name() string { return "pregenerate" }

// Run pregenerates per user; a generator in cooldown ends the pass early
func (j *PregenerationJob) Run(ctx context.Context) error {
	users, err := j.orchestrator.ActiveUsers(ctx)
	if err != nil {
		return err
	}

	total, succeeded := 0, 0
	for _, userID := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		results, err := j.orchestrator.PregenerateValuablePages(ctx, userID, nil)
		if errors.Is(err, services.ErrGeneratorUnavailable) {
			return err
		}
		if err != nil {
			log.Printf("❌ [PREGEN] Failed for user %s: %v", userID, err)
			continue
		}

		cooling := false
		for _, r := range results {
			total++
			if r.Success {
				succeeded++
			} else if r.Error == services.ErrGeneratorCoolingDown.Error() {
				cooling = true
			}
		}
		if cooling {
			log.Printf("⏸️  [PREGEN] Generator cooling down, stopping after user %s", userID)
			break
		}
	}

	if total > 0 {
		log.Printf("🔥 [PREGEN] Pregenerated %d/%d pages across %d users", succeeded, total, len(users))
	}
	return nil
}
