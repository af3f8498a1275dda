package jobs

import (
	"fmt"

	"ambia/internal/config"
	"ambia/internal/services"
)

// RegisterEngineJobs registers the four engine cycles on their configured schedules
func RegisterEngineJobs(s *JobScheduler, cfg *config.Config, orchestrator *services.OrchestratorService, insights *services.InsightGeneratorService) error {
	maintain, err := ParseSchedule(cfg.MaintenanceSchedule)
	if err != nil {
		return fmt.Errorf("invalid maintenance schedule: %w", err)
	}

	entries := []struct {
		job      Job
		schedule Schedule
	}{
		{NewThinkJob(orchestrator), Schedule{Every: cfg.ThinkInterval}},
		{NewPregenerationJob(orchestrator), Schedule{Every: cfg.PregenerateInterval}},
		{NewMaintenanceJob(orchestrator), maintain},
		{NewInsightScanJob(insights), Schedule{Every: cfg.InsightScanInterval}},
	}
	for _, e := range entries {
		if err := s.Register(e.job, e.schedule); err != nil {
			return err
		}
	}
	return nil
}
