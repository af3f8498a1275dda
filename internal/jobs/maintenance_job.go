package jobs

import (
	"context"

	"ambia/internal/services"
)

// MaintenanceJob evicts stale pages and purges finished queue rows
type MaintenanceJob struct {
	orchestrator *services.OrchestratorService
}

// NewMaintenanceJob creates a new maintenance job
func NewMaintenanceJob(orchestrator *services.OrchestratorService) *MaintenanceJob {
	return &MaintenanceJob{orchestrator: orchestrator}
}

func (j *MaintenanceJob) Name() string { return "maintain" }

func (j *MaintenanceJob) Run(ctx context.Context) error {
	_, err := j.orchestrator.Maintain(ctx)
	return err
}
