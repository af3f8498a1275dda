package jobs

import (
	"context"
	"log"

	"ambia/internal/services"
)

// InsightScanJob turns upcoming calendar facts into ambient records for every user
type InsightScanJob struct {
	insights *services.InsightGeneratorService
}

// NewInsightScanJob creates a new insight scan job
func NewInsightScanJob(insights *services.InsightGeneratorService) *InsightScanJob {
	return &InsightScanJob{insights: insights}
}

func (j *InsightScanJob) Name() string { return "insight_scan" }

func (j *InsightScanJob) Run(ctx context.Context) error {
	results, err := j.insights.ScanAll(ctx)
	if err != nil {
		return err
	}

	var created, updated, queued, errs int
	for _, r := range results {
		created += r.Created
		updated += r.Updated
		queued += r.EnrichmentsQueued
		errs += r.Errors
	}
	if created > 0 || errs > 0 {
		log.Printf("📅 [INSIGHT] Scanned %d users: %d created, %d updated, %d enrichments queued, %d errors",
			len(results), created, updated, queued, errs)
	}
	return nil
}
