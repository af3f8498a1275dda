package models

import "time"

// Generation queue statuses
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// MaxGenerationAttempts bounds retries of a deferred generation
const MaxGenerationAttempts = 3

// GenerationJob is a deferred page generation
type GenerationJob struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Query        string     `json:"query"`
	Reason       string     `json:"reason"`
	Priority     int        `json:"priority"` // 0-100
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	ValidUntil   time.Time  `json:"valid_until"`
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// PregenerationResult is the per-item outcome of a pregeneration batch
type PregenerationResult struct {
	Query   string `json:"query"`
	Success bool   `json:"success"`
	Tier    Tier   `json:"tier,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MaintenanceReport summarizes one maintenance pass
type MaintenanceReport struct {
	Eviction   EvictionResult `json:"eviction"`
	PurgedJobs int64          `json:"purged_jobs"`
}
