package health

import "time"

// Collaborator names an opaque external dependency whose health is tracked
type Collaborator string

const (
	CollaboratorGenerator Collaborator = "generator"
	CollaboratorEnricher  Collaborator = "enricher"
)

// HealthStatus represents the health state of a collaborator
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusCooldown HealthStatus = "cooldown"
	StatusUnknown  HealthStatus = "unknown"
)

// CollaboratorHealth tracks the health of one collaborator
type CollaboratorHealth struct {
	Name                Collaborator `json:"name"`
	Status              HealthStatus `json:"status"`
	LastChecked         time.Time    `json:"last_checked"`
	LastSuccessAt       time.Time    `json:"last_success_at"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	TotalFailures       int64        `json:"total_failures"`
	TotalSuccesses      int64        `json:"total_successes"`
	LastError           string       `json:"last_error,omitempty"`
	CooldownUntil       time.Time    `json:"cooldown_until,omitempty"`
}
