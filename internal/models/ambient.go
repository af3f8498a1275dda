package models

import (
	"encoding/json"
	"time"
)

// AmbientPriority orders insights for display
type AmbientPriority string

const (
	AmbientPriorityHigh   AmbientPriority = "high"
	AmbientPriorityMedium AmbientPriority = "medium"
	AmbientPriorityLow    AmbientPriority = "low"
)

// Rank returns a sortable weight, higher first
func (p AmbientPriority) Rank() int {
	switch p {
	case AmbientPriorityHigh:
		return 3
	case AmbientPriorityMedium:
		return 2
	case AmbientPriorityLow:
		return 1
	default:
		return 0
	}
}

// AmbientRecord is a derived insight, deduplicated per (user, calendar event)
type AmbientRecord struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	CalendarEventID *string         `json:"calendar_event_id,omitempty"`
	Priority        AmbientPriority `json:"priority"`
	Title           string          `json:"title"`
	Body            string          `json:"body"`
	StartsAt        *time.Time      `json:"starts_at,omitempty"`
	ValidUntil      time.Time       `json:"valid_until"`
	Enrichment      json.RawMessage `json:"enrichment,omitempty"` // nil until enriched
	EnrichedAt      *time.Time      `json:"enriched_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsEnriched reports whether the enrichment pass has landed
func (r *AmbientRecord) IsEnriched() bool {
	return len(r.Enrichment) > 0
}

// Expired reports whether the record is past its validity at now
func (r *AmbientRecord) Expired(now time.Time) bool {
	return !r.ValidUntil.After(now)
}

// AmbientFields are the mutable fields an upsert writes
type AmbientFields struct {
	Priority   AmbientPriority
	Title      string
	Body       string
	StartsAt   *time.Time
	ValidUntil time.Time
}

// CalendarEvent is an upstream calendar fact, written by the ingestion collaborator
type CalendarEvent struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Title     string     `json:"title"`
	Location  string     `json:"location,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// UpsertOutcome reports what an ambient upsert did
type UpsertOutcome struct {
	Record           *AmbientRecord `json:"record"`
	Created          bool           `json:"created"`
	EnrichmentQueued bool           `json:"enrichment_queued"`
}

// ScanResult summarizes one insight scan for a user
type ScanResult struct {
	UserID            string `json:"user_id"`
	EventsSeen        int    `json:"events_seen"`
	Skipped           int    `json:"skipped"`
	Created           int    `json:"created"`
	Updated           int    `json:"updated"`
	EnrichmentsQueued int    `json:"enrichments_queued"`
	Errors            int    `json:"errors"`
}
