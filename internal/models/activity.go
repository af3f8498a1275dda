package models

import "time"

// ActivityRecord is one user query as written to the activity log.
// Records are append-only; nothing in the engine mutates or deletes them.
type ActivityRecord struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	QueryText       string    `json:"query_text"`
	NormalizedQuery string    `json:"normalized_query"`
	Timestamp       time.Time `json:"timestamp"`
}

// QueryFrequency is a normalized query and how often it was asked inside a window
type QueryFrequency struct {
	Query           string `json:"query"` // Most recent original spelling
	NormalizedQuery string `json:"normalized_query"`
	Count           int    `json:"count"`
}
