package models

import "time"

// SuggestionType classifies where a suggestion came from
type SuggestionType string

const (
	SuggestionProactivePage SuggestionType = "proactive_page"
	SuggestionPatternBased  SuggestionType = "pattern_based"
	SuggestionTransition    SuggestionType = "transition"
)

// Generation timing hints
const (
	GenerateNow       = "now"
	GenerateNextHour  = "next_hour"
	GenerateNext30Min = "next_30_min"
)

// DefaultBasePriority is the base of a suggestion that carries none
const DefaultBasePriority = 0.5

// Suggestion is a candidate page the analyzer thinks may be worth preparing.
// A nil BasePriority means "not set"; an explicit 0 is kept as 0.
type Suggestion struct {
	Type           SuggestionType `json:"type" bson:"type"`
	Query          string         `json:"query" bson:"query"`
	Reason         string         `json:"reason" bson:"reason"`
	BasePriority   *float64       `json:"base_priority,omitempty" bson:"basePriority,omitempty"`
	GenerateAtHint string         `json:"generate_at" bson:"generateAt"`
}

// Priority returns the base priority, or DefaultBasePriority when unset
func (s Suggestion) Priority() float64 {
	if s.BasePriority == nil {
		return DefaultBasePriority
	}
	return *s.BasePriority
}

// BaseOf returns a pointer to p for Suggestion.BasePriority
func BaseOf(p float64) *float64 {
	return &p
}

// RankedSuggestion is a scored suggestion, optionally with a schedule attached
type RankedSuggestion struct {
	Suggestion             `bson:",inline"`
	FinalScore             float64   `json:"final_score" bson:"finalScore"`
	ScoredAt               time.Time `json:"scored_at" bson:"scoredAt"`
	ScheduleAt             time.Time `json:"schedule_at,omitempty" bson:"scheduleAt,omitempty"`
	MinutesUntilGeneration int       `json:"minutes_until_generation" bson:"minutesUntilGeneration"`
}
