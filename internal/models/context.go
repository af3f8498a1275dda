package models

import "time"

// TimeBucket names a coarse slice of the day
type TimeBucket string

const (
	BucketEarlyMorning TimeBucket = "early_morning"
	BucketLateMorning  TimeBucket = "late_morning"
	BucketLunch        TimeBucket = "lunch"
	BucketAfternoon    TimeBucket = "afternoon"
	BucketEvening      TimeBucket = "evening"
	BucketNight        TimeBucket = "night"
	BucketLateNight    TimeBucket = "late_night"
)

// Transition flags raised around boundaries in the user's day
const (
	TransitionHourBoundary = "hour_boundary"
	TransitionWorkdayStart = "workday_start"
	TransitionWorkdayEnd   = "workday_end"
)

// NextTransition is the nearest upcoming boundary
type NextTransition struct {
	Name         string    `json:"name" bson:"name"`
	At           time.Time `json:"at" bson:"at"`
	MinutesUntil int       `json:"minutes_until" bson:"minutesUntil"`
}

// TemporalContext is derived from the wall clock only
type TemporalContext struct {
	TimeBucket        TimeBucket     `json:"time_bucket" bson:"timeBucket"`
	UrgencyMultiplier float64        `json:"urgency_multiplier" bson:"urgencyMultiplier"`
	Transitions       []string       `json:"transitions" bson:"transitions"`
	NextTransition    NextTransition `json:"next_transition" bson:"nextTransition"`
}

// HasTransition reports whether the named transition flag is active
func (t TemporalContext) HasTransition(name string) bool {
	for _, tr := range t.Transitions {
		if tr == name {
			return true
		}
	}
	return false
}

// StrongPattern is a (weekday, hour) slot the user keeps coming back to
type StrongPattern struct {
	DayOfWeek   time.Weekday `json:"day_of_week" bson:"dayOfWeek"`
	Hour        int          `json:"hour" bson:"hour"`
	Occurrences int          `json:"occurrences" bson:"occurrences"`
	Topics      []string     `json:"topics" bson:"topics"` // Distinct, in first-seen order
}

// BehavioralContext is derived from the activity history
type BehavioralContext struct {
	StrongPatterns    []StrongPattern `json:"strong_patterns" bson:"strongPatterns"`
	EngagementScore   float64         `json:"engagement_score" bson:"engagementScore"`
	RecentQueryCount  int             `json:"recent_query_count" bson:"recentQueryCount"` // Queries in the last hour
	LastQueryAt       *time.Time      `json:"last_query_at,omitempty" bson:"lastQueryAt,omitempty"`
	HistoryConsidered int             `json:"history_considered" bson:"historyConsidered"`
}

// ContextSnapshot is recomputed on every call and never authoritative
type ContextSnapshot struct {
	UserID     string            `json:"user_id" bson:"userId"`
	ComputedAt time.Time         `json:"computed_at" bson:"computedAt"`
	Temporal   TemporalContext   `json:"temporal" bson:"temporal"`
	Behavioral BehavioralContext `json:"behavioral" bson:"behavioral"`
}
