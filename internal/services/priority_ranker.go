package services

import (
	"math"
	"sort"
	"time"

	"ambia/internal/clock"
	"ambia/internal/models"
)

const (
	// DefaultRankThreshold is the single gate between considered and worth generating
	DefaultRankThreshold = 0.6

	highEngagement = 0.7
	lowEngagement  = 0.2
)

// PriorityRankerService scores, filters and schedules suggestions
type PriorityRankerService struct {
	clock     clock.Clock
	threshold float64
}

// NewPriorityRankerService creates a ranker gating at threshold. A threshold
// outside [0,1] falls back to DefaultRankThreshold.
func NewPriorityRankerService(clk clock.Clock, threshold float64) *PriorityRankerService {
	if clk == nil {
		clk = clock.Real{}
	}
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		threshold = DefaultRankThreshold
	}
	return &PriorityRankerService{clock: clk, threshold: threshold}
}

// Threshold returns the filter gate
func (r *PriorityRankerService) Threshold() float64 {
	return r.threshold
}

// Score composes base priority, urgency, engagement and type boosts into [0,1]
func Score(s models.Suggestion, snapshot models.ContextSnapshot) float64 {
	score := s.Priority()

	score *= snapshot.Temporal.UrgencyMultiplier

	engagement := snapshot.Behavioral.EngagementScore
	switch {
	case engagement > highEngagement:
		score *= 1.3
	case engagement < lowEngagement:
		score *= 0.6
	}

	switch s.Type {
	case models.SuggestionTransition:
		score *= 1.5
	case models.SuggestionPatternBased:
		score *= 1.2
	}

	return clamp01(score)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Rank scores every suggestion and sorts descending, keeping input order for ties
func (r *PriorityRankerService) Rank(suggestions []models.Suggestion, snapshot models.ContextSnapshot) []models.RankedSuggestion {
	now := r.clock.Now()

	ranked := make([]models.RankedSuggestion, 0, len(suggestions))
	for _, s := range suggestions {
		ranked = append(ranked, models.RankedSuggestion{
			Suggestion: s,
			FinalScore: Score(s, snapshot),
			ScoredAt:   now,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FinalScore > ranked[j].FinalScore
	})
	return ranked
}

// Filter keeps entries scoring at least threshold
func Filter(ranked []models.RankedSuggestion, threshold float64) []models.RankedSuggestion {
	kept := make([]models.RankedSuggestion, 0, len(ranked))
	for _, r := range ranked {
		if r.FinalScore >= threshold {
			kept = append(kept, r)
		}
	}
	return kept
}

// Filter applies the ranker's own threshold
func (r *PriorityRankerService) Filter(ranked []models.RankedSuggestion) []models.RankedSuggestion {
	return Filter(ranked, r.threshold)
}

// Schedule attaches a generation time from each hint. next_30_min resolves to
// now: generating immediately satisfies "within 30 minutes".
func (r *PriorityRankerService) Schedule(filtered []models.RankedSuggestion) []models.RankedSuggestion {
	now := r.clock.Now()

	scheduled := make([]models.RankedSuggestion, len(filtered))
	for i, rs := range filtered {
		minutes := hintMinutes(rs.GenerateAtHint)
		rs.MinutesUntilGeneration = minutes
		rs.ScheduleAt = now.Add(time.Duration(minutes) * time.Minute)
		scheduled[i] = rs
	}
	return scheduled
}

// Unknown hints generate now
func hintMinutes(hint string) int {
	if hint == models.GenerateNextHour {
		return 30
	}
	return 0
}
