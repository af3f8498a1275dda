package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"ambia/internal/clock"
	"ambia/internal/models"
)

const (
	// HistoryLimit bounds how many activity records one analysis reads
	HistoryLimit = 100
	// HistoryWindow is how far back one analysis reads
	HistoryWindow = 30 * 24 * time.Hour

	strongPatternMinOccurrences = 3
	recentQueryWindow           = time.Hour
)

// Topic keywords, matched in order. The first match wins.
var topicKeywords = []struct {
	topic    string
	keywords []string
}{
	{"weather", []string{"weather"}},
	{"calendar", []string{"calendar", "meeting"}},
	{"sales", []string{"sales", "revenue"}},
	{"fitness", []string{"fitness", "workout"}},
	{"news", []string{"news"}},
	{"email", []string{"email"}},
}

const topicGeneral = "general"

// topicQueries maps a topic to the page query a pattern suggestion asks for
var topicQueries = map[string]string{
	"weather":    "weather forecast",
	"calendar":   "today's schedule",
	"sales":      "sales dashboard",
	"fitness":    "fitness summary",
	"news":       "news briefing",
	"email":      "email digest",
	topicGeneral: "recent activity summary",
}

// ContextAnalyzerService derives temporal and behavioral signals and turns them
// into candidate suggestions. It only reads the activity history.
type ContextAnalyzerService struct {
	activity ActivityLog
	clock    clock.Clock
}

// NewContextAnalyzerService creates a new context analyzer
func NewContextAnalyzerService(activity ActivityLog, clk clock.Clock) *ContextAnalyzerService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &ContextAnalyzerService{
		activity: activity,
		clock:    clk,
	}
}

// Analyze builds the context snapshot for userID and the suggestions it implies.
// A history read failure degrades to an empty behavioral context.
func (s *ContextAnalyzerService) Analyze(ctx context.Context, userID string) (models.ContextSnapshot, []models.Suggestion) {
	now := s.clock.Now()

	history, err := s.history(ctx, userID, now)
	if err != nil {
		log.Printf("⚠️ [CONTEXT] Failed to read history for user %s: %v", userID, err)
		history = nil
	}

	snapshot := models.ContextSnapshot{
		UserID:     userID,
		ComputedAt: now,
		Temporal:   TemporalContext(now),
		Behavioral: BehavioralContext(history, now),
	}
	return snapshot, GenerateSuggestions(snapshot, now)
}

func (s *ContextAnalyzerService) history(ctx context.Context, userID string, now time.Time) ([]models.ActivityRecord, error) {
	if s.activity == nil {
		return nil, nil
	}
	records, err := s.activity.Recent(ctx, userID, now.Add(-HistoryWindow), HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read activity history: %w", err)
	}
	return records, nil
}

// TemporalContext maps the wall clock to a bucket, urgency and transition flags
func TemporalContext(now time.Time) models.TemporalContext {
	bucket, urgency := timeBucket(now.Hour())

	return models.TemporalContext{
		TimeBucket:        bucket,
		UrgencyMultiplier: urgency,
		Transitions:       activeTransitions(now),
		NextTransition:    nextTransition(now),
	}
}

func timeBucket(hour int) (models.TimeBucket, float64) {
	switch {
	case hour >= 5 && hour < 9:
		return models.BucketEarlyMorning, 1.5
	case hour >= 9 && hour < 12:
		return models.BucketLateMorning, 1.2
	case hour >= 12 && hour < 14:
		return models.BucketLunch, 0.8
	case hour >= 14 && hour < 17:
		return models.BucketAfternoon, 1.0
	case hour >= 17 && hour < 20:
		return models.BucketEvening, 0.9
	case hour >= 20 && hour < 23:
		return models.BucketNight, 0.6
	default:
		return models.BucketLateNight, 0.3
	}
}

func activeTransitions(now time.Time) []string {
	hour, minute := now.Hour(), now.Minute()

	transitions := []string{}
	if minute >= 55 || minute <= 5 {
		transitions = append(transitions, models.TransitionHourBoundary)
	}
	if hour == 8 && minute >= 30 && minute <= 45 {
		transitions = append(transitions, models.TransitionWorkdayStart)
	}
	if hour == 17 && minute <= 30 {
		transitions = append(transitions, models.TransitionWorkdayEnd)
	}
	return transitions
}

// nextTransition picks the nearest of the next hour boundary, 08:30 and 17:00
func nextTransition(now time.Time) models.NextTransition {
	candidates := []models.NextTransition{
		{Name: models.TransitionHourBoundary, At: time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location()).Add(time.Hour)},
		{Name: models.TransitionWorkdayStart, At: nextDaily(now, 8, 30)},
		{Name: models.TransitionWorkdayEnd, At: nextDaily(now, 17, 0)},
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.At.Before(best.At) {
			best = c
		}
	}
	best.MinutesUntil = int(math.Ceil(best.At.Sub(now).Minutes()))
	return best
}

// nextDaily returns the next occurrence of hh:mm strictly after now
func nextDaily(now time.Time, hour, minute int) time.Time {
	at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

// BehavioralContext derives patterns and engagement from history. Empty history
// gives an empty context.
func BehavioralContext(history []models.ActivityRecord, now time.Time) models.BehavioralContext {
	bc := models.BehavioralContext{
		StrongPatterns:    []models.StrongPattern{},
		HistoryConsidered: len(history),
	}
	if len(history) == 0 {
		return bc
	}

	type slot struct {
		day  time.Weekday
		hour int
	}
	counts := make(map[slot]int)
	topics := make(map[slot][]string)
	var order []slot

	var last time.Time
	for _, rec := range history {
		ts := rec.Timestamp.In(now.Location())
		key := slot{day: ts.Weekday(), hour: ts.Hour()}
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key]++

		topic := QueryTopic(rec.QueryText)
		if !containsString(topics[key], topic) {
			topics[key] = append(topics[key], topic)
		}

		if age := now.Sub(rec.Timestamp); age >= 0 && age <= recentQueryWindow {
			bc.RecentQueryCount++
		}
		if rec.Timestamp.After(last) {
			last = rec.Timestamp
		}
	}

	for _, key := range order {
		if counts[key] < strongPatternMinOccurrences {
			continue
		}
		bc.StrongPatterns = append(bc.StrongPatterns, models.StrongPattern{
			DayOfWeek:   key.day,
			Hour:        key.hour,
			Occurrences: counts[key],
			Topics:      topics[key],
		})
	}
	sort.SliceStable(bc.StrongPatterns, func(i, j int) bool {
		return bc.StrongPatterns[i].Occurrences > bc.StrongPatterns[j].Occurrences
	})

	lastAt := last
	bc.LastQueryAt = &lastAt
	bc.EngagementScore = engagementScore(bc.RecentQueryCount, now.Sub(last))
	return bc
}

func engagementScore(recentCount int, sinceLast time.Duration) float64 {
	score := math.Min(float64(recentCount)/10, 1.0) * 0.5

	switch {
	case sinceLast < 5*time.Minute:
		score += 0.5
	case sinceLast < 15*time.Minute:
		score += 0.3
	case sinceLast < 30*time.Minute:
		score += 0.1
	}
	return math.Min(score, 1.0)
}

// QueryTopic returns the first topic whose keyword the query mentions
func QueryTopic(query string) string {
	q := strings.ToLower(query)
	for _, t := range topicKeywords {
		for _, kw := range t.keywords {
			if strings.Contains(q, kw) {
				return t.topic
			}
		}
	}
	return topicGeneral
}

// GenerateSuggestions turns a snapshot into candidate pages, highest base priority first
func GenerateSuggestions(snapshot models.ContextSnapshot, now time.Time) []models.Suggestion {
	var suggestions []models.Suggestion

	if snapshot.Temporal.TimeBucket == models.BucketEarlyMorning {
		suggestions = append(suggestions, models.Suggestion{
			Type:           models.SuggestionProactivePage,
			Query:          "morning briefing",
			Reason:         "Start of the day",
			BasePriority:   models.BaseOf(0.9),
			GenerateAtHint: models.GenerateNow,
		})
	}

	for _, p := range snapshot.Behavioral.StrongPatterns {
		if !patternIsNear(p, now) {
			continue
		}
		for _, topic := range p.Topics {
			suggestions = append(suggestions, models.Suggestion{
				Type:           models.SuggestionPatternBased,
				Query:          topicQueries[topic],
				Reason:         fmt.Sprintf("Usually checked %s around %02d:00", p.DayOfWeek, p.Hour),
				BasePriority:   models.BaseOf(0.7),
				GenerateAtHint: models.GenerateNext30Min,
			})
		}
	}

	if snapshot.Temporal.HasTransition(models.TransitionWorkdayEnd) {
		suggestions = append(suggestions, models.Suggestion{
			Type:           models.SuggestionTransition,
			Query:          "end of day summary",
			Reason:         "Workday is ending",
			BasePriority:   models.BaseOf(0.8),
			GenerateAtHint: models.GenerateNow,
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Priority() > suggestions[j].Priority()
	})
	return suggestions
}

// patternIsNear reports whether the pattern's slot falls within an hour of now
func patternIsNear(p models.StrongPattern, now time.Time) bool {
	// Place the slot in the current week and compare on a circular week
	const week = 7 * 24 * 60
	nowMin := int(now.Weekday())*24*60 + now.Hour()*60 + now.Minute()
	slotMin := int(p.DayOfWeek)*24*60 + p.Hour*60

	diff := nowMin - slotMin
	if diff < 0 {
		diff = -diff
	}
	if diff > week/2 {
		diff = week - diff
	}
	return diff <= 60
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
