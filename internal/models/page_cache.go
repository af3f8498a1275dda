package models

import (
	"encoding/json"
	"time"
)

// Tier is a service-time class assigned by query frequency
type Tier int

const (
	TierHot      Tier = 1 // Cached, served instantly
	TierWarm     Tier = 2 // Cached, fast
	TierOnDemand Tier = 3 // Generated when asked
)

// Valid reports whether t is one of the three known tiers
func (t Tier) Valid() bool {
	return t >= TierHot && t <= TierOnDemand
}

// String returns the tier label used in metrics and logs
func (t Tier) String() string {
	switch t {
	case TierHot:
		return "1"
	case TierWarm:
		return "2"
	case TierOnDemand:
		return "3"
	default:
		return "unknown"
	}
}

// CacheEntry is a stored generation result. One entry per (user, normalized query).
type CacheEntry struct {
	Key            string          `json:"key"`
	UserID         string          `json:"user_id"`
	Query          string          `json:"query"`
	Payload        json.RawMessage `json:"payload"`
	Tier           Tier            `json:"tier"`
	CreatedAt      time.Time       `json:"created_at"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
	AccessCount    int64           `json:"access_count"`
}

// CacheHit is what a successful lookup returns
type CacheHit struct {
	Payload  json.RawMessage `json:"payload"`
	Tier     Tier            `json:"tier"`
	CachedAt time.Time       `json:"cached_at"`
}

// TierClassification is the frequency verdict for a query
type TierClassification struct {
	Tier        Tier `json:"tier"`
	Frequency   int  `json:"frequency"`
	ShouldCache bool `json:"should_cache"`
}

// RefreshCandidate is a frequent query whose cache entry is missing or aging
type RefreshCandidate struct {
	Query     string     `json:"query"`
	Frequency int        `json:"frequency"`
	Tier      Tier       `json:"tier"`
	CachedAt  *time.Time `json:"cached_at,omitempty"` // nil when nothing is cached
}

// EvictionResult counts what a stale sweep removed
type EvictionResult struct {
	Expired       int64 `json:"expired"`         // Older than the validity window
	OnDemandStale int64 `json:"on_demand_stale"` // Tier 3 older than a day
}

// Total returns the number of removed entries
func (r EvictionResult) Total() int64 {
	return r.Expired + r.OnDemandStale
}
