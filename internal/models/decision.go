package models

import (
	"encoding/json"
	"time"
)

// DecisionAction is the outcome of a think pass
type DecisionAction string

const (
	ActionWait     DecisionAction = "wait"
	ActionGenerate DecisionAction = "generate"
)

// Decision is what think returns: either wait, or the ordered pages to prepare
type Decision struct {
	ID         string             `json:"id" bson:"_id"`
	UserID     string             `json:"user_id" bson:"userId"`
	Action     DecisionAction     `json:"action" bson:"action"`
	Reason     string             `json:"reason" bson:"reason"`
	Pages      []RankedSuggestion `json:"pages,omitempty" bson:"pages,omitempty"`
	Considered int                `json:"considered" bson:"considered"`
	Context    ContextSnapshot    `json:"context" bson:"context"`
	DecidedAt  time.Time          `json:"decided_at" bson:"decidedAt"`
}

// SmartResult is what the cache-aware generation path returns
type SmartResult struct {
	Payload   json.RawMessage `json:"payload"`
	FromCache bool            `json:"from_cache"`
	Tier      Tier            `json:"tier"`
	CachedAt  *time.Time      `json:"cached_at,omitempty"`
	Latency   time.Duration   `json:"latency"`
	Fallback  bool            `json:"fallback,omitempty"`
}

// WarmReport summarizes a think-and-warm cycle for one user
type WarmReport struct {
	Decision Decision `json:"decision"`
	Warmed   int      `json:"warmed"`
	Fresh    int      `json:"fresh"`    // Already cached, skipped
	Deferred int      `json:"deferred"` // Enqueued for later
	Drained  int      `json:"drained"`  // Due queue items processed
	Failed   int      `json:"failed"`
}
