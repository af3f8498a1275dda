package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"ambia/internal/clock"
	"ambia/internal/models"
	"ambia/internal/store"

	"github.com/patrickmn/go-cache"
)

const (
	// CacheValidity is how long a stored page may be served
	CacheValidity = 7 * 24 * time.Hour
	// OnDemandMaxAge is how long a tier-3 page survives eviction
	OnDemandMaxAge = 24 * time.Hour
	// RefreshAge is when a cached frequent page becomes due for refresh
	RefreshAge = 24 * time.Hour
	// FrequencyWindow is the activity window used for tiering
	FrequencyWindow = 30 * 24 * time.Hour

	tierHotMinFrequency  = 10
	tierWarmMinFrequency = 5
	refreshCandidatesMax = 20
	// refreshScanMax bounds the distinct queries recounted per refresh pass
	refreshScanMax = 200

	hotLayerTTL = 5 * time.Minute
)

// Cache lookup results used as metric labels
const (
	lookupHit     = "hit"
	lookupHotHit  = "hot_hit"
	lookupMiss    = "miss"
	lookupExpired = "expired"
)

// PageCacheService is the tiered cache of generated pages. Tier-1 entries are
// also held in an in-memory hot layer; the SQL store stays authoritative.
type PageCacheService struct {
	store    CacheStore
	activity ActivityLog
	clock    clock.Clock
	metrics  *Metrics
	hot      *cache.Cache
}

// NewPageCacheService creates a new page cache service
func NewPageCacheService(cacheStore CacheStore, activity ActivityLog, clk clock.Clock, metrics *Metrics) *PageCacheService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &PageCacheService{
		store:    cacheStore,
		activity: activity,
		clock:    clk,
		metrics:  metrics,
		hot:      cache.New(hotLayerTTL, 10*time.Minute),
	}
}

// TierForFrequency maps a 30-day frequency to its tier
func TierForFrequency(frequency int) models.TierClassification {
	switch {
	case frequency >= tierHotMinFrequency:
		return models.TierClassification{Tier: models.TierHot, Frequency: frequency, ShouldCache: true}
	case frequency >= tierWarmMinFrequency:
		return models.TierClassification{Tier: models.TierWarm, Frequency: frequency, ShouldCache: true}
	default:
		return models.TierClassification{Tier: models.TierOnDemand, Frequency: frequency, ShouldCache: false}
	}
}

// Classify counts the user's matching queries over the last 30 days and tiers the query
func (s *PageCacheService) Classify(ctx context.Context, userID, query string) (models.TierClassification, error) {
	normalized := models.NormalizeQuery(query)
	if normalized == "" {
		return models.TierClassification{}, ErrEmptyQuery
	}

	since := s.clock.Now().Add(-FrequencyWindow)
	frequency, err := s.activity.CountMatching(ctx, userID, normalized, since)
	if err != nil {
		return models.TierClassification{}, fmt.Errorf("failed to classify query: %w", err)
	}
	return TierForFrequency(frequency), nil
}

// Put stores payload for (userID, query) at tier. An existing entry has its
// payload, tier and timestamps replaced and its access count bumped.
func (s *PageCacheService) Put(ctx context.Context, userID, query string, payload json.RawMessage, tier models.Tier) error {
	normalized := models.NormalizeQuery(query)
	if normalized == "" {
		return ErrEmptyQuery
	}
	if !tier.Valid() {
		return fmt.Errorf("invalid tier %d", tier)
	}

	now := s.clock.Now()
	key := models.CacheKey(userID, normalized)
	entry := &models.CacheEntry{
		Key:            key,
		UserID:         userID,
		Query:          query,
		Payload:        payload,
		Tier:           tier,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if err := s.store.Upsert(ctx, entry, normalized); err != nil {
		return fmt.Errorf("failed to store page: %w", err)
	}

	s.hot.Delete(key)
	log.Printf("💾 [CACHE] Stored %q for user %s at tier %s", query, userID, tier)
	return nil
}

// Get returns the cached page for (userID, query). found is false on a miss or
// when the entry is older than CacheValidity. A hit counts as an access.
func (s *PageCacheService) Get(ctx context.Context, userID, query string) (*models.CacheHit, bool, error) {
	normalized := models.NormalizeQuery(query)
	if normalized == "" {
		return nil, false, ErrEmptyQuery
	}

	now := s.clock.Now()
	key := models.CacheKey(userID, normalized)

	if value, ok := s.hot.Get(key); ok {
		entry := value.(models.CacheEntry)
		if s.fresh(entry, now) {
			if err := s.store.Touch(ctx, key, now); err != nil {
				log.Printf("⚠️ [CACHE] Failed to record hot hit for %s: %v", key, err)
			}
			s.metrics.RecordCacheLookup(lookupHotHit, entry.Tier)
			return &models.CacheHit{Payload: entry.Payload, Tier: entry.Tier, CachedAt: entry.CreatedAt}, true, nil
		}
		s.hot.Delete(key)
	}

	entry, err := s.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		s.metrics.RecordCacheLookup(lookupMiss, models.TierOnDemand)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read page cache: %w", err)
	}

	if !s.fresh(*entry, now) {
		s.metrics.RecordCacheLookup(lookupExpired, entry.Tier)
		return nil, false, nil
	}

	if err := s.store.Touch(ctx, key, now); err != nil {
		log.Printf("⚠️ [CACHE] Failed to record hit for %s: %v", key, err)
	}
	if entry.Tier == models.TierHot {
		s.hot.Set(key, *entry, cache.DefaultExpiration)
	}

	s.metrics.RecordCacheLookup(lookupHit, entry.Tier)
	return &models.CacheHit{Payload: entry.Payload, Tier: entry.Tier, CachedAt: entry.CreatedAt}, true, nil
}

func (s *PageCacheService) fresh(entry models.CacheEntry, now time.Time) bool {
	return now.Sub(entry.CreatedAt) <= CacheValidity
}

// CandidatesForRefresh returns the user's frequent queries (30-day frequency of
// at least 5, top 20) whose page is missing or older than RefreshAge. Frequency
// is counted the way Classify counts it, so every tier-2 query is a candidate.
func (s *PageCacheService) CandidatesForRefresh(ctx context.Context, userID string) ([]models.RefreshCandidate, error) {
	now := s.clock.Now()

	since := now.Add(-FrequencyWindow)
	distinct, err := s.activity.TopQueries(ctx, userID, since, 1, refreshScanMax)
	if err != nil {
		return nil, fmt.Errorf("failed to load frequent queries: %w", err)
	}

	// Recount with the same containment rule Classify uses
	var top []models.QueryFrequency
	for _, q := range distinct {
		count, err := s.activity.CountMatching(ctx, userID, q.NormalizedQuery, since)
		if err != nil {
			return nil, fmt.Errorf("failed to count activity: %w", err)
		}
		if count >= tierWarmMinFrequency {
			q.Count = count
			top = append(top, q)
		}
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Count > top[j].Count })
	if len(top) > refreshCandidatesMax {
		top = top[:refreshCandidatesMax]
	}

	candidates := make([]models.RefreshCandidate, 0, len(top))
	for _, q := range top {
		tier := TierForFrequency(q.Count).Tier

		entry, err := s.store.Get(ctx, models.CacheKey(userID, q.NormalizedQuery))
		switch {
		case errors.Is(err, store.ErrNotFound):
			candidates = append(candidates, models.RefreshCandidate{Query: q.Query, Frequency: q.Count, Tier: tier})
		case err != nil:
			return nil, fmt.Errorf("failed to read page cache: %w", err)
		case now.Sub(entry.CreatedAt) > RefreshAge:
			cachedAt := entry.CreatedAt
			candidates = append(candidates, models.RefreshCandidate{Query: q.Query, Frequency: q.Count, Tier: tier, CachedAt: &cachedAt})
		}
	}
	return candidates, nil
}

// IsFresh reports whether (userID, query) already has a page young enough to skip regeneration
func (s *PageCacheService) IsFresh(ctx context.Context, userID, query string) (bool, error) {
	normalized := models.NormalizeQuery(query)
	if normalized == "" {
		return false, ErrEmptyQuery
	}
	entry, err := s.store.Get(ctx, models.CacheKey(userID, normalized))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read page cache: %w", err)
	}
	return s.clock.Now().Sub(entry.CreatedAt) <= RefreshAge, nil
}

// EvictStale deletes every entry older than CacheValidity and every tier-3
// entry older than OnDemandMaxAge
func (s *PageCacheService) EvictStale(ctx context.Context) (models.EvictionResult, error) {
	now := s.clock.Now()
	var result models.EvictionResult

	expired, err := s.store.DeleteCreatedBefore(ctx, now.Add(-CacheValidity))
	if err != nil {
		return result, fmt.Errorf("failed to evict expired pages: %w", err)
	}
	result.Expired = expired

	stale, err := s.store.DeleteTierCreatedBefore(ctx, models.TierOnDemand, now.Add(-OnDemandMaxAge))
	if err != nil {
		return result, fmt.Errorf("failed to evict on-demand pages: %w", err)
	}
	result.OnDemandStale = stale

	s.hot.Flush()
	log.Printf("🧹 [CACHE] Evicted %d expired and %d stale on-demand pages", result.Expired, result.OnDemandStale)
	return result, nil
}

// Stats reports how many stored pages each tier holds
func (s *PageCacheService) Stats(ctx context.Context) (map[models.Tier]int64, error) {
	return s.store.CountByTier(ctx)
}
