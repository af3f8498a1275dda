package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"ambia/internal/models"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	leaseKeyPrefix     = "ambia:lease:"
	leasePollInterval  = 500 * time.Millisecond
	defaultLeaseExpiry = 2 * time.Minute
)

// RedisLease is a cross-process lease on one cache key, held with SETNX and
// released by a token-checked delete
type RedisLease struct {
	redis *RedisService
	ttl   time.Duration
}

// NewRedisLease creates a lease that expires after ttl if its holder dies
func NewRedisLease(redis *RedisService, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = defaultLeaseExpiry
	}
	return &RedisLease{redis: redis, ttl: ttl}
}

// TryAcquire takes the lease for key. The returned release func is nil when
// another process holds it.
func (l *RedisLease) TryAcquire(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	lockKey := leaseKeyPrefix + key

	acquired, err := l.redis.AcquireLock(ctx, lockKey, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire generation lease: %w", err)
	}
	if !acquired {
		return nil, nil
	}

	return func() {
		// Release on a fresh context so a cancelled request still frees the lease
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if _, err := l.redis.ReleaseLock(releaseCtx, lockKey, token); err != nil {
			log.Printf("⚠️ [LEASE] Failed to release %s: %v", lockKey, err)
		}
	}, nil
}

// TTL returns how long an abandoned lease blocks other processes
func (l *RedisLease) TTL() time.Duration {
	return l.ttl
}

// LeaseResult is the outcome of a leased generation
type LeaseResult struct {
	Payload  json.RawMessage
	Tier     models.Tier
	Fallback bool
	Shared   bool // Produced by another caller in this process
	FromPeer bool // Produced by another process and read back from the cache
}

// GenerationLease allows at most one concurrent generation per cache key. In
// process this is a singleflight group; across processes an optional RedisLease.
type GenerationLease struct {
	group singleflight.Group
	redis *RedisLease
}

// NewGenerationLease creates a lease. redis may be nil.
func NewGenerationLease(redis *RedisLease) *GenerationLease {
	return &GenerationLease{redis: redis}
}

// Do runs generate for key unless a generation for key is already in flight,
// in which case it waits for that one. When another process holds the Redis
// lease, peek is polled until the lease TTL passes, then generate runs anyway.
func (l *GenerationLease) Do(
	ctx context.Context,
	key string,
	peek func(ctx context.Context) (json.RawMessage, bool),
	generate func(ctx context.Context) (LeaseResult, error),
) (LeaseResult, error) {
	// The shared run outlives any single waiter's cancellation
	runCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(key, func() (interface{}, error) {
		return l.run(runCtx, key, peek, generate)
	})

	select {
	case <-ctx.Done():
		return LeaseResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return LeaseResult{}, res.Err
		}
		out := res.Val.(LeaseResult)
		out.Shared = res.Shared
		return out, nil
	}
}

func (l *GenerationLease) run(
	ctx context.Context,
	key string,
	peek func(ctx context.Context) (json.RawMessage, bool),
	generate func(ctx context.Context) (LeaseResult, error),
) (LeaseResult, error) {
	if l.redis == nil {
		return generate(ctx)
	}

	release, err := l.redis.TryAcquire(ctx, key)
	if err != nil {
		// Redis trouble must not block generation
		log.Printf("⚠️ [LEASE] %v, generating without cross-process lease", err)
		return generate(ctx)
	}
	if release != nil {
		defer release()
		return generate(ctx)
	}

	// Another process is generating this key; wait for its result to land
	deadline := time.Now().Add(l.redis.TTL())
	ticker := time.NewTicker(leasePollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return LeaseResult{}, ctx.Err()
		case <-ticker.C:
			if peek == nil {
				continue
			}
			if payload, ok := peek(ctx); ok {
				return LeaseResult{Payload: payload, FromPeer: true}, nil
			}
		}
	}

	log.Printf("⏳ [LEASE] Lease on %s outlived its TTL, generating locally", key)
	return generate(ctx)
}
