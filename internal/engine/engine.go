// Package engine wires the stores, collaborators and services that both the
// server and the operator CLI run against.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"ambia/internal/clock"
	"ambia/internal/config"
	"ambia/internal/database"
	"ambia/internal/health"
	"ambia/internal/services"
	"ambia/internal/store"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	failureThreshold = 3
	failureCooldown  = 5 * time.Minute
	// leaseSlack covers the gap between a generator timeout and the holder releasing
	leaseSlack = 30 * time.Second
)

// Engine holds every long-lived component. Mongo, Redis and Audit are nil
// when their URLs are unset.
type Engine struct {
	Config   *config.Config
	DB       *database.DB
	Store    *store.Store
	Mongo    *database.MongoDB
	Redis    *services.RedisService
	Tracker  *health.Tracker
	Metrics  *services.Metrics
	Audit    *services.AuditService
	Cache    *services.PageCacheService
	Orch     *services.OrchestratorService
	Insights *services.InsightGeneratorService
}

// New connects the stores and builds the services. reg receives the engine
// metrics; pass nil to leave them unregistered.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Engine, error) {
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	e := &Engine{
		Config:  cfg,
		DB:      db,
		Store:   store.New(db),
		Tracker: health.NewTracker(clock.Real{}, failureThreshold, failureCooldown),
		Metrics: services.NewMetrics(reg),
	}

	// MongoDB is optional; without it decisions are only logged
	if cfg.MongoURI != "" {
		log.Println("🔗 Connecting to MongoDB...")
		mongoDB, err := database.NewMongoDB(cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			log.Printf("⚠️ Failed to connect to MongoDB: %v (decision audit disabled)", err)
		} else if err := mongoDB.Initialize(ctx); err != nil {
			log.Printf("⚠️ Failed to initialize MongoDB: %v (decision audit disabled)", err)
			mongoDB.Close(context.Background())
		} else {
			e.Mongo = mongoDB
			e.Audit = services.NewAuditService(mongoDB)
			log.Println("✅ Decision audit enabled")
		}
	} else {
		log.Println("⚠️ MONGODB_URI not set - decision audit disabled")
	}

	// Redis is optional; without it generation dedupe is per process
	var redisLease *services.RedisLease
	if cfg.RedisURL != "" {
		redisService, err := services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (generation lease is process-local)", err)
		} else {
			e.Redis = redisService
			redisLease = services.NewRedisLease(redisService, cfg.GeneratorLimit+leaseSlack)
			log.Println("✅ Cross-process generation lease enabled")
		}
	}

	deps := services.OrchestratorDeps{
		Analyzer:         services.NewContextAnalyzerService(e.Store.Activity, clock.Real{}),
		Ranker:           services.NewPriorityRankerService(clock.Real{}, cfg.RankThreshold),
		Activity:         e.Store.Activity,
		Queue:            e.Store.Queue,
		Lease:            services.NewGenerationLease(redisLease),
		Health:           e.Tracker,
		Throttle:         services.NewThrottle(cfg.GeneratorRate),
		Metrics:          e.Metrics,
		Clock:            clock.Real{},
		GeneratorTimeout: cfg.GeneratorLimit,
	}
	e.Cache = services.NewPageCacheService(e.Store.Cache, e.Store.Activity, clock.Real{}, e.Metrics)
	deps.Cache = e.Cache
	if cfg.GeneratorURL != "" {
		deps.Generator = services.NewGeneratorClient(cfg.GeneratorURL, cfg.GeneratorLimit, e.Tracker)
	} else {
		log.Println("⚠️ GENERATOR_URL not set - page generation disabled")
	}
	if e.Audit != nil {
		deps.Audit = e.Audit
	}
	e.Orch = services.NewOrchestratorService(deps)

	var enricher services.Enricher
	if cfg.EnricherURL != "" {
		enricher = services.NewEnricherClient(cfg.EnricherURL, cfg.EnricherLimit, e.Tracker)
	} else {
		log.Println("⚠️ ENRICHER_URL not set - insights will not be enriched")
	}
	e.Insights = services.NewInsightGeneratorService(e.Store.Ambient, e.Store.Calendar, enricher, e.Tracker, e.Metrics, clock.Real{}, services.InsightConfig{
		Workers:       cfg.EnrichmentWorkers,
		QueueSize:     cfg.EnrichmentQueueSize,
		EnrichTimeout: cfg.EnricherLimit,
	})

	return e, nil
}

// Close drains the enrichment queue and closes every connection
func (e *Engine) Close() {
	e.Insights.Close()

	if e.Redis != nil {
		if err := e.Redis.Close(); err != nil {
			log.Printf("⚠️ Error closing Redis: %v", err)
		}
	}
	if e.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Mongo.Close(ctx); err != nil {
			log.Printf("⚠️ Error closing MongoDB: %v", err)
		}
	}
	if err := e.DB.Close(); err != nil {
		log.Printf("⚠️ Error closing database: %v", err)
	}
}
