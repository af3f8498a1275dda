package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ambia/internal/config"
	"ambia/internal/engine"
	"ambia/internal/handlers"
	"ambia/internal/jobs"
	"ambia/internal/logging"
	"ambia/internal/middleware"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Ambia Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("📋 Configuration loaded (Port: %s, rank threshold: %.2f)", cfg.Port, cfg.RankThreshold)

	eng, err := engine.New(context.Background(), cfg, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("❌ Failed to start engine: %v", err)
	}

	// Background cycles
	jobScheduler, err := jobs.NewJobScheduler(eng.Metrics)
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}
	if err := jobs.RegisterEngineJobs(jobScheduler, cfg, eng.Orch, eng.Insights); err != nil {
		log.Fatalf("❌ Failed to register jobs: %v", err)
	}
	jobScheduler.Start()

	app := fiber.New(fiber.Config{
		AppName:      "Ambia v1.0",
		ReadTimeout:  cfg.GeneratorLimit + 30*time.Second, // A page miss waits on the generator
		WriteTimeout: cfg.GeneratorLimit + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	promMiddleware := fiberprometheus.New("ambia")
	promMiddleware.RegisterAt(app, "/metrics")
	app.Use(promMiddleware.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Generate=%d/min",
		rateLimitConfig.GlobalAPIMax,
		rateLimitConfig.GenerateMax,
	)

	h := handlers.Handlers{
		Health:    handlers.NewHealthHandler(eng.DB, eng.Tracker),
		Proactive: handlers.NewProactiveHandler(eng.Orch),
		Pages:     handlers.NewPageHandler(eng.Orch),
		Insights:  handlers.NewInsightHandler(eng.Insights),
		Cache:     handlers.NewCacheHandler(eng.Cache),
		Jobs:      handlers.NewJobHandler(jobScheduler),
	}
	if eng.Audit != nil {
		h.Decisions = handlers.NewDecisionHandler(eng.Audit)
	}
	handlers.RegisterRoutes(app, h, rateLimitConfig)

	log.Printf("✅ Server ready on port %s", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("🕐 Background jobs: think (%s), pregenerate (%s), maintain (%s), insight scan (%s)",
		cfg.ThinkInterval, cfg.PregenerateInterval, cfg.MaintenanceSchedule, cfg.InsightScanInterval)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		// Stop background jobs first so no cycle starts against a closing store
		if err := jobScheduler.Stop(); err != nil {
			log.Printf("⚠️ Error stopping job scheduler: %v", err)
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}

	// Listen returns once Shutdown completes
	eng.Close()
	log.Println("👋 Server stopped")
}
