package handlers

import (
	"ambia/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// Handlers groups everything the API routes to. Decisions, Cache and Jobs
// are optional.
type Handlers struct {
	Health    *HealthHandler
	Proactive *ProactiveHandler
	Pages     *PageHandler
	Insights  *InsightHandler
	Decisions *DecisionHandler
	Cache     *CacheHandler
	Jobs      *JobHandler
}

// RegisterRoutes mounts the engine API on app. limits may be nil to disable
// rate limiting.
func RegisterRoutes(app *fiber.App, h Handlers, limits *middleware.RateLimitConfig) {
	app.Get("/health", h.Health.Handle)

	api := app.Group("/api")
	if limits != nil {
		api.Use(middleware.GlobalAPIRateLimiter(limits))
	}

	users := api.Group("/users/:userId")
	users.Get("/proactive", h.Proactive.Think)
	if limits != nil {
		users.Post("/pages", middleware.GenerateRateLimiter(limits), h.Pages.Generate)
	} else {
		users.Post("/pages", h.Pages.Generate)
	}
	users.Post("/activity", h.Pages.RecordActivity)
	users.Get("/insights", h.Insights.List)
	users.Post("/insights/scan", h.Insights.Scan)
	if h.Decisions != nil {
		users.Get("/decisions", h.Decisions.List)
	}

	if h.Cache != nil {
		api.Get("/cache/stats", h.Cache.Stats)
	}
	if h.Jobs != nil {
		api.Get("/jobs", h.Jobs.List)
		api.Post("/jobs/:name/run", h.Jobs.Run)
	}
}
