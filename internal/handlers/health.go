package handlers

import (
	"context"
	"time"

	"ambia/internal/health"

	"github.com/gofiber/fiber/v2"
)

// Pinger is satisfied by *database.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	db      Pinger
	tracker *health.Tracker
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db Pinger, tracker *health.Tracker) *HealthHandler {
	return &HealthHandler{db: db, tracker: tracker}
}

// Handle responds with server health status. A failed database ping is
// unhealthy; a collaborator in cooldown only degrades.
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	status := "healthy"
	code := fiber.StatusOK

	database := "ok"
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			database = err.Error()
			status = "unhealthy"
			code = fiber.StatusServiceUnavailable
		}
	}
	if status == "healthy" && !h.tracker.Healthy() {
		status = "degraded"
	}

	collaborators := h.tracker.Snapshot()
	if collaborators == nil {
		collaborators = []health.CollaboratorHealth{}
	}

	return c.Status(code).JSON(fiber.Map{
		"status":        status,
		"database":      database,
		"collaborators": collaborators,
		"timestamp":     time.Now().Format(time.RFC3339),
	})
}
