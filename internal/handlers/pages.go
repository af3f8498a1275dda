package handlers

import (
	"errors"
	"log"

	"ambia/internal/services"

	"github.com/gofiber/fiber/v2"
)

// QueryRequest is the body of the pages and activity endpoints
type QueryRequest struct {
	Query string `json:"query"`
}

// PageHandler serves pages through the tiered cache and records activity
type PageHandler struct {
	orchestrator *services.OrchestratorService
}

// NewPageHandler creates a new page handler
func NewPageHandler(orchestrator *services.OrchestratorService) *PageHandler {
	return &PageHandler{orchestrator: orchestrator}
}

// Generate returns the page for a query, from cache when possible
// POST /api/users/:userId/pages
func (h *PageHandler) Generate(c *fiber.Ctx) error {
	userID := c.Params("userId")

	var req QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	result, err := h.orchestrator.SmartGenerate(c.UserContext(), userID, req.Query, nil)
	if err != nil {
		var genErr *services.GenerationError
		switch {
		case errors.Is(err, services.ErrEmptyQuery):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "query is required",
			})
		case errors.Is(err, services.ErrGeneratorUnavailable):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Page generator is not configured",
			})
		case errors.As(err, &genErr):
			log.Printf("❌ [PAGES] Generation failed for user %s: %v", userID, err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "Page generation failed",
			})
		default:
			log.Printf("❌ [PAGES] Request failed for user %s: %v", userID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to serve page",
			})
		}
	}

	return c.JSON(fiber.Map{
		"payload":    result.Payload,
		"from_cache": result.FromCache,
		"tier":       result.Tier,
		"cached_at":  result.CachedAt,
		"fallback":   result.Fallback,
		"latency_ms": result.Latency.Milliseconds(),
	})
}

// RecordActivity appends a query to the user's activity log
// POST /api/users/:userId/activity
func (h *PageHandler) RecordActivity(c *fiber.Ctx) error {
	userID := c.Params("userId")

	var req QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := h.orchestrator.RecordActivity(c.UserContext(), userID, req.Query); err != nil {
		if errors.Is(err, services.ErrEmptyQuery) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "query is required",
			})
		}
		log.Printf("❌ [ACTIVITY] Failed to record activity for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record activity",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}
