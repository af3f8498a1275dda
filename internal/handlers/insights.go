package handlers

import (
	"log"

	"ambia/internal/services"

	"github.com/gofiber/fiber/v2"
)

// InsightHandler exposes ambient records
type InsightHandler struct {
	insights *services.InsightGeneratorService
}

// NewInsightHandler creates a new insight handler
func NewInsightHandler(insights *services.InsightGeneratorService) *InsightHandler {
	return &InsightHandler{insights: insights}
}

// List returns the user's unexpired insights, highest priority first
// GET /api/users/:userId/insights
func (h *InsightHandler) List(c *fiber.Ctx) error {
	userID := c.Params("userId")

	records, err := h.insights.ListActive(c.UserContext(), userID)
	if err != nil {
		log.Printf("❌ [INSIGHT] Failed to list insights for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list insights",
		})
	}

	return c.JSON(fiber.Map{
		"insights": records,
		"count":    len(records),
	})
}

// Scan converts the user's upcoming calendar facts into insights now
// POST /api/users/:userId/insights/scan
func (h *InsightHandler) Scan(c *fiber.Ctx) error {
	userID := c.Params("userId")

	result, err := h.insights.Scan(c.UserContext(), userID)
	if err != nil {
		log.Printf("❌ [INSIGHT] Scan failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to scan calendar",
		})
	}

	return c.JSON(result)
}
