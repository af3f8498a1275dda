package handlers

import (
	"log"

	"ambia/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ProactiveHandler exposes the think decision
type ProactiveHandler struct {
	orchestrator *services.OrchestratorService
}

// NewProactiveHandler creates a new proactive handler
func NewProactiveHandler(orchestrator *services.OrchestratorService) *ProactiveHandler {
	return &ProactiveHandler{orchestrator: orchestrator}
}

// Think decides what is worth preparing for the user right now
// GET /api/users/:userId/proactive
func (h *ProactiveHandler) Think(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	decision, err := h.orchestrator.Think(c.UserContext(), userID)
	if err != nil {
		log.Printf("❌ [PROACTIVE] Think failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to evaluate context",
		})
	}

	return c.JSON(decision)
}
