package handlers

import (
	"context"
	"log"

	"ambia/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultDecisionLimit = 20
	maxDecisionLimit     = 100
)

// DecisionHistory is satisfied by *services.AuditService
type DecisionHistory interface {
	Recent(ctx context.Context, userID string, limit int64) ([]models.Decision, error)
}

// DecisionHandler exposes the think audit trail
type DecisionHandler struct {
	history DecisionHistory
}

// NewDecisionHandler creates a new decision handler
func NewDecisionHandler(history DecisionHistory) *DecisionHandler {
	return &DecisionHandler{history: history}
}

// List returns the user's latest think decisions
// GET /api/users/:userId/decisions?limit=20
func (h *DecisionHandler) List(c *fiber.Ctx) error {
	userID := c.Params("userId")

	limit := c.QueryInt("limit", defaultDecisionLimit)
	if limit <= 0 || limit > maxDecisionLimit {
		limit = defaultDecisionLimit
	}

	decisions, err := h.history.Recent(c.UserContext(), userID, int64(limit))
	if err != nil {
		log.Printf("❌ [AUDIT] Failed to list decisions for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list decisions",
		})
	}
	if decisions == nil {
		decisions = []models.Decision{}
	}

	return c.JSON(fiber.Map{
		"decisions": decisions,
		"count":     len(decisions),
	})
}
