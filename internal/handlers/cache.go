package handlers

import (
	"log"

	"ambia/internal/services"

	"github.com/gofiber/fiber/v2"
)

// CacheHandler reports page cache occupancy
type CacheHandler struct {
	cache *services.PageCacheService
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(cache *services.PageCacheService) *CacheHandler {
	return &CacheHandler{cache: cache}
}

// Stats returns the number of cached pages per tier
// GET /api/cache/stats
func (h *CacheHandler) Stats(c *fiber.Ctx) error {
	counts, err := h.cache.Stats(c.UserContext())
	if err != nil {
		log.Printf("❌ [CACHE] Failed to read cache stats: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read cache stats",
		})
	}

	tiers := fiber.Map{}
	var total int64
	for tier, n := range counts {
		tiers[tier.String()] = n
		total += n
	}

	return c.JSON(fiber.Map{
		"tiers": tiers,
		"total": total,
	})
}
