package handlers

import (
	"errors"
	"log"

	"ambia/internal/jobs"

	"github.com/gofiber/fiber/v2"
)

// JobHandler lets operators trigger and inspect engine cycles
type JobHandler struct {
	scheduler *jobs.JobScheduler
}

// NewJobHandler creates a new job handler
func NewJobHandler(scheduler *jobs.JobScheduler) *JobHandler {
	return &JobHandler{scheduler: scheduler}
}

// Run executes a job immediately and waits for it
// POST /api/jobs/:name/run
func (h *JobHandler) Run(c *fiber.Ctx) error {
	name := c.Params("name")

	err := h.scheduler.RunNow(c.UserContext(), name)
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found",
		})
	case errors.Is(err, jobs.ErrJobRunning):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Job is already running",
		})
	case err != nil:
		log.Printf("❌ [JOBS] Manual run of %s failed: %v", name, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
			"job":   name,
		})
	}

	return c.JSON(fiber.Map{
		"job":    name,
		"status": "completed",
	})
}

// List returns the status of every registered job
// GET /api/jobs
func (h *JobHandler) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"jobs": h.scheduler.GetStatus(),
	})
}
