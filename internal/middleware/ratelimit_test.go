package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

func TestLoadRateLimitConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_GLOBAL_API", "50")
	t.Setenv("RATE_LIMIT_GENERATE", "not-a-number")
	t.Setenv("ENVIRONMENT", "")

	config := LoadRateLimitConfig()
	if config.GlobalAPIMax != 50 {
		t.Errorf("Expected global max 50, got %d", config.GlobalAPIMax)
	}
	if config.GenerateMax != DefaultRateLimitConfig().GenerateMax {
		t.Errorf("Expected invalid override to keep default, got %d", config.GenerateMax)
	}
}

func TestGenerateRateLimiter_KeysByUser(t *testing.T) {
	config := &RateLimitConfig{GenerateMax: 2, GenerateExpiration: time.Minute}

	app := fiber.New()
	app.Post("/api/users/:userId/pages", GenerateRateLimiter(config), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	status := func(userID string) int {
		resp, err := app.Test(httptest.NewRequest("POST", "/api/users/"+userID+"/pages", nil))
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		if got := status("u1"); got != fiber.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i, got)
		}
	}
	if got := status("u1"); got != fiber.StatusTooManyRequests {
		t.Errorf("Expected 429 after the limit, got %d", got)
	}
	if got := status("u2"); got != fiber.StatusOK {
		t.Errorf("Other users must not share the limit, got %d", got)
	}
}
