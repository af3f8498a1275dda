package health

import (
	"net/http"
	"strings"
	"time"
)

// IsQuotaError detects if an error is related to quota exhaustion or rate limiting
func IsQuotaError(statusCode int, responseBody string) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}

	lowerBody := strings.ToLower(responseBody)
	quotaPatterns := []string{
		"quota exceeded",
		"rate limit",
		"too many requests",
		"request limit",
		"daily limit",
		"insufficient_quota",
		"rate_limit_exceeded",
	}

	for _, pattern := range quotaPatterns {
		if strings.Contains(lowerBody, pattern) {
			return true
		}
	}

	return false
}

// ParseCooldownDuration determines the cooldown a quota error deserves
func ParseCooldownDuration(statusCode int, responseBody string) time.Duration {
	lowerBody := strings.ToLower(responseBody)

	// Daily limit or billing issues - cool down for a long time
	if strings.Contains(lowerBody, "daily limit") ||
		strings.Contains(lowerBody, "insufficient_quota") {
		return 24 * time.Hour
	}

	// Per-minute rate limits recover quickly
	if statusCode == http.StatusTooManyRequests {
		return 5 * time.Minute
	}

	return defaultCooldownDuration
}
