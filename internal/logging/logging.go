package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithUser returns a logger with the user ID attached.
// Use this for decision and generation logs scoped to one user.
func WithUser(userID string) *slog.Logger {
	return slog.With("user_id", userID)
}

// WithJob returns a logger scoped to a scheduled job run.
func WithJob(jobName, runID string) *slog.Logger {
	return slog.With(
		"job", jobName,
		"run_id", runID,
	)
}
