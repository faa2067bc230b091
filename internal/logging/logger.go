package logging

import (
	"log/slog"
	"os"
	"strings"

	"menurec/internal/models"
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

// WithKey returns a logger scoped to one cache key.
// Use this for everything logged while generating a recommendation.
func WithKey(key models.CacheKey) *slog.Logger {
	return slog.With(
		"user_id", key.UserID,
		"mode", string(key.Mode),
	)
}

// WithJob returns a logger scoped to a scheduled job run
func WithJob(name, runID string) *slog.Logger {
	return slog.With(
		"job", name,
		"run_id", runID,
	)
}
