package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"menurec/internal/cachestore"
	"menurec/internal/catalog"
	"menurec/internal/services"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	store   cachestore.Store
	redis   *services.RedisService
	catalog catalog.Provider
	tracker *services.InflightTracker
}

// NewHealthHandler creates a new health handler. redis may be nil.
func NewHealthHandler(store cachestore.Store, redis *services.RedisService, catalogProvider catalog.Provider, tracker *services.InflightTracker) *HealthHandler {
	return &HealthHandler{store: store, redis: redis, catalog: catalogProvider, tracker: tracker}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	healthy := true
	checks := fiber.Map{}

	if err := h.store.Ping(ctx); err != nil {
		healthy = false
		checks["store"] = err.Error()
	} else {
		checks["store"] = "ok"
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			// Generation falls back to in-process dedup without Redis
			checks["redis"] = err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}

	status, code := "healthy", fiber.StatusOK
	if !healthy {
		status, code = "unhealthy", fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":        status,
		"checks":        checks,
		"catalog_items": h.catalog.Current().Len(),
		"in_flight":     h.tracker.Count(),
		"timestamp":     time.Now().Format(time.RFC3339),
	})
}
