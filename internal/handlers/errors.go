package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"menurec/internal/models"
)

// StatusClientClosedRequest is reported when the caller went away before the result was ready
const StatusClientClosedRequest = 499

// respondError maps the recommendation error taxonomy onto HTTP responses
func respondError(c *fiber.Ctx, err error) error {
	var (
		validationErr *models.ValidationError
		upstreamErr   *models.UpstreamError
		storeErr      *models.StoreError
	)

	switch {
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   validationErr.Error(),
			"field":   validationErr.Field,
		})
	case errors.Is(err, models.ErrGenerationInProgress):
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"success": false,
			"status":  models.CacheStatusGenerating,
			"message": "Recommendations are being generated. Poll the status endpoint.",
		})
	case models.IsCancellation(err):
		return c.Status(StatusClientClosedRequest).JSON(fiber.Map{
			"success": false,
			"error":   "request cancelled",
		})
	case errors.As(err, &upstreamErr):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to generate recommendations",
			"details": upstreamErr.Err.Error(),
		})
	case errors.As(err, &storeErr):
		log.Printf("❌ [RECOMMEND] Cache store unavailable: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"error":   "Recommendation cache unavailable, please retry",
		})
	default:
		log.Printf("❌ [RECOMMEND] Unexpected error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Internal server error",
		})
	}
}
