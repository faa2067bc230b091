package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"menurec/internal/middleware"
	"menurec/internal/models"
	"menurec/internal/services"
)

// RecommendationHandler serves the fetch, trigger and status endpoints
type RecommendationHandler struct {
	recommendations *services.RecommendationService
	status          *services.StatusService
}

// NewRecommendationHandler creates a new recommendation handler
func NewRecommendationHandler(recommendations *services.RecommendationService, status *services.StatusService) *RecommendationHandler {
	return &RecommendationHandler{recommendations: recommendations, status: status}
}

// RecommendRequest is the body of the POST endpoints
type RecommendRequest struct {
	UserID string `json:"userId"`
	Mode   string `json:"mode"`
}

// bind parses the key from the body (or query for GET) and checks the caller may act for it
func (h *RecommendationHandler) bind(c *fiber.Ctx) (string, models.Mode, error) {
	var req RecommendRequest
	if c.Method() == fiber.MethodGet {
		req.UserID = c.Query("userId")
		req.Mode = c.Query("mode")
	} else if err := c.BodyParser(&req); err != nil {
		return "", "", models.NewValidationError("body", "invalid request body")
	}

	if req.UserID == "" {
		return "", "", models.NewValidationError("userId", "user ID is required")
	}

	mode, err := models.ParseMode(req.Mode, h.recommendations.Modes())
	if err != nil {
		return "", "", err
	}
	return req.UserID, mode, nil
}

func forbidden(c *fiber.Ctx) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"success": false,
		"error":   "Token subject does not match userId",
	})
}

// Recommend returns the ranking, computing it when the cache has none
// POST /api/recommend
func (h *RecommendationHandler) Recommend(c *fiber.Ctx) error {
	userID, mode, err := h.bind(c)
	if err != nil {
		return respondError(c, err)
	}
	if !middleware.CallerMatches(c, userID) {
		return forbidden(c)
	}

	rec, err := h.recommendations.Ensure(c.UserContext(), userID, mode)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":        true,
		"data":           rec.Items,
		"fromCache":      rec.FromCache,
		"createdAt":      rec.CreatedAt.Format(time.RFC3339),
		"cacheExpiresAt": rec.ExpiresAt.Format(time.RFC3339),
	})
}

var triggerMessages = map[models.TriggerStatus]string{
	models.TriggerReady:      "Recommendations are ready",
	models.TriggerGenerating: "Recommendation generation started",
}

// Start kicks off background generation and returns immediately
// POST /api/recommend/start
func (h *RecommendationHandler) Start(c *fiber.Ctx) error {
	userID, mode, err := h.bind(c)
	if err != nil {
		return respondError(c, err)
	}
	if !middleware.CallerMatches(c, userID) {
		return forbidden(c)
	}

	status, err := h.recommendations.Trigger(c.UserContext(), userID, mode)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"status":  status,
		"message": triggerMessages[status],
	})
}

// Status reports the generation state of one key
// GET /api/recommend/status?userId=&mode=
func (h *RecommendationHandler) Status(c *fiber.Ctx) error {
	userID, mode, err := h.bind(c)
	if err != nil {
		return respondError(c, err)
	}
	if !middleware.CallerMatches(c, userID) {
		return forbidden(c)
	}

	report, err := h.status.Status(c.UserContext(), userID, mode)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"hasResult":    report.HasResult,
		"status":       report.Status,
		"createdAt":    report.CreatedAt,
		"expiresAt":    report.ExpiresAt,
		"errorMessage": report.ErrorMessage,
	})
}

// Preload triggers generation for every configured mode
// POST /api/recommend/preload
func (h *RecommendationHandler) Preload(c *fiber.Ctx) error {
	var req RecommendRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("body", "invalid request body"))
	}
	if req.UserID == "" {
		return respondError(c, models.NewValidationError("userId", "user ID is required"))
	}
	if !middleware.CallerMatches(c, req.UserID) {
		return forbidden(c)
	}

	modes, err := h.recommendations.Preload(c.UserContext(), req.UserID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"modes":   modes,
	})
}

// Regenerate recomputes a key even when a cached ranking exists
// POST /api/recommend/regenerate
func (h *RecommendationHandler) Regenerate(c *fiber.Ctx) error {
	userID, mode, err := h.bind(c)
	if err != nil {
		return respondError(c, err)
	}
	if !middleware.CallerMatches(c, userID) {
		return forbidden(c)
	}

	status, err := h.recommendations.Regenerate(c.UserContext(), userID, mode)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"status":  status,
	})
}
