package handlers

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"menurec/internal/cachestore"
)

// AdminCacheHandler exposes cache inspection and maintenance to superadmins
type AdminCacheHandler struct {
	store cachestore.Store
	now   func() time.Time
}

// NewAdminCacheHandler creates a new admin cache handler
func NewAdminCacheHandler(store cachestore.Store) *AdminCacheHandler {
	return &AdminCacheHandler{store: store, now: time.Now}
}

// Inspect lists cache rows, expired ones included
// GET /api/admin/cache?userId=
func (h *AdminCacheHandler) Inspect(c *fiber.Ctx) error {
	userID := c.Query("userId")

	entries, err := h.store.Inspect(c.UserContext(), userID, h.now())
	if err != nil {
		return respondError(c, err)
	}

	valid := 0
	for _, e := range entries {
		if e.IsValid {
			valid++
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"userId":  userID,
		"total":   len(entries),
		"valid":   valid,
		"entries": entries,
	})
}

// Clear deletes every cache row
// DELETE /api/admin/cache
func (h *AdminCacheHandler) Clear(c *fiber.Ctx) error {
	deleted, err := h.store.Clear(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}

	adminID, _ := c.Locals("user_id").(string)
	log.Printf("🗑️  [ADMIN] Cache cleared by %s: %d rows deleted", adminID, deleted)

	return c.JSON(fiber.Map{
		"success": true,
		"deleted": deleted,
	})
}

// Repair relabels pending rows that already carry a ranking
// POST /api/admin/cache/repair
func (h *AdminCacheHandler) Repair(c *fiber.Ctx) error {
	repaired, err := h.store.RepairLabels(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}

	log.Printf("🔧 [ADMIN] Relabelled %d pending cache rows as completed", repaired)

	return c.JSON(fiber.Map{
		"success":  true,
		"repaired": repaired,
	})
}
