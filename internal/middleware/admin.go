package middleware

import (
	"github.com/gofiber/fiber/v2"

	"menurec/internal/config"
)

// AdminMiddleware checks if the authenticated user is a superadmin.
// Tokens with role "admin" and ids listed in SUPERADMIN_USER_IDS both qualify.
func AdminMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals("user_id").(string)
		if !ok || userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		isSuperadmin := false
		if role, ok := c.Locals("user_role").(string); ok && role == "admin" {
			isSuperadmin = true
		}
		if !isSuperadmin {
			isSuperadmin = IsSuperadmin(userID, cfg)
		}

		if !isSuperadmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Superadmin access required",
			})
		}

		c.Locals("is_superadmin", true)
		return c.Next()
	}
}

// IsSuperadmin is a helper function to check if a user ID is a superadmin
func IsSuperadmin(userID string, cfg *config.Config) bool {
	for _, adminID := range cfg.SuperadminUserIDs {
		if adminID == userID {
			return true
		}
	}
	return false
}
