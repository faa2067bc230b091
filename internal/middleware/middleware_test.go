package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"menurec/internal/config"
	"menurec/pkg/auth"
)

func newAuthApp(jwtAuth *auth.JWTAuth, environment string, cfg *config.Config) *fiber.App {
	app := fiber.New()
	app.Use(AuthMiddleware(jwtAuth, environment))
	app.Get("/me/:userId", func(c *fiber.Ctx) error {
		if !CallerMatches(c, c.Params("userId")) {
			return c.SendStatus(fiber.StatusForbidden)
		}
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/admin", AdminMiddleware(cfg), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func doGet(t *testing.T, app *fiber.App, path, token string) int {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	return resp.StatusCode
}

func TestAuthMiddleware(t *testing.T) {
	jwtAuth, _ := auth.NewJWTAuth("secret", time.Hour)
	cfg := &config.Config{SuperadminUserIDs: []string{"ops"}}
	app := newAuthApp(jwtAuth, "production", cfg)

	userToken, _ := jwtAuth.Issue("U", "user")
	opsToken, _ := jwtAuth.Issue("ops", "user")
	roleToken, _ := jwtAuth.Issue("root", "admin")

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"missing token", "/me/U", "", fiber.StatusUnauthorized},
		{"bad token", "/me/U", "garbage", fiber.StatusUnauthorized},
		{"own user", "/me/U", userToken, fiber.StatusOK},
		{"other user", "/me/V", userToken, fiber.StatusForbidden},
		{"admin role acts for anyone", "/me/V", roleToken, fiber.StatusOK},
		{"admin route as user", "/admin", userToken, fiber.StatusForbidden},
		{"admin route as listed superadmin", "/admin", opsToken, fiber.StatusOK},
		{"admin route as admin role", "/admin", roleToken, fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := doGet(t, app, tt.path, tt.token); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestAuthMiddleware_NotConfigured(t *testing.T) {
	cfg := &config.Config{}

	dev := newAuthApp(nil, "development", cfg)
	if got := doGet(t, dev, "/me/anyone", ""); got != fiber.StatusOK {
		t.Errorf("Expected development bypass, got %d", got)
	}
	if got := doGet(t, dev, "/admin", ""); got != fiber.StatusForbidden {
		t.Errorf("Expected admin routes to stay closed, got %d", got)
	}

	prod := newAuthApp(nil, "production", cfg)
	if got := doGet(t, prod, "/me/anyone", ""); got != fiber.StatusServiceUnavailable {
		t.Errorf("Expected production to refuse unauthenticated requests, got %d", got)
	}
}

func TestRecommendRateLimiter(t *testing.T) {
	app := fiber.New()
	app.Use(RecommendRateLimiter(&RateLimitConfig{RecommendMax: 2, RecommendExpiration: time.Minute}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for i := 0; i < 2; i++ {
		if got := doGet(t, app, "/", ""); got != fiber.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i+1, got)
		}
	}
	if got := doGet(t, app, "/", ""); got != fiber.StatusTooManyRequests {
		t.Errorf("Expected 429 after the limit, got %d", got)
	}
}
