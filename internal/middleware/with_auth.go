package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-progress-api/internal/utils"
)

// Auth role constants used by WithAuth helper.
const (
	AuthRoleAny     = "any"
	AuthRoleAdmin   = "admin"
	AuthRoleStudent = "student"
)

// AuthOptions configures the WithAuth helper.
type AuthOptions struct {
	Role        string
	RequireUser bool
}

// WithAuth wraps a handler with basic authentication/authorization guards.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	role := strings.ToLower(strings.TrimSpace(opts.Role))
	if role == "" {
		role = AuthRoleAny
	}

	requireUser := opts.RequireUser
	if !requireUser && role != AuthRoleAny {
		requireUser = true
	}

	return func(c *fiber.Ctx) error {
		if requireUser && !hasUser(c) {
			return utils.SendErrorCode(c, fiber.StatusUnauthorized, "unauthorized", "authentication required")
		}

		if role == AuthRoleAny {
			return handler(c)
		}

		currentRole := normalizeRoleValue(c.Locals("user_role"))
		allowed := currentRole == role
		if role == AuthRoleAdmin {
			// teachers administer their own courses
			allowed = currentRole == "admin" || currentRole == "teacher"
		}
		if !allowed {
			return utils.SendErrorCode(c, fiber.StatusForbidden, "forbidden", "insufficient permissions")
		}

		return handler(c)
	}
}

// Guard returns group middleware applying the WithAuth checks before the rest of the chain.
func Guard(opts AuthOptions) fiber.Handler {
	return WithAuth(func(c *fiber.Ctx) error {
		return c.Next()
	}, opts)
}

func hasUser(c *fiber.Ctx) bool {
	switch v := c.Locals("user_id").(type) {
	case uint:
		return v != 0
	case int:
		return v > 0
	default:
		return false
	}
}
