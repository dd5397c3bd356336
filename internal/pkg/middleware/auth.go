package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MemberVault/app/models"
	icuser "github.com/ManuelReschke/MemberVault/internal/pkg/usercontext"
)

// RequireAPISessionAuth ensures a signed-in user for API routes and returns JSON 401.
func RequireAPISessionAuth(c *fiber.Ctx) error {
	v := c.Locals(icuser.KeyFromProtected)
	loggedIn := false
	if b, ok := v.(bool); ok {
		loggedIn = b
	}
	if !loggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	return c.Next()
}

// RequireAdmin ensures a signed-in admin and returns JSON 401/403 otherwise.
func RequireAdmin(c *fiber.Ctx) error {
	uc := icuser.GetUserContext(c)
	if !uc.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	if !uc.IsAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "admin access required",
		})
	}
	return c.Next()
}

// RequireNotBanned rejects users whose role is BANNED.
func RequireNotBanned(c *fiber.Ctx) error {
	uc := icuser.GetUserContext(c)
	if uc.IsLoggedIn && uc.Role == models.ROLE_BANNED {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "account suspended",
		})
	}
	return c.Next()
}
