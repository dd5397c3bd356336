package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MemberVault/app/models"
)

// UserContext represents the complete user context for a request
type UserContext struct {
	UserID     uint        `json:"user_id"`
	Email      string      `json:"email"`
	Role       models.Role `json:"role"`
	IsLoggedIn bool        `json:"is_logged_in"`
	IsAdmin    bool        `json:"is_admin"`
}

// FromUser builds the context of a signed-in user.
func FromUser(u *models.User) UserContext {
	return UserContext{
		UserID:     u.ID,
		Email:      u.Email,
		Role:       u.Role,
		IsLoggedIn: true,
		IsAdmin:    u.IsAdmin(),
	}
}

// Set stores the context and the legacy flat locals.
func Set(c *fiber.Ctx, uc UserContext, method string) {
	c.Locals(KeyUserContext, uc)
	c.Locals(KeyFromProtected, uc.IsLoggedIn)
	c.Locals(KeyUserID, uc.UserID)
	c.Locals(KeyIsAdmin, uc.IsAdmin)
	if method != "" {
		c.Locals(KeyAuthMethod, method)
	}
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return ctx
	}
	return UserContext{IsLoggedIn: false, IsAdmin: false}
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// IsAdmin checks if the current user is an admin
func IsAdmin(c *fiber.Ctx) bool {
	return GetUserContext(c).IsAdmin
}

// GetUserID returns the current user's ID, or 0 if not logged in
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}

// GetEmail returns the current user's email, or empty string if not logged in
func GetEmail(c *fiber.Ctx) string {
	return GetUserContext(c).Email
}
