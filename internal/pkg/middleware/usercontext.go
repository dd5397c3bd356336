package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberVault/app/models"
	"github.com/ManuelReschke/MemberVault/internal/pkg/session"
	"github.com/ManuelReschke/MemberVault/internal/pkg/usercontext"
)

// UserFinder loads users by id.
type UserFinder interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
}

// UserContextMiddleware resolves the session user for every request. The role
// is read from the database on each request because reconciliation changes it
// outside the session.
func UserContextMiddleware(users UserFinder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := session.SessionUserID(c)
		if userID == 0 {
			usercontext.Set(c, usercontext.UserContext{}, "")
			return c.Next()
		}

		user, err := users.GetByID(c.UserContext(), userID)
		if err != nil {
			log.Warnf("[Auth] session user %d could not be loaded: %v", userID, err)
			usercontext.Set(c, usercontext.UserContext{}, "")
			return c.Next()
		}

		usercontext.Set(c, usercontext.FromUser(user), usercontext.AuthSession)
		return c.Next()
	}
}
