package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberVault/app/models"
	"github.com/ManuelReschke/MemberVault/app/repository"
	"github.com/ManuelReschke/MemberVault/internal/pkg/entitlements"
	"github.com/ManuelReschke/MemberVault/internal/pkg/usercontext"
)

// AccountController serves the signed-in user's account and API key.
type AccountController struct {
	repos *repository.Repositories
	now   func() time.Time
}

// NewAccountController creates an account controller.
func NewAccountController(repos *repository.Repositories) *AccountController {
	return &AccountController{repos: repos, now: time.Now}
}

// HandleGetUserAccount returns account information for the authenticated user (API key or session).
func (ac *AccountController) HandleGetUserAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := requestContext(c)
	defer cancel()

	account, err := ac.repos.User.GetByID(ctx, userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "User not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load user")
	}

	apiKey := fiber.Map{"active": false}
	key, err := ac.repos.ApiKey.GetByUserID(ctx, userCtx.UserID)
	switch {
	case err == nil:
		apiKey = fiber.Map{
			"active":       key.IsActive(),
			"key_prefix":   key.KeyPrefix,
			"issued_at":    formatTimePtr(key.IssuedAt),
			"last_used_at": formatTimePtr(key.LastUsedAt),
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load API key")
	}

	return c.JSON(fiber.Map{
		"id":                account.ID,
		"name":              account.Name,
		"email":             account.Email,
		"role":              account.Role,
		"membership_status": account.MembershipStatus,
		"is_admin":          account.IsAdmin(),
		"plan":              entitlements.PlanForRole(account.Role),
		"created_at":        account.CreatedAt.UTC().Format(time.RFC3339),
		"tokens_expires_at": formatTimePtr(account.TokensExpiresAt),
		"auth_method":       c.Locals(usercontext.KeyAuthMethod),
		"api_key":           apiKey,
	})
}

// HandleIssueAPIKey creates or rotates the user's API key. The raw key is
// only returned here.
func (ac *AccountController) HandleIssueAPIKey(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := requestContext(c)
	defer cancel()

	key, err := ac.repos.ApiKey.GetByUserID(ctx, userCtx.UserID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load API key")
		}
		key = &models.ApiKey{UserID: userCtx.UserID}
	}

	raw, err := key.Issue(ac.now())
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to generate API key")
	}
	if err := ac.repos.ApiKey.Save(ctx, key); err != nil {
		log.Errorf("[Auth] saving API key for user %d failed: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to store API key")
	}

	log.Infof("[Auth] API key issued for user %d", userCtx.UserID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"api_key":    raw,
		"key_prefix": key.KeyPrefix,
		"issued_at":  formatTimePtr(key.IssuedAt),
	})
}

// HandleRevokeAPIKey disables the user's API key.
func (ac *AccountController) HandleRevokeAPIKey(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := requestContext(c)
	defer cancel()

	key, err := ac.repos.ApiKey.GetByUserID(ctx, userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "No API key issued")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load API key")
	}

	key.Revoke(ac.now())
	if err := ac.repos.ApiKey.Save(ctx, key); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to revoke API key")
	}
	return c.JSON(fiber.Map{"success": true})
}
