package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberVault/app/repository"
	"github.com/ManuelReschke/MemberVault/internal/pkg/billing"
	"github.com/ManuelReschke/MemberVault/internal/pkg/usercontext"
)

const adminUsersPerPage = 20

// AdminController handles admin-related HTTP requests using repository pattern
type AdminController struct {
	repos   *repository.Repositories
	billing BillingService
}

// NewAdminController creates a new admin controller with repository dependencies
func NewAdminController(repos *repository.Repositories, svc BillingService) *AdminController {
	return &AdminController{
		repos:   repos,
		billing: svc,
	}
}

type userUpdateRequest struct {
	UserID          uint       `json:"userId" validate:"required"`
	Role            *string    `json:"role"`
	Tokens          *int64     `json:"tokens"`
	TokensExpiresAt *time.Time `json:"tokensExpiresAt"`
}

// HandleUserUpdate applies a manual role or token override to a user.
func (ac *AdminController) HandleUserUpdate(c *fiber.Ctx) error {
	var req userUpdateRequest
	if err := parseBody(c, &req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "userId is required")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := ac.billing.ApplyUserOverride(ctx, billing.UserOverride{
		UserID:          req.UserID,
		Role:            req.Role,
		Tokens:          req.Tokens,
		TokensExpiresAt: req.TokensExpiresAt,
	})
	switch {
	case err == nil:
	case errors.Is(err, billing.ErrInvalidRole):
		return jsonError(c, fiber.StatusBadRequest, "invalid_role", "Unknown role")
	case errors.Is(err, billing.ErrInvalidTokens):
		return jsonError(c, fiber.StatusBadRequest, "invalid_tokens", "tokens must not be negative")
	case errors.Is(err, billing.ErrNothingToUpdate):
		return jsonError(c, fiber.StatusBadRequest, "nothing_to_update", "No valid fields to update")
	case errors.Is(err, billing.ErrUserNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", "User not found")
	default:
		log.Errorf("[Admin] override for user %d failed: %v", req.UserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to update user")
	}

	log.Infof("[Admin] user %d updated by admin %d", user.ID, usercontext.GetUserID(c))
	return c.JSON(fiber.Map{"success": true, "user": user})
}

// HandleUsers lists users page by page, or searches by name and email when
// q is given.
func (ac *AdminController) HandleUsers(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	roles, err := ac.repos.User.CountByRole(ctx)
	if err != nil {
		return ac.handleError(c, "Failed to count users by role", err)
	}

	if q := strings.TrimSpace(c.Query("q")); q != "" {
		users, err := ac.repos.User.Search(ctx, q, 50)
		if err != nil {
			return ac.handleError(c, "Failed to search users", err)
		}
		return c.JSON(fiber.Map{"users": users, "query": q, "roles": roles})
	}

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	total, err := ac.repos.User.Count(ctx)
	if err != nil {
		return ac.handleError(c, "Failed to get user count", err)
	}
	users, err := ac.repos.User.List(ctx, (page-1)*adminUsersPerPage, adminUsersPerPage)
	if err != nil {
		return ac.handleError(c, "Failed to list users", err)
	}

	totalPages := int(total) / adminUsersPerPage
	if int(total)%adminUsersPerPage > 0 {
		totalPages++
	}
	return c.JSON(fiber.Map{
		"users":      users,
		"page":       page,
		"totalPages": totalPages,
		"total":      total,
		"roles":      roles,
	})
}

func (ac *AdminController) handleError(c *fiber.Ctx, message string, err error) error {
	log.Errorf("[Admin] %s: %v", message, err)
	return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", message)
}
