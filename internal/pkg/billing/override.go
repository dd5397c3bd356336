package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberVault/app/models"
)

// ApplyUserOverride writes role and token fields directly, bypassing
// reconciliation. A token count without an expiry is valid for one grant
// period. An override that carries nothing valid fails with
// ErrNothingToUpdate.
func (s *Service) ApplyUserOverride(ctx context.Context, in UserOverride) (*models.User, error) {
	if in.UserID == 0 {
		return nil, fmt.Errorf("%w: user id is required", ErrUserNotFound)
	}

	var role *models.Role
	if in.Role != nil {
		r, ok := models.ParseRole(*in.Role)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRole, *in.Role)
		}
		role = &r
	}

	var expiresAt *time.Time
	if in.Tokens != nil {
		if *in.Tokens < 0 {
			return nil, ErrInvalidTokens
		}
		if in.TokensExpiresAt != nil {
			t := *in.TokensExpiresAt
			expiresAt = &t
		} else {
			t := s.clock.Now().Add(s.cfg.TokenGrantPeriod)
			expiresAt = &t
		}
	}

	if role == nil && in.Tokens == nil {
		return nil, ErrNothingToUpdate
	}

	if err := s.repo.UpdateUserOverride(ctx, in.UserID, role, in.Tokens, expiresAt); err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: %d", ErrUserNotFound, in.UserID)
		}
		return nil, err
	}

	user, err := s.repo.GetUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	log.Infof("[Billing] admin override applied to user %d: role=%s tokens=%d", user.ID, user.Role, user.Tokens)
	return user, nil
}

// SeedAdmin promotes an existing user to ADMIN with a long-lived token grant.
func (s *Service) SeedAdmin(ctx context.Context, email string, tokens int64, validFor time.Duration) (*models.User, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, email)
		}
		return nil, err
	}
	role := string(models.ROLE_ADMIN)
	expires := s.clock.Now().Add(validFor)
	return s.ApplyUserOverride(ctx, UserOverride{
		UserID:          user.ID,
		Role:            &role,
		Tokens:          &tokens,
		TokensExpiresAt: &expires,
	})
}
