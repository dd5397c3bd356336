package billing

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberVault/internal/pkg/metrics"
)

// maxRegrants bounds the lazy renewal in GetTokens.
const maxRegrants = 1

// GrantTokens sets the user's balance to the product's token amount, valid
// for one grant period. Grants overwrite, they never add. Products without
// a positive token amount leave the user unchanged.
func (s *Service) GrantTokens(ctx context.Context, userID uint, productID string) error {
	return s.grantTokens(ctx, userID, productID, "direct")
}

func (s *Service) grantTokens(ctx context.Context, userID uint, productID, trigger string) error {
	if productID == "" {
		return nil
	}
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		if IsNotFound(err) {
			log.Warnf("[Billing] token grant for user %d skipped, product %s unknown", userID, productID)
			return nil
		}
		return fmt.Errorf("load product %s: %w", productID, err)
	}

	amount := product.TokenGrant()
	if amount <= 0 {
		return nil
	}
	expiresAt := s.clock.Now().Add(s.cfg.TokenGrantPeriod)
	if err := s.repo.SetUserTokens(ctx, userID, amount, &expiresAt); err != nil {
		if IsNotFound(err) {
			return fmt.Errorf("%w: %d", ErrUserNotFound, userID)
		}
		return fmt.Errorf("set tokens for user %d: %w", userID, err)
	}
	metrics.TokenGrantsTotal.WithLabelValues(trigger).Inc()
	log.Infof("[Billing] granted %d tokens to user %d (product %s, until %s)", amount, userID, productID, expiresAt.Format("2006-01-02"))
	return nil
}

// GetTokens returns the effective balance. An expired grant reads as zero
// unless the user still holds an active membership, in which case the grant
// is renewed once and the balance read again.
func (s *Service) GetTokens(ctx context.Context, userID uint) (TokenInfo, error) {
	regrants := 0
	for {
		user, err := s.repo.GetUser(ctx, userID)
		if err != nil {
			if IsNotFound(err) {
				return TokenInfo{Tokens: 0, Expired: true}, nil
			}
			return TokenInfo{}, fmt.Errorf("load user %d: %w", userID, err)
		}

		expired := s.grantLapsed(user)
		if expired && regrants < maxRegrants && user.HasActiveMembership() {
			regrants++
			if err := s.grantTokens(ctx, userID, user.ProductID(), "renewal"); err != nil {
				return TokenInfo{}, err
			}
			continue
		}

		info := TokenInfo{Expired: expired, ExpiresAt: user.TokensExpiresAt}
		if !expired {
			info.Tokens = user.Tokens
		}
		return info, nil
	}
}

// ConsumeTokens spends amount tokens, treating amounts below one as one.
// It reports false without writing when the grant is expired or the balance
// does not cover the amount. The decrement itself is conditional at the
// storage layer, so concurrent consumers cannot drive the balance negative.
func (s *Service) ConsumeTokens(ctx context.Context, userID uint, amount int64) (bool, error) {
	if amount < 1 {
		amount = 1
	}
	info, err := s.GetTokens(ctx, userID)
	if err != nil {
		return false, err
	}
	if info.Expired {
		metrics.TokenConsumptionsTotal.WithLabelValues("expired").Inc()
		return false, nil
	}
	if info.Tokens < amount {
		metrics.TokenConsumptionsTotal.WithLabelValues("insufficient").Inc()
		return false, nil
	}

	ok, err := s.repo.DecrementUserTokens(ctx, userID, amount, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("decrement tokens for user %d: %w", userID, err)
	}
	if !ok {
		metrics.TokenConsumptionsTotal.WithLabelValues("race").Inc()
		return false, nil
	}
	metrics.TokenConsumptionsTotal.WithLabelValues("ok").Inc()
	return true, nil
}
