package billing

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ManuelReschke/MemberVault/app/models"
	"github.com/ManuelReschke/MemberVault/internal/pkg/metrics"
)

// CheckAccess decides whether a user may see premium content. Unless
// opts.SkipSync is set, the user's provider subscriptions are reconciled
// first and a sync failure is returned to the caller. Admins always have
// access; everyone else needs an active or trialing subscription.
func (s *Service) CheckAccess(ctx context.Context, userID uint, opts AccessOptions) (*AccessResult, error) {
	ctx, span := s.tracer.Start(ctx, "billing.CheckAccess")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("billing.user_id", int64(userID)),
		attribute.Bool("billing.skip_sync", opts.SkipSync),
	)

	if !opts.SkipSync {
		if err := s.SyncUserSubscriptions(ctx, userID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sync failed")
			metrics.AccessChecksTotal.WithLabelValues("sync_failed").Inc()
			return nil, fmt.Errorf("sync subscriptions for user %d: %w", userID, err)
		}
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			metrics.AccessChecksTotal.WithLabelValues("denied").Inc()
			return &AccessResult{HasAccess: false}, nil
		}
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}

	sub, err := s.activeSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := &AccessResult{
		HasAccess:    user.IsAdmin() || sub != nil,
		Subscription: sub,
		User:         user,
	}
	if res.HasAccess {
		metrics.AccessChecksTotal.WithLabelValues("granted").Inc()
	} else {
		metrics.AccessChecksTotal.WithLabelValues("denied").Inc()
	}
	span.SetAttributes(attribute.Bool("billing.has_access", res.HasAccess))
	return res, nil
}

// CheckAccessWithFallback runs a synced access check and, when the sync
// fails, answers from local state instead.
func (s *Service) CheckAccessWithFallback(ctx context.Context, userID uint) (*AccessResult, bool, error) {
	res, err := s.CheckAccess(ctx, userID, AccessOptions{})
	if err == nil {
		return res, false, nil
	}
	log.Warnf("[Billing] access sync for user %d failed, using local state: %v", userID, err)
	res, err = s.CheckAccess(ctx, userID, AccessOptions{SkipSync: true})
	return res, true, err
}

// GetUserSubscription returns the most recent active or trialing
// subscription, or nil when there is none. With autoSync the user's provider
// subscriptions are reconciled first.
func (s *Service) GetUserSubscription(ctx context.Context, userID uint, autoSync bool) (*models.Subscription, error) {
	if autoSync {
		if err := s.SyncUserSubscriptions(ctx, userID); err != nil {
			return nil, err
		}
	}
	return s.activeSubscription(ctx, userID)
}

func (s *Service) activeSubscription(ctx context.Context, userID uint) (*models.Subscription, error) {
	sub, err := s.repo.FindActiveSubscription(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load active subscription for user %d: %w", userID, err)
	}
	return sub, nil
}

// SubscriptionHistory lists every mirrored subscription of the user, newest
// first. It reads local state only.
func (s *Service) SubscriptionHistory(ctx context.Context, userID uint) ([]SubscriptionSummary, error) {
	subs, err := s.repo.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for user %d: %w", userID, err)
	}
	out := make([]SubscriptionSummary, 0, len(subs))
	for i := range subs {
		sub := &subs[i]
		out = append(out, SubscriptionSummary{
			ID:                sub.ID,
			ProductID:         sub.ProductID,
			Status:            sub.Status,
			Entitled:          sub.IsEntitled(),
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
			CanceledAt:        sub.CanceledAt,
			CurrentPeriodEnd:  sub.CurrentPeriodEnd,
			CreatedAt:         sub.CreatedAt,
		})
	}
	return out, nil
}

// AllowsProduct reports whether the result opens content gated on
// requiredProductID. Admins pass every gate. An empty requirement only needs
// access.
func (r *AccessResult) AllowsProduct(requiredProductID string) bool {
	if r == nil || !r.HasAccess {
		return false
	}
	if r.User != nil && r.User.IsAdmin() {
		return true
	}
	productID := ""
	if r.Subscription != nil {
		productID = r.Subscription.ProductID
	}
	return HasProductAccess(productID, requiredProductID)
}

// HasProductAccess reports whether a user holding userProductID may see
// content that requires requiredProductID. Empty requirements are open.
func HasProductAccess(userProductID, requiredProductID string) bool {
	if requiredProductID == "" {
		return true
	}
	if userProductID == "" {
		return false
	}
	return userProductID == requiredProductID
}

// HasPremiumAccess reports whether the user holds any product.
func HasPremiumAccess(userProductID string) bool {
	return userProductID != ""
}

// ProductFeatures returns the feature list stored in product metadata.
func ProductFeatures(p *models.Product) []string {
	if p == nil {
		return []string{}
	}
	return p.Features()
}

// ProductDisplayName returns the metadata display name, the product name, or
// "Unknown".
func ProductDisplayName(p *models.Product) string {
	if name := p.DisplayName(); name != "" {
		return name
	}
	return "Unknown"
}
