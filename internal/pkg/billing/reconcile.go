package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ManuelReschke/MemberVault/app/models"
	"github.com/ManuelReschke/MemberVault/internal/pkg/entitlements"
	"github.com/ManuelReschke/MemberVault/internal/pkg/metrics"
)

// ReconcileSubscription pulls a subscription from the provider, mirrors it
// locally and applies the entitlement effect of its status to the owner.
// Customer and price lookups happen before any write, so a lookup failure
// leaves every row untouched.
func (s *Service) ReconcileSubscription(ctx context.Context, subscriptionID, customerID string) error {
	return s.reconcile(ctx, subscriptionID, customerID, true)
}

// reconcile mirrors one subscription. The entitlement effect is applied only
// when entitle is set; otherwise the row is stored and the user is left alone.
func (s *Service) reconcile(ctx context.Context, subscriptionID, customerID string, entitle bool) (err error) {
	start := s.clock.Now()
	effect := EffectNoop
	ctx, span := s.tracer.Start(ctx, "billing.ReconcileSubscription")
	span.SetAttributes(
		attribute.String("billing.subscription_id", subscriptionID),
		attribute.String("billing.customer_id", customerID),
		attribute.Bool("billing.entitle", entitle),
	)
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "reconcile failed")
		}
		span.SetAttributes(attribute.String("billing.effect", effect.String()))
		span.End()
		metrics.ReconciliationsTotal.WithLabelValues(effect.String(), outcome).Inc()
		metrics.ReconcileDuration.WithLabelValues(outcome).Observe(s.clock.Since(start).Seconds())
	}()

	cust, err := s.repo.GetCustomerByStripeID(ctx, customerID)
	if err != nil {
		if IsNotFound(err) {
			return fmt.Errorf("%w for provider id %s", ErrCustomerLookup, customerID)
		}
		return fmt.Errorf("%w for provider id %s: %w", ErrCustomerLookup, customerID, err)
	}

	remote, err := s.provider.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("retrieve subscription %s: %w", subscriptionID, err)
	}

	priceID := firstPriceID(remote)
	if priceID == "" {
		return fmt.Errorf("%w: subscription %s has no line items", ErrPriceLookup, subscriptionID)
	}
	price, err := s.repo.GetPrice(ctx, priceID)
	if err != nil {
		if IsNotFound(err) {
			return fmt.Errorf("%w for id %s", ErrPriceLookup, priceID)
		}
		return fmt.Errorf("%w for id %s: %w", ErrPriceLookup, priceID, err)
	}

	row := s.subscriptionRow(remote, cust, price)
	if err := s.repo.UpsertSubscription(ctx, row); err != nil {
		return fmt.Errorf("upsert subscription %s: %w", row.ID, err)
	}

	if !entitle {
		log.Debugf("[Billing] subscription %s mirrored: status=%s user=%d", row.ID, row.Status, cust.UserID)
		return nil
	}

	effect = EffectFor(row.Status)
	if err := s.applyEffect(ctx, cust.UserID, price.ProductID, effect); err != nil {
		return fmt.Errorf("apply %s to user %d: %w", effect, cust.UserID, err)
	}

	log.Infof("[Billing] subscription %s reconciled: status=%s effect=%s user=%d", row.ID, row.Status, effect, cust.UserID)
	return nil
}

func (s *Service) subscriptionRow(remote *stripe.Subscription, cust *models.Customer, price *models.Price) *models.Subscription {
	now := s.clock.Now()
	row := &models.Subscription{
		ID:                remote.ID,
		UserID:            cust.UserID,
		CustomerID:        cust.ID,
		PriceID:           price.ID,
		ProductID:         price.ProductID,
		Status:            string(remote.Status),
		CancelAtPeriodEnd: remote.CancelAtPeriodEnd,
		CanceledAt:        unixToTime(remote.CanceledAt),
		TrialStart:        unixToTime(remote.TrialStart),
		TrialEnd:          unixToTime(remote.TrialEnd),
		Metadata:          metadataMap(remote.Metadata),
	}

	var periodStart, periodEnd int64
	if item := firstItem(remote); item != nil {
		periodStart = item.CurrentPeriodStart
		periodEnd = item.CurrentPeriodEnd
	}
	row.CurrentPeriodStart = timeOrNow(periodStart, now)
	row.CurrentPeriodEnd = timeOrNow(periodEnd, now)
	return row
}

// applyEffect writes the role, membership and product derived from effect.
// Tokens are granted only when the entitlement is newly established or the
// previous grant has lapsed, so repeated reconciliation of an unchanged
// subscription does not reset a partly spent balance.
func (s *Service) applyEffect(ctx context.Context, userID uint, productID string, effect Effect) error {
	if effect == EffectNoop {
		return nil
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return fmt.Errorf("%w: %d", ErrUserNotFound, userID)
		}
		return err
	}

	switch effect {
	case EffectGrant:
		alreadyEntitled := user.HasActiveMembership() && user.ProductID() == productID
		role := entitlements.ApplyAutoTransition(user.Role, models.ROLE_PREMIUM)
		pid := productID
		if err := s.repo.UpdateUserEntitlement(ctx, userID, &pid, models.MEMBERSHIP_ACTIVE, role); err != nil {
			return err
		}
		if alreadyEntitled && !s.grantLapsed(user) {
			return nil
		}
		return s.grantTokens(ctx, userID, productID, "reconcile")
	case EffectRevoke:
		role := entitlements.ApplyAutoTransition(user.Role, models.ROLE_USER)
		return s.repo.UpdateUserEntitlement(ctx, userID, nil, models.MEMBERSHIP_INACTIVE, role)
	}
	return nil
}

func (s *Service) grantLapsed(u *models.User) bool {
	return u.TokensExpiresAt == nil || u.TokensExpiresAt.Before(s.clock.Now())
}

// SyncUserSubscriptions reconciles the most recent provider subscriptions of
// the user's customer. Users without a customer have nothing to sync.
func (s *Service) SyncUserSubscriptions(ctx context.Context, userID uint) error {
	customerID, err := s.CustomerIDForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoCustomer) {
			return nil
		}
		return err
	}

	subs, err := s.provider.ListCustomerSubscriptions(ctx, customerID, s.cfg.SubscriptionSyncLimit)
	if err != nil {
		return fmt.Errorf("list subscriptions for %s: %w", customerID, err)
	}

	// Every subscription is mirrored, but only the deciding one touches the
	// user. Applying each effect in turn would let an expired history entry
	// revoke the user right before a live one grants again, which refills
	// the token balance on every sweep.
	decider := decidingSubscription(subs)
	var errs []error
	for i := len(subs) - 1; i >= 0; i-- {
		sub := subs[i]
		if sub == nil || sub.ID == "" {
			continue
		}
		if err := s.reconcile(ctx, sub.ID, customerID, sub.ID == decider); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Debugf("[Billing] synced %d subscriptions for user %d", len(subs), userID)
	return nil
}

// decidingSubscription picks the subscription whose status sets the user's
// entitlement: the newest one that grants, or the newest one overall when
// none grants. subs is ordered newest first.
func decidingSubscription(subs []*stripe.Subscription) string {
	newest := ""
	for _, sub := range subs {
		if sub == nil || sub.ID == "" {
			continue
		}
		if newest == "" {
			newest = sub.ID
		}
		if EffectFor(string(sub.Status)) == EffectGrant {
			return sub.ID
		}
	}
	return newest
}

func firstItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	return sub.Items.Data[0]
}

func firstPriceID(sub *stripe.Subscription) string {
	item := firstItem(sub)
	if item == nil || item.Price == nil {
		return ""
	}
	return item.Price.ID
}

func unixToTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func timeOrNow(ts int64, now time.Time) time.Time {
	if t := unixToTime(ts); t != nil {
		return *t
	}
	return now
}
