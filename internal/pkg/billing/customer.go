package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ManuelReschke/MemberVault/app/models"
)

// GetOrCreateCustomer returns the provider customer id for a user. A mapped
// id is verified on the provider first; if it no longer resolves the
// provider is searched by email, and only then is a new customer created.
// The local mapping is written once the provider side has resolved.
func (s *Service) GetOrCreateCustomer(ctx context.Context, userID uint, email string) (string, error) {
	if userID == 0 {
		return "", errors.New("user id is required")
	}
	ctx, span := s.tracer.Start(ctx, "billing.GetOrCreateCustomer")
	defer span.End()
	span.SetAttributes(attribute.Int64("billing.user_id", int64(userID)))

	customerID := ""
	priorID := ""

	existing, err := s.repo.GetCustomerByUserID(ctx, userID)
	if err != nil && !IsNotFound(err) {
		return "", fmt.Errorf("load customer mapping: %w", err)
	}
	if existing != nil && existing.StripeCustomerID != "" {
		priorID = existing.StripeCustomerID
		remote, err := s.provider.RetrieveCustomer(ctx, existing.StripeCustomerID)
		switch {
		case err != nil:
			log.Warnf("[Billing] mapped customer %s for user %d not retrievable, looking up again: %v", existing.StripeCustomerID, userID, err)
		case remote == nil || remote.Deleted:
			log.Warnf("[Billing] mapped customer %s for user %d was deleted, looking up again", existing.StripeCustomerID, userID)
		default:
			customerID = remote.ID
		}
	}

	if customerID == "" {
		found, err := s.provider.FindCustomerByEmail(ctx, strings.TrimSpace(email))
		if err != nil {
			return "", fmt.Errorf("search customer by email: %w", err)
		}
		if found != nil {
			customerID = found.ID
		}
	}

	if customerID == "" {
		created, err := s.provider.CreateCustomer(ctx, CreateCustomerInput{
			UserID:         userID,
			Email:          strings.TrimSpace(email),
			IdempotencyKey: customerIdempotencyKey(userID, email, priorID),
		})
		if err != nil {
			return "", fmt.Errorf("create customer: %w", err)
		}
		customerID = created.ID
		log.Infof("[Billing] created provider customer %s for user %d", customerID, userID)
	}

	row := &models.Customer{UserID: userID, StripeCustomerID: customerID}
	if err := s.repo.UpsertCustomer(ctx, row); err != nil {
		return "", fmt.Errorf("save customer mapping: %w", err)
	}
	return customerID, nil
}

// customerIdempotencyKey scopes a create to the user, the email and the
// mapping it replaces. A retry of the same create reuses the key, while a
// create after the previous customer was deleted or the email changed gets a
// fresh one instead of replaying the cached response.
func customerIdempotencyKey(userID uint, email, priorCustomerID string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email)) + "|" + priorCustomerID))
	return fmt.Sprintf("membervault-customer-%d-%s", userID, hex.EncodeToString(sum[:8]))
}

// CustomerIDForUser returns the mapped provider customer id or ErrNoCustomer.
func (s *Service) CustomerIDForUser(ctx context.Context, userID uint) (string, error) {
	c, err := s.repo.GetCustomerByUserID(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return "", ErrNoCustomer
		}
		return "", err
	}
	if c.StripeCustomerID == "" {
		return "", ErrNoCustomer
	}
	return c.StripeCustomerID, nil
}
