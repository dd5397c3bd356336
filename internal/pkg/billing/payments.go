package billing

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberVault/app/models"
)

// PaymentMetaSubscriptionID links a payment intent to its subscription.
const PaymentMetaSubscriptionID = "subscription_id"

// PaymentInput is a succeeded payment as delivered by the provider.
type PaymentInput struct {
	PaymentIntentID string            `json:"payment_intent_id"`
	CustomerID      string            `json:"customer_id"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	Status          string            `json:"status"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// RecordPayment appends a payment to the history of the paying user. Each
// payment intent is stored once; payments from unknown customers are
// ignored. It reports whether a new row was written.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (bool, error) {
	if in.PaymentIntentID == "" || in.CustomerID == "" {
		return false, nil
	}
	cust, err := s.repo.GetCustomerByStripeID(ctx, in.CustomerID)
	if err != nil {
		if IsNotFound(err) {
			log.Warnf("[Billing] payment %s from unmapped customer %s ignored", in.PaymentIntentID, in.CustomerID)
			return false, nil
		}
		return false, err
	}

	row := &models.PaymentHistory{
		UserID:                cust.UserID,
		StripePaymentIntentID: in.PaymentIntentID,
		Amount:                in.Amount,
		Currency:              in.Currency,
		Status:                in.Status,
		Description:           "Payment",
		Metadata:              metadataMap(in.Metadata),
	}

	if subID := in.Metadata[PaymentMetaSubscriptionID]; subID != "" {
		productID, name, err := s.subscriptionProduct(ctx, subID)
		if err != nil {
			return false, err
		}
		if productID != "" {
			row.StripeProductID = &productID
			row.Description = "Subscription: " + name
		}
	}

	created, err := s.repo.CreatePaymentIfNotExists(ctx, row)
	if err != nil {
		return false, fmt.Errorf("record payment %s: %w", in.PaymentIntentID, err)
	}
	if created {
		log.Infof("[Billing] payment %s recorded for user %d", in.PaymentIntentID, cust.UserID)
	}
	return created, nil
}

// subscriptionProduct resolves the product bought by a subscription, from
// the local mirror when possible and from the provider otherwise.
func (s *Service) subscriptionProduct(ctx context.Context, subscriptionID string) (string, string, error) {
	priceID := ""
	if local, err := s.repo.GetSubscription(ctx, subscriptionID); err == nil {
		priceID = local.PriceID
	} else if !IsNotFound(err) {
		return "", "", err
	}
	if priceID == "" {
		remote, err := s.provider.RetrieveSubscription(ctx, subscriptionID)
		if err != nil {
			return "", "", fmt.Errorf("retrieve subscription %s: %w", subscriptionID, err)
		}
		priceID = firstPriceID(remote)
	}
	if priceID == "" {
		return "", "", nil
	}

	price, err := s.repo.GetPrice(ctx, priceID)
	if err != nil {
		if IsNotFound(err) {
			return "", "", nil
		}
		return "", "", err
	}
	name := "Unknown"
	if price.Product != nil && price.Product.Name != "" {
		name = price.Product.Name
	}
	return price.ProductID, name, nil
}

// PaymentHistory returns the most recent payments of a user.
func (s *Service) PaymentHistory(ctx context.Context, userID uint, limit int) ([]models.PaymentHistory, error) {
	return s.repo.ListPaymentsByUser(ctx, userID, limit)
}
