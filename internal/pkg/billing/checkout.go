package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CheckoutResult is returned to the browser to redirect into checkout.
type CheckoutResult struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CreateCheckout maps the user to a provider customer and opens a
// subscription checkout for priceID.
func (s *Service) CreateCheckout(ctx context.Context, userID uint, email, priceID string) (*CheckoutResult, error) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return nil, errors.New("price id is required")
	}
	customerID, err := s.GetOrCreateCustomer(ctx, userID, email)
	if err != nil {
		return nil, err
	}

	base := strings.TrimRight(s.cfg.AppURL, "/")
	session, err := s.provider.CreateCheckoutSession(ctx, CheckoutSessionInput{
		CustomerID: customerID,
		PriceID:    priceID,
		SuccessURL: base + "/dashboard?success=true",
		CancelURL:  base + "/pricing?canceled=true",
		UserID:     userID,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutResult{SessionID: session.ID, URL: session.URL}, nil
}

// CreatePortal opens a billing portal session for a mapped user. Users
// without a customer get ErrNoCustomer.
func (s *Service) CreatePortal(ctx context.Context, userID uint, returnURL string) (string, error) {
	customerID, err := s.CustomerIDForUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(returnURL) == "" {
		returnURL = strings.TrimRight(s.cfg.AppURL, "/") + "/dashboard"
	}
	session, err := s.provider.CreatePortalSession(ctx, customerID, returnURL)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return session.URL, nil
}
