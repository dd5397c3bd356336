package billing

import (
	"context"

	"github.com/stripe/stripe-go/v82"
)

// Provider is the subset of the payment provider API used by billing.
// Implementations must be safe for concurrent use.
type Provider interface {
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	ListCustomerSubscriptions(ctx context.Context, customerID string, limit int64) ([]*stripe.Subscription, error)
	ListActiveProducts(ctx context.Context) ([]*stripe.Product, error)
	ListActivePrices(ctx context.Context) ([]*stripe.Price, error)
	RetrieveCustomer(ctx context.Context, customerID string) (*stripe.Customer, error)
	// FindCustomerByEmail returns nil without error when no customer matches.
	FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error)
	CreateCustomer(ctx context.Context, in CreateCustomerInput) (*stripe.Customer, error)
	CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*stripe.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error)
}

// CreateCustomerInput describes a provider customer to create.
type CreateCustomerInput struct {
	UserID         uint
	Email          string
	IdempotencyKey string
}

// CheckoutSessionInput describes a subscription-mode checkout session.
type CheckoutSessionInput struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	UserID     uint
}
