package billing

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/product"
	"github.com/stripe/stripe-go/v82/subscription"
)

const (
	// CustomerMetaUserID tags provider customers with the local user id.
	CustomerMetaUserID = "userID"

	catalogPageSize = 100
)

// StripeProvider implements Provider on top of stripe-go. Calls are held in
// function fields so tests can replace them.
type StripeProvider struct {
	getSubscription    func(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	listSubscriptions  func(params *stripe.SubscriptionListParams) ([]*stripe.Subscription, error)
	listProducts       func(params *stripe.ProductListParams) ([]*stripe.Product, error)
	listPrices         func(params *stripe.PriceListParams) ([]*stripe.Price, error)
	getCustomer        func(id string, params *stripe.CustomerParams) (*stripe.Customer, error)
	listCustomers      func(params *stripe.CustomerListParams) ([]*stripe.Customer, error)
	newCustomer        func(params *stripe.CustomerParams) (*stripe.Customer, error)
	newCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	newPortalSession   func(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
}

// NewStripeProvider configures the global stripe key and returns a provider
// backed by the stripe-go resource packages.
func NewStripeProvider(secretKey string) *StripeProvider {
	stripe.Key = strings.TrimSpace(secretKey)
	return &StripeProvider{
		getSubscription:    subscription.Get,
		listSubscriptions:  collectSubscriptions,
		listProducts:       collectProducts,
		listPrices:         collectPrices,
		getCustomer:        customer.Get,
		listCustomers:      collectCustomers,
		newCustomer:        customer.New,
		newCheckoutSession: checkoutsession.New,
		newPortalSession:   portalsession.New,
	}
}

func collectSubscriptions(params *stripe.SubscriptionListParams) ([]*stripe.Subscription, error) {
	iter := subscription.List(params)
	var out []*stripe.Subscription
	for iter.Next() {
		out = append(out, iter.Subscription())
	}
	return out, iter.Err()
}

func collectProducts(params *stripe.ProductListParams) ([]*stripe.Product, error) {
	iter := product.List(params)
	var out []*stripe.Product
	for iter.Next() {
		out = append(out, iter.Product())
	}
	return out, iter.Err()
}

func collectPrices(params *stripe.PriceListParams) ([]*stripe.Price, error) {
	iter := price.List(params)
	var out []*stripe.Price
	for iter.Next() {
		out = append(out, iter.Price())
	}
	return out, iter.Err()
}

func collectCustomers(params *stripe.CustomerListParams) ([]*stripe.Customer, error) {
	iter := customer.List(params)
	var out []*stripe.Customer
	for iter.Next() {
		out = append(out, iter.Customer())
	}
	return out, iter.Err()
}

func (p *StripeProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("default_payment_method")
	return p.getSubscription(subscriptionID, params)
}

func (p *StripeProvider) ListCustomerSubscriptions(ctx context.Context, customerID string, limit int64) ([]*stripe.Subscription, error) {
	if limit <= 0 {
		limit = 10
	}
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		ListParams: stripe.ListParams{
			Limit:  stripe.Int64(limit),
			Single: true,
		},
	}
	params.Context = ctx
	return p.listSubscriptions(params)
}

func (p *StripeProvider) ListActiveProducts(ctx context.Context) ([]*stripe.Product, error) {
	params := &stripe.ProductListParams{
		Active: stripe.Bool(true),
		ListParams: stripe.ListParams{
			Limit: stripe.Int64(catalogPageSize),
		},
	}
	params.Context = ctx
	return p.listProducts(params)
}

func (p *StripeProvider) ListActivePrices(ctx context.Context) ([]*stripe.Price, error) {
	params := &stripe.PriceListParams{
		Active: stripe.Bool(true),
		ListParams: stripe.ListParams{
			Limit: stripe.Int64(catalogPageSize),
		},
	}
	params.Context = ctx
	return p.listPrices(params)
}

func (p *StripeProvider) RetrieveCustomer(ctx context.Context, customerID string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	return p.getCustomer(customerID, params)
}

func (p *StripeProvider) FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}
	params := &stripe.CustomerListParams{
		Email: stripe.String(email),
		ListParams: stripe.ListParams{
			Limit:  stripe.Int64(1),
			Single: true,
		},
	}
	params.Context = ctx
	found, err := p.listCustomers(params)
	if err != nil {
		return nil, err
	}
	for _, c := range found {
		if c != nil && !c.Deleted {
			return c, nil
		}
	}
	return nil, nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, in CreateCustomerInput) (*stripe.Customer, error) {
	if in.UserID == 0 {
		return nil, errors.New("user id is required")
	}
	params := &stripe.CustomerParams{}
	if email := strings.TrimSpace(in.Email); email != "" {
		params.Email = stripe.String(email)
	}
	params.Context = ctx
	params.AddMetadata(CustomerMetaUserID, strconv.FormatUint(uint64(in.UserID), 10))
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}
	return p.newCustomer(params)
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:            stripe.String(in.CustomerID),
		Mode:                stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes:  stripe.StringSlice([]string{"card"}),
		AllowPromotionCodes: stripe.Bool(true),
		SuccessURL:          stripe.String(in.SuccessURL),
		CancelURL:           stripe.String(in.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	if in.UserID != 0 {
		ref := strconv.FormatUint(uint64(in.UserID), 10)
		params.ClientReferenceID = stripe.String(ref)
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{CustomerMetaUserID: ref},
		}
	}
	params.Context = ctx
	return p.newCheckoutSession(params)
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer: stripe.String(customerID),
	}
	if returnURL != "" {
		params.ReturnURL = stripe.String(returnURL)
	}
	params.Context = ctx
	return p.newPortalSession(params)
}
