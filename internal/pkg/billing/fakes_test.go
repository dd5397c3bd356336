package billing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberVault/app/models"
)

var testEpoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// memRepo is an in-memory Repository. It counts writes so tests can assert
// that failed operations left storage untouched.
type memRepo struct {
	mu            sync.Mutex
	users         map[uint]*models.User
	customers     map[uint]*models.Customer
	products      map[string]*models.Product
	prices        map[string]*models.Price
	subscriptions map[string]*models.Subscription
	payments      map[string]*models.PaymentHistory
	events        map[string]*models.BillingWebhookEvent
	nextID        uint
	writes        int
	clock         clockwork.Clock

	// priceFailures makes the next n UpsertPrice calls fail with a foreign
	// key violation.
	priceFailures int
}

func newMemRepo(clock clockwork.Clock) *memRepo {
	return &memRepo{
		users:         map[uint]*models.User{},
		customers:     map[uint]*models.Customer{},
		products:      map[string]*models.Product{},
		prices:        map[string]*models.Price{},
		subscriptions: map[string]*models.Subscription{},
		payments:      map[string]*models.PaymentHistory{},
		events:        map[string]*models.BillingWebhookEvent{},
		nextID:        100,
		clock:         clock,
	}
}

func (r *memRepo) addUser(u models.User) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.Role == "" {
		u.Role = models.ROLE_USER
	}
	if u.MembershipStatus == "" {
		u.MembershipStatus = models.MEMBERSHIP_INACTIVE
	}
	stored := u
	r.users[u.ID] = &stored
	return &stored
}

func (r *memRepo) user(id uint) models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.users[id]
}

func (r *memRepo) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *memRepo) GetUser(_ context.Context, userID uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memRepo) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) UpdateUserEntitlement(_ context.Context, userID uint, productID *string, status models.MembershipStatus, role models.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	r.writes++
	if productID != nil {
		pid := *productID
		u.StripeProductID = &pid
	} else {
		u.StripeProductID = nil
	}
	u.MembershipStatus = status
	u.Role = role
	return nil
}

func (r *memRepo) SetUserTokens(_ context.Context, userID uint, tokens int64, expiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	r.writes++
	u.Tokens = tokens
	if expiresAt != nil {
		t := *expiresAt
		u.TokensExpiresAt = &t
	} else {
		u.TokensExpiresAt = nil
	}
	return nil
}

func (r *memRepo) UpdateUserOverride(_ context.Context, userID uint, role *models.Role, tokens *int64, expiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	r.writes++
	if role != nil {
		u.Role = *role
	}
	if tokens != nil {
		u.Tokens = *tokens
	}
	if expiresAt != nil {
		t := *expiresAt
		u.TokensExpiresAt = &t
	}
	return nil
}

func (r *memRepo) DecrementUserTokens(_ context.Context, userID uint, amount int64, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok || u.Tokens < amount || u.TokensExpiresAt == nil || u.TokensExpiresAt.Before(now) {
		return false, nil
	}
	r.writes++
	u.Tokens -= amount
	return true, nil
}

func (r *memRepo) GetCustomerByUserID(_ context.Context, userID uint) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.customers[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) GetCustomerByStripeID(_ context.Context, stripeCustomerID string) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.StripeCustomerID == stripeCustomerID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) UpsertCustomer(_ context.Context, c *models.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	if existing, ok := r.customers[c.UserID]; ok {
		existing.StripeCustomerID = c.StripeCustomerID
		*c = *existing
		return nil
	}
	r.nextID++
	c.ID = r.nextID
	stored := *c
	r.customers[c.UserID] = &stored
	return nil
}

func (r *memRepo) DeactivateCatalog(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	for _, p := range r.products {
		p.Active = false
	}
	for _, p := range r.prices {
		p.Active = false
	}
	return nil
}

func (r *memRepo) UpsertProduct(_ context.Context, p *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	stored := *p
	stored.Prices = nil
	r.products[p.ID] = &stored
	return nil
}

func (r *memRepo) UpsertPrice(_ context.Context, p *models.Price) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.priceFailures > 0 {
		r.priceFailures--
		return gorm.ErrForeignKeyViolated
	}
	if _, ok := r.products[p.ProductID]; !ok {
		return gorm.ErrForeignKeyViolated
	}
	r.writes++
	stored := *p
	stored.Product = nil
	r.prices[p.ID] = &stored
	return nil
}

func (r *memRepo) GetProduct(_ context.Context, productID string) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[productID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) GetPrice(_ context.Context, priceID string) (*models.Price, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prices[priceID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	if prod, ok := r.products[p.ProductID]; ok {
		pc := *prod
		cp.Product = &pc
	}
	return &cp, nil
}

func (r *memRepo) ListActiveProducts(_ context.Context) ([]models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Product
	for _, p := range r.products {
		if !p.Active {
			continue
		}
		cp := *p
		cp.Prices = []models.Price{}
		for _, pr := range r.prices {
			if pr.ProductID == p.ID && pr.Active {
				cp.Prices = append(cp.Prices, *pr)
			}
		}
		sort.Slice(cp.Prices, func(i, j int) bool {
			return amountOf(cp.Prices[i]) < amountOf(cp.Prices[j])
		})
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func amountOf(p models.Price) int64 {
	if p.UnitAmount == nil {
		return 0
	}
	return *p.UnitAmount
}

func (r *memRepo) UpsertSubscription(_ context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	stored := *sub
	if existing, ok := r.subscriptions[sub.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = r.clock.Now()
	}
	stored.UpdatedAt = r.clock.Now()
	r.subscriptions[sub.ID] = &stored
	return nil
}

func (r *memRepo) GetSubscription(_ context.Context, subscriptionID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subscriptions[subscriptionID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memRepo) FindActiveSubscription(_ context.Context, userID uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.Subscription
	for _, s := range r.subscriptions {
		if s.UserID != userID || !s.IsEntitled() {
			continue
		}
		if best == nil || s.CreatedAt.After(best.CreatedAt) {
			best = s
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *memRepo) ListSubscriptionsByUser(_ context.Context, userID uint) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, s := range r.subscriptions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) CreatePaymentIfNotExists(_ context.Context, p *models.PaymentHistory) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[p.StripePaymentIntentID]; ok {
		return false, nil
	}
	r.writes++
	r.nextID++
	p.ID = r.nextID
	stored := *p
	r.payments[p.StripePaymentIntentID] = &stored
	return true, nil
}

func (r *memRepo) ListPaymentsByUser(_ context.Context, userID uint, _ int) ([]models.PaymentHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PaymentHistory
	for _, p := range r.payments {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memRepo) CreateWebhookEventIfNotExists(_ context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := event.Provider + "/" + event.ProviderEventID
	if existing, ok := r.events[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	r.nextID++
	event.ID = r.nextID
	stored := *event
	r.events[key] = &stored
	cp := stored
	return true, &cp, nil
}

func (r *memRepo) MarkWebhookProcessed(_ context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			e.MarkProcessed(r.clock.Now(), errorOrNil(processingError))
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func errorOrNil(msg string) error {
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}

// fakeProvider is a scripted Provider.
type fakeProvider struct {
	mu            sync.Mutex
	subscriptions map[string]*stripe.Subscription
	customers     map[string]*stripe.Customer
	products      []*stripe.Product
	prices        []*stripe.Price
	catalogErr    error
	retrieveErr   error
	listErr       error
	createErr     error
	catalogCalls  int
	createdFor    []CreateCustomerInput
	checkouts     []CheckoutSessionInput
	portals       []string
	nextCustomer  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		subscriptions: map[string]*stripe.Subscription{},
		customers:     map[string]*stripe.Customer{},
	}
}

func (p *fakeProvider) RetrieveSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retrieveErr != nil {
		return nil, p.retrieveErr
	}
	sub, ok := p.subscriptions[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: 404, Code: stripe.ErrorCodeResourceMissing, Msg: "No such subscription"}
	}
	return sub, nil
}

func (p *fakeProvider) ListCustomerSubscriptions(_ context.Context, customerID string, limit int64) ([]*stripe.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	var out []*stripe.Subscription
	for _, s := range p.subscriptions {
		if s.Customer != nil && s.Customer.ID == customerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created > out[j].Created })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (p *fakeProvider) ListActiveProducts(_ context.Context) ([]*stripe.Product, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.catalogCalls++
	if p.catalogErr != nil {
		return nil, p.catalogErr
	}
	return p.products, nil
}

func (p *fakeProvider) ListActivePrices(_ context.Context) ([]*stripe.Price, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.catalogErr != nil {
		return nil, p.catalogErr
	}
	return p.prices, nil
}

func (p *fakeProvider) RetrieveCustomer(_ context.Context, id string) (*stripe.Customer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.customers[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: 404, Code: stripe.ErrorCodeResourceMissing, Msg: "No such customer"}
	}
	return c, nil
}

func (p *fakeProvider) FindCustomerByEmail(_ context.Context, email string) (*stripe.Customer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.customers))
	for id := range p.customers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := p.customers[id]
		if c.Email == email && !c.Deleted {
			return c, nil
		}
	}
	return nil, nil
}

func (p *fakeProvider) CreateCustomer(_ context.Context, in CreateCustomerInput) (*stripe.Customer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.nextCustomer++
	c := &stripe.Customer{ID: "cus_new_" + string(rune('0'+p.nextCustomer)), Email: in.Email}
	p.customers[c.ID] = c
	p.createdFor = append(p.createdFor, in)
	return c, nil
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, in CheckoutSessionInput) (*stripe.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkouts = append(p.checkouts, in)
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.example/cs_test_1"}, nil
}

func (p *fakeProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.portals = append(p.portals, customerID+"|"+returnURL)
	return &stripe.BillingPortalSession{ID: "bps_1", URL: "https://portal.example/" + customerID}, nil
}

func (p *fakeProvider) putSubscription(id, customerID, priceID string, status stripe.SubscriptionStatus, created int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions[id] = &stripe.Subscription{
		ID:       id,
		Status:   status,
		Created:  created,
		Customer: &stripe.Customer{ID: customerID},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					Price:              &stripe.Price{ID: priceID},
					CurrentPeriodStart: testEpoch.Unix(),
					CurrentPeriodEnd:   testEpoch.Add(30 * 24 * time.Hour).Unix(),
				},
			},
		},
	}
}

func (p *fakeProvider) setStatus(id string, status stripe.SubscriptionStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions[id].Status = status
}

// fixture wires a Service over the fakes with a fake clock.
type fixture struct {
	clock    clockwork.FakeClock
	repo     *memRepo
	provider *fakeProvider
	svc      *Service
}

func newFixture() *fixture {
	clock := clockwork.NewFakeClockAt(testEpoch)
	repo := newMemRepo(clock)
	provider := newFakeProvider()
	cfg := DefaultConfig()
	cfg.PriceRetryDelay = 0
	cfg.AppURL = "https://app.example"
	svc := NewService(repo, provider, WithClock(clock), WithConfig(cfg))
	return &fixture{clock: clock, repo: repo, provider: provider, svc: svc}
}

// seedCatalog stores prod_A (tokens=50) with price_A directly.
func (f *fixture) seedCatalog(tokens string) {
	amount := int64(999)
	f.repo.products["prod_A"] = &models.Product{
		ID:       "prod_A",
		Name:     "Pro",
		Active:   true,
		Metadata: map[string]interface{}{models.ProductMetaTokens: tokens},
	}
	f.repo.prices["price_A"] = &models.Price{
		ID:         "price_A",
		ProductID:  "prod_A",
		Active:     true,
		Currency:   "usd",
		UnitAmount: &amount,
		Interval:   models.BillingIntervalMonth,
	}
}

// seedSubscriber creates user 1 mapped to cus_1 with a provider subscription
// sub_1 on price_A in the given status.
func (f *fixture) seedSubscriber(role models.Role, status stripe.SubscriptionStatus) {
	f.repo.addUser(models.User{ID: 1, Email: "member@example.com", Role: role})
	f.repo.customers[1] = &models.Customer{ID: 10, UserID: 1, StripeCustomerID: "cus_1"}
	f.provider.customers["cus_1"] = &stripe.Customer{ID: "cus_1", Email: "member@example.com"}
	f.provider.putSubscription("sub_1", "cus_1", "price_A", status, testEpoch.Unix())
}
