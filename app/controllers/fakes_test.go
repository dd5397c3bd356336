package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberVault/app/models"
	"github.com/ManuelReschke/MemberVault/app/repository"
	"github.com/ManuelReschke/MemberVault/internal/pkg/billing"
	"github.com/ManuelReschke/MemberVault/internal/pkg/usercontext"
)

type fakeBilling struct {
	mu sync.Mutex

	recordCreated bool
	recordStored  *models.BillingWebhookEvent
	recordErr     error
	recorded      []billing.WebhookEventInput
	marked        []uint

	checkout    *billing.CheckoutResult
	checkoutErr error
	portalURL   string
	portalErr   error
	syncErr     error
	synced      []uint

	access      *billing.AccessResult
	accessStale bool
	accessErr   error

	tokens    billing.TokenInfo
	consumeOK bool
	consumed  []int64
	tiers     []billing.Tier
	tierCalls int
	payments  []models.PaymentHistory
	history   []billing.SubscriptionSummary
	histErr   error

	override    *models.User
	overrideErr error
	overrides   []billing.UserOverride
}

func (f *fakeBilling) RecordWebhookEvent(_ context.Context, in billing.WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, in)
	return f.recordCreated, f.recordStored, f.recordErr
}

func (f *fakeBilling) MarkWebhookProcessed(_ context.Context, id uint, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, id)
	return nil
}

func (f *fakeBilling) CreateCheckout(_ context.Context, _ uint, _, _ string) (*billing.CheckoutResult, error) {
	return f.checkout, f.checkoutErr
}

func (f *fakeBilling) CreatePortal(_ context.Context, _ uint, _ string) (string, error) {
	return f.portalURL, f.portalErr
}

func (f *fakeBilling) SyncUserSubscriptions(_ context.Context, userID uint) error {
	f.synced = append(f.synced, userID)
	return f.syncErr
}

func (f *fakeBilling) CheckAccess(_ context.Context, _ uint, _ billing.AccessOptions) (*billing.AccessResult, error) {
	return f.access, f.accessErr
}

func (f *fakeBilling) CheckAccessWithFallback(_ context.Context, _ uint) (*billing.AccessResult, bool, error) {
	return f.access, f.accessStale, f.accessErr
}

func (f *fakeBilling) GetTokens(_ context.Context, _ uint) (billing.TokenInfo, error) {
	return f.tokens, nil
}

func (f *fakeBilling) ConsumeTokens(_ context.Context, _ uint, amount int64) (bool, error) {
	f.consumed = append(f.consumed, amount)
	if f.consumeOK {
		f.tokens.Tokens -= max(amount, 1)
	}
	return f.consumeOK, nil
}

func (f *fakeBilling) MembershipTiers(_ context.Context, _ bool) []billing.Tier {
	f.tierCalls++
	return f.tiers
}

func (f *fakeBilling) PaymentHistory(_ context.Context, _ uint, _ int) ([]models.PaymentHistory, error) {
	return f.payments, nil
}

func (f *fakeBilling) SubscriptionHistory(_ context.Context, _ uint) ([]billing.SubscriptionSummary, error) {
	return f.history, f.histErr
}

func (f *fakeBilling) ApplyUserOverride(_ context.Context, in billing.UserOverride) (*models.User, error) {
	f.overrides = append(f.overrides, in)
	return f.override, f.overrideErr
}

type fakeDispatcher struct {
	queued  bool
	err     error
	actions []billing.EventAction
	ids     []uint
}

func (d *fakeDispatcher) Dispatch(_ context.Context, id uint, action billing.EventAction) (bool, error) {
	d.ids = append(d.ids, id)
	d.actions = append(d.actions, action)
	return d.queued, d.err
}

type memCache struct {
	data    map[string]string
	deletes []string
}

func newMemCache() *memCache {
	return &memCache{data: map[string]string{}}
}

func (m *memCache) Get(key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", io.EOF
	}
	return v, nil
}

func (m *memCache) Set(key string, value interface{}, _ time.Duration) error {
	m.data[key] = value.(string)
	return nil
}

func (m *memCache) Delete(key string) error {
	m.deletes = append(m.deletes, key)
	delete(m.data, key)
	return nil
}

type fakeUserRepo struct {
	users map[uint]*models.User
	roles map[models.Role]int64
}

func (r *fakeUserRepo) Create(_ context.Context, u *models.User) error {
	r.users[u.ID] = u
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uint) (*models.User, error) {
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) List(_ context.Context, offset, limit int) ([]models.User, error) {
	out := make([]models.User, 0, len(r.users))
	for id := uint(1); id <= uint(len(r.users)); id++ {
		if u, ok := r.users[id]; ok {
			out = append(out, *u)
		}
	}
	if offset >= len(out) {
		return []models.User{}, nil
	}
	return out[offset:min(offset+limit, len(out))], nil
}

func (r *fakeUserRepo) Count(_ context.Context) (int64, error) {
	return int64(len(r.users)), nil
}

func (r *fakeUserRepo) Search(_ context.Context, q string, _ int) ([]models.User, error) {
	var out []models.User
	for _, u := range r.users {
		if strings.Contains(u.Email, q) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (r *fakeUserRepo) CountByRole(_ context.Context) (map[models.Role]int64, error) {
	return r.roles, nil
}

type fakeKeyRepo struct {
	keys  map[uint]*models.ApiKey
	saves int
}

func (r *fakeKeyRepo) GetByUserID(_ context.Context, userID uint) (*models.ApiKey, error) {
	if k, ok := r.keys[userID]; ok {
		cp := *k
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeKeyRepo) GetUserByKeyHash(_ context.Context, _ string) (*models.User, *models.ApiKey, error) {
	return nil, nil, gorm.ErrRecordNotFound
}

func (r *fakeKeyRepo) Save(_ context.Context, key *models.ApiKey) error {
	r.saves++
	cp := *key
	r.keys[key.UserID] = &cp
	return nil
}

func (r *fakeKeyRepo) TouchLastUsed(_ context.Context, _ uint, _ time.Time) error {
	return nil
}

func newFakeRepos() (*repository.Repositories, *fakeUserRepo, *fakeKeyRepo) {
	users := &fakeUserRepo{users: map[uint]*models.User{}, roles: map[models.Role]int64{}}
	keys := &fakeKeyRepo{keys: map[uint]*models.ApiKey{}}
	return &repository.Repositories{User: users, ApiKey: keys}, users, keys
}

// signedIn marks every request as coming from the given user.
func signedIn(userID uint, email string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		usercontext.Set(c, usercontext.UserContext{UserID: userID, Email: email, Role: models.ROLE_USER, IsLoggedIn: true}, usercontext.AuthSession)
		return c.Next()
	}
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}
