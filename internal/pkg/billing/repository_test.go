package billing

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/MemberVault/app/models"
)

// newSQLiteRepo opens a throwaway SQLite database with the billing schema.
func newSQLiteRepo(t *testing.T) (Repository, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "billing.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Product{},
		&models.Price{},
		&models.Customer{},
		&models.Subscription{},
		&models.PaymentHistory{},
		&models.BillingWebhookEvent{},
	))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewRepository(db), db
}

func seedUser(t *testing.T, db *gorm.DB, id uint) {
	t.Helper()
	require.NoError(t, db.Create(&models.User{
		ID:               id,
		Email:            "user" + string(rune('0'+id)) + "@example.com",
		Role:             models.ROLE_USER,
		MembershipStatus: models.MEMBERSHIP_INACTIVE,
	}).Error)
}

func seedProductAndPrice(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()
	amount := int64(999)
	require.NoError(t, repo.UpsertProduct(ctx, &models.Product{
		ID:       "prod_A",
		Name:     "Pro",
		Active:   true,
		Metadata: map[string]interface{}{models.ProductMetaTokens: "50"},
	}))
	require.NoError(t, repo.UpsertPrice(ctx, &models.Price{
		ID:         "price_A",
		ProductID:  "prod_A",
		Active:     true,
		Currency:   "usd",
		UnitAmount: &amount,
		Interval:   models.BillingIntervalMonth,
	}))
}

func TestRepositoryDecrementUserTokens(t *testing.T) {
	repo, db := newSQLiteRepo(t)
	ctx := context.Background()
	seedUser(t, db, 1)
	now := testEpoch
	expires := now.Add(24 * time.Hour)
	require.NoError(t, repo.SetUserTokens(ctx, 1, 10, &expires))

	ok, err := repo.DecrementUserTokens(ctx, 1, 4, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.DecrementUserTokens(ctx, 1, 7, now)
	require.NoError(t, err)
	assert.False(t, ok, "balance of 6 cannot cover 7")

	ok, err = repo.DecrementUserTokens(ctx, 1, 6, now.Add(48*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "grant has expired")

	ok, err = repo.DecrementUserTokens(ctx, 99, 1, now)
	require.NoError(t, err)
	assert.False(t, ok)

	u, err := repo.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 6, u.Tokens)
}

func TestRepositoryDecrementWithoutExpiryFails(t *testing.T) {
	repo, db := newSQLiteRepo(t)
	ctx := context.Background()
	seedUser(t, db, 1)
	require.NoError(t, repo.SetUserTokens(ctx, 1, 10, nil))

	ok, err := repo.DecrementUserTokens(ctx, 1, 1, testEpoch)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepositoryUserUpdatesReportMissingRows(t *testing.T) {
	repo, db := newSQLiteRepo(t)
	ctx := context.Background()
	seedUser(t, db, 1)
	seedProductAndPrice(t, repo)
	pid := "prod_A"
	role := models.ROLE_ADMIN
	tokens := int64(5)

	require.NoError(t, repo.UpdateUserEntitlement(ctx, 1, &pid, models.MEMBERSHIP_ACTIVE, models.ROLE_PREMIUM))
	// Writing the same values again is not a missing row.
	require.NoError(t, repo.UpdateUserEntitlement(ctx, 1, &pid, models.MEMBERSHIP_ACTIVE, models.ROLE_PREMIUM))
	require.NoError(t, repo.UpdateUserOverride(ctx, 1, &role, &tokens, nil))
	require.NoError(t, repo.UpdateUserOverride(ctx, 99, nil, nil, nil))

	u, err := repo.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.ROLE_ADMIN, u.Role)
	assert.Equal(t, models.MEMBERSHIP_ACTIVE, u.MembershipStatus)
	assert.Equal(t, "prod_A", u.ProductID())
	assert.EqualValues(t, 5, u.Tokens)

	assert.ErrorIs(t, repo.UpdateUserEntitlement(ctx, 99, nil, models.MEMBERSHIP_INACTIVE, models.ROLE_USER), gorm.ErrRecordNotFound)
	assert.ErrorIs(t, repo.SetUserTokens(ctx, 99, 1, nil), gorm.ErrRecordNotFound)
	assert.ErrorIs(t, repo.UpdateUserOverride(ctx, 99, &role, nil, nil), gorm.ErrRecordNotFound)

	_, err = repo.GetUser(ctx, 99)
	assert.True(t, IsNotFound(err))
}

func TestRepositoryUpsertCustomerKeepsOneRowPerUser(t *testing.T) {
	repo, db := newSQLiteRepo(t)
	ctx := context.Background()
	seedUser(t, db, 1)

	first := &models.Customer{UserID: 1, StripeCustomerID: "cus_old"}
	require.NoError(t, repo.UpsertCustomer(ctx, first))
	require.NotZero(t, first.ID)

	second := &models.Customer{UserID: 1, StripeCustomerID: "cus_new"}
	require.NoError(t, repo.UpsertCustomer(ctx, second))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "cus_new", second.StripeCustomerID)

	var count int64
	require.NoError(t, db.Model(&models.Customer{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	got, err := repo.GetCustomerByStripeID(ctx, "cus_new")
	require.NoError(t, err)
	assert.Equal(t, uint(1), got.UserID)
	_, err = repo.GetCustomerByStripeID(ctx, "cus_old")
	assert.True(t, IsNotFound(err))
}

func TestRepositoryCatalogUpsertAndDeactivate(t *testing.T) {
	repo, _ := newSQLiteRepo(t)
	ctx := context.Background()
	seedProductAndPrice(t, repo)

	require.NoError(t, repo.UpsertProduct(ctx, &models.Product{ID: "prod_A", Name: "Pro Plus", Active: true}))
	products, err := repo.ListActiveProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Pro Plus", products[0].Name)
	require.Len(t, products[0].Prices, 1)
	assert.Equal(t, "price_A", products[0].Prices[0].ID)

	price, err := repo.GetPrice(ctx, "price_A")
	require.NoError(t, err)
	require.NotNil(t, price.Product)
	assert.Equal(t, "prod_A", price.Product.ID)

	require.NoError(t, repo.DeactivateCatalog(ctx))
	products, err = repo.ListActiveProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)

	p, err := repo.GetProduct(ctx, "prod_A")
	require.NoError(t, err)
	assert.False(t, p.Active)
}

func TestRepositorySubscriptionUpsertAndLookup(t *testing.T) {
	repo, db := newSQLiteRepo(t)
	ctx := context.Background()
	seedUser(t, db, 1)
	seedProductAndPrice(t, repo)
	cust := &models.Customer{UserID: 1, StripeCustomerID: "cus_1"}
	require.NoError(t, repo.UpsertCustomer(ctx, cust))

	sub := func(id, status string, created time.Time) *models.Subscription {
		return &models.Subscription{
			ID:                 id,
			UserID:             1,
			CustomerID:         cust.ID,
			PriceID:            "price_A",
			ProductID:          "prod_A",
			Status:             status,
			CurrentPeriodStart: testEpoch,
			CurrentPeriodEnd:   testEpoch.Add(30 * 24 * time.Hour),
			CreatedAt:          created,
		}
	}
	require.NoError(t, repo.UpsertSubscription(ctx, sub("sub_1", models.BillingStatusActive, testEpoch)))
	require.NoError(t, repo.UpsertSubscription(ctx, sub("sub_2", models.BillingStatusIncomplete, testEpoch.Add(time.Hour))))

	active, err := repo.FindActiveSubscription(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "sub_1", active.ID)
	require.NotNil(t, active.Product)
	assert.Equal(t, "prod_A", active.Product.ID)

	update := sub("sub_1", models.BillingStatusCanceled, testEpoch)
	canceledAt := testEpoch.Add(2 * time.Hour)
	update.CanceledAt = &canceledAt
	require.NoError(t, repo.UpsertSubscription(ctx, update))

	stored, err := repo.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusCanceled, stored.Status)
	require.NotNil(t, stored.CanceledAt)
	assert.True(t, canceledAt.Equal(*stored.CanceledAt))

	_, err = repo.FindActiveSubscription(ctx, 1)
	assert.True(t, IsNotFound(err))

	history, err := repo.ListSubscriptionsByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "sub_2", history[0].ID)
	assert.Equal(t, "sub_1", history[1].ID)
}

func TestRepositoryStoresPeriodsPast2038(t *testing.T) {
	repo, db := newSQLiteRepo(t)
	ctx := context.Background()
	seedUser(t, db, 1)
	seedProductAndPrice(t, repo)
	cust := &models.Customer{UserID: 1, StripeCustomerID: "cus_1"}
	require.NoError(t, repo.UpsertCustomer(ctx, cust))

	end := time.Date(2040, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpsertSubscription(ctx, &models.Subscription{
		ID:                 "sub_long",
		UserID:             1,
		CustomerID:         cust.ID,
		PriceID:            "price_A",
		ProductID:          "prod_A",
		Status:             models.BillingStatusTrialing,
		CurrentPeriodStart: testEpoch,
		CurrentPeriodEnd:   end,
		TrialEnd:           &end,
	}))
	require.NoError(t, repo.SetUserTokens(ctx, 1, 3, &end))

	stored, err := repo.GetSubscription(ctx, "sub_long")
	require.NoError(t, err)
	assert.True(t, end.Equal(stored.CurrentPeriodEnd))
	require.NotNil(t, stored.TrialEnd)
	assert.True(t, end.Equal(*stored.TrialEnd))

	ok, err := repo.DecrementUserTokens(ctx, 1, 1, time.Date(2039, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRepositoryPaymentsAreInsertedOnce(t *testing.T) {
	repo, _ := newSQLiteRepo(t)
	ctx := context.Background()

	payment := func(created time.Time) *models.PaymentHistory {
		return &models.PaymentHistory{
			UserID:                1,
			StripePaymentIntentID: "pi_1",
			Amount:                999,
			Currency:              "usd",
			Status:                "succeeded",
			CreatedAt:             created,
		}
	}

	created, err := repo.CreatePaymentIfNotExists(ctx, payment(testEpoch))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreatePaymentIfNotExists(ctx, payment(testEpoch.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, created)

	p2 := payment(testEpoch.Add(time.Hour))
	p2.StripePaymentIntentID = "pi_2"
	_, err = repo.CreatePaymentIfNotExists(ctx, p2)
	require.NoError(t, err)

	list, err := repo.ListPaymentsByUser(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "pi_2", list[0].StripePaymentIntentID)

	list, err = repo.ListPaymentsByUser(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestRepositoryWebhookEventsAreDeduplicated(t *testing.T) {
	repo, _ := newSQLiteRepo(t)
	ctx := context.Background()

	event := func() *models.BillingWebhookEvent {
		return &models.BillingWebhookEvent{
			Provider:        models.BillingProviderStripe,
			ProviderEventID: "evt_1",
			EventType:       "customer.subscription.updated",
			PayloadJSON:     `{"id":"evt_1"}`,
			SignatureValid:  true,
		}
	}

	created, stored, err := repo.CreateWebhookEventIfNotExists(ctx, event())
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, stored)
	assert.Nil(t, stored.ProcessedAt)

	require.NoError(t, repo.MarkWebhookProcessed(ctx, stored.ID, "boom"))

	created, again, err := repo.CreateWebhookEventIfNotExists(ctx, event())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, again.ID)
	assert.NotNil(t, again.ProcessedAt)
	assert.Equal(t, "boom", again.ProcessingError)
}
