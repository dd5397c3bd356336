package billing

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/MemberVault/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service. Lookups of
// single rows return gorm.ErrRecordNotFound when nothing matches.
type Repository interface {
	GetUser(ctx context.Context, userID uint) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUserEntitlement(ctx context.Context, userID uint, productID *string, status models.MembershipStatus, role models.Role) error
	SetUserTokens(ctx context.Context, userID uint, tokens int64, expiresAt *time.Time) error
	UpdateUserOverride(ctx context.Context, userID uint, role *models.Role, tokens *int64, expiresAt *time.Time) error
	// DecrementUserTokens subtracts amount only while the stored balance covers
	// it and the grant has not expired. It reports whether a row changed.
	DecrementUserTokens(ctx context.Context, userID uint, amount int64, now time.Time) (bool, error)

	GetCustomerByUserID(ctx context.Context, userID uint) (*models.Customer, error)
	GetCustomerByStripeID(ctx context.Context, stripeCustomerID string) (*models.Customer, error)
	UpsertCustomer(ctx context.Context, c *models.Customer) error

	DeactivateCatalog(ctx context.Context) error
	UpsertProduct(ctx context.Context, p *models.Product) error
	UpsertPrice(ctx context.Context, p *models.Price) error
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	GetPrice(ctx context.Context, priceID string) (*models.Price, error)
	ListActiveProducts(ctx context.Context) ([]models.Product, error)

	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	FindActiveSubscription(ctx context.Context, userID uint) (*models.Subscription, error)
	ListSubscriptionsByUser(ctx context.Context, userID uint) ([]models.Subscription, error)

	CreatePaymentIfNotExists(ctx context.Context, p *models.PaymentHistory) (bool, error)
	ListPaymentsByUser(ctx context.Context, userID uint, limit int) ([]models.PaymentHistory, error)

	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetUser(ctx context.Context, userID uint) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, userID).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) UpdateUserEntitlement(ctx context.Context, userID uint, productID *string, status models.MembershipStatus, role models.Role) error {
	tx := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"stripe_product_id": productID,
		"membership_status": status,
		"role":              role,
	})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return r.userExists(ctx, userID)
	}
	return nil
}

func (r *gormRepository) SetUserTokens(ctx context.Context, userID uint, tokens int64, expiresAt *time.Time) error {
	tx := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"tokens":            tokens,
		"tokens_expires_at": expiresAt,
	})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return r.userExists(ctx, userID)
	}
	return nil
}

func (r *gormRepository) UpdateUserOverride(ctx context.Context, userID uint, role *models.Role, tokens *int64, expiresAt *time.Time) error {
	updates := map[string]interface{}{}
	if role != nil {
		updates["role"] = *role
	}
	if tokens != nil {
		updates["tokens"] = *tokens
	}
	if expiresAt != nil {
		updates["tokens_expires_at"] = *expiresAt
	}
	if len(updates) == 0 {
		return nil
	}
	tx := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return r.userExists(ctx, userID)
	}
	return nil
}

func (r *gormRepository) DecrementUserTokens(ctx context.Context, userID uint, amount int64, now time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND tokens >= ? AND tokens_expires_at IS NOT NULL AND tokens_expires_at >= ?", userID, amount, now).
		UpdateColumn("tokens", gorm.Expr("tokens - ?", amount))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// userExists distinguishes "no row" from "row unchanged" after an update
// that affected nothing.
func (r *gormRepository) userExists(ctx context.Context, userID uint) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormRepository) GetCustomerByUserID(ctx context.Context, userID uint) (*models.Customer, error) {
	var c models.Customer
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) GetCustomerByStripeID(ctx context.Context, stripeCustomerID string) (*models.Customer, error) {
	var c models.Customer
	if err := r.db.WithContext(ctx).Where("stripe_customer_id = ?", stripeCustomerID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) UpsertCustomer(ctx context.Context, c *models.Customer) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"stripe_customer_id",
			"updated_at",
		}),
	}).Create(c).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return db.Where("user_id = ?", c.UserID).First(c).Error
}

func (r *gormRepository) DeactivateCatalog(ctx context.Context) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Product{}).Where("active = ?", true).Update("active", false).Error; err != nil {
			return err
		}
		return tx.Model(&models.Price{}).Where("active = ?", true).Update("active", false).Error
	})
}

func (r *gormRepository) UpsertProduct(ctx context.Context, p *models.Product) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name",
			"description",
			"active",
			"metadata",
			"updated_at",
		}),
	}).Create(p).Error
}

func (r *gormRepository) UpsertPrice(ctx context.Context, p *models.Price) error {
	return r.db.WithContext(ctx).Omit("Product").Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"product_id",
			"active",
			"currency",
			"type",
			"unit_amount",
			"interval",
			"interval_count",
			"trial_period_days",
			"metadata",
			"updated_at",
		}),
	}).Create(p).Error
}

func (r *gormRepository) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	var p models.Product
	if err := r.db.WithContext(ctx).Where("id = ?", productID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) GetPrice(ctx context.Context, priceID string) (*models.Price, error) {
	var p models.Price
	if err := r.db.WithContext(ctx).Preload("Product").Where("id = ?", priceID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) ListActiveProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := r.db.WithContext(ctx).
		Preload("Prices", func(db *gorm.DB) *gorm.DB {
			return db.Where("active = ?", true).Order("unit_amount ASC")
		}).
		Where("active = ?", true).
		Order("name ASC").
		Find(&products).Error
	return products, err
}

func (r *gormRepository) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Omit("Price", "Product").Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"customer_id",
			"price_id",
			"product_id",
			"status",
			"cancel_at_period_end",
			"canceled_at",
			"current_period_start",
			"current_period_end",
			"trial_start",
			"trial_end",
			"metadata",
			"updated_at",
		}),
	}).Create(sub).Error
}

func (r *gormRepository) GetSubscription(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("id = ?", subscriptionID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindActiveSubscription(ctx context.Context, userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Preload("Product").
		Preload("Price").
		Where("user_id = ? AND status IN ?", userID, models.EntitledStatuses).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListSubscriptionsByUser(ctx context.Context, userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CreatePaymentIfNotExists(ctx context.Context, p *models.PaymentHistory) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_payment_intent_id"}},
		DoNothing: true,
	}).Create(p)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ListPaymentsByUser(ctx context.Context, userID uint, limit int) ([]models.PaymentHistory, error) {
	var out []models.PaymentHistory
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// IsNotFound reports whether err is a missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
