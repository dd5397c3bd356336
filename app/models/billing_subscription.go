package models

import (
	"time"

	"gorm.io/datatypes"
)

// Provider subscription statuses.
const (
	BillingStatusActive            = "active"
	BillingStatusTrialing          = "trialing"
	BillingStatusPastDue           = "past_due"
	BillingStatusUnpaid            = "unpaid"
	BillingStatusCanceled          = "canceled"
	BillingStatusIncomplete        = "incomplete"
	BillingStatusIncompleteExpired = "incomplete_expired"
	BillingStatusPaused            = "paused"
)

// EntitledStatuses are the statuses that grant access.
var EntitledStatuses = []string{BillingStatusActive, BillingStatusTrialing}

// Subscription mirrors a provider subscription. ID is the provider id.
type Subscription struct {
	ID                 string            `gorm:"primaryKey;type:varchar(191)" json:"id"`
	UserID             uint              `gorm:"not null;index:idx_billing_subscriptions_user_status,priority:1" json:"user_id"`
	CustomerID         uint              `gorm:"not null;index" json:"customer_id"`
	PriceID            string            `gorm:"type:varchar(191);not null;index" json:"price_id"`
	ProductID          string            `gorm:"type:varchar(191);not null;index" json:"product_id"`
	Status             string            `gorm:"type:varchar(32);not null;index:idx_billing_subscriptions_user_status,priority:2" json:"status"`
	CancelAtPeriodEnd  bool              `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt         *time.Time        `gorm:"default:null" json:"canceled_at,omitempty"`
	CurrentPeriodStart time.Time         `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time         `gorm:"not null" json:"current_period_end"`
	TrialStart         *time.Time        `gorm:"default:null" json:"trial_start,omitempty"`
	TrialEnd           *time.Time        `gorm:"default:null" json:"trial_end,omitempty"`
	Metadata           datatypes.JSONMap `json:"metadata"`
	Price              *Price            `gorm:"foreignKey:PriceID;references:ID" json:"price,omitempty"`
	Product            *Product          `gorm:"foreignKey:ProductID;references:ID" json:"product,omitempty"`
	CreatedAt          time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "billing_subscriptions"
}

// IsEntitled reports whether the subscription status grants access.
func (s *Subscription) IsEntitled() bool {
	return s != nil && (s.Status == BillingStatusActive || s.Status == BillingStatusTrialing)
}

// PaymentHistory is an append-only record of a successful payment.
type PaymentHistory struct {
	ID                    uint              `gorm:"primaryKey" json:"id"`
	UserID                uint              `gorm:"not null;index" json:"user_id"`
	StripePaymentIntentID string            `gorm:"type:varchar(191);not null;uniqueIndex:ux_billing_payments_intent" json:"stripe_payment_intent_id"`
	Amount                int64             `gorm:"not null" json:"amount"`
	Currency              string            `gorm:"type:varchar(8);not null" json:"currency"`
	Status                string            `gorm:"type:varchar(32);not null" json:"status"`
	StripeProductID       *string           `gorm:"type:varchar(191);default:null" json:"stripe_product_id,omitempty"`
	Description           string            `gorm:"type:varchar(255);default:''" json:"description"`
	Metadata              datatypes.JSONMap `json:"metadata"`
	CreatedAt             time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

func (PaymentHistory) TableName() string {
	return "billing_payments"
}
