package billing

import (
	"time"

	"github.com/ManuelReschke/MemberVault/app/models"
)

// TokenInfo is the effective token balance of a user.
type TokenInfo struct {
	Tokens    int64      `json:"tokens"`
	Expired   bool       `json:"expired"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// AccessOptions tunes CheckAccess.
type AccessOptions struct {
	// SkipSync reads local state only, without a provider round-trip.
	SkipSync bool
}

// AccessResult is the outcome of an access decision.
type AccessResult struct {
	HasAccess    bool                 `json:"hasAccess"`
	Subscription *models.Subscription `json:"subscription"`
	User         *models.User         `json:"user"`
}

// SubscriptionSummary is one entry of a user's subscription history.
type SubscriptionSummary struct {
	ID                string     `json:"id"`
	ProductID         string     `json:"productId"`
	Status            string     `json:"status"`
	Entitled          bool       `json:"entitled"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
	CanceledAt        *time.Time `json:"canceledAt,omitempty"`
	CurrentPeriodEnd  time.Time  `json:"currentPeriodEnd"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// UserOverride is an admin write that bypasses reconciliation.
type UserOverride struct {
	UserID          uint
	Role            *string
	Tokens          *int64
	TokensExpiresAt *time.Time
}

// Tier is the pricing-page projection of a product.
type Tier struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	DisplayName string         `json:"displayName"`
	Description string         `json:"description"`
	Price       int64          `json:"price"`
	Currency    string         `json:"currency"`
	Interval    string         `json:"interval,omitempty"`
	PriceID     string         `json:"priceId,omitempty"`
	Features    []string       `json:"features"`
	Tokens      int64          `json:"tokens"`
	IsActive    bool           `json:"isActive"`
	SortOrder   int            `json:"sortOrder"`
	Prices      []models.Price `json:"prices"`
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}
