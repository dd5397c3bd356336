package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Product metadata keys understood by the platform.
const (
	ProductMetaTokens      = "tokens"
	ProductMetaFeatures    = "features"
	ProductMetaDisplayName = "displayName"
)

const (
	BillingIntervalMonth = "month"
	BillingIntervalYear  = "year"
)

// Product mirrors a provider product. The primary key is the provider id.
type Product struct {
	ID          string            `gorm:"primaryKey;type:varchar(191)" json:"id"`
	Name        string            `gorm:"type:varchar(255);not null;default:''" json:"name"`
	Description string            `gorm:"type:text" json:"description"`
	Active      bool              `gorm:"default:true;index" json:"active"`
	Metadata    datatypes.JSONMap `json:"metadata"`
	Prices      []Price           `gorm:"foreignKey:ProductID" json:"prices,omitempty"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "billing_products"
}

func (p *Product) metaString(key string) string {
	if p == nil || p.Metadata == nil {
		return ""
	}
	switch v := p.Metadata[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// TokenGrant returns the per-cycle token amount from metadata. Missing or
// unparseable values yield 0.
func (p *Product) TokenGrant() int64 {
	raw := strings.TrimSpace(p.metaString(ProductMetaTokens))
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Features decodes the JSON array stored under the features key.
func (p *Product) Features() []string {
	raw := p.metaString(ProductMetaFeatures)
	if raw == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []string{}
	}
	return out
}

// DisplayName prefers the displayName metadata over the provider name.
func (p *Product) DisplayName() string {
	if p == nil {
		return ""
	}
	if v := strings.TrimSpace(p.metaString(ProductMetaDisplayName)); v != "" {
		return v
	}
	return p.Name
}

// Price mirrors a provider price attached to a Product.
type Price struct {
	ID              string            `gorm:"primaryKey;type:varchar(191)" json:"id"`
	ProductID       string            `gorm:"type:varchar(191);not null;index" json:"product_id"`
	Product         *Product          `gorm:"foreignKey:ProductID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	Active          bool              `gorm:"default:true;index" json:"active"`
	Currency        string            `gorm:"type:varchar(8);not null;default:''" json:"currency"`
	Type            string            `gorm:"type:varchar(20);not null;default:''" json:"type"`
	UnitAmount      *int64            `json:"unit_amount,omitempty"`
	Interval        string            `gorm:"type:varchar(16);default:''" json:"interval"`
	IntervalCount   int64             `gorm:"default:0" json:"interval_count"`
	TrialPeriodDays int64             `gorm:"default:0" json:"trial_period_days"`
	Metadata        datatypes.JSONMap `json:"metadata"`
	CreatedAt       time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Price) TableName() string {
	return "billing_prices"
}
