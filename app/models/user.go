package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Role is the stored user role. Ordering between roles lives in the
// entitlements package.
type Role string

const (
	ROLE_USER    Role = "USER"
	ROLE_PREMIUM Role = "PREMIUM"
	ROLE_ADMIN   Role = "ADMIN"
	ROLE_BANNED  Role = "BANNED"
)

// MembershipStatus mirrors whether the user currently holds a paid product.
type MembershipStatus string

const (
	MEMBERSHIP_ACTIVE   MembershipStatus = "ACTIVE"
	MEMBERSHIP_INACTIVE MembershipStatus = "INACTIVE"
)

// AllRoles lists every role known to the platform.
var AllRoles = []Role{ROLE_USER, ROLE_PREMIUM, ROLE_ADMIN, ROLE_BANNED}

// ParseRole normalizes a role name. The second return value is false for
// unknown roles.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllRoles {
		if r == known {
			return r, true
		}
	}
	return "", false
}

type User struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	Name             string           `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	Email            string           `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,max=200"`
	Role             Role             `gorm:"type:varchar(20);not null;default:'USER';index" json:"role" validate:"oneof=USER PREMIUM ADMIN BANNED"`
	MembershipStatus MembershipStatus `gorm:"type:varchar(20);not null;default:'INACTIVE'" json:"membership_status" validate:"oneof=ACTIVE INACTIVE"`
	Tokens           int64            `gorm:"not null;default:0" json:"tokens" validate:"gte=0"`
	TokensExpiresAt  *time.Time       `gorm:"default:null" json:"tokens_expires_at,omitempty"`
	StripeProductID  *string          `gorm:"type:varchar(191);default:null;index" json:"stripe_product_id,omitempty"`
	StripeProduct    *Product         `gorm:"foreignKey:StripeProductID;references:ID;constraint:OnDelete:SET NULL" json:"-"`
	Subscriptions    []Subscription   `gorm:"foreignKey:UserID" json:"-"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// NewUser builds the row written on first sign-in.
func NewUser(name, email string) (*User, error) {
	u := &User{
		Name:             strings.TrimSpace(name),
		Email:            strings.ToLower(strings.TrimSpace(email)),
		Role:             ROLE_USER,
		MembershipStatus: MEMBERSHIP_INACTIVE,
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) IsAdmin() bool {
	return u.Role == ROLE_ADMIN
}

func (u *User) IsBanned() bool {
	return u.Role == ROLE_BANNED
}

// HasActiveMembership reports whether the user is ACTIVE with a known product.
func (u *User) HasActiveMembership() bool {
	return u.MembershipStatus == MEMBERSHIP_ACTIVE && u.StripeProductID != nil && *u.StripeProductID != ""
}

// ProductID returns the mapped product id or an empty string.
func (u *User) ProductID() string {
	if u.StripeProductID == nil {
		return ""
	}
	return *u.StripeProductID
}
