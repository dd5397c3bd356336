package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ApiKey is a per-user secret for programmatic access to the member API.
// Only the SHA-256 hash of the key is stored.
type ApiKey struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     uint       `gorm:"not null;uniqueIndex:ux_api_keys_user" json:"user_id"`
	User       *User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	KeyHash    string     `gorm:"type:char(64);not null;default:'';index" json:"-"`
	KeyPrefix  string     `gorm:"type:varchar(20);not null;default:''" json:"key_prefix"`
	IssuedAt   *time.Time `gorm:"default:null" json:"issued_at,omitempty"`
	LastUsedAt *time.Time `gorm:"default:null" json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `gorm:"default:null" json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ApiKey) TableName() string {
	return "api_keys"
}

var apiKeyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const apiKeyPrefix = "mv_"

// IsActive reports whether the key can authenticate requests.
func (k *ApiKey) IsActive() bool {
	return k != nil && k.KeyHash != "" && k.RevokedAt == nil
}

// Issue generates a new key, stores its hash on the struct and returns the raw
// secret. Callers persist the struct afterwards.
func (k *ApiKey) Issue(now time.Time) (string, error) {
	rawKey, prefix, hash, err := generateAPIKeyMaterial()
	if err != nil {
		return "", err
	}
	k.KeyHash = hash
	k.KeyPrefix = prefix
	k.IssuedAt = &now
	k.RevokedAt = nil
	k.LastUsedAt = nil
	return rawKey, nil
}

// Revoke clears the stored hash without deleting the row.
func (k *ApiKey) Revoke(now time.Time) {
	k.KeyHash = ""
	k.KeyPrefix = ""
	k.RevokedAt = &now
	k.LastUsedAt = nil
}

// HashAPIKey returns the SHA-256 hash for the provided API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

func generateAPIKeyMaterial() (string, string, string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", err
	}
	rawKey := apiKeyPrefix + strings.ToLower(apiKeyEncoding.EncodeToString(b))
	if len(rawKey) < 12 {
		return "", "", "", fmt.Errorf("api key generation failed: key too short")
	}
	return rawKey, rawKey[:min(len(rawKey), 16)], HashAPIKey(rawKey), nil
}
