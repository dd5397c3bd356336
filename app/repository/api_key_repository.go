package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/MemberVault/app/models"
)

type apiKeyRepository struct {
	db *gorm.DB
}

// NewApiKeyRepository creates a new API key repository instance
func NewApiKeyRepository(db *gorm.DB) ApiKeyRepository {
	return &apiKeyRepository{db: db}
}

func (r *apiKeyRepository) GetByUserID(ctx context.Context, userID uint) (*models.ApiKey, error) {
	var key models.ApiKey
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&key).Error; err != nil {
		return nil, err
	}
	return &key, nil
}

// GetUserByKeyHash resolves an active API key hash to its key row and user.
func (r *apiKeyRepository) GetUserByKeyHash(ctx context.Context, hash string) (*models.User, *models.ApiKey, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, nil, gorm.ErrRecordNotFound
	}
	var key models.ApiKey
	query := r.db.WithContext(ctx).Where("key_hash = ? AND key_hash <> '' AND revoked_at IS NULL", trimmed)
	if err := query.First(&key).Error; err != nil {
		return nil, nil, err
	}
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, key.UserID).Error; err != nil {
		return nil, nil, err
	}
	return &user, &key, nil
}

// Save upserts the single key row of a user.
func (r *apiKeyRepository) Save(ctx context.Context, key *models.ApiKey) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"key_hash", "key_prefix", "issued_at", "last_used_at", "revoked_at", "updated_at"}),
	}).Create(key).Error
}

func (r *apiKeyRepository) TouchLastUsed(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ApiKey{}).
		Where("id = ?", id).
		Update("last_used_at", at).Error
}
