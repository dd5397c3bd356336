package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberVault/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, offset, limit int) ([]models.User, error)
	Count(ctx context.Context) (int64, error)
	Search(ctx context.Context, query string, limit int) ([]models.User, error)
	CountByRole(ctx context.Context) (map[models.Role]int64, error)
}

// ApiKeyRepository defines the interface for API key storage
type ApiKeyRepository interface {
	GetByUserID(ctx context.Context, userID uint) (*models.ApiKey, error)
	GetUserByKeyHash(ctx context.Context, hash string) (*models.User, *models.ApiKey, error)
	Save(ctx context.Context, key *models.ApiKey) error
	TouchLastUsed(ctx context.Context, id uint, at time.Time) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	User   UserRepository
	ApiKey ApiKeyRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:   NewUserRepository(db),
		ApiKey: NewApiKeyRepository(db),
	}
}
