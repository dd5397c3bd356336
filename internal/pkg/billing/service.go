package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberVault/app/models"
)

const tracerName = "github.com/ManuelReschke/MemberVault/internal/pkg/billing"

// Config holds the tunables of the billing service.
type Config struct {
	// AppURL is the public base URL used for checkout redirects.
	AppURL string
	// CatalogSyncInterval is the minimum age of the last successful catalog
	// sync before an unforced sync fetches again.
	CatalogSyncInterval time.Duration
	// TokenGrantPeriod is how long a token grant stays valid.
	TokenGrantPeriod time.Duration
	// PriceRetryCount bounds retries of a price upsert that hit a foreign key
	// violation.
	PriceRetryCount uint64
	// PriceRetryDelay is the constant delay between those retries.
	PriceRetryDelay time.Duration
	// SubscriptionSyncLimit caps subscriptions pulled per user sweep.
	SubscriptionSyncLimit int64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CatalogSyncInterval:   5 * time.Minute,
		TokenGrantPeriod:      30 * 24 * time.Hour,
		PriceRetryCount:       3,
		PriceRetryDelay:       2 * time.Second,
		SubscriptionSyncLimit: 10,
	}
}

// Service reconciles local billing state with the payment provider.
type Service struct {
	repo     Repository
	provider Provider
	window   SyncWindow
	clock    clockwork.Clock
	tracer   trace.Tracer
	cfg      Config
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithSyncWindow replaces the in-process catalog sync window.
func WithSyncWindow(w SyncWindow) Option {
	return func(s *Service) { s.window = w }
}

// WithConfig overrides the defaults. Zero fields keep their default.
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		def := s.cfg
		if cfg.CatalogSyncInterval <= 0 {
			cfg.CatalogSyncInterval = def.CatalogSyncInterval
		}
		if cfg.TokenGrantPeriod <= 0 {
			cfg.TokenGrantPeriod = def.TokenGrantPeriod
		}
		if cfg.PriceRetryDelay < 0 {
			cfg.PriceRetryDelay = def.PriceRetryDelay
		}
		if cfg.SubscriptionSyncLimit <= 0 {
			cfg.SubscriptionSyncLimit = def.SubscriptionSyncLimit
		}
		s.cfg = cfg
	}
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// NewService creates a billing service from an injected repository and provider.
func NewService(repo Repository, provider Provider, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		provider: provider,
		clock:    clockwork.NewRealClock(),
		cfg:      DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.window == nil {
		s.window = NewMemoryWindow(s.clock, s.cfg.CatalogSyncInterval)
	}
	return s
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, provider Provider, opts ...Option) *Service {
	return NewService(NewRepository(db), provider, opts...)
}

// Repository exposes the underlying repository to callers sharing the service.
func (s *Service) Repository() Repository {
	return s.repo
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, errMsg)
}
