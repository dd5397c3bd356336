package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberVault/app/models"
	"github.com/ManuelReschke/MemberVault/internal/pkg/billing"
	"github.com/ManuelReschke/MemberVault/internal/pkg/metrics"
	"github.com/ManuelReschke/MemberVault/internal/pkg/usercontext"
)

// BillingService is the part of billing.Service the HTTP layer uses.
type BillingService interface {
	RecordWebhookEvent(ctx context.Context, in billing.WebhookEventInput) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error
	CreateCheckout(ctx context.Context, userID uint, email, priceID string) (*billing.CheckoutResult, error)
	CreatePortal(ctx context.Context, userID uint, returnURL string) (string, error)
	SyncUserSubscriptions(ctx context.Context, userID uint) error
	CheckAccess(ctx context.Context, userID uint, opts billing.AccessOptions) (*billing.AccessResult, error)
	CheckAccessWithFallback(ctx context.Context, userID uint) (*billing.AccessResult, bool, error)
	GetTokens(ctx context.Context, userID uint) (billing.TokenInfo, error)
	ConsumeTokens(ctx context.Context, userID uint, amount int64) (bool, error)
	MembershipTiers(ctx context.Context, autoSync bool) []billing.Tier
	PaymentHistory(ctx context.Context, userID uint, limit int) ([]models.PaymentHistory, error)
	SubscriptionHistory(ctx context.Context, userID uint) ([]billing.SubscriptionSummary, error)
	ApplyUserOverride(ctx context.Context, in billing.UserOverride) (*models.User, error)
}

// WebhookDispatcher hands verified webhook actions to background or inline
// processing.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, webhookEventID uint, action billing.EventAction) (bool, error)
}

// KeyValueCache is the cache surface used for the pricing response.
type KeyValueCache interface {
	Get(key string) (string, error)
	Set(key string, value interface{}, expiration time.Duration) error
	Delete(key string) error
}

// BillingController handles provider webhooks and the billing endpoints.
type BillingController struct {
	billing       BillingService
	dispatcher    WebhookDispatcher
	cache         KeyValueCache
	webhookSecret string
}

// NewBillingController creates a billing controller.
func NewBillingController(svc BillingService, dispatcher WebhookDispatcher, cache KeyValueCache, webhookSecret string) *BillingController {
	return &BillingController{
		billing:       svc,
		dispatcher:    dispatcher,
		cache:         cache,
		webhookSecret: webhookSecret,
	}
}

// HandleStripeWebhook verifies, records and dispatches a Stripe event.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	started := time.Now()
	rawBody := append([]byte(nil), c.Body()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))

	ctx, cancel := requestContext(c)
	defer cancel()

	event, err := billing.VerifyWebhook(rawBody, signature, bc.webhookSecret)
	if err != nil {
		log.Warnf("[Billing] rejected webhook from %s: %v", GetClientIP(c), err)
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "invalid_signature").Inc()
		return jsonError(c, fiber.StatusBadRequest, "invalid_signature", "Webhook signature verification failed")
	}
	eventType := string(event.Type)
	defer func() {
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(started).Seconds())
	}()

	created, stored, err := bc.billing.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       eventType,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		log.Errorf("[Billing] failed to persist webhook %s: %v", event.ID, err)
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "persist_failed").Inc()
		return jsonError(c, fiber.StatusInternalServerError, "webhook_persist_failed", "Webhook could not be stored")
	}
	// A redelivery is only processed again when the earlier attempt failed.
	if !created && stored.ProcessingError == "" {
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "duplicate").Inc()
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	action, err := billing.ActionForEvent(&event)
	if err != nil {
		_ = bc.billing.MarkWebhookProcessed(ctx, stored.ID, err)
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "invalid_payload").Inc()
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "Webhook payload could not be decoded")
	}
	if action.Kind == billing.ActionSyncCatalog {
		bc.invalidatePricing()
	}

	queued, err := bc.dispatcher.Dispatch(ctx, stored.ID, action)
	if err != nil {
		log.Errorf("[Billing] webhook %s (%s) failed: %v", event.ID, eventType, err)
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "failed").Inc()
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("event_type", eventType)
			scope.SetExtra("event_id", event.ID)
			sentry.CaptureException(err)
		})
		return jsonError(c, fiber.StatusInternalServerError, "webhook_processing_failed", "Webhook handler failed")
	}

	if action.Kind == billing.ActionNone {
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "ignored").Inc()
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}
	status := "processed"
	if queued {
		status = "queued"
	}
	metrics.WebhookEventsTotal.WithLabelValues(eventType, status).Inc()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "queued": queued})
}

type checkoutRequest struct {
	PriceID string `json:"priceId" validate:"required,max=191"`
}

// HandleCheckout creates a subscription checkout session for the current user.
func (bc *BillingController) HandleCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req checkoutRequest
	if err := parseBody(c, &req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "priceId is required")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := bc.billing.CreateCheckout(ctx, userCtx.UserID, userCtx.Email, req.PriceID)
	if err != nil {
		log.Errorf("[Billing] checkout for user %d failed: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "checkout_failed", "Checkout session could not be created")
	}
	return c.JSON(res)
}

// HandlePortal creates a billing portal session for the current user.
func (bc *BillingController) HandlePortal(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := requestContext(c)
	defer cancel()

	url, err := bc.billing.CreatePortal(ctx, userCtx.UserID, strings.TrimSpace(c.Query("return_url")))
	if err != nil {
		if errors.Is(err, billing.ErrNoCustomer) {
			return jsonError(c, fiber.StatusNotFound, "no_customer", "No billing account found")
		}
		log.Errorf("[Billing] portal for user %d failed: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "portal_failed", "Portal session could not be created")
	}
	return c.JSON(fiber.Map{"url": url})
}

// HandleResync reconciles the current user's provider subscriptions and
// returns the fresh access decision.
func (bc *BillingController) HandleResync(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := bc.billing.SyncUserSubscriptions(ctx, userCtx.UserID); err != nil {
		log.Errorf("[Billing] resync for user %d failed: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusBadGateway, "resync_failed", "Subscription status could not be refreshed")
	}
	res, err := bc.billing.CheckAccess(ctx, userCtx.UserID, billing.AccessOptions{SkipSync: true})
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "access_check_failed", "Access could not be determined")
	}
	return c.JSON(fiber.Map{"ok": true, "hasAccess": res.HasAccess, "subscription": res.Subscription})
}

// HandlePaymentHistory lists the current user's recorded payments.
func (bc *BillingController) HandlePaymentHistory(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	payments, err := bc.billing.PaymentHistory(ctx, userCtx.UserID, limit)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load payments")
	}
	return c.JSON(fiber.Map{"payments": payments})
}

func (bc *BillingController) invalidatePricing() {
	if bc.cache == nil {
		return
	}
	if err := bc.cache.Delete(pricingCacheKey); err != nil {
		log.Debugf("[Billing] pricing cache invalidation skipped: %v", err)
	}
}
