package controllers

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberVault/internal/pkg/billing"
	"github.com/ManuelReschke/MemberVault/internal/pkg/usercontext"
)

const (
	pricingCacheKey = "membervault:pricing"
	pricingCacheTTL = time.Minute
)

// HandleDashboard returns access, tokens and subscription of the current user.
// A failed provider sync degrades to local state instead of an error.
func (bc *BillingController) HandleDashboard(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := requestContext(c)
	defer cancel()

	access, stale, err := bc.billing.CheckAccessWithFallback(ctx, userCtx.UserID)
	if err != nil {
		log.Errorf("[Billing] dashboard access for user %d failed: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "access_check_failed", "Access could not be determined")
	}
	tokens, err := bc.billing.GetTokens(ctx, userCtx.UserID)
	if err != nil {
		log.Errorf("[Billing] dashboard tokens for user %d failed: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "tokens_failed", "Token balance could not be loaded")
	}
	history, err := bc.billing.SubscriptionHistory(ctx, userCtx.UserID)
	if err != nil {
		log.Warnf("[Billing] dashboard history for user %d failed: %v", userCtx.UserID, err)
		history = nil
	}
	if history == nil {
		history = []billing.SubscriptionSummary{}
	}

	resp := fiber.Map{
		"hasAccess":    access.HasAccess,
		"subscription": access.Subscription,
		"history":      history,
		"tokens":       tokens,
		"stale":        stale,
	}
	if u := access.User; u != nil {
		resp["user"] = fiber.Map{
			"id":               u.ID,
			"email":            u.Email,
			"role":             u.Role,
			"membershipStatus": u.MembershipStatus,
			"premium":          billing.HasPremiumAccess(u.ProductID()),
		}
	}
	return c.JSON(resp)
}

// HandlePremiumContent serves gated content or an upgrade prompt. The
// optional product query narrows the gate to one product.
func (bc *BillingController) HandlePremiumContent(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	required := strings.TrimSpace(c.Query("product"))

	ctx, cancel := requestContext(c)
	defer cancel()

	access, _, err := bc.billing.CheckAccessWithFallback(ctx, userCtx.UserID)
	if err != nil || !access.AllowsProduct(required) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":      "upgrade_required",
			"message":    "An active membership is required for this content",
			"upgradeUrl": "/pricing",
		})
	}
	return c.JSON(fiber.Map{
		"content": fiber.Map{
			"title": "Premium content",
			"body":  "Members only.",
		},
	})
}

// HandleFreeContent serves content available to every signed-in user.
func HandleFreeContent(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"content": fiber.Map{
			"title": "Free content",
			"body":  "Available to everyone.",
		},
	})
}

// HandleGetTokens returns the current user's token balance.
func (bc *BillingController) HandleGetTokens(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := requestContext(c)
	defer cancel()

	info, err := bc.billing.GetTokens(ctx, userCtx.UserID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "tokens_failed", "Token balance could not be loaded")
	}
	return c.JSON(info)
}

type consumeRequest struct {
	Amount int64 `json:"amount" validate:"gte=0,lte=1000000"`
}

// HandleConsumeTokens spends tokens from the current user's balance.
func (bc *BillingController) HandleConsumeTokens(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req consumeRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return jsonError(c, fiber.StatusBadRequest, "invalid_request", "amount must be a non-negative number")
		}
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	ok, err := bc.billing.ConsumeTokens(ctx, userCtx.UserID, req.Amount)
	if err != nil {
		log.Errorf("[Billing] consume for user %d failed: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "consume_failed", "Tokens could not be consumed")
	}
	info, err := bc.billing.GetTokens(ctx, userCtx.UserID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "tokens_failed", "Token balance could not be loaded")
	}
	if !ok {
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":   "insufficient_tokens",
			"message": "Not enough tokens",
			"tokens":  info,
		})
	}
	return c.JSON(fiber.Map{"success": true, "tokens": info})
}

// HandlePricing lists the membership tiers. The rendered list is cached
// briefly and dropped whenever a catalog event arrives.
func (bc *BillingController) HandlePricing(c *fiber.Ctx) error {
	if bc.cache != nil {
		if cached, err := bc.cache.Get(pricingCacheKey); err == nil && cached != "" {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			c.Set("X-Cache", "HIT")
			return c.SendString(cached)
		}
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	tiers := bc.billing.MembershipTiers(ctx, true)
	if tiers == nil {
		tiers = []billing.Tier{}
	}
	body, err := json.Marshal(fiber.Map{"tiers": tiers})
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Pricing could not be rendered")
	}
	if bc.cache != nil && len(tiers) > 0 {
		if err := bc.cache.Set(pricingCacheKey, string(body), pricingCacheTTL); err != nil {
			log.Debugf("[Billing] pricing cache write skipped: %v", err)
		}
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	c.Set("X-Cache", "MISS")
	return c.Send(body)
}
