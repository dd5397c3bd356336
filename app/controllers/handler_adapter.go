package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MemberVault/app/repository"
)

// Global controller instances
var (
	billingController *BillingController
	adminController   *AdminController
	accountController *AccountController
)

// InitializeControllers wires the global controllers used by the router.
func InitializeControllers(svc BillingService, dispatcher WebhookDispatcher, cache KeyValueCache, webhookSecret string) {
	repos := repository.GetGlobalRepositories()
	billingController = NewBillingController(svc, dispatcher, cache, webhookSecret)
	adminController = NewAdminController(repos, svc)
	accountController = NewAccountController(repos)
}

// GetBillingController returns the global billing controller instance
func GetBillingController() *BillingController {
	if billingController == nil {
		panic("controllers not initialized. Call InitializeControllers first.")
	}
	return billingController
}

// GetAdminController returns the global admin controller instance
func GetAdminController() *AdminController {
	if adminController == nil {
		panic("controllers not initialized. Call InitializeControllers first.")
	}
	return adminController
}

// GetAccountController returns the global account controller instance
func GetAccountController() *AccountController {
	if accountController == nil {
		panic("controllers not initialized. Call InitializeControllers first.")
	}
	return accountController
}

// Adapter functions used by the router

func HandleStripeWebhook(c *fiber.Ctx) error {
	return GetBillingController().HandleStripeWebhook(c)
}

func HandleCheckout(c *fiber.Ctx) error {
	return GetBillingController().HandleCheckout(c)
}

func HandlePortal(c *fiber.Ctx) error {
	return GetBillingController().HandlePortal(c)
}

func HandleResync(c *fiber.Ctx) error {
	return GetBillingController().HandleResync(c)
}

func HandlePaymentHistory(c *fiber.Ctx) error {
	return GetBillingController().HandlePaymentHistory(c)
}

func HandleDashboard(c *fiber.Ctx) error {
	return GetBillingController().HandleDashboard(c)
}

func HandlePremiumContent(c *fiber.Ctx) error {
	return GetBillingController().HandlePremiumContent(c)
}

func HandleGetTokens(c *fiber.Ctx) error {
	return GetBillingController().HandleGetTokens(c)
}

func HandleConsumeTokens(c *fiber.Ctx) error {
	return GetBillingController().HandleConsumeTokens(c)
}

func HandlePricing(c *fiber.Ctx) error {
	return GetBillingController().HandlePricing(c)
}

// HandleAdminUsers - Adapter for user listing and search
func HandleAdminUsers(c *fiber.Ctx) error {
	return GetAdminController().HandleUsers(c)
}

// HandleAdminUserUpdate - Adapter for the user override endpoint
func HandleAdminUserUpdate(c *fiber.Ctx) error {
	return GetAdminController().HandleUserUpdate(c)
}

func HandleGetUserAccount(c *fiber.Ctx) error {
	return GetAccountController().HandleGetUserAccount(c)
}

func HandleIssueAPIKey(c *fiber.Ctx) error {
	return GetAccountController().HandleIssueAPIKey(c)
}

func HandleRevokeAPIKey(c *fiber.Ctx) error {
	return GetAccountController().HandleRevokeAPIKey(c)
}
