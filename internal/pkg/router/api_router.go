package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/MemberVault/app/controllers"
	"github.com/ManuelReschke/MemberVault/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	rl := h.deps.Config.RateLimit
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        rl.Requests,
		Expiration: rl.Window,
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	v1.Get("/pricing", controllers.HandlePricing)

	consumeLimiter := middleware.NewRateLimiter(h.deps.Redis, middleware.RateLimitConfig{
		Limit:    middleware.PerMinute(rl.ConsumePerMin, rl.ConsumeBurst),
		Prefix:   "tokens_consume",
		KeyFunc:  middleware.KeyByUser,
		FailOpen: rl.RedisFailOpen,
	})

	member := v1.Group("", middleware.RequireAPISessionAuth, middleware.RequireNotBanned)
	member.Get("/dashboard", controllers.HandleDashboard)
	member.Get("/content/free", controllers.HandleFreeContent)
	member.Get("/content/premium", controllers.HandlePremiumContent)
	member.Get("/tokens", controllers.HandleGetTokens)
	member.Post("/tokens/consume", consumeLimiter.Handler(), controllers.HandleConsumeTokens)

	member.Post("/billing/checkout", controllers.HandleCheckout)
	member.Post("/billing/portal", controllers.HandlePortal)
	member.Post("/billing/resync", controllers.HandleResync)
	member.Get("/billing/payments", controllers.HandlePaymentHistory)

	member.Get("/account", controllers.HandleGetUserAccount)
	member.Post("/account/api-key", controllers.HandleIssueAPIKey)
	member.Delete("/account/api-key", controllers.HandleRevokeAPIKey)

	admin := member.Group("/admin", middleware.RequireAdmin)
	admin.Get("/users", controllers.HandleAdminUsers)
	admin.Post("/users/update", controllers.HandleAdminUserUpdate)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
