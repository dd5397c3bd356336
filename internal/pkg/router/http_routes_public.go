package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/MemberVault/app/controllers"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Billing provider webhooks (no session, signature-verified in controller)
	app.Post("/billing/webhook/stripe", controllers.HandleStripeWebhook)

	// Prometheus metrics, behind basic auth once credentials are configured
	metricsHandler := adaptor.HTTPHandler(promhttp.Handler())
	if m := h.deps.Config.Metrics; m.User != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{m.User: m.Password},
		}), metricsHandler)
	} else {
		app.Get("/metrics", metricsHandler)
	}
}
