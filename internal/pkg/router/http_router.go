package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MemberVault/internal/pkg/middleware"
	"github.com/ManuelReschke/MemberVault/internal/pkg/telemetry"
)

type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Use(telemetry.Middleware())

	// Webhooks, health and metrics are registered before the session and API
	// key middleware so they never touch the session store.
	h.registerPublicRoutes(app)

	app.Use(middleware.UserContextMiddleware(h.deps.Users))
	app.Use(middleware.APIKeyAuthMiddleware(h.deps.APIKeys))
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}
