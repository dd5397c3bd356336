package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/MemberVault/internal/pkg/config"
	"github.com/ManuelReschke/MemberVault/internal/pkg/middleware"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the shared clients the routers are built from.
type Dependencies struct {
	Config  *config.Config
	Redis   *redis.Client
	Users   middleware.UserFinder
	APIKeys middleware.APIKeyStore
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// Install HttpRouter first: it registers the unauthenticated routes and
	// the global UserContext middleware the API routes depend on.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
