package router

import (
	"github.com/ManuelReschke/PayFox/internal/pkg/bootstrap"
	"github.com/gofiber/fiber/v2"
)

// Router installs one group of routes.
type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers the public webhook ingress and the operator API.
func InstallRouter(app *fiber.App, c *bootstrap.Container) {
	setup(app, NewWebhookRouter(c), NewApiRouter(c))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
