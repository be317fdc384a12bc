package router

import (
	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/ManuelReschke/PayFox/internal/pkg/bootstrap"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
)

type ApiRouter struct {
	container *bootstrap.Container
}

func NewApiRouter(c *bootstrap.Container) *ApiRouter {
	return &ApiRouter{container: c}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	c := h.container

	app.Get("/health", func(ctx *fiber.Ctx) error {
		checks := fiber.Map{}
		healthy := true
		if c.DB != nil {
			sqlDB, err := c.DB.DB()
			ok := err == nil && sqlDB.PingContext(ctx.UserContext()) == nil
			checks["database"] = ok
			healthy = healthy && ok
		}
		if c.Redis != nil {
			ok := cache.Healthy(ctx.UserContext(), c.Redis)
			checks["cache"] = ok
			healthy = healthy && ok
		}
		if !healthy {
			return ctx.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "checks": checks})
		}
		return ctx.JSON(fiber.Map{"status": "ok", "checks": checks})
	})

	// API v1 routes, operators only
	v1 := app.Group("/api/v1", middleware.OperatorAuth(c.Config.OperatorJWTSecret))

	payouts := controllers.NewPayoutController(c.Payouts)
	v1.Post("/payouts/run", payouts.HandleRunScheduled)
	v1.Post("/payouts/affiliates/:id", payouts.HandlePayAffiliate)
	v1.Post("/payouts/:id/retry", payouts.HandleRetry)

	events := controllers.NewEventController(c.Dispatcher, c.Repos.WebhookEvent)
	v1.Post("/webhooks/events/:id/replay", events.HandleReplay)
	v1.Get("/webhooks/events/parked", events.HandleListParked)

	entitlements := controllers.NewEntitlementController(c.Entitlements)
	v1.Get("/entitlements/:ownerId", entitlements.HandleGetEntitlements)

	stats := controllers.NewStatsController(c.Counter)
	v1.Get("/stats", stats.HandleDailyStats)
}
