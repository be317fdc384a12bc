package router

import (
	"strconv"
	"time"

	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/ManuelReschke/PayFox/internal/pkg/bootstrap"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"
)

const (
	webhookRateLimit  = 600
	webhookRateWindow = time.Minute
	// rate limit counters live apart from the cache database
	limiterDatabase = 2
)

type WebhookRouter struct {
	container *bootstrap.Container
}

func NewWebhookRouter(c *bootstrap.Container) *WebhookRouter {
	return &WebhookRouter{container: c}
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	cfg := limiter.Config{
		Max:        webhookRateLimit,
		Expiration: webhookRateWindow,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "too many deliveries",
			})
		},
	}
	// shared counters when several instances sit behind the load balancer
	if h.container.Redis != nil {
		port, _ := strconv.Atoi(h.container.Config.Cache.Port)
		cfg.Storage = redis.New(redis.Config{
			Host:     h.container.Config.Cache.Host,
			Port:     port,
			Password: h.container.Config.Cache.Password,
			Database: limiterDatabase,
			Reset:    false,
		})
	}

	webhooks := controllers.NewWebhookController(h.container.Dispatcher, h.container.Counter)
	app.Post("/webhooks/gateway", limiter.New(cfg), webhooks.HandleGatewayWebhook)
}
