package controllers

import (
	"context"
	"errors"

	"github.com/ManuelReschke/PayFox/internal/pkg/dispatcher"
	"github.com/ManuelReschke/PayFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

const (
	HeaderSignature      = "Signature"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// WebhookProcessor ingests and replays gateway deliveries.
type WebhookProcessor interface {
	Process(ctx context.Context, rawBody []byte, signatureHeader, dedupKey string) (*dispatcher.Result, error)
	Replay(ctx context.Context, providerEventID, dedupKey string) (*dispatcher.Result, error)
}

// WebhookController receives gateway webhook deliveries.
type WebhookController struct {
	processor WebhookProcessor
	counter   counter.Counter
}

// NewWebhookController returns the controller. A nil counter disables
// outcome counting.
func NewWebhookController(processor WebhookProcessor, counts counter.Counter) *WebhookController {
	return &WebhookController{processor: processor, counter: counts}
}

// HandleGatewayWebhook answers 200 for handled, duplicate, ignored and
// unresolvable events, 202 once an event is parked for replay, 4xx for
// rejected deliveries and 500 when the gateway should redeliver.
func (wc *WebhookController) HandleGatewayWebhook(c *fiber.Ctx) error {
	// fiber reuses the request buffer after the handler returns
	body := append([]byte(nil), c.Body()...)

	res, err := wc.processor.Process(c.UserContext(), body, c.Get(HeaderSignature), c.Get(HeaderIdempotencyKey))
	if err != nil {
		return wc.handleError(c, err)
	}
	counter.Incr(c.UserContext(), wc.counter, "webhook."+res.Outcome)
	if res.Parked {
		return c.Status(fiber.StatusAccepted).JSON(res)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

func (wc *WebhookController) handleError(c *fiber.Ctx, err error) error {
	var sigErr *webhook.SignatureError
	switch {
	case errors.As(err, &sigErr):
		log.Warnf("[Webhook] Rejected delivery from %s: %v", c.IP(), err)
		counter.Incr(c.UserContext(), wc.counter, "webhook.rejected")
		return errorResponse(c, fiber.StatusUnauthorized, sigErr.Kind.String(), "signature verification failed")
	case errors.Is(err, webhook.ErrInvalidEvent):
		counter.Incr(c.UserContext(), wc.counter, "webhook.invalid")
		return errorResponse(c, fiber.StatusBadRequest, "invalid_event", err.Error())
	default:
		log.Errorf("[Webhook] Delivery failed: %v", err)
		counter.Incr(c.UserContext(), wc.counter, "webhook.error")
		return errorResponse(c, fiber.StatusInternalServerError, "processing_failed", "event could not be processed, retry later")
	}
}
