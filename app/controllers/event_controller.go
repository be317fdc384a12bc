package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const (
	defaultParkedLimit = 50
	maxParkedLimit     = 500
)

// EventLister lists stored deliveries by dispatch status.
type EventLister interface {
	ListByStatus(ctx context.Context, status string, limit int) ([]models.WebhookEvent, error)
}

// EventController serves the operator view of stored webhook events.
type EventController struct {
	processor WebhookProcessor
	events    EventLister
}

func NewEventController(processor WebhookProcessor, events EventLister) *EventController {
	return &EventController{processor: processor, events: events}
}

// HandleReplay re-runs a stored event. The Idempotency-Key header selects
// the dedup key, so replaying an already processed event reports a duplicate.
func (ec *EventController) HandleReplay(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return errorResponse(c, fiber.StatusBadRequest, "bad_request", "event id missing")
	}

	res, err := ec.processor.Replay(c.UserContext(), id, c.Get(HeaderIdempotencyKey))
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errorResponse(c, fiber.StatusNotFound, "not_found", "event not found")
	case errors.Is(err, webhook.ErrInvalidEvent):
		return errorResponse(c, fiber.StatusUnprocessableEntity, "invalid_event", err.Error())
	case err != nil:
		log.Errorf("[Events] Replay of %s by %s failed: %v", id, middleware.Operator(c), err)
		return errorResponse(c, fiber.StatusInternalServerError, "replay_failed", err.Error())
	}

	log.Infof("[Events] %s replayed %s: %s", middleware.Operator(c), id, res.Outcome)
	return c.Status(fiber.StatusOK).JSON(res)
}

type parkedEvent struct {
	ProviderEventID string `json:"provider_event_id"`
	EventType       string `json:"event_type"`
	Attempts        int    `json:"attempts"`
	LastError       string `json:"last_error,omitempty"`
	OccurredAt      string `json:"occurred_at"`
}

// HandleListParked lists events whose handler kept failing.
func (ec *EventController) HandleListParked(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultParkedLimit)
	if limit <= 0 || limit > maxParkedLimit {
		limit = defaultParkedLimit
	}

	list, err := ec.events.ListByStatus(c.UserContext(), models.WebhookStatusParked, limit)
	if err != nil {
		log.Errorf("[Events] Failed to list parked events: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "could not list events")
	}

	out := make([]parkedEvent, 0, len(list))
	for _, e := range list {
		out = append(out, parkedEvent{
			ProviderEventID: e.ProviderEventID,
			EventType:       e.EventType,
			Attempts:        e.Attempts,
			LastError:       e.LastError,
			OccurredAt:      e.OccurredAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{"events": out, "count": len(out)})
}
