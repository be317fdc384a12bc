// Package dispatcher authenticates gateway deliveries and runs each event
// through its registered handler exactly once per dedup key.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/audit"
	"github.com/ManuelReschke/PayFox/internal/pkg/idempotency"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2/log"
)

// Outcome values reported in Result.
const (
	OutcomeProcessed  = "processed"
	OutcomeDuplicate  = "duplicate"
	OutcomeIgnored    = "ignored"
	OutcomeParked     = "parked"
	OutcomeUnresolved = "unresolved"
)

// ErrParkFailed is returned when a failed event could not be persisted for
// replay. Only this case is surfaced to the gateway as a server error.
var ErrParkFailed = errors.New("dispatcher: failed to park event")

type Config struct {
	SigningSecret string
	Tolerance     time.Duration
	MaxAttempts   int
	BaseDelay     time.Duration
	// Deadline bounds the whole retry loop of one delivery.
	Deadline time.Duration
	// Timeout bounds a single handler call.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tolerance <= 0 {
		c.Tolerance = webhook.DefaultTolerance
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.Deadline <= 0 {
		c.Deadline = 20 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// Archiver receives events whose dispatch reached a terminal state.
type Archiver interface {
	EnqueueArchive(ctx context.Context, providerEventID string) error
}

type Result struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Outcome   string          `json:"outcome"`
	Duplicate bool            `json:"duplicate"`
	Parked    bool            `json:"parked,omitempty"`
	Attempts  int             `json:"attempts,omitempty"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type Dispatcher struct {
	cfg      Config
	registry *Registry
	ledger   *idempotency.Ledger
	events   repository.WebhookEventRepository
	trail    *audit.Trail
	archiver Archiver
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

func New(cfg Config, registry *Registry, ledger *idempotency.Ledger, events repository.WebhookEventRepository, auditLog repository.AuditLogRepository) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg.withDefaults(),
		registry: registry,
		ledger:   ledger,
		events:   events,
		trail:    audit.NewTrail(auditLog),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// SetArchiver attaches the archive hand-off. A nil archiver disables it.
func (d *Dispatcher) SetArchiver(a Archiver) {
	d.archiver = a
}

// Process verifies, records and dispatches one delivery.
func (d *Dispatcher) Process(ctx context.Context, rawBody []byte, signatureHeader, dedupKey string) (*Result, error) {
	evt, err := webhook.Verify(rawBody, signatureHeader, d.cfg.SigningSecret, d.cfg.Tolerance, d.now())
	if err != nil {
		return nil, err
	}

	_, _, err = d.events.CreateIfNotExists(ctx, &models.WebhookEvent{
		ProviderEventID: evt.ID,
		EventType:       evt.Type,
		OccurredAt:      evt.OccurredAt,
		PayloadJSON:     string(evt.Raw),
		SignatureHeader: evt.SignatureHeader,
		Status:          models.WebhookStatusReceived,
	})
	if err != nil {
		return nil, fmt.Errorf("persist webhook event %s: %w", evt.ID, err)
	}

	return d.dispatch(ctx, evt, dedupKey)
}

// Replay re-runs a stored event from its persisted payload. The payload was
// authenticated at ingestion, so the signature timestamp is not rechecked.
func (d *Dispatcher) Replay(ctx context.Context, providerEventID, dedupKey string) (*Result, error) {
	stored, err := d.events.GetByProviderEventID(ctx, providerEventID)
	if err != nil {
		return nil, fmt.Errorf("load webhook event %s: %w", providerEventID, err)
	}
	evt, err := webhook.ParseEvent([]byte(stored.PayloadJSON), stored.SignatureHeader)
	if err != nil {
		return nil, err
	}
	log.Infof("[Dispatcher] Replaying event %s (%s)", evt.ID, evt.Type)
	return d.dispatch(ctx, evt, dedupKey)
}

func (d *Dispatcher) dispatch(ctx context.Context, evt *webhook.Event, dedupKey string) (*Result, error) {
	res := &Result{EventID: evt.ID, EventType: evt.Type}

	claim, err := d.ledger.Begin(ctx, evt.ID, dedupKey)
	if err != nil {
		return nil, err
	}
	if claim.Duplicate {
		res.Duplicate = true
		res.Outcome = OutcomeDuplicate
		res.Data = claim.Result
		return res, nil
	}

	handler, ok := d.registry.Lookup(evt.Type)
	if !ok {
		log.Infof("[Dispatcher] No handler for event type %q (%s), acknowledging", evt.RawType, evt.ID)
		res.Outcome = OutcomeIgnored
		if _, err := d.ledger.Complete(ctx, claim, map[string]string{"outcome": OutcomeIgnored}); err != nil {
			return nil, err
		}
		d.finish(ctx, evt, models.WebhookStatusIgnored, 0, "")
		return res, nil
	}

	data, attempts, herr := d.runWithRetry(ctx, handler, evt)
	res.Attempts = attempts

	switch {
	case herr == nil:
		won, err := d.ledger.Complete(ctx, claim, data)
		if err != nil {
			return nil, err
		}
		if !won {
			res.Duplicate = true
			res.Outcome = OutcomeDuplicate
			return res, nil
		}
		res.Outcome = OutcomeProcessed
		if data != nil {
			if b, err := json.Marshal(data); err == nil {
				res.Data = b
			}
		}
		d.finish(ctx, evt, models.WebhookStatusProcessed, attempts, "")
		return res, nil

	case IsPermanent(herr):
		log.Warnf("[Dispatcher] Event %s (%s) needs reconciliation: %v", evt.ID, evt.Type, herr)
		res.Outcome = OutcomeUnresolved
		res.Error = herr.Error()
		if err := d.ledger.Fail(ctx, claim, herr); err != nil {
			log.Errorf("[Dispatcher] Failed to release claim for %s: %v", evt.ID, err)
		}
		d.finish(ctx, evt, models.WebhookStatusFailed, attempts, herr.Error())
		return res, nil

	default:
		log.Errorf("[Dispatcher] Event %s (%s) failed after %d attempts: %v", evt.ID, evt.Type, attempts, herr)
		if err := d.ledger.Fail(ctx, claim, herr); err != nil {
			log.Errorf("[Dispatcher] Failed to release claim for %s: %v", evt.ID, err)
		}
		if err := d.events.UpdateDispatch(ctx, evt.ID, models.WebhookStatusParked, attempts, herr.Error()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrParkFailed, evt.ID, err)
		}
		d.appendAudit(ctx, evt, models.WebhookStatusParked, herr.Error())
		d.archive(ctx, evt.ID)
		res.Outcome = OutcomeParked
		res.Parked = true
		res.Error = herr.Error()
		return res, nil
	}
}

// runWithRetry calls handler up to MaxAttempts times, sleeping
// base*2^(n-1) after the n-th failure, and gives up early when the next
// sleep would cross the delivery deadline.
func (d *Dispatcher) runWithRetry(ctx context.Context, handler HandlerFunc, evt *webhook.Event) (interface{}, int, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, d.cfg.Deadline)
	defer cancel()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		data, err := d.callHandler(deadlineCtx, handler, evt)
		if err == nil {
			return data, attempts, nil
		}
		lastErr = err
		if IsPermanent(err) || attempt == d.cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(d.cfg.BaseDelay, attempt)
		if dl, ok := deadlineCtx.Deadline(); ok && time.Until(dl) < delay {
			lastErr = fmt.Errorf("retry deadline exceeded: %w", err)
			break
		}
		log.Warnf("[Dispatcher] Handler for %s failed (attempt %d/%d), retrying in %s: %v",
			evt.ID, attempt, d.cfg.MaxAttempts, delay, err)
		if serr := d.sleep(deadlineCtx, delay); serr != nil {
			lastErr = fmt.Errorf("retry interrupted: %w", err)
			break
		}
	}
	return nil, attempts, lastErr
}

func (d *Dispatcher) callHandler(ctx context.Context, handler HandlerFunc, evt *webhook.Event) (data interface{}, err error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(callCtx, evt)
}

func (d *Dispatcher) finish(ctx context.Context, evt *webhook.Event, status string, attempts int, lastErr string) {
	if err := d.events.UpdateDispatch(ctx, evt.ID, status, attempts, lastErr); err != nil {
		log.Errorf("[Dispatcher] Failed to update event %s status to %s: %v", evt.ID, status, err)
	}
	d.appendAudit(ctx, evt, status, lastErr)
	d.archive(ctx, evt.ID)
}

func (d *Dispatcher) appendAudit(ctx context.Context, evt *webhook.Event, toState, detail string) {
	entry := audit.Entry{
		EntityType: audit.EntityWebhookEvent,
		EntityID:   evt.ID,
		Action:     "dispatch:" + evt.Type,
		From:       models.WebhookStatusReceived,
		To:         toState,
	}
	if detail != "" {
		entry.Details = map[string]string{"error": detail}
	}
	d.trail.Record(ctx, entry)
}

func (d *Dispatcher) archive(ctx context.Context, eventID string) {
	if d.archiver == nil {
		return
	}
	if err := d.archiver.EnqueueArchive(ctx, eventID); err != nil {
		log.Warnf("[Dispatcher] Failed to enqueue archive for %s: %v", eventID, err)
	}
}
