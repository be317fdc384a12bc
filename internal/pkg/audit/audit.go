package audit

import (
	"context"
	"encoding/json"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/gofiber/fiber/v2/log"
)

// Entity types
const (
	EntityWebhookEvent   = "webhook_event"
	EntityBillingAccount = "billing_account"
	EntitySubscription   = "subscription"
	EntityPayout         = "payout"
	EntityAffiliate      = "affiliate"
)

// Entry is one state transition.
type Entry struct {
	EntityType string
	EntityID   string
	Action     string
	From       string
	To         string
	Details    interface{}
}

// Trail appends entries to the audit log. Failures are logged only; the
// audit trail never fails the transition it describes.
type Trail struct {
	repo repository.AuditLogRepository
}

func NewTrail(repo repository.AuditLogRepository) *Trail {
	return &Trail{repo: repo}
}

func (t *Trail) Record(ctx context.Context, e Entry) {
	if t == nil || t.repo == nil {
		return
	}
	row := &models.AuditLog{
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Action:     e.Action,
		FromState:  e.From,
		ToState:    e.To,
	}
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			log.Warnf("[Audit] Dropping details for %s/%s: %v", e.EntityType, e.EntityID, err)
		} else {
			row.Details = b
		}
	}
	if err := t.repo.Append(ctx, row); err != nil {
		log.Errorf("[Audit] Failed to append %s for %s/%s: %v", e.Action, e.EntityType, e.EntityID, err)
	}
}
