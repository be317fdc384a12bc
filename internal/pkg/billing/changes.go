package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/PayFox/internal/pkg/notify"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2/log"
)

// Change is one class of change carried by a subscription update.
type Change struct {
	Kind    string
	From    string
	To      string
	EventID string
}

// ChangeHandler reacts to one class of change. Errors are logged and never
// fail the event.
type ChangeHandler func(ctx context.Context, account *models.BillingAccount, change Change) error

// OnChange adds h to the handlers run for kind.
func (u *Updater) OnChange(kind string, h ChangeHandler) {
	u.handlers[kind] = append(u.handlers[kind], h)
}

func (u *Updater) registerDefaultHandlers() {
	u.OnChange(ChangeTier, u.notifyTierChange)
	u.OnChange(ChangeStatus, u.notifyStatusChange)
	u.OnChange(ChangeCancellation, u.notifyCancellation)
}

// fanOut runs the handlers of every change class. Handlers see the saved
// account.
func (u *Updater) fanOut(ctx context.Context, account *models.BillingAccount, changes []Change) {
	for _, change := range changes {
		for _, h := range u.handlers[change.Kind] {
			if err := h(ctx, account, change); err != nil {
				log.Warnf("[Billing] %s handler for owner %d failed: %v", change.Kind, account.OwnerID, err)
			}
		}
	}
}

// subscriptionChanges compares the updated account against its prior state.
// Fields listed in previous_attributes describe the prior state; the stored
// row stands in for everything else.
func (u *Updater) subscriptionChanges(ctx context.Context, evt *webhook.Event, stored models.BillingAccount, after *models.BillingAccount, previous map[string]json.RawMessage) ([]Change, error) {
	fromTier := stored.Tier
	fromStatus := stored.Status
	fromCancel := stored.CancelAtPeriodEnd

	ref, ok, err := previousPriceRef(previous)
	if err != nil {
		return nil, err
	}
	if ok {
		tier, err := u.resolveTier(ctx, ref)
		var unmapped *MappingError
		switch {
		case errors.As(err, &unmapped):
			log.Warnf("[Billing] Previous price %q of event %s is not mapped, using stored tier %s", ref, evt.ID, stored.Tier)
		case err != nil:
			return nil, err
		default:
			fromTier = string(tier)
		}
	}
	if raw, ok := previous["status"]; ok {
		var status string
		if err := json.Unmarshal(raw, &status); err != nil {
			return nil, fmt.Errorf("%w: previous status: %v", webhook.ErrInvalidEvent, err)
		}
		fromStatus = normalizeStatus(status)
	}
	if raw, ok := previous["cancel_at_period_end"]; ok {
		if err := json.Unmarshal(raw, &fromCancel); err != nil {
			return nil, fmt.Errorf("%w: previous cancel_at_period_end: %v", webhook.ErrInvalidEvent, err)
		}
	}

	var changes []Change
	if entitlements.Normalize(fromTier) != entitlements.Normalize(after.Tier) {
		changes = append(changes, Change{Kind: ChangeTier, From: fromTier, To: after.Tier, EventID: evt.ID})
	}
	if fromStatus != after.Status {
		changes = append(changes, Change{Kind: ChangeStatus, From: fromStatus, To: after.Status, EventID: evt.ID})
	}
	if fromCancel != after.CancelAtPeriodEnd {
		changes = append(changes, Change{
			Kind:    ChangeCancellation,
			From:    strconv.FormatBool(fromCancel),
			To:      strconv.FormatBool(after.CancelAtPeriodEnd),
			EventID: evt.ID,
		})
	}
	return changes, nil
}

// previousPriceRef reads the prior price from previous_attributes.items or
// the legacy plan field.
func previousPriceRef(previous map[string]json.RawMessage) (string, bool, error) {
	var prev webhook.Subscription
	items, hasItems := previous["items"]
	plan, hasPlan := previous["plan"]
	if !hasItems && !hasPlan {
		return "", false, nil
	}
	if hasItems {
		if err := json.Unmarshal(items, &prev.Items); err != nil {
			return "", false, fmt.Errorf("%w: previous items: %v", webhook.ErrInvalidEvent, err)
		}
	}
	if hasPlan {
		if err := json.Unmarshal(plan, &prev.Plan); err != nil {
			return "", false, fmt.Errorf("%w: previous plan: %v", webhook.ErrInvalidEvent, err)
		}
	}
	ref := prev.PriceRef()
	return ref, ref != "", nil
}

func changeKinds(changes []Change) []string {
	kinds := make([]string, 0, len(changes))
	for _, c := range changes {
		kinds = append(kinds, c.Kind)
	}
	return kinds
}

func (u *Updater) notifyTierChange(ctx context.Context, account *models.BillingAccount, change Change) error {
	notify.SendToOwner(ctx, u.notifier, u.users, account.OwnerID, notify.TemplateSubscriptionChanged, map[string]string{
		"previous_tier": change.From,
		"tier":          change.To,
	})
	return nil
}

// notifyStatusChange leaves past_due to the dunning mails.
func (u *Updater) notifyStatusChange(ctx context.Context, account *models.BillingAccount, change Change) error {
	if change.To == models.BillingStatusPastDue {
		return nil
	}
	notify.SendToOwner(ctx, u.notifier, u.users, account.OwnerID, notify.TemplateSubscriptionStatus, map[string]string{
		"previous_status": change.From,
		"status":          change.To,
		"tier":            account.Tier,
	})
	return nil
}

func (u *Updater) notifyCancellation(ctx context.Context, account *models.BillingAccount, change Change) error {
	data := map[string]string{"tier": account.Tier}
	if account.CancelAtPeriodEnd {
		data["cancel_at_period_end"] = "true"
		if account.CurrentPeriodEnd != nil {
			data["period_end"] = account.CurrentPeriodEnd.Format("2006-01-02")
		}
	}
	notify.SendToOwner(ctx, u.notifier, u.users, account.OwnerID, notify.TemplateCancellationChanged, data)
	return nil
}
