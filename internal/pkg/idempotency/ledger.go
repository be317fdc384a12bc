// Package idempotency records which (event, dedup key) pairs have had their
// side effects applied.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
)

// DefaultStaleAfter is how long a received claim may stay unfinished before
// another delivery is allowed to take it over.
const DefaultStaleAfter = 10 * time.Minute

// Claim is the outcome of Begin. When Duplicate is true the caller must not
// run side effects and Result holds the stored outcome, if any.
type Claim struct {
	EventID   string
	DedupKey  string
	Duplicate bool
	Result    json.RawMessage
}

type Ledger struct {
	repo       repository.IdempotencyRepository
	staleAfter time.Duration
	now        func() time.Time
}

func NewLedger(repo repository.IdempotencyRepository, staleAfter time.Duration) *Ledger {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Ledger{repo: repo, staleAfter: staleAfter, now: time.Now}
}

// Begin writes the received record for the pair, or reports a duplicate when
// the pair is already processed or currently owned by another delivery.
func (l *Ledger) Begin(ctx context.Context, eventID, dedupKey string) (*Claim, error) {
	now := l.now()
	claimed, existing, err := l.repo.Claim(ctx, &models.IdempotencyRecord{
		EventID:   eventID,
		DedupKey:  dedupKey,
		ClaimedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("idempotency claim %s/%s: %w", eventID, dedupKey, err)
	}
	claim := &Claim{EventID: eventID, DedupKey: dedupKey}
	if claimed {
		return claim, nil
	}

	switch existing.Status {
	case models.IdempotencyStatusProcessed:
		claim.Duplicate = true
		if existing.ResultJSON != "" {
			claim.Result = json.RawMessage(existing.ResultJSON)
		}
		return claim, nil
	default:
		won, err := l.repo.Reclaim(ctx, eventID, dedupKey, now.Add(-l.staleAfter), now)
		if err != nil {
			return nil, fmt.Errorf("idempotency reclaim %s/%s: %w", eventID, dedupKey, err)
		}
		claim.Duplicate = !won
		return claim, nil
	}
}

// Complete moves the claim to processed. A false return means another
// delivery completed the pair first.
func (l *Ledger) Complete(ctx context.Context, claim *Claim, result interface{}) (bool, error) {
	encoded := ""
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return false, fmt.Errorf("encode idempotency result: %w", err)
		}
		encoded = string(b)
	}
	ok, err := l.repo.MarkProcessed(ctx, claim.EventID, claim.DedupKey, encoded, l.now())
	if err != nil {
		return false, fmt.Errorf("idempotency complete %s/%s: %w", claim.EventID, claim.DedupKey, err)
	}
	return ok, nil
}

// Fail releases the claim so a redelivery or replay can run it again.
func (l *Ledger) Fail(ctx context.Context, claim *Claim, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return l.repo.MarkFailed(ctx, claim.EventID, claim.DedupKey, msg)
}
