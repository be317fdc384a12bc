package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/transfer"
)

const (
	ProviderStripe = "stripe"

	// DestinationStripeAccount is the connected account key in the
	// decrypted payment details.
	DestinationStripeAccount = "stripe_account"
)

// StripeClient cancels subscriptions and sends Connect transfers.
type StripeClient struct {
	newTransfer        func(params *stripe.TransferParams) (*stripe.Transfer, error)
	cancelSubscription func(id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error)
}

func NewStripeClient(secretKey string) *StripeClient {
	stripe.Key = secretKey
	return &StripeClient{
		newTransfer:        transfer.New,
		cancelSubscription: subscription.Cancel,
	}
}

func (c *StripeClient) Name() string { return ProviderStripe }

func (c *StripeClient) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	dest := strings.TrimSpace(req.Destination[DestinationStripeAccount])
	if dest == "" {
		return nil, &ProviderTransferError{Provider: ProviderStripe, Code: "missing_destination", Message: "no connected account in payment details"}
	}

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(minorUnits(req.Amount)),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Destination: stripe.String(dest),
		Metadata: map[string]string{
			"payout_id":    req.PayoutID,
			"affiliate_id": fmt.Sprintf("%d", req.AffiliateID),
			"rail":         req.Rail,
		},
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	t, err := c.newTransfer(params)
	if err != nil {
		return nil, stripeTransferError(err)
	}

	log.Infof("[Gateway] Stripe transfer %s created for payout %s", t.ID, req.PayoutID)
	return &TransferResult{Success: true, Reference: t.ID, Provider: ProviderStripe, Status: "paid"}, nil
}

// CancelSubscription cancels immediately. An already missing subscription
// counts as canceled.
func (c *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	_, err := c.cancelSubscription(subscriptionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			log.Warnf("[Gateway] Subscription %s not found at Stripe, treating as canceled", subscriptionID)
			return nil
		}
		return fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func stripeTransferError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &ProviderTransferError{Provider: ProviderStripe, Code: string(stripeErr.Code), Message: stripeErr.Msg}
	}
	return &ProviderTransferError{Provider: ProviderStripe, Code: "unknown", Message: err.Error()}
}

// LogCanceler only logs. Used when no Stripe key is configured.
type LogCanceler struct{}

func (LogCanceler) CancelSubscription(_ context.Context, subscriptionID string) error {
	log.Warnf("[Gateway] STRIPE_SECRET_KEY not set, subscription %s canceled locally only", subscriptionID)
	return nil
}
