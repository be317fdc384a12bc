package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUnsupportedRail is returned when no provider serves a payment rail.
var ErrUnsupportedRail = errors.New("unsupported payment rail")

// TransferRequest moves a payout's net amount to the affiliate.
type TransferRequest struct {
	PayoutID       string
	AffiliateID    uint
	Rail           string
	Amount         decimal.Decimal
	Currency       string
	Destination    map[string]string
	IdempotencyKey string
}

type TransferResult struct {
	Success   bool   `json:"success"`
	Reference string `json:"reference"`
	Provider  string `json:"provider"`
	Status    string `json:"status"`
}

// ProviderTransferError is a rejected or failed transfer. It is recorded on
// the payout and the payout stays retryable.
type ProviderTransferError struct {
	Provider string
	Code     string
	Message  string
}

func (e *ProviderTransferError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s transfer failed: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s transfer failed (%s): %s", e.Provider, e.Code, e.Message)
}

type Provider interface {
	Name() string
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// Router picks the provider for a rail.
type Router struct {
	providers map[string]Provider
}

func NewRouter() *Router {
	return &Router{providers: make(map[string]Provider)}
}

// Handle binds provider to every rail given.
func (r *Router) Handle(provider Provider, rails ...string) *Router {
	for _, rail := range rails {
		r.providers[rail] = provider
	}
	return r
}

func (r *Router) Supports(rail string) bool {
	_, ok := r.providers[rail]
	return ok
}

func (r *Router) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	p, ok := r.providers[req.Rail]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRail, req.Rail)
	}
	if !req.Amount.IsPositive() {
		return nil, &ProviderTransferError{Provider: p.Name(), Code: "invalid_amount", Message: "amount must be positive"}
	}
	res, err := p.Transfer(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.Provider == "" {
		res.Provider = p.Name()
	}
	return res, nil
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req TransferRequest) (*TransferResult, error)

func (f ProviderFunc) Name() string { return "func" }

func (f ProviderFunc) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	return f(ctx, req)
}

// SubscriptionCanceler cancels a subscription at the payment gateway.
type SubscriptionCanceler interface {
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// minorUnits converts an amount to integer cents.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
