package billing

import "fmt"

// UnknownCustomerError: the gateway customer has no billing account. Not
// retried; the ledger keeps the event replayable for reconciliation.
type UnknownCustomerError struct {
	CustomerID string
}

func (e *UnknownCustomerError) Error() string {
	return fmt.Sprintf("unknown gateway customer %q", e.CustomerID)
}

func (e *UnknownCustomerError) Permanent() bool { return true }

type UnknownSubscriptionError struct {
	SubscriptionID string
}

func (e *UnknownSubscriptionError) Error() string {
	return fmt.Sprintf("unknown subscription %q", e.SubscriptionID)
}

func (e *UnknownSubscriptionError) Permanent() bool { return true }

// MappingError: no active plan mapping for a price reference.
type MappingError struct {
	PriceRef string
}

func (e *MappingError) Error() string {
	if e.PriceRef == "" {
		return "subscription carries no price reference"
	}
	return fmt.Sprintf("no active plan mapping for price %q", e.PriceRef)
}

func (e *MappingError) Permanent() bool { return true }
