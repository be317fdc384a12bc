package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Registry tags for the supported gateway events.
const (
	TypeSubscriptionCreated     = "subscription.created"
	TypeSubscriptionUpdated     = "subscription.updated"
	TypeSubscriptionDeleted     = "subscription.deleted"
	TypeTrialWillEnd            = "trial_will_end"
	TypeInvoicePaymentSucceeded = "invoice.payment_succeeded"
	TypeInvoicePaymentFailed    = "invoice.payment_failed"
	TypePaymentMethodAttached   = "payment_method.attached"
)

// ErrInvalidEvent marks a verified body that is not a usable event envelope.
var ErrInvalidEvent = errors.New("webhook: invalid event")

// Event is a verified, parsed delivery. Raw and SignatureHeader are kept
// untouched for persistence and replay.
type Event struct {
	ID              string
	Type            string
	RawType         string
	OccurredAt      time.Time
	Object          json.RawMessage
	Previous        json.RawMessage
	Raw             []byte
	SignatureHeader string
}

type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object             json.RawMessage `json:"object"`
		PreviousAttributes json.RawMessage `json:"previous_attributes,omitempty"`
	} `json:"data"`
}

// NormalizeType maps gateway aliases such as customer.subscription.created
// onto registry tags. Unknown types are returned lower-cased.
func NormalizeType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	t = strings.TrimPrefix(t, "customer.")
	if strings.HasSuffix(t, ".trial_will_end") {
		return TypeTrialWillEnd
	}
	return t
}

// ParseEvent decodes a verified body.
func ParseEvent(raw []byte, signatureHeader string) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if strings.TrimSpace(env.ID) == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if strings.TrimSpace(env.Type) == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}

	occurred := time.Now().UTC()
	if env.Created > 0 {
		occurred = time.Unix(env.Created, 0).UTC()
	}
	return &Event{
		ID:              env.ID,
		Type:            NormalizeType(env.Type),
		RawType:         env.Type,
		OccurredAt:      occurred,
		Object:          env.Data.Object,
		Previous:        env.Data.PreviousAttributes,
		Raw:             raw,
		SignatureHeader: signatureHeader,
	}, nil
}

// Verify authenticates rawBody and parses it.
func Verify(rawBody []byte, header, secret string, tolerance time.Duration, now time.Time) (*Event, error) {
	if err := VerifySignature(rawBody, header, secret, tolerance, now); err != nil {
		return nil, err
	}
	return ParseEvent(rawBody, header)
}

// Payload is the typed body of an event. The concrete type depends on the
// registry tag.
type Payload interface {
	payloadKind() string
}

type SubscriptionPayload struct {
	Current  Subscription
	Previous map[string]json.RawMessage
}

type InvoicePayload struct {
	Invoice Invoice
}

type PaymentMethodPayload struct {
	PaymentMethod PaymentMethod
}

func (*SubscriptionPayload) payloadKind() string  { return "subscription" }
func (*InvoicePayload) payloadKind() string       { return "invoice" }
func (*PaymentMethodPayload) payloadKind() string { return "payment_method" }

// Decode returns the typed payload for e.Type.
func (e *Event) Decode() (Payload, error) {
	switch e.Type {
	case TypeSubscriptionCreated, TypeSubscriptionUpdated, TypeSubscriptionDeleted, TypeTrialWillEnd:
		p := &SubscriptionPayload{}
		if err := decodeObject(e.Object, &p.Current); err != nil {
			return nil, err
		}
		if len(e.Previous) > 0 && string(e.Previous) != "null" {
			if err := json.Unmarshal(e.Previous, &p.Previous); err != nil {
				return nil, fmt.Errorf("%w: previous_attributes: %v", ErrInvalidEvent, err)
			}
		}
		return p, nil
	case TypeInvoicePaymentSucceeded, TypeInvoicePaymentFailed:
		p := &InvoicePayload{}
		if err := decodeObject(e.Object, &p.Invoice); err != nil {
			return nil, err
		}
		return p, nil
	case TypePaymentMethodAttached:
		p := &PaymentMethodPayload{}
		if err := decodeObject(e.Object, &p.PaymentMethod); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: no payload for type %q", ErrInvalidEvent, e.Type)
	}
}

func decodeObject(raw json.RawMessage, into interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: missing data.object", ErrInvalidEvent)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("%w: data.object: %v", ErrInvalidEvent, err)
	}
	return nil
}

type Subscription struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	TrialEnd          int64  `json:"trial_end"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	Items             struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Plan *struct {
		ID string `json:"id"`
	} `json:"plan,omitempty"`
}

// PriceRef returns the first item price, falling back to the legacy plan id.
func (s Subscription) PriceRef() string {
	for _, item := range s.Items.Data {
		if item.Price.ID != "" {
			return item.Price.ID
		}
	}
	if s.Plan != nil {
		return s.Plan.ID
	}
	return ""
}

func (s Subscription) CurrentPeriodEndTime() *time.Time { return unixPtr(s.CurrentPeriodEnd) }
func (s Subscription) TrialEndTime() *time.Time         { return unixPtr(s.TrialEnd) }

type PaymentError struct {
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

type Invoice struct {
	ID               string        `json:"id"`
	Customer         string        `json:"customer"`
	Subscription     string        `json:"subscription"`
	AmountDue        int64         `json:"amount_due"`
	AmountPaid       int64         `json:"amount_paid"`
	Currency         string        `json:"currency"`
	PaymentMethod    string        `json:"payment_method"`
	LastPaymentError *PaymentError `json:"last_payment_error,omitempty"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
}

// Amount converts minor units to a decimal amount.
func (i Invoice) Amount() decimal.Decimal {
	cents := i.AmountDue
	if i.AmountPaid > 0 {
		cents = i.AmountPaid
	}
	return decimal.New(cents, -2)
}

// FailureReason returns the gateway's failure code, or "unknown".
func (i Invoice) FailureReason() string {
	if i.LastPaymentError == nil {
		return "unknown"
	}
	if i.LastPaymentError.DeclineCode != "" {
		return i.LastPaymentError.Code + ":" + i.LastPaymentError.DeclineCode
	}
	if i.LastPaymentError.Code != "" {
		return i.LastPaymentError.Code
	}
	return "unknown"
}

// CardDeclined reports whether the failure was a card decline.
func (i Invoice) CardDeclined() bool {
	return i.LastPaymentError != nil && i.LastPaymentError.Code == "card_declined"
}

func (i Invoice) PaidAt() *time.Time { return unixPtr(i.StatusTransitions.PaidAt) }

type PaymentMethod struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Type     string `json:"type"`
	Card     *struct {
		Brand    string `json:"brand"`
		Last4    string `json:"last4"`
		ExpMonth int    `json:"exp_month"`
		ExpYear  int    `json:"exp_year"`
	} `json:"card,omitempty"`
}

func unixPtr(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
