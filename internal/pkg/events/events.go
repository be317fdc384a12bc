package events

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Topics
const (
	TopicSubscriptionChanged = "billing.subscription.changed"
	TopicDunningExhausted    = "billing.dunning.exhausted"
	TopicPayoutCompleted     = "payout.completed"
	TopicPayoutFailed        = "payout.failed"
	TopicFraudAlert          = "fraud.alert"
)

// Event is a domain event. Key selects the partition.
type Event struct {
	Topic      string
	Key        string
	OccurredAt time.Time
	Data       interface{}
}

// Envelope is the wire format written to the broker.
type Envelope struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Emit publishes evt and logs failures. Domain events follow durable state
// writes and never fail the operation that produced them.
func Emit(ctx context.Context, p Publisher, evt Event) {
	if p == nil {
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	if err := p.Publish(ctx, evt); err != nil {
		log.Warnf("[Events] Failed to publish %s (key=%s): %v", evt.Topic, evt.Key, err)
	}
}

// LogPublisher is used when no brokers are configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, evt Event) error {
	log.Debugf("[Events] %s key=%s", evt.Topic, evt.Key)
	return nil
}

func (LogPublisher) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events(topic string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if topic == "" || e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}
