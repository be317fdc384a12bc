package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
	"github.com/gofiber/fiber/v2/log"
)

// Template names
const (
	TemplatePaymentFailed        = "payment_failed"
	TemplateDunningExhausted     = "dunning_exhausted"
	TemplateTrialWillEnd         = "trial_will_end"
	TemplateSubscriptionChanged  = "subscription_changed"
	TemplateSubscriptionStatus   = "subscription_status"
	TemplateCancellationChanged  = "subscription_cancellation"
	TemplateSubscriptionCanceled = "subscription_canceled"
	TemplatePayoutCompleted      = "payout_completed"
	TemplatePayoutFailed         = "payout_failed"
)

// ErrNoRecipient is returned for messages without an address.
var ErrNoRecipient = errors.New("notification has no recipient")

// Message is one templated notification.
type Message struct {
	Template string
	To       string
	Data     map[string]string
}

// Notifier hands a message off for asynchronous delivery. Implementations
// must not block on the mail transport.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// QueueNotifier enqueues send_notification jobs.
type QueueNotifier struct {
	queue jobqueue.Enqueuer
}

func NewQueueNotifier(queue jobqueue.Enqueuer) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

func (n *QueueNotifier) Notify(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	payload := jobqueue.NotificationJobPayload{
		Template:  msg.Template,
		Recipient: msg.To,
		Data:      msg.Data,
	}
	_, err := n.queue.EnqueueJob(ctx, jobqueue.JobTypeSendNotification, payload.ToMap())
	return err
}

// Send is the best-effort fan-out used by the domain services: a failed
// hand-off is logged and never returned.
func Send(ctx context.Context, n Notifier, msg Message) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, msg); err != nil {
		log.Warnf("[Notify] Dropping %s notification for %q: %v", msg.Template, msg.To, err)
	}
}

// Recorder keeps messages in memory. Used by local runs without SMTP and tests.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

func (r *Recorder) Notify(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.messages = append(r.messages, msg)
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// ByTemplate returns the recorded messages using template.
func (r *Recorder) ByTemplate(template string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Template == template {
			out = append(out, m)
		}
	}
	return out
}
