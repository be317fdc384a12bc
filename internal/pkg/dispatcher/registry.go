package dispatcher

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
)

// HandlerFunc applies the side effects of one event type. The returned value
// is stored as the idempotency result.
type HandlerFunc func(ctx context.Context, evt *webhook.Event) (interface{}, error)

// Registry maps registry tags to handlers. It is populated at startup and
// read-only afterwards.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds fn to the normalized form of eventType.
func (r *Registry) Register(eventType string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[webhook.NormalizeType(eventType)] = fn
}

func (r *Registry) Lookup(eventType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[webhook.NormalizeType(eventType)]
	return fn, ok
}

// Types lists registered tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// permanent is implemented by errors that retrying cannot fix.
type permanent interface {
	Permanent() bool
}

// IsPermanent reports whether err, or anything it wraps, is marked permanent.
func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p) && p.Permanent()
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Permanent() bool { return true }

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
