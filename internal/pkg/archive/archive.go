// Package archive copies webhook events to object storage once their
// dispatch reached a terminal state.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
	"github.com/gofiber/fiber/v2/log"
)

type Store interface {
	Put(ctx context.Context, key string, body []byte, metadata map[string]string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Document is the archived JSON object.
type Document struct {
	ProviderEventID string          `json:"provider_event_id"`
	EventType       string          `json:"event_type"`
	OccurredAt      time.Time       `json:"occurred_at"`
	ReceivedAt      time.Time       `json:"received_at"`
	Status          string          `json:"status"`
	Attempts        int             `json:"attempts"`
	LastError       string          `json:"last_error,omitempty"`
	SignatureHeader string          `json:"signature_header"`
	Payload         json.RawMessage `json:"payload"`
}

// ObjectKey returns webhook-events/YYYY/MM/DD/<event id>.json, dated by
// reception.
func ObjectKey(evt *models.WebhookEvent) string {
	at := evt.CreatedAt.UTC()
	return fmt.Sprintf("webhook-events/%04d/%02d/%02d/%s.json", at.Year(), at.Month(), at.Day(), url.PathEscape(evt.ProviderEventID))
}

type Archiver struct {
	events repository.WebhookEventRepository
	store  Store
	queue  jobqueue.Enqueuer
	now    func() time.Time
}

func NewArchiver(events repository.WebhookEventRepository, store Store, queue jobqueue.Enqueuer) *Archiver {
	return &Archiver{events: events, store: store, queue: queue, now: time.Now}
}

// EnqueueArchive schedules the archive job for an event.
func (a *Archiver) EnqueueArchive(ctx context.Context, providerEventID string) error {
	payload := jobqueue.ArchiveEventJobPayload{ProviderEventID: providerEventID}
	_, err := a.queue.EnqueueJob(ctx, jobqueue.JobTypeArchiveEvent, payload.ToMap())
	return err
}

// Process is the job processor for archive_webhook_event.
func (a *Archiver) Process(ctx context.Context, job *jobqueue.Job) error {
	payload, err := jobqueue.ArchiveEventJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid archive payload: %w", err)
	}
	if payload.ProviderEventID == "" {
		return fmt.Errorf("archive job %s has no event id", job.ID)
	}
	return a.Archive(ctx, payload.ProviderEventID)
}

// Archive uploads the event unless it is already archived. An object left by
// an earlier attempt is reused.
func (a *Archiver) Archive(ctx context.Context, providerEventID string) error {
	evt, err := a.events.GetByProviderEventID(ctx, providerEventID)
	if err != nil {
		return fmt.Errorf("load webhook event %s: %w", providerEventID, err)
	}
	if evt.ArchivedAt != nil {
		return nil
	}

	key := ObjectKey(evt)
	exists, err := a.store.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		body, err := json.Marshal(document(evt))
		if err != nil {
			return fmt.Errorf("encode webhook event %s: %w", providerEventID, err)
		}
		err = a.store.Put(ctx, key, body, map[string]string{
			"event-type":    evt.EventType,
			"upload-source": "payfox-archive",
		})
		if err != nil {
			return err
		}
	}

	if err := a.events.MarkArchived(ctx, providerEventID, key, a.now()); err != nil {
		return fmt.Errorf("mark webhook event %s archived: %w", providerEventID, err)
	}
	log.Infof("[Archive] Archived %s to %s", providerEventID, key)
	return nil
}

func document(evt *models.WebhookEvent) Document {
	payload := json.RawMessage(evt.PayloadJSON)
	if !json.Valid(payload) {
		quoted, _ := json.Marshal(evt.PayloadJSON)
		payload = quoted
	}
	return Document{
		ProviderEventID: evt.ProviderEventID,
		EventType:       evt.EventType,
		OccurredAt:      evt.OccurredAt,
		ReceivedAt:      evt.CreatedAt,
		Status:          evt.Status,
		Attempts:        evt.Attempts,
		LastError:       evt.LastError,
		SignatureHeader: evt.SignatureHeader,
		Payload:         payload,
	}
}

// MemoryStore keeps objects in memory. Used for local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, key string, body []byte, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

// Object returns a stored object.
func (m *MemoryStore) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}
