package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
)

type webhookEventRepo struct{ s *Store }

func (r *webhookEventRepo) CreateIfNotExists(_ context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.events[event.ProviderEventID]; ok {
		return false, &existing, nil
	}
	event.ID = r.s.id()
	if event.Status == "" {
		event.Status = models.WebhookStatusReceived
	}
	event.CreatedAt = time.Now()
	event.UpdatedAt = event.CreatedAt
	r.s.events[event.ProviderEventID] = *event
	stored := *event
	return true, &stored, nil
}

func (r *webhookEventRepo) GetByProviderEventID(_ context.Context, providerEventID string) (*models.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[providerEventID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &e, nil
}

func (r *webhookEventRepo) UpdateDispatch(_ context.Context, providerEventID, status string, attempts int, lastError string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[providerEventID]
	if !ok {
		return nil
	}
	e.Status = status
	e.Attempts = attempts
	e.LastError = lastError
	if status == models.WebhookStatusProcessed || status == models.WebhookStatusIgnored {
		now := time.Now()
		e.ProcessedAt = &now
	}
	e.UpdatedAt = time.Now()
	r.s.events[providerEventID] = e
	return nil
}

func (r *webhookEventRepo) MarkArchived(_ context.Context, providerEventID, archiveKey string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[providerEventID]
	if !ok {
		return nil
	}
	e.ArchivedAt = &at
	e.ArchiveKey = archiveKey
	r.s.events[providerEventID] = e
	return nil
}

func (r *webhookEventRepo) ListByStatus(_ context.Context, status string, limit int) ([]models.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.WebhookEvent
	for _, e := range r.s.events {
		if e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type idempotencyRepo struct{ s *Store }

func (r *idempotencyRepo) Claim(_ context.Context, rec *models.IdempotencyRecord) (bool, *models.IdempotencyRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := ledgerKey{rec.EventID, rec.DedupKey}
	if existing, ok := r.s.idempotency[key]; ok {
		return false, &existing, nil
	}
	rec.ID = r.s.id()
	rec.Status = models.IdempotencyStatusReceived
	rec.CreatedAt = time.Now()
	r.s.idempotency[key] = *rec
	return true, rec, nil
}

func (r *idempotencyRepo) Reclaim(_ context.Context, eventID, dedupKey string, staleBefore, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := ledgerKey{eventID, dedupKey}
	rec, ok := r.s.idempotency[key]
	if !ok {
		return false, nil
	}
	stale := rec.Status == models.IdempotencyStatusReceived && rec.ClaimedAt.Before(staleBefore)
	if rec.Status != models.IdempotencyStatusFailed && !stale {
		return false, nil
	}
	rec.Status = models.IdempotencyStatusReceived
	rec.ClaimedAt = now
	rec.Error = ""
	r.s.idempotency[key] = rec
	return true, nil
}

func (r *idempotencyRepo) MarkProcessed(_ context.Context, eventID, dedupKey, resultJSON string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := ledgerKey{eventID, dedupKey}
	rec, ok := r.s.idempotency[key]
	if !ok || rec.Status != models.IdempotencyStatusReceived {
		return false, nil
	}
	rec.Status = models.IdempotencyStatusProcessed
	rec.ResultJSON = resultJSON
	rec.ProcessedAt = &at
	r.s.idempotency[key] = rec
	return true, nil
}

func (r *idempotencyRepo) MarkFailed(_ context.Context, eventID, dedupKey, errMsg string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := ledgerKey{eventID, dedupKey}
	rec, ok := r.s.idempotency[key]
	if !ok || rec.Status != models.IdempotencyStatusReceived {
		return nil
	}
	rec.Status = models.IdempotencyStatusFailed
	rec.Error = errMsg
	r.s.idempotency[key] = rec
	return nil
}

func (r *idempotencyRepo) Get(_ context.Context, eventID, dedupKey string) (*models.IdempotencyRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.idempotency[ledgerKey{eventID, dedupKey}]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &rec, nil
}

type auditLogRepo struct{ s *Store }

func (r *auditLogRepo) Append(_ context.Context, entry *models.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry.ID = r.s.id()
	entry.CreatedAt = time.Now()
	r.s.auditLogs = append(r.s.auditLogs, *entry)
	return nil
}

func (r *auditLogRepo) ListByEntity(_ context.Context, entityType, entityID string) ([]models.AuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.AuditLog
	for _, e := range r.s.auditLogs {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

type notificationLogRepo struct{ s *Store }

func (r *notificationLogRepo) Create(_ context.Context, entry *models.NotificationLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry.ID = r.s.id()
	entry.CreatedAt = time.Now()
	r.s.notificationLog = append(r.s.notificationLog, *entry)
	return nil
}
