package notify

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayFox/internal/pkg/mail"
	"github.com/gofiber/fiber/v2/log"
)

// Worker delivers send_notification jobs and records the outcome.
type Worker struct {
	renderer *Renderer
	sender   mail.Sender
	logs     repository.NotificationLogRepository
}

func NewWorker(renderer *Renderer, sender mail.Sender, logs repository.NotificationLogRepository) *Worker {
	return &Worker{renderer: renderer, sender: sender, logs: logs}
}

// Process implements jobqueue.Processor.
func (w *Worker) Process(ctx context.Context, job *jobqueue.Job) error {
	payload, err := jobqueue.NotificationJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("decode notification payload: %w", err)
	}
	return w.Deliver(ctx, Message{Template: payload.Template, To: payload.Recipient, Data: payload.Data})
}

func (w *Worker) Deliver(ctx context.Context, msg Message) error {
	subject, body, err := w.renderer.Render(msg)
	if err == nil {
		err = w.sender.Send(ctx, msg.To, subject, body)
	}

	entry := &models.NotificationLog{
		Recipient: msg.To,
		Template:  msg.Template,
		Status:    models.NotificationStatusSent,
	}
	if err != nil {
		entry.Status = models.NotificationStatusFailed
		entry.Error = err.Error()
	}
	if lerr := w.logs.Create(ctx, entry); lerr != nil {
		log.Errorf("[Notify] Failed to record notification log for %s: %v", msg.To, lerr)
	}
	return err
}
