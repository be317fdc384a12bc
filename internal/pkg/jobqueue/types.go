package jobqueue

import (
	"context"
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeSendNotification JobType = "send_notification"
	JobTypeArchiveEvent     JobType = "archive_webhook_event"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// Processor executes one job type.
type Processor func(ctx context.Context, job *Job) error

// Enqueuer is implemented by the Redis queue and the in-process pool.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error)
}

// NotificationJobPayload contains the payload for templated emails
type NotificationJobPayload struct {
	Template  string            `json:"template"`
	Recipient string            `json:"recipient"`
	Data      map[string]string `json:"data"`
}

// ToMap converts the payload to a map for storage
func (p NotificationJobPayload) ToMap() map[string]interface{} {
	data := make(map[string]interface{}, len(p.Data))
	for k, v := range p.Data {
		data[k] = v
	}
	return map[string]interface{}{
		"template":  p.Template,
		"recipient": p.Recipient,
		"data":      data,
	}
}

func NotificationJobPayloadFromMap(data map[string]interface{}) (*NotificationJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload NotificationJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// ArchiveEventJobPayload contains the payload for webhook archive jobs
type ArchiveEventJobPayload struct {
	ProviderEventID string `json:"provider_event_id"`
}

func (p ArchiveEventJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"provider_event_id": p.ProviderEventID,
	}
}

func ArchiveEventJobPayloadFromMap(data map[string]interface{}) (*ArchiveEventJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var payload ArchiveEventJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
