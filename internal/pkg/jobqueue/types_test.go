package jobqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_RetryLifecycle(t *testing.T) {
	job := &Job{ID: "j1", Status: JobStatusPending, MaxRetries: 2}

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)

	job.MarkAsFailed("boom")
	assert.True(t, job.IsRetryable())
	assert.Equal(t, "boom", job.ErrorMsg)

	job.MarkAsRetrying()
	assert.False(t, job.IsRetryable())

	job.MarkAsFailed("boom again")
	assert.False(t, job.IsRetryable(), "retry budget exhausted")

	job.MarkAsCompleted()
	assert.Empty(t, job.ErrorMsg)
	require.NotNil(t, job.CompletedAt)
}

func TestNotificationJobPayload_Map(t *testing.T) {
	in := NotificationJobPayload{
		Template:  "dunning_exhausted",
		Recipient: "owner@example.com",
		Data:      map[string]string{"attempts": "4"},
	}

	out, err := NotificationJobPayloadFromMap(in.ToMap())
	require.NoError(t, err)
	assert.Equal(t, in, *out)
}
