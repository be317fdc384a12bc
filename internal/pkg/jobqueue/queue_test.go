package jobqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewQueue tests the queue constructor
func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 3},
		{"Negative workers", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(nil, tt.workers)

			assert.NotNil(t, queue)
			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.NotNil(t, queue.workerPool)
			assert.Equal(t, tt.expectedWorkers, cap(queue.workerPool))
			assert.NotNil(t, queue.stopCh)
			assert.False(t, queue.running)
		})
	}
}

func TestConstants(t *testing.T) {
	assert.Equal(t, "job:", JobKeyPrefix)
	assert.Equal(t, "job_queue", JobQueueKey)
	assert.Equal(t, "job_processing", JobProcessingKey)
	assert.Equal(t, "job_stats", JobStatsKey)

	assert.Equal(t, 3, DefaultMaxRetries)
	assert.Equal(t, 24*time.Hour, JobTTL)
}

func TestQueue_EnqueueAndProcess(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()

	q := NewQueue(client, 1)
	var handled atomic.Int32
	q.RegisterProcessor(JobTypeArchiveEvent, func(ctx context.Context, job *Job) error {
		payload, err := ArchiveEventJobPayloadFromMap(job.Payload)
		if err != nil {
			return err
		}
		if payload.ProviderEventID == "evt_1" {
			handled.Add(1)
		}
		return nil
	})

	job, err := q.EnqueueJob(ctx, JobTypeArchiveEvent, ArchiveEventJobPayload{ProviderEventID: "evt_1"}.ToMap())
	require.NoError(t, err)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, stored.Status)

	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	q.Start()
	defer q.Stop()

	assert.Eventually(t, func() bool { return handled.Load() == 1 }, 5*time.Second, 50*time.Millisecond)
	assert.Eventually(t, func() bool {
		stats, err := q.GetJobStats(ctx)
		return err == nil && stats[JobStatusCompleted] == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestQueue_UnknownTypeFailsAfterRetries(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()

	q := NewQueue(client, 1)
	q.retryDelay = 10 * time.Millisecond

	job, err := q.EnqueueJob(ctx, JobType("bogus"), map[string]interface{}{})
	require.NoError(t, err)

	q.Start()
	defer q.Stop()

	assert.Eventually(t, func() bool {
		stored, err := q.GetJob(ctx, job.ID)
		return err == nil && stored.Status == JobStatusFailed && stored.RetryCount == DefaultMaxRetries
	}, 5*time.Second, 50*time.Millisecond)
}

func TestQueue_SweepRecoversStuckJobs(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()

	q := NewQueue(client, 1)
	job, err := q.EnqueueJob(ctx, JobTypeSendNotification, map[string]interface{}{})
	require.NoError(t, err)

	moved, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	moved.MarkAsProcessing()
	q.updateJob(ctx, moved)

	q.sweepStuck(ctx, time.Minute, time.Now().Add(2*time.Minute))

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, stored.Status)

	processing, err := client.LLen(ctx, JobProcessingKey).Result()
	require.NoError(t, err)
	assert.Zero(t, processing)
	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestQueue_ProcessorErrorIsRetried(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()

	q := NewQueue(client, 1)
	q.retryDelay = 10 * time.Millisecond
	var calls atomic.Int32
	q.RegisterProcessor(JobTypeSendNotification, func(ctx context.Context, job *Job) error {
		if calls.Add(1) == 1 {
			return errors.New("smtp down")
		}
		return nil
	})

	_, err := q.EnqueueJob(ctx, JobTypeSendNotification, map[string]interface{}{})
	require.NoError(t, err)

	q.Start()
	defer q.Stop()

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, 5*time.Second, 20*time.Millisecond)
}
