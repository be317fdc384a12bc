package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// ErrQueueFull is returned by LocalQueue when its buffer is exhausted.
var ErrQueueFull = errors.New("jobqueue: local queue full")

// LocalQueue is a bounded in-process worker pool with the same processor
// registry as Queue. Jobs do not survive a restart.
type LocalQueue struct {
	jobs       chan *Job
	workers    int
	processors map[JobType]Processor
	mu         sync.Mutex
	wg         sync.WaitGroup
	stopCh     chan struct{}
	running    bool
	retryDelay time.Duration
}

func NewLocalQueue(workers, buffer int) *LocalQueue {
	if workers <= 0 {
		workers = 3
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &LocalQueue{
		jobs:       make(chan *Job, buffer),
		workers:    workers,
		processors: make(map[JobType]Processor),
		stopCh:     make(chan struct{}),
		retryDelay: time.Second,
	}
}

func (q *LocalQueue) RegisterProcessor(jobType JobType, p Processor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processors[jobType] = p
}

func (q *LocalQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Stop drains nothing: pending jobs are dropped.
func (q *LocalQueue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *LocalQueue) EnqueueJob(_ context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}
	select {
	case q.jobs <- job:
		return job, nil
	default:
		return nil, ErrQueueFull
	}
}

func (q *LocalQueue) worker() {
	defer q.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			return
		case job := <-q.jobs:
			q.process(ctx, job)
		}
	}
}

func (q *LocalQueue) process(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.mu.Lock()
	p, ok := q.processors[job.Type]
	q.mu.Unlock()

	var err error
	if !ok {
		err = fmt.Errorf("unknown job type: %s", job.Type)
	} else {
		err = p(ctx, job)
	}
	if err == nil {
		job.MarkAsCompleted()
		return
	}

	job.MarkAsFailed(err.Error())
	if !job.IsRetryable() {
		log.Errorf("[JobQueue] Job %s permanently failed after %d retries: %v", job.ID, job.RetryCount, err)
		return
	}
	job.MarkAsRetrying()
	time.AfterFunc(q.retryDelay*time.Duration(job.RetryCount), func() {
		select {
		case q.jobs <- job:
		default:
			log.Errorf("[JobQueue] Dropping retry of job %s: queue full", job.ID)
		}
	})
}
