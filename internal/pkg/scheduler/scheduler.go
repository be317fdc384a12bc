package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PayFox/internal/pkg/payout"
	"github.com/gofiber/fiber/v2/log"
)

// Runner executes one scheduled payout batch.
type Runner interface {
	RunScheduledPayouts(ctx context.Context) (*payout.Summary, error)
}

// PayoutScheduler triggers scheduled payout runs on a fixed interval.
type PayoutScheduler struct {
	runner   Runner
	interval time.Duration
	timeout  time.Duration
	counter  counter.Counter

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns a scheduler. An interval of zero disables it; timeout bounds a
// single run and defaults to the interval.
func New(runner Runner, interval, timeout time.Duration) *PayoutScheduler {
	if timeout <= 0 {
		timeout = interval
	}
	return &PayoutScheduler{runner: runner, interval: interval, timeout: timeout}
}

// CountInto records the outcome of every run in c.
func (s *PayoutScheduler) CountInto(c counter.Counter) *PayoutScheduler {
	s.counter = c
	return s
}

// Start launches the loop. It is a no-op when disabled or already running.
func (s *PayoutScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interval <= 0 {
		log.Info("[Scheduler] Payout scheduler disabled")
		return
	}
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func(stopCh, doneCh chan struct{}) {
		defer close(doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		log.Infof("[Scheduler] Payout scheduler started (interval: %v)", s.interval)

		for {
			select {
			case <-stopCh:
				log.Info("[Scheduler] Payout scheduler stopped")
				return
			case <-ticker.C:
				s.RunOnce()
			}
		}
	}(s.stopCh, s.doneCh)
}

// Stop ends the loop and waits for an in-flight run to return.
func (s *PayoutScheduler) Stop() {
	s.mu.Lock()
	stopCh, doneCh := s.stopCh, s.doneCh
	s.stopCh, s.doneCh = nil, nil
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

// RunOnce executes a single batch and logs its summary.
func (s *PayoutScheduler) RunOnce() *payout.Summary {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	summary, err := s.runner.RunScheduledPayouts(ctx)
	switch {
	case errors.Is(err, payout.ErrRunInProgress):
		log.Info("[Scheduler] Payout run skipped: another instance holds the lease")
	case err != nil:
		log.Errorf("[Scheduler] Payout run failed: %v", err)
	case summary != nil:
		log.Infof("[Scheduler] Payout run done: processed=%d failed=%d skipped=%d total=%s",
			summary.Processed, summary.Failed, summary.Skipped, summary.TotalAmount.StringFixed(2))
		s.count(ctx, summary)
	}
	return summary
}

func (s *PayoutScheduler) count(ctx context.Context, summary *payout.Summary) {
	if s.counter == nil {
		return
	}
	for name, n := range map[string]int{
		"payout.processed": summary.Processed,
		"payout.failed":    summary.Failed,
		"payout.skipped":   summary.Skipped,
	} {
		if n == 0 {
			continue
		}
		if err := s.counter.Add(ctx, name, int64(n)); err != nil {
			log.Warnf("[Scheduler] Failed to count %s: %v", name, err)
		}
	}
	counter.Incr(ctx, s.counter, "payout.runs")
}
