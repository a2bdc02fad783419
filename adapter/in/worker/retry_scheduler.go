package worker

import (
	"context"
	"time"

	"caseroute/core/service/backfill"
	"caseroute/pkg/logger"
)

const retryBatchLimit = 20

// RetryScheduler periodically re-enqueues sync jobs whose retry time has
// passed. The repository claim is atomic, so running the scheduler on every
// worker instance is safe.
type RetryScheduler struct {
	manager       *backfill.Manager
	checkInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	log           *logger.Logger
}

func NewRetryScheduler(manager *backfill.Manager, checkInterval time.Duration) *RetryScheduler {
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RetryScheduler{
		manager:       manager,
		checkInterval: checkInterval,
		ctx:           ctx,
		cancel:        cancel,
		log:           logger.WithField("component", "retry_scheduler"),
	}
}

// Start starts the scheduler loop.
func (s *RetryScheduler) Start() {
	s.log.Info("retry scheduler starting: interval=%v", s.checkInterval)
	go s.run()
}

// Stop stops the scheduler.
func (s *RetryScheduler) Stop() {
	s.cancel()
}

func (s *RetryScheduler) run() {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.enqueueDue()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info("retry scheduler stopped")
			return
		case <-ticker.C:
			s.enqueueDue()
		}
	}
}

func (s *RetryScheduler) enqueueDue() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()

	published, err := s.manager.EnqueueDueRetries(ctx, retryBatchLimit)
	if err != nil {
		s.log.WithError(err).Error("failed to enqueue due retries")
		return
	}
	if published > 0 {
		s.log.Info("enqueued %d due sync retries", published)
	}
}
