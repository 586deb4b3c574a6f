package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryWorker polls the database for retryable error items whose
// next_retry_at is in the past and re-drives them as fresh pending attempts.
//
// This DB-backed approach means retries survive server restarts:
// scheduled retry times are persisted, not held in memory.
type RetryWorker struct {
	svc         QueueManager
	maxAttempts int
	limit       int
	interval    time.Duration
	logger      *zap.Logger
	hooks       MetricHooks
}

func NewRetryWorker(
	svc QueueManager,
	maxAttempts int,
	limit int,
	interval time.Duration,
	logger *zap.Logger,
	hooks MetricHooks,
) *RetryWorker {
	return &RetryWorker{
		svc: svc, maxAttempts: maxAttempts, limit: limit,
		interval: interval, logger: logger, hooks: hooks.withDefaults(),
	}
}

// Run ticks every interval and re-drives any due retries.
// Stops cleanly when ctx is cancelled.
func (rw *RetryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.logger.Info("retry worker started", zap.Duration("interval", rw.interval))

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("retry worker stopping")
			return
		case <-ticker.C:
			rw.poll(ctx)
		}
	}
}

func (rw *RetryWorker) poll(ctx context.Context) {
	n, err := rw.svc.RetryDue(ctx, rw.maxAttempts, rw.limit)
	if err != nil {
		rw.logger.Error("retry poll error", zap.Error(err))
		return
	}
	if n > 0 {
		rw.hooks.OnRetried(n)
		rw.logger.Info("re-drove due retries", zap.Int("count", n))
	}
}
