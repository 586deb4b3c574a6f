package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ReclaimWorker returns items whose claim has outlived the lease timeout to
// pending. A claim only goes stale when its worker died or hung mid-item, so
// this is what keeps a crashed process from stranding work in processing.
type ReclaimWorker struct {
	svc          QueueManager
	leaseTimeout time.Duration
	interval     time.Duration
	logger       *zap.Logger
	hooks        MetricHooks
}

func NewReclaimWorker(
	svc QueueManager,
	leaseTimeout time.Duration,
	interval time.Duration,
	logger *zap.Logger,
	hooks MetricHooks,
) *ReclaimWorker {
	return &ReclaimWorker{svc: svc, leaseTimeout: leaseTimeout, interval: interval, logger: logger, hooks: hooks.withDefaults()}
}

// Run ticks every interval and reclaims stale claims.
// Stops cleanly when ctx is cancelled.
func (rw *ReclaimWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.logger.Info("reclaim worker started",
		zap.Duration("interval", rw.interval), zap.Duration("lease_timeout", rw.leaseTimeout))

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("reclaim worker stopping")
			return
		case <-ticker.C:
			rw.poll(ctx)
		}
	}
}

func (rw *ReclaimWorker) poll(ctx context.Context) {
	n, err := rw.svc.ReclaimStale(ctx, rw.leaseTimeout)
	if err != nil {
		rw.logger.Error("reclaim poll error", zap.Error(err))
		return
	}
	if n > 0 {
		rw.hooks.OnReclaimed(n)
		rw.logger.Warn("reclaimed stale claims", zap.Int("count", n))
	}
}
