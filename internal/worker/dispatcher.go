package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/nftbridge/starknet-migrator/internal/domain"
	"github.com/nftbridge/starknet-migrator/internal/queue"
)

// Dispatcher claims pending items from the store and feeds them to the
// workers through the hand-off buffer. It never claims more than the buffer
// can take, so claimed items do not pile up in memory.
type Dispatcher struct {
	owner    string
	buf      *queue.Buffer
	svc      QueueManager
	interval time.Duration
	logger   *zap.Logger
	hooks    MetricHooks
}

func NewDispatcher(owner string, buf *queue.Buffer, svc QueueManager, interval time.Duration, logger *zap.Logger, hooks MetricHooks) *Dispatcher {
	return &Dispatcher{owner: owner, buf: buf, svc: svc, interval: interval, logger: logger, hooks: hooks.withDefaults()}
}

// Run ticks every interval and claims as much work as fits.
// Stops cleanly when ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", zap.Duration("interval", d.interval))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll keeps claiming until the store runs dry or the buffer is full.
func (d *Dispatcher) poll(ctx context.Context) {
	for ctx.Err() == nil {
		free := d.buf.Free()
		if free == 0 {
			break
		}
		items, err := d.svc.GetBatchN(ctx, d.owner, free)
		if err != nil {
			d.logger.Error("claim poll error", zap.Error(err))
			break
		}
		for _, it := range items {
			if err := d.buf.Enqueue(it); err != nil {
				if errors.Is(err, domain.ErrQueueFull) {
					d.logger.Warn("hand-off buffer full, releasing item", zap.Int64("item_id", it.ID))
				}
				if err := d.svc.Release(ctx, it.ID, it.Claim()); err != nil {
					d.logger.Error("failed to release item", zap.Int64("item_id", it.ID), zap.Error(err))
				}
			}
		}
		if len(items) > 0 {
			d.logger.Debug("claimed batch", zap.Int("count", len(items)))
		}
		if len(items) == 0 {
			break
		}
	}
	d.hooks.OnDepth(d.buf.Depth())
}
