package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nftbridge/starknet-migrator/internal/config"
	"github.com/nftbridge/starknet-migrator/internal/queue"
	"github.com/nftbridge/starknet-migrator/internal/ratelimiter"
	"github.com/nftbridge/starknet-migrator/internal/repository"
	"github.com/nftbridge/starknet-migrator/internal/starknet"
)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the pool constructor signature clean.
type MetricHooks struct {
	OnMinted    func(latency time.Duration)
	OnFailed    func(retryable bool)
	OnSkipped   func(reason string)
	OnReclaimed func(n int)
	OnRetried   func(n int)
	OnDepth     func(depth int)
}

func (h MetricHooks) withDefaults() MetricHooks {
	if h.OnMinted == nil {
		h.OnMinted = func(time.Duration) {}
	}
	if h.OnFailed == nil {
		h.OnFailed = func(bool) {}
	}
	if h.OnSkipped == nil {
		h.OnSkipped = func(string) {}
	}
	if h.OnReclaimed == nil {
		h.OnReclaimed = func(int) {}
	}
	if h.OnRetried == nil {
		h.OnRetried = func(int) {}
	}
	if h.OnDepth == nil {
		h.OnDepth = func(int) {}
	}
	return h
}

// Pool manages the lifecycle of the dispatcher, the mint workers and the two
// maintenance loops (lease reclaim and retry re-drive).
//
// Every pool claims under its own owner id, so several processes can share
// one database: claims are exclusive per item, each claim carries its own
// token, and mints are serialised per token by the mint lock.
type Pool struct {
	owner      string
	buf        *queue.Buffer
	svc        QueueManager
	dispatcher *Dispatcher
	workers    []*Worker
	reclaimer  *ReclaimWorker
	retrier    *RetryWorker
	logger     *zap.Logger
	g          *errgroup.Group
}

func NewPool(
	cfg *config.Config,
	buf *queue.Buffer,
	svc QueueManager,
	locks repository.MintLockRepository,
	chain starknet.Manager,
	limiter *ratelimiter.MintLimiter,
	logger *zap.Logger,
	hooks MetricHooks,
) *Pool {
	hooks = hooks.withDefaults()
	owner := uuid.NewString()
	logger = logger.With(zap.String("owner", owner))
	policy := RetryPolicy{BaseDelay: cfg.RetryBaseDelay, MaxDelay: cfg.RetryMaxDelay}

	workers := make([]*Worker, cfg.Workers)
	for i := range workers {
		workers[i] = NewWorker(
			i, buf, svc, locks, chain, limiter,
			cfg.MintLockTTL, policy,
			logger.With(zap.Int("worker_id", i)),
			hooks,
		)
	}

	return &Pool{
		owner:      owner,
		buf:        buf,
		svc:        svc,
		dispatcher: NewDispatcher(owner, buf, svc, cfg.PollInterval, logger, hooks),
		workers:    workers,
		reclaimer:  NewReclaimWorker(svc, cfg.LeaseTimeout, cfg.ReclaimInterval, logger, hooks),
		retrier:    NewRetryWorker(svc, cfg.MaxAttempts, cfg.BatchSize, cfg.RetryInterval, logger, hooks),
		logger:     logger,
	}
}

// Owner is the prefix of every claim token this pool stamps on items.
func (p *Pool) Owner() string { return p.owner }

// Start launches every loop as a goroutine.
// The provided ctx is forwarded to all of them; cancelling it triggers a
// graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	p.g = new(errgroup.Group)
	p.g.Go(func() error { p.dispatcher.Run(ctx); return nil })
	p.g.Go(func() error { p.reclaimer.Run(ctx); return nil })
	p.g.Go(func() error { p.retrier.Run(ctx); return nil })
	for _, w := range p.workers {
		w := w
		p.g.Go(func() error { w.Run(ctx); return nil })
	}
}

// Wait blocks until every loop has returned after ctx is cancelled, then
// hands any claimed-but-unprocessed items back to pending.
func (p *Pool) Wait() {
	if p.g == nil {
		return
	}
	_ = p.g.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	left := p.buf.Drain()
	for _, it := range left {
		if err := p.svc.Release(ctx, it.ID, it.Claim()); err != nil {
			p.logger.Warn("failed to release buffered item on shutdown", zap.Int64("item_id", it.ID), zap.Error(err))
		}
	}
	if len(left) > 0 {
		p.logger.Info("released buffered items", zap.Int("count", len(left)))
	}
}
