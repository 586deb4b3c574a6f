package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/nftbridge/starknet-migrator/internal/domain"
	"github.com/nftbridge/starknet-migrator/internal/queue"
	"github.com/nftbridge/starknet-migrator/internal/ratelimiter"
	"github.com/nftbridge/starknet-migrator/internal/repository"
	"github.com/nftbridge/starknet-migrator/internal/starknet"
)

// QueueManager is the part of the migration service the workers drive.
type QueueManager interface {
	GetBatchN(ctx context.Context, owner string, limit int) ([]*domain.QueueItem, error)
	RecordMigratedToken(ctx context.Context, item *domain.QueueItem) error
	RecordTransactionHash(ctx context.Context, id int64, txHash string) error
	MarkSuccess(ctx context.Context, id int64, claim string, txHash *string) error
	MarkError(ctx context.Context, id int64, claim string, cause error, nextRetry *time.Time) error
	Release(ctx context.Context, id int64, claim string) error
	ReclaimStale(ctx context.Context, leaseTimeout time.Duration) (int, error)
	RetryDue(ctx context.Context, maxAttempts, limit int) (int, error)
}

// Skip reasons reported through MetricHooks.OnSkipped.
const (
	SkipLocked    = "locked"
	SkipUnknown   = "presence_unknown"
	SkipPresent   = "already_present"
	SkipCancelled = "cancelled"
)

// Worker is a single goroutine that pulls claimed items from the hand-off
// buffer and drives each one to an outcome: minted, already present, failed,
// or released back to pending.
//
// The claim token of the item doubles as the mint lock holder. A reclaimed
// and re-claimed item carries a new token, so the new worker cannot share
// the lease of a stale worker still waiting on its mint.
type Worker struct {
	id      int
	buf     *queue.Buffer
	svc     QueueManager
	locks   repository.MintLockRepository
	chain   starknet.Manager
	limiter *ratelimiter.MintLimiter
	lockTTL time.Duration
	retry   RetryPolicy
	logger  *zap.Logger
	hooks   MetricHooks
}

// RetryPolicy shapes next_retry_at for retryable mint failures.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// NextRetry returns when attempt (1-based) may be re-driven: exponential from
// BaseDelay, capped at MaxDelay, with jitter.
func (p RetryPolicy) NextRetry(now time.Time, attempt int) time.Time {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return now.Add(d)
}

func NewWorker(
	id int,
	buf *queue.Buffer,
	svc QueueManager,
	locks repository.MintLockRepository,
	chain starknet.Manager,
	limiter *ratelimiter.MintLimiter,
	lockTTL time.Duration,
	retry RetryPolicy,
	logger *zap.Logger,
	hooks MetricHooks,
) *Worker {
	return &Worker{
		id: id, buf: buf, svc: svc, locks: locks, chain: chain,
		limiter: limiter, lockTTL: lockTTL, retry: retry, logger: logger,
		hooks: hooks.withDefaults(),
	}
}

// Run blocks until ctx is cancelled, processing one item per iteration.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", zap.Int("id", w.id))
	for {
		item, ok := w.buf.Dequeue(ctx)
		if !ok {
			w.logger.Info("worker stopping", zap.Int("id", w.id))
			return
		}
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item *domain.QueueItem) {
	log := w.logger.With(
		zap.Int64("item_id", item.ID),
		zap.String("project_id", item.ProjectID),
		zap.String("token_id", item.TokenID),
	)
	// Outcomes are recorded even when shutdown cancels ctx mid-item.
	store := context.WithoutCancel(ctx)

	holder := item.Claim()
	acquired, err := w.locks.Acquire(ctx, item.ProjectID, item.TokenID, holder, w.lockTTL)
	if err != nil {
		log.Error("failed to acquire mint lock", zap.Error(err))
		w.release(store, item, log)
		return
	}
	if !acquired {
		log.Debug("token is being minted by another worker")
		w.hooks.OnSkipped(SkipLocked)
		w.release(store, item, log)
		return
	}
	defer func() {
		if err := w.locks.Release(store, item.ProjectID, item.TokenID, holder); err != nil {
			log.Warn("failed to release mint lock", zap.Error(err))
		}
	}()

	switch w.chain.TokenPresence(ctx, item.ProjectID, item.TokenID) {
	case domain.PresenceUnknown:
		log.Warn("token presence unknown, releasing item")
		w.hooks.OnSkipped(SkipUnknown)
		w.release(store, item, log)
		return
	case domain.PresencePresent:
		w.hooks.OnSkipped(SkipPresent)
		w.complete(store, item, item.TransactionHash, log)
		return
	}

	// Block here until the mint limiter grants a token.
	if err := w.limiter.Wait(ctx); err != nil {
		w.hooks.OnSkipped(SkipCancelled)
		w.release(store, item, log)
		return
	}

	// A submission must not outlive the mint lease.
	mintCtx, cancel := context.WithTimeout(ctx, w.lockTTL)
	start := time.Now()
	res, err := w.chain.MintProjectToken(mintCtx, item.ProjectID, item.TokenID, item.StarknetAccount)
	elapsed := time.Since(start)
	cancel()
	if err != nil {
		w.fail(store, item, err, log)
		return
	}

	w.hooks.OnMinted(elapsed)
	log.Info("token minted", zap.String("transaction_hash", res.TransactionHash), zap.Duration("latency", elapsed))
	hash := res.TransactionHash
	if err := w.svc.RecordTransactionHash(store, item.ID, hash); err != nil {
		log.Error("failed to record transaction hash", zap.Error(err))
	}
	item.TransactionHash = &hash
	w.complete(store, item, &hash, log)
}

// complete merges the token into the customer's keys and then marks the item
// successful. If the merge cannot be persisted the item is failed as
// retryable: the re-drive finds the token present and merges again.
func (w *Worker) complete(ctx context.Context, item *domain.QueueItem, txHash *string, log *zap.Logger) {
	merge := func() error { return w.svc.RecordMigratedToken(ctx, item) }
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), 3)
	if err := backoff.Retry(merge, backoff.WithContext(b, ctx)); err != nil {
		log.Error("failed to record customer keys", zap.Error(err))
		cause := &domain.MintError{Retryable: true, Err: fmt.Errorf("record customer keys (tx %s): %w", deref(txHash), err)}
		next := w.retry.NextRetry(time.Now().UTC(), item.Attempt)
		if err := w.svc.MarkError(ctx, item.ID, item.Claim(), cause, &next); err != nil {
			w.outcomeFailed(log, "error", err)
		}
		return
	}
	if err := w.svc.MarkSuccess(ctx, item.ID, item.Claim(), txHash); err != nil {
		w.outcomeFailed(log, "success", err)
	}
}

func (w *Worker) fail(ctx context.Context, item *domain.QueueItem, mintErr error, log *zap.Logger) {
	retryable := domain.IsRetryable(mintErr)
	log.Warn("mint failed", zap.Error(mintErr), zap.Bool("retryable", retryable), zap.Int("attempt", item.Attempt))
	w.hooks.OnFailed(retryable)

	var next *time.Time
	if retryable {
		t := w.retry.NextRetry(time.Now().UTC(), item.Attempt)
		next = &t
	}
	if err := w.svc.MarkError(ctx, item.ID, item.Claim(), mintErr, next); err != nil {
		w.outcomeFailed(log, "error", err)
	}
}

func (w *Worker) release(ctx context.Context, item *domain.QueueItem, log *zap.Logger) {
	if err := w.svc.Release(ctx, item.ID, item.Claim()); err != nil {
		w.outcomeFailed(log, "pending", err)
	}
}

// outcomeFailed logs a status write that did not apply. A lost lease means
// the item was reclaimed meanwhile; whoever claims it next re-checks the chain.
func (w *Worker) outcomeFailed(log *zap.Logger, status string, err error) {
	if errors.Is(err, domain.ErrLeaseLost) {
		log.Warn("claim was reclaimed before the outcome was recorded", zap.String("status", status))
		return
	}
	log.Error("failed to record item outcome", zap.String("status", status), zap.Error(err))
}

func deref(s *string) string {
	if s == nil {
		return "none"
	}
	return *s
}
