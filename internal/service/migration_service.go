package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/nftbridge/starknet-migrator/internal/domain"
	"github.com/nftbridge/starknet-migrator/internal/repository"
	"github.com/nftbridge/starknet-migrator/internal/signature"
)

// Options tune the MigrationService.
type Options struct {
	// BatchSize caps how many items one GetBatch call claims.
	BatchSize int
	// RequireProvenance makes RequestMigration insist that the latest recorded
	// transfer of every token went to the requesting wallet.
	RequireProvenance bool
	// ReplayCacheSize is how many consumed signatures are remembered.
	ReplayCacheSize int
}

// Hooks let the metrics package observe the service without an import.
type Hooks struct {
	OnEnqueued func(n int)
	OnRejected func(reason string)
}

// MigrationService is the queue manager. It turns a signed ownership proof
// into per-token queue items and exposes the claim, outcome and recovery
// operations the workers and operators drive them with.
// HTTP handlers, workers and the CLI depend on this service, not on the
// repositories.
type MigrationService struct {
	queue     repository.QueueRepository
	keys      repository.CustomerKeysRepository
	txs       repository.TransactionRepository
	validator signature.Validator
	used      *lru.Cache
	opts      Options
	hooks     Hooks
	logger    *zap.Logger
}

func NewMigrationService(
	queue repository.QueueRepository,
	keys repository.CustomerKeysRepository,
	txs repository.TransactionRepository,
	validator signature.Validator,
	opts Options,
	hooks Hooks,
	logger *zap.Logger,
) (*MigrationService, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.ReplayCacheSize <= 0 {
		opts.ReplayCacheSize = 1
	}
	used, err := lru.New(opts.ReplayCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create replay cache: %w", err)
	}
	return &MigrationService{
		queue:     queue,
		keys:      keys,
		txs:       txs,
		validator: validator,
		used:      used,
		opts:      opts,
		hooks:     hooks,
		logger:    logger,
	}, nil
}

// RequestMigration validates the request, checks the wallet's proof and
// enqueues one item per token. Nothing is enqueued unless every check passes.
//
// A signature is consumed only when the enqueue succeeds, so a request that
// failed on a store error can be resubmitted with the same proof.
func (s *MigrationService) RequestMigration(ctx context.Context, req domain.MigrationRequest) ([]*domain.QueueItem, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("wallet", req.WalletPubKey), zap.String("project_id", req.ProjectID))

	sig, err := s.validator.Verify(domain.SignedHash{Signature: req.Signature}, req.StarknetAccount, req.WalletPubKey)
	if err != nil {
		log.Warn("signature verification failed", zap.Error(err))
		s.rejected("signature")
		return nil, err
	}

	// ContainsOrAdd reserves the signature atomically; concurrent replays of
	// the same proof lose here.
	if seen, _ := s.used.ContainsOrAdd(sig, struct{}{}); seen {
		s.rejected("replay")
		return nil, domain.ErrSignatureReplayed
	}

	tokenIDs := domain.UniqueTokenIDs(req.TokenIDs)
	if s.opts.RequireProvenance {
		if err := s.checkProvenance(ctx, req.WalletPubKey, req.ProjectID, tokenIDs); err != nil {
			s.used.Remove(sig)
			if errors.Is(err, domain.ErrOwnershipUnproven) {
				s.rejected("provenance")
			}
			log.Warn("provenance check failed", zap.Error(err))
			return nil, err
		}
	}

	items, err := s.Enqueue(ctx, req.WalletPubKey, req.ProjectID, req.StarknetAccount, tokenIDs)
	if err != nil {
		s.used.Remove(sig)
		return nil, err
	}
	log.Info("migration requested", zap.Int("tokens", len(items)))
	return items, nil
}

// checkProvenance requires that the most recent recorded transfer of each
// token was to the wallet's source-chain address.
func (s *MigrationService) checkProvenance(ctx context.Context, walletPubKey, projectID string, tokenIDs []string) error {
	owner, err := s.validator.SourceAddress(walletPubKey)
	if err != nil {
		return err
	}
	for _, tokenID := range tokenIDs {
		txs, err := s.txs.GetTransactionsForContract(ctx, projectID, tokenID)
		if err != nil {
			return err
		}
		var recipient string
		for _, tx := range txs {
			if tx.Msg.TransferNft != nil {
				recipient = tx.Msg.TransferNft.Recipient
			}
		}
		if recipient != owner {
			return fmt.Errorf("%w: token %s", domain.ErrOwnershipUnproven, tokenID)
		}
	}
	return nil
}

// Enqueue creates a pending item for every token that has no active item for
// this wallet and project. Existing active items are returned unchanged. All
// inserts commit together or not at all.
func (s *MigrationService) Enqueue(ctx context.Context, walletPubKey, projectID, starknetAccount string, tokenIDs []string) ([]*domain.QueueItem, error) {
	items, err := s.queue.Enqueue(ctx, walletPubKey, projectID, starknetAccount, domain.UniqueTokenIDs(tokenIDs))
	if err != nil {
		s.logger.Error("enqueue failed",
			zap.String("wallet", walletPubKey), zap.String("project_id", projectID), zap.Error(err))
		if !errors.Is(err, domain.ErrEnqueue) {
			err = fmt.Errorf("%w: %w", domain.ErrEnqueue, err)
		}
		return nil, err
	}
	if s.hooks.OnEnqueued != nil {
		s.hooks.OnEnqueued(len(items))
	}
	return items, nil
}

// GetBatch claims up to BatchSize pending items for owner.
func (s *MigrationService) GetBatch(ctx context.Context, owner string) ([]*domain.QueueItem, error) {
	return s.GetBatchN(ctx, owner, s.opts.BatchSize)
}

// GetBatchN is GetBatch with a smaller cap, used when the caller can only
// take limit items right now.
func (s *MigrationService) GetBatchN(ctx context.Context, owner string, limit int) ([]*domain.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > s.opts.BatchSize {
		limit = s.opts.BatchSize
	}
	items, err := s.queue.ClaimBatch(ctx, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	return items, nil
}

// GetCustomerMigrationState returns every queue item of a wallet and project,
// history included. It never fails: store errors are logged and an empty
// list is returned.
func (s *MigrationService) GetCustomerMigrationState(ctx context.Context, walletPubKey, projectID string) []*domain.QueueItem {
	items, err := s.queue.ListByCustomer(ctx, walletPubKey, projectID)
	if err != nil {
		s.logger.Error("list migration state",
			zap.String("wallet", walletPubKey), zap.String("project_id", projectID), zap.Error(err))
		return []*domain.QueueItem{}
	}
	if items == nil {
		items = []*domain.QueueItem{}
	}
	return items
}

func (s *MigrationService) GetCustomerKeys(ctx context.Context, walletPubKey, projectID string) (*domain.CustomerKeys, error) {
	return s.keys.GetCustomerKeys(ctx, walletPubKey, projectID)
}

// RecordMigratedToken adds tokenID to the customer's migrated set.
func (s *MigrationService) RecordMigratedToken(ctx context.Context, item *domain.QueueItem) error {
	return s.keys.SaveCustomerKeys(ctx, domain.CustomerKeys{
		WalletPubKey: item.WalletPubKey,
		ProjectID:    item.ProjectID,
		TokenIDs:     []string{item.TokenID},
	})
}

// RecordTransactionHash stores the hash of a submitted mint on the item as
// soon as it is known, before the outcome is settled.
func (s *MigrationService) RecordTransactionHash(ctx context.Context, id int64, txHash string) error {
	return s.queue.RecordTransactionHash(ctx, id, txHash)
}

// MarkSuccess, MarkError and Release take the claim token the item was
// claimed with (QueueItem.Claim) and fail with domain.ErrLeaseLost once that
// claim has been reclaimed.
func (s *MigrationService) MarkSuccess(ctx context.Context, id int64, claim string, txHash *string) error {
	return s.queue.MarkSuccess(ctx, id, claim, txHash)
}

func (s *MigrationService) MarkError(ctx context.Context, id int64, claim string, cause error, nextRetry *time.Time) error {
	return s.queue.MarkError(ctx, id, claim, cause.Error(), domain.IsRetryable(cause), nextRetry)
}

// Release hands a claimed item back to pending without counting an attempt.
func (s *MigrationService) Release(ctx context.Context, id int64, claim string) error {
	return s.queue.Release(ctx, id, claim)
}

// ReclaimStale returns items claimed longer ago than leaseTimeout to pending.
func (s *MigrationService) ReclaimStale(ctx context.Context, leaseTimeout time.Duration) (int, error) {
	n, err := s.queue.ReclaimStale(ctx, time.Now().UTC().Add(-leaseTimeout))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale items: %w", err)
	}
	return n, nil
}

// RetryDue re-drives up to limit retryable error items whose backoff has
// elapsed and that have not used up maxAttempts.
func (s *MigrationService) RetryDue(ctx context.Context, maxAttempts, limit int) (int, error) {
	due, err := s.queue.FindDueRetries(ctx, maxAttempts, limit)
	if err != nil {
		return 0, fmt.Errorf("find due retries: %w", err)
	}
	n := 0
	for _, it := range due {
		if _, err := s.queue.Retry(ctx, it.ID); err != nil {
			s.logger.Warn("retry failed", zap.Int64("id", it.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// Retry re-drives a single error item, returning the new attempt (or the
// active item that already supersedes it).
func (s *MigrationService) Retry(ctx context.Context, id int64) (*domain.QueueItem, error) {
	return s.queue.Retry(ctx, id)
}

func (s *MigrationService) rejected(reason string) {
	if s.hooks.OnRejected != nil {
		s.hooks.OnRejected(reason)
	}
}
