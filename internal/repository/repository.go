package repository

import (
	"context"
	"time"

	"github.com/nftbridge/starknet-migrator/internal/domain"
)

// QueueRepository persists migration queue items and drives their status
// transitions. The pgx implementation is in pg_queue_repo.go; tests use the
// in-memory store (memory_store.go).
//
// ClaimBatch stamps each claimed item with a fresh claim token prefixed by
// owner ("<owner>/<uuid>"). Transitions out of processing (MarkSuccess,
// MarkError, Release) only apply while the item still carries that token;
// otherwise they return domain.ErrLeaseLost.
type QueueRepository interface {
	Enqueue(ctx context.Context, walletPubKey, projectID, starknetAccount string, tokenIDs []string) ([]*domain.QueueItem, error)
	ClaimBatch(ctx context.Context, owner string, limit int) ([]*domain.QueueItem, error)
	GetByID(ctx context.Context, id int64) (*domain.QueueItem, error)
	ListByCustomer(ctx context.Context, walletPubKey, projectID string) ([]*domain.QueueItem, error)
	RecordTransactionHash(ctx context.Context, id int64, txHash string) error
	MarkSuccess(ctx context.Context, id int64, claim string, txHash *string) error
	MarkError(ctx context.Context, id int64, claim string, errMsg string, retryable bool, nextRetry *time.Time) error
	Release(ctx context.Context, id int64, claim string) error
	ReclaimStale(ctx context.Context, claimedBefore time.Time) (int, error)
	FindDueRetries(ctx context.Context, maxAttempts, limit int) ([]*domain.QueueItem, error)
	Retry(ctx context.Context, id int64) (*domain.QueueItem, error)
}

// CustomerKeysRepository stores, per wallet and project, the tokens the
// customer has migrated. Saves merge into the existing set.
type CustomerKeysRepository interface {
	SaveCustomerKeys(ctx context.Context, keys domain.CustomerKeys) error
	GetCustomerKeys(ctx context.Context, walletPubKey, projectID string) (*domain.CustomerKeys, error)
}

// TransactionRepository reads recorded source-chain transfers.
type TransactionRepository interface {
	GetTransactionsForContract(ctx context.Context, projectID, tokenID string) ([]domain.Transaction, error)
}

// MintLockRepository hands out short leases on a (project, token) pair so at
// most one worker across all processes mints a given token at a time.
// An expired lease may be taken over by another holder.
type MintLockRepository interface {
	Acquire(ctx context.Context, projectID, tokenID, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, projectID, tokenID, holder string) error
}
