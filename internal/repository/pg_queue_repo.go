package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nftbridge/starknet-migrator/internal/domain"
)

const queueColumns = `id, keplr_wallet_pubkey, project_id, token_id, starknet_account,
	transaction_hash, status, attempt, last_error, retryable, next_retry_at,
	claimed_at, claimed_by, created_at, updated_at`

type pgQueueRepository struct {
	pool *pgxpool.Pool
}

// NewPgQueueRepository returns a QueueRepository backed by PostgreSQL.
func NewPgQueueRepository(pool *pgxpool.Pool) QueueRepository {
	return &pgQueueRepository{pool: pool}
}

// Enqueue inserts one pending item per token inside a single transaction.
// A token that already has an active item (pending, processing or success)
// is not inserted again; the existing item is returned in its place.
func (r *pgQueueRepository) Enqueue(ctx context.Context, walletPubKey, projectID, starknetAccount string, tokenIDs []string) ([]*domain.QueueItem, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", domain.ErrEnqueue, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	items := make([]*domain.QueueItem, 0, len(tokenIDs))
	for _, token := range tokenIDs {
		item, err := scanQueueItem(tx.QueryRow(ctx, `
			INSERT INTO migration_queue (keplr_wallet_pubkey, project_id, token_id, starknet_account)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (keplr_wallet_pubkey, project_id, token_id) WHERE status <> 'error' DO NOTHING
			RETURNING `+queueColumns,
			walletPubKey, projectID, token, starknetAccount,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			item, err = scanQueueItem(tx.QueryRow(ctx, `
				SELECT `+queueColumns+`
				FROM migration_queue
				WHERE keplr_wallet_pubkey = $1 AND project_id = $2 AND token_id = $3 AND status <> 'error'`,
				walletPubKey, projectID, token,
			))
		}
		if err != nil {
			return nil, fmt.Errorf("%w: token %q: %w", domain.ErrEnqueue, token, err)
		}
		items = append(items, item)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", domain.ErrEnqueue, err)
	}
	return items, nil
}

// ClaimBatch moves up to limit pending items to processing in one statement.
// SKIP LOCKED lets concurrent claimers proceed without ever sharing a row.
// Each row gets its own claim token, so re-claiming a reclaimed item never
// hands the new worker the token of the old one.
func (r *pgQueueRepository) ClaimBatch(ctx context.Context, owner string, limit int) ([]*domain.QueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE migration_queue
		SET status = 'processing', claimed_at = NOW(),
		    claimed_by = $2::text || '/' || gen_random_uuid()::text, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM migration_queue
			WHERE status = 'pending'
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+queueColumns, limit, owner)
	if err != nil {
		return nil, fmt.Errorf("%w: claim batch: %w", domain.ErrFetch, err)
	}
	defer rows.Close()

	items, err := scanQueueItems(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: claim batch: %w", domain.ErrFetch, err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *pgQueueRepository) GetByID(ctx context.Context, id int64) (*domain.QueueItem, error) {
	item, err := scanQueueItem(r.pool.QueryRow(ctx,
		`SELECT `+queueColumns+` FROM migration_queue WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get queue item: %w", domain.ErrFetch, err)
	}
	return item, nil
}

func (r *pgQueueRepository) ListByCustomer(ctx context.Context, walletPubKey, projectID string) ([]*domain.QueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+queueColumns+`
		FROM migration_queue
		WHERE keplr_wallet_pubkey = $1 AND project_id = $2
		ORDER BY id`, walletPubKey, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: list customer items: %w", domain.ErrFetch, err)
	}
	defer rows.Close()

	items, err := scanQueueItems(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: list customer items: %w", domain.ErrFetch, err)
	}
	return items, nil
}

// RecordTransactionHash stores the hash of a submitted mint on the row. It is
// not guarded by the claim: once the mint is submitted the hash belongs to the
// item whoever holds it now.
func (r *pgQueueRepository) RecordTransactionHash(ctx context.Context, id int64, txHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE migration_queue SET transaction_hash = $2, updated_at = NOW()
		WHERE id = $1`, id, txHash)
	if err != nil {
		return fmt.Errorf("%w: record transaction hash: %w", domain.ErrFetch, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgQueueRepository) MarkSuccess(ctx context.Context, id int64, claim string, txHash *string) error {
	return r.transition(ctx, `
		UPDATE migration_queue
		SET status = 'success', transaction_hash = COALESCE($3, transaction_hash),
		    last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2`, id, claim, txHash)
}

func (r *pgQueueRepository) MarkError(ctx context.Context, id int64, claim string, errMsg string, retryable bool, nextRetry *time.Time) error {
	return r.transition(ctx, `
		UPDATE migration_queue
		SET status = 'error', last_error = $3, retryable = $4, next_retry_at = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2`, id, claim, errMsg, retryable, nextRetry)
}

func (r *pgQueueRepository) Release(ctx context.Context, id int64, claim string) error {
	return r.transition(ctx, `
		UPDATE migration_queue
		SET status = 'pending', claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2`, id, claim)
}

func (r *pgQueueRepository) ReclaimStale(ctx context.Context, claimedBefore time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE migration_queue
		SET status = 'pending', claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE status = 'processing' AND claimed_at < $1`, claimedBefore)
	if err != nil {
		return 0, fmt.Errorf("%w: reclaim stale items: %w", domain.ErrFetch, err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgQueueRepository) FindDueRetries(ctx context.Context, maxAttempts, limit int) ([]*domain.QueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+queueColumns+`
		FROM migration_queue
		WHERE status = 'error'
		  AND retryable
		  AND next_retry_at <= NOW()
		  AND attempt < $1
		ORDER BY next_retry_at
		LIMIT $2`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: find due retries: %w", domain.ErrFetch, err)
	}
	defer rows.Close()
	return scanQueueItems(rows)
}

// Retry starts a new attempt for an item in error status. The error row is
// kept as history and stops being eligible for automatic retries. A known
// transaction hash carries over to the new attempt. If the triple already has
// an active item, that item is returned unchanged.
func (r *pgQueueRepository) Retry(ctx context.Context, id int64) (*domain.QueueItem, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", domain.ErrFetch, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	prev, err := scanQueueItem(tx.QueryRow(ctx,
		`SELECT `+queueColumns+` FROM migration_queue WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load item: %w", domain.ErrFetch, err)
	}
	if prev.Status != domain.StatusError {
		return nil, domain.ErrNotRetryable
	}

	if _, err := tx.Exec(ctx, `
		UPDATE migration_queue SET retryable = FALSE, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("%w: supersede item: %w", domain.ErrFetch, err)
	}

	next, err := scanQueueItem(tx.QueryRow(ctx, `
		INSERT INTO migration_queue (keplr_wallet_pubkey, project_id, token_id, starknet_account, attempt, transaction_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (keplr_wallet_pubkey, project_id, token_id) WHERE status <> 'error' DO NOTHING
		RETURNING `+queueColumns,
		prev.WalletPubKey, prev.ProjectID, prev.TokenID, prev.StarknetAccount, prev.Attempt+1, prev.TransactionHash,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		next, err = scanQueueItem(tx.QueryRow(ctx, `
			SELECT `+queueColumns+`
			FROM migration_queue
			WHERE keplr_wallet_pubkey = $1 AND project_id = $2 AND token_id = $3 AND status <> 'error'`,
			prev.WalletPubKey, prev.ProjectID, prev.TokenID,
		))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: insert retry attempt: %w", domain.ErrFetch, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit retry: %w", domain.ErrFetch, err)
	}
	return next, nil
}

// transition runs a single-row status update guarded by the claim token.
func (r *pgQueueRepository) transition(ctx context.Context, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%w: update queue item: %w", domain.ErrFetch, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

// ---- helpers ----

// scanQueueItem reads a single queue row from any pgx row type. The status
// column is decoded through domain.ParseQueueStatus so an unknown value is
// reported instead of silently accepted.
func scanQueueItem(row pgx.Row) (*domain.QueueItem, error) {
	var (
		it     domain.QueueItem
		status string
	)
	err := row.Scan(
		&it.ID, &it.WalletPubKey, &it.ProjectID, &it.TokenID, &it.StarknetAccount,
		&it.TransactionHash, &status, &it.Attempt, &it.LastError, &it.Retryable,
		&it.NextRetryAt, &it.ClaimedAt, &it.ClaimedBy, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if it.Status, err = domain.ParseQueueStatus(status); err != nil {
		return nil, err
	}
	return &it, nil
}

func scanQueueItems(rows pgx.Rows) ([]*domain.QueueItem, error) {
	var result []*domain.QueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	return result, rows.Err()
}
