package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nftbridge/starknet-migrator/internal/domain"
)

type pgTransactionRepository struct {
	pool *pgxpool.Pool
}

// NewPgTransactionRepository returns a read-only TransactionRepository over
// the source_transactions table filled by the source-chain indexer.
func NewPgTransactionRepository(pool *pgxpool.Pool) TransactionRepository {
	return &pgTransactionRepository{pool: pool}
}

func (r *pgTransactionRepository) GetTransactionsForContract(ctx context.Context, projectID, tokenID string) ([]domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT hash, height, sender, contract, msg
		FROM source_transactions
		WHERE contract = $1 AND msg->'transfer_nft'->>'token_id' = $2
		ORDER BY height, id`, projectID, tokenID)
	if err != nil {
		return nil, fmt.Errorf("%w: query transactions: %w", domain.ErrFetch, err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(&tx.Hash, &tx.Height, &tx.Sender, &tx.Contract, &tx.Msg); err != nil {
			return nil, fmt.Errorf("%w: scan transaction: %w", domain.ErrFetch, err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read transactions: %w", domain.ErrFetch, err)
	}
	return txs, nil
}
