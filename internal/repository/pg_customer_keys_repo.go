package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nftbridge/starknet-migrator/internal/domain"
)

type pgCustomerKeysRepository struct {
	pool *pgxpool.Pool
}

// NewPgCustomerKeysRepository returns a CustomerKeysRepository backed by PostgreSQL.
func NewPgCustomerKeysRepository(pool *pgxpool.Pool) CustomerKeysRepository {
	return &pgCustomerKeysRepository{pool: pool}
}

// SaveCustomerKeys upserts the (wallet, project) row. On conflict the stored
// token ids and the new ones are merged as a sorted set in a single statement,
// so concurrent saves for the same customer cannot lose each other's tokens.
func (r *pgCustomerKeysRepository) SaveCustomerKeys(ctx context.Context, keys domain.CustomerKeys) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO customer_keys (keplr_wallet_pubkey, project_id, token_ids, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (keplr_wallet_pubkey, project_id) DO UPDATE
		SET token_ids = ARRAY(
				SELECT DISTINCT t
				FROM unnest(customer_keys.token_ids || EXCLUDED.token_ids) AS t
				ORDER BY t
			),
			updated_at = NOW()`,
		keys.WalletPubKey, keys.ProjectID, domain.MergeTokenIDs(nil, keys.TokenIDs),
	)
	if err != nil {
		return fmt.Errorf("%w: save customer keys: %w", domain.ErrFetch, err)
	}
	return nil
}

func (r *pgCustomerKeysRepository) GetCustomerKeys(ctx context.Context, walletPubKey, projectID string) (*domain.CustomerKeys, error) {
	var keys domain.CustomerKeys
	err := r.pool.QueryRow(ctx, `
		SELECT keplr_wallet_pubkey, project_id, token_ids
		FROM customer_keys
		WHERE keplr_wallet_pubkey = $1 AND project_id = $2`, walletPubKey, projectID,
	).Scan(&keys.WalletPubKey, &keys.ProjectID, &keys.TokenIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get customer keys: %w", domain.ErrFetch, err)
	}
	return &keys, nil
}
