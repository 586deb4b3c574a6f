package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nftbridge/starknet-migrator/internal/domain"
)

type pgMintLockRepository struct {
	pool *pgxpool.Pool
}

// NewPgMintLockRepository returns a MintLockRepository backed by the
// mint_locks table. Leases are plain rows, so no database lock is held while
// the holder talks to the chain.
func NewPgMintLockRepository(pool *pgxpool.Pool) MintLockRepository {
	return &pgMintLockRepository{pool: pool}
}

func (r *pgMintLockRepository) Acquire(ctx context.Context, projectID, tokenID, holder string, ttl time.Duration) (bool, error) {
	var got string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO mint_locks (project_id, token_id, holder, acquired_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (project_id, token_id) DO UPDATE
		SET holder = EXCLUDED.holder, acquired_at = NOW()
		WHERE mint_locks.holder = EXCLUDED.holder
		   OR mint_locks.acquired_at < NOW() - make_interval(secs => $4)
		RETURNING holder`, projectID, tokenID, holder, ttl.Seconds(),
	).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: acquire mint lock: %w", domain.ErrFetch, err)
	}
	return true, nil
}

func (r *pgMintLockRepository) Release(ctx context.Context, projectID, tokenID, holder string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM mint_locks WHERE project_id = $1 AND token_id = $2 AND holder = $3`,
		projectID, tokenID, holder)
	if err != nil {
		return fmt.Errorf("%w: release mint lock: %w", domain.ErrFetch, err)
	}
	return nil
}
