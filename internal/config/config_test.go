package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftbridge/starknet-migrator/internal/config"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := config.Load()
	require.Error(t, err)
}

func TestLoad_MemoryBackendDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/migrator")
	t.Setenv("CHAIN_BACKEND", config.ChainMemory)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 20, cfg.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.LeaseTimeout)
	assert.Greater(t, cfg.MintLockTTL, cfg.LeaseTimeout)
	assert.Equal(t, "stars", cfg.Bech32Prefix)
	assert.True(t, cfg.RequireProvenance)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/migrator")
	t.Setenv("CHAIN_BACKEND", config.ChainMemory)
	t.Setenv("BATCH_SIZE", "7")
	t.Setenv("LEASE_TIMEOUT", "90s")
	t.Setenv("MINT_LOCK_TTL", "2m")
	t.Setenv("REQUIRE_PROVENANCE", "false")
	t.Setenv("WORKERS", "not-a-number")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.BatchSize)
	assert.Equal(t, 90*time.Second, cfg.LeaseTimeout)
	assert.False(t, cfg.RequireProvenance)
	assert.Equal(t, 4, cfg.Workers, "unparsable values fall back to the default")
}

func TestLoad_OnChainNeedsCredentials(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/migrator")
	t.Setenv("CHAIN_BACKEND", config.ChainOnChain)
	t.Setenv("STARKNET_ACCOUNT_ADDRESS", "")

	_, err := config.Load()
	require.Error(t, err)

	t.Setenv("STARKNET_ACCOUNT_ADDRESS", "0x1")
	t.Setenv("STARKNET_ACCOUNT_PUBLIC_KEY", "0x2")
	t.Setenv("STARKNET_PRIVATE_KEY", "0x3")
	_, err = config.Load()
	require.NoError(t, err)
}

func TestLoad_LockTTLShorterThanLease(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/migrator")
	t.Setenv("CHAIN_BACKEND", config.ChainMemory)
	t.Setenv("LEASE_TIMEOUT", "10m")
	t.Setenv("MINT_LOCK_TTL", "1m")

	_, err := config.Load()
	require.Error(t, err)

	t.Setenv("MINT_LOCK_TTL", "10m")
	_, err = config.Load()
	require.Error(t, err, "equal TTL and lease still race at reclaim time")
}

func TestLoad_UnknownBackend(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/migrator")
	t.Setenv("CHAIN_BACKEND", "ethereum")

	_, err := config.Load()
	require.Error(t, err)
}
