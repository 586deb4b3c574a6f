package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Chain manager backends.
const (
	ChainOnChain = "onchain"
	ChainMemory  = "memory"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; DATABASE_URL is always required and the
// Starknet operator credentials are required when CHAIN_BACKEND=onchain.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL      string
	DBMaxConns       int32
	DBMinConns       int32
	DBConnectTimeout time.Duration
	MigrationsSource string

	// Source chain (Keplr / Cosmos)
	Bech32Prefix      string
	RequireProvenance bool
	ReplayCacheSize   int

	// Destination chain (Starknet)
	ChainBackend           string
	StarknetRPCURL         string
	StarknetAccountAddress string
	StarknetAccountPubKey  string
	StarknetPrivateKey     string
	StarknetMaxFee         string
	MintRateLimit          int

	// Queue processing
	Workers         int
	BatchSize       int
	BufferSize      int
	PollInterval    time.Duration
	LeaseTimeout    time.Duration
	ReclaimInterval time.Duration
	MintLockTTL     time.Duration

	// Retries of retryable mint failures
	MaxAttempts    int
	RetryInterval  time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL:      dbURL,
		DBMaxConns:       int32(getInt("DB_MAX_CONNS", 16)),
		DBMinConns:       int32(getInt("DB_MIN_CONNS", 2)),
		DBConnectTimeout: getDuration("DB_CONNECT_TIMEOUT", 30*time.Second),
		MigrationsSource: getEnv("MIGRATIONS_SOURCE", "file://migrations"),

		Bech32Prefix:      getEnv("BECH32_PREFIX", "stars"),
		RequireProvenance: getBool("REQUIRE_PROVENANCE", true),
		ReplayCacheSize:   getInt("REPLAY_CACHE_SIZE", 10000),

		ChainBackend:           getEnv("CHAIN_BACKEND", ChainOnChain),
		StarknetRPCURL:         getEnv("STARKNET_RPC_URL", "https://starknet-sepolia.public.blastapi.io/rpc/v0_6"),
		StarknetAccountAddress: os.Getenv("STARKNET_ACCOUNT_ADDRESS"),
		StarknetAccountPubKey:  os.Getenv("STARKNET_ACCOUNT_PUBLIC_KEY"),
		StarknetPrivateKey:     os.Getenv("STARKNET_PRIVATE_KEY"),
		StarknetMaxFee:         getEnv("STARKNET_MAX_FEE", "0x9184e72a000"),
		MintRateLimit:          getInt("MINT_RATE_LIMIT", 5),

		Workers:         getInt("WORKERS", 4),
		BatchSize:       getInt("BATCH_SIZE", 20),
		BufferSize:      getInt("BUFFER_SIZE", 100),
		PollInterval:    getDuration("POLL_INTERVAL", 2*time.Second),
		LeaseTimeout:    getDuration("LEASE_TIMEOUT", 5*time.Minute),
		ReclaimInterval: getDuration("RECLAIM_INTERVAL", 30*time.Second),
		MintLockTTL:     getDuration("MINT_LOCK_TTL", 10*time.Minute),

		MaxAttempts:    getInt("MAX_ATTEMPTS", 5),
		RetryInterval:  getDuration("RETRY_INTERVAL", 15*time.Second),
		RetryBaseDelay: getDuration("RETRY_BASE_DELAY", 10*time.Second),
		RetryMaxDelay:  getDuration("RETRY_MAX_DELAY", 10*time.Minute),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.ChainBackend {
	case ChainMemory:
	case ChainOnChain:
		if c.StarknetAccountAddress == "" || c.StarknetAccountPubKey == "" || c.StarknetPrivateKey == "" {
			return fmt.Errorf("STARKNET_ACCOUNT_ADDRESS, STARKNET_ACCOUNT_PUBLIC_KEY and STARKNET_PRIVATE_KEY are required for the onchain backend")
		}
	default:
		return fmt.Errorf("CHAIN_BACKEND must be %q or %q, got %q", ChainOnChain, ChainMemory, c.ChainBackend)
	}
	if c.BatchSize <= 0 || c.Workers <= 0 || c.BufferSize <= 0 {
		return fmt.Errorf("BATCH_SIZE, WORKERS and BUFFER_SIZE must be positive")
	}
	// The mint lease must outlive the claim lease.
	if c.MintLockTTL <= c.LeaseTimeout {
		return fmt.Errorf("MINT_LOCK_TTL (%s) must be longer than LEASE_TIMEOUT (%s)", c.MintLockTTL, c.LeaseTimeout)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
