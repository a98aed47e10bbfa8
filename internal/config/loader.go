package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SYNCD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SYNCD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.NetworkKey, "SYNCD_NETWORK_KEY")

	setStr(&cfg.Wallet.PrivateKey, "SYNCD_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SYNCD_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SYNCD_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.Address, "SYNCD_WALLET_ADDRESS")

	setStr(&cfg.Supabase.DSN, "SYNCD_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "SYNCD_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "SYNCD_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "SYNCD_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "SYNCD_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "SYNCD_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "SYNCD_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "SYNCD_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "SYNCD_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "SYNCD_SUPABASE_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "SYNCD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SYNCD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SYNCD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SYNCD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SYNCD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SYNCD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SYNCD_REDIS_TLS_ENABLED")

	setStr(&cfg.S3.Endpoint, "SYNCD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SYNCD_S3_REGION")
	setStr(&cfg.S3.Bucket, "SYNCD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SYNCD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SYNCD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SYNCD_S3_USE_SSL")
	setBool(&cfg.Archive.Enabled, "SYNCD_ARCHIVE_ENABLED")

	setBool(&cfg.Stream.Enabled, "SYNCD_STREAM_ENABLED")
	setStr(&cfg.Stream.Addr, "SYNCD_STREAM_ADDR")

	setInt(&cfg.PollIntervalMs, "SYNCD_POLL_INTERVAL_MS")
	setInt64(&cfg.LogChunkMax, "SYNCD_LOG_CHUNK_MAX")
	setInt64(&cfg.LogChunkMin, "SYNCD_LOG_CHUNK_MIN")
	setInt(&cfg.RpcCallTimeoutSec, "SYNCD_RPC_CALL_TIMEOUT_SEC")
	setInt(&cfg.WriteConfirmTimeoutSec, "SYNCD_WRITE_CONFIRM_TIMEOUT_SEC")
	setInt64(&cfg.MarketThresholdBps, "SYNCD_MARKET_THRESHOLD_BPS")
	setInt64(&cfg.HybridRaffleWeightBps, "SYNCD_HYBRID_RAFFLE_WEIGHT_BPS")
	setInt64(&cfg.HybridMarketWeightBps, "SYNCD_HYBRID_MARKET_WEIGHT_BPS")
	setInt64(&cfg.ArbitrageThresholdBps, "SYNCD_ARBITRAGE_THRESHOLD_BPS")
	setInt(&cfg.ArbitrageDedupWindowSec, "SYNCD_ARBITRAGE_DEDUP_WINDOW_SEC")
	setUint64(&cfg.MarketCreationGasLimit, "SYNCD_MARKET_CREATION_GAS_LIMIT")
	setInt(&cfg.PositionHandlerBatchSize, "SYNCD_POSITION_HANDLER_BATCH_SIZE")
	setStr(&cfg.PaymasterURL, "SYNCD_PAYMASTER_URL")
	setInt(&cfg.FPMMPollIntervalSec, "SYNCD_FPMM_POLL_INTERVAL_SEC")

	setStr(&cfg.LogLevel, "SYNCD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
