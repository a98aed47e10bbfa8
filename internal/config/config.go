// Package config defines the top-level configuration for the sync core and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SYNCD_* environment variables.
type Config struct {
	NetworkKey string                    `toml:"network_key"`
	Network    map[string]NetworkConfig  `toml:"network"`

	Wallet   WalletConfig   `toml:"wallet"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Stream   StreamConfig   `toml:"stream"`

	PollIntervalMs     int   `toml:"poll_interval_ms"`
	LogChunkMax        int64 `toml:"log_chunk_max"`
	LogChunkMin        int64 `toml:"log_chunk_min"`
	RpcCallTimeoutSec  int   `toml:"rpc_call_timeout_sec"`
	WriteConfirmTimeoutSec int `toml:"write_confirm_timeout_sec"`

	MarketThresholdBps int64 `toml:"market_threshold_bps"`

	HybridRaffleWeightBps int64 `toml:"hybrid_raffle_weight_bps"`
	HybridMarketWeightBps int64 `toml:"hybrid_market_weight_bps"`

	ArbitrageThresholdBps  int64 `toml:"arbitrage_threshold_bps"`
	ArbitrageDedupWindowSec int  `toml:"arbitrage_dedup_window_sec"`

	MarketCreationGasLimit   uint64 `toml:"market_creation_gas_limit"`
	CreateMarketRetryDelaysSec []int `toml:"create_market_retry_delays_sec"`

	PositionHandlerBatchSize int `toml:"position_handler_batch_size"`

	PaymasterURL string `toml:"paymaster_url"`

	FPMMPollIntervalSec int `toml:"fpmm_poll_interval_sec"`

	LogLevel string `toml:"log_level"`
}

// NetworkConfig is one entry in the process-wide network profile table. See
// spec.md §3 "Network config" and §6.
type NetworkConfig struct {
	RpcURL              string            `toml:"rpc_url"`
	WsURL               string            `toml:"ws_url"`
	ChainID             int64             `toml:"chain_id"`
	AvgBlockTimeSec     float64           `toml:"avg_block_time_sec"`
	DefaultLookbackBlocks uint64          `toml:"default_lookback_blocks"`
	Addresses           ContractAddresses `toml:"addresses"`
}

// ContractAddresses holds every on-chain contract the core talks to for a
// given network.
type ContractAddresses struct {
	Raffle      string `toml:"raffle"`
	Curve       string `toml:"curve"`
	Factory     string `toml:"factory"`
	Oracle      string `toml:"oracle"`
	FPMMManager string `toml:"fpmm_manager"`
	SOF         string `toml:"sof"`
}

// WalletConfig holds the backend account credentials used for oracle writes
// and market creation (spec.md §6 BACKEND_ACCOUNT).
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	Address          string `toml:"address"`
}

// SupabaseConfig holds PostgreSQL connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters, used by the distributed
// lock manager guarding market creation.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the cursor/
// market cold-backup archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the cold-backup archiver cadence.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// StreamConfig configures the price stream hub. Enabled decides whether the
// supervisor runs the hub. Addr and HeartbeatInterval are loaded but not
// read by the hub or the supervisor: nothing in this tree serves
// Hub.HandleWS on Addr, and the hub pings at its own fixed 30s cadence.
type StreamConfig struct {
	Enabled           bool     `toml:"enabled"`
	Addr              string   `toml:"addr"`
	HeartbeatInterval duration `toml:"heartbeat_interval"`
}

// duration wraps time.Duration so TOML can decode strings like "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Value returns the plain time.Duration value.
func (d duration) Value() time.Duration { return d.Duration }

// HeartbeatDuration returns the stream heartbeat interval as a time.Duration.
func (c StreamConfig) HeartbeatDuration() time.Duration { return c.HeartbeatInterval.Value() }

// ArchiveDuration returns the archive interval as a time.Duration.
func (c ArchiveConfig) ArchiveDuration() time.Duration { return c.Interval.Value() }

// PollInterval returns the listener poll interval as a time.Duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// RpcCallTimeout returns the per-RPC-call timeout as a time.Duration.
func (c Config) RpcCallTimeout() time.Duration {
	return time.Duration(c.RpcCallTimeoutSec) * time.Second
}

// WriteConfirmTimeout returns the per-write confirmation timeout.
func (c Config) WriteConfirmTimeout() time.Duration {
	return time.Duration(c.WriteConfirmTimeoutSec) * time.Second
}

// ArbitrageDedupWindow returns the arbitrage dedup window as a time.Duration.
func (c Config) ArbitrageDedupWindow() time.Duration {
	return time.Duration(c.ArbitrageDedupWindowSec) * time.Second
}

// FPMMPollInterval returns the FPMM monitor poll interval.
func (c Config) FPMMPollInterval() time.Duration {
	return time.Duration(c.FPMMPollIntervalSec) * time.Second
}

// CreateMarketRetryDelays returns the configured retry backoff schedule as
// time.Duration values.
func (c Config) CreateMarketRetryDelays() []time.Duration {
	out := make([]time.Duration, len(c.CreateMarketRetryDelaysSec))
	for i, s := range c.CreateMarketRetryDelaysSec {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

// ActiveNetwork returns the NetworkConfig selected by NetworkKey.
func (c Config) ActiveNetwork() (NetworkConfig, bool) {
	key := strings.ToUpper(strings.TrimSpace(c.NetworkKey))
	nc, ok := c.Network[key]
	return nc, ok
}

// Defaults returns a Config populated with reasonable default values, per
// spec.md §6's documented defaults.
func Defaults() Config {
	return Config{
		NetworkKey: "LOCAL",
		Network: map[string]NetworkConfig{
			"LOCAL": {
				RpcURL:                "http://127.0.0.1:8545",
				ChainID:               31337,
				AvgBlockTimeSec:       2,
				DefaultLookbackBlocks: 50_000,
			},
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "infofi-sync-backup",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Interval: duration{15 * time.Minute},
		},
		Stream: StreamConfig{
			Enabled:           true,
			Addr:              ":8090",
			HeartbeatInterval: duration{30 * time.Second},
		},
		PollIntervalMs:             3000,
		LogChunkMax:                10_000,
		LogChunkMin:                500,
		RpcCallTimeoutSec:          10,
		WriteConfirmTimeoutSec:     60,
		MarketThresholdBps:         100,
		HybridRaffleWeightBps:      7000,
		HybridMarketWeightBps:      3000,
		ArbitrageThresholdBps:      200,
		ArbitrageDedupWindowSec:    300,
		MarketCreationGasLimit:     5_000_000,
		CreateMarketRetryDelaysSec: []int{5, 15, 45},
		PositionHandlerBatchSize:   10,
		FPMMPollIntervalSec:        10,
		LogLevel:                   "info",
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	nc, ok := c.ActiveNetwork()
	if !ok {
		errs = append(errs, fmt.Sprintf("network_key %q has no matching [network.*] profile", c.NetworkKey))
	} else {
		if nc.RpcURL == "" {
			errs = append(errs, fmt.Sprintf("network %q: rpc_url is required", c.NetworkKey))
		}
		if nc.ChainID == 0 {
			errs = append(errs, fmt.Sprintf("network %q: chain_id is required", c.NetworkKey))
		}
		if nc.Addresses.Raffle == "" || nc.Addresses.Curve == "" || nc.Addresses.Factory == "" || nc.Addresses.Oracle == "" {
			errs = append(errs, fmt.Sprintf("network %q: addresses.{raffle,curve,factory,oracle} are required", c.NetworkKey))
		}
	}

	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	if c.HybridRaffleWeightBps+c.HybridMarketWeightBps != 10_000 {
		errs = append(errs, "hybrid_raffle_weight_bps + hybrid_market_weight_bps must equal 10000")
	}

	if c.LogChunkMin <= 0 || c.LogChunkMax < c.LogChunkMin {
		errs = append(errs, "log_chunk_min must be positive and log_chunk_max must be >= log_chunk_min")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
