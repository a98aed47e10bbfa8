// Command syncd is the backend entry point for the off-chain coordination
// core: it loads configuration, dials the chain, connects to Postgres and
// (optionally) Redis, wires every component, and runs the supervisor until
// a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	archives3 "github.com/sof-protocol/infofi-sync/internal/archive/s3"
	"github.com/sof-protocol/infofi-sync/internal/chainclient"
	"github.com/sof-protocol/infofi-sync/internal/config"
	"github.com/sof-protocol/infofi-sync/internal/store/postgres"
	redisstore "github.com/sof-protocol/infofi-sync/internal/store/redis"
	"github.com/sof-protocol/infofi-sync/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("path", *configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("sync core starting", slog.String("network", cfg.NetworkKey), slog.String("config", *configPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		if err == context.Canceled {
			logger.Info("sync core shut down gracefully")
			return
		}
		logger.Error("sync core exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("sync core stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	network, ok := cfg.ActiveNetwork()
	if !ok {
		return fmt.Errorf("network %q not configured", cfg.NetworkKey)
	}

	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pgClient.Close()

	if cfg.Supabase.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	stores := supervisor.Stores{
		Cursors: postgres.NewCursorStore(pgClient.Pool()),
		Markets: postgres.NewMarketStore(pgClient.Pool()),
		Pricing: postgres.NewPricingCacheStore(pgClient.Pool()),
		Arbs:    postgres.NewArbStore(pgClient.Pool()),
		Players: postgres.NewPlayerStore(pgClient.Pool()),
	}

	var nonceHints = chainclient.Option(nil)
	if cfg.Redis.Enabled {
		rdb, err := redisstore.New(ctx, redisstore.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()

		stores.Locks = redisstore.NewLockManager(rdb)
		nonceHints = chainclient.WithNonceHintCache(redisstore.NewNonceHintCache(rdb))
	} else {
		// Without Redis, market creation falls back to the markets table's
		// own unique index as the sole duplicate-creation guard (spec.md
		// §4.C6 "the database's unique index is the final backstop").
		stores.Locks = noopLockManager{}
	}

	abis, err := chainclient.LoadContractSet()
	if err != nil {
		return fmt.Errorf("load contract abis: %w", err)
	}

	chainOpts := []chainclient.Option{
		chainclient.WithCallTimeout(cfg.RpcCallTimeout()),
		chainclient.WithConfirmTimeout(cfg.WriteConfirmTimeout()),
	}
	if nonceHints != nil {
		chainOpts = append(chainOpts, nonceHints)
	}
	if cfg.PaymasterURL != "" {
		chainOpts = append(chainOpts, chainclient.WithPaymasterURL(cfg.PaymasterURL))
	}

	chain, err := chainclient.Dial(ctx, network.RpcURL, network.ChainID, chainOpts...)
	if err != nil {
		return fmt.Errorf("dial chain: %w", err)
	}
	defer chain.Close()

	keyHex, err := chainclient.LoadBackendKey(chainclient.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("load backend key: %w", err)
	}
	signer, err := chainclient.NewAccountSigner(keyHex)
	if err != nil {
		return fmt.Errorf("build account signer: %w", err)
	}

	logger.Info("backend account resolved", slog.String("address", signer.Address().Hex()))

	sup := supervisor.New(*cfg, network, chain, abis, signer, stores, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(gctx) })

	if cfg.Archive.Enabled {
		archiveClient, err := archives3.New(ctx, archives3.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fmt.Errorf("build archive s3 client: %w", err)
		}

		archiver := archives3.NewArchiver(
			archives3.NewWriter(archiveClient),
			postgres.NewCursorStore(pgClient.Pool()),
			postgres.NewMarketStore(pgClient.Pool()),
			logger,
		)
		g.Go(func() error {
			archiver.Run(gctx, cfg.Archive.ArchiveDuration())
			return nil
		})
	}

	return g.Wait()
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// noopLockManager is used when Redis is disabled: Acquire always succeeds,
// relying entirely on the markets table's unique index to prevent duplicate
// market creation under concurrent handlers.
type noopLockManager struct{}

func (noopLockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return func() {}, nil
}
