// Package marketcreator implements the Market Creator (spec.md §4.C6): it
// submits the on-chain onPositionUpdate call that deploys a new per-player
// InfoFi market once a participant's probability first crosses the creation
// threshold. It never writes the market row itself — the factory's
// MarketCreated event, observed by the Listener Set (C4), is the sole
// writer of that row, so creation stays consistent with chain state even
// if this process restarts mid-retry.
package marketcreator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

// FactoryWriter submits the on-chain market-creation call.
type FactoryWriter interface {
	CreateMarket(ctx context.Context, seasonID int64, player string, oldTickets, newTickets, totalTickets *big.Int) error
}

// Creator drives the retrying onPositionUpdate submission for a single
// (seasonId, player) crossing.
type Creator struct {
	markets domain.MarketStore
	locks   domain.LockManager
	factory FactoryWriter
	lockTTL time.Duration
	logger  *slog.Logger

	// retryDelays is the backoff schedule for transient failures (spec.md
	// §4.C6 step 3: 5s, 15s, 45s by default). Total submission attempts
	// are capped at len(retryDelays) (spec.md §4.C6: "max 3 attempts"), so
	// only the first len(retryDelays)-1 entries are ever slept on; a
	// fourth configured delay would have no attempt left to precede.
	retryDelays []time.Duration

	mu              sync.Mutex
	permanentlyDead map[domain.MarketKey]string // player/season -> revert reason
}

// New creates a Creator.
func New(markets domain.MarketStore, locks domain.LockManager, factory FactoryWriter, lockTTL time.Duration, retryDelays []time.Duration, logger *slog.Logger) *Creator {
	return &Creator{
		markets:         markets,
		locks:           locks,
		factory:         factory,
		lockTTL:         lockTTL,
		retryDelays:     retryDelays,
		logger:          logger.With(slog.String("component", "market_creator")),
		permanentlyDead: make(map[domain.MarketKey]string),
	}
}

// Create runs spec.md §4.C6's algorithm for one (seasonId, player)
// crossing. It is safe to call repeatedly for the same key: hasMarket and
// the permanent-failure cache both make repeat invocations cheap no-ops.
func (c *Creator) Create(ctx context.Context, seasonID int64, player string, oldTickets, newTickets, totalTickets *big.Int) error {
	key := domain.MarketKey{SeasonID: seasonID, PlayerAddress: player, MarketType: domain.WinnerPrediction}

	c.mu.Lock()
	if reason, dead := c.permanentlyDead[key]; dead {
		c.mu.Unlock()
		c.logger.Debug("skipping permanently failed creation",
			slog.Int64("season_id", seasonID), slog.String("player", player), slog.String("reason", reason))
		return nil
	}
	c.mu.Unlock()

	has, err := c.markets.HasMarket(ctx, seasonID, player, domain.WinnerPrediction)
	if err != nil {
		return fmt.Errorf("market creator: hasMarket(%d, %s): %w", seasonID, player, err)
	}
	if has {
		return nil
	}

	unlock, err := c.locks.Acquire(ctx, lockKey(seasonID, player), c.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			c.logger.Debug("creation already in flight elsewhere", slog.Int64("season_id", seasonID), slog.String("player", player))
			return nil
		}
		return fmt.Errorf("market creator: acquire lock: %w", err)
	}
	defer unlock()

	// Re-check under the lock: another instance may have finished creation
	// while we were waiting.
	has, err = c.markets.HasMarket(ctx, seasonID, player, domain.WinnerPrediction)
	if err != nil {
		return fmt.Errorf("market creator: hasMarket recheck(%d, %s): %w", seasonID, player, err)
	}
	if has {
		return nil
	}

	return c.submitWithRetry(ctx, key, seasonID, player, oldTickets, newTickets, totalTickets)
}

func (c *Creator) submitWithRetry(ctx context.Context, key domain.MarketKey, seasonID int64, player string, oldTickets, newTickets, totalTickets *big.Int) error {
	var lastErr error

	maxAttempts := len(c.retryDelays)
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := c.factory.CreateMarket(ctx, seasonID, player, oldTickets, newTickets, totalTickets)
		if err == nil {
			c.logger.Info("market creation submitted",
				slog.Int64("season_id", seasonID), slog.String("player", player), slog.Int("attempt", attempt+1))
			return nil
		}
		lastErr = err

		if rv, ok := domain.AsContractRevert(err); ok {
			c.mu.Lock()
			c.permanentlyDead[key] = rv.Reason
			c.mu.Unlock()
			c.logger.Error("market creation permanently failed",
				slog.Int64("season_id", seasonID), slog.String("player", player), slog.String("reason", rv.Reason))
			return nil // not retryable; chain state is the source of truth
		}

		if !isRetryable(err) {
			return fmt.Errorf("market creator: onPositionUpdate(%d, %s): %w", seasonID, player, err)
		}

		if attempt == maxAttempts-1 {
			break
		}

		delay := c.retryDelays[attempt]
		c.logger.Warn("market creation attempt failed, retrying",
			slog.Int64("season_id", seasonID), slog.String("player", player),
			slog.Int("attempt", attempt+1), slog.Duration("delay", delay), slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("market creator: onPositionUpdate(%d, %s) exhausted retries: %w", seasonID, player, lastErr)
}

func isRetryable(err error) bool {
	return errors.Is(err, domain.ErrRpcTransient) ||
		errors.Is(err, domain.ErrNonceConflict) ||
		errors.Is(err, domain.ErrOutOfGas)
}

func lockKey(seasonID int64, player string) string {
	return fmt.Sprintf("market-create:%d:%s", seasonID, player)
}
