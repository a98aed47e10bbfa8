package domain

import (
	"context"
	"time"
)

// CursorStore implements the Event Store (C2): a per-(network, event type)
// monotonic cursor with read-committed semantics. See spec.md §4.C2.
type CursorStore interface {
	// GetCursor returns the last fully-processed block for (networkKey,
	// eventType), or ok=false if none has been recorded yet.
	GetCursor(ctx context.Context, networkKey, eventType string) (lastBlock uint64, ok bool, err error)

	// SetCursor upserts the cursor. Implementations MUST reject (return
	// ErrCursorRegression) writes at or below the currently recorded value.
	SetCursor(ctx context.Context, networkKey, eventType string, lastBlock uint64) error
}

// MarketStore implements the market-row half of the Persistent Store (C3).
// See spec.md §4.C3.
type MarketStore interface {
	// CreateMarket inserts a new market row. Returns ErrDuplicateKey if one
	// already exists for row.Key(); the caller is expected to read the
	// existing row with GetMarket on that error.
	CreateMarket(ctx context.Context, row Market) (Market, error)

	// HasMarket reports whether a market row exists for the given composite
	// key. playerAddress comparison is case-insensitive.
	HasMarket(ctx context.Context, seasonID int64, playerAddress string, marketType MarketType) (bool, error)

	// UpdateMarketProbability sets current_probability_bps. No-op (and
	// returns nil) if the value is unchanged from the stored row.
	UpdateMarketProbability(ctx context.Context, id int64, newBps int64) error

	// UpdateMarketContractAddress records the deployed FPMM address once
	// observed via MarketCreated.
	UpdateMarketContractAddress(ctx context.Context, id int64, fpmmAddress string) error

	// MarkSettled flags a market as settled once SeasonCompleted is
	// observed for its season.
	MarkSettled(ctx context.Context, seasonID int64) error

	GetMarket(ctx context.Context, seasonID int64, playerAddress string, marketType MarketType) (Market, error)
	GetMarketByID(ctx context.Context, id int64) (Market, error)
	ListMarketsBySeason(ctx context.Context, seasonID int64) ([]Market, error)
	ListActiveMarketsBySeason(ctx context.Context, seasonID int64) ([]Market, error)

	// ListActiveSeasonIDs returns every season with at least one active
	// market, so a restarted process can resume a C7 monitor loop per
	// season without relying solely on future SeasonStarted events.
	ListActiveSeasonIDs(ctx context.Context) ([]int64, error)
}

// PricingCacheStore persists the pricing_cache table (the durable record of
// C8's in-memory state, written by C7). See spec.md §3 "Pricing cache row".
type PricingCacheStore interface {
	UpsertPricingCache(ctx context.Context, row PricingCacheRow) error
	GetPricingCache(ctx context.Context, marketID int64) (PricingCacheRow, error)
}

// ArbStore persists arbitrage opportunity history. See spec.md §4.C7.
type ArbStore interface {
	// InsertArbitrage appends a new row. The caller enforces the dedup
	// window (spec.md §3 invariant: "at most one row per marketId within a
	// 5-minute deduplication window").
	InsertArbitrage(ctx context.Context, row ArbOpportunity) error

	// LastArbitrageAt returns the timestamp of the most recent arbitrage row
	// for marketID, or ok=false if none exists.
	LastArbitrageAt(ctx context.Context, marketID int64) (ts time.Time, ok bool, err error)

	ListRecentArbitrage(ctx context.Context, limit int) ([]ArbOpportunity, error)
}

// PlayerStore persists the canonical player identity table.
type PlayerStore interface {
	GetOrCreatePlayer(ctx context.Context, address string) (Player, error)
}

// LockManager provides distributed locking used to serialize concurrent
// market-creation attempts for the same (season, player) across process
// instances, ahead of the database's own unique-index defense.
type LockManager interface {
	// Acquire makes one attempt and does not wait for the lock: it returns
	// ErrLockHeld if the lock is already held. The returned
	// unlock func is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// NonceHintCache lets the chain client remember the last nonce it used per
// account across process restarts, so a redeploy does not have to rely on a
// single eth_getTransactionCount race against the backend wallet's pending
// pool. It is an optimization: the chain client always reconciles against
// eth_getTransactionCount("pending") before trusting the hint.
type NonceHintCache interface {
	GetNonceHint(ctx context.Context, account string) (nonce uint64, ok bool, err error)
	SetNonceHint(ctx context.Context, account string, nonce uint64) error
}
