package domain

import "time"

// MarketType enumerates the InfoFi market types the factory can create. Only
// WINNER_PREDICTION is used by the v1 contracts; the type is kept as a typed
// string rather than an enum of one so the schema does not need a migration
// when a second market type lands.
type MarketType string

// WinnerPrediction is the only market type the factory currently emits.
const WinnerPrediction MarketType = "WINNER_PREDICTION"

// Market is an InfoFi per-player winner-prediction instrument, created once
// a player's ownership first reaches the configured threshold. See
// spec.md §3 "InfoFi Market" for the full invariant set.
type Market struct {
	ID                    int64
	SeasonID              int64
	PlayerAddress         string // always lowercase; canonical identifier
	MarketType            MarketType
	InitialProbabilityBps int64
	CurrentProbabilityBps int64
	ContractAddress       string // "" until the factory deploys it
	FPMMAddress           string // "" until the factory deploys it
	IsActive              bool
	IsSettled             bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Key returns the composite uniqueness key for this market. Both SQL and
// in-memory lookups use this shape so the two stay consistent.
func (m Market) Key() MarketKey {
	return MarketKey{
		SeasonID:      m.SeasonID,
		PlayerAddress: m.PlayerAddress,
		MarketType:    m.MarketType,
	}
}

// MarketKey is the (season_id, player_address, market_type) composite that
// the database enforces as unique; the store lowercases player_address
// before writing and querying.
type MarketKey struct {
	SeasonID      int64
	PlayerAddress string
	MarketType    MarketType
}

// PricingCacheRow is the blended price record for one market, keyed by
// marketId. See spec.md §3 "Pricing cache row".
type PricingCacheRow struct {
	MarketID          int64
	RaffleBps         int64
	SentimentBps      int64
	HybridBps         int64
	RaffleWeightBps   int64
	MarketWeightBps   int64
	LastUpdated       time.Time
}

// ArbOpportunity is an append-only record of a detected raffle/market price
// divergence. See spec.md §3 "Arbitrage opportunity".
type ArbOpportunity struct {
	ID                 int64
	SeasonID           int64
	PlayerAddress      string
	MarketID           int64
	RafflePricePct     float64
	MarketPricePct     float64
	PriceDifferencePct float64
	ProfitabilityPct   float64
	StrategyText       string
	CreatedAt          time.Time
}

// Cursor is the last fully-processed block for one (network, event type)
// pair. See spec.md §3 "Event-processing cursor".
type Cursor struct {
	NetworkKey string
	EventType  string
	LastBlock  uint64
}

// Player is the canonical identity row for a participant address. Address
// is always the canonical (lowercase) form.
type Player struct {
	Address   string
	CreatedAt time.Time
}
