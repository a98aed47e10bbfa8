// Package fpmm implements the FPMM Monitor (spec.md §4.C7): one supervised
// polling loop per active season that blends each market's on-chain AMM
// sentiment with its raffle-derived probability, persists the result, and
// flags a price divergence at or above the threshold as an arbitrage
// opportunity.
package fpmm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

// defaultRaffleWeightBps and defaultMarketWeightBps are the hybrid-blend
// weights used when a pricing cache row has no prior weights recorded.
// They must sum to 10000 (spec.md §3).
const (
	defaultRaffleWeightBps = 7000
	defaultMarketWeightBps = 3000
)

// AMMReader reads a single FPMM contract's current prices.
type AMMReader interface {
	GetPrices(ctx context.Context, fpmmAddress string) (yesBps, noBps int64, err error)
}

// RaffleProbabilityReader resolves the current raffle probability for a
// market (spec.md §4.C7 step 3). OracleRaffleReader, the implementation in
// this package, reads it from the market row in the database.
type RaffleProbabilityReader interface {
	CurrentRaffleProbabilityBps(ctx context.Context, market domain.Market) (int64, error)
}

// Monitor supervises one polling loop per active season.
type Monitor struct {
	markets domain.MarketStore
	pricing domain.PricingCacheStore
	arbs    domain.ArbStore
	amm     AMMReader
	raffle  RaffleProbabilityReader
	logger  *slog.Logger

	pollInterval          time.Duration
	arbitrageThresholdBps int64
	dedupWindow           time.Duration

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Monitor. pollInterval is the per-season tick (spec.md
// §4.C7: "Every 10s" by default); arbitrageThresholdBps is the minimum
// |rafflePct - marketPct| divergence that counts as an arbitrage
// opportunity (spec.md §4.C7 step 6: 2% by default); dedupWindow is the
// minimum spacing between two recorded arbitrage rows for the same market
// (spec.md §3).
func New(markets domain.MarketStore, pricing domain.PricingCacheStore, arbs domain.ArbStore, amm AMMReader, raffle RaffleProbabilityReader, pollInterval time.Duration, arbitrageThresholdBps int64, dedupWindow time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		markets:               markets,
		pricing:               pricing,
		arbs:                  arbs,
		amm:                   amm,
		raffle:                raffle,
		logger:                logger.With(slog.String("component", "fpmm_monitor")),
		pollInterval:          pollInterval,
		arbitrageThresholdBps: arbitrageThresholdBps,
		dedupWindow:           dedupWindow,
		cancels:               make(map[int64]context.CancelFunc),
	}
}

// StartSeason begins the per-season loop. Called from C4's SeasonStarted
// handler. A second call for an already-running season is a no-op.
func (m *Monitor) StartSeason(parent context.Context, seasonID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.cancels[seasonID]; running {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	m.cancels[seasonID] = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runLoop(ctx, seasonID)
	}()
}

// StopSeason cancels the per-season loop. Called from C4's SeasonCompleted
// handler. A call for a season with no running loop is a no-op.
func (m *Monitor) StopSeason(seasonID int64) {
	m.mu.Lock()
	cancel, running := m.cancels[seasonID]
	delete(m.cancels, seasonID)
	m.mu.Unlock()
	if running {
		cancel()
	}
}

// Wait blocks until every running season loop has exited, for clean
// shutdown ordering under the supervisor.
func (m *Monitor) Wait() { m.wg.Wait() }

func (m *Monitor) runLoop(ctx context.Context, seasonID int64) {
	logger := m.logger.With(slog.Int64("season_id", seasonID))
	logger.Info("fpmm monitor started for season")

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("fpmm monitor stopped for season")
			return
		case <-ticker.C:
			if err := m.tick(ctx, seasonID, logger); err != nil {
				logger.Error("fpmm monitor tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// tick executes one pass over the season's active markets, polling its
// cancellation token between markets (spec.md §4.C7 "Suspension points").
func (m *Monitor) tick(ctx context.Context, seasonID int64, logger *slog.Logger) error {
	active, err := m.markets.ListActiveMarketsBySeason(ctx, seasonID)
	if err != nil {
		return fmt.Errorf("fpmm monitor: list active markets: %w", err)
	}

	for _, mkt := range active {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if mkt.FPMMAddress == "" {
			continue // factory has not deployed the AMM yet
		}

		if err := m.refreshOne(ctx, mkt); err != nil {
			logger.Error("fpmm monitor: refresh failed",
				slog.Int64("market_id", mkt.ID), slog.String("error", err.Error()))
		}
	}
	return nil
}

func (m *Monitor) refreshOne(ctx context.Context, mkt domain.Market) error {
	yesBps, _, err := m.amm.GetPrices(ctx, mkt.FPMMAddress)
	if err != nil {
		return fmt.Errorf("read prices: %w", err)
	}
	sentimentBps := yesBps

	raffleBps, err := m.raffle.CurrentRaffleProbabilityBps(ctx, mkt)
	if err != nil {
		return fmt.Errorf("read raffle probability: %w", err)
	}

	weights, err := m.pricing.GetPricingCache(ctx, mkt.ID)
	raffleWeight, marketWeight := int64(defaultRaffleWeightBps), int64(defaultMarketWeightBps)
	if err == nil && weights.RaffleWeightBps+weights.MarketWeightBps == 10000 {
		raffleWeight, marketWeight = weights.RaffleWeightBps, weights.MarketWeightBps
	}

	hybridBps := HybridBps(raffleBps, sentimentBps, raffleWeight, marketWeight)

	row := domain.PricingCacheRow{
		MarketID:        mkt.ID,
		RaffleBps:       raffleBps,
		SentimentBps:    sentimentBps,
		HybridBps:       hybridBps,
		RaffleWeightBps: raffleWeight,
		MarketWeightBps: marketWeight,
	}
	if err := m.pricing.UpsertPricingCache(ctx, row); err != nil {
		return fmt.Errorf("upsert pricing cache: %w", err)
	}

	return m.maybeRecordArbitrage(ctx, mkt, raffleBps, sentimentBps)
}

// maybeRecordArbitrage inserts an arbitrage row when the raffle and market
// prices diverge by at least arbitrageThresholdBps and no row exists for
// this market within the dedup window (spec.md §4.C7 step 6).
func (m *Monitor) maybeRecordArbitrage(ctx context.Context, mkt domain.Market, raffleBps, marketBps int64) error {
	diff := raffleBps - marketBps
	if diff < 0 {
		diff = -diff
	}
	if diff < m.arbitrageThresholdBps {
		return nil
	}

	lastAt, ok, err := m.arbs.LastArbitrageAt(ctx, mkt.ID)
	if err != nil {
		return fmt.Errorf("check last arbitrage: %w", err)
	}
	if ok && time.Since(lastAt) < m.dedupWindow {
		return nil
	}

	rafflePct := float64(raffleBps) / 100
	marketPct := float64(marketBps) / 100

	minBps := raffleBps
	if marketBps < minBps {
		minBps = marketBps
	}
	var profitabilityPct float64
	if minBps > 0 {
		profitabilityPct = float64(diff) * 100 / float64(minBps)
	}

	row := domain.ArbOpportunity{
		SeasonID:           mkt.SeasonID,
		PlayerAddress:      mkt.PlayerAddress,
		MarketID:           mkt.ID,
		RafflePricePct:     rafflePct,
		MarketPricePct:     marketPct,
		PriceDifferencePct: float64(diff) / 100,
		ProfitabilityPct:   profitabilityPct,
		StrategyText:       strategyText(rafflePct, marketPct),
	}
	if err := m.arbs.InsertArbitrage(ctx, row); err != nil {
		return fmt.Errorf("insert arbitrage: %w", err)
	}
	m.logger.Info("arbitrage opportunity recorded",
		slog.Int64("market_id", mkt.ID), slog.Float64("raffle_pct", rafflePct), slog.Float64("market_pct", marketPct))
	return nil
}

func strategyText(rafflePct, marketPct float64) string {
	if rafflePct > marketPct {
		return fmt.Sprintf("raffle-implied probability (%.2f%%) exceeds market price (%.2f%%): buy YES on the market, sell exposure on the raffle side", rafflePct, marketPct)
	}
	return fmt.Sprintf("market price (%.2f%%) exceeds raffle-implied probability (%.2f%%): buy NO on the market, buy exposure on the raffle side", marketPct, rafflePct)
}

// HybridBps blends raffle and market sentiment probabilities per spec.md
// §3: (raffleWeight*raffle + marketWeight*sentiment) / 10000. Weights are
// expected to sum to 10000; callers that violate this get a
// mathematically consistent but not necessarily meaningful result.
func HybridBps(raffleBps, sentimentBps, raffleWeightBps, marketWeightBps int64) int64 {
	return (raffleWeightBps*raffleBps + marketWeightBps*sentimentBps) / 10000
}
