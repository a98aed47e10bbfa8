package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

// PricingCacheStore implements domain.PricingCacheStore using PostgreSQL.
// It is the durable record of the hybrid pricing state that C8 also holds
// in memory (spec.md §3 "Pricing cache row").
type PricingCacheStore struct {
	pool *pgxpool.Pool
}

// NewPricingCacheStore creates a PricingCacheStore backed by pool.
func NewPricingCacheStore(pool *pgxpool.Pool) *PricingCacheStore {
	return &PricingCacheStore{pool: pool}
}

// UpsertPricingCache inserts or updates the pricing row for row.MarketID.
func (s *PricingCacheStore) UpsertPricingCache(ctx context.Context, row domain.PricingCacheRow) error {
	const query = `
		INSERT INTO pricing_cache (
			market_id, raffle_bps, sentiment_bps, hybrid_bps,
			raffle_weight_bps, market_weight_bps, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (market_id) DO UPDATE SET
			raffle_bps        = EXCLUDED.raffle_bps,
			sentiment_bps     = EXCLUDED.sentiment_bps,
			hybrid_bps        = EXCLUDED.hybrid_bps,
			raffle_weight_bps = EXCLUDED.raffle_weight_bps,
			market_weight_bps = EXCLUDED.market_weight_bps,
			last_updated      = NOW()`

	_, err := s.pool.Exec(ctx, query,
		row.MarketID, row.RaffleBps, row.SentimentBps, row.HybridBps,
		row.RaffleWeightBps, row.MarketWeightBps,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert pricing cache %d: %w", row.MarketID, err)
	}
	return nil
}

// GetPricingCache retrieves the pricing row for marketID.
func (s *PricingCacheStore) GetPricingCache(ctx context.Context, marketID int64) (domain.PricingCacheRow, error) {
	var row domain.PricingCacheRow
	err := s.pool.QueryRow(ctx,
		`SELECT market_id, raffle_bps, sentiment_bps, hybrid_bps, raffle_weight_bps, market_weight_bps, last_updated
		 FROM pricing_cache WHERE market_id = $1`,
		marketID,
	).Scan(&row.MarketID, &row.RaffleBps, &row.SentimentBps, &row.HybridBps, &row.RaffleWeightBps, &row.MarketWeightBps, &row.LastUpdated)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.PricingCacheRow{}, domain.ErrNotFound
		}
		return domain.PricingCacheRow{}, fmt.Errorf("postgres: get pricing cache %d: %w", marketID, err)
	}
	return row, nil
}

var _ domain.PricingCacheStore = (*PricingCacheStore)(nil)
