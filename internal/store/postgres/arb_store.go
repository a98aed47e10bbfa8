package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

// ArbStore implements domain.ArbStore using PostgreSQL. Rows are append-only
// (spec.md §3); the dedup window itself is enforced by the caller via
// LastArbitrageAt, not by a uniqueness constraint.
type ArbStore struct {
	pool *pgxpool.Pool
}

// NewArbStore creates an ArbStore backed by pool.
func NewArbStore(pool *pgxpool.Pool) *ArbStore {
	return &ArbStore{pool: pool}
}

// InsertArbitrage appends a new arbitrage opportunity row.
func (s *ArbStore) InsertArbitrage(ctx context.Context, row domain.ArbOpportunity) error {
	const query = `
		INSERT INTO arbitrage_opportunities (
			season_id, player_address, market_id,
			raffle_price_pct, market_price_pct, price_difference_pct,
			profitability_pct, strategy_text
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		row.SeasonID, row.PlayerAddress, row.MarketID,
		row.RafflePricePct, row.MarketPricePct, row.PriceDifferencePct,
		row.ProfitabilityPct, row.StrategyText,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert arbitrage (market=%d): %w", row.MarketID, err)
	}
	return nil
}

// LastArbitrageAt returns the timestamp of the most recent arbitrage row for
// marketID, or ok=false if none exists.
func (s *ArbStore) LastArbitrageAt(ctx context.Context, marketID int64) (time.Time, bool, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT created_at FROM arbitrage_opportunities WHERE market_id = $1 ORDER BY created_at DESC LIMIT 1`,
		marketID,
	).Scan(&ts)
	if err != nil {
		if err == pgx.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("postgres: last arbitrage at %d: %w", marketID, err)
	}
	return ts, true, nil
}

// ListRecentArbitrage returns the most recent arbitrage rows across every
// market, newest first, bounded by limit.
func (s *ArbStore) ListRecentArbitrage(ctx context.Context, limit int) ([]domain.ArbOpportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, season_id, player_address, market_id, raffle_price_pct, market_price_pct,
			price_difference_pct, profitability_pct, strategy_text, created_at
		 FROM arbitrage_opportunities ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent arbitrage: %w", err)
	}
	defer rows.Close()

	var out []domain.ArbOpportunity
	for rows.Next() {
		var r domain.ArbOpportunity
		if err := rows.Scan(
			&r.ID, &r.SeasonID, &r.PlayerAddress, &r.MarketID,
			&r.RafflePricePct, &r.MarketPricePct, &r.PriceDifferencePct,
			&r.ProfitabilityPct, &r.StrategyText, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan arbitrage row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list recent arbitrage rows: %w", err)
	}
	return out, nil
}

var _ domain.ArbStore = (*ArbStore)(nil)
