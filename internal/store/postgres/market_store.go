package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, season_id, player_address, market_type,
	initial_probability_bps, current_probability_bps,
	contract_address, fpmm_address, is_active, is_settled,
	created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var marketType string
	err := row.Scan(
		&m.ID, &m.SeasonID, &m.PlayerAddress, &marketType,
		&m.InitialProbabilityBps, &m.CurrentProbabilityBps,
		&m.ContractAddress, &m.FPMMAddress, &m.IsActive, &m.IsSettled,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.MarketType = domain.MarketType(marketType)
	return m, nil
}

// CreateMarket inserts a new market row. It returns domain.ErrDuplicateKey if
// one already exists for row.Key() (spec.md §3 uniqueness invariant).
func (s *MarketStore) CreateMarket(ctx context.Context, row domain.Market) (domain.Market, error) {
	const query = `
		INSERT INTO markets (
			season_id, player_address, market_type,
			initial_probability_bps, current_probability_bps,
			contract_address, fpmm_address, is_active, is_settled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + marketCols

	r := s.pool.QueryRow(ctx, query,
		row.SeasonID, strings.ToLower(row.PlayerAddress), string(row.MarketType),
		row.InitialProbabilityBps, row.CurrentProbabilityBps,
		row.ContractAddress, row.FPMMAddress, row.IsActive, row.IsSettled,
	)
	created, err := scanMarket(r)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Market{}, domain.ErrDuplicateKey
		}
		return domain.Market{}, fmt.Errorf("postgres: create market (season=%d, player=%s): %w", row.SeasonID, row.PlayerAddress, err)
	}
	return created, nil
}

// HasMarket reports whether a market row exists for the given composite key.
func (s *MarketStore) HasMarket(ctx context.Context, seasonID int64, playerAddress string, marketType domain.MarketType) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM markets WHERE season_id = $1 AND player_address = $2 AND market_type = $3)`,
		seasonID, strings.ToLower(playerAddress), string(marketType),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: has market (season=%d, player=%s): %w", seasonID, playerAddress, err)
	}
	return exists, nil
}

// UpdateMarketProbability sets current_probability_bps. It is a no-op when
// the value is already what's stored, so callers do not need to check
// first.
func (s *MarketStore) UpdateMarketProbability(ctx context.Context, id int64, newBps int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE markets SET current_probability_bps = $2, updated_at = NOW()
		 WHERE id = $1 AND current_probability_bps <> $2`,
		id, newBps,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market probability %d: %w", id, err)
	}
	return nil
}

// UpdateMarketContractAddress records the deployed FPMM address once
// observed via MarketCreated.
func (s *MarketStore) UpdateMarketContractAddress(ctx context.Context, id int64, fpmmAddress string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE markets SET contract_address = $2, fpmm_address = $2, updated_at = NOW() WHERE id = $1`,
		id, fpmmAddress,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market contract address %d: %w", id, err)
	}
	return nil
}

// MarkSettled flags every market of a season as settled.
func (s *MarketStore) MarkSettled(ctx context.Context, seasonID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE markets SET is_settled = TRUE, is_active = FALSE, updated_at = NOW() WHERE season_id = $1`,
		seasonID,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark settled season %d: %w", seasonID, err)
	}
	return nil
}

// GetMarket retrieves a market by composite key.
func (s *MarketStore) GetMarket(ctx context.Context, seasonID int64, playerAddress string, marketType domain.MarketType) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE season_id = $1 AND player_address = $2 AND market_type = $3`,
		seasonID, strings.ToLower(playerAddress), string(marketType),
	)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market (season=%d, player=%s): %w", seasonID, playerAddress, err)
	}
	return m, nil
}

// GetMarketByID retrieves a market by primary key.
func (s *MarketStore) GetMarketByID(ctx context.Context, id int64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market by id %d: %w", id, err)
	}
	return m, nil
}

// ListMarketsBySeason returns every market for seasonID.
func (s *MarketStore) ListMarketsBySeason(ctx context.Context, seasonID int64) ([]domain.Market, error) {
	return s.queryMarkets(ctx, `SELECT `+marketCols+` FROM markets WHERE season_id = $1 ORDER BY id`, seasonID)
}

// ListActiveMarketsBySeason returns only the active markets for seasonID.
func (s *MarketStore) ListActiveMarketsBySeason(ctx context.Context, seasonID int64) ([]domain.Market, error) {
	return s.queryMarkets(ctx, `SELECT `+marketCols+` FROM markets WHERE season_id = $1 AND is_active ORDER BY id`, seasonID)
}

// ListActiveSeasonIDs returns the distinct set of seasons with at least one
// active market, used at startup to resume a C7 monitor loop per season.
func (s *MarketStore) ListActiveSeasonIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT season_id FROM markets WHERE is_active ORDER BY season_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active season ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan active season id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active season ids rows: %w", err)
	}
	return ids, nil
}

// ListAllMarkets returns every market row regardless of season, for cold
// backup snapshots.
func (s *MarketStore) ListAllMarkets(ctx context.Context) ([]domain.Market, error) {
	return s.queryMarkets(ctx, `SELECT `+marketCols+` FROM markets ORDER BY id`)
}

func (s *MarketStore) queryMarkets(ctx context.Context, query string, args ...interface{}) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation
// (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ domain.MarketStore = (*MarketStore)(nil)
