package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

// PlayerStore implements domain.PlayerStore using PostgreSQL.
type PlayerStore struct {
	pool *pgxpool.Pool
}

// NewPlayerStore creates a PlayerStore backed by pool.
func NewPlayerStore(pool *pgxpool.Pool) *PlayerStore {
	return &PlayerStore{pool: pool}
}

// GetOrCreatePlayer returns the player row for address, inserting it first
// if it does not yet exist.
func (s *PlayerStore) GetOrCreatePlayer(ctx context.Context, address string) (domain.Player, error) {
	addr := strings.ToLower(address)

	var p domain.Player
	err := s.pool.QueryRow(ctx,
		`INSERT INTO players (address) VALUES ($1)
		 ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		 RETURNING address, created_at`,
		addr,
	).Scan(&p.Address, &p.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Player{}, domain.ErrNotFound
		}
		return domain.Player{}, fmt.Errorf("postgres: get or create player %s: %w", addr, err)
	}
	return p, nil
}

var _ domain.PlayerStore = (*PlayerStore)(nil)
