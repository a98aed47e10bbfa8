package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

// CursorStore implements domain.CursorStore using PostgreSQL.
type CursorStore struct {
	pool *pgxpool.Pool
}

// NewCursorStore creates a CursorStore backed by the given connection pool.
func NewCursorStore(pool *pgxpool.Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// GetCursor returns the last fully-processed block for (networkKey,
// eventType), or ok=false if none has been recorded yet.
func (s *CursorStore) GetCursor(ctx context.Context, networkKey, eventType string) (uint64, bool, error) {
	var lastBlock int64
	err := s.pool.QueryRow(ctx,
		`SELECT last_block FROM cursors WHERE network_key = $1 AND event_type = $2`,
		networkKey, eventType,
	).Scan(&lastBlock)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("postgres: get cursor %s/%s: %w", networkKey, eventType, err)
	}
	return uint64(lastBlock), true, nil
}

// SetCursor upserts the cursor for (networkKey, eventType). The UPDATE
// branch of the upsert only fires when the new value is strictly greater
// than what is stored, so a regression is detected by comparing the row
// count the statement actually touched rather than trusting the caller.
func (s *CursorStore) SetCursor(ctx context.Context, networkKey, eventType string, lastBlock uint64) error {
	const query = `
		INSERT INTO cursors (network_key, event_type, last_block, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (network_key, event_type) DO UPDATE SET
			last_block = EXCLUDED.last_block,
			updated_at = NOW()
		WHERE cursors.last_block < EXCLUDED.last_block`

	tag, err := s.pool.Exec(ctx, query, networkKey, eventType, int64(lastBlock))
	if err != nil {
		return fmt.Errorf("postgres: set cursor %s/%s: %w", networkKey, eventType, err)
	}
	if tag.RowsAffected() == 0 {
		// The row already exists with last_block >= lastBlock, which is a
		// regression. The re-read only adds the stored value to the error.
		existing, ok, getErr := s.GetCursor(ctx, networkKey, eventType)
		if getErr == nil && ok && existing >= lastBlock {
			return fmt.Errorf("postgres: set cursor %s/%s to %d: %w (currently %d)", networkKey, eventType, lastBlock, domain.ErrCursorRegression, existing)
		}
		return fmt.Errorf("postgres: set cursor %s/%s to %d: %w", networkKey, eventType, lastBlock, domain.ErrCursorRegression)
	}
	return nil
}

// ListAllCursors returns every recorded cursor, for cold backup snapshots.
func (s *CursorStore) ListAllCursors(ctx context.Context) ([]domain.Cursor, error) {
	rows, err := s.pool.Query(ctx, `SELECT network_key, event_type, last_block FROM cursors ORDER BY network_key, event_type`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list all cursors: %w", err)
	}
	defer rows.Close()

	var cursors []domain.Cursor
	for rows.Next() {
		var c domain.Cursor
		var lastBlock int64
		if err := rows.Scan(&c.NetworkKey, &c.EventType, &lastBlock); err != nil {
			return nil, fmt.Errorf("postgres: scan cursor: %w", err)
		}
		c.LastBlock = uint64(lastBlock)
		cursors = append(cursors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list all cursors rows: %w", err)
	}
	return cursors, nil
}

var _ domain.CursorStore = (*CursorStore)(nil)
