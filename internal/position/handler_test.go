package position

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

type fakeSeasonReader struct {
	total        *big.Int
	participants []string
	tickets      map[string]*big.Int
	failOnce     map[string]int // remaining failures before success
	mu           sync.Mutex
}

func (f *fakeSeasonReader) TotalTickets(context.Context, int64) (*big.Int, error) {
	return f.total, nil
}

func (f *fakeSeasonReader) Participants(context.Context, int64) ([]string, error) {
	return f.participants, nil
}

func (f *fakeSeasonReader) ParticipantTicketCount(_ context.Context, _ int64, player string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if remaining, ok := f.failOnce[player]; ok && remaining > 0 {
		f.failOnce[player]--
		return nil, errors.New("injected rpc error")
	}
	return f.tickets[player], nil
}

type fakeMarketStore struct {
	domain.MarketStore
	mu      sync.Mutex
	rows    map[domain.MarketKey]domain.Market
	updated map[int64]int64
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{rows: make(map[domain.MarketKey]domain.Market), updated: make(map[int64]int64)}
}

func (f *fakeMarketStore) GetMarket(_ context.Context, seasonID int64, playerAddress string, marketType domain.MarketType) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[domain.MarketKey{SeasonID: seasonID, PlayerAddress: playerAddress, MarketType: marketType}]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return row, nil
}

func (f *fakeMarketStore) UpdateMarketProbability(_ context.Context, id int64, newBps int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated[id] = newBps
	for k, v := range f.rows {
		if v.ID == id {
			v.CurrentProbabilityBps = newBps
			f.rows[k] = v
		}
	}
	return nil
}

type fakeOracle struct {
	mu      sync.Mutex
	updates map[int64]int64
}

func newFakeOracle() *fakeOracle { return &fakeOracle{updates: make(map[int64]int64)} }

func (f *fakeOracle) UpdateRaffleProbability(_ context.Context, marketID int64, probabilityBps int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[marketID] = probabilityBps
	return nil
}

func discardTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandlePositionUpdate_WritesChangedRowsAndDispatchesOracle(t *testing.T) {
	chain := &fakeSeasonReader{
		total:        big.NewInt(1000),
		participants: []string{"0xaaa", "0xbbb"},
		tickets: map[string]*big.Int{
			"0xaaa": big.NewInt(200), // 2000 bps
			"0xbbb": big.NewInt(5),   // 50 bps, below threshold
		},
		failOnce: map[string]int{},
	}

	markets := newFakeMarketStore()
	markets.rows[domain.MarketKey{SeasonID: 1, PlayerAddress: "0xaaa", MarketType: domain.WinnerPrediction}] = domain.Market{
		ID: 42, SeasonID: 1, PlayerAddress: "0xaaa", MarketType: domain.WinnerPrediction, CurrentProbabilityBps: 1000,
	}

	oracle := newFakeOracle()

	var crossed []string
	h := New(chain, markets, oracle, func(_ context.Context, _ int64, player string, _, _, _ *big.Int) {
		crossed = append(crossed, player)
	}, 10, 100, discardTestLogger())

	err := h.HandlePositionUpdate(context.Background(), 1, "0xaaa", big.NewInt(100), big.NewInt(200))
	require.NoError(t, err)

	assert.Equal(t, int64(2000), markets.updated[42])
	assert.Equal(t, int64(2000), oracle.updates[42])
	assert.Empty(t, crossed, "0xbbb has no market row but sits at 50bps, below the 100bps creation threshold")
}

func TestHandlePositionUpdate_SkipsOracleBelowThreshold(t *testing.T) {
	chain := &fakeSeasonReader{
		total:        big.NewInt(1000),
		participants: []string{"0xaaa"},
		tickets:      map[string]*big.Int{"0xaaa": big.NewInt(5)}, // 50 bps
		failOnce:     map[string]int{},
	}
	markets := newFakeMarketStore()
	markets.rows[domain.MarketKey{SeasonID: 1, PlayerAddress: "0xaaa", MarketType: domain.WinnerPrediction}] = domain.Market{
		ID: 7, SeasonID: 1, PlayerAddress: "0xaaa", MarketType: domain.WinnerPrediction, CurrentProbabilityBps: 80,
	}
	oracle := newFakeOracle()

	h := New(chain, markets, oracle, nil, 10, 100, discardTestLogger())
	require.NoError(t, h.HandlePositionUpdate(context.Background(), 1, "0xaaa", big.NewInt(1), big.NewInt(5)))

	assert.Equal(t, int64(50), markets.updated[7], "row is still updated even though below oracle threshold")
	assert.Empty(t, oracle.updates, "oracle must not be notified below 100bps")
}

func TestHandlePositionUpdate_RetriesThenGivesUpOnParticipant(t *testing.T) {
	chain := &fakeSeasonReader{
		total:        big.NewInt(1000),
		participants: []string{"0xaaa", "0xbbb"},
		tickets: map[string]*big.Int{
			"0xaaa": big.NewInt(100),
			"0xbbb": big.NewInt(100),
		},
		failOnce: map[string]int{"0xaaa": 5}, // always fails, exceeds retry budget
	}
	markets := newFakeMarketStore()
	oracle := newFakeOracle()

	h := New(chain, markets, oracle, nil, 10, 100, discardTestLogger())
	err := h.HandlePositionUpdate(context.Background(), 1, "0xbbb", big.NewInt(0), big.NewInt(100))
	require.NoError(t, err, "a single participant's exhausted retries must not fail the whole batch")
}
