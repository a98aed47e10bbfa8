package listener

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

// memCursorStore is an in-memory domain.CursorStore for tests.
type memCursorStore struct {
	mu      sync.Mutex
	cursors map[string]uint64
}

func newMemCursorStore() *memCursorStore {
	return &memCursorStore{cursors: make(map[string]uint64)}
}

func (m *memCursorStore) GetCursor(_ context.Context, networkKey, eventType string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.cursors[networkKey+"/"+eventType]
	return v, ok, nil
}

func (m *memCursorStore) SetCursor(_ context.Context, networkKey, eventType string, lastBlock uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := networkKey + "/" + eventType
	if cur, ok := m.cursors[key]; ok && lastBlock <= cur {
		return domain.ErrCursorRegression
	}
	m.cursors[key] = lastBlock
	return nil
}

// fakeChainReader serves a canned block number and log set, optionally
// failing on a specific chunk to exercise the "cursor doesn't advance past
// a failing chunk" invariant.
type fakeChainReader struct {
	blockNumber uint64
	logsByRange map[[2]uint64][]ethtypes.Log
	failRange   [2]uint64
	failed      bool
}

func (f *fakeChainReader) BlockNumber(_ context.Context) (uint64, error) {
	return f.blockNumber, nil
}

func (f *fakeChainReader) GetLogs(_ context.Context, _ common.Address, fromBlock, toBlock uint64, _ [][]common.Hash, _, _ uint64) ([]ethtypes.Log, error) {
	if !f.failed && f.failRange[0] == fromBlock && f.failRange[1] == toBlock {
		f.failed = true
		return nil, errors.New("injected rpc error")
	}
	return f.logsByRange[[2]uint64{fromBlock, toBlock}], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testEventABI(t *testing.T) abi.Event {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(`[{"type":"event","name":"PositionUpdate","anonymous":false,"inputs":[{"name":"seasonId","type":"uint256","indexed":true}]}]`))
	require.NoError(t, err)
	return parsed.Events["PositionUpdate"]
}

func TestListener_AdvancesCursorOnlyAfterSuccess(t *testing.T) {
	cursors := newMemCursorStore()
	require.NoError(t, cursors.SetCursor(context.Background(), "LOCAL", "PositionUpdate", 100))

	chain := &fakeChainReader{
		blockNumber: 200,
		logsByRange: map[[2]uint64][]ethtypes.Log{
			{101, 200}: {{BlockNumber: 150, Index: 0}},
		},
	}

	var handled []uint64
	handler := func(_ context.Context, lg ethtypes.Log) error {
		handled = append(handled, lg.BlockNumber)
		return nil
	}

	l := New(Config{
		NetworkKey:   "LOCAL",
		EventType:    "PositionUpdate",
		PollInterval: time.Millisecond,
		MaxChunk:     10_000,
		MinChunk:     500,
		EventABI:     testEventABI(t),
	}, chain, cursors, handler, discardLogger())

	require.NoError(t, l.pollOnce(context.Background()))

	assert.Equal(t, []uint64{150}, handled)
	cursor, ok, err := cursors.GetCursor(context.Background(), "LOCAL", "PositionUpdate")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(200), cursor)
}

func TestListener_HandlerFailureDoesNotAdvanceCursor(t *testing.T) {
	cursors := newMemCursorStore()
	require.NoError(t, cursors.SetCursor(context.Background(), "LOCAL", "PositionUpdate", 100))

	chain := &fakeChainReader{
		blockNumber: 200,
		logsByRange: map[[2]uint64][]ethtypes.Log{
			{101, 200}: {{BlockNumber: 150, Index: 0}},
		},
	}

	handler := func(_ context.Context, _ ethtypes.Log) error {
		return errors.New("handler exploded")
	}

	l := New(Config{
		NetworkKey:   "LOCAL",
		EventType:    "PositionUpdate",
		PollInterval: time.Millisecond,
		MaxChunk:     10_000,
		MinChunk:     500,
		EventABI:     testEventABI(t),
	}, chain, cursors, handler, discardLogger())

	err := l.pollOnce(context.Background())
	assert.Error(t, err)

	cursor, ok, err := cursors.GetCursor(context.Background(), "LOCAL", "PositionUpdate")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(100), cursor, "cursor must not advance when a handler fails")
}

func TestListener_SeedsCursorFromLookbackWhenMissing(t *testing.T) {
	cursors := newMemCursorStore()

	chain := &fakeChainReader{
		blockNumber: 100_500,
		logsByRange: map[[2]uint64][]ethtypes.Log{},
	}

	l := New(Config{
		NetworkKey:    "LOCAL",
		EventType:     "PositionUpdate",
		PollInterval:  time.Millisecond,
		MaxChunk:      10_000,
		MinChunk:      500,
		LookbackBlock: 50_000,
		EventABI:      testEventABI(t),
	}, chain, cursors, func(context.Context, ethtypes.Log) error { return nil }, discardLogger())

	from, err := l.resolveFromBlock(context.Background(), 100_500)
	require.NoError(t, err)
	assert.Equal(t, uint64(50_500), from)
}
