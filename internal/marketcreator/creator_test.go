package marketcreator

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

func discardTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarketStore struct {
	domain.MarketStore
	mu   sync.Mutex
	has  map[domain.MarketKey]bool
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{has: make(map[domain.MarketKey]bool)}
}

func (f *fakeMarketStore) HasMarket(_ context.Context, seasonID int64, playerAddress string, marketType domain.MarketType) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.has[domain.MarketKey{SeasonID: seasonID, PlayerAddress: playerAddress, MarketType: marketType}], nil
}

type fakeLockManager struct{}

func (fakeLockManager) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

type fakeFactory struct {
	mu        sync.Mutex
	calls     int
	failTimes int
	err       error
	revert    *domain.ContractRevertError
}

func (f *fakeFactory) CreateMarket(context.Context, int64, string, *big.Int, *big.Int, *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.revert != nil {
		return f.revert
	}
	if f.calls <= f.failTimes {
		return f.err
	}
	return nil
}

func TestCreate_SkipsWhenMarketAlreadyExists(t *testing.T) {
	markets := newFakeMarketStore()
	markets.has[domain.MarketKey{SeasonID: 1, PlayerAddress: "0xaaa", MarketType: domain.WinnerPrediction}] = true
	factory := &fakeFactory{}

	c := New(markets, fakeLockManager{}, factory, time.Second, testRetryDelays(), discardTestLogger())
	require.NoError(t, c.Create(context.Background(), 1, "0xaaa", big.NewInt(0), big.NewInt(100), big.NewInt(1000)))

	assert.Zero(t, factory.calls)
}

func testRetryDelays() []time.Duration {
	return []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
}

func TestCreate_RetriesTransientThenSucceeds(t *testing.T) {
	markets := newFakeMarketStore()
	factory := &fakeFactory{failTimes: 2, err: domain.ErrRpcTransient}

	c := New(markets, fakeLockManager{}, factory, time.Second, testRetryDelays(), discardTestLogger())
	err := c.Create(context.Background(), 1, "0xaaa", big.NewInt(0), big.NewInt(100), big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, 3, factory.calls)
}

func TestCreate_ContractRevertIsPermanentAndNotRetried(t *testing.T) {
	markets := newFakeMarketStore()
	factory := &fakeFactory{revert: &domain.ContractRevertError{Reason: "already created"}}

	c := New(markets, fakeLockManager{}, factory, time.Second, testRetryDelays(), discardTestLogger())
	err := c.Create(context.Background(), 1, "0xaaa", big.NewInt(0), big.NewInt(100), big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, 1, factory.calls)

	// Second call for the same key must not hit the factory again.
	err = c.Create(context.Background(), 1, "0xaaa", big.NewInt(0), big.NewInt(100), big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, 1, factory.calls, "permanently failed creation must not be retried")
}

func TestCreate_ExhaustsRetriesAndReturnsError(t *testing.T) {
	markets := newFakeMarketStore()
	factory := &fakeFactory{failTimes: 100, err: domain.ErrRpcTransient}

	c := New(markets, fakeLockManager{}, factory, time.Second, testRetryDelays(), discardTestLogger())
	err := c.Create(context.Background(), 1, "0xaaa", big.NewInt(0), big.NewInt(100), big.NewInt(1000))
	assert.Error(t, err)
	assert.Equal(t, 3, factory.calls) // capped at len(retryDelays) total attempts
}
