package supervisor

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sof-protocol/infofi-sync/internal/domain"
	"github.com/sof-protocol/infofi-sync/internal/marketcreator"
)

func discardTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarketStore struct {
	domain.MarketStore
	created []domain.Market
	byKey   map[domain.MarketKey]domain.Market
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{byKey: make(map[domain.MarketKey]domain.Market)}
}

func (f *fakeMarketStore) HasMarket(_ context.Context, seasonID int64, player string, mt domain.MarketType) (bool, error) {
	_, ok := f.byKey[domain.MarketKey{SeasonID: seasonID, PlayerAddress: player, MarketType: mt}]
	return ok, nil
}

func (f *fakeMarketStore) CreateMarket(_ context.Context, row domain.Market) (domain.Market, error) {
	if _, ok := f.byKey[row.Key()]; ok {
		return domain.Market{}, domain.ErrDuplicateKey
	}
	row.ID = int64(len(f.created) + 1)
	f.byKey[row.Key()] = row
	f.created = append(f.created, row)
	return row, nil
}

func (f *fakeMarketStore) GetMarket(_ context.Context, seasonID int64, player string, mt domain.MarketType) (domain.Market, error) {
	row, ok := f.byKey[domain.MarketKey{SeasonID: seasonID, PlayerAddress: player, MarketType: mt}]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return row, nil
}

func (f *fakeMarketStore) UpdateMarketContractAddress(_ context.Context, id int64, fpmmAddress string) error {
	for k, v := range f.byKey {
		if v.ID == id {
			v.FPMMAddress = fpmmAddress
			f.byKey[k] = v
		}
	}
	return nil
}

type fakeLockManager struct{}

func (fakeLockManager) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

type fakeFactory struct {
	calls int
	err   error
}

func (f *fakeFactory) CreateMarket(context.Context, int64, string, *big.Int, *big.Int, *big.Int) error {
	f.calls++
	return f.err
}

// TestOnThresholdCrossed_DelegatesToCreator verifies the supervisor's
// threshold-crossing callback hands off to the market creator without
// swallowing its outcome silently.
func TestOnThresholdCrossed_DelegatesToCreator(t *testing.T) {
	markets := newFakeMarketStore()
	factory := &fakeFactory{}
	creator := marketcreator.New(markets, fakeLockManager{}, factory, time.Second,
		[]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}, discardTestLogger())

	s := &Supervisor{creator: creator, logger: discardTestLogger()}

	s.onThresholdCrossed(context.Background(), 9, "0xabc", big.NewInt(0), big.NewInt(500), big.NewInt(1000))

	assert.Equal(t, 1, factory.calls, "onThresholdCrossed must submit the on-chain create call via the Market Creator")

	// The market row itself is written only once the factory's own
	// MarketCreated event comes back through the listener, not by the
	// creator directly.
	has, err := markets.HasMarket(context.Background(), 9, "0xabc", domain.WinnerPrediction)
	require.NoError(t, err)
	assert.False(t, has)
}

// TestFakeMarketStore_DuplicateInsertThenAddressUpdate walks the fake store
// through the duplicate-insert, lookup and address-update sequence that
// handleMarketCreated relies on. It does not call handleMarketCreated.
func TestFakeMarketStore_DuplicateInsertThenAddressUpdate(t *testing.T) {
	markets := newFakeMarketStore()
	row := domain.Market{SeasonID: 1, PlayerAddress: "0xdead", MarketType: domain.WinnerPrediction}
	_, err := markets.CreateMarket(context.Background(), row)
	require.NoError(t, err)

	_, err = markets.CreateMarket(context.Background(), row)
	require.ErrorIs(t, err, domain.ErrDuplicateKey)

	existing, err := markets.GetMarket(context.Background(), 1, "0xdead", domain.WinnerPrediction)
	require.NoError(t, err)
	require.NoError(t, markets.UpdateMarketContractAddress(context.Background(), existing.ID, "0xfpmm"))

	updated := markets.byKey[row.Key()]
	assert.Equal(t, "0xfpmm", updated.FPMMAddress)
}
