package fpmm

import (
	"context"
	"io"
	"log/slog"
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

func TestHybridBps(t *testing.T) {
	cases := []struct {
		name                          string
		raffleBps, sentimentBps       int64
		raffleWeight, marketWeight    int64
		want                          int64
	}{
		{"default weights, equal inputs", 5000, 5000, 7000, 3000, 5000},
		{"default weights, divergent inputs", 8000, 2000, 7000, 3000, 6200},
		{"all raffle weight", 8000, 1000, 10000, 0, 8000},
		{"all market weight", 8000, 1000, 0, 10000, 1000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := HybridBps(tc.raffleBps, tc.sentimentBps, tc.raffleWeight, tc.marketWeight)
			assert.Equal(t, tc.want, got)
		})
	}
}

type fakeMarketStore struct {
	domain.MarketStore
	active map[int64][]domain.Market
	byID   map[int64]domain.Market
}

func (f *fakeMarketStore) ListActiveMarketsBySeason(_ context.Context, seasonID int64) ([]domain.Market, error) {
	return f.active[seasonID], nil
}

func (f *fakeMarketStore) GetMarketByID(_ context.Context, id int64) (domain.Market, error) {
	return f.byID[id], nil
}

type fakePricingCache struct {
	mu   sync.Mutex
	rows map[int64]domain.PricingCacheRow
}

func newFakePricingCache() *fakePricingCache {
	return &fakePricingCache{rows: make(map[int64]domain.PricingCacheRow)}
}

func (f *fakePricingCache) UpsertPricingCache(_ context.Context, row domain.PricingCacheRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[row.MarketID] = row
	return nil
}

func (f *fakePricingCache) GetPricingCache(_ context.Context, marketID int64) (domain.PricingCacheRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[marketID]
	if !ok {
		return domain.PricingCacheRow{}, domain.ErrNotFound
	}
	return row, nil
}

type fakeArbStore struct {
	mu       sync.Mutex
	inserted []domain.ArbOpportunity
	lastAt   map[int64]time.Time
}

func newFakeArbStore() *fakeArbStore { return &fakeArbStore{lastAt: make(map[int64]time.Time)} }

func (f *fakeArbStore) InsertArbitrage(_ context.Context, row domain.ArbOpportunity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, row)
	f.lastAt[row.MarketID] = time.Now()
	return nil
}

func (f *fakeArbStore) LastArbitrageAt(_ context.Context, marketID int64) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts, ok := f.lastAt[marketID]
	return ts, ok, nil
}

func (f *fakeArbStore) ListRecentArbitrage(context.Context, int) ([]domain.ArbOpportunity, error) {
	return f.inserted, nil
}

type fakeAMM struct{ yesBps, noBps int64 }

func (f fakeAMM) GetPrices(context.Context, string) (int64, int64, error) {
	return f.yesBps, f.noBps, nil
}

type fakeRaffle struct{ bps int64 }

func (f fakeRaffle) CurrentRaffleProbabilityBps(context.Context, domain.Market) (int64, error) {
	return f.bps, nil
}

func TestTick_RecordsArbitrageAboveThreshold(t *testing.T) {
	mkt := domain.Market{ID: 1, SeasonID: 9, PlayerAddress: "0xaaa", FPMMAddress: "0xfpmm"}
	markets := &fakeMarketStore{
		active: map[int64][]domain.Market{9: {mkt}},
		byID:   map[int64]domain.Market{1: mkt},
	}
	pricing := newFakePricingCache()
	arbs := newFakeArbStore()

	m := New(markets, pricing, arbs, fakeAMM{yesBps: 2000}, fakeRaffle{bps: 8000}, 10*time.Second, 200, 5*time.Minute, discardTestLogger())
	require.NoError(t, m.tick(context.Background(), 9, discardTestLogger()))

	row, err := pricing.GetPricingCache(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(6200), row.HybridBps)
	require.Len(t, arbs.inserted, 1)
	assert.Equal(t, int64(1), arbs.inserted[0].MarketID)
}

func TestTick_DedupsWithinWindow(t *testing.T) {
	mkt := domain.Market{ID: 1, SeasonID: 9, PlayerAddress: "0xaaa", FPMMAddress: "0xfpmm"}
	markets := &fakeMarketStore{
		active: map[int64][]domain.Market{9: {mkt}},
		byID:   map[int64]domain.Market{1: mkt},
	}
	pricing := newFakePricingCache()
	arbs := newFakeArbStore()
	arbs.lastAt[1] = time.Now() // just recorded

	m := New(markets, pricing, arbs, fakeAMM{yesBps: 2000}, fakeRaffle{bps: 8000}, 10*time.Second, 200, 5*time.Minute, discardTestLogger())
	require.NoError(t, m.tick(context.Background(), 9, discardTestLogger()))

	assert.Empty(t, arbs.inserted, "within the dedup window, no new row should be inserted")
}

func TestTick_SkipsMarketsWithoutFPMM(t *testing.T) {
	mkt := domain.Market{ID: 2, SeasonID: 9, PlayerAddress: "0xbbb", FPMMAddress: ""}
	markets := &fakeMarketStore{
		active: map[int64][]domain.Market{9: {mkt}},
		byID:   map[int64]domain.Market{2: mkt},
	}
	pricing := newFakePricingCache()
	arbs := newFakeArbStore()

	m := New(markets, pricing, arbs, fakeAMM{yesBps: 2000}, fakeRaffle{bps: 8000}, 10*time.Second, 200, 5*time.Minute, discardTestLogger())
	require.NoError(t, m.tick(context.Background(), 9, discardTestLogger()))

	_, err := pricing.GetPricingCache(context.Background(), 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStartStopSeason_IsIdempotentAndCancels(t *testing.T) {
	markets := &fakeMarketStore{active: map[int64][]domain.Market{}, byID: map[int64]domain.Market{}}
	m := New(markets, newFakePricingCache(), newFakeArbStore(), fakeAMM{}, fakeRaffle{}, 10*time.Second, 200, 5*time.Minute, discardTestLogger())

	m.StartSeason(context.Background(), 1)
	m.StartSeason(context.Background(), 1) // no-op second start
	m.StopSeason(1)
	m.StopSeason(1) // no-op second stop

	done := make(chan struct{})
	go func() { m.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not shut down after StopSeason")
	}
}
