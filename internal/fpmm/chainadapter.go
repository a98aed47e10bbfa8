package fpmm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/sof-protocol/infofi-sync/internal/chainclient"
	"github.com/sof-protocol/infofi-sync/internal/domain"
)

// ChainReader is the narrow subset of *chainclient.Client the adapters in
// this package need.
type ChainReader interface {
	ReadContract(ctx context.Context, address common.Address, contractABI abi.ABI, method string, opts *chainclient.ReadOpts, args ...interface{}) ([]interface{}, error)
}

// FPMMAdapter implements AMMReader against each market's own FPMM contract
// instance (spec.md §6 getPrices()).
type FPMMAdapter struct {
	chain  ChainReader
	fpmmABI abi.ABI
}

// NewFPMMAdapter creates an AMMReader backed by the given chain client.
func NewFPMMAdapter(chain ChainReader, fpmmABI abi.ABI) *FPMMAdapter {
	return &FPMMAdapter{chain: chain, fpmmABI: fpmmABI}
}

// GetPrices reads (yesBps, noBps) from the FPMM at fpmmAddress.
func (a *FPMMAdapter) GetPrices(ctx context.Context, fpmmAddress string) (int64, int64, error) {
	out, err := a.chain.ReadContract(ctx, common.HexToAddress(fpmmAddress), a.fpmmABI, "getPrices", nil)
	if err != nil {
		return 0, 0, fmt.Errorf("fpmm adapter: getPrices(%s): %w", fpmmAddress, err)
	}
	if len(out) < 2 {
		return 0, 0, fmt.Errorf("fpmm adapter: getPrices(%s): unexpected output shape", fpmmAddress)
	}
	yes, ok1 := asInt64(out[0])
	no, ok2 := asInt64(out[1])
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("fpmm adapter: getPrices(%s): non-integer output", fpmmAddress)
	}
	return yes, no, nil
}

// OracleRaffleReader resolves the current raffle probability from the DB
// row written by the Position Handler (C5). The oracle's on-chain value and
// the DB row converge within one position-update cycle; reading the DB
// avoids an extra chain round trip on every 10s tick.
type OracleRaffleReader struct {
	markets domain.MarketStore
}

// NewOracleRaffleReader creates a RaffleProbabilityReader backed by the
// market store.
func NewOracleRaffleReader(markets domain.MarketStore) *OracleRaffleReader {
	return &OracleRaffleReader{markets: markets}
}

// CurrentRaffleProbabilityBps returns market.CurrentProbabilityBps as
// already persisted by C5.
func (r *OracleRaffleReader) CurrentRaffleProbabilityBps(ctx context.Context, market domain.Market) (int64, error) {
	row, err := r.markets.GetMarketByID(ctx, market.ID)
	if err != nil {
		return 0, fmt.Errorf("oracle raffle reader: get market %d: %w", market.ID, err)
	}
	return row.CurrentProbabilityBps, nil
}

func asInt64(v interface{}) (int64, bool) {
	type bigIntLike interface{ Int64() int64 }
	if b, ok := v.(bigIntLike); ok {
		return b.Int64(), true
	}
	return 0, false
}

var (
	_ AMMReader               = (*FPMMAdapter)(nil)
	_ RaffleProbabilityReader = (*OracleRaffleReader)(nil)
)
