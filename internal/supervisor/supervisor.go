// Package supervisor implements the top-level orchestration described in
// spec.md §4.C9: it owns every long-running task (per-event-type
// listeners, the price stream hub, one FPMM monitor loop per active
// season) and coordinates their startup order and shutdown, grounded on
// the teacher's Orchestrator (internal/pipeline/orchestrator.go in the
// teacher repo) which runs its own fixed set of goroutines under a single
// errgroup.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/sof-protocol/infofi-sync/internal/chainclient"
	"github.com/sof-protocol/infofi-sync/internal/config"
	"github.com/sof-protocol/infofi-sync/internal/domain"
	"github.com/sof-protocol/infofi-sync/internal/fpmm"
	"github.com/sof-protocol/infofi-sync/internal/listener"
	"github.com/sof-protocol/infofi-sync/internal/marketcreator"
	"github.com/sof-protocol/infofi-sync/internal/position"
	"github.com/sof-protocol/infofi-sync/internal/stream"
)

// Stores bundles the persistent store interfaces the supervisor wires
// listeners and components against.
type Stores struct {
	Cursors domain.CursorStore
	Markets domain.MarketStore
	Pricing domain.PricingCacheStore
	Arbs    domain.ArbStore
	Players domain.PlayerStore
	Locks   domain.LockManager
}

// Supervisor owns the full set of background tasks for one network.
type Supervisor struct {
	cfg     config.Config
	network config.NetworkConfig
	chain   *chainclient.Client
	stores  Stores
	abis    chainclient.ContractSet
	signer  *chainclient.AccountSigner

	position *position.Handler
	creator  *marketcreator.Creator
	monitor  *fpmm.Monitor
	hub      *stream.Hub

	logger *slog.Logger
}

// New wires every component per spec.md §4.C9 step 1-2: it assumes cfg has
// already passed Validate, chain is already dialed against the active
// network, and stores are already migrated/connected.
func New(cfg config.Config, network config.NetworkConfig, chain *chainclient.Client, abis chainclient.ContractSet, signer *chainclient.AccountSigner, stores Stores, logger *slog.Logger) *Supervisor {
	logger = logger.With(slog.String("component", "supervisor"))

	raffleAddr := common.HexToAddress(network.Addresses.Raffle)
	factoryAddr := common.HexToAddress(network.Addresses.Factory)
	oracleAddr := common.HexToAddress(network.Addresses.Oracle)

	raffleReader := position.NewRaffleAdapter(chain, abis.Raffle, raffleAddr)
	oracleWriter := position.NewOracleAdapter(chain, abis.Oracle, oracleAddr, signer)
	factoryWriter := marketcreator.NewFactoryAdapter(chain, abis.Factory, factoryAddr, signer, cfg.MarketCreationGasLimit)

	creator := marketcreator.New(stores.Markets, stores.Locks, factoryWriter, cfg.RpcCallTimeout(), cfg.CreateMarketRetryDelays(), logger)
	monitor := fpmm.New(stores.Markets, stores.Pricing, stores.Arbs,
		fpmm.NewFPMMAdapter(chain, abis.FPMMManager), fpmm.NewOracleRaffleReader(stores.Markets),
		cfg.FPMMPollInterval(), cfg.ArbitrageThresholdBps, cfg.ArbitrageDedupWindow(), logger)

	s := &Supervisor{
		cfg:     cfg,
		network: network,
		chain:   chain,
		stores:  stores,
		abis:    abis,
		signer:  signer,
		creator: creator,
		monitor: monitor,
		hub:     stream.New(logger),
		logger:  logger,
	}
	s.position = position.New(raffleReader, stores.Markets, oracleWriter, s.onThresholdCrossed,
		cfg.PositionHandlerBatchSize, cfg.MarketThresholdBps, logger)
	return s
}

func (s *Supervisor) onThresholdCrossed(ctx context.Context, seasonID int64, player string, oldTickets, newTickets, totalTickets *big.Int) {
	if err := s.creator.Create(ctx, seasonID, player, oldTickets, newTickets, totalTickets); err != nil {
		s.logger.Error("market creation failed",
			slog.Int64("season_id", seasonID), slog.String("player", player), slog.String("error", err.Error()))
	}
}

// Run starts every task and blocks until ctx is cancelled or a fatal task
// error occurs (spec.md §4.C9 "Shutdown: on signal, cancel every task's
// context...").
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	listeners, err := s.buildListeners(gctx)
	if err != nil {
		return fmt.Errorf("supervisor: build listeners: %w", err)
	}
	for _, l := range listeners {
		l := l
		g.Go(func() error {
			if err := l.Run(gctx); err != nil {
				return fmt.Errorf("listener: %w", err)
			}
			return nil
		})
	}

	if s.cfg.Stream.Enabled {
		g.Go(func() error {
			return s.hub.Run(gctx)
		})
	}

	if err := s.resumeActiveSeasons(gctx); err != nil {
		s.logger.Error("failed to resume active seasons at startup", slog.String("error", err.Error()))
	}

	err = g.Wait()
	s.monitor.Wait()
	if err != nil {
		s.logger.Error("supervisor stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("supervisor stopped cleanly")
	return nil
}

// resumeActiveSeasons starts a C7 loop for every season with at least one
// active market, per spec.md §4.C9 step 3 ("start one C7 loop per
// currently-active season discovered via a one-shot query").
func (s *Supervisor) resumeActiveSeasons(ctx context.Context) error {
	seasonIDs, err := s.stores.Markets.ListActiveSeasonIDs(ctx)
	if err != nil {
		return fmt.Errorf("list active seasons: %w", err)
	}
	for _, id := range seasonIDs {
		s.logger.Info("resuming fpmm monitor for active season", slog.Int64("season_id", id))
		s.monitor.StartSeason(ctx, id)
	}
	return nil
}

func (s *Supervisor) buildListeners(ctx context.Context) ([]*listener.Listener, error) {
	lookback := s.network.DefaultLookbackBlocks
	maxChunk := uint64(s.cfg.LogChunkMax)
	minChunk := uint64(s.cfg.LogChunkMin)
	poll := s.cfg.PollInterval()

	curveAddr := common.HexToAddress(s.network.Addresses.Curve)
	raffleAddr := common.HexToAddress(s.network.Addresses.Raffle)
	factoryAddr := common.HexToAddress(s.network.Addresses.Factory)
	oracleAddr := common.HexToAddress(s.network.Addresses.Oracle)

	positionUpdate := listener.New(listener.Config{
		NetworkKey: s.cfg.NetworkKey, EventType: "PositionUpdate", Address: curveAddr,
		EventABI: s.abis.Curve.Events["PositionUpdate"], PollInterval: poll,
		MaxChunk: maxChunk, MinChunk: minChunk, LookbackBlock: lookback,
	}, s.chain, s.stores.Cursors, s.handlePositionUpdate, s.logger)

	marketCreated := listener.New(listener.Config{
		NetworkKey: s.cfg.NetworkKey, EventType: "MarketCreated", Address: factoryAddr,
		EventABI: s.abis.Factory.Events["MarketCreated"], PollInterval: poll,
		MaxChunk: maxChunk, MinChunk: minChunk, LookbackBlock: lookback,
	}, s.chain, s.stores.Cursors, s.handleMarketCreated, s.logger)

	priceUpdated := listener.New(listener.Config{
		NetworkKey: s.cfg.NetworkKey, EventType: "PriceUpdated", Address: oracleAddr,
		EventABI: s.abis.Oracle.Events["PriceUpdated"], PollInterval: poll,
		MaxChunk: maxChunk, MinChunk: minChunk, LookbackBlock: lookback,
	}, s.chain, s.stores.Cursors, s.handlePriceUpdated, s.logger)

	seasonStarted := listener.New(listener.Config{
		NetworkKey: s.cfg.NetworkKey, EventType: "SeasonStarted", Address: raffleAddr,
		EventABI: s.abis.Raffle.Events["SeasonStarted"], PollInterval: poll,
		MaxChunk: maxChunk, MinChunk: minChunk, LookbackBlock: lookback,
	}, s.chain, s.stores.Cursors, s.handleSeasonStarted, s.logger)

	seasonCompleted := listener.New(listener.Config{
		NetworkKey: s.cfg.NetworkKey, EventType: "SeasonCompleted", Address: raffleAddr,
		EventABI: s.abis.Raffle.Events["SeasonCompleted"], PollInterval: poll,
		MaxChunk: maxChunk, MinChunk: minChunk, LookbackBlock: lookback,
	}, s.chain, s.stores.Cursors, s.handleSeasonCompleted, s.logger)

	return []*listener.Listener{positionUpdate, marketCreated, priceUpdated, seasonStarted, seasonCompleted}, nil
}

// handlePositionUpdate decodes a raw PositionUpdate log and hands it to the
// Position Handler (C5).
func (s *Supervisor) handlePositionUpdate(ctx context.Context, log ethtypes.Log) error {
	var ev struct {
		SeasonId       *big.Int
		Player         common.Address
		OldTickets     *big.Int
		NewTickets     *big.Int
		TotalTickets   *big.Int
		ProbabilityBps *big.Int
	}
	if err := listener.DecodeEvent(s.abis.Curve, "PositionUpdate", log, &ev); err != nil {
		return err
	}
	return s.position.HandlePositionUpdate(ctx, ev.SeasonId.Int64(), strings.ToLower(ev.Player.Hex()), ev.OldTickets, ev.NewTickets)
}

// handleMarketCreated performs the idempotent DB insert for a newly
// deployed market (spec.md §4.C6 step 5: the factory's event is the sole
// writer of the market row).
func (s *Supervisor) handleMarketCreated(ctx context.Context, log ethtypes.Log) error {
	var ev struct {
		SeasonId    *big.Int
		Player      common.Address
		MarketType  [32]byte
		ConditionId [32]byte
		FpmmAddress common.Address
	}
	if err := listener.DecodeEvent(s.abis.Factory, "MarketCreated", log, &ev); err != nil {
		return err
	}

	player := strings.ToLower(ev.Player.Hex())
	row := domain.Market{
		SeasonID:        ev.SeasonId.Int64(),
		PlayerAddress:   player,
		MarketType:      domain.WinnerPrediction,
		ContractAddress: ev.FpmmAddress.Hex(),
		FPMMAddress:     ev.FpmmAddress.Hex(),
		IsActive:        true,
	}

	_, err := s.stores.Markets.CreateMarket(ctx, row)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			existing, getErr := s.stores.Markets.GetMarket(ctx, row.SeasonID, player, domain.WinnerPrediction)
			if getErr != nil {
				return getErr
			}
			return s.stores.Markets.UpdateMarketContractAddress(ctx, existing.ID, ev.FpmmAddress.Hex())
		}
		return err
	}
	return nil
}

// handlePriceUpdated feeds the stream hub (C8) straight from the oracle's
// own event, per spec.md's data-flow note that C8 depends on C4 only via
// this callback.
func (s *Supervisor) handlePriceUpdated(ctx context.Context, log ethtypes.Log) error {
	var ev struct {
		MarketId  *big.Int
		RaffleBps *big.Int
		MarketBps *big.Int
		HybridBps *big.Int
	}
	if err := listener.DecodeEvent(s.abis.Oracle, "PriceUpdated", log, &ev); err != nil {
		return err
	}
	s.hub.OnOraclePriceUpdated(ev.MarketId.Int64(), ev.RaffleBps.Int64(), ev.MarketBps.Int64(), ev.HybridBps.Int64(),
		s.cfg.HybridRaffleWeightBps, s.cfg.HybridMarketWeightBps)
	return nil
}

func (s *Supervisor) handleSeasonStarted(ctx context.Context, log ethtypes.Log) error {
	var ev struct{ SeasonId *big.Int }
	if err := listener.DecodeEvent(s.abis.Raffle, "SeasonStarted", log, &ev); err != nil {
		return err
	}
	s.monitor.StartSeason(ctx, ev.SeasonId.Int64())
	return nil
}

func (s *Supervisor) handleSeasonCompleted(ctx context.Context, log ethtypes.Log) error {
	var ev struct {
		SeasonId *big.Int
		Winners  []common.Address
	}
	if err := listener.DecodeEvent(s.abis.Raffle, "SeasonCompleted", log, &ev); err != nil {
		return err
	}
	s.monitor.StopSeason(ev.SeasonId.Int64())
	return s.stores.Markets.MarkSettled(ctx, ev.SeasonId.Int64())
}
