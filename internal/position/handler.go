// Package position implements the Position Handler (spec.md §4.C5): given a
// PositionUpdate event, it recomputes every participant's win probability
// for that season, persists the changed rows, and fans out oracle writes
// for markets that already exist. It never creates markets itself — that is
// the Market Creator's (C6) job, invoked via the ThresholdHook.
package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

// maxParticipantReadAttempts is the retry budget for a single participant's
// ticket-count read before the handler gives up on that participant and
// continues with the rest (spec.md §4.C5 "Failure").
const maxParticipantReadAttempts = 3

// SeasonReader is the subset of chainclient.Client used to read season and
// participant state. Narrow so it can be faked in tests.
type SeasonReader interface {
	TotalTickets(ctx context.Context, seasonID int64) (*big.Int, error)
	Participants(ctx context.Context, seasonID int64) ([]string, error)
	ParticipantTicketCount(ctx context.Context, seasonID int64, player string) (*big.Int, error)
}

// OracleWriter submits the on-chain probability update for a single market.
type OracleWriter interface {
	UpdateRaffleProbability(ctx context.Context, marketID int64, probabilityBps int64) error
}

// ThresholdHook is invoked once per participant whose recomputed
// probability is at or above the creation threshold and who has no market
// row yet. The handler only notifies; market creation itself belongs to C6.
type ThresholdHook func(ctx context.Context, seasonID int64, playerAddress string, oldTickets, newTickets, totalTickets *big.Int)

// Handler recomputes and persists probabilities for every participant in a
// season whenever a PositionUpdate event fires.
type Handler struct {
	chain   SeasonReader
	markets domain.MarketStore
	oracle  OracleWriter
	onCross ThresholdHook
	logger  *slog.Logger

	// readBatchSize bounds the number of concurrent per-participant ticket
	// reads against the chain client (spec.md §4.C5 step 2).
	readBatchSize int

	// minProbabilityBps mirrors the market-creation threshold: the oracle
	// is never told about a probability below it (spec.md §4.C5 step 6,
	// §4.C6).
	minProbabilityBps int64
}

// New creates a Handler. onCross may be nil if the caller wants
// threshold-crossing notification wired separately.
func New(chain SeasonReader, markets domain.MarketStore, oracle OracleWriter, onCross ThresholdHook, readBatchSize int, minProbabilityBps int64, logger *slog.Logger) *Handler {
	return &Handler{
		chain:             chain,
		markets:           markets,
		oracle:            oracle,
		onCross:           onCross,
		readBatchSize:     readBatchSize,
		minProbabilityBps: minProbabilityBps,
		logger:            logger.With(slog.String("component", "position_handler")),
	}
}

// participantRead is the outcome of reading one participant's ticket count.
type participantRead struct {
	address string
	tickets *big.Int
	err     error
}

// HandlePositionUpdate implements spec.md §4.C5's full algorithm for a
// single PositionUpdate event. triggeringPlayer and oldTickets are used
// only to drive the threshold hook; the new count passed to the hook is the
// freshly read one, and newTickets is not read. Every participant in the
// season is still recomputed and diffed.
func (h *Handler) HandlePositionUpdate(ctx context.Context, seasonID int64, triggeringPlayer string, oldTickets, newTickets *big.Int) error {
	totalTickets, err := h.chain.TotalTickets(ctx, seasonID)
	if err != nil {
		return fmt.Errorf("position: read total tickets for season %d: %w", seasonID, err)
	}

	participants, err := h.chain.Participants(ctx, seasonID)
	if err != nil {
		return fmt.Errorf("position: read participants for season %d: %w", seasonID, err)
	}

	reads := h.readParticipantsBounded(ctx, seasonID, participants)

	for _, r := range reads {
		if r.err != nil {
			h.logger.Error("giving up on participant read after retries",
				slog.Int64("season_id", seasonID),
				slog.String("player", r.address),
				slog.String("error", r.err.Error()),
			)
			continue
		}

		newBps := domain.ProbabilityBps(r.tickets, totalTickets)

		existing, err := h.markets.GetMarket(ctx, seasonID, r.address, domain.WinnerPrediction)
		switch {
		case err == nil:
			if existing.CurrentProbabilityBps == newBps {
				continue // unchanged; nothing to write
			}
			if err := h.markets.UpdateMarketProbability(ctx, existing.ID, newBps); err != nil {
				h.logger.Error("failed to persist probability",
					slog.Int64("market_id", existing.ID), slog.String("error", err.Error()))
				continue
			}
			if newBps < h.minProbabilityBps {
				continue
			}
			if h.oracle != nil {
				if err := h.oracle.UpdateRaffleProbability(ctx, existing.ID, newBps); err != nil {
					h.logger.Error("oracle update failed",
						slog.Int64("market_id", existing.ID), slog.String("error", err.Error()))
				}
			}
		case errors.Is(err, domain.ErrNotFound):
			if newBps >= h.minProbabilityBps && h.onCross != nil {
				old := oldTickets
				newT := r.tickets
				if r.address != triggeringPlayer {
					old, newT = big.NewInt(0), r.tickets
				}
				h.onCross(ctx, seasonID, r.address, old, newT, totalTickets)
			}
		default:
			h.logger.Error("market lookup failed",
				slog.Int64("season_id", seasonID), slog.String("player", r.address), slog.String("error", err.Error()))
		}
	}

	return nil
}

// readParticipantsBounded reads every participant's ticket count with at
// most readBatchSize concurrent chain calls in flight, retrying each
// participant up to maxParticipantReadAttempts times before giving up on it
// (spec.md §4.C5 step 2 and "Failure").
func (h *Handler) readParticipantsBounded(ctx context.Context, seasonID int64, participants []string) []participantRead {
	out := make([]participantRead, len(participants))
	sem := make(chan struct{}, h.readBatchSize)
	var wg sync.WaitGroup

	for i, addr := range participants {
		i, addr := i, addr
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			out[i] = h.readOneParticipant(ctx, seasonID, addr)
		}()
	}
	wg.Wait()
	return out
}

func (h *Handler) readOneParticipant(ctx context.Context, seasonID int64, addr string) participantRead {
	var lastErr error
	for attempt := 1; attempt <= maxParticipantReadAttempts; attempt++ {
		tickets, err := h.chain.ParticipantTicketCount(ctx, seasonID, addr)
		if err == nil {
			return participantRead{address: addr, tickets: tickets}
		}
		lastErr = err
		h.logger.Warn("participant ticket read failed, retrying",
			slog.Int64("season_id", seasonID),
			slog.String("player", addr),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return participantRead{address: addr, err: lastErr}
}
