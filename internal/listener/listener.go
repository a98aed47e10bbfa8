// Package listener implements the per-event-type chain listener set
// (spec.md §4.C4): a polling loop tolerant of unreliable RPC endpoints that
// reads logs via the chain client, decodes them, and invokes an idempotent
// handler before advancing its own durable cursor.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

// ChainReader is the subset of *chainclient.Client a Listener needs. Kept
// narrow so listeners can be tested against a fake.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, address common.Address, fromBlock, toBlock uint64, topics [][]common.Hash, maxChunk, minChunk uint64) ([]ethtypes.Log, error)
}

// Handler processes a single decoded log. Implementations MUST be
// idempotent on (blockNumber, logIndex): a listener may redeliver the same
// log after a restart (spec.md §4.C4).
type Handler func(ctx context.Context, log ethtypes.Log) error

// Config configures a single event-type Listener.
type Config struct {
	NetworkKey    string
	EventType     string // used as the cursor key and in logs, e.g. "PositionUpdate"
	Address       common.Address
	EventABI      abi.Event
	PollInterval  time.Duration
	MaxChunk      uint64
	MinChunk      uint64
	LookbackBlock uint64 // defaultLookbackBlocks, used only when no cursor exists
}

// Listener runs the poll loop for a single contract event type.
type Listener struct {
	cfg     Config
	chain   ChainReader
	cursors domain.CursorStore
	handler Handler
	logger  *slog.Logger
}

// New creates a Listener for a single event type.
func New(cfg Config, chain ChainReader, cursors domain.CursorStore, handler Handler, logger *slog.Logger) *Listener {
	return &Listener{
		cfg:     cfg,
		chain:   chain,
		cursors: cursors,
		handler: handler,
		logger:  logger.With(slog.String("listener", cfg.EventType)),
	}
}

// Run executes the poll loop until ctx is cancelled. A transient fetch or
// handler error sleeps for the poll interval and retries from the same
// fromBlock; the cursor only advances once every log in the attempted range
// is handled successfully (spec.md §4.C4 step 4).
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info("listener starting",
		slog.Duration("poll_interval", l.cfg.PollInterval),
		slog.Uint64("max_chunk", l.cfg.MaxChunk),
		slog.Uint64("min_chunk", l.cfg.MinChunk),
	)

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := l.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, domain.ErrRpcFatal) {
				return fmt.Errorf("listener %s: fatal: %w", l.cfg.EventType, err)
			}
			l.logger.Warn("poll failed, will retry", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			l.logger.Info("listener stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// pollOnce executes one iteration of the loop described in spec.md §4.C4.
func (l *Listener) pollOnce(ctx context.Context) error {
	current, err := l.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetch current block: %w", err)
	}

	fromBlock, err := l.resolveFromBlock(ctx, current)
	if err != nil {
		return err
	}

	if current < fromBlock {
		return nil // nothing new yet; caller sleeps one poll interval
	}

	topics := [][]common.Hash{{l.cfg.EventABI.ID}}
	logs, err := l.chain.GetLogs(ctx, l.cfg.Address, fromBlock, current, topics, l.cfg.MaxChunk, l.cfg.MinChunk)
	if err != nil {
		return fmt.Errorf("get logs [%d,%d]: %w", fromBlock, current, err)
	}

	for _, lg := range logs {
		if lg.Removed {
			continue // reorged out; the chain's own re-emission will be redelivered
		}
		if err := l.handler(ctx, lg); err != nil {
			return fmt.Errorf("handle log block=%d index=%d: %w", lg.BlockNumber, lg.Index, err)
		}
	}

	if err := l.cursors.SetCursor(ctx, l.cfg.NetworkKey, l.cfg.EventType, current); err != nil {
		return fmt.Errorf("advance cursor to %d: %w", current, err)
	}
	return nil
}

func (l *Listener) resolveFromBlock(ctx context.Context, current uint64) (uint64, error) {
	cursor, ok, err := l.cursors.GetCursor(ctx, l.cfg.NetworkKey, l.cfg.EventType)
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	if !ok {
		if current > l.cfg.LookbackBlock {
			return current - l.cfg.LookbackBlock, nil
		}
		return 0, nil
	}
	return cursor + 1, nil
}

// DecodeEvent unpacks log into out (a pointer to a struct with fields
// matching the event's non-indexed arguments by name, as go-ethereum's
// abi.ToCamelCase spells them: seasonId -> SeasonId) using contractABI,
// and separately fills indexed topic arguments via bind.ParseTopics. This
// mirrors the split go-ethereum itself requires between log.Data (ABI
// encoded) and log.Topics (indexed arguments, not ABI encoded).
func DecodeEvent(contractABI abi.ABI, eventName string, log ethtypes.Log, out interface{}) error {
	if len(log.Data) > 0 {
		if err := contractABI.UnpackIntoInterface(out, eventName, log.Data); err != nil {
			return fmt.Errorf("listener: unpack %s data: %w", eventName, err)
		}
	}

	event, ok := contractABI.Events[eventName]
	if !ok {
		return fmt.Errorf("listener: unknown event %q", eventName)
	}

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(indexed) == 0 {
		return nil
	}
	if err := bind.ParseTopics(out, indexed, log.Topics[1:]); err != nil {
		return fmt.Errorf("listener: parse topics for %s: %w", eventName, err)
	}
	return nil
}
