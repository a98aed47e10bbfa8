package archives3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver, following ISP: it only
// needs a full-table snapshot read, not the rest of domain.CursorStore /
// domain.MarketStore.
// ---------------------------------------------------------------------------

// CursorSnapshotStore provides read access to every recorded cursor.
type CursorSnapshotStore interface {
	ListAllCursors(ctx context.Context) ([]domain.Cursor, error)
}

// MarketSnapshotStore provides read access to every market row.
type MarketSnapshotStore interface {
	ListAllMarkets(ctx context.Context) ([]domain.Market, error)
}

// uploader is the subset of Writer the archiver depends on, letting tests
// substitute an in-memory fake instead of reaching S3.
type uploader interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver periodically snapshots the cursors and markets tables to JSONL files
// in S3-compatible cold storage, for disaster recovery independent of the
// primary database. It never deletes rows from the primary store; pruning
// is a separate, explicit operation.
type Archiver struct {
	writer  uploader
	cursors CursorSnapshotStore
	markets MarketSnapshotStore
	logger  *slog.Logger
}

// NewArchiver builds an Archiver that uploads through writer.
func NewArchiver(writer *Writer, cursors CursorSnapshotStore, markets MarketSnapshotStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:  writer,
		cursors: cursors,
		markets: markets,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// Run snapshots on a ticker until ctx is cancelled. A failed snapshot is
// logged and retried on the next tick rather than aborting the loop.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) {
	a.logger.Info("cold backup archiver started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("cold backup archiver stopped")
			return
		case <-ticker.C:
			if err := a.SnapshotOnce(ctx); err != nil {
				a.logger.Error("snapshot failed", slog.String("error", err.Error()))
			}
		}
	}
}

// SnapshotOnce uploads one JSONL snapshot each of every cursor and every
// market row, keyed by the snapshot time.
func (a *Archiver) SnapshotOnce(ctx context.Context) error {
	now := time.Now().UTC()

	cursorCount, err := a.snapshotCursors(ctx, now)
	if err != nil {
		return err
	}
	marketCount, err := a.snapshotMarkets(ctx, now)
	if err != nil {
		return err
	}

	a.logger.Info("snapshot uploaded",
		slog.Int("cursors", cursorCount),
		slog.Int("markets", marketCount),
	)
	return nil
}

func (a *Archiver) snapshotCursors(ctx context.Context, at time.Time) (int, error) {
	cursors, err := a.cursors.ListAllCursors(ctx)
	if err != nil {
		return 0, fmt.Errorf("archives3: list cursors: %w", err)
	}
	if len(cursors) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(cursors)
	if err != nil {
		return 0, fmt.Errorf("archives3: marshal cursors: %w", err)
	}

	path := snapshotPath("cursors", at)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("archives3: upload cursors: %w", err)
	}
	return len(cursors), nil
}

func (a *Archiver) snapshotMarkets(ctx context.Context, at time.Time) (int, error) {
	markets, err := a.markets.ListAllMarkets(ctx)
	if err != nil {
		return 0, fmt.Errorf("archives3: list markets: %w", err)
	}
	if len(markets) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(markets)
	if err != nil {
		return 0, fmt.Errorf("archives3: marshal markets: %w", err)
	}

	path := snapshotPath("markets", at)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("archives3: upload markets: %w", err)
	}
	return len(markets), nil
}

// snapshotPath builds the S3 key for a snapshot file, partitioned by the
// day and time it was taken:
//
//	snapshots/cursors/2026-08-01T03-00-00Z.jsonl
//	snapshots/markets/2026-08-01T03-00-00Z.jsonl
func snapshotPath(kind string, at time.Time) string {
	return fmt.Sprintf("snapshots/%s/%s.jsonl", kind, at.Format("2006-01-02T15-04-05Z"))
}

// marshalJSONL serialises records as newline-delimited JSON (JSONL), one
// compact JSON object per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
