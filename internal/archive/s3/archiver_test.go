package archives3

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

func discardTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCursorStore struct {
	cursors []domain.Cursor
}

func (f fakeCursorStore) ListAllCursors(context.Context) ([]domain.Cursor, error) {
	return f.cursors, nil
}

type fakeMarketStore struct {
	markets []domain.Market
}

func (f fakeMarketStore) ListAllMarkets(context.Context) ([]domain.Market, error) {
	return f.markets, nil
}

type capturingUploader struct {
	puts map[string][]byte
}

func newCapturingUploader() *capturingUploader {
	return &capturingUploader{puts: make(map[string][]byte)}
}

func (u *capturingUploader) Put(_ context.Context, path string, data io.Reader, _ string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	u.puts[path] = buf
	return nil
}

func TestSnapshotOnce_UploadsBothFilesWithJSONLRows(t *testing.T) {
	cursors := fakeCursorStore{cursors: []domain.Cursor{
		{NetworkKey: "base-sepolia", EventType: "PositionUpdated", LastBlock: 1000},
	}}
	markets := fakeMarketStore{markets: []domain.Market{
		{ID: 1, SeasonID: 9, PlayerAddress: "0xabc", MarketType: domain.WinnerPrediction},
	}}
	up := newCapturingUploader()

	a := &Archiver{writer: up, cursors: cursors, markets: markets, logger: discardTestLogger()}
	require.NoError(t, a.SnapshotOnce(context.Background()))

	assert.Len(t, up.puts, 2)

	var gotCursorFile, gotMarketFile bool
	for path, body := range up.puts {
		switch {
		case bytes.Contains([]byte(path), []byte("snapshots/cursors/")):
			gotCursorFile = true
			var c domain.Cursor
			require.NoError(t, json.Unmarshal(bytes.TrimSpace(body), &c))
			assert.Equal(t, "base-sepolia", c.NetworkKey)
		case bytes.Contains([]byte(path), []byte("snapshots/markets/")):
			gotMarketFile = true
			var m domain.Market
			require.NoError(t, json.Unmarshal(bytes.TrimSpace(body), &m))
			assert.Equal(t, int64(9), m.SeasonID)
		}
	}
	assert.True(t, gotCursorFile)
	assert.True(t, gotMarketFile)
}

func TestSnapshotOnce_SkipsEmptyTablesWithoutUploading(t *testing.T) {
	up := newCapturingUploader()
	a := &Archiver{writer: up, cursors: fakeCursorStore{}, markets: fakeMarketStore{}, logger: discardTestLogger()}

	require.NoError(t, a.SnapshotOnce(context.Background()))
	assert.Empty(t, up.puts)
}
