package stream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func discardTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_SubscriberReceivesBroadcast(t *testing.T) {
	hub := New(discardTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	conn := dial(t, server)

	hub.OnOraclePriceUpdated(42, 2000, 1800, 1940, 7000, 3000)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"marketId":42`)
}

func TestHub_SnapshotReflectsLatestUpdate(t *testing.T) {
	hub := New(discardTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	hub.OnOraclePriceUpdated(1, 1000, 1100, 1030, 7000, 3000)
	time.Sleep(20 * time.Millisecond)

	entry, ok := hub.Snapshot(1)
	require.True(t, ok)
	require.Equal(t, int64(1030), entry.HybridBps)

	_, ok = hub.Snapshot(999)
	require.False(t, ok)
}

func TestHub_SubscribeToSpecificMarketFiltersOthers(t *testing.T) {
	hub := New(discardTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	conn := dial(t, server)
	marketID := int64(5)
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", All: true}))
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", MarketID: &marketID}))
	time.Sleep(50 * time.Millisecond) // let readPump process the subscription change

	hub.OnOraclePriceUpdated(999, 1, 1, 1, 7000, 3000) // not subscribed, should not arrive
	hub.OnOraclePriceUpdated(5, 2, 2, 2, 7000, 3000)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"marketId":5`)
}
