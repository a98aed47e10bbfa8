// Package stream implements the Price Stream Hub (spec.md §4.C8): an
// in-process, single-writer cache of blended prices fed by the oracle's
// PriceUpdated event (via C4), fanned out to WebSocket subscribers. The
// transport is adapted from the teacher's internal/server/ws hub: the same
// register/unregister/broadcast channel loop and read/write pump pair,
// retargeted from a Redis channel-string bus to a marketId-keyed cache with
// an ALL wildcard bucket.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 90 * time.Second

	// heartbeatPeriod is the fixed subscriber keepalive cadence (spec.md
	// §4.C8: "a heartbeat is sent to each subscriber at a fixed cadence,
	// default 30s").
	heartbeatPeriod = 30 * time.Second

	// maxMessageSize bounds incoming client frames (subscribe requests).
	maxMessageSize = 4096

	// sendBufferSize is the per-subscriber outgoing channel buffer. A full
	// buffer means the subscriber is slow; it is dropped rather than
	// backing up the hub (spec.md §4.C8 "Fan-out contract").
	sendBufferSize = 64

	// allMarkets is the wildcard subscription bucket key.
	allMarkets = "ALL"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Entry is the cached blended-price state for one market.
type Entry struct {
	MarketID        int64     `json:"marketId"`
	RaffleBps       int64     `json:"raffleBps"`
	MarketBps       int64     `json:"marketBps"`
	HybridBps       int64     `json:"hybridBps"`
	RaffleWeightBps int64     `json:"raffleWeightBps"`
	MarketWeightBps int64     `json:"marketWeightBps"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type subscribeMsg struct {
	Action   string `json:"action"` // "subscribe" or "unsubscribe"
	MarketID *int64 `json:"marketId"`
	All      bool   `json:"all"`
}

// client is a single WebSocket connection and its subscription set.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // keys are marketId-as-string, or allMarkets
	mu   sync.RWMutex
}

// Hub owns the price cache and the set of connected subscribers. The cache
// is single-writer: only OnOraclePriceUpdated mutates it.
type Hub struct {
	mu      sync.RWMutex
	cache   map[int64]Entry
	clients map[*client]bool

	register   chan *client
	unregister chan *client
	broadcast  chan broadcastMsg

	logger *slog.Logger
}

type broadcastMsg struct {
	marketID int64
	data     []byte
}

// New creates a Hub. Run must be called for it to process events.
func New(logger *slog.Logger) *Hub {
	return &Hub{
		cache:      make(map[int64]Entry),
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan broadcastMsg, 256),
		logger:     logger.With(slog.String("component", "price_stream_hub")),
	}
}

// Run drives the hub's event loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*client]bool)
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("subscriber connected", slog.Int("total_subscribers", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("subscriber disconnected", slog.Int("total_subscribers", n))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if c.isSubscribed(msg.marketID) {
					select {
					case c.send <- msg.data:
					default:
						// Remove the slow subscriber and close its connection;
						// its pumps then exit on their next read or write.
						delete(h.clients, c)
						c.conn.Close()
						h.logger.Warn("dropping slow subscriber")
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// OnOraclePriceUpdated updates the cache for marketID and fans the new
// value out to subscribers (spec.md §4.C8 onOraclePriceUpdated).
func (h *Hub) OnOraclePriceUpdated(marketID int64, raffleBps, marketBps, hybridBps, raffleWeightBps, marketWeightBps int64) {
	entry := Entry{
		MarketID:        marketID,
		RaffleBps:       raffleBps,
		MarketBps:       marketBps,
		HybridBps:       hybridBps,
		RaffleWeightBps: raffleWeightBps,
		MarketWeightBps: marketWeightBps,
		UpdatedAt:       time.Now().UTC(),
	}

	h.mu.Lock()
	h.cache[marketID] = entry
	h.mu.Unlock()

	data, err := json.Marshal(envelope{Type: "update", Payload: entry})
	if err != nil {
		h.logger.Error("marshal price update failed", slog.String("error", err.Error()))
		return
	}
	h.broadcast <- broadcastMsg{marketID: marketID, data: data}
}

// Snapshot returns the cached entry for marketID, or ok=false if none.
func (h *Hub) Snapshot(marketID int64) (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.cache[marketID]
	return e, ok
}

// HandleWS upgrades an HTTP request to a WebSocket connection. GET /ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{allMarkets: true}, // default to ALL, per spec.md §4.C8 subscribe(marketId | ALL, sink)
	}

	h.register <- c
	c.sendSeed()

	go c.writePump()
	go c.readPump()
}

func (c *client) sendSeed() {
	c.mu.RLock()
	all := c.subs[allMarkets]
	ids := make([]int64, 0, len(c.subs))
	for k := range c.subs {
		if k == allMarkets {
			continue
		}
		if id, err := strconv.ParseInt(k, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if all {
		for _, e := range c.hub.cache {
			c.sendEntry(e)
		}
		return
	}
	for _, id := range ids {
		if e, ok := c.hub.cache[id]; ok {
			c.sendEntry(e)
		}
	}
}

func (c *client) sendEntry(e Entry) {
	data, err := json.Marshal(envelope{Type: "initial", Payload: e})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func marketIDKey(marketID int64) string {
	return strconv.FormatInt(marketID, 10)
}

func (c *client) isSubscribed(marketID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[allMarkets] {
		return true
	}
	return c.subs[marketIDKey(marketID)]
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected websocket close", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err != nil {
			continue
		}
		c.handleSubscription(sub)
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var key string
	if msg.All {
		key = allMarkets
	} else if msg.MarketID != nil {
		key = marketIDKey(*msg.MarketID)
	} else {
		return
	}

	switch msg.Action {
	case "subscribe":
		c.subs[key] = true
	case "unsubscribe":
		delete(c.subs, key)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(heartbeatPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
