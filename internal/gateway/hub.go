// Package gateway fans audit events out from Redis pub/sub to WebSocket
// clients. Clients subscribe to the price, trade and admin streams; the hub
// keeps the latest envelope per channel for instant snapshots and a short
// backlog per channel for gap backfill.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"

	"pegvault/internal/model"
)

// Streams exposed to clients, keyed by short name.
var streamChannels = map[string]string{
	"price": model.ChannelPrice,
	"trade": model.ChannelTrade,
	"admin": model.ChannelAdmin,
}

// Hub manages WebSocket clients and Redis pub/sub fan-out.
type Hub struct {
	rdb *goredis.Client

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64

	// Per-channel backlogs for gap backfill
	backlogs map[string]*Backlog

	upgrader websocket.Upgrader
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates a Hub reading from the given Redis client.
func NewHub(rdb *goredis.Client) *Hub {
	return &Hub{
		rdb:         rdb,
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		backlogs:    make(map[string]*Backlog),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run subscribes to the event channels and routes messages until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) {
	channels := []string{model.ChannelPrice, model.ChannelTrade, model.ChannelAdmin}
	pubsub := h.rdb.Subscribe(ctx, channels...)
	defer pubsub.Close()

	log.Printf("[gateway] subscribed to %d pub/sub channels", len(channels))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}

// ServeWS upgrades an HTTP connection and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]bool),
	}
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	go client.sendInitialState(r.URL.Query().Get("last_ts"))
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
}

// LatestAll returns a snapshot of the latest envelope per channel.
func (h *Hub) LatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// ReplayRange returns backlogged envelopes for a channel in [fromSeq, toSeq].
func (h *Hub) ReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	bl, exists := h.backlogs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := bl.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// ChannelSeq returns the current sequence number for a channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
