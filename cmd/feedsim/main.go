// cmd/feedsim: demo WebSocket price feed.
// Broadcasts simulated TRX/USD rate samples for running the feeder without a
// real upstream feed.
//
// Frame shape matches feedclient.RateSample:
//
//	{"pair":"TRX/USD","rate":3012345,"ts":"..."}
//
// Rate is USD per native unit scaled by 1e6.
//
// Config (env vars):
//
//	FEEDSIM_ADDR         listen address (default: ":8082")
//	FEEDSIM_PAIR         pair label (default: "TRX/USD")
//	FEEDSIM_START_RATE   starting rate (default: "3000000")
//	FEEDSIM_INTERVAL_MS  broadcast interval milliseconds (default: "1000")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type rateMsg struct {
	Pair string    `json:"pair"`
	Rate uint64    `json:"rate"`
	TS   time.Time `json:"ts"`
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop sample
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[feedsim] upgrade error: %v", err)
			return
		}
		log.Printf("[feedsim] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[feedsim] client disconnected: %s", r.RemoteAddr)
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// walkRate applies a tiny random walk (±0.1%) to simulate price movement.
func walkRate(rate uint64) uint64 {
	pct := (rand.Float64()*0.2 - 0.1) / 100.0
	delta := int64(float64(rate) * pct)
	next := int64(rate) + delta
	if next < 1000 {
		next = 1000
	}
	return uint64(next)
}

func runGenerator(h *hub, pair string, startRate uint64, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	rate := startRate
	for range ticker.C {
		rate = walkRate(rate)
		b, err := json.Marshal(rateMsg{Pair: pair, Rate: rate, TS: time.Now().UTC()})
		if err != nil {
			continue
		}
		h.broadcast(b)
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[feedsim] starting demo price feed...")

	addr := envOrDefault("FEEDSIM_ADDR", ":8082")
	pair := envOrDefault("FEEDSIM_PAIR", "TRX/USD")
	startRate := uint64(envIntOrDefault("FEEDSIM_START_RATE", 3_000_000))
	intervalMs := envIntOrDefault("FEEDSIM_INTERVAL_MS", 1000)

	log.Printf("[feedsim] pair=%s start_rate=%d interval=%dms", pair, startRate, intervalMs)

	h := newHub()
	go runGenerator(h, pair, startRate, intervalMs)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"feedsim"}`)
	})

	log.Printf("[feedsim] listening on %s  (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[feedsim] server error: %v", err)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
