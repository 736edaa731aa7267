// Package feedclient is a reconnecting WebSocket client for upstream price
// feeds. The feed delivers rate samples as JSON text frames:
//
//	{"pair":"TRX/USD","rate":3012345,"ts":"2026-08-30T12:00:00Z"}
//
// Rate is USD per native unit scaled by 1e6. The client handles heartbeat
// pings and reconnects with exponential backoff.
package feedclient

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const heartbeatInterval = 10 * time.Second

// RateSample is one upstream price observation.
type RateSample struct {
	Pair string    `json:"pair"`
	Rate uint64    `json:"rate"`
	TS   time.Time `json:"ts"`
}

// Client maintains a WebSocket connection to the feed.
type Client struct {
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	// retry config
	maxRetries int
	retryDelay time.Duration

	// Callbacks
	OnRate      func(s RateSample)
	OnOpen      func()
	OnClose     func()
	OnReconnect func(attempt int)

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a feed client for the given ws:// URL.
func New(url string, maxRetries int, retryDelay time.Duration) (*Client, error) {
	if url == "" {
		return nil, errors.New("feedclient: empty url")
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:        url,
		dialer:     websocket.DefaultDialer,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Connect dials the feed and starts the read and heartbeat loops.
func (c *Client) Connect() error {
	conn, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(3 * heartbeatInterval))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(3 * heartbeatInterval))

	go c.readLoop(conn)
	go c.heartbeatLoop(conn)

	if c.OnOpen != nil {
		c.OnOpen()
	}
	return nil
}

// Close shuts the connection down and stops reconnecting.
func (c *Client) Close() {
	c.cancel()
	c.mu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.mu.Unlock()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		if c.OnClose != nil {
			c.OnClose()
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[feedclient] read error: %v", err)
			c.reconnect()
			return
		}

		var sample RateSample
		if err := json.Unmarshal(msg, &sample); err != nil {
			log.Printf("[feedclient] bad frame: %v", err)
			continue
		}
		if sample.Rate == 0 {
			continue
		}
		if c.OnRate != nil {
			c.OnRate(sample)
		}
	}
}

func (c *Client) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reconnect retries with exponential backoff until it succeeds or the retry
// budget is spent.
func (c *Client) reconnect() {
	delay := c.retryDelay
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}

		if c.OnReconnect != nil {
			c.OnReconnect(attempt)
		}
		log.Printf("[feedclient] reconnect attempt %d/%d", attempt, c.maxRetries)
		if err := c.Connect(); err == nil {
			return
		}
		delay *= 2
	}
	log.Printf("[feedclient] giving up after %d attempts", c.maxRetries)
}
