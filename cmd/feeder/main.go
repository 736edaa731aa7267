// cmd/feeder: the oracle price feeder.
// Consumes rate samples from an upstream WebSocket feed, smooths them with a
// sliding median, and submits the result to the vault service's oracle
// endpoint at a fixed cadence. Rejections (rate limit, deviation) are
// expected and logged, never retried early.
package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pegvault/config"
	"pegvault/internal/feed"
	"pegvault/internal/logger"
	"pegvault/pkg/feedclient"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[feeder] starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[feeder] config: %v", err)
	}
	slogger := logger.Init("feeder", slog.LevelInfo)

	agg := feed.NewAggregator(cfg.FeedWindowSize)

	client, err := feedclient.New(cfg.FeedURL, 10, 2*time.Second)
	if err != nil {
		log.Fatalf("[feeder] feed client: %v", err)
	}
	client.OnRate = func(s feedclient.RateSample) {
		agg.Add(s.Rate)
	}
	client.OnOpen = func() {
		slogger.Info("feed connected", "url", cfg.FeedURL)
	}
	client.OnReconnect = func(attempt int) {
		slogger.Warn("feed reconnecting", "attempt", attempt)
	}
	if err := client.Connect(); err != nil {
		log.Fatalf("[feeder] feed connect: %v", err)
	}
	defer client.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	submitURL := cfg.APIBaseURL + "/api/v1/oracle/price"
	httpClient := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(cfg.FeedInterval)
	defer ticker.Stop()

	slogger.Info("feeder ready",
		"feed", cfg.FeedURL,
		"submit", submitURL,
		"window", cfg.FeedWindowSize,
		"interval", cfg.FeedInterval.String(),
	)

	for {
		select {
		case sig := <-sigCh:
			log.Printf("[feeder] received %v, shutting down...", sig)
			return
		case <-ticker.C:
			rate, ok := agg.Median()
			if !ok {
				slogger.Debug("window not full yet, skipping submit")
				continue
			}
			submit(httpClient, submitURL, cfg.FeederAddr, rate, slogger)
		}
	}
}

// submit posts one oracle update. Non-2xx responses are logged with the
// server's error body.
func submit(c *http.Client, url, caller string, rate uint64, slogger *slog.Logger) {
	body, _ := json.Marshal(map[string]uint64{"rate": rate})
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		slogger.Error("build request failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caller", caller)

	resp, err := c.Do(req)
	if err != nil {
		slogger.Error("submit failed", "error", err)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		slogger.Info("price submitted", "rate", rate)
	case resp.StatusCode == http.StatusTooManyRequests:
		slogger.Debug("rate limited, will retry next tick", "rate", rate)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slogger.Warn("submit rejected",
			"status", resp.StatusCode,
			"rate", rate,
			"body", string(msg),
		)
	}
}
