package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the vault service.
type Metrics struct {
	BuysTotal    *prometheus.CounterVec // labels: method
	SellsTotal   *prometheus.CounterVec // labels: method
	RejectsTotal *prometheus.CounterVec // labels: op, reason

	PriceUpdatesTotal *prometheus.CounterVec // labels: source
	PriceRejectsTotal *prometheus.CounterVec // labels: reason
	RefRate           prometheus.Gauge
	PriceAgeSeconds   prometheus.Gauge

	ReserveNative prometheus.Gauge
	ReserveStable prometheus.Gauge
	PeggedSupply  prometheus.Gauge
	ReserveDrift  *prometheus.GaugeVec // labels: currency

	EventDropsTotal   *prometheus.CounterVec // labels: target
	JournalWriteDur   prometheus.Histogram
	RedisPublishDur   prometheus.Histogram
	RedisBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBreakerTrips prometheus.Counter

	HTTPRequestDur *prometheus.HistogramVec // labels: route, code
	FeedUpdates    prometheus.Counter
	FeedReconnects prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		BuysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pegvault_buys_total",
			Help: "Accepted buy conversions (by payment method)",
		}, []string{"method"}),
		SellsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pegvault_sells_total",
			Help: "Accepted sell redemptions (by payout method)",
		}, []string{"method"}),
		RejectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pegvault_rejects_total",
			Help: "Rejected vault operations (by op and reason)",
		}, []string{"op", "reason"}),

		PriceUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pegvault_price_updates_total",
			Help: "Accepted reference price updates (by source)",
		}, []string{"source"}),
		PriceRejectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pegvault_price_rejects_total",
			Help: "Rejected price updates (rate_limited, deviation, unauthorized)",
		}, []string{"reason"}),
		RefRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pegvault_ref_rate",
			Help: "Current reference rate (USD per native unit, scaled 1e6)",
		}),
		PriceAgeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pegvault_price_age_seconds",
			Help: "Seconds since the last accepted price update",
		}),

		ReserveNative: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pegvault_reserve_native",
			Help: "Native reserve counter (commingled with fees)",
		}),
		ReserveStable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pegvault_reserve_stable",
			Help: "Stable reserve counter (commingled with fees)",
		}),
		PeggedSupply: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pegvault_pegged_supply",
			Help: "Total pegged token supply",
		}),
		ReserveDrift: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pegvault_reserve_drift",
			Help: "Reserve counter minus actually-held ledger balance",
		}, []string{"currency"}),

		EventDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pegvault_event_drops_total",
			Help: "Audit events dropped by a publish target",
		}, []string{"target"}),
		JournalWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pegvault_journal_write_duration_seconds",
			Help:    "SQLite journal insert latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisPublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pegvault_redis_publish_duration_seconds",
			Help:    "Redis pub/sub publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pegvault_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pegvault_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		HTTPRequestDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pegvault_http_request_duration_seconds",
			Help:    "API request latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"route", "code"}),
		FeedUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pegvault_feed_updates_total",
			Help: "Rate samples received from the upstream price feed",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pegvault_feed_reconnects_total",
			Help: "Upstream feed WebSocket reconnection attempts",
		}),
	}

	prometheus.MustRegister(
		m.BuysTotal,
		m.SellsTotal,
		m.RejectsTotal,
		m.PriceUpdatesTotal,
		m.PriceRejectsTotal,
		m.RefRate,
		m.PriceAgeSeconds,
		m.ReserveNative,
		m.ReserveStable,
		m.PeggedSupply,
		m.ReserveDrift,
		m.EventDropsTotal,
		m.JournalWriteDur,
		m.RedisPublishDur,
		m.RedisBreakerState,
		m.RedisBreakerTrips,
		m.HTTPRequestDur,
		m.FeedUpdates,
		m.FeedReconnects,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	LastPriceTime  time.Time `json:"last_price_time"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastPriceTime(t time.Time) {
	h.mu.Lock()
	h.LastPriceTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	// Price staleness
	priceAge := ""
	if !h.LastPriceTime.IsZero() {
		priceAge = time.Since(h.LastPriceTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastPriceTime   string  `json:"last_price_time"`
		PriceAge        string  `json:"price_age"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastPriceTime:   h.LastPriceTime.Format(time.RFC3339),
		PriceAge:        priceAge,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
