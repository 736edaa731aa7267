// cmd/vaultd: the vault service.
// Wires the conversion engine, the price oracle, the three ledger books,
// the SQLite journal, the Redis event publisher, the WebSocket gateway
// and the HTTP API into one process.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"pegvault/config"
	"pegvault/internal/alert"
	"pegvault/internal/api"
	"pegvault/internal/events"
	"pegvault/internal/gateway"
	"pegvault/internal/journal"
	"pegvault/internal/logger"
	"pegvault/internal/metrics"
	"pegvault/internal/model"
	"pegvault/internal/oracle"
	"pegvault/internal/token"
	"pegvault/internal/vault"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[vaultd] starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[vaultd] config: %v", err)
	}
	slogger := logger.Init("vaultd", slog.LevelInfo)

	owner := model.Address(cfg.OwnerAddr)
	vaultID := model.Address(cfg.VaultAddr)
	oracleID := model.Address(cfg.OracleAddr)

	// ---- Ledger books ----
	pegged := token.NewBook("USDP", owner)
	native := token.NewBook("TRX", owner)
	stable := token.NewBook("USDT", owner)
	if err := pegged.SetMinter(owner, vaultID); err != nil {
		log.Fatalf("[vaultd] set minter: %v", err)
	}

	// Genesis reserve balances for the owner.
	if cfg.GenesisNative > 0 {
		native.Mint(owner, owner, cfg.GenesisNative)
	}
	if cfg.GenesisStable > 0 {
		stable.Mint(owner, owner, cfg.GenesisStable)
	}

	// ---- Engines ----
	v, err := vault.New(vault.Config{
		Identity:        vaultID,
		Owner:           owner,
		FeeCollector:    model.Address(cfg.FeeCollectorAddr),
		PriceSource:     oracleID,
		BuyFeeBps:       cfg.BuyFeeBps,
		SellFeeBps:      cfg.SellFeeBps,
		InitialRate:     cfg.InitialRate,
		MaxDeviationBps: cfg.MaxDeviationBps,
		MinUpdatePeriod: cfg.MinUpdateInterval,
	}, pegged.AsCaller(vaultID), native.AsCaller(vaultID), stable.AsCaller(vaultID))
	if err != nil {
		log.Fatalf("[vaultd] vault init: %v", err)
	}

	o, err := oracle.New(oracle.Config{
		Identity:          oracleID,
		Owner:             owner,
		InitialRate:       cfg.InitialRate,
		MaxDeviationBps:   cfg.MaxDeviationBps,
		MinUpdateInterval: cfg.MinUpdateInterval,
	})
	if err != nil {
		log.Fatalf("[vaultd] oracle init: %v", err)
	}
	if err := o.SetVault(owner, v); err != nil {
		log.Fatalf("[vaultd] bind oracle to vault: %v", err)
	}
	if err := o.AddUpdater(owner, model.Address(cfg.FeederAddr)); err != nil {
		log.Fatalf("[vaultd] add feeder updater: %v", err)
	}

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Event sinks ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	jrnl, err := journal.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[vaultd] journal init: %v", err)
	}
	defer jrnl.Close()
	health.SetSQLiteOK(true)

	targets := []model.EventPublisher{jrnl}
	var redisPub *events.RedisPublisher
	redisPub, err = events.NewRedisPublisher(events.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[vaultd] WARNING: redis init failed: %v (continuing without pub/sub)", err)
		health.SetRedisConnected(false)
	} else {
		redisPub.OnDrop = func(kind string) {
			prom.EventDropsTotal.WithLabelValues("redis").Inc()
		}
		targets = append(targets, redisPub)
		health.SetRedisConnected(true)
	}

	fanout := &events.Fanout{
		Targets: targets,
		OnError: func(err error) {
			slogger.Warn("event delivery failed", "error", err)
			prom.EventDropsTotal.WithLabelValues("fanout").Inc()
		},
	}
	v.SetEventPublisher(fanout)
	o.SetEventPublisher(fanout)

	// Reject hooks feed the reject counters.
	v.OnReject = func(op string, err error) {
		prom.RejectsTotal.WithLabelValues(op, rejectLabel(err)).Inc()
	}
	o.OnReject = func(op string, err error) {
		prom.PriceRejectsTotal.WithLabelValues(rejectLabel(err)).Inc()
	}

	// ---- Liveness checks ----
	var rdb = redisClientOrNil(redisPub)
	health.StartLivenessChecker(ctx, rdb, jrnl.DB(), 15*time.Second)

	// ---- Gauge refresher ----
	go refreshGauges(ctx, v, pegged, prom, health)

	// ---- Operational alerting ----
	notifiers := alert.Multi{alert.NewLogNotifier()}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, alert.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, alert.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	watcher := alert.NewWatcher(v, notifiers, cfg.PriceStaleAfter, cfg.AlertInterval)
	go watcher.Run(ctx)

	// ---- WebSocket gateway ----
	if rdb != nil {
		hub := gateway.NewHub(rdb)
		go hub.Run(ctx)

		gwMux := http.NewServeMux()
		gwMux.HandleFunc("/ws", hub.ServeWS)
		gwSrv := &http.Server{Addr: cfg.GatewayAddr, Handler: gwMux}
		go func() {
			log.Printf("[vaultd] gateway listening on %s", cfg.GatewayAddr)
			if err := gwSrv.ListenAndServe(); err != http.ErrServerClosed {
				log.Printf("[vaultd] gateway error: %v", err)
			}
		}()
		defer gwSrv.Shutdown(context.Background())
	}

	// ---- HTTP API ----
	apiSrv := api.NewServer(api.Config{
		Vault:           v,
		Oracle:          o,
		Pegged:          pegged,
		Native:          native,
		Stable:          stable,
		Journal:         jrnl,
		Metrics:         prom,
		AdminTOTPSecret: cfg.AdminTOTPSecret,
		Logger:          slogger,
	})
	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      apiSrv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[vaultd] api listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[vaultd] api server error: %v", err)
		}
	}()

	slogger.Info("vaultd ready",
		"http", cfg.HTTPAddr,
		"rate", cfg.InitialRate,
		"buy_fee_bps", cfg.BuyFeeBps,
		"sell_fee_bps", cfg.SellFeeBps,
	)

	// ---- Wait for shutdown ----
	sig := <-sigCh
	log.Printf("[vaultd] received %v, shutting down...", sig)
	cancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	httpSrv.Shutdown(shutCtx)
	metricsSrv.Stop(shutCtx)
	if redisPub != nil {
		redisPub.Close()
	}
	log.Println("[vaultd] stopped")
}

// refreshGauges samples engine state into Prometheus every few seconds.
func refreshGauges(ctx context.Context, v *vault.Vault, pegged *token.Book, prom *metrics.Metrics, health *metrics.HealthStatus) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rate, at := v.Rate()
			prom.RefRate.Set(float64(rate))
			prom.PriceAgeSeconds.Set(time.Since(at).Seconds())
			health.SetLastPriceTime(at)

			nat, stab := v.Reserves()
			prom.ReserveNative.Set(float64(nat))
			prom.ReserveStable.Set(float64(stab))
			prom.PeggedSupply.Set(float64(pegged.TotalSupply()))

			dNat, dStab := v.ReserveDrift()
			prom.ReserveDrift.WithLabelValues("native").Set(float64(dNat))
			prom.ReserveDrift.WithLabelValues("stable").Set(float64(dStab))
		}
	}
}

func redisClientOrNil(p *events.RedisPublisher) *goredis.Client {
	if p == nil {
		return nil
	}
	return p.Client()
}

// rejectLabel buckets an engine error into a metric label.
func rejectLabel(err error) string {
	switch {
	case errors.Is(err, model.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, model.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, model.ErrDeviationExceeded):
		return "deviation"
	case errors.Is(err, model.ErrInsufficientBalance):
		return "balance"
	case errors.Is(err, model.ErrInsufficientAllowance):
		return "allowance"
	case errors.Is(err, model.ErrInsufficientReserve):
		return "reserve"
	case errors.Is(err, model.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, model.ErrExternalCall):
		return "external_call"
	}
	return "other"
}
