// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	MetricsAddr   string `env:"METRICS_ADDR" envDefault:":9090"`
	GatewayAddr   string `env:"GATEWAY_ADDR" envDefault:":8081"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"data/ops.db"`

	// Identities. The vault and oracle addresses are the component
	// identities used for capability-bound ledger access and the
	// oracle-to-vault price push.
	OwnerAddr        string `env:"OWNER_ADDR" envDefault:"owner"`
	VaultAddr        string `env:"VAULT_ADDR" envDefault:"vault"`
	OracleAddr       string `env:"ORACLE_ADDR" envDefault:"oracle"`
	FeeCollectorAddr string `env:"FEE_COLLECTOR_ADDR" envDefault:"collector"`
	FeederAddr       string `env:"FEEDER_ADDR" envDefault:"feeder"`

	// Economics. Rates are USD-per-native scaled by 1e6, fees in basis
	// points.
	InitialRate uint64 `env:"INITIAL_RATE" envDefault:"3000000"`
	BuyFeeBps   uint64 `env:"BUY_FEE_BPS" envDefault:"50"`
	SellFeeBps  uint64 `env:"SELL_FEE_BPS" envDefault:"50"`

	// Price update bounds, applied to both the oracle and the vault's
	// owner bypass path unless overridden.
	MaxDeviationBps   uint64        `env:"MAX_DEVIATION_BPS" envDefault:"1000"`
	MinUpdateInterval time.Duration `env:"MIN_UPDATE_INTERVAL" envDefault:"1h"`

	// Genesis balances minted to the owner on a fresh start.
	GenesisNative uint64 `env:"GENESIS_NATIVE" envDefault:"1000000000000"`
	GenesisStable uint64 `env:"GENESIS_STABLE" envDefault:"1000000000000"`

	// Admin API protection
	AdminTOTPSecret string `env:"ADMIN_TOTP_SECRET"`

	// Operational alerting. Unset URLs/tokens disable the backend.
	AlertWebhookURL  string        `env:"ALERT_WEBHOOK_URL"`
	TelegramBotToken string        `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string        `env:"TELEGRAM_CHAT_ID"`
	PriceStaleAfter  time.Duration `env:"PRICE_STALE_AFTER" envDefault:"3h"`
	AlertInterval    time.Duration `env:"ALERT_INTERVAL" envDefault:"30s"`

	// Price feeder
	FeedURL        string        `env:"FEED_URL" envDefault:"ws://localhost:8082/ws"`
	FeedWindowSize int           `env:"FEED_WINDOW_SIZE" envDefault:"5"`
	FeedInterval   time.Duration `env:"FEED_INTERVAL" envDefault:"5s"`
	APIBaseURL     string        `env:"API_BASE_URL" envDefault:"http://localhost:8080"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engines themselves would refuse.
func (c *Config) Validate() error {
	if c.InitialRate == 0 {
		return fmt.Errorf("config: INITIAL_RATE must be nonzero")
	}
	if c.BuyFeeBps > 500 || c.SellFeeBps > 500 {
		return fmt.Errorf("config: fees capped at 500 bps (got buy=%d sell=%d)", c.BuyFeeBps, c.SellFeeBps)
	}
	if c.MaxDeviationBps > 3000 {
		return fmt.Errorf("config: MAX_DEVIATION_BPS capped at 3000 (got %d)", c.MaxDeviationBps)
	}
	if c.OwnerAddr == "" || c.VaultAddr == "" || c.OracleAddr == "" {
		return fmt.Errorf("config: owner, vault and oracle addresses must be set")
	}
	if c.FeedWindowSize <= 0 {
		return fmt.Errorf("config: FEED_WINDOW_SIZE must be positive")
	}
	return nil
}
