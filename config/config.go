package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the pipeline.
type Config struct {
	// Persistence
	DatabaseURL   string
	SkipDB        bool   // true → repository backed by the HTTP gateway
	GatewayAPIURL string // gateway base URL when SkipDB is set

	// Redis
	RedisURL string

	// Exchange endpoints
	CLOBWSSURL  string
	CLOBAPIURL  string
	GammaAPIURL string
	DataAPIURL  string

	// CLOB credentials
	CLOBApiKey     string
	CLOBApiSecret  string
	CLOBPassphrase string
	FunderAddress  string

	// Poller
	PollInterval time.Duration

	// WebSocket streamer
	WSReconnectBackoffMin time.Duration
	WSReconnectBackoffMax time.Duration
	WSMaxSubscriptions    int

	// Webhook ingress
	WebhookListenHost string
	WebhookListenPort int

	// Bridge
	BridgeWebhookURL          string
	BridgeCopyTradeWebhookURL string
	BridgeTradePattern        string

	// Monitors
	TPSLCheckInterval  time.Duration
	SmartSyncInterval  time.Duration
	WatchInterval      time.Duration
	WatchSmartActivity bool

	// Copy trading
	MinCopyAmountUSD        decimal.Decimal
	MinAllocationPercentage decimal.Decimal
	MaxAllocationPercentage decimal.Decimal

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Observability
	MetricsAddr string
	Debug       bool
}

// Load reads .env (when present), binds environment variables and returns a
// validated Config.
func Load() (*Config, error) {
	godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	// An env var explicitly set to "" must override the default, not fall
	// through to it; Validate relies on seeing the empty value.
	v.AllowEmptyEnv(true)

	setDefaults(v)

	cfg := &Config{
		DatabaseURL:   v.GetString("DATABASE_URL"),
		SkipDB:        v.GetBool("SKIP_DB"),
		GatewayAPIURL: v.GetString("GATEWAY_API_URL"),

		RedisURL: v.GetString("REDIS_URL"),

		CLOBWSSURL:  v.GetString("CLOB_WSS_URL"),
		CLOBAPIURL:  v.GetString("CLOB_API_URL"),
		GammaAPIURL: v.GetString("GAMMA_API_URL"),
		DataAPIURL:  v.GetString("DATA_API_URL"),

		CLOBApiKey:     v.GetString("POLY_API_KEY"),
		CLOBApiSecret:  v.GetString("POLY_API_SECRET"),
		CLOBPassphrase: v.GetString("POLY_PASSPHRASE"),
		FunderAddress:  v.GetString("FUNDER_ADDRESS"),

		PollInterval: time.Duration(v.GetInt("POLL_MS")) * time.Millisecond,

		WSReconnectBackoffMin: time.Duration(v.GetInt("WS_RECONNECT_BACKOFF_MIN")) * time.Millisecond,
		WSReconnectBackoffMax: time.Duration(v.GetInt("WS_RECONNECT_BACKOFF_MAX")) * time.Millisecond,
		WSMaxSubscriptions:    v.GetInt("WS_MAX_SUBSCRIPTIONS"),

		WebhookListenHost: v.GetString("WEBHOOK_LISTEN_HOST"),
		WebhookListenPort: v.GetInt("WEBHOOK_LISTEN_PORT"),

		BridgeWebhookURL:          v.GetString("REDIS_BRIDGE_WEBHOOK_URL"),
		BridgeCopyTradeWebhookURL: v.GetString("REDIS_BRIDGE_COPY_TRADE_WEBHOOK_URL"),
		BridgeTradePattern:        v.GetString("REDIS_BRIDGE_TRADE_PATTERN"),

		TPSLCheckInterval:  time.Duration(v.GetInt("TPSL_CHECK_INTERVAL_SEC")) * time.Second,
		SmartSyncInterval:  time.Duration(v.GetInt("SMART_SYNC_INTERVAL_SEC")) * time.Second,
		WatchInterval:      time.Duration(v.GetInt("WATCH_INTERVAL_SEC")) * time.Second,
		WatchSmartActivity: v.GetBool("WATCH_SMART_ACTIVITY"),

		TelegramToken:  v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: v.GetInt64("TELEGRAM_CHAT_ID"),

		MetricsAddr: v.GetString("METRICS_ADDR"),
		Debug:       v.GetBool("DEBUG"),
	}

	var err error
	if cfg.MinCopyAmountUSD, err = getDecimal(v, "MIN_COPY_AMOUNT_USD"); err != nil {
		return nil, err
	}
	if cfg.MinAllocationPercentage, err = getDecimal(v, "MIN_ALLOCATION_PERCENTAGE"); err != nil {
		return nil, err
	}
	if cfg.MaxAllocationPercentage, err = getDecimal(v, "MAX_ALLOCATION_PERCENTAGE"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SKIP_DB", false)
	v.SetDefault("GATEWAY_API_URL", "http://localhost:8080")

	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")

	v.SetDefault("CLOB_WSS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("CLOB_API_URL", "https://clob.polymarket.com")
	v.SetDefault("GAMMA_API_URL", "https://gamma-api.polymarket.com")
	v.SetDefault("DATA_API_URL", "https://data-api.polymarket.com")

	v.SetDefault("POLL_MS", 60000)

	v.SetDefault("WS_RECONNECT_BACKOFF_MIN", 1000)
	v.SetDefault("WS_RECONNECT_BACKOFF_MAX", 8000)
	v.SetDefault("WS_MAX_SUBSCRIPTIONS", 3000)

	v.SetDefault("WEBHOOK_LISTEN_HOST", "0.0.0.0")
	v.SetDefault("WEBHOOK_LISTEN_PORT", 8077)

	v.SetDefault("REDIS_BRIDGE_WEBHOOK_URL", "http://localhost:8077/wh/market")
	v.SetDefault("REDIS_BRIDGE_COPY_TRADE_WEBHOOK_URL", "http://localhost:8077/wh/copy_trade")
	v.SetDefault("REDIS_BRIDGE_TRADE_PATTERN", "trade.*")

	v.SetDefault("TPSL_CHECK_INTERVAL_SEC", 10)
	v.SetDefault("SMART_SYNC_INTERVAL_SEC", 60)
	v.SetDefault("WATCH_INTERVAL_SEC", 60)
	v.SetDefault("WATCH_SMART_ACTIVITY", false)

	v.SetDefault("MIN_COPY_AMOUNT_USD", "1")
	v.SetDefault("MIN_ALLOCATION_PERCENTAGE", "1")
	v.SetDefault("MAX_ALLOCATION_PERCENTAGE", "100")

	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("TELEGRAM_CHAT_ID", 0)

	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("DEBUG", false)
}

func getDecimal(v *viper.Viper, key string) (decimal.Decimal, error) {
	raw := v.GetString(key)
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s=%q is not a decimal: %w", key, raw, err)
	}
	return d, nil
}

// Validate rejects inconsistent settings early.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_MS must be positive")
	}
	if c.WSReconnectBackoffMin <= 0 || c.WSReconnectBackoffMax < c.WSReconnectBackoffMin {
		return fmt.Errorf("WS reconnect backoff window [%s, %s] is invalid",
			c.WSReconnectBackoffMin, c.WSReconnectBackoffMax)
	}
	if c.WSMaxSubscriptions <= 0 {
		return fmt.Errorf("WS_MAX_SUBSCRIPTIONS must be positive")
	}
	if c.WebhookListenPort <= 0 || c.WebhookListenPort > 65535 {
		return fmt.Errorf("WEBHOOK_LISTEN_PORT %d out of range", c.WebhookListenPort)
	}
	if c.TPSLCheckInterval <= 0 || c.SmartSyncInterval <= 0 || c.WatchInterval <= 0 {
		return fmt.Errorf("monitor intervals must be positive")
	}
	if c.MinCopyAmountUSD.IsNegative() {
		return fmt.Errorf("MIN_COPY_AMOUNT_USD must not be negative")
	}
	if c.MinAllocationPercentage.LessThanOrEqual(decimal.Zero) ||
		c.MaxAllocationPercentage.GreaterThan(decimal.NewFromInt(100)) ||
		c.MinAllocationPercentage.GreaterThan(c.MaxAllocationPercentage) {
		return fmt.Errorf("allocation percentage window (%s, %s] is invalid",
			c.MinAllocationPercentage, c.MaxAllocationPercentage)
	}
	if c.SkipDB && c.GatewayAPIURL == "" {
		return fmt.Errorf("SKIP_DB requires GATEWAY_API_URL")
	}
	if !c.SkipDB && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required unless SKIP_DB is set")
	}
	return nil
}

// WebhookAddr is the ingress listen address.
func (c *Config) WebhookAddr() string {
	return fmt.Sprintf("%s:%d", c.WebhookListenHost, c.WebhookListenPort)
}
