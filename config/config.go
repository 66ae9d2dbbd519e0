// Package config loads tradebot settings from a YAML file, an optional .env
// file and environment variables, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tradebot/internal/backtest"
	"tradebot/internal/risk"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete tradebot configuration.
type Config struct {
	Market   MarketConfig    `yaml:"market"`
	Backtest backtest.Config `yaml:"backtest"`
	Trader   TraderConfig    `yaml:"trader"`
	Exchange ExchangeConfig  `yaml:"exchange"`
	Storage  StorageConfig   `yaml:"storage"`
	Redis    RedisConfig     `yaml:"redis"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Gateway  GatewayConfig   `yaml:"gateway"`
	Notify   NotifyConfig    `yaml:"notify"`
	Log      LogConfig       `yaml:"log"`
}

// MarketConfig selects the instrument and where its bars come from.
type MarketConfig struct {
	Symbol    string `yaml:"symbol"`    // e.g. BTC/USDT
	Timeframe string `yaml:"timeframe"` // e.g. 1h
	Source    string `yaml:"source"`    // csv | rest | sqlite
	CSVPath   string `yaml:"csv_path"`
	Start     string `yaml:"start"` // RFC3339 or 2006-01-02, optional
	End       string `yaml:"end"`
	Limit     int    `yaml:"limit"`
	// Resample, when set, merges fetched bars into this longer timeframe
	// before backtesting, e.g. 1h bars into 4h.
	Resample string `yaml:"resample"`
}

// TraderConfig controls the live/paper trading loop.
type TraderConfig struct {
	Mode                string      `yaml:"mode"`   // paper | live
	Window              int         `yaml:"window"` // bars kept for indicator computation
	PollIntervalSeconds int         `yaml:"poll_interval_seconds"`
	SlippageBps         float64     `yaml:"slippage_bps"` // applied to paper fills, reserved when sizing entries
	Limits              risk.Limits `yaml:"limits"`
}

// ExchangeConfig holds REST endpoint and credentials.
type ExchangeConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	APISecret         string  `yaml:"api_secret"`
	ClientCode        string  `yaml:"client_code"`
	Password          string  `yaml:"password"`
	TOTPSecret        string  `yaml:"totp_secret"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	RecvWindowMillis  int64   `yaml:"recv_window_ms"`
	QuantityDecimals  int32   `yaml:"quantity_decimals"`
	SyncClock         bool    `yaml:"sync_clock"`
}

// StorageConfig controls SQLite persistence.
type StorageConfig struct {
	SQLitePath  string `yaml:"sqlite_path"`
	JournalPath string `yaml:"journal_path"`
}

// RedisConfig enables the live event publisher.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MetricsConfig controls the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// GatewayConfig controls the websocket dashboard server. Empty Addr disables it.
type GatewayConfig struct {
	Addr       string `yaml:"addr"`
	ReplaySize int    `yaml:"replay_size"`
}

// NotifyConfig selects alert backends. Unset backends are skipped.
type NotifyConfig struct {
	WebhookURL       string `yaml:"webhook_url"`
	TelegramToken    string `yaml:"telegram_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	NotifyOnSignals  bool   `yaml:"notify_on_signals"`
	NotifyOnBrackets bool   `yaml:"notify_on_brackets"`
}

// LogConfig controls the format and level of logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Backtest: backtest.DefaultConfig()}
	cfg.Trader.Limits = risk.DefaultLimits()
	setDefaults(cfg)
	return cfg
}

// Load reads path (skipped when empty), then .env, then environment
// overrides, and fills defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{Backtest: backtest.DefaultConfig()}
	cfg.Trader.Limits = risk.DefaultLimits()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)
	return cfg, nil
}

// BacktestConfig returns the simulator configuration.
func (c *Config) BacktestConfig() backtest.Config {
	return c.Backtest
}

// PollInterval returns the live polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Trader.PollIntervalSeconds) * time.Second
}

// NotifyTimeout returns the per-alert delivery timeout.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notify.TimeoutSeconds) * time.Second
}

// Range parses Market.Start and Market.End. Zero values mean unbounded.
func (c *Config) Range() (start, end time.Time, err error) {
	if start, err = parseDate(c.Market.Start); err != nil {
		return start, end, fmt.Errorf("market.start: %w", err)
	}
	if end, err = parseDate(c.Market.End); err != nil {
		return start, end, fmt.Errorf("market.end: %w", err)
	}
	return start, end, nil
}

// Live reports whether real orders are sent to the exchange.
func (c *Config) Live() bool { return c.Trader.Mode == "live" }

// ValidateExchange checks that credentials for signed endpoints are set.
func (c *Config) ValidateExchange() error {
	var missing []string
	if c.Exchange.APIKey == "" {
		missing = append(missing, "EXCHANGE_API_KEY")
	}
	if c.Exchange.APISecret == "" {
		missing = append(missing, "EXCHANGE_API_SECRET")
	}
	if len(missing) > 0 {
		return errors.New("config: required settings not set: " + strings.Join(missing, ", "))
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// applyEnvOverrides replaces values with environment variables when set.
func applyEnvOverrides(cfg *Config) {
	cfg.Market.Symbol = getEnv("TRADEBOT_SYMBOL", cfg.Market.Symbol)
	cfg.Market.Timeframe = getEnv("TRADEBOT_TIMEFRAME", cfg.Market.Timeframe)
	cfg.Trader.Mode = getEnv("TRADEBOT_MODE", cfg.Trader.Mode)

	cfg.Exchange.BaseURL = getEnv("EXCHANGE_BASE_URL", cfg.Exchange.BaseURL)
	cfg.Exchange.APIKey = getEnv("EXCHANGE_API_KEY", cfg.Exchange.APIKey)
	cfg.Exchange.APISecret = getEnv("EXCHANGE_API_SECRET", cfg.Exchange.APISecret)
	cfg.Exchange.ClientCode = getEnv("EXCHANGE_CLIENT_CODE", cfg.Exchange.ClientCode)
	cfg.Exchange.Password = getEnv("EXCHANGE_PASSWORD", cfg.Exchange.Password)
	cfg.Exchange.TOTPSecret = getEnv("EXCHANGE_TOTP_SECRET", cfg.Exchange.TOTPSecret)

	cfg.Storage.SQLitePath = getEnv("SQLITE_PATH", cfg.Storage.SQLitePath)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled, _ = strconv.ParseBool(v)
	}
	cfg.Metrics.Addr = getEnv("METRICS_ADDR", cfg.Metrics.Addr)
	cfg.Gateway.Addr = getEnv("GATEWAY_ADDR", cfg.Gateway.Addr)

	cfg.Notify.WebhookURL = getEnv("WEBHOOK_URL", cfg.Notify.WebhookURL)
	cfg.Notify.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", cfg.Notify.TelegramToken)
	cfg.Notify.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", cfg.Notify.TelegramChatID)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
}

// setDefaults makes sure required values are usable.
func setDefaults(cfg *Config) {
	if cfg.Market.Symbol == "" {
		cfg.Market.Symbol = "BTC/USDT"
	}
	if cfg.Market.Timeframe == "" {
		cfg.Market.Timeframe = "1h"
	}
	if cfg.Market.Source == "" {
		cfg.Market.Source = "csv"
	}
	if cfg.Trader.Mode == "" {
		cfg.Trader.Mode = "paper"
	}
	if cfg.Trader.Window <= 0 {
		cfg.Trader.Window = 300
	}
	if cfg.Trader.PollIntervalSeconds <= 0 {
		cfg.Trader.PollIntervalSeconds = 60
	}
	if cfg.Exchange.BaseURL == "" {
		cfg.Exchange.BaseURL = "https://api.binance.com"
	}
	if cfg.Exchange.RequestsPerSecond <= 0 {
		cfg.Exchange.RequestsPerSecond = 10
	}
	if cfg.Exchange.RecvWindowMillis <= 0 {
		cfg.Exchange.RecvWindowMillis = 10000
	}
	if cfg.Exchange.QuantityDecimals <= 0 {
		cfg.Exchange.QuantityDecimals = 6
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/tradebot.db"
	}
	if cfg.Storage.JournalPath == "" {
		cfg.Storage.JournalPath = cfg.Storage.SQLitePath
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Gateway.ReplaySize <= 0 {
		cfg.Gateway.ReplaySize = 500
	}
	if cfg.Notify.TimeoutSeconds <= 0 {
		cfg.Notify.TimeoutSeconds = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
