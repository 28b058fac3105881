package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"callisto/internal/license"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the callisto platform. Defaults
// come from struct tags and are applied before the YAML file is read, so the
// file only needs to name what it changes.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Binance  Binance        `yaml:"binance"`
	Telegram Telegram       `yaml:"telegram"`
	Logging  Logging        `yaml:"logging"`
	Gather   GatherConfig   `yaml:"gather"`
	Backtest BacktestConfig `yaml:"backtest"`
	Engine   EngineConfig   `yaml:"engine"`
	Risk     RiskConfig     `yaml:"risk"`
	License  LicenseConfig  `yaml:"license"`

	// Pairs is the tradable universe. Every gatherer, backtest run and
	// engine scan is restricted to these symbols.
	Pairs []string `yaml:"pairs" default:"[\"BTCUSDT\",\"ETHUSDT\",\"BNBUSDT\",\"SOLUSDT\",\"XRPUSDT\"]" validate:"min=1"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir       string `yaml:"data_dir" default:"data" validate:"required"`
	SQLitePath    string `yaml:"sqlite_path" default:"data/callisto.db" validate:"required"`
	LicenseDBPath string `yaml:"license_db_path" default:"data/licenses.db" validate:"required"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host" default:"0.0.0.0" validate:"required"`
	Port int    `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs. Keys are
// optional: backtests over stored bars never need them.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url" default:"https://paper-api.alpaca.markets" validate:"url"`
	DataURL   string `yaml:"data_url" default:"https://data.alpaca.markets" validate:"url"`
}

// Binance holds futures API credentials and endpoints. Klines are public,
// so keys stay empty for data gathering. Testnet is the default; flip it off
// only for production.
type Binance struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url" default:"https://fapi.binance.com" validate:"url"`
	Testnet   bool   `yaml:"testnet" default:"true"`
}

const binanceTestnetURL = "https://testnet.binancefuture.com"

// RestURL returns the effective REST endpoint for the configured network.
func (b Binance) RestURL() string {
	if b.Testnet {
		return binanceTestnetURL
	}
	return b.BaseURL
}

// Telegram holds bot credentials for trade notifications.
type Telegram struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Enabled reports whether notifications are configured.
func (t Telegram) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json text"`
}

// GatherConfig controls bar gathering.
type GatherConfig struct {
	Crypto GatherJobConfig `yaml:"crypto"`
}

// GatherJobConfig holds parameters for a single data gathering job.
type GatherJobConfig struct {
	StartDate       string   `yaml:"start_date" default:"2022-01-01" validate:"datetime=2006-01-02"`
	BatchSize       int      `yaml:"batch_size" default:"5" validate:"gte=1"`
	MaxWorkers      int      `yaml:"max_workers" default:"4" validate:"gte=1"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min" default:"200" validate:"gte=1"`
	Timeframes      []string `yaml:"timeframes" default:"[\"1h\",\"4h\",\"1d\"]" validate:"min=1,dive,oneof=1m 5m 15m 30m 1h 4h 1d"`
}

// BacktestConfig carries the simulation defaults. Fee and slippage default
// to taker-side futures costs.
type BacktestConfig struct {
	InitialCapital float64 `yaml:"initial_capital" default:"10000" validate:"gt=0"`
	RiskPerTrade   float64 `yaml:"risk_per_trade" default:"0.01" validate:"gt=0,lte=1"`
	FeeRate        float64 `yaml:"fee_rate" default:"0.0004" validate:"gte=0"`
	SlippageRate   float64 `yaml:"slippage_rate" default:"0.0005" validate:"gte=0"`
	WarmupBars     int     `yaml:"warmup_bars" default:"200" validate:"gte=1"`
}

// EngineConfig drives the live engine loops.
type EngineConfig struct {
	Strategy           string `yaml:"strategy" default:"ema_crossover" validate:"required"`
	Timeframe          string `yaml:"timeframe" default:"1h" validate:"oneof=1m 5m 15m 30m 1h 4h 1d"`
	ScanIntervalSec    int    `yaml:"scan_interval_sec" default:"60" validate:"gte=1"`
	MonitorIntervalSec int    `yaml:"monitor_interval_sec" default:"10" validate:"gte=1"`
	Broker             string `yaml:"broker" default:"paper" validate:"oneof=paper alpaca"`
	Live               bool   `yaml:"live"`
}

// RiskConfig is the hard limit set the risk manager enforces. These bound
// the engine regardless of strategy or operator input.
type RiskConfig struct {
	MaxRiskPerTrade        float64 `yaml:"max_risk_per_trade" default:"0.015" validate:"gt=0,lte=0.1"`
	MaxDailyDrawdown       float64 `yaml:"max_daily_drawdown" default:"0.06" validate:"gt=0,lte=1"`
	MaxTotalDrawdown       float64 `yaml:"max_total_drawdown" default:"0.18" validate:"gt=0,lte=1"`
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions" default:"3" validate:"gte=1"`
	MaxLeverage            int     `yaml:"max_leverage" default:"10" validate:"gte=1"`
	MaxPositionSizePercent float64 `yaml:"max_position_size_percent" default:"0.12" validate:"gt=0,lte=1"`
	MaxStopLossPercent     float64 `yaml:"max_stop_loss_percent" default:"0.035" validate:"gt=0,lte=1"`
	MinRiskReward          float64 `yaml:"min_risk_reward" default:"1.8" validate:"gt=0"`
	MaxTradesPerDay        int     `yaml:"max_trades_per_day" default:"8" validate:"gte=1"`
	MaxConsecutiveLosses   int     `yaml:"max_consecutive_losses" default:"3" validate:"gte=1"`
	CooldownMinutes        int     `yaml:"cooldown_minutes" default:"180" validate:"gte=0"`
}

// LicenseConfig holds the key-signing secret and optional tier overrides.
type LicenseConfig struct {
	Secret string                            `yaml:"secret" default:"CHANGE_THIS_SECRET_KEY_IN_PRODUCTION" validate:"required"`
	Tiers  map[license.Tier]license.Features `yaml:"tiers"`
}

// TierTable returns the configured tier table, falling back to the built-in
// ladder when the config file does not override it.
func (l LicenseConfig) TierTable() map[license.Tier]license.Features {
	if len(l.Tiers) > 0 {
		return l.Tiers
	}
	return license.DefaultTiers()
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

var validate = validator.New()

// Load builds the configuration: struct-tag defaults first, then the YAML
// file at path, then environment overrides, then validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LICENSE_DB_PATH"); v != "" {
		cfg.Storage.LicenseDBPath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		cfg.Binance.APISecret = v
	}
	if v := os.Getenv("BINANCE_TESTNET"); v != "" {
		cfg.Binance.Testnet = strings.EqualFold(v, "true") || v == "1"
	}

	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}

	if v := os.Getenv("LICENSE_SECRET"); v != "" {
		cfg.License.Secret = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
