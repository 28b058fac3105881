// callisto-bot runs the headless trading engine: it scans the configured
// pairs for entry signals, executes through the configured broker (paper by
// default), and monitors open positions until it is stopped. A license key in
// CALLISTO_LICENSE_KEY unlocks the paid tiers; without one the engine runs
// under the free tier limits.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"callisto/internal/broker"
	"callisto/internal/config"
	"callisto/internal/engine"
	"callisto/internal/license"
	"callisto/internal/metrics"
	"callisto/internal/notify"
	"callisto/internal/pairparams"
	"callisto/internal/store"
	"callisto/internal/strategy"
	"callisto/internal/strategy/builtins"
	"callisto/internal/util"
)

func main() {
	brokerName := flag.String("broker", "", "broker override: paper or alpaca (default from config)")
	flag.Parse()

	cfgPath := "config/callisto.yaml"
	if p := os.Getenv("CALLISTO_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *brokerName != "" {
		cfg.Engine.Broker = *brokerName
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	rec := metrics.New(prometheus.DefaultRegisterer)

	state, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open state store: %v", err)
	}
	defer state.Close()
	bars := store.NewParquetStore(cfg.Storage.DataDir)

	registry := strategy.NewRegistry()
	registry.Register(builtins.NewOptimizedEMACross())
	registry.Register(builtins.NewRelaxedEMACross())
	registry.Register(builtins.NewDefaultStochRSI())
	eval, ok := registry.Get(cfg.Engine.Strategy)
	if !ok {
		log.Fatalf("unknown strategy %q (have %v)", cfg.Engine.Strategy, registry.List())
	}

	gate := resolveGate(cfg, logger)

	var b broker.Broker
	switch cfg.Engine.Broker {
	case "alpaca":
		b = broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	default:
		b = broker.NewPaperBroker(cfg.Backtest.InitialCapital, cfg.Backtest.FeeRate, cfg.Backtest.SlippageRate)
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Telegram.Enabled() {
		notifier = notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, rec)
	}

	eng, err := engine.New(engine.Options{
		Broker:          b,
		Bars:            bars,
		State:           state,
		Evaluator:       eval,
		Risk:            engine.NewRiskManager(engine.LimitsFromConfig(cfg.Risk), cfg.Backtest.InitialCapital, logger),
		Gate:            gate,
		Params:          pairparams.NewStore(filepath.Join(cfg.Storage.DataDir, "pairparams.json"), logger),
		Notifier:        notifier,
		Metrics:         rec,
		Log:             logger,
		Pairs:           cfg.Pairs,
		Timeframe:       cfg.Engine.Timeframe,
		ScanInterval:    time.Duration(cfg.Engine.ScanIntervalSec) * time.Second,
		MonitorInterval: time.Duration(cfg.Engine.MonitorIntervalSec) * time.Second,
		Live:            cfg.Engine.Live,
	})
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := eng.Run(ctx); err != nil {
		log.Fatalf("engine error: %v", err)
	}
}

// resolveGate validates CALLISTO_LICENSE_KEY against the license database
// and builds the matching feature gate. No key, or a failed validation,
// falls back to the free tier.
func resolveGate(cfg *config.Config, logger *slog.Logger) *license.Gate {
	tiers := cfg.License.TierTable()
	key := os.Getenv("CALLISTO_LICENSE_KEY")
	if key == "" {
		logger.Info("no license key, running under free tier")
		return license.NewGate(license.TierFree, tiers)
	}

	mgr, err := license.Open(cfg.Storage.LicenseDBPath, cfg.License.Secret)
	if err != nil {
		logger.Warn("license store unavailable, falling back to free tier", "err", err)
		return license.NewGate(license.TierFree, tiers)
	}
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tier, err := mgr.Validate(ctx, key, license.HardwareID())
	if err != nil {
		logger.Warn("license validation failed, falling back to free tier", "err", err)
		return license.NewGate(license.TierFree, tiers)
	}
	logger.Info("license validated", "tier", tier)
	return license.NewGate(tier, tiers)
}
