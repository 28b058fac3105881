// callisto-server serves the dashboard API: stored runs, on-demand
// backtests, license management, pair parameters, a WebSocket event stream
// and Prometheus metrics. With -engine it also runs a paper-trading engine
// in-process so the engine endpoints carry live data.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"callisto/internal/backtest"
	"callisto/internal/broker"
	"callisto/internal/config"
	"callisto/internal/engine"
	"callisto/internal/httpapi"
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
	withEngine := flag.Bool("engine", false, "run a paper-trading engine in-process")
	flag.Parse()

	cfgPath := "config/callisto.yaml"
	if p := os.Getenv("CALLISTO_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	rec := metrics.New(prometheus.DefaultRegisterer)

	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open run store: %v", err)
	}
	defer runs.Close()
	bars := store.NewParquetStore(cfg.Storage.DataDir)

	licenses, err := license.Open(cfg.Storage.LicenseDBPath, cfg.License.Secret)
	if err != nil {
		log.Fatalf("failed to open license store: %v", err)
	}
	defer licenses.Close()

	params := pairparams.NewStore(filepath.Join(cfg.Storage.DataDir, "pairparams.json"), logger)

	registry := strategy.NewRegistry()
	registry.Register(builtins.NewOptimizedEMACross())
	registry.Register(builtins.NewRelaxedEMACross())
	registry.Register(builtins.NewDefaultStochRSI())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hub := httpapi.NewHub(rec)
	go hub.Run(ctx)

	var eng *engine.Engine
	if *withEngine {
		eval, ok := registry.Get(cfg.Engine.Strategy)
		if !ok {
			log.Fatalf("unknown strategy %q", cfg.Engine.Strategy)
		}
		var notifier notify.Notifier = notify.Noop{}
		if cfg.Telegram.Enabled() {
			notifier = notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, rec)
		}
		eng, err = engine.New(engine.Options{
			Broker:          broker.NewPaperBroker(cfg.Backtest.InitialCapital, cfg.Backtest.FeeRate, cfg.Backtest.SlippageRate),
			Bars:            bars,
			State:           runs,
			Evaluator:       eval,
			Risk:            engine.NewRiskManager(engine.LimitsFromConfig(cfg.Risk), cfg.Backtest.InitialCapital, logger),
			Params:          params,
			Notifier:        notifier,
			Metrics:         rec,
			Log:             logger,
			Pairs:           cfg.Pairs,
			Timeframe:       cfg.Engine.Timeframe,
			ScanInterval:    time.Duration(cfg.Engine.ScanIntervalSec) * time.Second,
			MonitorInterval: time.Duration(cfg.Engine.MonitorIntervalSec) * time.Second,
		})
		if err != nil {
			log.Fatalf("failed to build engine: %v", err)
		}
		go func() {
			if err := eng.Run(ctx); err != nil {
				logger.Error("engine stopped with error", "err", err)
			}
		}()
	}

	api := httpapi.NewServer(httpapi.Options{
		Runs:     runs,
		Bars:     bars,
		Registry: registry,
		Defaults: backtest.Config{
			InitialCapital: cfg.Backtest.InitialCapital,
			RiskPerTrade:   cfg.Backtest.RiskPerTrade,
			FeeRate:        cfg.Backtest.FeeRate,
			SlippageRate:   cfg.Backtest.SlippageRate,
			WarmupBars:     cfg.Backtest.WarmupBars,
		},
		Engine:   eng,
		Licenses: licenses,
		Tiers:    cfg.License.TierTable(),
		Params:   params,
		Hub:      hub,
		Metrics:  rec,
		Log:      logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "err", err)
		}
	}()

	logger.Info("callisto-server listening", "addr", srv.Addr, "engine", *withEngine)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("callisto-server stopped")
}
