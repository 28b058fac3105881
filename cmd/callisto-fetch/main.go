// callisto-fetch backfills OHLCV history into the Parquet store from Alpaca
// crypto market data or Binance futures klines.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callisto/internal/config"
	"callisto/internal/gather"
	"callisto/internal/gather/crypto"
	"callisto/internal/store"
)

func main() {
	source := flag.String("source", "alpaca", "data source: alpaca or binance")
	flag.Parse()

	cfgPath := "config/callisto.yaml"
	if p := os.Getenv("CALLISTO_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/callisto-fetch-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	job := cfg.Gather.Crypto

	var gatherer gather.Gatherer
	switch *source {
	case "alpaca":
		gatherer = crypto.NewAlpacaBarGatherer(
			cfg.Alpaca.APIKey,
			cfg.Alpaca.APISecret,
			cfg.Alpaca.DataURL,
			pstore,
			cfg.Pairs,
			job.Timeframes,
			job.BatchSize,
			job.MaxWorkers,
			job.RateLimitPerMin,
			job.StartDate,
			cfg.Storage.DataDir,
		)
	case "binance":
		gatherer = crypto.NewBinanceKlineGatherer(
			cfg.Binance.RestURL(),
			pstore,
			cfg.Pairs,
			job.Timeframes,
			job.RateLimitPerMin,
			job.StartDate,
		)
	default:
		log.Fatalf("unknown source %q (want alpaca or binance)", *source)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting callisto-fetch",
		"source", gatherer.Name(), "pairs", len(cfg.Pairs),
		"timeframes", job.Timeframes, "logFile", logFileName)
	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("fetch error: %v", err)
	}
}
