// Package crypto implements gatherers that pull crypto OHLCV history from
// the Alpaca market-data API and the Binance klines endpoint into a BarStore.
package crypto

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"callisto/internal/domain"
	"callisto/internal/gather"
	"callisto/internal/store"
	"callisto/internal/util"
)

// Compile-time interface check.
var _ gather.Gatherer = (*AlpacaBarGatherer)(nil)

// AlpacaBarGatherer gathers crypto bars via the Alpaca market-data API.
// Pairs are fetched in multi-symbol batches across a bounded worker pool,
// one pass per configured timeframe, and are resumable within a day through
// a JSON progress file.
type AlpacaBarGatherer struct {
	client     *marketdata.Client
	store      store.BarStore
	pairs      []string
	timeframes []string
	batchSize  int
	maxWorkers int
	startDate  string
	dataDir    string
	limiter    *util.RateLimiter
	attempts   int
	retryDelay time.Duration
	log        *slog.Logger
}

// NewAlpacaBarGatherer creates an AlpacaBarGatherer configured with the
// given Alpaca credentials, target store, pair universe, and batch
// parameters.
func NewAlpacaBarGatherer(apiKey, apiSecret, dataURL string, s store.BarStore, pairs, timeframes []string, batchSize, maxWorkers, rateLimitPerMin int, startDate, dataDir string) *AlpacaBarGatherer {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}

	return &AlpacaBarGatherer{
		client:     marketdata.NewClient(opts),
		store:      s,
		pairs:      pairs,
		timeframes: timeframes,
		batchSize:  batchSize,
		maxWorkers: maxWorkers,
		startDate:  startDate,
		dataDir:    dataDir,
		limiter:    util.NewRateLimiter(rateLimitPerMin),
		attempts:   3,
		retryDelay: 2 * time.Second,
		log:        slog.Default().With("gatherer", "crypto-alpaca"),
	}
}

// Name returns the gatherer identifier.
func (g *AlpacaBarGatherer) Name() string { return "crypto-alpaca" }

// Run fetches bars for every configured pair and timeframe from the start
// date to now and writes them through the bar store. Tasks that already
// completed today are skipped, so the run is idempotent within a day.
func (g *AlpacaBarGatherer) Run(ctx context.Context) error {
	start, err := time.Parse("2006-01-02", g.startDate)
	if err != nil {
		return fmt.Errorf("parsing start date %q: %w", g.startDate, err)
	}
	r := gather.DateRange{Start: start, End: time.Now().UTC()}
	today := r.End.Format("2006-01-02")

	tracker, err := newProgressTracker(filepath.Join(g.dataDir, "crypto", "alpaca"))
	if err != nil {
		return fmt.Errorf("creating progress tracker: %w", err)
	}

	// Build the task list: per timeframe, batches of pairs not yet done today.
	type task struct {
		timeframe string
		pairs     []string
	}
	var tasks []task
	for _, tf := range g.timeframes {
		var remaining []string
		for _, pair := range g.pairs {
			if tracker.IsDone(pair, tf, today) {
				continue
			}
			remaining = append(remaining, pair)
		}
		for i := 0; i < len(remaining); i += g.batchSize {
			end := min(i+g.batchSize, len(remaining))
			tasks = append(tasks, task{timeframe: tf, pairs: remaining[i:end]})
		}
	}

	if len(tasks) == 0 {
		g.log.Info("already completed", "date", today)
		return nil
	}

	g.log.Info("starting crypto-alpaca",
		"tasks", len(tasks),
		"pairs", len(g.pairs),
		"timeframes", len(g.timeframes),
		"from", g.startDate,
	)

	taskCh := make(chan task, len(tasks))
	for _, t := range tasks {
		taskCh <- t
	}
	close(taskCh)

	var (
		wg        sync.WaitGroup
		totalBars atomic.Int64
		failures  atomic.Int64
		runStart  = time.Now()
	)

	workers := min(g.maxWorkers, len(tasks))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskCh {
				if ctx.Err() != nil {
					return
				}

				bars, err := g.fetchBatch(ctx, t.pairs, t.timeframe, r)
				if err != nil {
					failures.Add(1)
					g.log.Error("batch fetch failed",
						"timeframe", t.timeframe, "pairs", len(t.pairs), "err", err)
					continue
				}
				if len(bars) > 0 {
					if err := g.store.WriteBars(ctx, bars, t.timeframe); err != nil {
						failures.Add(1)
						g.log.Error("writing bars failed", "timeframe", t.timeframe, "err", err)
						continue
					}
				}
				for _, pair := range t.pairs {
					if err := tracker.MarkDone(pair, t.timeframe, today); err != nil {
						g.log.Error("marking progress failed", "pair", pair, "err", err)
					}
				}

				totalBars.Add(int64(len(bars)))
				g.log.Info("batch done",
					"timeframe", t.timeframe,
					"pairs", len(t.pairs),
					"bars", len(bars),
					"elapsed", time.Since(runStart).Round(time.Second),
				)
			}
		}()
	}

	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if n := failures.Load(); n > 0 {
		return fmt.Errorf("crypto-alpaca finished with %d failed batches", n)
	}

	g.log.Info("complete",
		"bars", totalBars.Load(),
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

// fetchBatch fetches bars for multiple pairs in a single API call.
func (g *AlpacaBarGatherer) fetchBatch(ctx context.Context, pairs []string, timeframe string, r gather.DateRange) ([]domain.Bar, error) {
	tf, err := marketdataTimeFrame(timeframe)
	if err != nil {
		return nil, err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	symbols := make([]string, len(pairs))
	for i, pair := range pairs {
		symbols[i] = util.ToAlpacaSymbol(pair)
	}

	var multiBars map[string][]marketdata.CryptoBar
	err = util.Retry(ctx, g.attempts, g.retryDelay, func() error {
		var err error
		multiBars, err = g.client.GetCryptoMultiBars(symbols, marketdata.GetCryptoBarsRequest{
			TimeFrame: tf,
			Start:     r.Start,
			End:       r.End,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetCryptoMultiBars: %w", err)
	}
	return convertCryptoBars(multiBars), nil
}

// convertCryptoBars flattens the SDK response into canonical bars keyed by
// the exchange pair form.
func convertCryptoBars(multiBars map[string][]marketdata.CryptoBar) []domain.Bar {
	var bars []domain.Bar
	for symbol, cryptoBars := range multiBars {
		pair := util.FromAlpacaSymbol(symbol)
		for _, cb := range cryptoBars {
			bars = append(bars, domain.Bar{
				Symbol:     pair,
				Timestamp:  cb.Timestamp,
				Open:       cb.Open,
				High:       cb.High,
				Low:        cb.Low,
				Close:      cb.Close,
				Volume:     cb.Volume,
				TradeCount: int64(cb.TradeCount),
				VWAP:       cb.VWAP,
			})
		}
	}
	return bars
}

// marketdataTimeFrame maps a timeframe string to the SDK's TimeFrame type.
func marketdataTimeFrame(tf string) (marketdata.TimeFrame, error) {
	switch tf {
	case "1m":
		return marketdata.OneMin, nil
	case "5m":
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case "15m":
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case "30m":
		return marketdata.NewTimeFrame(30, marketdata.Min), nil
	case "1h":
		return marketdata.OneHour, nil
	case "4h":
		return marketdata.NewTimeFrame(4, marketdata.Hour), nil
	case "1d":
		return marketdata.OneDay, nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("unsupported timeframe %q", tf)
	}
}
