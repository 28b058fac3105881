package crypto

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"callisto/internal/domain"
	"callisto/internal/gather"
	"callisto/internal/store"
	"callisto/internal/util"
)

// Compile-time interface check.
var _ gather.Gatherer = (*BinanceKlineGatherer)(nil)

// klineLimit is the maximum number of candles the futures klines endpoint
// returns per request.
const klineLimit = 1500

// BinanceKlineGatherer gathers crypto bars from the Binance futures klines
// endpoint. Historical klines need no API key, so the gatherer works
// unauthenticated against both production and testnet base URLs.
type BinanceKlineGatherer struct {
	baseURL    string
	store      store.BarStore
	pairs      []string
	timeframes []string
	startDate  string
	limiter    *util.RateLimiter
	client     *http.Client
	attempts   int
	retryDelay time.Duration
	log        *slog.Logger
}

// NewBinanceKlineGatherer creates a BinanceKlineGatherer targeting the given
// base URL and writing through the given store.
func NewBinanceKlineGatherer(baseURL string, s store.BarStore, pairs, timeframes []string, rateLimitPerMin int, startDate string) *BinanceKlineGatherer {
	return &BinanceKlineGatherer{
		baseURL:    baseURL,
		store:      s,
		pairs:      pairs,
		timeframes: timeframes,
		startDate:  startDate,
		limiter:    util.NewRateLimiter(rateLimitPerMin),
		client:     &http.Client{Timeout: 30 * time.Second},
		attempts:   3,
		retryDelay: time.Second,
		log:        slog.Default().With("gatherer", "crypto-binance"),
	}
}

// Name returns the gatherer identifier.
func (g *BinanceKlineGatherer) Name() string { return "crypto-binance" }

// Run fetches klines for every configured pair and timeframe from the start
// date to now and writes them through the bar store.
func (g *BinanceKlineGatherer) Run(ctx context.Context) error {
	start, err := time.Parse("2006-01-02", g.startDate)
	if err != nil {
		return fmt.Errorf("parsing start date %q: %w", g.startDate, err)
	}
	r := gather.DateRange{Start: start, End: time.Now().UTC()}

	runStart := time.Now()
	var total int
	for _, tf := range g.timeframes {
		for _, pair := range g.pairs {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			bars, err := g.fetchKlines(ctx, pair, tf, r)
			if err != nil {
				return fmt.Errorf("fetching %s %s: %w", pair, tf, err)
			}
			if len(bars) == 0 {
				g.log.Warn("no klines returned", "pair", pair, "timeframe", tf)
				continue
			}
			if err := g.store.WriteBars(ctx, bars, tf); err != nil {
				return fmt.Errorf("writing %s %s: %w", pair, tf, err)
			}

			total += len(bars)
			g.log.Info("pair done", "pair", pair, "timeframe", tf, "bars", len(bars))
		}
	}

	g.log.Info("complete",
		"bars", total,
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

// fetchKlines pages through the klines endpoint, advancing the start cursor
// past the last candle's close time until the range is exhausted.
func (g *BinanceKlineGatherer) fetchKlines(ctx context.Context, pair, interval string, r gather.DateRange) ([]domain.Bar, error) {
	var bars []domain.Bar
	cursor := r.Start.UnixMilli()
	endMS := r.End.UnixMilli()

	for cursor < endMS {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		q := url.Values{}
		q.Set("symbol", pair)
		q.Set("interval", interval)
		q.Set("startTime", strconv.FormatInt(cursor, 10))
		q.Set("endTime", strconv.FormatInt(endMS, 10))
		q.Set("limit", strconv.Itoa(klineLimit))

		var rows [][]json.RawMessage
		err := util.Retry(ctx, g.attempts, g.retryDelay, func() error {
			rows = nil
			return g.getJSON(ctx, g.baseURL+"/fapi/v1/klines?"+q.Encode(), &rows)
		})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}

		var lastClose int64
		for _, row := range rows {
			bar, closeMS, err := parseKlineRow(pair, row)
			if err != nil {
				return nil, err
			}
			bars = append(bars, bar)
			lastClose = closeMS
		}

		next := lastClose + 1
		if next <= cursor {
			break
		}
		cursor = next
	}
	return bars, nil
}

func (g *BinanceKlineGatherer) getJSON(ctx context.Context, rawURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("binance returned %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// parseKlineRow converts one kline array row into a Bar. Rows are
// [openTime, open, high, low, close, volume, closeTime, quoteVolume,
// trades, ...] with prices and volumes encoded as strings.
func parseKlineRow(pair string, row []json.RawMessage) (domain.Bar, int64, error) {
	if len(row) < 7 {
		return domain.Bar{}, 0, fmt.Errorf("kline row has %d fields, want at least 7", len(row))
	}

	var openMS, closeMS int64
	if err := json.Unmarshal(row[0], &openMS); err != nil {
		return domain.Bar{}, 0, fmt.Errorf("parsing open time: %w", err)
	}
	if err := json.Unmarshal(row[6], &closeMS); err != nil {
		return domain.Bar{}, 0, fmt.Errorf("parsing close time: %w", err)
	}

	var fields [5]float64
	for i := 1; i <= 5; i++ {
		var s string
		if err := json.Unmarshal(row[i], &s); err != nil {
			return domain.Bar{}, 0, fmt.Errorf("parsing kline field %d: %w", i, err)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Bar{}, 0, fmt.Errorf("parsing kline field %d %q: %w", i, s, err)
		}
		fields[i-1] = f
	}

	bar := domain.Bar{
		Symbol:    pair,
		Timestamp: time.UnixMilli(openMS).UTC(),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}
	if len(row) > 8 {
		var trades int64
		if err := json.Unmarshal(row[8], &trades); err == nil {
			bar.TradeCount = trades
		}
	}
	return bar, closeMS, nil
}
