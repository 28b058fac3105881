// Package backtest replays historical bars through a strategy evaluator and
// produces a fully derived result: the closed trade list, the equity curve
// and the summary statistics. The replay is a pure fold over the input
// series, so identical inputs always produce identical results.
package backtest

import (
	"log/slog"
	"time"

	"callisto/internal/domain"
	"callisto/internal/indicator"
	"callisto/internal/strategy"
)

// Config holds the simulation parameters. The caller validates ranges; the
// engine only guards the degenerate sizing case.
type Config struct {
	// InitialCapital is the starting equity in quote currency.
	InitialCapital float64
	// RiskPerTrade is the fraction of current capital risked per trade,
	// e.g. 0.01 for 1%.
	RiskPerTrade float64
	// FeeRate is the fee charged on notional at entry and exit as a
	// fraction, e.g. 0.0004 for 4 bps.
	FeeRate float64
	// SlippageRate shifts every fill against the trader by this fraction.
	SlippageRate float64
	// WarmupBars is the number of bars consumed before the evaluator is
	// first queried. Defaults to domain.MinHistoryBars when zero.
	WarmupBars int
}

// Backtester runs strategy simulations over in-memory bar series. It holds
// no mutable state between runs and is safe for concurrent use.
type Backtester struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) *Backtester {
	if cfg.WarmupBars <= 0 {
		cfg.WarmupBars = domain.MinHistoryBars
	}
	return &Backtester{
		cfg: cfg,
		log: slog.Default().With("component", "backtest"),
	}
}

// Run replays bars in order through eval and returns the derived result.
// Bars must be sorted ascending by timestamp with no duplicates. At most one
// position is open at a time; each bar first resolves exits for the open
// position, then consults the evaluator for a new entry once the warm-up
// window has passed, then records equity. A position still open after the
// last bar is force-closed at that bar's close with reason END_OF_DATA.
//
// An empty series is valid and yields a zero-trade result with a
// single-point equity curve.
func (bt *Backtester) Run(symbol, timeframe string, bars []domain.Bar, eval strategy.Evaluator) *Result {
	frames := indicator.Compute(bars)

	capital := bt.cfg.InitialCapital
	curve := make([]float64, 0, len(bars)+1)
	times := make([]time.Time, 0, len(bars)+1)
	curve = append(curve, capital)
	if len(bars) > 0 {
		times = append(times, bars[0].Timestamp)
	} else {
		times = append(times, time.Time{})
	}

	var (
		trades     []domain.SimulatedTrade
		open       *domain.SimulatedTrade
		riskAmount float64
	)

	for i := range bars {
		bar := bars[i]

		if open != nil {
			if price, reason, hit := ExitLevel(open, bar); hit {
				capital += bt.closeTrade(open, price, bar.Timestamp, reason, riskAmount)
				bt.log.Debug("position closed",
					"symbol", symbol, "reason", reason, "pnl", open.PnL)
				trades = append(trades, *open)
				open = nil
			}
		}

		if open == nil && i >= bt.cfg.WarmupBars {
			if prop := eval.Evaluate(frames, i); prop != nil {
				if t, risk := bt.openTrade(prop, capital); t != nil {
					open, riskAmount = t, risk
					bt.log.Debug("position opened",
						"symbol", symbol, "side", t.Side, "entry", t.EntryPrice, "size", t.Size)
				}
			}
		}

		curve = append(curve, capital)
		times = append(times, bar.Timestamp)
	}

	if open != nil {
		last := bars[len(bars)-1]
		capital += bt.closeTrade(open, last.Close, last.Timestamp, domain.ExitEndOfData, riskAmount)
		trades = append(trades, *open)
		open = nil
		curve[len(curve)-1] = capital
	}

	res := newResult(symbol, timeframe, eval.Name(), bars, bt.cfg, capital, trades, curve, times)
	bt.log.Info("backtest complete",
		"symbol", symbol,
		"strategy", res.Strategy,
		"bars", len(bars),
		"trades", res.TotalTrades,
		"returnPercent", res.TotalReturnPercent)
	return res
}
