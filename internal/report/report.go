// Package report renders backtest results for humans: a boxed text summary
// per run, cross-run aggregation tables, and CSV/JSON export of the trade
// list.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"callisto/internal/backtest"
	"callisto/internal/domain"
	"callisto/internal/store"
)

const lineWidth = 64

// Render produces the text summary of a single run.
func Render(res *backtest.Result) string {
	var b strings.Builder
	rule := strings.Repeat("=", lineWidth)
	thin := strings.Repeat("-", lineWidth)

	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "  %s  %s  %s\n", res.Symbol, res.Timeframe, res.Strategy)
	if !res.Start.IsZero() {
		fmt.Fprintf(&b, "  %s .. %s  (%.1f days)\n",
			res.Start.Format("2006-01-02"), res.End.Format("2006-01-02"), res.DurationDays)
	}
	fmt.Fprintln(&b, rule)

	row := func(label, value string) {
		fmt.Fprintf(&b, "  %-24s %s\n", label, value)
	}

	row("Initial capital", FormatMoney(res.InitialCapital))
	row("Final capital", FormatMoney(res.FinalCapital))
	row("Total return", fmt.Sprintf("%s (%s)",
		FormatMoney(res.TotalReturn), FormatPercent(res.TotalReturnPercent)))
	fmt.Fprintln(&b, thin)

	row("Trades", fmt.Sprintf("%s (%d W / %d L / %d BE)",
		FormatCount(res.TotalTrades), res.WinningTrades, res.LosingTrades, res.BreakevenTrades))
	row("Win rate", fmt.Sprintf("%.1f%%", res.WinRate))
	row("Profit factor", FormatRatio(res.ProfitFactor))
	row("Average R", fmt.Sprintf("%.2f", res.AverageR))
	row("Average win / loss", fmt.Sprintf("%s / %s",
		FormatMoney(res.AverageWin), FormatMoney(res.AverageLoss)))
	row("Largest win / loss", fmt.Sprintf("%s / %s",
		FormatMoney(res.LargestWin), FormatMoney(res.LargestLoss)))
	fmt.Fprintln(&b, thin)

	row("Max drawdown", fmt.Sprintf("%s (%.2f%%)",
		FormatMoney(res.MaxDrawdown), res.MaxDrawdownPercent))
	row("Sharpe", FormatRatio(res.SharpeRatio))
	row("Sortino", FormatRatio(res.SortinoRatio))
	row("Calmar", FormatRatio(res.CalmarRatio))
	fmt.Fprintln(&b, rule)
	return b.String()
}

// StrategyStats aggregates stored run summaries for one strategy.
type StrategyStats struct {
	Strategy      string
	Runs          int
	TotalTrades   int
	MeanReturnPct float64
	MeanWinRate   float64
	MeanSharpe    float64
	Best          store.RunSummary // highest return
	Worst         store.RunSummary // lowest return
}

// Aggregate groups run summaries by strategy and computes per-strategy
// means and extremes. The returned slice is sorted by mean return,
// descending, ties broken by run count.
func Aggregate(runs []store.RunSummary) []StrategyStats {
	groups := make(map[string][]store.RunSummary)
	for _, r := range runs {
		groups[r.Strategy] = append(groups[r.Strategy], r)
	}

	out := make([]StrategyStats, 0, len(groups))
	for name, rs := range groups {
		s := StrategyStats{Strategy: name, Runs: len(rs), Best: rs[0], Worst: rs[0]}
		for _, r := range rs {
			s.TotalTrades += r.TotalTrades
			s.MeanReturnPct += r.TotalReturnPercent
			s.MeanWinRate += r.WinRate
			s.MeanSharpe += r.SharpeRatio
			if r.TotalReturnPercent > s.Best.TotalReturnPercent {
				s.Best = r
			}
			if r.TotalReturnPercent < s.Worst.TotalReturnPercent {
				s.Worst = r
			}
		}
		n := float64(len(rs))
		s.MeanReturnPct /= n
		s.MeanWinRate /= n
		s.MeanSharpe /= n
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].MeanReturnPct != out[j].MeanReturnPct {
			return out[i].MeanReturnPct > out[j].MeanReturnPct
		}
		return out[i].Runs > out[j].Runs
	})
	return out
}

// RenderComparison produces a table of per-strategy aggregates.
func RenderComparison(stats []StrategyStats) string {
	if len(stats) == 0 {
		return "no runs stored\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %5s %8s %10s %8s %8s  %s\n",
		"STRATEGY", "RUNS", "TRADES", "RETURN", "WINRATE", "SHARPE", "BEST")
	fmt.Fprintln(&b, strings.Repeat("-", 76))
	for _, s := range stats {
		fmt.Fprintf(&b, "%-20s %5d %8s %10s %7.1f%% %8s  %s %s\n",
			s.Strategy, s.Runs, FormatCount(s.TotalTrades),
			FormatPercent(s.MeanReturnPct), s.MeanWinRate, FormatRatio(s.MeanSharpe),
			s.Best.Symbol, FormatPercent(s.Best.TotalReturnPercent))
	}
	return b.String()
}

// WriteTradesCSV writes the trade list with a header row.
func WriteTradesCSV(w io.Writer, trades []domain.SimulatedTrade) error {
	cw := csv.NewWriter(w)
	header := []string{
		"symbol", "strategy", "side", "entry_time", "exit_time",
		"entry_price", "exit_price", "stop_loss", "size",
		"fees", "pnl", "pnl_percent", "r_multiple", "exit_reason",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, t := range trades {
		rec := []string{
			t.Symbol,
			t.Strategy,
			string(t.Side),
			t.EntryTime.Format(time.RFC3339),
			t.ExitTime.Format(time.RFC3339),
			strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(t.ExitPrice, 'f', -1, 64),
			strconv.FormatFloat(t.StopLoss, 'f', -1, 64),
			strconv.FormatFloat(t.Size, 'f', -1, 64),
			strconv.FormatFloat(t.Fees, 'f', -1, 64),
			strconv.FormatFloat(t.PnL, 'f', -1, 64),
			strconv.FormatFloat(t.PnLPercent, 'f', -1, 64),
			strconv.FormatFloat(t.RMultiple, 'f', -1, 64),
			string(t.ExitReason),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteResultJSON writes the full result as indented JSON.
func WriteResultJSON(w io.Writer, res *backtest.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
