package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"callisto/internal/backtest"
	"callisto/internal/domain"
	"callisto/internal/store"
)

func TestFormatInt(t *testing.T) {
	cases := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-4200, "-4,200"},
	}
	for _, c := range cases {
		if got := FormatInt(c.n); got != c.want {
			t.Errorf("FormatInt(%d) = %q, want %q", c.n, got, c.want)
		}
	}
}

func TestFormatMoney(t *testing.T) {
	cases := []struct {
		v    float64
		want string
	}{
		{0, "$0.00"},
		{1234.5, "$1,234.50"},
		{1000000, "$1,000,000.00"},
		{-12.3, "-$12.30"},
	}
	for _, c := range cases {
		if got := FormatMoney(c.v); got != c.want {
			t.Errorf("FormatMoney(%v) = %q, want %q", c.v, got, c.want)
		}
	}
}

func TestFormatPercent(t *testing.T) {
	if got := FormatPercent(12.345); got != "+12.35%" {
		t.Errorf("FormatPercent(12.345) = %q, want +12.35%%", got)
	}
	if got := FormatPercent(-150); got != "-150%" {
		t.Errorf("FormatPercent(-150) = %q, want -150%%", got)
	}
}

func TestFormatRatio(t *testing.T) {
	if got := FormatRatio(0); got != "-" {
		t.Errorf("FormatRatio(0) = %q, want -", got)
	}
	if got := FormatRatio(1.5); got != "1.50" {
		t.Errorf("FormatRatio(1.5) = %q, want 1.50", got)
	}
}

func TestRenderContainsKeyFigures(t *testing.T) {
	res := &backtest.Result{
		Symbol:             "BTCUSDT",
		Strategy:           "ema_crossover",
		Timeframe:          "1h",
		InitialCapital:     10000,
		FinalCapital:       11234.56,
		Start:              time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:                time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		DurationDays:       60,
		TotalReturn:        1234.56,
		TotalReturnPercent: 12.3456,
		TotalTrades:        42,
		WinningTrades:      25,
		LosingTrades:       17,
		WinRate:            59.5,
		ProfitFactor:       1.8,
		MaxDrawdownPercent: 7.2,
		SharpeRatio:        1.31,
	}
	out := Render(res)
	for _, want := range []string{
		"BTCUSDT", "ema_crossover",
		"$10,000.00", "$11,234.56", "+12.35%",
		"25 W / 17 L", "1.80", "1.31",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestAggregate(t *testing.T) {
	runs := []store.RunSummary{
		{Strategy: "a", Symbol: "BTCUSDT", TotalReturnPercent: 10, WinRate: 60, TotalTrades: 10},
		{Strategy: "a", Symbol: "ETHUSDT", TotalReturnPercent: 20, WinRate: 40, TotalTrades: 30},
		{Strategy: "b", Symbol: "BTCUSDT", TotalReturnPercent: 5, WinRate: 50, TotalTrades: 8},
	}
	stats := Aggregate(runs)
	if len(stats) != 2 {
		t.Fatalf("len(stats) = %d, want 2", len(stats))
	}
	// Strategy a has the higher mean return, so it sorts first.
	if stats[0].Strategy != "a" {
		t.Fatalf("stats[0].Strategy = %q, want a", stats[0].Strategy)
	}
	a := stats[0]
	if a.Runs != 2 || a.MeanReturnPct != 15 || a.MeanWinRate != 50 || a.TotalTrades != 40 {
		t.Errorf("a = %+v, want 2 runs, mean return 15, mean winrate 50, 40 trades", a)
	}
	if a.Best.Symbol != "ETHUSDT" || a.Worst.Symbol != "BTCUSDT" {
		t.Errorf("best/worst = %s/%s, want ETHUSDT/BTCUSDT", a.Best.Symbol, a.Worst.Symbol)
	}
}

func TestAggregateEmpty(t *testing.T) {
	if stats := Aggregate(nil); len(stats) != 0 {
		t.Errorf("Aggregate(nil) = %+v, want empty", stats)
	}
	if out := RenderComparison(nil); !strings.Contains(out, "no runs") {
		t.Errorf("RenderComparison(nil) = %q, want a no-runs note", out)
	}
}

func TestWriteTradesCSV(t *testing.T) {
	trades := []domain.SimulatedTrade{
		{
			Symbol:     "BTCUSDT",
			Strategy:   "ema_crossover",
			Side:       domain.SideLong,
			EntryTime:  time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
			ExitTime:   time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC),
			EntryPrice: 100,
			ExitPrice:  103,
			StopLoss:   98,
			Size:       2,
			PnL:        6,
			RMultiple:  1.5,
			ExitReason: domain.ExitTP1,
		},
	}
	var buf bytes.Buffer
	if err := WriteTradesCSV(&buf, trades); err != nil {
		t.Fatalf("WriteTradesCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header + 1 trade", len(lines))
	}
	if !strings.HasPrefix(lines[0], "symbol,strategy,side,") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "BTCUSDT") || !strings.Contains(lines[1], "TP1") {
		t.Errorf("trade row = %q", lines[1])
	}
}
