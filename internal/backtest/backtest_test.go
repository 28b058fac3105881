package backtest

import (
	"math"
	"reflect"
	"testing"
	"time"

	"callisto/internal/domain"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func mkbar(i int, o, h, l, c float64) domain.Bar {
	return domain.Bar{
		Symbol:    "BTCUSDT",
		Timestamp: base.Add(time.Duration(i) * time.Hour),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    1000,
	}
}

// scriptedEvaluator emits a fixed proposal at chosen bar indices.
type scriptedEvaluator struct {
	name      string
	proposals map[int]domain.SignalProposal
}

func (s *scriptedEvaluator) Name() string { return s.name }

func (s *scriptedEvaluator) Evaluate(frames []domain.IndicatorBar, i int) *domain.SignalProposal {
	p, ok := s.proposals[i]
	if !ok {
		return nil
	}
	p.Strategy = s.name
	p.Symbol = frames[i].Symbol
	p.Timestamp = frames[i].Timestamp
	return &p
}

// chaseEvaluator proposes a long off every bar close.
type chaseEvaluator struct{}

func (chaseEvaluator) Name() string { return "chase" }

func (chaseEvaluator) Evaluate(frames []domain.IndicatorBar, i int) *domain.SignalProposal {
	f := frames[i]
	return &domain.SignalProposal{
		Strategy:    "chase",
		Symbol:      f.Symbol,
		Timestamp:   f.Timestamp,
		Side:        domain.SideLong,
		EntryPrice:  f.Close,
		StopLoss:    f.Close - 2,
		TakeProfits: []float64{f.Close + 3},
	}
}

func TestSizePosition(t *testing.T) {
	if got := SizePosition(100, 98, 10000, 0.01); got != 50 {
		t.Errorf("SizePosition(100, 98) = %v, want 50", got)
	}
	if got := SizePosition(98, 100, 10000, 0.01); got != 50 {
		t.Errorf("short SizePosition(98, 100) = %v, want 50", got)
	}
	if got := SizePosition(100, 100, 10000, 0.01); got != 0 {
		t.Errorf("degenerate SizePosition = %v, want 0", got)
	}
}

func TestApplySlippage(t *testing.T) {
	cases := []struct {
		side    domain.Side
		closing bool
		want    float64
	}{
		{domain.SideLong, false, 100 * 1.001},
		{domain.SideLong, true, 100 * 0.999},
		{domain.SideShort, false, 100 * 0.999},
		{domain.SideShort, true, 100 * 1.001},
	}
	for _, c := range cases {
		if got := ApplySlippage(100, c.side, c.closing, 0.001); got != c.want {
			t.Errorf("ApplySlippage(%s, closing=%v) = %v, want %v", c.side, c.closing, got, c.want)
		}
	}
}

func TestExitLevelLong(t *testing.T) {
	trade := &domain.SimulatedTrade{
		Side:        domain.SideLong,
		StopLoss:    98,
		TakeProfits: []float64{103, 106, 109},
	}

	// Stop and TP1 both reachable in one bar: the stop wins.
	price, reason, hit := ExitLevel(trade, mkbar(0, 100, 104, 97.5, 99))
	if !hit || price != 98 || reason != domain.ExitStopLoss {
		t.Errorf("conflict bar = (%v, %s, %v), want (98, STOP_LOSS, true)", price, reason, hit)
	}

	// High reaches TP1 and TP2: lowest level wins at its exact price.
	price, reason, hit = ExitLevel(trade, mkbar(0, 100, 106, 99, 105))
	if !hit || price != 103 || reason != domain.ExitTP1 {
		t.Errorf("ladder bar = (%v, %s, %v), want (103, TP1, true)", price, reason, hit)
	}

	if _, _, hit = ExitLevel(trade, mkbar(0, 100, 102, 99, 101)); hit {
		t.Error("bar inside the range reported an exit")
	}
}

func TestExitLevelShort(t *testing.T) {
	trade := &domain.SimulatedTrade{
		Side:        domain.SideShort,
		StopLoss:    102,
		TakeProfits: []float64{97, 94},
	}

	price, reason, hit := ExitLevel(trade, mkbar(0, 100, 102.5, 96, 101))
	if !hit || price != 102 || reason != domain.ExitStopLoss {
		t.Errorf("conflict bar = (%v, %s, %v), want (102, STOP_LOSS, true)", price, reason, hit)
	}

	price, reason, hit = ExitLevel(trade, mkbar(0, 100, 101, 93.5, 95))
	if !hit || price != 97 || reason != domain.ExitTP1 {
		t.Errorf("ladder bar = (%v, %s, %v), want (97, TP1, true)", price, reason, hit)
	}

	if _, _, hit = ExitLevel(trade, mkbar(0, 100, 101, 98, 99)); hit {
		t.Error("bar inside the range reported an exit")
	}
}

func TestRunStopLoss(t *testing.T) {
	bt := New(Config{InitialCapital: 10000, RiskPerTrade: 0.01, WarmupBars: 1})
	eval := &scriptedEvaluator{
		name: "scripted",
		proposals: map[int]domain.SignalProposal{
			1: {Side: domain.SideLong, EntryPrice: 100, StopLoss: 98, TakeProfits: []float64{103, 106, 109}},
		},
	}
	bars := []domain.Bar{
		mkbar(0, 100, 101, 99, 100),
		mkbar(1, 100, 101, 99, 100),
		mkbar(2, 100, 104, 97.5, 98),
	}

	res := bt.Run("BTCUSDT", "1h", bars, eval)

	if res.TotalTrades != 1 {
		t.Fatalf("TotalTrades = %d, want 1", res.TotalTrades)
	}
	tr := res.Trades[0]
	if tr.ExitReason != domain.ExitStopLoss {
		t.Errorf("ExitReason = %s, want STOP_LOSS", tr.ExitReason)
	}
	if tr.Size != 50 {
		t.Errorf("Size = %v, want 50", tr.Size)
	}
	if tr.ExitPrice != 98 {
		t.Errorf("ExitPrice = %v, want 98", tr.ExitPrice)
	}
	if tr.PnL != -100 {
		t.Errorf("PnL = %v, want -100", tr.PnL)
	}
	if tr.PnLPercent != -2 {
		t.Errorf("PnLPercent = %v, want -2", tr.PnLPercent)
	}
	if tr.RMultiple != -1 {
		t.Errorf("RMultiple = %v, want -1", tr.RMultiple)
	}
	if tr.EntryTime != bars[1].Timestamp || tr.ExitTime != bars[2].Timestamp {
		t.Errorf("trade times = %v/%v, want bar 1/bar 2", tr.EntryTime, tr.ExitTime)
	}
	if tr.Status != domain.TradeClosed {
		t.Errorf("Status = %s, want CLOSED", tr.Status)
	}

	wantCurve := []float64{10000, 10000, 10000, 9900}
	if !reflect.DeepEqual(res.EquityCurve, wantCurve) {
		t.Errorf("EquityCurve = %v, want %v", res.EquityCurve, wantCurve)
	}
	if res.FinalCapital != 9900 {
		t.Errorf("FinalCapital = %v, want 9900", res.FinalCapital)
	}
	if res.TotalReturnPercent != -1 {
		t.Errorf("TotalReturnPercent = %v, want -1", res.TotalReturnPercent)
	}
	if res.MaxDrawdown != 100 || res.MaxDrawdownPercent != 1 {
		t.Errorf("MaxDrawdown = %v/%v%%, want 100/1%%", res.MaxDrawdown, res.MaxDrawdownPercent)
	}
	if res.Strategy != "scripted" || res.Symbol != "BTCUSDT" || res.Timeframe != "1h" {
		t.Errorf("run labels = %s/%s/%s", res.Strategy, res.Symbol, res.Timeframe)
	}
}

func TestRunTakeProfit(t *testing.T) {
	bt := New(Config{InitialCapital: 10000, RiskPerTrade: 0.01, WarmupBars: 1})
	eval := &scriptedEvaluator{
		name: "scripted",
		proposals: map[int]domain.SignalProposal{
			1: {Side: domain.SideLong, EntryPrice: 100, StopLoss: 98, TakeProfits: []float64{103, 106, 109}},
		},
	}
	bars := []domain.Bar{
		mkbar(0, 100, 101, 99, 100),
		mkbar(1, 100, 101, 99, 100),
		mkbar(2, 100, 106, 99, 105),
	}

	res := bt.Run("BTCUSDT", "1h", bars, eval)

	if res.TotalTrades != 1 {
		t.Fatalf("TotalTrades = %d, want 1", res.TotalTrades)
	}
	tr := res.Trades[0]
	if tr.ExitReason != domain.ExitTP1 {
		t.Errorf("ExitReason = %s, want TP1", tr.ExitReason)
	}
	if tr.ExitPrice != 103 {
		t.Errorf("ExitPrice = %v, want 103", tr.ExitPrice)
	}
	if tr.PnL != 150 {
		t.Errorf("PnL = %v, want 150", tr.PnL)
	}
	if tr.RMultiple != 1.5 {
		t.Errorf("RMultiple = %v, want 1.5", tr.RMultiple)
	}
	if res.WinRate != 100 {
		t.Errorf("WinRate = %v, want 100", res.WinRate)
	}
	// No losses: the loss-denominated ratios stay at zero.
	if res.ProfitFactor != 0 || res.AverageLoss != 0 || res.LargestLoss != 0 {
		t.Errorf("loss stats = %v/%v/%v, want zeros", res.ProfitFactor, res.AverageLoss, res.LargestLoss)
	}
	if res.SortinoRatio != 0 {
		t.Errorf("SortinoRatio = %v, want 0 with no losing step", res.SortinoRatio)
	}
}

func TestRunShortWithCosts(t *testing.T) {
	cfg := Config{
		InitialCapital: 10000,
		RiskPerTrade:   0.01,
		FeeRate:        0.001,
		SlippageRate:   0.001,
		WarmupBars:     1,
	}
	bt := New(cfg)
	eval := &scriptedEvaluator{
		name: "scripted",
		proposals: map[int]domain.SignalProposal{
			1: {Side: domain.SideShort, EntryPrice: 100, StopLoss: 102, TakeProfits: []float64{97}},
		},
	}
	bars := []domain.Bar{
		mkbar(0, 100, 101, 99, 100),
		mkbar(1, 100, 101, 99, 100),
		mkbar(2, 99, 100, 96.5, 97),
	}

	res := bt.Run("BTCUSDT", "1h", bars, eval)

	if res.TotalTrades != 1 {
		t.Fatalf("TotalTrades = %d, want 1", res.TotalTrades)
	}
	tr := res.Trades[0]

	// Sizing uses the raw signal prices, fills carry adverse slippage and
	// fees are charged on both slipped notionals.
	entry := 100 * (1 - 0.001)
	exit := 97 * (1 + 0.001)
	size := 50.0
	fees := size*entry*0.001 + size*exit*0.001
	pnl := (entry-exit)*size - fees

	if tr.Size != size {
		t.Errorf("Size = %v, want %v", tr.Size, size)
	}
	if math.Abs(tr.EntryPrice-entry) > 1e-9 {
		t.Errorf("EntryPrice = %v, want %v", tr.EntryPrice, entry)
	}
	if math.Abs(tr.ExitPrice-exit) > 1e-9 {
		t.Errorf("ExitPrice = %v, want %v", tr.ExitPrice, exit)
	}
	if math.Abs(tr.Fees-fees) > 1e-9 {
		t.Errorf("Fees = %v, want %v", tr.Fees, fees)
	}
	if math.Abs(tr.PnL-pnl) > 1e-9 {
		t.Errorf("PnL = %v, want %v", tr.PnL, pnl)
	}
	if math.Abs(tr.PnLPercent-pnl/(size*entry)*100) > 1e-9 {
		t.Errorf("PnLPercent = %v, want %v", tr.PnLPercent, pnl/(size*entry)*100)
	}
	if math.Abs(tr.RMultiple-pnl/100) > 1e-9 {
		t.Errorf("RMultiple = %v, want %v", tr.RMultiple, pnl/100)
	}
	if math.Abs(res.FinalCapital-(10000+pnl)) > 1e-9 {
		t.Errorf("FinalCapital = %v, want %v", res.FinalCapital, 10000+pnl)
	}
}

func TestRunForceCloseAtEnd(t *testing.T) {
	bt := New(Config{InitialCapital: 10000, RiskPerTrade: 0.01, WarmupBars: 1})
	eval := &scriptedEvaluator{
		name: "scripted",
		proposals: map[int]domain.SignalProposal{
			1: {Side: domain.SideLong, EntryPrice: 100, StopLoss: 90, TakeProfits: []float64{200}},
		},
	}
	bars := []domain.Bar{
		mkbar(0, 100, 101, 99, 100),
		mkbar(1, 100, 101, 99, 100),
		mkbar(2, 100, 102, 99, 101),
		mkbar(3, 101, 102, 100, 101),
	}

	res := bt.Run("BTCUSDT", "1h", bars, eval)

	if res.TotalTrades != 1 {
		t.Fatalf("TotalTrades = %d, want 1", res.TotalTrades)
	}
	tr := res.Trades[0]
	if tr.ExitReason != domain.ExitEndOfData {
		t.Errorf("ExitReason = %s, want END_OF_DATA", tr.ExitReason)
	}
	if tr.ExitPrice != 101 {
		t.Errorf("ExitPrice = %v, want final close 101", tr.ExitPrice)
	}
	if tr.ExitTime != bars[3].Timestamp {
		t.Errorf("ExitTime = %v, want last bar time", tr.ExitTime)
	}
	// Size 10, one point gained.
	if tr.PnL != 10 {
		t.Errorf("PnL = %v, want 10", tr.PnL)
	}
	if got := res.EquityCurve[len(res.EquityCurve)-1]; got != 10010 {
		t.Errorf("final equity point = %v, want 10010", got)
	}
	if res.FinalCapital != 10010 {
		t.Errorf("FinalCapital = %v, want 10010", res.FinalCapital)
	}
}

func TestRunWarmupBlocksEntries(t *testing.T) {
	// Default warm-up is 200 bars; ten bars can never produce a trade even
	// with an evaluator that fires on every bar.
	bt := New(Config{InitialCapital: 10000, RiskPerTrade: 0.01})
	bars := make([]domain.Bar, 10)
	for i := range bars {
		bars[i] = mkbar(i, 100, 101, 99, 100)
	}

	res := bt.Run("BTCUSDT", "1h", bars, chaseEvaluator{})

	if res.TotalTrades != 0 {
		t.Fatalf("TotalTrades = %d, want 0", res.TotalTrades)
	}
	if len(res.EquityCurve) != len(bars)+1 {
		t.Fatalf("equity curve length = %d, want %d", len(res.EquityCurve), len(bars)+1)
	}
	for i, v := range res.EquityCurve {
		if v != 10000 {
			t.Fatalf("equity[%d] = %v, want flat 10000", i, v)
		}
	}
}

func TestRunEmptySeries(t *testing.T) {
	bt := New(Config{InitialCapital: 10000, RiskPerTrade: 0.01})

	res := bt.Run("BTCUSDT", "1h", nil, chaseEvaluator{})

	if res.TotalTrades != 0 {
		t.Errorf("TotalTrades = %d, want 0", res.TotalTrades)
	}
	if len(res.EquityCurve) != 1 || res.EquityCurve[0] != 10000 {
		t.Errorf("EquityCurve = %v, want single 10000 point", res.EquityCurve)
	}
	if res.FinalCapital != 10000 {
		t.Errorf("FinalCapital = %v, want 10000", res.FinalCapital)
	}
	if res.WinRate != 0 || res.ProfitFactor != 0 || res.SharpeRatio != 0 || res.MaxDrawdownPercent != 0 {
		t.Errorf("degenerate stats not zeroed: %v %v %v %v",
			res.WinRate, res.ProfitFactor, res.SharpeRatio, res.MaxDrawdownPercent)
	}
}

func TestRunDegenerateSizingSkipsEntry(t *testing.T) {
	bt := New(Config{InitialCapital: 10000, RiskPerTrade: 0.01, WarmupBars: 1})
	eval := &scriptedEvaluator{
		name: "scripted",
		proposals: map[int]domain.SignalProposal{
			1: {Side: domain.SideLong, EntryPrice: 100, StopLoss: 100, TakeProfits: []float64{103}},
		},
	}
	bars := []domain.Bar{
		mkbar(0, 100, 101, 99, 100),
		mkbar(1, 100, 101, 99, 100),
		mkbar(2, 100, 104, 99, 103),
	}

	res := bt.Run("BTCUSDT", "1h", bars, eval)

	if res.TotalTrades != 0 {
		t.Errorf("TotalTrades = %d, want 0 when entry equals stop", res.TotalTrades)
	}
	if res.FinalCapital != 10000 {
		t.Errorf("FinalCapital = %v, want untouched 10000", res.FinalCapital)
	}
}

func TestRunSinglePositionAndReentry(t *testing.T) {
	bt := New(Config{InitialCapital: 10000, RiskPerTrade: 0.01, WarmupBars: 1})
	bars := make([]domain.Bar, 5)
	for i := range bars {
		bars[i] = mkbar(i, 100, 101, 97, 100)
	}

	res := bt.Run("BTCUSDT", "1h", bars, chaseEvaluator{})

	// Entered at bar 1, stopped on bars 2..4 with a same-bar re-entry each
	// time, and the last position force-closed flat at the end.
	if res.TotalTrades != 4 {
		t.Fatalf("TotalTrades = %d, want 4", res.TotalTrades)
	}
	for i := 1; i < len(res.Trades); i++ {
		prev, cur := res.Trades[i-1], res.Trades[i]
		if cur.EntryTime.Before(prev.ExitTime) {
			t.Errorf("trade %d entered at %v before trade %d exited at %v",
				i, cur.EntryTime, i-1, prev.ExitTime)
		}
	}
	for i, tr := range res.Trades {
		if tr.Status != domain.TradeClosed {
			t.Errorf("trade %d status = %s, want CLOSED", i, tr.Status)
		}
	}
	last := res.Trades[len(res.Trades)-1]
	if last.ExitReason != domain.ExitEndOfData {
		t.Errorf("last ExitReason = %s, want END_OF_DATA", last.ExitReason)
	}
	if res.LosingTrades != 3 || res.BreakevenTrades != 1 || res.WinningTrades != 0 {
		t.Errorf("trade split = %d/%d/%d, want 0 wins, 3 losses, 1 breakeven",
			res.WinningTrades, res.LosingTrades, res.BreakevenTrades)
	}
}

func TestRunDeterministic(t *testing.T) {
	bt := New(Config{
		InitialCapital: 10000,
		RiskPerTrade:   0.01,
		FeeRate:        0.0004,
		SlippageRate:   0.0005,
		WarmupBars:     1,
	})
	bars := make([]domain.Bar, 40)
	for i := range bars {
		c := 100 + 5*math.Sin(float64(i)/3)
		bars[i] = mkbar(i, c, c+2, c-2.5, c)
	}

	a := bt.Run("BTCUSDT", "1h", bars, chaseEvaluator{})
	b := bt.Run("BTCUSDT", "1h", bars, chaseEvaluator{})

	if !reflect.DeepEqual(a, b) {
		t.Error("identical inputs produced different results")
	}
	if a.TotalTrades == 0 {
		t.Error("fixture produced no trades, nothing was exercised")
	}
}
