package engine

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"callisto/internal/broker"
	"callisto/internal/domain"
)

var testLimits = Limits{
	RiskPerTrade:         0.01,
	MaxDailyDrawdown:     0.06,
	MaxTotalDrawdown:     0.20,
	MaxPositions:         3,
	MaxLeverage:          3,
	MaxPositionSize:      0.5,
	MaxStopLossDistance:  0.05,
	MinRiskReward:        1.0,
	MaxTradesPerDay:      20,
	MaxConsecutiveLosses: 5,
	Cooldown:             time.Hour,
}

// memBars serves a fixed in-memory series per symbol; the last close can be
// moved to simulate new ticks.
type memBars struct {
	mu   sync.Mutex
	data map[string][]domain.Bar
}

func newMemBars(symbols []string, n int) *memBars {
	m := &memBars{data: make(map[string][]domain.Bar)}
	end := time.Now().UTC().Add(-time.Second)
	for _, sym := range symbols {
		bars := make([]domain.Bar, n)
		for i := range bars {
			bars[i] = domain.Bar{
				Symbol:    sym,
				Timestamp: end.Add(-time.Duration(n-1-i) * time.Minute),
				Open:      100,
				High:      101,
				Low:       99,
				Close:     100,
				Volume:    1000,
			}
		}
		m.data[sym] = bars
	}
	return m
}

func (m *memBars) setLastClose(symbol string, close float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bars := m.data[symbol]
	bars[len(bars)-1].Close = close
}

func (m *memBars) WriteBars(ctx context.Context, bars []domain.Bar, timeframe string) error {
	return nil
}

func (m *memBars) ReadBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]domain.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Bar
	for _, b := range m.data[symbol] {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memBars) ListSymbols(ctx context.Context, timeframe string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.data))
	for s := range m.data {
		names = append(names, s)
	}
	return names, nil
}

// memState keeps the engine snapshot as marshaled JSON, like the SQLite
// store does.
type memState struct {
	mu   sync.Mutex
	data []byte
}

func (m *memState) SaveEngineState(ctx context.Context, state any) error {
	buf, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = buf
	m.mu.Unlock()
	return nil
}

func (m *memState) LoadEngineState(ctx context.Context, dst any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return false, nil
	}
	return true, json.Unmarshal(m.data, dst)
}

// pulseEvaluator proposes a long off the latest close while armed.
type pulseEvaluator struct {
	mu    sync.Mutex
	armed bool
}

func (p *pulseEvaluator) Name() string { return "pulse" }

func (p *pulseEvaluator) arm(v bool) {
	p.mu.Lock()
	p.armed = v
	p.mu.Unlock()
}

func (p *pulseEvaluator) Evaluate(frames []domain.IndicatorBar, i int) *domain.SignalProposal {
	p.mu.Lock()
	armed := p.armed
	p.mu.Unlock()
	if !armed {
		return nil
	}
	f := frames[i]
	return &domain.SignalProposal{
		Strategy:    "pulse",
		Symbol:      f.Symbol,
		Timestamp:   f.Timestamp,
		Side:        domain.SideLong,
		EntryPrice:  f.Close,
		StopLoss:    f.Close * 0.98,
		TakeProfits: []float64{f.Close * 1.03},
	}
}

type fixture struct {
	engine *Engine
	bars   *memBars
	state  *memState
	eval   *pulseEvaluator
	risk   *RiskManager
}

func newFixture(t *testing.T, pairs []string, barCount int) *fixture {
	t.Helper()
	bars := newMemBars(pairs, barCount)
	state := &memState{}
	eval := &pulseEvaluator{armed: true}
	risk := NewRiskManager(testLimits, 10000, nil)

	eng, err := New(Options{
		Broker:    broker.NewPaperBroker(10000, 0, 0),
		Bars:      bars,
		State:     state,
		Evaluator: eval,
		Risk:      risk,
		Pairs:     pairs,
		Timeframe: "1m",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{engine: eng, bars: bars, state: state, eval: eval, risk: risk}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	if err == nil {
		t.Fatal("New with empty options succeeded")
	}
}

func TestScanOpensPosition(t *testing.T) {
	f := newFixture(t, []string{"BTCUSDT"}, 240)
	ctx := context.Background()

	f.engine.scan(ctx)

	positions := f.engine.Positions()
	if len(positions) != 1 {
		t.Fatalf("open positions = %d, want 1", len(positions))
	}
	p := positions[0]
	if p.Symbol != "BTCUSDT" || p.Side != domain.SideLong {
		t.Errorf("position = %s %s, want BTCUSDT LONG", p.Symbol, p.Side)
	}
	if p.EntryPrice != 100 {
		t.Errorf("entry = %v, want 100", p.EntryPrice)
	}
	// 1% of 10k at a 2-point stop distance.
	if want := 50.0; math.Abs(p.Size-want) > 1e-9 {
		t.Errorf("size = %v, want %v", p.Size, want)
	}
	if got := f.risk.Stats().OpenPositions; got != 1 {
		t.Errorf("risk open positions = %d, want 1", got)
	}
	// The fill was persisted.
	var st State
	found, err := f.state.LoadEngineState(ctx, &st)
	if err != nil || !found {
		t.Fatalf("snapshot after open: found=%v err=%v", found, err)
	}
	if len(st.Positions) != 1 {
		t.Errorf("persisted positions = %d, want 1", len(st.Positions))
	}
}

func TestScanSkipsShortHistory(t *testing.T) {
	f := newFixture(t, []string{"BTCUSDT"}, 50)
	f.engine.scan(context.Background())
	if got := len(f.engine.Positions()); got != 0 {
		t.Errorf("open positions = %d, want 0 with only 50 bars", got)
	}
}

func TestScanOneEntryPerCycle(t *testing.T) {
	f := newFixture(t, []string{"BTCUSDT", "ETHUSDT"}, 240)
	ctx := context.Background()

	f.engine.scan(ctx)
	if got := len(f.engine.Positions()); got != 1 {
		t.Fatalf("positions after first scan = %d, want 1", got)
	}
	f.engine.scan(ctx)
	if got := len(f.engine.Positions()); got != 2 {
		t.Fatalf("positions after second scan = %d, want 2", got)
	}
	// Both pairs taken; a third scan finds nothing to do.
	f.engine.scan(ctx)
	if got := len(f.engine.Positions()); got != 2 {
		t.Errorf("positions after third scan = %d, want 2", got)
	}
}

func TestMonitorClosesAtTakeProfit(t *testing.T) {
	f := newFixture(t, []string{"BTCUSDT"}, 240)
	ctx := context.Background()

	f.engine.scan(ctx)
	f.eval.arm(false)

	// Price reaches the first take-profit (103).
	f.bars.setLastClose("BTCUSDT", 103.5)
	f.engine.monitor(ctx)

	if got := len(f.engine.Positions()); got != 0 {
		t.Fatalf("open positions = %d, want 0 after take-profit", got)
	}
	trades := f.engine.Trades()
	if len(trades) != 1 {
		t.Fatalf("closed trades = %d, want 1", len(trades))
	}
	tr := trades[0]
	if tr.ExitReason != domain.ExitTP1 {
		t.Errorf("exit reason = %s, want TP1", tr.ExitReason)
	}
	if want := 175.0; math.Abs(tr.PnL-want) > 1e-9 {
		t.Errorf("pnl = %v, want %v", tr.PnL, want)
	}
	if want := 10175.0; math.Abs(f.risk.Capital()-want) > 1e-9 {
		t.Errorf("capital = %v, want %v", f.risk.Capital(), want)
	}
}

func TestMonitorClosesAtStop(t *testing.T) {
	f := newFixture(t, []string{"BTCUSDT"}, 240)
	ctx := context.Background()

	f.engine.scan(ctx)
	f.eval.arm(false)

	f.bars.setLastClose("BTCUSDT", 97.5)
	f.engine.monitor(ctx)

	trades := f.engine.Trades()
	if len(trades) != 1 {
		t.Fatalf("closed trades = %d, want 1", len(trades))
	}
	if trades[0].ExitReason != domain.ExitStopLoss {
		t.Errorf("exit reason = %s, want STOP_LOSS", trades[0].ExitReason)
	}
	if trades[0].PnL >= 0 {
		t.Errorf("pnl = %v, want a loss", trades[0].PnL)
	}
	if got := f.risk.Stats().ConsecutiveLosses; got != 1 {
		t.Errorf("consecutive losses = %d, want 1", got)
	}
}

func TestMonitorHoldsInsideRange(t *testing.T) {
	f := newFixture(t, []string{"BTCUSDT"}, 240)
	ctx := context.Background()

	f.engine.scan(ctx)
	f.eval.arm(false)

	f.bars.setLastClose("BTCUSDT", 101)
	f.engine.monitor(ctx)

	if got := len(f.engine.Positions()); got != 1 {
		t.Errorf("open positions = %d, want 1 while price is between stop and TP", got)
	}
}

func TestExitReason(t *testing.T) {
	long := &domain.SimulatedTrade{
		Side: domain.SideLong, StopLoss: 98, TakeProfits: []float64{103},
	}
	short := &domain.SimulatedTrade{
		Side: domain.SideShort, StopLoss: 102, TakeProfits: []float64{97},
	}
	ladder := &domain.SimulatedTrade{
		Side: domain.SideLong, StopLoss: 98, TakeProfits: []float64{103, 105, 107},
	}
	cases := []struct {
		name    string
		trade   *domain.SimulatedTrade
		price   float64
		want    domain.ExitReason
		wantHit bool
	}{
		{"long stop", long, 97.9, domain.ExitStopLoss, true},
		{"long tp", long, 103.2, domain.ExitTP1, true},
		{"long hold", long, 100, "", false},
		{"long ladder first level", ladder, 103.5, domain.ExitTP1, true},
		{"short stop", short, 102.5, domain.ExitStopLoss, true},
		{"short tp", short, 96.8, domain.ExitTP1, true},
		{"short hold", short, 100, "", false},
	}
	for _, c := range cases {
		reason, hit := exitReason(c.trade, c.price)
		if hit != c.wantHit || reason != c.want {
			t.Errorf("%s: exitReason = (%s, %v), want (%s, %v)", c.name, reason, hit, c.want, c.wantHit)
		}
	}
}

func TestRestoreResumesState(t *testing.T) {
	f := newFixture(t, []string{"BTCUSDT"}, 240)
	ctx := context.Background()

	f.engine.scan(ctx)
	if got := len(f.engine.Positions()); got != 1 {
		t.Fatalf("seed engine positions = %d, want 1", got)
	}

	// A fresh engine on the same state store resumes the position book and
	// the risk counters.
	risk2 := NewRiskManager(testLimits, 10000, nil)
	eng2, err := New(Options{
		Broker:    broker.NewPaperBroker(10000, 0, 0),
		Bars:      f.bars,
		State:     f.state,
		Evaluator: &pulseEvaluator{},
		Risk:      risk2,
		Pairs:     []string{"BTCUSDT"},
		Timeframe: "1m",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := eng2.restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	positions := eng2.Positions()
	if len(positions) != 1 || positions[0].Symbol != "BTCUSDT" {
		t.Fatalf("restored positions = %+v, want the open BTCUSDT trade", positions)
	}
	if got := risk2.Stats().OpenPositions; got != 1 {
		t.Errorf("restored risk open positions = %d, want 1", got)
	}
	if got := risk2.Stats().DailyTrades; got != 1 {
		t.Errorf("restored daily trades = %d, want 1", got)
	}
}

func TestShutdownClosesAllPositions(t *testing.T) {
	f := newFixture(t, []string{"BTCUSDT", "ETHUSDT"}, 240)
	ctx := context.Background()

	f.engine.scan(ctx)
	f.engine.scan(ctx)
	if got := len(f.engine.Positions()); got != 2 {
		t.Fatalf("positions before shutdown = %d, want 2", got)
	}

	if err := f.engine.shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := len(f.engine.Positions()); got != 0 {
		t.Errorf("positions after shutdown = %d, want 0", got)
	}
	for _, tr := range f.engine.Trades() {
		if tr.ExitReason != domain.ExitShutdown {
			t.Errorf("%s exit reason = %s, want SHUTDOWN", tr.Symbol, tr.ExitReason)
		}
	}
	// The final snapshot carries no open positions.
	var st State
	if found, err := f.state.LoadEngineState(ctx, &st); err != nil || !found {
		t.Fatalf("final snapshot: found=%v err=%v", found, err)
	}
	if len(st.Positions) != 0 || len(st.Trades) != 2 {
		t.Errorf("snapshot = %d positions / %d trades, want 0 / 2", len(st.Positions), len(st.Trades))
	}
}

func TestStatusReflectsBook(t *testing.T) {
	f := newFixture(t, []string{"BTCUSDT"}, 240)
	f.engine.scan(context.Background())

	st := f.engine.Status()
	if st.Broker != "paper" || st.Strategy != "pulse" || st.Timeframe != "1m" {
		t.Errorf("status header = %s/%s/%s", st.Broker, st.Strategy, st.Timeframe)
	}
	if len(st.Positions) != 1 || st.Risk.OpenPositions != 1 {
		t.Errorf("status book = %d positions, risk %d", len(st.Positions), st.Risk.OpenPositions)
	}
}

func TestRiskValidateTrade(t *testing.T) {
	r := NewRiskManager(testLimits, 10000, nil)

	if err := r.ValidateTrade(100, 98, []float64{103}, 2); err != nil {
		t.Errorf("valid trade rejected: %v", err)
	}
	if err := r.ValidateTrade(100, 0, []float64{103}, 1); err == nil {
		t.Error("missing stop accepted")
	}
	if err := r.ValidateTrade(100, 90, []float64{115}, 1); err == nil {
		t.Error("10% stop distance accepted with a 5% limit")
	}
	if err := r.ValidateTrade(100, 98, []float64{101}, 1); err == nil {
		t.Error("0.5 reward:risk accepted with a 1.0 minimum")
	}
	if err := r.ValidateTrade(100, 98, []float64{103}, 5); err == nil {
		t.Error("5x leverage accepted with a 3x cap")
	}
}

func TestRiskPositionSizeCap(t *testing.T) {
	limits := testLimits
	limits.MaxPositionSize = 0.2
	r := NewRiskManager(limits, 10000, nil)

	// Uncapped sizing would be 100 risk / 0.5 distance = 200 units at $100:
	// $20k notional, far above the 20% cap.
	qty, valueUSD, riskUSD := r.PositionSize(100, 99.5)
	if want := 2000.0; valueUSD != want {
		t.Errorf("valueUSD = %v, want %v", valueUSD, want)
	}
	if want := 20.0; qty != want {
		t.Errorf("qty = %v, want %v", qty, want)
	}
	if want := 10.0; math.Abs(riskUSD-want) > 1e-9 {
		t.Errorf("riskUSD = %v, want %v", riskUSD, want)
	}
}

func TestRiskCooldownAfterLosses(t *testing.T) {
	limits := testLimits
	limits.MaxConsecutiveLosses = 2
	r := NewRiskManager(limits, 10000, nil)

	r.RecordClose(-50)
	r.RecordClose(-50)
	if err := r.CanOpen(); err == nil {
		t.Fatal("CanOpen succeeded after hitting the loss streak limit")
	}
	if !r.Stats().InCooldown {
		t.Error("InCooldown = false during cooldown")
	}
	// A win clears the streak and the cooldown.
	r.RecordClose(100)
	if err := r.CanOpen(); err != nil {
		t.Errorf("CanOpen after a win: %v", err)
	}
}
