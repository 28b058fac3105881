package builtins

import (
	"math"
	"testing"
	"time"

	"callisto/internal/domain"
)

func bar(close float64) domain.Bar {
	return domain.Bar{
		Symbol:    "BTCUSDT",
		Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Open:      close,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    2000,
	}
}

// crossoverSetup returns a prev/cur frame pair with a fresh bullish EMA
// crossover and every auxiliary confirmation passing under the optimized
// thresholds.
func crossoverSetup() (prev, cur domain.IndicatorBar) {
	prev = domain.IndicatorBar{
		Bar:   bar(100),
		EMA8:  99.5,
		EMA21: 100,
		EMA50: 99, EMA200: 95,
		RSI: 55, ATR: 1, VolumeMA: 1000,
	}
	cur = domain.IndicatorBar{
		Bar:   bar(102),
		EMA8:  101,
		EMA21: 100.5,
		EMA50: 100, EMA200: 95,
		RSI: 60, ATR: 1, VolumeMA: 1000,
	}
	return prev, cur
}

func TestEMACrossLongProposal(t *testing.T) {
	prev, cur := crossoverSetup()
	e := NewOptimizedEMACross()

	got := e.Evaluate([]domain.IndicatorBar{prev, cur}, 1)
	if got == nil {
		t.Fatal("Evaluate returned nil for a fully confirmed crossover")
	}
	if got.Side != domain.SideLong {
		t.Errorf("Side = %q, want LONG", got.Side)
	}
	if got.Confirmations != 6 {
		t.Errorf("Confirmations = %d, want 6", got.Confirmations)
	}
	if got.EntryPrice != 102 {
		t.Errorf("EntryPrice = %v, want 102", got.EntryPrice)
	}
	if got.StopLoss != 100 {
		t.Errorf("StopLoss = %v, want 100 (entry - 2*ATR)", got.StopLoss)
	}
	wantTPs := []float64{105, 107, 109}
	for i, tp := range wantTPs {
		if got.TakeProfits[i] != tp {
			t.Errorf("TakeProfits[%d] = %v, want %v", i, got.TakeProfits[i], tp)
		}
	}
	if got.Strategy != "ema_crossover" {
		t.Errorf("Strategy = %q, want ema_crossover", got.Strategy)
	}
}

func TestEMACrossNoTriggerNoProposal(t *testing.T) {
	prev, cur := crossoverSetup()
	// Remove the crossover: fast already above slow on the previous bar.
	prev.EMA8 = 100.5

	e := NewOptimizedEMACross()
	if got := e.Evaluate([]domain.IndicatorBar{prev, cur}, 1); got != nil {
		t.Errorf("Evaluate = %+v, want nil without a crossover trigger", got)
	}
}

func TestEMACrossShortMirrored(t *testing.T) {
	prev := domain.IndicatorBar{
		Bar:   bar(100),
		EMA8:  100.5,
		EMA21: 100,
		EMA50: 101, EMA200: 105,
		RSI: 45, ATR: 1, VolumeMA: 1000,
	}
	cur := domain.IndicatorBar{
		Bar:   bar(98),
		EMA8:  99,
		EMA21: 99.5,
		EMA50: 100, EMA200: 105,
		RSI: 40, ATR: 1, VolumeMA: 1000,
	}

	e := NewOptimizedEMACross()
	got := e.Evaluate([]domain.IndicatorBar{prev, cur}, 1)
	if got == nil {
		t.Fatal("Evaluate returned nil for a fully confirmed bearish crossover")
	}
	if got.Side != domain.SideShort {
		t.Errorf("Side = %q, want SHORT", got.Side)
	}
	if got.StopLoss != 100 {
		t.Errorf("StopLoss = %v, want 100 (entry + 2*ATR)", got.StopLoss)
	}
	if got.TakeProfits[0] != 95 || got.TakeProfits[2] != 91 {
		t.Errorf("TakeProfits = %v, want [95 93 91]", got.TakeProfits)
	}
}

func TestEMACrossVariantThresholds(t *testing.T) {
	prev, cur := crossoverSetup()
	// RSI 78 is outside the optimized band but inside the relaxed one;
	// volume at exactly the average fails both volume checks.
	cur.RSI = 78
	cur.Volume = 1000

	frames := []domain.IndicatorBar{prev, cur}

	if got := NewOptimizedEMACross().Evaluate(frames, 1); got != nil {
		t.Errorf("optimized variant accepted 4 confirmations: %+v", got)
	}

	got := NewRelaxedEMACross().Evaluate(frames, 1)
	if got == nil {
		t.Fatal("relaxed variant rejected 5 confirmations")
	}
	if got.Confirmations != 5 {
		t.Errorf("Confirmations = %d, want 5", got.Confirmations)
	}
}

func TestEMACrossExactMinimumAccepted(t *testing.T) {
	prev, cur := crossoverSetup()
	// Fail only the volume check: 5 of 6 is exactly the optimized minimum.
	cur.Volume = 1000

	got := NewOptimizedEMACross().Evaluate([]domain.IndicatorBar{prev, cur}, 1)
	if got == nil {
		t.Fatal("Evaluate rejected a proposal at exactly the minimum confirmations")
	}
	if got.Confirmations != 5 {
		t.Errorf("Confirmations = %d, want 5", got.Confirmations)
	}
}

func TestEMACrossUndefinedIndicatorsSkipped(t *testing.T) {
	prev, cur := crossoverSetup()
	cur.ATR = math.NaN()

	if got := NewOptimizedEMACross().Evaluate([]domain.IndicatorBar{prev, cur}, 1); got != nil {
		t.Errorf("Evaluate = %+v, want nil when ATR is undefined", got)
	}
}

func TestEMACrossFirstBarSkipped(t *testing.T) {
	_, cur := crossoverSetup()
	if got := NewOptimizedEMACross().Evaluate([]domain.IndicatorBar{cur}, 0); got != nil {
		t.Errorf("Evaluate = %+v, want nil at index 0", got)
	}
}

// ---------------------------------------------------------------------------
// Stochastic RSI
// ---------------------------------------------------------------------------

func TestStochRSILongFromOversold(t *testing.T) {
	prev := domain.IndicatorBar{
		Bar:    bar(100),
		StochK: 10, StochD: 12,
		EMA50: 100, EMA200: 99,
		RSI: 35, ATR: 2, VolumeMA: 1000,
	}
	cur := domain.IndicatorBar{
		Bar:    bar(100),
		StochK: 15, StochD: 14,
		EMA50: 100, EMA200: 99,
		RSI: 35, ATR: 2, VolumeMA: 1000,
	}

	got := NewDefaultStochRSI().Evaluate([]domain.IndicatorBar{prev, cur}, 1)
	if got == nil {
		t.Fatal("Evaluate returned nil for a fully confirmed oversold bounce")
	}
	if got.Side != domain.SideLong {
		t.Errorf("Side = %q, want LONG", got.Side)
	}
	if got.Confirmations != 6 {
		t.Errorf("Confirmations = %d, want 6", got.Confirmations)
	}
	if got.StopLoss != 97 {
		t.Errorf("StopLoss = %v, want 97 (entry - 1.5*ATR)", got.StopLoss)
	}
	wantTPs := []float64{103, 105, 108}
	for i, tp := range wantTPs {
		if got.TakeProfits[i] != tp {
			t.Errorf("TakeProfits[%d] = %v, want %v", i, got.TakeProfits[i], tp)
		}
	}
}

func TestStochRSIShortFromOverbought(t *testing.T) {
	prev := domain.IndicatorBar{
		Bar:    bar(100),
		StochK: 90, StochD: 88,
		EMA50: 99, EMA200: 100,
		RSI: 65, ATR: 2, VolumeMA: 1000,
	}
	cur := domain.IndicatorBar{
		Bar:    bar(100),
		StochK: 85, StochD: 86,
		EMA50: 99, EMA200: 100,
		RSI: 65, ATR: 2, VolumeMA: 1000,
	}

	got := NewDefaultStochRSI().Evaluate([]domain.IndicatorBar{prev, cur}, 1)
	if got == nil {
		t.Fatal("Evaluate returned nil for a fully confirmed overbought rejection")
	}
	if got.Side != domain.SideShort {
		t.Errorf("Side = %q, want SHORT", got.Side)
	}
	if got.StopLoss != 103 {
		t.Errorf("StopLoss = %v, want 103 (entry + 1.5*ATR)", got.StopLoss)
	}
}

func TestStochRSINoTriggerMidRange(t *testing.T) {
	prev := domain.IndicatorBar{
		Bar:    bar(100),
		StochK: 50, StochD: 50,
		EMA50: 100, EMA200: 99,
		RSI: 50, ATR: 2, VolumeMA: 1000,
	}
	cur := prev

	if got := NewDefaultStochRSI().Evaluate([]domain.IndicatorBar{prev, cur}, 1); got != nil {
		t.Errorf("Evaluate = %+v, want nil in mid-range", got)
	}
}

func TestStochRSITriggerWithoutConfirmations(t *testing.T) {
	// K at 28 triggers oversold, but every scored confirmation fails: not
	// extreme, no bounce pattern, no K/D cross, opposing trend, weak volume,
	// RSI above the sane band.
	prev := domain.IndicatorBar{
		Bar:    bar(100),
		StochK: 35, StochD: 30,
		EMA50: 95, EMA200: 100,
		RSI: 55, ATR: 2, VolumeMA: 1000,
	}
	cur := domain.IndicatorBar{
		Bar:    bar(100),
		StochK: 28, StochD: 30,
		EMA50: 95, EMA200: 100,
		RSI: 55, ATR: 2, VolumeMA: 1000,
	}
	cur.Volume = 900

	if got := NewDefaultStochRSI().Evaluate([]domain.IndicatorBar{prev, cur}, 1); got != nil {
		t.Errorf("Evaluate = %+v, want nil with zero confirmations", got)
	}
}

func TestStochRSIBounceTrigger(t *testing.T) {
	// K has already left the oversold zone (32) but bounced from 25 on the
	// previous bar, which still arms the trigger.
	prev := domain.IndicatorBar{
		Bar:    bar(100),
		StochK: 25, StochD: 26,
		EMA50: 100, EMA200: 99,
		RSI: 40, ATR: 2, VolumeMA: 1000,
	}
	cur := domain.IndicatorBar{
		Bar:    bar(100),
		StochK: 32, StochD: 28,
		EMA50: 100, EMA200: 99,
		RSI: 40, ATR: 2, VolumeMA: 1000,
	}

	got := NewDefaultStochRSI().Evaluate([]domain.IndicatorBar{prev, cur}, 1)
	if got == nil {
		t.Fatal("Evaluate returned nil for a bounce out of oversold")
	}
	if got.Side != domain.SideLong {
		t.Errorf("Side = %q, want LONG", got.Side)
	}
	// Extreme level fails (32 > 20); the other five confirmations pass.
	if got.Confirmations != 5 {
		t.Errorf("Confirmations = %d, want 5", got.Confirmations)
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	names := r.List()
	want := []string{"ema_crossover", "relaxed_ema", "stochastic_rsi"}
	if len(names) != len(want) {
		t.Fatalf("List returned %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
