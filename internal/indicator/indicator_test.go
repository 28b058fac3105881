package indicator

import (
	"math"
	"testing"
	"time"

	"callisto/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEMASeededByFirstValue(t *testing.T) {
	// period 3 -> multiplier 0.5
	got := EMA([]float64{2, 4, 8, 4}, 3)
	want := []float64{2, 3, 5.5, 4.75}
	for i := range want {
		if !almostEqual(got[i], want[i]) {
			t.Errorf("EMA[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSMAWindow(t *testing.T) {
	got := SMA([]float64{1, 2, 3}, 2)
	if !math.IsNaN(got[0]) {
		t.Errorf("SMA[0] = %v, want NaN before window fills", got[0])
	}
	if !almostEqual(got[1], 1.5) || !almostEqual(got[2], 2.5) {
		t.Errorf("SMA = %v, want [NaN 1.5 2.5]", got)
	}
}

func TestSMANaNInWindow(t *testing.T) {
	got := SMA([]float64{math.NaN(), 2, 3, 4}, 2)
	if !math.IsNaN(got[1]) {
		t.Errorf("SMA[1] = %v, want NaN (NaN inside window)", got[1])
	}
	if !almostEqual(got[2], 2.5) {
		t.Errorf("SMA[2] = %v, want 2.5", got[2])
	}
}

func TestRollingStdSample(t *testing.T) {
	got := RollingStd([]float64{1, 2, 3, 4}, 3)
	// Sample std of {1,2,3} and {2,3,4} is 1.
	if !almostEqual(got[2], 1) || !almostEqual(got[3], 1) {
		t.Errorf("RollingStd = %v, want 1 at indices 2 and 3", got)
	}
	if !math.IsNaN(got[0]) || !math.IsNaN(got[1]) {
		t.Error("RollingStd should be NaN before window fills")
	}
}

func TestRSIExtremes(t *testing.T) {
	up := RSI([]float64{1, 2, 3, 4}, 2)
	if !almostEqual(up[2], 100) {
		t.Errorf("all-gains RSI = %v, want 100", up[2])
	}

	down := RSI([]float64{4, 3, 2, 1}, 2)
	if !almostEqual(down[2], 0) {
		t.Errorf("all-losses RSI = %v, want 0", down[2])
	}

	flat := RSI([]float64{5, 5, 5, 5}, 2)
	if !math.IsNaN(flat[3]) {
		t.Errorf("flat RSI = %v, want NaN", flat[3])
	}
}

func TestRSIBalanced(t *testing.T) {
	// Alternating +1/-1 deltas: average gain equals average loss -> RSI 50.
	got := RSI([]float64{10, 11, 10, 11, 10}, 2)
	if !almostEqual(got[2], 50) || !almostEqual(got[4], 50) {
		t.Errorf("balanced RSI = %v, want 50 at indices 2 and 4", got)
	}
}

func TestRSIWarmup(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	got := RSI(values, 5)
	for i := 0; i < 5; i++ {
		if !math.IsNaN(got[i]) {
			t.Errorf("RSI[%d] = %v, want NaN during warm-up", i, got[i])
		}
	}
	if math.IsNaN(got[5]) {
		t.Error("RSI[5] should be defined once period deltas accumulated")
	}
}

func TestATRTrueRange(t *testing.T) {
	bars := []domain.Bar{
		{High: 2, Low: 1, Close: 1.5},
		{High: 3, Low: 2, Close: 2.5},
	}
	got := ATR(bars, 2)
	// tr0 = 1 (high-low), tr1 = max(1, |3-1.5|, |2-1.5|) = 1.5
	if !almostEqual(got[1], 1.25) {
		t.Errorf("ATR[1] = %v, want 1.25", got[1])
	}
	if !math.IsNaN(got[0]) {
		t.Errorf("ATR[0] = %v, want NaN", got[0])
	}
}

func TestATRGapUsesPrevClose(t *testing.T) {
	// Gap down: the |low-prevClose| leg dominates.
	bars := []domain.Bar{
		{High: 100, Low: 99, Close: 100},
		{High: 95, Low: 94, Close: 94.5},
	}
	got := ATR(bars, 1)
	if !almostEqual(got[1], 6) {
		t.Errorf("ATR[1] = %v, want 6 (|94-100|)", got[1])
	}
}

func TestStochRSIRange(t *testing.T) {
	rsi := []float64{50, 60, 70, 80}
	stoch, _, _ := StochRSI(rsi, 3, 1, 1)
	// At i=2 window {50,60,70}: (70-50)/(70-50)*100 = 100.
	if !almostEqual(stoch[2], 100) {
		t.Errorf("StochRSI[2] = %v, want 100", stoch[2])
	}

	rsi = []float64{50, 60, 50, 40}
	stoch, _, _ = StochRSI(rsi, 3, 1, 1)
	// At i=3 window {60,50,40}: rsi at the window minimum -> 0.
	if !almostEqual(stoch[3], 0) {
		t.Errorf("StochRSI[3] = %v, want 0", stoch[3])
	}
}

func TestStochRSIFlatWindowNaN(t *testing.T) {
	rsi := []float64{50, 50, 50, 50}
	stoch, _, _ := StochRSI(rsi, 3, 1, 1)
	if !math.IsNaN(stoch[3]) {
		t.Errorf("flat-window StochRSI = %v, want NaN", stoch[3])
	}
}

// syntheticBars builds a deterministic wavy series long enough for every
// indicator window.
func syntheticBars(n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := range bars {
		move := math.Sin(float64(i)/7) * 2
		open := price
		price += move
		high := math.Max(open, price) + 0.5
		low := math.Min(open, price) - 0.5
		bars[i] = domain.Bar{
			Symbol:    "BTCUSDT",
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    1000 + 50*math.Cos(float64(i)/5),
		}
	}
	return bars
}

func TestComputeFrames(t *testing.T) {
	bars := syntheticBars(250)
	frames := Compute(bars)

	if len(frames) != len(bars) {
		t.Fatalf("Compute returned %d frames, want %d", len(frames), len(bars))
	}

	// EMA columns are defined from the first bar.
	if math.IsNaN(frames[0].EMA8) || math.IsNaN(frames[0].EMA200) {
		t.Error("EMA columns should be defined from index 0")
	}

	// RSI warm-up: NaN before the window, defined after.
	if !math.IsNaN(frames[5].RSI) {
		t.Errorf("frames[5].RSI = %v, want NaN", frames[5].RSI)
	}
	last := frames[len(frames)-1]
	if math.IsNaN(last.RSI) || math.IsNaN(last.ATR) || math.IsNaN(last.VolumeMA) {
		t.Error("RSI/ATR/VolumeMA should be defined at the end of a long series")
	}
	if math.IsNaN(last.StochK) || math.IsNaN(last.StochD) {
		t.Error("StochK/StochD should be defined at the end of a long series")
	}

	// Bollinger band ordering.
	if !(last.BBLower < last.BBMiddle && last.BBMiddle < last.BBUpper) {
		t.Errorf("Bollinger bands out of order: %v %v %v", last.BBLower, last.BBMiddle, last.BBUpper)
	}

	// The input bars are carried through unchanged.
	if last.Close != bars[len(bars)-1].Close {
		t.Error("Compute must not alter bar values")
	}
}

func TestComputeDeterministic(t *testing.T) {
	bars := syntheticBars(220)
	a := Compute(bars)
	b := Compute(bars)
	for i := range a {
		if a[i].EMA21 != b[i].EMA21 && !(math.IsNaN(a[i].EMA21) && math.IsNaN(b[i].EMA21)) {
			t.Fatalf("frame %d differs between identical runs", i)
		}
		if a[i].RSI != b[i].RSI && !(math.IsNaN(a[i].RSI) && math.IsNaN(b[i].RSI)) {
			t.Fatalf("frame %d RSI differs between identical runs", i)
		}
	}
}
