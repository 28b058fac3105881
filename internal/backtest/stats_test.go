package backtest

import (
	"math"
	"reflect"
	"testing"
)

func TestReturns(t *testing.T) {
	got := Returns([]float64{1024, 1536, 768})
	want := []float64{0.5, -0.5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Returns = %v, want %v", got, want)
	}

	if got := Returns([]float64{10000}); got != nil {
		t.Errorf("single point Returns = %v, want nil", got)
	}
	// Steps from zero equity are skipped rather than divided by.
	got = Returns([]float64{0, 512, 1024})
	want = []float64{1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Returns with zero start = %v, want %v", got, want)
	}
}

func TestSharpeRatio(t *testing.T) {
	// Mean 0.5, population deviation 0.25.
	got := SharpeRatio([]float64{0.75, 0.25})
	want := 2 * math.Sqrt(252)
	if got != want {
		t.Errorf("SharpeRatio = %v, want %v", got, want)
	}

	if got := SharpeRatio(nil); got != 0 {
		t.Errorf("SharpeRatio(nil) = %v, want 0", got)
	}
	if got := SharpeRatio([]float64{0.01}); got != 0 {
		t.Errorf("single sample SharpeRatio = %v, want 0", got)
	}
	if got := SharpeRatio([]float64{0.25, 0.25, 0.25}); got != 0 {
		t.Errorf("zero volatility SharpeRatio = %v, want 0", got)
	}
}

func TestSortinoRatio(t *testing.T) {
	// Overall mean 0.0625; downside {-0.25, -0.75} has deviation 0.25.
	got := SortinoRatio([]float64{0.5, -0.25, 0.75, -0.75})
	want := 0.25 * math.Sqrt(252)
	if got != want {
		t.Errorf("SortinoRatio = %v, want %v", got, want)
	}

	if got := SortinoRatio([]float64{0.5, 0.25}); got != 0 {
		t.Errorf("all-positive SortinoRatio = %v, want 0", got)
	}
	// A single downside sample has zero spread.
	if got := SortinoRatio([]float64{0.5, -0.25}); got != 0 {
		t.Errorf("single downside SortinoRatio = %v, want 0", got)
	}
}

func TestCalmarRatio(t *testing.T) {
	if got := CalmarRatio(50, 25); got != 2 {
		t.Errorf("CalmarRatio(50, 25) = %v, want 2", got)
	}
	if got := CalmarRatio(50, 0); got != 0 {
		t.Errorf("CalmarRatio with zero drawdown = %v, want 0", got)
	}
	if got := CalmarRatio(-50, 25); got != -2 {
		t.Errorf("CalmarRatio(-50, 25) = %v, want -2", got)
	}
}

func TestMaxDrawdown(t *testing.T) {
	abs, pct := MaxDrawdown([]float64{1024, 2048, 1024, 1536, 512})
	if abs != 1536 || pct != 75 {
		t.Errorf("MaxDrawdown = %v/%v%%, want 1536/75%%", abs, pct)
	}

	abs, pct = MaxDrawdown([]float64{1000, 1100, 1200})
	if abs != 0 || pct != 0 {
		t.Errorf("rising curve MaxDrawdown = %v/%v%%, want 0/0", abs, pct)
	}

	abs, pct = MaxDrawdown(nil)
	if abs != 0 || pct != 0 {
		t.Errorf("empty MaxDrawdown = %v/%v%%, want 0/0", abs, pct)
	}
}

func TestDrawdownCurve(t *testing.T) {
	got := DrawdownCurve([]float64{1024, 2048, 1024, 512})
	want := []float64{0, 0, 50, 75}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DrawdownCurve = %v, want %v", got, want)
	}
}
