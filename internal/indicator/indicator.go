// Package indicator computes derived series (EMA, RSI, ATR, volume MA,
// Bollinger bands, Stochastic RSI) over ordered bar data. All functions are
// pure: they never mutate their inputs and produce identical output for
// identical input. Positions without sufficient window history are NaN.
package indicator

import (
	"math"

	"callisto/internal/domain"
)

// Window sizes shared by every evaluator. EMA lengths are fixed columns on
// the IndicatorBar frame (8/21/50/200).
const (
	RSIPeriod       = 14
	ATRPeriod       = 14
	VolumeMAPeriod  = 20
	BollingerPeriod = 20
	BollingerWidth  = 2.0
	StochRSIPeriod  = 14
	StochSmoothK    = 3
	StochSmoothD    = 3
)

// Compute augments an ordered bar series with all derived indicator columns.
// The returned slice has the same length and order as bars.
func Compute(bars []domain.Bar) []domain.IndicatorBar {
	n := len(bars)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}

	ema8 := EMA(closes, 8)
	ema21 := EMA(closes, 21)
	ema50 := EMA(closes, 50)
	ema200 := EMA(closes, 200)
	rsi := RSI(closes, RSIPeriod)
	atr := ATR(bars, ATRPeriod)
	volMA := SMA(volumes, VolumeMAPeriod)
	bbMid := SMA(closes, BollingerPeriod)
	bbStd := RollingStd(closes, BollingerPeriod)
	stoch, k, d := StochRSI(rsi, StochRSIPeriod, StochSmoothK, StochSmoothD)

	frames := make([]domain.IndicatorBar, n)
	for i := range bars {
		frames[i] = domain.IndicatorBar{
			Bar:      bars[i],
			EMA8:     ema8[i],
			EMA21:    ema21[i],
			EMA50:    ema50[i],
			EMA200:   ema200[i],
			RSI:      rsi[i],
			ATR:      atr[i],
			VolumeMA: volMA[i],
			BBUpper:  bbMid[i] + BollingerWidth*bbStd[i],
			BBMiddle: bbMid[i],
			BBLower:  bbMid[i] - BollingerWidth*bbStd[i],
			StochRSI: stoch[i],
			StochK:   k[i],
			StochD:   d[i],
		}
	}
	return frames
}

// ---------------------------------------------------------------------------
// Primitives
// ---------------------------------------------------------------------------

// EMA returns the exponential moving average with multiplier 2/(period+1),
// seeded by the first value. Defined from index 0; there is no SMA warm-up
// special case.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	k := 2.0 / (float64(period) + 1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// SMA returns the simple rolling mean over period. Positions before the
// window is full, or whose window contains NaN, are NaN.
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	var sum float64
	nanCount := 0
	for i, v := range values {
		if math.IsNaN(v) {
			nanCount++
		} else {
			sum += v
		}
		if i >= period {
			old := values[i-period]
			if math.IsNaN(old) {
				nanCount--
			} else {
				sum -= old
			}
		}
		if i >= period-1 && nanCount == 0 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// RollingStd returns the rolling sample standard deviation (n-1 denominator)
// over period, NaN until the window is full.
func RollingStd(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 1 || len(values) < period {
		return out
	}
	var sum, sumSq float64
	nanCount := 0
	for i, v := range values {
		if math.IsNaN(v) {
			nanCount++
		} else {
			sum += v
			sumSq += v * v
		}
		if i >= period {
			old := values[i-period]
			if math.IsNaN(old) {
				nanCount--
			} else {
				sum -= old
				sumSq -= old * old
			}
		}
		if i >= period-1 && nanCount == 0 {
			n := float64(period)
			variance := (sumSq - sum*sum/n) / (n - 1)
			if variance < 0 {
				variance = 0 // guard tiny negative from float cancellation
			}
			out[i] = math.Sqrt(variance)
		}
	}
	return out
}

// RSI returns the relative strength index computed from rolling mean gains
// and losses over period. NaN until period deltas have accumulated. A window
// with zero losses yields 100; a perfectly flat window stays NaN.
func RSI(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if len(values) < period+1 {
		return out
	}

	gains := nanSlice(len(values))
	losses := nanSlice(len(values))
	for i := 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gains[i], losses[i] = d, 0
		} else {
			gains[i], losses[i] = 0, -d
		}
	}

	avgGain := SMA(gains, period)
	avgLoss := SMA(losses, period)
	for i := range out {
		g, l := avgGain[i], avgLoss[i]
		if math.IsNaN(g) || math.IsNaN(l) {
			continue
		}
		if l == 0 {
			if g > 0 {
				out[i] = 100
			}
			continue
		}
		out[i] = 100 - 100/(1+g/l)
	}
	return out
}

// ATR returns the rolling mean of the true range over period. The first
// bar's true range is its high-low span; later bars take the max of
// high-low, |high-prevClose| and |low-prevClose|.
func ATR(bars []domain.Bar, period int) []float64 {
	tr := make([]float64, len(bars))
	for i, b := range bars {
		hl := b.High - b.Low
		if i == 0 {
			tr[i] = hl
			continue
		}
		pc := bars[i-1].Close
		tr[i] = math.Max(hl, math.Max(math.Abs(b.High-pc), math.Abs(b.Low-pc)))
	}
	return SMA(tr, period)
}

// StochRSI normalizes an RSI series against its own rolling min/max range,
// scaled 0-100, and smooths it into %K and %D lines. A zero range (flat RSI
// window) yields NaN for that position.
func StochRSI(rsi []float64, period, smoothK, smoothD int) (stoch, k, d []float64) {
	n := len(rsi)
	stoch = nanSlice(n)
	lo := rollingMin(rsi, period)
	hi := rollingMax(rsi, period)
	for i := 0; i < n; i++ {
		if math.IsNaN(lo[i]) || math.IsNaN(hi[i]) || math.IsNaN(rsi[i]) {
			continue
		}
		span := hi[i] - lo[i]
		if span == 0 {
			continue
		}
		stoch[i] = (rsi[i] - lo[i]) / span * 100
	}
	k = SMA(stoch, smoothK)
	d = SMA(k, smoothD)
	return stoch, k, d
}

// ---------------------------------------------------------------------------
// Window helpers
// ---------------------------------------------------------------------------

func rollingMin(values []float64, period int) []float64 {
	return rollingExtreme(values, period, func(a, b float64) bool { return a < b })
}

func rollingMax(values []float64, period int) []float64 {
	return rollingExtreme(values, period, func(a, b float64) bool { return a > b })
}

func rollingExtreme(values []float64, period int, better func(a, b float64) bool) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		ext := values[i-period+1]
		ok := !math.IsNaN(ext)
		for j := i - period + 2; j <= i && ok; j++ {
			v := values[j]
			if math.IsNaN(v) {
				ok = false
				break
			}
			if better(v, ext) {
				ext = v
			}
		}
		if ok {
			out[i] = ext
		}
	}
	return out
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
