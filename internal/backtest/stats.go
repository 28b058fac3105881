package backtest

import "math"

// ---------------------------------------------------------------------------
// Summary statistics
// ---------------------------------------------------------------------------

// Annualization assumes one equity sample per trading day.
const periodsPerYear = 252

// Returns converts an equity curve into per-step fractional returns. Steps
// starting from zero equity are skipped.
func Returns(curve []float64) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1] == 0 {
			continue
		}
		out = append(out, curve[i]/curve[i-1]-1)
	}
	return out
}

// SharpeRatio is the annualized mean-over-volatility of the given returns.
// Returns 0 when there are fewer than two samples or volatility is zero.
func SharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m := mean(returns)
	s := stddev(returns, m)
	if s == 0 {
		return 0
	}
	return m / s * math.Sqrt(periodsPerYear)
}

// SortinoRatio is like Sharpe but penalizes only downside volatility: the
// denominator is the standard deviation of the negative returns. Returns 0
// when there is no downside or it has zero spread.
func SortinoRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		return 0
	}
	s := stddev(downside, mean(downside))
	if s == 0 {
		return 0
	}
	return mean(returns) / s * math.Sqrt(periodsPerYear)
}

// CalmarRatio relates total return to the worst peak-to-trough drawdown,
// both in percent. Returns 0 when the drawdown is zero.
func CalmarRatio(totalReturnPercent, maxDrawdownPercent float64) float64 {
	if maxDrawdownPercent == 0 {
		return 0
	}
	return totalReturnPercent / maxDrawdownPercent
}

// MaxDrawdown walks the equity curve and returns the largest peak-to-trough
// decline, in absolute terms and as a percent of the peak.
func MaxDrawdown(curve []float64) (abs, percent float64) {
	var peak float64
	for i, v := range curve {
		if i == 0 || v > peak {
			peak = v
		}
		d := peak - v
		if d > abs {
			abs = d
		}
		if peak > 0 {
			if p := d / peak * 100; p > percent {
				percent = p
			}
		}
	}
	return abs, percent
}

// DrawdownCurve returns the percent decline from the running peak at every
// point of the equity curve.
func DrawdownCurve(curve []float64) []float64 {
	out := make([]float64, len(curve))
	var peak float64
	for i, v := range curve {
		if i == 0 || v > peak {
			peak = v
		}
		if peak > 0 {
			out[i] = (peak - v) / peak * 100
		}
	}
	return out
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Population standard deviation.
func stddev(xs []float64, m float64) float64 {
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}
