// Package builtins provides the built-in signal evaluators that ship with
// the callisto platform.
package builtins

import (
	"fmt"
	"math"

	"callisto/internal/domain"
	"callisto/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Evaluator = (*EMACross)(nil)

// EMACrossParams holds the tunable thresholds for the EMA crossover family.
// The optimized and relaxed variants are the same evaluator with different
// numbers.
type EMACrossParams struct {
	// MinConfirmations is the minimum number of passed checks (the crossover
	// trigger included) out of six required to emit a proposal.
	MinConfirmations int

	// MinTrendStrength is the minimum distance of close from EMA50, as a
	// percentage of EMA50.
	MinTrendStrength float64

	// RSI acceptance bands per side.
	RSILongMin  float64
	RSILongMax  float64
	RSIShortMin float64
	RSIShortMax float64

	// VolumeMult is the multiple of the rolling volume average the current
	// bar's volume must exceed.
	VolumeMult float64

	// StopATR and TargetATRs size the stop and the take-profit ladder in ATR
	// multiples.
	StopATR    float64
	TargetATRs [3]float64
}

// OptimizedEMACrossParams returns the strict variant: 5 of 6 checks with
// tight thresholds.
func OptimizedEMACrossParams() EMACrossParams {
	return EMACrossParams{
		MinConfirmations: 5,
		MinTrendStrength: 0.3,
		RSILongMin:       50,
		RSILongMax:       75,
		RSIShortMin:      25,
		RSIShortMax:      50,
		VolumeMult:       1.3,
		StopATR:          2.0,
		TargetATRs:       [3]float64{3.0, 5.0, 7.0},
	}
}

// RelaxedEMACrossParams returns the looser variant: 4 of 6 checks with wider
// bands and a lower volume bar.
func RelaxedEMACrossParams() EMACrossParams {
	return EMACrossParams{
		MinConfirmations: 4,
		MinTrendStrength: 0.1,
		RSILongMin:       45,
		RSILongMax:       80,
		RSIShortMin:      20,
		RSIShortMax:      55,
		VolumeMult:       1.1,
		StopATR:          2.0,
		TargetATRs:       [3]float64{3.0, 5.0, 7.0},
	}
}

// EMACross detects an EMA(8)/EMA(21) crossover on the latest two bars as the
// mandatory trigger, then scores five auxiliary confirmations: trend
// alignment vs EMA50, trend strength, RSI band, volume surge, and EMA200
// alignment. A proposal is emitted only when the passed-check count meets
// MinConfirmations.
type EMACross struct {
	name   string
	params EMACrossParams
}

// NewEMACross creates an EMA crossover evaluator with the given registry
// name and thresholds.
func NewEMACross(name string, params EMACrossParams) *EMACross {
	return &EMACross{name: name, params: params}
}

// NewOptimizedEMACross returns the strict variant under its canonical name.
func NewOptimizedEMACross() *EMACross {
	return NewEMACross("ema_crossover", OptimizedEMACrossParams())
}

// NewRelaxedEMACross returns the loose variant under its canonical name.
func NewRelaxedEMACross() *EMACross {
	return NewEMACross("relaxed_ema", RelaxedEMACrossParams())
}

// Name returns the evaluator's registry name.
func (e *EMACross) Name() string {
	return e.name
}

// Evaluate implements strategy.Evaluator.
func (e *EMACross) Evaluate(frames []domain.IndicatorBar, i int) *domain.SignalProposal {
	if i < 1 || i >= len(frames) {
		return nil
	}
	cur, prev := frames[i], frames[i-1]
	if math.IsNaN(cur.RSI) || math.IsNaN(cur.ATR) || math.IsNaN(cur.VolumeMA) || cur.ATR <= 0 {
		return nil
	}

	var side domain.Side
	switch {
	case prev.EMA8 <= prev.EMA21 && cur.EMA8 > cur.EMA21:
		side = domain.SideLong
	case prev.EMA8 >= prev.EMA21 && cur.EMA8 < cur.EMA21:
		side = domain.SideShort
	default:
		// No crossover: no proposal regardless of confirmation scores.
		return nil
	}

	p := e.params
	long := side == domain.SideLong

	trendAligned := cur.Close > cur.EMA50
	htfAligned := cur.Close > cur.EMA200
	if !long {
		trendAligned = cur.Close < cur.EMA50
		htfAligned = cur.Close < cur.EMA200
	}

	strength := 0.0
	if cur.EMA50 != 0 {
		strength = math.Abs(cur.Close-cur.EMA50) / cur.EMA50 * 100
	}

	rsiOK := cur.RSI > p.RSILongMin && cur.RSI < p.RSILongMax
	if !long {
		rsiOK = cur.RSI > p.RSIShortMin && cur.RSI < p.RSIShortMax
	}

	volumeOK := cur.VolumeMA > 0 && cur.Volume > p.VolumeMult*cur.VolumeMA

	checks := []domain.ConfirmationCheck{
		{Name: "crossover", Passed: true, Detail: fmt.Sprintf("ema8 %.4f vs ema21 %.4f", cur.EMA8, cur.EMA21)},
		{Name: "trend_alignment", Passed: trendAligned, Detail: fmt.Sprintf("close %.4f vs ema50 %.4f", cur.Close, cur.EMA50)},
		{Name: "trend_strength", Passed: strength >= p.MinTrendStrength, Detail: fmt.Sprintf("%.2f%% vs %.2f%%", strength, p.MinTrendStrength)},
		{Name: "rsi_band", Passed: rsiOK, Detail: fmt.Sprintf("rsi %.1f", cur.RSI)},
		{Name: "volume_surge", Passed: volumeOK, Detail: fmt.Sprintf("vol %.0f vs %.1fx ma %.0f", cur.Volume, p.VolumeMult, cur.VolumeMA)},
		{Name: "ema200_trend", Passed: htfAligned, Detail: fmt.Sprintf("close %.4f vs ema200 %.4f", cur.Close, cur.EMA200)},
	}

	confirmations := 0
	for _, c := range checks {
		if c.Passed {
			confirmations++
		}
	}
	if confirmations < p.MinConfirmations {
		return nil
	}

	entry := cur.Close
	stop := entry - p.StopATR*cur.ATR
	targets := []float64{
		entry + p.TargetATRs[0]*cur.ATR,
		entry + p.TargetATRs[1]*cur.ATR,
		entry + p.TargetATRs[2]*cur.ATR,
	}
	if !long {
		stop = entry + p.StopATR*cur.ATR
		for j := range targets {
			targets[j] = entry - p.TargetATRs[j]*cur.ATR
		}
	}

	return &domain.SignalProposal{
		Strategy:      e.name,
		Symbol:        cur.Symbol,
		Timestamp:     cur.Timestamp,
		Side:          side,
		EntryPrice:    entry,
		StopLoss:      stop,
		TakeProfits:   targets,
		Confirmations: confirmations,
		Checks:        checks,
	}
}
