package builtins

import (
	"fmt"
	"math"

	"callisto/internal/domain"
	"callisto/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Evaluator = (*StochRSIReversion)(nil)

// StochRSIParams holds the thresholds for the Stochastic-RSI mean-reversion
// evaluator.
type StochRSIParams struct {
	// Trigger levels: %K at or below Oversold arms a LONG, at or above
	// Overbought arms a SHORT. A bounce out of the zone on the current bar
	// also triggers.
	Oversold   float64
	Overbought float64

	// Extreme levels score the "extreme_level" confirmation.
	ExtremeOversold   float64
	ExtremeOverbought float64

	// MinConfirmations is the minimum passed count out of the six scored
	// confirmations (the trigger is mandatory and not counted).
	MinConfirmations int

	// VolumeMult is the multiple of the rolling volume average required for
	// the volume confirmation.
	VolumeMult float64

	// StopATR and TargetATRs size the stop and targets in ATR multiples.
	// Tighter than the crossover family, reflecting the scalping intent.
	StopATR    float64
	TargetATRs [3]float64
}

// DefaultStochRSIParams returns the standard mean-reversion thresholds.
func DefaultStochRSIParams() StochRSIParams {
	return StochRSIParams{
		Oversold:          30,
		Overbought:        70,
		ExtremeOversold:   20,
		ExtremeOverbought: 80,
		MinConfirmations:  4,
		VolumeMult:        1.2,
		StopATR:           1.5,
		TargetATRs:        [3]float64{1.5, 2.5, 4.0},
	}
}

// StochRSIReversion trades reversals out of Stochastic-RSI extremes: LONG on
// oversold or a bounce from oversold, SHORT on the mirror. Six confirmations
// are scored (extreme level, bounce or rejection pattern, K/D crossover,
// structural trend not opposing, volume, RSI sanity) and at least
// MinConfirmations must pass.
type StochRSIReversion struct {
	name   string
	params StochRSIParams
}

// NewStochRSIReversion creates the evaluator with the given thresholds.
func NewStochRSIReversion(name string, params StochRSIParams) *StochRSIReversion {
	return &StochRSIReversion{name: name, params: params}
}

// NewDefaultStochRSI returns the evaluator under its canonical name with
// default thresholds.
func NewDefaultStochRSI() *StochRSIReversion {
	return NewStochRSIReversion("stochastic_rsi", DefaultStochRSIParams())
}

// Name returns the evaluator's registry name.
func (s *StochRSIReversion) Name() string {
	return s.name
}

// Evaluate implements strategy.Evaluator.
func (s *StochRSIReversion) Evaluate(frames []domain.IndicatorBar, i int) *domain.SignalProposal {
	if i < 1 || i >= len(frames) {
		return nil
	}
	cur, prev := frames[i], frames[i-1]
	if math.IsNaN(cur.StochK) || math.IsNaN(cur.StochD) ||
		math.IsNaN(prev.StochK) || math.IsNaN(prev.StochD) ||
		math.IsNaN(cur.RSI) || math.IsNaN(cur.ATR) || math.IsNaN(cur.VolumeMA) ||
		cur.ATR <= 0 {
		return nil
	}

	p := s.params

	var side domain.Side
	switch {
	case cur.StochK <= p.Oversold || (prev.StochK <= p.Oversold && cur.StochK > prev.StochK):
		side = domain.SideLong
	case cur.StochK >= p.Overbought || (prev.StochK >= p.Overbought && cur.StochK < prev.StochK):
		side = domain.SideShort
	default:
		return nil
	}
	long := side == domain.SideLong

	extreme := cur.StochK <= p.ExtremeOversold
	pattern := prev.StochK <= p.Oversold && cur.StochK > prev.StochK
	kdCross := prev.StochK <= prev.StochD && cur.StochK > cur.StochD
	trendOK := cur.EMA50 >= cur.EMA200
	rsiSane := cur.RSI <= 50
	patternName := "bounce"
	if !long {
		extreme = cur.StochK >= p.ExtremeOverbought
		pattern = prev.StochK >= p.Overbought && cur.StochK < prev.StochK
		kdCross = prev.StochK >= prev.StochD && cur.StochK < cur.StochD
		trendOK = cur.EMA50 <= cur.EMA200
		rsiSane = cur.RSI >= 50
		patternName = "rejection"
	}

	volumeOK := cur.VolumeMA > 0 && cur.Volume > p.VolumeMult*cur.VolumeMA

	checks := []domain.ConfirmationCheck{
		{Name: "extreme_level", Passed: extreme, Detail: fmt.Sprintf("k %.1f", cur.StochK)},
		{Name: patternName, Passed: pattern, Detail: fmt.Sprintf("k %.1f from %.1f", cur.StochK, prev.StochK)},
		{Name: "kd_cross", Passed: kdCross, Detail: fmt.Sprintf("k %.1f vs d %.1f", cur.StochK, cur.StochD)},
		{Name: "trend_filter", Passed: trendOK, Detail: fmt.Sprintf("ema50 %.4f vs ema200 %.4f", cur.EMA50, cur.EMA200)},
		{Name: "volume", Passed: volumeOK, Detail: fmt.Sprintf("vol %.0f vs %.1fx ma %.0f", cur.Volume, p.VolumeMult, cur.VolumeMA)},
		{Name: "rsi_sanity", Passed: rsiSane, Detail: fmt.Sprintf("rsi %.1f", cur.RSI)},
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
		Strategy:      s.name,
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

// DefaultRegistry returns a registry with every built-in evaluator
// registered under its canonical name.
func DefaultRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	r.Register(NewOptimizedEMACross())
	r.Register(NewRelaxedEMACross())
	r.Register(NewDefaultStochRSI())
	return r
}
