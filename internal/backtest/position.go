package backtest

import (
	"math"
	"time"

	"callisto/internal/domain"
)

// ---------------------------------------------------------------------------
// Position lifecycle
// ---------------------------------------------------------------------------

// SizePosition returns the position size for a fixed-fraction risk model:
// capital * riskFraction dollars at risk, divided by the per-unit distance
// between entry and stop. Returns 0 when entry equals stop; callers must
// treat 0 as "do not enter".
func SizePosition(entry, stop, capital, riskFraction float64) float64 {
	dist := math.Abs(entry - stop)
	if dist == 0 {
		return 0
	}
	return capital * riskFraction / dist
}

// ApplySlippage shifts a fill price against the trader. Entries move away
// from the trade (LONG pays up, SHORT receives less) and exits move the same
// way on the close side.
func ApplySlippage(price float64, side domain.Side, closing bool, rate float64) float64 {
	adverseUp := (side == domain.SideLong) != closing
	if adverseUp {
		return price * (1 + rate)
	}
	return price * (1 - rate)
}

// ExitLevel checks whether the bar reaches the trade's stop or one of its
// take-profit levels. The stop is checked first and wins when both are
// reachable within the same bar. Take-profits are checked in ascending
// order; the first level reached wins and the exit price is exactly that
// level, not the bar close.
func ExitLevel(t *domain.SimulatedTrade, bar domain.Bar) (price float64, reason domain.ExitReason, hit bool) {
	if t.Side == domain.SideLong {
		if bar.Low <= t.StopLoss {
			return t.StopLoss, domain.ExitStopLoss, true
		}
		for i, tp := range t.TakeProfits {
			if bar.High >= tp {
				return tp, domain.TPReason(i), true
			}
		}
		return 0, "", false
	}

	if bar.High >= t.StopLoss {
		return t.StopLoss, domain.ExitStopLoss, true
	}
	for i, tp := range t.TakeProfits {
		if bar.Low <= tp {
			return tp, domain.TPReason(i), true
		}
	}
	return 0, "", false
}

// openTrade sizes and opens a simulated trade from a proposal. Sizing uses
// the raw signal prices; the recorded entry price carries slippage and the
// entry fee is charged on the slipped notional. Returns nil when sizing is
// degenerate (entry equals stop), which is a silent no-entry.
func (bt *Backtester) openTrade(p *domain.SignalProposal, capital float64) (*domain.SimulatedTrade, float64) {
	size := SizePosition(p.EntryPrice, p.StopLoss, capital, bt.cfg.RiskPerTrade)
	if size <= 0 {
		return nil, 0
	}

	entry := ApplySlippage(p.EntryPrice, p.Side, false, bt.cfg.SlippageRate)
	trade := &domain.SimulatedTrade{
		Symbol:      p.Symbol,
		Strategy:    p.Strategy,
		Side:        p.Side,
		EntryTime:   p.Timestamp,
		EntryPrice:  entry,
		StopLoss:    p.StopLoss,
		TakeProfits: append([]float64(nil), p.TakeProfits...),
		Size:        size,
		Fees:        size * entry * bt.cfg.FeeRate,
		Status:      domain.TradeOpen,
	}
	return trade, capital * bt.cfg.RiskPerTrade
}

// closeTrade exits an open trade at the given level, applying exit slippage
// and the exit fee, and realizes P&L. riskAmount is the dollar risk recorded
// at entry and denominates the R-multiple. Returns the realized P&L.
func (bt *Backtester) closeTrade(t *domain.SimulatedTrade, price float64, ts time.Time, reason domain.ExitReason, riskAmount float64) float64 {
	exit := ApplySlippage(price, t.Side, true, bt.cfg.SlippageRate)
	t.Fees += t.Size * exit * bt.cfg.FeeRate

	gross := (exit - t.EntryPrice) * t.Size
	if t.Side == domain.SideShort {
		gross = -gross
	}

	t.ExitPrice = exit
	t.ExitTime = ts
	t.ExitReason = reason
	t.PnL = gross - t.Fees
	if t.Size > 0 && t.EntryPrice != 0 {
		t.PnLPercent = t.PnL / (t.Size * t.EntryPrice) * 100
	}
	if riskAmount > 0 {
		t.RMultiple = t.PnL / riskAmount
	}
	t.Status = domain.TradeClosed
	return t.PnL
}
