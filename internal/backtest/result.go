package backtest

import (
	"time"

	"callisto/internal/domain"
)

// Result is the complete outcome of one backtest run: configuration echo,
// trade list, equity and drawdown curves, and summary statistics. All
// derived fields default to 0 in degenerate cases (no trades, no losses, no
// drawdown) rather than NaN or infinity.
type Result struct {
	Symbol    string    `json:"symbol"`
	Strategy  string    `json:"strategy"`
	Timeframe string    `json:"timeframe"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	// DurationDays spans the first to the last bar of the series.
	DurationDays float64 `json:"durationDays"`

	InitialCapital     float64 `json:"initialCapital"`
	FinalCapital       float64 `json:"finalCapital"`
	RiskPerTrade       float64 `json:"riskPerTrade"`
	TotalReturn        float64 `json:"totalReturn"`
	TotalReturnPercent float64 `json:"totalReturnPercent"`

	TotalTrades     int     `json:"totalTrades"`
	WinningTrades   int     `json:"winningTrades"`
	LosingTrades    int     `json:"losingTrades"`
	BreakevenTrades int     `json:"breakevenTrades"`
	WinRate         float64 `json:"winRate"`

	GrossProfit  float64 `json:"grossProfit"`
	GrossLoss    float64 `json:"grossLoss"`
	NetProfit    float64 `json:"netProfit"`
	ProfitFactor float64 `json:"profitFactor"`
	AverageWin   float64 `json:"averageWin"`
	AverageLoss  float64 `json:"averageLoss"`
	AverageR     float64 `json:"averageR"`
	LargestWin   float64 `json:"largestWin"`
	// LargestLoss is the most negative trade P&L, kept signed.
	LargestLoss float64 `json:"largestLoss"`

	MaxDrawdown        float64 `json:"maxDrawdown"`
	MaxDrawdownPercent float64 `json:"maxDrawdownPercent"`
	SharpeRatio        float64 `json:"sharpeRatio"`
	SortinoRatio       float64 `json:"sortinoRatio"`
	CalmarRatio        float64 `json:"calmarRatio"`

	EquityCurve   []float64   `json:"equityCurve"`
	EquityTimes   []time.Time `json:"equityTimes"`
	DrawdownCurve []float64   `json:"drawdownCurve"`

	Trades []domain.SimulatedTrade `json:"trades"`
}

func newResult(symbol, timeframe, strat string, bars []domain.Bar, cfg Config, finalCapital float64, trades []domain.SimulatedTrade, curve []float64, times []time.Time) *Result {
	r := &Result{
		Symbol:         symbol,
		Strategy:       strat,
		Timeframe:      timeframe,
		InitialCapital: cfg.InitialCapital,
		FinalCapital:   finalCapital,
		RiskPerTrade:   cfg.RiskPerTrade,
		EquityCurve:    curve,
		EquityTimes:    times,
		DrawdownCurve:  DrawdownCurve(curve),
		Trades:         trades,
	}
	if len(bars) > 0 {
		r.Start = bars[0].Timestamp
		r.End = bars[len(bars)-1].Timestamp
		r.DurationDays = r.End.Sub(r.Start).Hours() / 24
	}
	r.derive()
	return r
}

// derive fills every statistic that follows from the trade list and the
// equity curve.
func (r *Result) derive() {
	r.TotalReturn = r.FinalCapital - r.InitialCapital
	if r.InitialCapital > 0 {
		r.TotalReturnPercent = r.TotalReturn / r.InitialCapital * 100
	}

	r.TotalTrades = len(r.Trades)
	var sumR float64
	for _, t := range r.Trades {
		sumR += t.RMultiple
		switch {
		case t.PnL > 0:
			r.WinningTrades++
			r.GrossProfit += t.PnL
			if t.PnL > r.LargestWin {
				r.LargestWin = t.PnL
			}
		case t.PnL < 0:
			r.LosingTrades++
			r.GrossLoss += -t.PnL
			if t.PnL < r.LargestLoss {
				r.LargestLoss = t.PnL
			}
		default:
			r.BreakevenTrades++
		}
	}
	r.NetProfit = r.GrossProfit - r.GrossLoss

	if r.TotalTrades > 0 {
		r.WinRate = float64(r.WinningTrades) / float64(r.TotalTrades) * 100
		r.AverageR = sumR / float64(r.TotalTrades)
	}
	if r.GrossLoss > 0 {
		r.ProfitFactor = r.GrossProfit / r.GrossLoss
	}
	if r.WinningTrades > 0 {
		r.AverageWin = r.GrossProfit / float64(r.WinningTrades)
	}
	if r.LosingTrades > 0 {
		r.AverageLoss = r.GrossLoss / float64(r.LosingTrades)
	}

	r.MaxDrawdown, r.MaxDrawdownPercent = MaxDrawdown(r.EquityCurve)
	rets := Returns(r.EquityCurve)
	r.SharpeRatio = SharpeRatio(rets)
	r.SortinoRatio = SortinoRatio(rets)
	r.CalmarRatio = CalmarRatio(r.TotalReturnPercent, r.MaxDrawdownPercent)
}
