package callisto

import "time"

// Bar is one OHLCV candle as served by the API.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Trade is one closed or open simulated trade.
type Trade struct {
	Symbol     string    `json:"symbol"`
	Strategy   string    `json:"strategy"`
	Side       string    `json:"side"`
	EntryTime  time.Time `json:"entryTime"`
	ExitTime   time.Time `json:"exitTime"`
	EntryPrice float64   `json:"entryPrice"`
	ExitPrice  float64   `json:"exitPrice"`
	StopLoss   float64   `json:"stopLoss"`
	Size       float64   `json:"size"`
	Fees       float64   `json:"fees"`
	PnL        float64   `json:"pnl"`
	PnLPercent float64   `json:"pnlPercent"`
	RMultiple  float64   `json:"rMultiple"`
	ExitReason string    `json:"exitReason"`
	Status     string    `json:"status"`
}

// RunSummary is the condensed listing view of a stored backtest run.
type RunSummary struct {
	ID                 string    `json:"id"`
	CreatedAt          time.Time `json:"createdAt"`
	Symbol             string    `json:"symbol"`
	Strategy           string    `json:"strategy"`
	Timeframe          string    `json:"timeframe"`
	TotalReturnPercent float64   `json:"totalReturnPercent"`
	TotalTrades        int       `json:"totalTrades"`
	WinRate            float64   `json:"winRate"`
	ProfitFactor       float64   `json:"profitFactor"`
	MaxDrawdownPercent float64   `json:"maxDrawdownPercent"`
	SharpeRatio        float64   `json:"sharpeRatio"`
}

// RunDetail is the full stored result of a run.
type RunDetail struct {
	Symbol             string      `json:"symbol"`
	Strategy           string      `json:"strategy"`
	Timeframe          string      `json:"timeframe"`
	Start              time.Time   `json:"start"`
	End                time.Time   `json:"end"`
	DurationDays       float64     `json:"durationDays"`
	InitialCapital     float64     `json:"initialCapital"`
	FinalCapital       float64     `json:"finalCapital"`
	TotalReturn        float64     `json:"totalReturn"`
	TotalReturnPercent float64     `json:"totalReturnPercent"`
	TotalTrades        int         `json:"totalTrades"`
	WinningTrades      int         `json:"winningTrades"`
	LosingTrades       int         `json:"losingTrades"`
	WinRate            float64     `json:"winRate"`
	ProfitFactor       float64     `json:"profitFactor"`
	AverageR           float64     `json:"averageR"`
	MaxDrawdownPercent float64     `json:"maxDrawdownPercent"`
	SharpeRatio        float64     `json:"sharpeRatio"`
	SortinoRatio       float64     `json:"sortinoRatio"`
	CalmarRatio        float64     `json:"calmarRatio"`
	EquityCurve        []float64   `json:"equityCurve"`
	EquityTimes        []time.Time `json:"equityTimes"`
	DrawdownCurve      []float64   `json:"drawdownCurve"`
	Trades             []Trade     `json:"trades"`
}

// BacktestRequest triggers a backtest over stored bars.
type BacktestRequest struct {
	Symbol    string    `json:"symbol"`
	Strategy  string    `json:"strategy"`
	Timeframe string    `json:"timeframe"`
	Start     time.Time `json:"start,omitzero"`
	End       time.Time `json:"end,omitzero"`

	InitialCapital float64 `json:"initialCapital,omitempty"`
	RiskPerTrade   float64 `json:"riskPerTrade,omitempty"`
	FeeRate        float64 `json:"feeRate,omitempty"`
	SlippageRate   float64 `json:"slippageRate,omitempty"`
}

// BacktestResponse acknowledges a completed backtest trigger.
type BacktestResponse struct {
	RunID   string     `json:"runId"`
	Summary RunSummary `json:"summary"`
}

// RiskStats summarizes the engine's risk counters.
type RiskStats struct {
	Capital           float64 `json:"capital"`
	DailyPnL          float64 `json:"dailyPnl"`
	DailyPnLPercent   float64 `json:"dailyPnlPercent"`
	TotalPnL          float64 `json:"totalPnl"`
	TotalPnLPercent   float64 `json:"totalPnlPercent"`
	DailyTrades       int     `json:"dailyTrades"`
	OpenPositions     int     `json:"openPositions"`
	ConsecutiveLosses int     `json:"consecutiveLosses"`
	InCooldown        bool    `json:"inCooldown"`
}

// EngineDetail is the live engine's status snapshot.
type EngineDetail struct {
	Broker    string    `json:"broker"`
	Strategy  string    `json:"strategy"`
	Timeframe string    `json:"timeframe"`
	Pairs     []string  `json:"pairs"`
	Live      bool      `json:"live"`
	Positions []Trade   `json:"positions"`
	Risk      RiskStats `json:"risk"`
}

// EngineStatus wraps the status snapshot with a running flag.
type EngineStatus struct {
	Running bool          `json:"running"`
	Status  *EngineDetail `json:"status,omitempty"`
}

// LicenseValidation reports the outcome of a license validation call.
type LicenseValidation struct {
	Valid bool   `json:"valid"`
	Tier  string `json:"tier,omitempty"`
	Error string `json:"error,omitempty"`
}
