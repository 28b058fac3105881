// Package httpapi serves the callisto dashboard API: backtest runs, engine
// status, license operations and pair parameters as JSON over net/http, plus
// a WebSocket event stream and the Prometheus metrics endpoint.
package httpapi

import (
	"time"

	"callisto/internal/domain"
	"callisto/internal/engine"
	"callisto/internal/license"
	"callisto/internal/store"
)

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status  string    `json:"status"`
	Time    time.Time `json:"time"`
	Version string    `json:"version,omitempty"`
}

// RunsResponse lists stored backtest runs, newest first.
type RunsResponse struct {
	Runs []store.RunSummary `json:"runs"`
}

// BacktestRequest triggers a new backtest over stored bars. Start and End
// are RFC 3339 timestamps; zero values mean the full stored range.
// Zero-valued simulation parameters fall back to the server's configured
// defaults.
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
	RunID   string           `json:"runId"`
	Summary store.RunSummary `json:"summary"`
}

// StrategiesResponse lists registered evaluator names.
type StrategiesResponse struct {
	Strategies []string `json:"strategies"`
}

// SymbolsResponse lists symbols with stored bars for a timeframe.
type SymbolsResponse struct {
	Timeframe string   `json:"timeframe"`
	Symbols   []string `json:"symbols"`
}

// BarsResponse is a bounded preview of stored bars.
type BarsResponse struct {
	Symbol    string       `json:"symbol"`
	Timeframe string       `json:"timeframe"`
	Count     int          `json:"count"`
	Bars      []domain.Bar `json:"bars"`
}

// EngineStatusResponse wraps the live engine's status snapshot.
type EngineStatusResponse struct {
	Running bool           `json:"running"`
	Status  *engine.Status `json:"status,omitempty"`
}

// PositionsResponse lists the engine's open positions.
type PositionsResponse struct {
	Positions []domain.SimulatedTrade `json:"positions"`
}

// PairParamsResponse carries one pair's parameter overrides.
type PairParamsResponse struct {
	Pair   string             `json:"pair"`
	Params map[string]float64 `json:"params"`
}

// SetParamRequest sets one parameter value on a pair.
type SetParamRequest struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// LicenseRequest carries a key (plus optional hardware id) for activation
// and validation calls.
type LicenseRequest struct {
	Key        string `json:"key"`
	HardwareID string `json:"hardwareId,omitempty"`
}

// LicenseValidateResponse reports the outcome of a validation call.
type LicenseValidateResponse struct {
	Valid bool         `json:"valid"`
	Tier  license.Tier `json:"tier,omitempty"`
	Error string       `json:"error,omitempty"`
}

// TiersResponse lists the feature table per tier.
type TiersResponse struct {
	Tiers map[license.Tier]license.Features `json:"tiers"`
}

// StreamEvent is the envelope broadcast to WebSocket subscribers.
type StreamEvent struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}
