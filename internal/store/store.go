// Package store defines storage interfaces for persisting and retrieving
// domain objects: OHLCV bars on Parquet, backtest runs and engine state on
// SQLite.
package store

import (
	"context"
	"errors"
	"time"

	"callisto/internal/backtest"
	"callisto/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// BarStore persists and retrieves OHLCV bar data partitioned by timeframe.
type BarStore interface {
	// WriteBars persists a batch of bars under the given timeframe, merging
	// with any bars already stored for the same symbol and period.
	WriteBars(ctx context.Context, bars []domain.Bar, timeframe string) error

	// ReadBars returns bars for the symbol and timeframe within [start, end],
	// sorted ascending by timestamp.
	ReadBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols with data for the timeframe.
	ListSymbols(ctx context.Context, timeframe string) ([]string, error)
}

// RunSummary is the condensed view of a stored backtest run, used for
// listings.
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

// RunStore persists completed backtest results.
type RunStore interface {
	// SaveResult stores a result and its trades, returning the assigned run id.
	SaveResult(ctx context.Context, res *backtest.Result) (string, error)

	// GetResult returns the full stored result for a run id.
	GetResult(ctx context.Context, id string) (*backtest.Result, error)

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)

	// ListTrades returns the trades of a run in execution order.
	ListTrades(ctx context.Context, runID string) ([]domain.SimulatedTrade, error)

	// DeleteRun removes a run and its trades.
	DeleteRun(ctx context.Context, id string) error
}

// StateStore persists the live engine's resumable state as a single
// JSON-encoded snapshot.
type StateStore interface {
	// SaveEngineState marshals state and replaces the stored snapshot.
	SaveEngineState(ctx context.Context, state any) error

	// LoadEngineState unmarshals the stored snapshot into dst. The boolean
	// reports whether a snapshot existed.
	LoadEngineState(ctx context.Context, dst any) (bool, error)
}
