// Package gather defines the contract shared by the market data backfill
// jobs under gather/crypto.
package gather

import (
	"context"
	"time"
)

// Gatherer is a long-running backfill job that pulls bars from an upstream
// market data source into the local store.
type Gatherer interface {
	// Name identifies the source, e.g. "alpaca-crypto-bars".
	Name() string
	// Run executes the backfill. It blocks until the job completes or ctx
	// is cancelled.
	Run(ctx context.Context) error
}

// DateRange bounds a bar fetch. Both ends are UTC.
type DateRange struct {
	Start time.Time
	End   time.Time
}
