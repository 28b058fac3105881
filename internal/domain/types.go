// Package domain defines the core types shared across the callisto platform:
// market data bars, indicator frames, signal proposals, simulated trades, and
// live trading primitives.
package domain

import "time"

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is a single OHLCV candle for a fixed timeframe interval. Bars are
// immutable once produced and ordered strictly by timestamp.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	TradeCount int64     `json:"tradeCount,omitempty"`
	VWAP       float64   `json:"vwap,omitempty"`
}

// IndicatorBar is a Bar augmented with derived indicator values. Fields are
// NaN until enough history has accumulated for their window; callers must not
// base signal decisions on NaN values.
type IndicatorBar struct {
	Bar

	EMA8   float64
	EMA21  float64
	EMA50  float64
	EMA200 float64

	RSI      float64
	ATR      float64
	VolumeMA float64

	BBUpper  float64
	BBMiddle float64
	BBLower  float64

	StochRSI float64
	StochK   float64
	StochD   float64
}

// MinHistoryBars is the minimum number of bars required before signal
// evaluation may run. Below this threshold indicator values are unreliable
// and evaluators are not queried.
const MinHistoryBars = 200

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// Side is the direction of a trade.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// ConfirmationCheck records the outcome of one auxiliary signal condition.
type ConfirmationCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// SignalProposal is a trade proposal emitted by a signal evaluator for a
// single bar. Proposals are ephemeral: consumed immediately by the caller or
// discarded.
type SignalProposal struct {
	Strategy      string              `json:"strategy"`
	Symbol        string              `json:"symbol"`
	Timestamp     time.Time           `json:"timestamp"`
	Side          Side                `json:"side"`
	EntryPrice    float64             `json:"entryPrice"`
	StopLoss      float64             `json:"stopLoss"`
	TakeProfits   []float64           `json:"takeProfits"`
	Confirmations int                 `json:"confirmations"`
	Checks        []ConfirmationCheck `json:"checks,omitempty"`
}

// ---------------------------------------------------------------------------
// Simulated trades
// ---------------------------------------------------------------------------

// TradeStatus is the lifecycle state of a simulated trade.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// ExitReason explains why a trade was closed.
type ExitReason string

const (
	ExitStopLoss  ExitReason = "STOP_LOSS"
	ExitTP1       ExitReason = "TP1"
	ExitTP2       ExitReason = "TP2"
	ExitTP3       ExitReason = "TP3"
	ExitEndOfData ExitReason = "END_OF_DATA"
	ExitShutdown  ExitReason = "SHUTDOWN"
)

// TPReason returns the exit reason for the zero-based take-profit index i.
func TPReason(i int) ExitReason {
	switch i {
	case 0:
		return ExitTP1
	case 1:
		return ExitTP2
	default:
		return ExitTP3
	}
}

// SimulatedTrade is one position opened and closed by the backtester (or the
// paper engine). Created on entry, mutated exactly once on exit, immutable
// thereafter. A trade belongs to a single run and is never shared.
type SimulatedTrade struct {
	Symbol      string      `json:"symbol"`
	Strategy    string      `json:"strategy"`
	Side        Side        `json:"side"`
	EntryTime   time.Time   `json:"entryTime"`
	ExitTime    time.Time   `json:"exitTime,omitzero"`
	EntryPrice  float64     `json:"entryPrice"`
	ExitPrice   float64     `json:"exitPrice"`
	StopLoss    float64     `json:"stopLoss"`
	TakeProfits []float64   `json:"takeProfits"`
	Size        float64     `json:"size"`
	Fees        float64     `json:"fees"`
	PnL         float64     `json:"pnl"`
	PnLPercent  float64     `json:"pnlPercent"`
	RMultiple   float64     `json:"rMultiple"`
	ExitReason  ExitReason  `json:"exitReason,omitempty"`
	Status      TradeStatus `json:"status"`
}

// ---------------------------------------------------------------------------
// Live trading
// ---------------------------------------------------------------------------

// OrderSide is the buy/sell direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the execution type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the brokerage-side state of an order.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Order is a request to buy or sell at the brokerage.
type Order struct {
	ID             string      `json:"id"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Type           OrderType   `json:"type"`
	Status         OrderStatus `json:"status"`
	Qty            float64     `json:"qty"`
	LimitPrice     float64     `json:"limitPrice,omitempty"`
	FilledQty      float64     `json:"filledQty"`
	FilledAvgPrice float64     `json:"filledAvgPrice"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Position is an open holding tracked by the live engine or a broker.
type Position struct {
	Symbol      string    `json:"symbol"`
	Strategy    string    `json:"strategy,omitempty"`
	Side        Side      `json:"side"`
	Qty         float64   `json:"qty"`
	EntryPrice  float64   `json:"entryPrice"`
	StopLoss    float64   `json:"stopLoss,omitempty"`
	TakeProfits []float64 `json:"takeProfits,omitempty"`
	OpenedAt    time.Time `json:"openedAt"`
}

// AccountInfo is a snapshot of account-level financial state.
type AccountInfo struct {
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buyingPower"`
}

// OrderSideFor maps a trade side and open/close intent to the order side
// submitted to a broker: opening a LONG buys, closing a LONG sells, and the
// mirror for SHORT.
func OrderSideFor(s Side, closing bool) OrderSide {
	if (s == SideLong) != closing {
		return OrderSideBuy
	}
	return OrderSideSell
}
