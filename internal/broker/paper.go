package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"callisto/internal/backtest"
	"callisto/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*PaperBroker)(nil)

// PaperBroker implements the Broker interface for paper trading. It tracks
// cash, positions and orders in memory without making external API calls.
//
// Every order fills immediately: market orders at the current mark price
// shifted against the trader by the slippage rate, limit orders exactly at
// their limit price. Fees are charged on the filled notional. Margin is not
// enforced here; position and leverage limits are the risk manager's job.
type PaperBroker struct {
	mu        sync.Mutex
	cash      float64
	positions map[string]*domain.Position
	orders    map[string]*domain.Order
	marks     map[string]float64

	feeRate      float64
	slippageRate float64

	log *slog.Logger
}

// NewPaperBroker creates a PaperBroker with the given starting cash balance
// and per-fill fee and slippage rates.
func NewPaperBroker(initialCash, feeRate, slippageRate float64) *PaperBroker {
	return &PaperBroker{
		cash:         initialCash,
		positions:    make(map[string]*domain.Position),
		orders:       make(map[string]*domain.Order),
		marks:        make(map[string]float64),
		feeRate:      feeRate,
		slippageRate: slippageRate,
		log:          slog.Default().With("component", "broker"),
	}
}

// Name returns "paper".
func (b *PaperBroker) Name() string {
	return "paper"
}

// SetMarkPrice records the latest price for a symbol. Market orders fill
// against this price and GetAccount marks open positions with it.
func (b *PaperBroker) SetMarkPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marks[symbol] = price
}

// SubmitOrder fills the order immediately and applies it to cash and
// positions. The returned order carries the fill price, fill quantity and a
// generated ID when the submitted order had none.
func (b *PaperBroker) SubmitOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if order.Qty <= 0 {
		return nil, fmt.Errorf("paper: order qty must be positive, got %v", order.Qty)
	}

	var fill float64
	switch order.Type {
	case domain.OrderTypeLimit:
		if order.LimitPrice <= 0 {
			return nil, fmt.Errorf("paper: limit order for %s has no limit price", order.Symbol)
		}
		fill = order.LimitPrice
	default:
		mark, ok := b.marks[order.Symbol]
		if !ok {
			return nil, fmt.Errorf("paper: no mark price for %s", order.Symbol)
		}
		fill = backtest.ApplySlippage(mark, domain.SideLong, order.Side == domain.OrderSideSell, b.slippageRate)
	}

	notional := order.Qty * fill
	fee := notional * b.feeRate
	if order.Side == domain.OrderSideBuy {
		b.cash -= notional + fee
	} else {
		b.cash += notional - fee
	}
	b.applyFill(order.Symbol, order.Side, order.Qty, fill)

	now := time.Now().UTC()
	filled := *order
	if filled.ID == "" {
		filled.ID = uuid.NewString()
	}
	filled.Status = domain.OrderStatusFilled
	filled.FilledQty = order.Qty
	filled.FilledAvgPrice = fill
	if filled.CreatedAt.IsZero() {
		filled.CreatedAt = now
	}
	filled.UpdatedAt = now
	b.orders[filled.ID] = &filled

	b.log.Debug("order filled",
		"symbol", filled.Symbol, "side", filled.Side,
		"qty", filled.FilledQty, "price", filled.FilledAvgPrice, "fee", fee)

	out := filled
	return &out, nil
}

// applyFill merges a fill into the position book: it opens a new position,
// averages into an existing one on the same side, reduces on the opposite
// side, and flips through flat when the fill exceeds the held quantity.
// Caller holds b.mu.
func (b *PaperBroker) applyFill(symbol string, side domain.OrderSide, qty, price float64) {
	dir := domain.SideLong
	if side == domain.OrderSideSell {
		dir = domain.SideShort
	}

	pos, ok := b.positions[symbol]
	if !ok {
		b.positions[symbol] = &domain.Position{
			Symbol:     symbol,
			Side:       dir,
			Qty:        qty,
			EntryPrice: price,
			OpenedAt:   time.Now().UTC(),
		}
		return
	}

	if pos.Side == dir {
		total := pos.Qty + qty
		pos.EntryPrice = (pos.EntryPrice*pos.Qty + price*qty) / total
		pos.Qty = total
		return
	}

	switch {
	case qty < pos.Qty:
		pos.Qty -= qty
	case qty == pos.Qty:
		delete(b.positions, symbol)
	default:
		b.positions[symbol] = &domain.Position{
			Symbol:     symbol,
			Side:       dir,
			Qty:        qty - pos.Qty,
			EntryPrice: price,
			OpenedAt:   time.Now().UTC(),
		}
	}
}

// CancelOrder reports ErrOrderNotFound for unknown IDs. Because paper orders
// fill at submission there is never an open order left to cancel.
func (b *PaperBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if o.Status == domain.OrderStatusFilled {
		return fmt.Errorf("paper: order %s already filled", orderID)
	}
	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// GetPositions returns deep copies of all open positions, sorted by symbol.
func (b *PaperBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	positions := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		cp := *p
		if p.TakeProfits != nil {
			cp.TakeProfits = append([]float64(nil), p.TakeProfits...)
		}
		positions = append(positions, cp)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
	return positions, nil
}

// GetAccount returns the simulated account state. Equity marks every open
// position at its latest mark price, falling back to the entry price for
// symbols that have not ticked yet.
func (b *PaperBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	equity := b.cash
	for symbol, p := range b.positions {
		mark, ok := b.marks[symbol]
		if !ok {
			mark = p.EntryPrice
		}
		if p.Side == domain.SideLong {
			equity += p.Qty * mark
		} else {
			equity -= p.Qty * mark
		}
	}
	return &domain.AccountInfo{
		Equity:      equity,
		Cash:        b.cash,
		BuyingPower: b.cash,
	}, nil
}
