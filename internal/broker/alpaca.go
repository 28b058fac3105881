package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"callisto/internal/domain"
	"callisto/internal/util"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements the Broker interface against the Alpaca trading
// API. Point baseURL at the paper endpoint for paper accounts; the SDK
// client handles authentication headers.
type AlpacaBroker struct {
	client *alpaca.Client
	log    *slog.Logger
}

// NewAlpacaBroker creates an AlpacaBroker configured with the given
// credentials and API endpoint.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string) *AlpacaBroker {
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		log: slog.Default().With("component", "broker"),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// SubmitOrder places a GTC order with Alpaca and returns the accepted order
// as reported back by the API.
func (b *AlpacaBroker) SubmitOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	qty := decimal.NewFromFloat(order.Qty)
	req := alpaca.PlaceOrderRequest{
		Symbol:      util.ToAlpacaSymbol(order.Symbol),
		Qty:         &qty,
		Side:        toAlpacaSide(order.Side),
		Type:        toAlpacaType(order.Type),
		TimeInForce: alpaca.GTC,
	}
	if order.Type == domain.OrderTypeLimit {
		limit := decimal.NewFromFloat(order.LimitPrice)
		req.LimitPrice = &limit
	}
	if order.ID != "" {
		req.ClientOrderID = order.ID
	}

	placed, err := b.client.PlaceOrder(req)
	if err != nil {
		return nil, fmt.Errorf("alpaca submit %s: %w", order.Symbol, err)
	}
	b.log.Info("order submitted",
		"symbol", order.Symbol, "side", order.Side, "qty", order.Qty, "id", placed.ID)
	return fromAlpacaOrder(placed), nil
}

// CancelOrder cancels an open order by its Alpaca order ID.
func (b *AlpacaBroker) CancelOrder(_ context.Context, orderID string) error {
	if err := b.client.CancelOrder(orderID); err != nil {
		return fmt.Errorf("alpaca cancel %s: %w", orderID, err)
	}
	return nil
}

// GetPositions returns all open positions held in the Alpaca account.
func (b *AlpacaBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	held, err := b.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("alpaca positions: %w", err)
	}
	positions := make([]domain.Position, 0, len(held))
	for _, p := range held {
		side := domain.SideLong
		if strings.EqualFold(string(p.Side), "short") {
			side = domain.SideShort
		}
		positions = append(positions, domain.Position{
			Symbol:     util.FromAlpacaSymbol(p.Symbol),
			Side:       side,
			Qty:        p.Qty.Abs().InexactFloat64(),
			EntryPrice: p.AvgEntryPrice.InexactFloat64(),
		})
	}
	return positions, nil
}

// GetAccount returns the account's equity, cash and buying power.
func (b *AlpacaBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	acct, err := b.client.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("alpaca account: %w", err)
	}
	return &domain.AccountInfo{
		Equity:      acct.Equity.InexactFloat64(),
		Cash:        acct.Cash.InexactFloat64(),
		BuyingPower: acct.BuyingPower.InexactFloat64(),
	}, nil
}

func toAlpacaSide(s domain.OrderSide) alpaca.Side {
	if s == domain.OrderSideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func toAlpacaType(t domain.OrderType) alpaca.OrderType {
	if t == domain.OrderTypeLimit {
		return alpaca.Limit
	}
	return alpaca.Market
}

func fromAlpacaOrder(o *alpaca.Order) *domain.Order {
	out := &domain.Order{
		ID:        o.ID,
		Symbol:    util.FromAlpacaSymbol(o.Symbol),
		Side:      domain.OrderSide(o.Side),
		Type:      domain.OrderType(o.Type),
		Status:    fromAlpacaStatus(o.Status),
		FilledQty: o.FilledQty.InexactFloat64(),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
	if o.Qty != nil {
		out.Qty = o.Qty.InexactFloat64()
	}
	if o.LimitPrice != nil {
		out.LimitPrice = o.LimitPrice.InexactFloat64()
	}
	if o.FilledAvgPrice != nil {
		out.FilledAvgPrice = o.FilledAvgPrice.InexactFloat64()
	}
	return out
}

func fromAlpacaStatus(s string) domain.OrderStatus {
	switch s {
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "expired":
		return domain.OrderStatusCancelled
	case "rejected", "suspended":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusNew
	}
}
