// Package engine runs the live trading loop: scanning pairs for entry
// signals, sizing and risk-checking every proposal, executing through a
// broker, and watching open positions for stop and take-profit exits. The
// engine persists its position book and risk counters through a StateStore
// so a restart resumes where the previous run stopped.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"callisto/internal/broker"
	"callisto/internal/domain"
	"callisto/internal/indicator"
	"callisto/internal/license"
	"callisto/internal/metrics"
	"callisto/internal/notify"
	"callisto/internal/pairparams"
	"callisto/internal/store"
	"callisto/internal/strategy"
	"callisto/internal/util"
)

// Default loop intervals, overridable via Options.
const (
	defaultScanInterval    = 60 * time.Second
	defaultMonitorInterval = 10 * time.Second
)

// markPricer is implemented by brokers that need the current market price
// pushed in before an order can fill (the paper broker).
type markPricer interface {
	SetMarkPrice(symbol string, price float64)
}

// State is the engine's resumable snapshot: open positions, closed trade
// history, and the risk manager's counters.
type State struct {
	Positions []domain.SimulatedTrade `json:"positions"`
	Trades    []domain.SimulatedTrade `json:"trades"`
	Risk      RiskState               `json:"risk"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

// Options wires an Engine's collaborators and loop parameters.
type Options struct {
	Broker    broker.Broker
	Bars      store.BarStore
	State     store.StateStore
	Evaluator strategy.Evaluator
	Risk      *RiskManager
	Gate      *license.Gate
	Params    *pairparams.Store
	Notifier  notify.Notifier
	Metrics   *metrics.Recorder
	Log       *slog.Logger

	Pairs           []string
	Timeframe       string
	ScanInterval    time.Duration
	MonitorInterval time.Duration
	Live            bool
}

// Engine coordinates signal generation, risk checks, order execution, and
// position monitoring for a set of trading pairs on one timeframe.
type Engine struct {
	broker    broker.Broker
	bars      store.BarStore
	state     store.StateStore
	evaluator strategy.Evaluator
	risk      *RiskManager
	gate      *license.Gate
	params    *pairparams.Store
	notifier  notify.Notifier
	rec       *metrics.Recorder

	pairs           []string
	timeframe       string
	interval        time.Duration
	scanInterval    time.Duration
	monitorInterval time.Duration
	live            bool

	mu        sync.Mutex
	positions map[string]*domain.SimulatedTrade
	trades    []domain.SimulatedTrade

	log *slog.Logger
}

// New creates an Engine from Options. Broker, Bars, State, Evaluator, and
// Risk are required; everything else defaults to a no-op.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Broker == nil:
		return nil, errors.New("engine: broker is required")
	case opts.Bars == nil:
		return nil, errors.New("engine: bar store is required")
	case opts.State == nil:
		return nil, errors.New("engine: state store is required")
	case opts.Evaluator == nil:
		return nil, errors.New("engine: evaluator is required")
	case opts.Risk == nil:
		return nil, errors.New("engine: risk manager is required")
	case len(opts.Pairs) == 0:
		return nil, errors.New("engine: at least one pair is required")
	}
	interval, err := util.ParseTimeframe(opts.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Noop{}
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = defaultScanInterval
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = defaultMonitorInterval
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		broker:          opts.Broker,
		bars:            opts.Bars,
		state:           opts.State,
		evaluator:       opts.Evaluator,
		risk:            opts.Risk,
		gate:            opts.Gate,
		params:          opts.Params,
		notifier:        opts.Notifier,
		rec:             opts.Metrics,
		pairs:           opts.Pairs,
		timeframe:       opts.Timeframe,
		interval:        interval,
		scanInterval:    opts.ScanInterval,
		monitorInterval: opts.MonitorInterval,
		live:            opts.Live,
		positions:       make(map[string]*domain.SimulatedTrade),
		log:             log.With("component", "engine"),
	}, nil
}

// Run restores persisted state and drives the scan and monitor loops until
// ctx is cancelled, then closes every open position and saves a final
// snapshot.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.restore(ctx); err != nil {
		return err
	}

	e.log.Info("engine started",
		"broker", e.broker.Name(),
		"strategy", e.evaluator.Name(),
		"pairs", len(e.pairs),
		"timeframe", e.timeframe,
		"live", e.live,
		"capital", e.risk.Capital(),
	)
	e.send(ctx, notify.EngineEvent("started", fmt.Sprintf(
		"%s on %d pairs (%s), broker %s", e.evaluator.Name(), len(e.pairs), e.timeframe, e.broker.Name())))

	scanTick := time.NewTicker(e.scanInterval)
	defer scanTick.Stop()
	monitorTick := time.NewTicker(e.monitorInterval)
	defer monitorTick.Stop()

	e.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return e.shutdown()
		case <-scanTick.C:
			e.scan(ctx)
		case <-monitorTick.C:
			e.monitor(ctx)
		}
	}
}

// restore loads the last saved snapshot, rebuilding the position book and
// the risk counters. A missing snapshot is a fresh start, not an error.
func (e *Engine) restore(ctx context.Context) error {
	var st State
	found, err := e.state.LoadEngineState(ctx, &st)
	if err != nil {
		return fmt.Errorf("engine: load state: %w", err)
	}
	if !found {
		e.log.Info("no saved state, starting fresh")
		return nil
	}

	e.mu.Lock()
	for i := range st.Positions {
		p := st.Positions[i]
		e.positions[p.Symbol] = &p
	}
	e.trades = st.Trades
	open := len(e.positions)
	e.mu.Unlock()

	e.risk.Restore(st.Risk, open)
	e.log.Info("state restored",
		"positions", open, "trades", len(st.Trades), "capital", e.risk.Capital(), "savedAt", st.UpdatedAt)
	return nil
}

// scan evaluates each pair for an entry signal and executes at most one new
// trade per cycle. Pairs that already carry a position are skipped.
func (e *Engine) scan(ctx context.Context) {
	e.rec.RecordEngineScan()

	if err := e.risk.CanOpen(); err != nil {
		e.log.Debug("scan skipped", "reason", err)
		return
	}

	for _, pair := range e.pairs {
		if ctx.Err() != nil {
			return
		}
		if e.hasPosition(pair) {
			continue
		}

		frames, err := e.recentFrames(ctx, pair)
		if err != nil {
			e.log.Warn("bar read failed", "pair", pair, "err", err)
			continue
		}
		if len(frames) < domain.MinHistoryBars {
			e.log.Debug("insufficient history", "pair", pair, "bars", len(frames))
			continue
		}

		proposal := e.evaluator.Evaluate(frames, len(frames)-1)
		if proposal == nil {
			continue
		}
		e.rec.RecordSignal(proposal.Strategy, string(proposal.Side))
		e.log.Info("signal",
			"pair", pair, "side", proposal.Side, "entry", proposal.EntryPrice,
			"stop", proposal.StopLoss, "confirmations", proposal.Confirmations)

		if e.execute(ctx, proposal) {
			// One entry per scan cycle.
			return
		}
	}
}

// recentFrames reads enough history for the indicator warm-up and computes
// the indicator set over it.
func (e *Engine) recentFrames(ctx context.Context, pair string) ([]domain.IndicatorBar, error) {
	end := time.Now().UTC()
	start := end.Add(-e.interval * time.Duration(2*domain.MinHistoryBars))
	bars, err := e.bars.ReadBars(ctx, pair, e.timeframe, start, end)
	if err != nil {
		return nil, err
	}
	return indicator.Compute(bars), nil
}

// execute sizes, validates, and submits a proposed entry. Returns true only
// when an order actually filled and a position was opened.
func (e *Engine) execute(ctx context.Context, p *domain.SignalProposal) bool {
	leverage := e.leverageFor(p.Symbol)

	qty, valueUSD, riskUSD := e.risk.PositionSize(p.EntryPrice, p.StopLoss)
	if qty <= 0 {
		e.log.Warn("trade skipped: unsizeable", "pair", p.Symbol, "entry", p.EntryPrice, "stop", p.StopLoss)
		return false
	}
	if err := e.risk.ValidateTrade(p.EntryPrice, p.StopLoss, p.TakeProfits, leverage); err != nil {
		e.log.Warn("trade rejected", "pair", p.Symbol, "reason", err)
		return false
	}
	if e.gate != nil {
		err := e.gate.CheckTrade(license.TradeRequest{
			Pair:             p.Symbol,
			PositionValueUSD: valueUSD,
			Leverage:         leverage,
			Strategy:         p.Strategy,
			Live:             e.live,
			OpenPositions:    e.openCount(),
			DailyTrades:      e.risk.Stats().DailyTrades,
		})
		if err != nil {
			e.log.Warn("trade blocked by tier", "pair", p.Symbol, "reason", err)
			return false
		}
	}

	e.setMark(p.Symbol, p.EntryPrice)
	order := &domain.Order{
		Symbol: p.Symbol,
		Side:   domain.OrderSideFor(p.Side, false),
		Type:   domain.OrderTypeMarket,
		Qty:    qty,
	}
	filled, err := e.broker.SubmitOrder(ctx, order)
	if err != nil {
		e.log.Error("order failed", "pair", p.Symbol, "err", err)
		return false
	}

	entry := filled.FilledAvgPrice
	if entry <= 0 {
		entry = p.EntryPrice
	}
	size := filled.FilledQty
	if size <= 0 {
		size = qty
	}
	trade := domain.SimulatedTrade{
		Symbol:      p.Symbol,
		Strategy:    p.Strategy,
		Side:        p.Side,
		EntryTime:   time.Now().UTC(),
		EntryPrice:  entry,
		StopLoss:    p.StopLoss,
		TakeProfits: append([]float64(nil), p.TakeProfits...),
		Size:        size,
		Status:      domain.TradeOpen,
	}

	e.mu.Lock()
	e.positions[trade.Symbol] = &trade
	e.mu.Unlock()
	e.risk.RecordOpen()
	e.rec.RecordTradeOpened(trade.Symbol, string(trade.Side))

	e.persist(ctx)
	e.send(ctx, notify.TradeOpened(&trade, leverage, riskUSD))
	e.log.Info("position opened",
		"pair", trade.Symbol, "side", trade.Side, "entry", trade.EntryPrice,
		"size", trade.Size, "value", valueUSD, "stop", trade.StopLoss)
	return true
}

// leverageFor returns the per-pair leverage capped by the global limit.
func (e *Engine) leverageFor(pair string) int {
	lev := 1
	if e.params != nil {
		if pl := e.params.ParamsFor(pair).MaxLeverage; pl > 0 {
			lev = pl
		}
	}
	if limit := e.risk.limits.MaxLeverage; limit > 0 && lev > limit {
		lev = limit
	}
	return lev
}

// monitor walks the open positions and closes any whose latest price has
// reached the stop or the first take-profit.
func (e *Engine) monitor(ctx context.Context) {
	for _, t := range e.Positions() {
		if ctx.Err() != nil {
			return
		}
		price, ok := e.latestClose(ctx, t.Symbol)
		if !ok {
			continue
		}
		e.setMark(t.Symbol, price)

		reason, hit := exitReason(&t, price)
		if !hit {
			continue
		}
		e.closePosition(ctx, t.Symbol, price, reason)
	}
}

// exitReason decides whether price closes the trade. The stop wins over the
// take-profit when both are crossed.
func exitReason(t *domain.SimulatedTrade, price float64) (domain.ExitReason, bool) {
	var tp float64
	if len(t.TakeProfits) > 0 {
		tp = t.TakeProfits[0]
	}
	if t.Side == domain.SideLong {
		if t.StopLoss > 0 && price <= t.StopLoss {
			return domain.ExitStopLoss, true
		}
		if tp > 0 && price >= tp {
			return domain.TPReason(0), true
		}
		return "", false
	}
	if t.StopLoss > 0 && price >= t.StopLoss {
		return domain.ExitStopLoss, true
	}
	if tp > 0 && price <= tp {
		return domain.TPReason(0), true
	}
	return "", false
}

// latestClose fetches the most recent close for the pair. ok is false when
// no bar exists in the lookback window.
func (e *Engine) latestClose(ctx context.Context, pair string) (float64, bool) {
	end := time.Now().UTC()
	start := end.Add(-3 * e.interval)
	bars, err := e.bars.ReadBars(ctx, pair, e.timeframe, start, end)
	if err != nil || len(bars) == 0 {
		if err != nil {
			e.log.Warn("price read failed", "pair", pair, "err", err)
		}
		return 0, false
	}
	return bars[len(bars)-1].Close, true
}

// closePosition exits the named position at price with the given reason,
// records the realized PnL, and persists the new state. The position stays
// open if the closing order fails, so the next monitor tick retries.
func (e *Engine) closePosition(ctx context.Context, pair string, price float64, reason domain.ExitReason) {
	e.mu.Lock()
	t, ok := e.positions[pair]
	e.mu.Unlock()
	if !ok {
		return
	}

	e.setMark(pair, price)
	order := &domain.Order{
		Symbol: pair,
		Side:   domain.OrderSideFor(t.Side, true),
		Type:   domain.OrderTypeMarket,
		Qty:    t.Size,
	}
	filled, err := e.broker.SubmitOrder(ctx, order)
	if err != nil {
		e.log.Error("close order failed", "pair", pair, "err", err)
		return
	}
	exit := filled.FilledAvgPrice
	if exit <= 0 {
		exit = price
	}

	pnl := (exit - t.EntryPrice) * t.Size
	if t.Side == domain.SideShort {
		pnl = -pnl
	}
	t.ExitTime = time.Now().UTC()
	t.ExitPrice = exit
	t.PnL = pnl
	if notional := t.EntryPrice * t.Size; notional > 0 {
		t.PnLPercent = pnl / notional * 100
	}
	if riskPerUnit := math.Abs(t.EntryPrice - t.StopLoss); riskPerUnit > 0 && t.Size > 0 {
		t.RMultiple = pnl / (riskPerUnit * t.Size)
	}
	t.ExitReason = reason
	t.Status = domain.TradeClosed

	e.mu.Lock()
	delete(e.positions, pair)
	e.trades = append(e.trades, *t)
	e.mu.Unlock()

	e.risk.RecordClose(pnl)
	e.rec.RecordTradeClosed(pair, string(reason))
	e.persist(ctx)
	e.send(ctx, notify.TradeClosed(t))
	e.log.Info("position closed",
		"pair", pair, "reason", reason, "exit", exit, "pnl", pnl, "capital", e.risk.Capital())

	if pnl < 0 && e.risk.DailyDrawdownBreached() {
		e.send(ctx, notify.RiskWarning("daily drawdown",
			fmt.Sprintf("daily PnL %.2f, trading paused until UTC midnight", e.risk.Stats().DailyPnL), true))
	}
}

// shutdown closes every open position at the last known price and writes a
// final snapshot. Runs on a fresh context because the loop context is done.
func (e *Engine) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	open := e.Positions()
	e.log.Info("engine stopping", "openPositions", len(open))
	for _, t := range open {
		price, ok := e.latestClose(ctx, t.Symbol)
		if !ok {
			// No price available; flatten at entry so the book still empties.
			price = t.EntryPrice
		}
		e.closePosition(ctx, t.Symbol, price, domain.ExitShutdown)
	}

	e.persist(ctx)
	st := e.risk.Stats()
	e.send(ctx, notify.EngineEvent("stopped", fmt.Sprintf(
		"closed %d positions, capital %.2f (%+.2f%% total)", len(open), st.Capital, st.TotalPnLPercent)))
	e.log.Info("engine stopped", "capital", st.Capital, "totalPnlPercent", st.TotalPnLPercent)
	return nil
}

// persist writes the current snapshot through the state store.
func (e *Engine) persist(ctx context.Context) {
	e.mu.Lock()
	st := State{
		Positions: make([]domain.SimulatedTrade, 0, len(e.positions)),
		Trades:    e.trades,
		UpdatedAt: time.Now().UTC(),
	}
	for _, t := range e.positions {
		st.Positions = append(st.Positions, *t)
	}
	e.mu.Unlock()
	sort.Slice(st.Positions, func(i, j int) bool { return st.Positions[i].Symbol < st.Positions[j].Symbol })
	st.Risk = e.risk.Snapshot()

	if err := e.state.SaveEngineState(ctx, &st); err != nil {
		e.log.Error("state save failed", "err", err)
	}
}

// Positions returns a copy of the open position book, sorted by symbol.
func (e *Engine) Positions() []domain.SimulatedTrade {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.SimulatedTrade, 0, len(e.positions))
	for _, t := range e.positions {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Trades returns a copy of the closed trade history.
func (e *Engine) Trades() []domain.SimulatedTrade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.SimulatedTrade(nil), e.trades...)
}

// Status describes the engine for the HTTP API.
type Status struct {
	Broker    string                  `json:"broker"`
	Strategy  string                  `json:"strategy"`
	Timeframe string                  `json:"timeframe"`
	Pairs     []string                `json:"pairs"`
	Live      bool                    `json:"live"`
	Positions []domain.SimulatedTrade `json:"positions"`
	Risk      RiskStats               `json:"risk"`
}

// Status returns the engine's current view for status endpoints.
func (e *Engine) Status() Status {
	return Status{
		Broker:    e.broker.Name(),
		Strategy:  e.evaluator.Name(),
		Timeframe: e.timeframe,
		Pairs:     append([]string(nil), e.pairs...),
		Live:      e.live,
		Positions: e.Positions(),
		Risk:      e.risk.Stats(),
	}
}

func (e *Engine) hasPosition(pair string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.positions[pair]
	return ok
}

func (e *Engine) openCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.positions)
}

func (e *Engine) setMark(pair string, price float64) {
	if mp, ok := e.broker.(markPricer); ok {
		mp.SetMarkPrice(pair, price)
	}
}

func (e *Engine) send(ctx context.Context, text string) {
	if err := e.notifier.Send(ctx, text); err != nil {
		e.log.Warn("notification failed", "err", err)
	}
}
