package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"callisto/internal/backtest"
	"callisto/internal/config"
)

// ErrRiskLimit marks trade rejections from the risk manager. Callers use
// errors.Is to tell a blocked trade from an operational failure.
var ErrRiskLimit = errors.New("risk limit")

// Limits holds the hard thresholds the risk manager enforces. Drawdown,
// position-size, and stop-loss limits are fractions (0.06 = 6%).
type Limits struct {
	RiskPerTrade         float64
	MaxDailyDrawdown     float64
	MaxTotalDrawdown     float64
	MaxPositions         int
	MaxLeverage          int
	MaxPositionSize      float64
	MaxStopLossDistance  float64
	MinRiskReward        float64
	MaxTradesPerDay      int
	MaxConsecutiveLosses int
	Cooldown             time.Duration
}

// LimitsFromConfig maps the risk section of the config file onto Limits.
func LimitsFromConfig(rc config.RiskConfig) Limits {
	return Limits{
		RiskPerTrade:         rc.MaxRiskPerTrade,
		MaxDailyDrawdown:     rc.MaxDailyDrawdown,
		MaxTotalDrawdown:     rc.MaxTotalDrawdown,
		MaxPositions:         rc.MaxConcurrentPositions,
		MaxLeverage:          rc.MaxLeverage,
		MaxPositionSize:      rc.MaxPositionSizePercent,
		MaxStopLossDistance:  rc.MaxStopLossPercent,
		MinRiskReward:        rc.MinRiskReward,
		MaxTradesPerDay:      rc.MaxTradesPerDay,
		MaxConsecutiveLosses: rc.MaxConsecutiveLosses,
		Cooldown:             time.Duration(rc.CooldownMinutes) * time.Minute,
	}
}

// minStopDistance rejects stops placed so close to entry that position
// sizing would explode. 0.1% of entry.
const minStopDistance = 0.001

// RiskState is the persisted portion of the risk manager, snapshotted into
// the engine state file so counters survive a restart.
type RiskState struct {
	Capital           float64   `json:"capital"`
	DailyPnL          float64   `json:"dailyPnl"`
	TotalPnL          float64   `json:"totalPnl"`
	DailyTrades       int       `json:"dailyTrades"`
	ConsecutiveLosses int       `json:"consecutiveLosses"`
	CooldownUntil     time.Time `json:"cooldownUntil,omitzero"`
	Day               string    `json:"day"`
}

// RiskStats is a read-only snapshot for status endpoints and logs.
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

// RiskManager tracks account capital and trade counters and vets every
// proposed entry against Limits. All methods are safe for concurrent use.
type RiskManager struct {
	mu     sync.Mutex
	limits Limits

	initialCapital    float64
	capital           float64
	dailyPnL          float64
	totalPnL          float64
	dailyTrades       int
	openPositions     int
	consecutiveLosses int
	cooldownUntil     time.Time
	day               string

	log *slog.Logger
}

// NewRiskManager creates a risk manager with the given limits and starting
// capital. Daily counters begin at zero for the current UTC day.
func NewRiskManager(limits Limits, initialCapital float64, log *slog.Logger) *RiskManager {
	if log == nil {
		log = slog.Default()
	}
	return &RiskManager{
		limits:         limits,
		initialCapital: initialCapital,
		capital:        initialCapital,
		day:            time.Now().UTC().Format("2006-01-02"),
		log:            log.With("component", "risk"),
	}
}

// maybeResetDaily rolls the daily counters at UTC midnight. Caller holds mu.
func (r *RiskManager) maybeResetDaily() {
	today := time.Now().UTC().Format("2006-01-02")
	if r.day == today {
		return
	}
	r.log.Info("daily risk counters reset", "day", today, "prevTrades", r.dailyTrades, "prevPnl", r.dailyPnL)
	r.day = today
	r.dailyTrades = 0
	r.dailyPnL = 0
}

// CanOpen is a cheap pre-scan gate: it checks only the counters that make
// scanning pointless (position cap, daily trade cap, drawdown, cooldown) so
// the engine can skip a whole scan cycle without evaluating every pair.
func (r *RiskManager) CanOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maybeResetDaily()

	if r.openPositions >= r.limits.MaxPositions {
		return fmt.Errorf("%w: max concurrent positions reached (%d)", ErrRiskLimit, r.limits.MaxPositions)
	}
	if r.dailyTrades >= r.limits.MaxTradesPerDay {
		return fmt.Errorf("%w: daily trade cap reached (%d)", ErrRiskLimit, r.limits.MaxTradesPerDay)
	}
	if err := r.drawdownLocked(); err != nil {
		return err
	}
	return r.cooldownLocked()
}

// ValidateTrade runs the full pre-trade checklist against a proposed entry.
// Checks run in a fixed order; the first failure wins.
func (r *RiskManager) ValidateTrade(entry, stop float64, takeProfits []float64, leverage int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maybeResetDaily()

	if entry <= 0 {
		return fmt.Errorf("%w: entry price must be positive, got %v", ErrRiskLimit, entry)
	}
	if stop <= 0 {
		return fmt.Errorf("%w: stop loss is mandatory", ErrRiskLimit)
	}
	if leverage > r.limits.MaxLeverage {
		return fmt.Errorf("%w: leverage %dx exceeds max %dx", ErrRiskLimit, leverage, r.limits.MaxLeverage)
	}

	dist := math.Abs(entry-stop) / entry
	if dist > r.limits.MaxStopLossDistance {
		return fmt.Errorf("%w: stop distance %.2f%% exceeds max %.2f%%",
			ErrRiskLimit, dist*100, r.limits.MaxStopLossDistance*100)
	}
	if dist < minStopDistance {
		return fmt.Errorf("%w: stop distance %.3f%% below minimum %.1f%%",
			ErrRiskLimit, dist*100, minStopDistance*100)
	}

	if len(takeProfits) > 0 {
		rr := math.Abs(takeProfits[0]-entry) / math.Abs(entry-stop)
		if rr < r.limits.MinRiskReward {
			return fmt.Errorf("%w: reward:risk %.2f below minimum %.2f", ErrRiskLimit, rr, r.limits.MinRiskReward)
		}
	}

	if err := r.drawdownLocked(); err != nil {
		return err
	}
	if r.openPositions >= r.limits.MaxPositions {
		return fmt.Errorf("%w: max concurrent positions reached (%d)", ErrRiskLimit, r.limits.MaxPositions)
	}
	if r.dailyTrades >= r.limits.MaxTradesPerDay {
		return fmt.Errorf("%w: daily trade cap reached (%d)", ErrRiskLimit, r.limits.MaxTradesPerDay)
	}
	return r.cooldownLocked()
}

// drawdownLocked checks the daily and total drawdown limits. Caller holds mu.
func (r *RiskManager) drawdownLocked() error {
	if r.initialCapital <= 0 {
		return nil
	}
	daily := r.dailyPnL / r.initialCapital
	if daily <= -r.limits.MaxDailyDrawdown {
		return fmt.Errorf("%w: daily drawdown %.2f%% hit limit %.2f%%",
			ErrRiskLimit, -daily*100, r.limits.MaxDailyDrawdown*100)
	}
	total := (r.capital - r.initialCapital) / r.initialCapital
	if total <= -r.limits.MaxTotalDrawdown {
		return fmt.Errorf("%w: total drawdown %.2f%% hit limit %.2f%%",
			ErrRiskLimit, -total*100, r.limits.MaxTotalDrawdown*100)
	}
	return nil
}

// cooldownLocked enforces the consecutive-loss cooldown. The first check
// after the streak reaches the limit starts the clock; once the cooldown
// expires the streak resets and trading resumes. Caller holds mu.
func (r *RiskManager) cooldownLocked() error {
	if r.limits.MaxConsecutiveLosses <= 0 || r.consecutiveLosses < r.limits.MaxConsecutiveLosses {
		return nil
	}
	now := time.Now().UTC()
	if r.cooldownUntil.IsZero() {
		r.cooldownUntil = now.Add(r.limits.Cooldown)
		r.log.Warn("loss cooldown started",
			"losses", r.consecutiveLosses, "until", r.cooldownUntil.Format(time.RFC3339))
	}
	if now.Before(r.cooldownUntil) {
		return fmt.Errorf("%w: cooling down after %d consecutive losses, %s remaining",
			ErrRiskLimit, r.consecutiveLosses, time.Until(r.cooldownUntil).Round(time.Second))
	}
	r.consecutiveLosses = 0
	r.cooldownUntil = time.Time{}
	r.log.Info("loss cooldown expired, trading resumed")
	return nil
}

// PositionSize converts an entry/stop pair into a position size using the
// fixed-fraction model, then caps the notional value at MaxPositionSize of
// current capital. Returns quantity, notional value, and dollars at risk; a
// zero quantity means the trade cannot be sized.
func (r *RiskManager) PositionSize(entry, stop float64) (qty, valueUSD, riskUSD float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry <= 0 {
		return 0, 0, 0
	}
	qty = backtest.SizePosition(entry, stop, r.capital, r.limits.RiskPerTrade)
	if qty <= 0 {
		return 0, 0, 0
	}
	riskUSD = r.capital * r.limits.RiskPerTrade
	valueUSD = qty * entry
	if maxValue := r.capital * r.limits.MaxPositionSize; valueUSD > maxValue {
		valueUSD = maxValue
		qty = valueUSD / entry
		riskUSD = qty * math.Abs(entry-stop)
	}
	return qty, valueUSD, riskUSD
}

// RecordOpen bumps the position and daily-trade counters after a fill.
func (r *RiskManager) RecordOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maybeResetDaily()
	r.openPositions++
	r.dailyTrades++
}

// RecordClose applies a realized PnL to capital and the loss streak. A win
// clears both the streak and any pending cooldown.
func (r *RiskManager) RecordClose(pnl float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maybeResetDaily()

	if r.openPositions > 0 {
		r.openPositions--
	}
	r.capital += pnl
	r.dailyPnL += pnl
	r.totalPnL += pnl
	if pnl < 0 {
		r.consecutiveLosses++
	} else {
		r.consecutiveLosses = 0
		r.cooldownUntil = time.Time{}
	}
}

// DailyDrawdownBreached reports whether today's realized losses have reached
// the daily limit. The engine uses it to fire a critical notification at the
// moment trading stops for the day.
func (r *RiskManager) DailyDrawdownBreached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialCapital <= 0 {
		return false
	}
	return r.dailyPnL/r.initialCapital <= -r.limits.MaxDailyDrawdown
}

// Capital returns the current account capital.
func (r *RiskManager) Capital() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capital
}

// Stats returns a snapshot of the manager's counters.
func (r *RiskManager) Stats() RiskStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := RiskStats{
		Capital:           r.capital,
		DailyPnL:          r.dailyPnL,
		TotalPnL:          r.totalPnL,
		DailyTrades:       r.dailyTrades,
		OpenPositions:     r.openPositions,
		ConsecutiveLosses: r.consecutiveLosses,
		InCooldown:        !r.cooldownUntil.IsZero() && time.Now().UTC().Before(r.cooldownUntil),
	}
	if r.initialCapital > 0 {
		s.DailyPnLPercent = r.dailyPnL / r.initialCapital * 100
		s.TotalPnLPercent = r.totalPnL / r.initialCapital * 100
	}
	return s
}

// Snapshot exports the persisted state for the engine's state file.
func (r *RiskManager) Snapshot() RiskState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RiskState{
		Capital:           r.capital,
		DailyPnL:          r.dailyPnL,
		TotalPnL:          r.totalPnL,
		DailyTrades:       r.dailyTrades,
		ConsecutiveLosses: r.consecutiveLosses,
		CooldownUntil:     r.cooldownUntil,
		Day:               r.day,
	}
}

// Restore loads a previously saved snapshot. openPositions comes from the
// engine's own position book rather than the snapshot so the two cannot
// drift apart.
func (r *RiskManager) Restore(st RiskState, openPositions int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st.Capital > 0 {
		r.capital = st.Capital
	}
	r.dailyPnL = st.DailyPnL
	r.totalPnL = st.TotalPnL
	r.dailyTrades = st.DailyTrades
	r.consecutiveLosses = st.ConsecutiveLosses
	r.cooldownUntil = st.CooldownUntil
	r.openPositions = openPositions
	if st.Day != "" {
		r.day = st.Day
	}
	r.maybeResetDaily()
}
