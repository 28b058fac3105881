package license

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Tier is a subscription level. Tiers are strictly ordered:
// free < pro < premium < enterprise.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

var tierOrder = []Tier{TierFree, TierPro, TierPremium, TierEnterprise}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return slices.Contains(tierOrder, t)
}

func (t Tier) rank() int {
	return slices.Index(tierOrder, t)
}

// Next returns the tier above t, or t itself at the top.
func (t Tier) Next() Tier {
	i := t.rank()
	if i < 0 || i == len(tierOrder)-1 {
		return t
	}
	return tierOrder[i+1]
}

// Prefix returns the key prefix used when generating keys for the tier.
func (t Tier) Prefix() string {
	switch t {
	case TierFree:
		return "FREE"
	case TierPro:
		return "PRO"
	case TierPremium:
		return "PREM"
	case TierEnterprise:
		return "ENT"
	default:
		return "BOT"
	}
}

// Features is the limit set attached to a tier. -1 on a numeric limit means
// unlimited; an empty list means everything is allowed.
type Features struct {
	LiveTrading            bool     `yaml:"live_trading" json:"liveTrading"`
	MaxPositionSizeUSD     float64  `yaml:"max_position_size_usd" json:"maxPositionSizeUsd"`
	MaxDailyTrades         int      `yaml:"max_daily_trades" json:"maxDailyTrades"`
	MaxConcurrentPositions int      `yaml:"max_concurrent_positions" json:"maxConcurrentPositions"`
	AvailablePairs         []string `yaml:"available_pairs" json:"availablePairs,omitempty"`
	AvailableLeverage      []int    `yaml:"available_leverage" json:"availableLeverage,omitempty"`
	AvailableStrategies    []string `yaml:"available_strategies" json:"availableStrategies,omitempty"`
}

// DefaultTiers returns the built-in tier ladder. Deployments override it via
// the tiers section of the config file.
func DefaultTiers() map[Tier]Features {
	return map[Tier]Features{
		TierFree: {
			LiveTrading:            false,
			MaxPositionSizeUSD:     1000,
			MaxDailyTrades:         5,
			MaxConcurrentPositions: 1,
			AvailablePairs:         []string{"BTCUSDT", "ETHUSDT"},
			AvailableLeverage:      []int{1, 2, 3},
			AvailableStrategies:    []string{"ema_crossover"},
		},
		TierPro: {
			LiveTrading:            true,
			MaxPositionSizeUSD:     10000,
			MaxDailyTrades:         25,
			MaxConcurrentPositions: 3,
			AvailablePairs:         []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT"},
			AvailableLeverage:      []int{1, 2, 3, 5, 10},
		},
		TierPremium: {
			LiveTrading:            true,
			MaxPositionSizeUSD:     50000,
			MaxDailyTrades:         -1,
			MaxConcurrentPositions: 10,
			AvailableLeverage:      []int{1, 2, 3, 5, 10, 20},
		},
		TierEnterprise: {
			LiveTrading:            true,
			MaxPositionSizeUSD:     -1,
			MaxDailyTrades:         -1,
			MaxConcurrentPositions: -1,
		},
	}
}

// ErrTierLimit is wrapped by every gate rejection so callers can distinguish
// tier limits from other failures.
var ErrTierLimit = errors.New("tier limit")

// Gate enforces one tier's limits. Construct it once per session from the
// validated license tier and consult it before every trade.
type Gate struct {
	tier     Tier
	features Features
	log      *slog.Logger
}

// NewGate builds a gate for the tier using the given feature table. Unknown
// tiers fall back to free.
func NewGate(tier Tier, tiers map[Tier]Features) *Gate {
	f, ok := tiers[tier]
	if !ok {
		tier = TierFree
		f = tiers[TierFree]
	}
	return &Gate{
		tier:     tier,
		features: f,
		log:      slog.Default().With("component", "tiergate", "tier", string(tier)),
	}
}

// Tier returns the gated tier.
func (g *Gate) Tier() Tier { return g.tier }

// Features returns the active limit set.
func (g *Gate) Features() Features { return g.features }

// CheckLiveTrading rejects live order flow on paper-only tiers.
func (g *Gate) CheckLiveTrading() error {
	if !g.features.LiveTrading {
		return fmt.Errorf("live trading requires the %s tier or above: %w", TierPro, ErrTierLimit)
	}
	return nil
}

// CheckPositionSize rejects positions whose notional exceeds the tier cap.
func (g *Gate) CheckPositionSize(valueUSD float64) error {
	limit := g.features.MaxPositionSizeUSD
	if limit < 0 {
		return nil
	}
	if valueUSD > limit {
		return fmt.Errorf("position size $%.0f exceeds the %s cap of $%.0f: %w",
			valueUSD, g.tier, limit, ErrTierLimit)
	}
	return nil
}

// CheckDailyTrades rejects a new trade once the daily count is used up.
func (g *Gate) CheckDailyTrades(current int) error {
	limit := g.features.MaxDailyTrades
	if limit < 0 {
		return nil
	}
	if current >= limit {
		return fmt.Errorf("daily trade limit of %d reached on the %s tier: %w",
			limit, g.tier, ErrTierLimit)
	}
	return nil
}

// CheckConcurrentPositions rejects a new position once the concurrency cap is
// used up.
func (g *Gate) CheckConcurrentPositions(current int) error {
	limit := g.features.MaxConcurrentPositions
	if limit < 0 {
		return nil
	}
	if current >= limit {
		return fmt.Errorf("maximum of %d concurrent positions reached on the %s tier: %w",
			limit, g.tier, ErrTierLimit)
	}
	return nil
}

// CheckPair rejects symbols outside the tier's pair list.
func (g *Gate) CheckPair(pair string) error {
	allowed := g.features.AvailablePairs
	if len(allowed) == 0 {
		return nil
	}
	if !slices.Contains(allowed, pair) {
		return fmt.Errorf("pair %s is not available on the %s tier (available: %s): %w",
			pair, g.tier, strings.Join(allowed, ", "), ErrTierLimit)
	}
	return nil
}

// CheckLeverage rejects leverage outside the tier's ladder.
func (g *Gate) CheckLeverage(leverage int) error {
	allowed := g.features.AvailableLeverage
	if len(allowed) == 0 {
		return nil
	}
	if !slices.Contains(allowed, leverage) {
		return fmt.Errorf("leverage %dx is not available on the %s tier: %w",
			leverage, g.tier, ErrTierLimit)
	}
	return nil
}

// CheckStrategy rejects strategies outside the tier's list.
func (g *Gate) CheckStrategy(name string) error {
	allowed := g.features.AvailableStrategies
	if len(allowed) == 0 {
		return nil
	}
	if !slices.Contains(allowed, name) {
		return fmt.Errorf("strategy %s is not available on the %s tier: %w",
			name, g.tier, ErrTierLimit)
	}
	return nil
}

// TradeRequest bundles everything the gate needs to vet one prospective
// trade.
type TradeRequest struct {
	Pair             string
	PositionValueUSD float64
	Leverage         int
	Strategy         string
	Live             bool
	OpenPositions    int
	DailyTrades      int
}

// CheckTrade runs every applicable gate for the request and returns the
// first rejection.
func (g *Gate) CheckTrade(req TradeRequest) error {
	if req.Live {
		if err := g.CheckLiveTrading(); err != nil {
			return err
		}
	}
	if err := g.CheckPositionSize(req.PositionValueUSD); err != nil {
		g.log.Warn("tier limit hit", "check", "position_size", "value", req.PositionValueUSD)
		return err
	}
	if err := g.CheckDailyTrades(req.DailyTrades); err != nil {
		g.log.Warn("tier limit hit", "check", "daily_trades", "count", req.DailyTrades)
		return err
	}
	if err := g.CheckConcurrentPositions(req.OpenPositions); err != nil {
		g.log.Warn("tier limit hit", "check", "concurrent_positions", "count", req.OpenPositions)
		return err
	}
	if err := g.CheckPair(req.Pair); err != nil {
		return err
	}
	if err := g.CheckLeverage(req.Leverage); err != nil {
		return err
	}
	if err := g.CheckStrategy(req.Strategy); err != nil {
		return err
	}
	return nil
}
