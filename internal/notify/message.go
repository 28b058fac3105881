package notify

import (
	"fmt"
	"html"
	"strings"

	"callisto/internal/domain"
)

// Message builders render the HTML bodies sent to the operator channel.
// Builders never fail; missing fields render as zeros.

// TradeOpened renders the entry notification for a freshly opened position.
func TradeOpened(t *domain.SimulatedTrade, leverage int, riskUSD float64) string {
	emoji := "🟢"
	if t.Side == domain.SideShort {
		emoji = "🔴"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>NEW TRADE OPENED</b>\n\n", emoji)
	fmt.Fprintf(&b, "<b>Symbol:</b> %s\n", t.Symbol)
	fmt.Fprintf(&b, "<b>Side:</b> %s\n", t.Side)
	fmt.Fprintf(&b, "<b>Entry:</b> $%.4f\n", t.EntryPrice)
	fmt.Fprintf(&b, "<b>Size:</b> %.4f\n", t.Size)
	if leverage > 1 {
		fmt.Fprintf(&b, "<b>Leverage:</b> %dx\n", leverage)
	}
	for i, tp := range t.TakeProfits {
		fmt.Fprintf(&b, "<b>TP%d:</b> $%.4f\n", i+1, tp)
	}
	fmt.Fprintf(&b, "<b>SL:</b> $%.4f\n", t.StopLoss)
	fmt.Fprintf(&b, "<b>Risk:</b> $%.2f", riskUSD)
	return b.String()
}

// TradeClosed renders the exit notification; the header follows the exit
// reason.
func TradeClosed(t *domain.SimulatedTrade) string {
	var emoji, header string
	switch t.ExitReason {
	case domain.ExitTP1, domain.ExitTP2, domain.ExitTP3:
		emoji, header = "🎯", "TAKE PROFIT HIT"
	case domain.ExitStopLoss:
		emoji, header = "🛑", "STOP LOSS HIT"
	default:
		header = "TRADE CLOSED"
		if t.PnL >= 0 {
			emoji = "✅"
		} else {
			emoji = "❌"
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>\n\n", emoji, header)
	fmt.Fprintf(&b, "<b>Symbol:</b> %s\n", t.Symbol)
	fmt.Fprintf(&b, "<b>Exit:</b> $%.4f\n", t.ExitPrice)
	fmt.Fprintf(&b, "<b>P&amp;L:</b> $%.2f (%+.2f%%)\n", t.PnL, t.PnLPercent)
	fmt.Fprintf(&b, "<b>R:</b> %+.2f\n", t.RMultiple)
	fmt.Fprintf(&b, "<b>Reason:</b> %s", t.ExitReason)
	return b.String()
}

// RiskWarning renders a risk-manager rejection or limit breach.
func RiskWarning(kind, detail string, critical bool) string {
	emoji := "⚠️"
	if critical {
		emoji = "🚨"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>RISK WARNING</b>\n\n", emoji)
	fmt.Fprintf(&b, "<b>Type:</b> %s\n", kind)
	fmt.Fprintf(&b, "<b>Detail:</b> %s", html.EscapeString(detail))
	return b.String()
}

// DailySummary renders the end-of-day statistics message.
func DailySummary(trades, wins, losses int, pnl float64) string {
	emoji := "📈"
	if pnl < 0 {
		emoji = "📉"
	}
	winRate := 0.0
	if trades > 0 {
		winRate = float64(wins) / float64(trades) * 100
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>DAILY SUMMARY</b>\n\n", emoji)
	fmt.Fprintf(&b, "<b>Trades:</b> %d\n", trades)
	fmt.Fprintf(&b, "<b>Wins:</b> %d / <b>Losses:</b> %d\n", wins, losses)
	fmt.Fprintf(&b, "<b>Win rate:</b> %.1f%%\n", winRate)
	fmt.Fprintf(&b, "<b>P&amp;L:</b> $%+.2f", pnl)
	return b.String()
}

// EngineEvent renders lifecycle events (started, stopped, paused).
func EngineEvent(event, detail string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🤖 <b>ENGINE %s</b>", strings.ToUpper(event))
	if detail != "" {
		fmt.Fprintf(&b, "\n\n%s", html.EscapeString(detail))
	}
	return b.String()
}
