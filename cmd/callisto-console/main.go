// callisto-console is a terminal dashboard for a running callisto-server:
// a browsable table of stored backtest runs, a per-run detail pane, and the
// live engine's status line, refreshed every few seconds over the HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"callisto/pkg/callisto"
)

// Styles.
var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	footerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8"))
	detailBar     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("3"))
	colHeader     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	symbolStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	gainStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	engineUpStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	highlightBG   = lipgloss.Color("236")
)

// hlStyle returns a copy of s with the highlight background applied when hl is true.
func hlStyle(s lipgloss.Style, hl bool) lipgloss.Style {
	if hl {
		return s.Background(highlightBG)
	}
	return s
}

func pnlStyle(v float64) lipgloss.Style {
	if v < 0 {
		return lossStyle
	}
	return gainStyle
}

// Sort modes for the runs table.
const (
	sortByDate = iota
	sortByReturn
	sortByTrades
	sortModeCount
)

func sortModeLabel(mode int) string {
	switch mode {
	case sortByReturn:
		return "return"
	case sortByTrades:
		return "trades"
	default:
		return "date"
	}
}

// Messages.
type tickMsg time.Time

type runsLoadedMsg struct {
	runs []callisto.RunSummary
	err  error
}

type statusLoadedMsg struct {
	status *callisto.EngineStatus
	err    error
}

type detailLoadedMsg struct {
	id     string
	detail *callisto.RunDetail
	err    error
}

func tickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Model.
type model struct {
	client *callisto.Client
	server string
	logger *slog.Logger

	runs      []callisto.RunSummary
	status    *callisto.EngineStatus
	sortMode  int
	selected  int
	lastSync  time.Time
	lastError string

	// Detail mode.
	detailMode    bool
	detail        *callisto.RunDetail
	detailLoading bool

	viewport      viewport.Model
	ready         bool
	width, height int
}

func initialModel(client *callisto.Client, server string, logger *slog.Logger) model {
	return model{client: client, server: server, logger: logger}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.loadRuns(), m.loadStatus())
}

func (m model) loadRuns() tea.Cmd {
	c := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		runs, err := c.ListRuns(ctx, 200)
		return runsLoadedMsg{runs: runs, err: err}
	}
}

func (m model) loadStatus() tea.Cmd {
	c := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		status, err := c.EngineStatus(ctx)
		return statusLoadedMsg{status: status, err: err}
	}
}

func (m model) loadDetail(id string) tea.Cmd {
	c := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		detail, err := c.GetRun(ctx, id)
		return detailLoadedMsg{id: id, detail: detail, err: err}
	}
}

func (m *model) resort() {
	switch m.sortMode {
	case sortByReturn:
		sort.SliceStable(m.runs, func(i, j int) bool {
			return m.runs[i].TotalReturnPercent > m.runs[j].TotalReturnPercent
		})
	case sortByTrades:
		sort.SliceStable(m.runs, func(i, j int) bool {
			return m.runs[i].TotalTrades > m.runs[j].TotalTrades
		})
	default:
		sort.SliceStable(m.runs, func(i, j int) bool {
			return m.runs[i].CreatedAt.After(m.runs[j].CreatedAt)
		})
	}
	if m.selected >= len(m.runs) {
		m.selected = len(m.runs) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "s":
			if !m.detailMode {
				m.sortMode = (m.sortMode + 1) % sortModeCount
				m.resort()
				m.setContent()
			}
			return m, nil
		case "r":
			return m, tea.Batch(m.loadRuns(), m.loadStatus())
		case "up":
			if !m.detailMode && m.selected > 0 {
				m.selected--
				m.setContent()
				m.ensureVisible()
			}
			return m, nil
		case "down":
			if !m.detailMode && m.selected < len(m.runs)-1 {
				m.selected++
				m.setContent()
				m.ensureVisible()
			}
			return m, nil
		case "enter":
			if !m.detailMode && m.selected < len(m.runs) {
				m.detailMode = true
				m.detailLoading = true
				m.detail = nil
				m.setContent()
				return m, m.loadDetail(m.runs[m.selected].ID)
			}
			return m, nil
		case "esc", "home":
			if m.detailMode {
				m.detailMode = false
				m.detail = nil
				m.setContent()
				m.viewport.GotoTop()
				m.ensureVisible()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := m.height - 2
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
			m.setContent()
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(tickCmd(), m.loadRuns(), m.loadStatus())

	case runsLoadedMsg:
		if msg.err != nil {
			m.lastError = msg.err.Error()
			m.logger.Warn("loading runs", "error", msg.err)
		} else {
			m.lastError = ""
			m.lastSync = time.Now()
			// Keep the selected run stable across refreshes.
			var selID string
			if m.selected < len(m.runs) {
				selID = m.runs[m.selected].ID
			}
			m.runs = msg.runs
			m.resort()
			for i, r := range m.runs {
				if r.ID == selID {
					m.selected = i
					break
				}
			}
		}
		if !m.detailMode {
			m.setContent()
		}
		return m, nil

	case statusLoadedMsg:
		if msg.err != nil {
			m.logger.Warn("loading engine status", "error", msg.err)
		} else {
			m.status = msg.status
		}
		return m, nil

	case detailLoadedMsg:
		m.detailLoading = false
		if msg.err != nil {
			m.lastError = msg.err.Error()
			m.logger.Error("loading run detail", "id", msg.id, "error", msg.err)
			m.detailMode = false
		} else {
			m.detail = msg.detail
		}
		m.setContent()
		m.viewport.GotoTop()
		return m, nil
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m *model) setContent() {
	if m.ready {
		m.viewport.SetContent(m.renderContent())
	}
}

// ensureVisible scrolls the viewport so the selected run's row is visible.
// The runs table has two header lines before the first row.
func (m *model) ensureVisible() {
	line := m.selected + 2
	yOff := m.viewport.YOffset
	vpH := m.viewport.Height
	if line < yOff {
		m.viewport.SetYOffset(line)
	} else if line >= yOff+vpH {
		m.viewport.SetYOffset(line - vpH + 1)
	}
}

func (m model) View() string {
	if !m.ready {
		return "Connecting..."
	}

	var headerBar string
	if m.detailMode {
		label := " Run Detail "
		if m.detailLoading {
			label = " Run Detail  loading... "
		} else if m.detail != nil {
			label = fmt.Sprintf(" Run Detail  %s %s %s ", m.detail.Symbol, m.detail.Timeframe, m.detail.Strategy)
		}
		headerBar = detailBar.Render(padOrTrunc(label, m.width))
	} else {
		engine := "engine: down"
		if m.status != nil && m.status.Running && m.status.Status != nil {
			s := m.status.Status
			engine = fmt.Sprintf("engine: %s %d pairs  pnl %+.2f", s.Strategy, len(s.Pairs), s.Risk.DailyPnL)
		}
		sync := "--:--:--"
		if !m.lastSync.IsZero() {
			sync = m.lastSync.Format("15:04:05")
		}
		headerText := fmt.Sprintf(" callisto %s    runs: %d    sort: %s    %s    synced %s ",
			m.server, len(m.runs), sortModeLabel(m.sortMode), engine, sync)
		headerBar = headerStyle.Render(padOrTrunc(headerText, m.width))
	}

	pct := m.viewport.ScrollPercent() * 100
	footerLeft := " q quit  r refresh  s sort  up/dn select  enter detail  esc back  pgup/dn scroll"
	if m.lastError != "" {
		footerLeft = " error: " + m.lastError
	}
	footerRight := fmt.Sprintf("%.0f%% ", pct)
	gap := m.width - len(footerLeft) - len(footerRight)
	if gap < 0 {
		gap = 0
	}
	footerBar := footerStyle.Render(padOrTrunc(footerLeft+strings.Repeat(" ", gap)+footerRight, m.width))

	return headerBar + "\n" + m.viewport.View() + "\n" + footerBar
}

func (m model) renderContent() string {
	if m.detailMode {
		return m.renderDetail()
	}
	return m.renderRuns()
}

func (m model) renderRuns() string {
	var b strings.Builder

	if len(m.runs) == 0 {
		b.WriteString(dimStyle.Render("  (no stored runs — trigger one with callisto-backtest or the API)"))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(colHeader.Render(fmt.Sprintf("  %-3s %-10s %-20s %-4s %9s %7s %8s %7s %8s %-16s",
		"#", "Symbol", "Strategy", "TF", "Return", "Trades", "WinRate", "PF", "MaxDD", "Created")))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("  " + strings.Repeat("─", max(m.width-4, 20))))
	b.WriteString("\n")

	for i, r := range m.runs {
		hl := i == m.selected
		b.WriteString(hlStyle(dimStyle, hl).Render(fmt.Sprintf("  %-3d ", i+1)))
		b.WriteString(hlStyle(symbolStyle, hl).Render(fmt.Sprintf("%-10s ", r.Symbol)))
		b.WriteString(hlStyle(lipgloss.NewStyle(), hl).Render(fmt.Sprintf("%-20s %-4s ", r.Strategy, r.Timeframe)))
		b.WriteString(hlStyle(pnlStyle(r.TotalReturnPercent), hl).Render(fmt.Sprintf("%+8.2f%% ", r.TotalReturnPercent)))
		b.WriteString(hlStyle(lipgloss.NewStyle(), hl).Render(fmt.Sprintf("%7d %7.1f%% %7.2f ", r.TotalTrades, r.WinRate, r.ProfitFactor)))
		b.WriteString(hlStyle(lossStyle, hl).Render(fmt.Sprintf("%7.2f%% ", r.MaxDrawdownPercent)))
		b.WriteString(hlStyle(dimStyle, hl).Render(r.CreatedAt.Local().Format("2006-01-02 15:04")))
		b.WriteString("\n")
	}

	if m.status != nil && m.status.Running && m.status.Status != nil {
		s := m.status.Status
		b.WriteString("\n")
		b.WriteString(engineUpStyle.Render(fmt.Sprintf("  ENGINE  %s on %s (%s)", s.Strategy, strings.Join(s.Pairs, " "), s.Broker)))
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("  capital %.2f  daily pnl %+.2f  open %d  trades today %d",
			s.Risk.Capital, s.Risk.DailyPnL, s.Risk.OpenPositions, s.Risk.DailyTrades))
		b.WriteString("\n")
		for _, p := range s.Positions {
			b.WriteString(fmt.Sprintf("    %-10s %-5s entry %.4f  stop %.4f  size %.4f\n",
				p.Symbol, p.Side, p.EntryPrice, p.StopLoss, p.Size))
		}
	}
	return b.String()
}

func (m model) renderDetail() string {
	var b strings.Builder
	if m.detailLoading || m.detail == nil {
		b.WriteString(dimStyle.Render("  Loading..."))
		b.WriteString("\n")
		return b.String()
	}
	d := m.detail

	b.WriteString(fmt.Sprintf("  %s .. %s  (%.1f days)\n",
		d.Start.Format("2006-01-02"), d.End.Format("2006-01-02"), d.DurationDays))
	b.WriteString(fmt.Sprintf("  capital %.2f -> %.2f   return ", d.InitialCapital, d.FinalCapital))
	b.WriteString(pnlStyle(d.TotalReturnPercent).Render(fmt.Sprintf("%+.2f%%", d.TotalReturnPercent)))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  trades %d (%d won / %d lost)   winrate %.1f%%   pf %.2f   avg R %.2f\n",
		d.TotalTrades, d.WinningTrades, d.LosingTrades, d.WinRate, d.ProfitFactor, d.AverageR))
	b.WriteString(fmt.Sprintf("  max dd %.2f%%   sharpe %.2f   sortino %.2f   calmar %.2f\n",
		d.MaxDrawdownPercent, d.SharpeRatio, d.SortinoRatio, d.CalmarRatio))

	if spark := sparkline(d.EquityCurve, max(m.width-6, 20)); spark != "" {
		b.WriteString("\n  equity\n  ")
		b.WriteString(gainStyle.Render(spark))
		b.WriteString("\n")
	}
	if spark := sparkline(d.DrawdownCurve, max(m.width-6, 20)); spark != "" {
		b.WriteString("  drawdown\n  ")
		b.WriteString(lossStyle.Render(spark))
		b.WriteString("\n")
	}

	if len(d.Trades) > 0 {
		b.WriteString("\n")
		b.WriteString(colHeader.Render(fmt.Sprintf("  %-16s %-5s %10s %10s %9s %7s %-14s",
			"Entry", "Side", "In", "Out", "PnL", "R", "Exit")))
		b.WriteString("\n")
		for _, t := range d.Trades {
			b.WriteString(fmt.Sprintf("  %-16s %-5s %10.4f %10.4f ",
				t.EntryTime.Format("01-02 15:04"), t.Side, t.EntryPrice, t.ExitPrice))
			b.WriteString(pnlStyle(t.PnL).Render(fmt.Sprintf("%+8.2f", t.PnL)))
			b.WriteString(fmt.Sprintf(" %+6.2f %-14s\n", t.RMultiple, t.ExitReason))
		}
	}
	return b.String()
}

// sparkline renders a series into one row of block characters, downsampled
// to at most width columns.
func sparkline(series []float64, width int) string {
	if len(series) < 2 || width < 2 {
		return ""
	}
	blocks := []rune("▁▂▃▄▅▆▇█")

	// Downsample by picking evenly spaced points.
	n := len(series)
	if n > width {
		n = width
	}
	lo, hi := series[0], series[0]
	for _, v := range series {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	var b strings.Builder
	for i := 0; i < n; i++ {
		v := series[i*(len(series)-1)/(n-1)]
		idx := 0
		if span > 0 {
			idx = int((v - lo) / span * float64(len(blocks)-1))
		}
		b.WriteRune(blocks[idx])
	}
	return b.String()
}

// padOrTrunc pads s with spaces to width, or truncates if longer.
func padOrTrunc(s string, width int) string {
	n := len(s)
	if n >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-n)
}

func main() {
	server := os.Getenv("CALLISTO_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}

	logPath := fmt.Sprintf("/tmp/callisto-console-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo}))

	client := callisto.NewClient(server)

	// Fail fast when the server is unreachable.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = client.Health(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot reach %s: %v\n", server, err)
		os.Exit(1)
	}
	logger.Info("connected", "server", server)

	p := tea.NewProgram(
		initialModel(client, server, logger),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
