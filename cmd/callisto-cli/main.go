// callisto-cli is a thin command-line client for a running callisto-server,
// built on the pkg/callisto SDK.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"callisto/pkg/callisto"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: callisto-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version                     Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  status                      Show server and engine status\n")
	fmt.Fprintf(os.Stderr, "  runs                        List stored backtest runs\n")
	fmt.Fprintf(os.Stderr, "  run <id>                    Show one run in detail\n")
	fmt.Fprintf(os.Stderr, "  backtest <symbol> <strategy> <timeframe>\n")
	fmt.Fprintf(os.Stderr, "                              Trigger a backtest over stored bars\n")
	fmt.Fprintf(os.Stderr, "  strategies                  List registered strategies\n")
	fmt.Fprintf(os.Stderr, "  symbols <timeframe>         List symbols with stored bars\n")
	fmt.Fprintf(os.Stderr, "\nThe server address comes from CALLISTO_SERVER (default http://localhost:8080).\n")
}

func main() {
	flag.Usage = usage
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	server := os.Getenv("CALLISTO_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}
	client := callisto.NewClient(server)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "version":
		fmt.Printf("callisto-cli %s\n", version)

	case "status":
		err = showStatus(ctx, client)

	case "runs":
		err = listRuns(ctx, client)

	case "run":
		if len(args) != 1 {
			fatal("usage: callisto-cli run <id>")
		}
		err = showRun(ctx, client, args[0])

	case "backtest":
		if len(args) != 3 {
			fatal("usage: callisto-cli backtest <symbol> <strategy> <timeframe>")
		}
		err = triggerBacktest(ctx, client, args[0], args[1], args[2])

	case "strategies":
		var names []string
		if names, err = client.Strategies(ctx); err == nil {
			for _, n := range names {
				fmt.Println(n)
			}
		}

	case "symbols":
		if len(args) != 1 {
			fatal("usage: callisto-cli symbols <timeframe>")
		}
		var symbols []string
		if symbols, err = client.Symbols(ctx, args[0]); err == nil {
			for _, s := range symbols {
				fmt.Println(s)
			}
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fatal(err.Error())
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func showStatus(ctx context.Context, c *callisto.Client) error {
	if err := c.Health(ctx); err != nil {
		return err
	}
	fmt.Println("server: ok")

	status, err := c.EngineStatus(ctx)
	if err != nil {
		return err
	}
	if !status.Running || status.Status == nil {
		fmt.Println("engine: not running")
		return nil
	}
	s := status.Status
	fmt.Printf("engine: %s on %d pairs (%s), broker %s, live=%v\n",
		s.Strategy, len(s.Pairs), s.Timeframe, s.Broker, s.Live)
	fmt.Printf("capital: %.2f  daily pnl: %+.2f  open: %d  trades today: %d\n",
		s.Risk.Capital, s.Risk.DailyPnL, s.Risk.OpenPositions, s.Risk.DailyTrades)
	for _, p := range s.Positions {
		fmt.Printf("  %-10s %-5s entry %.4f  stop %.4f  size %.4f\n",
			p.Symbol, p.Side, p.EntryPrice, p.StopLoss, p.Size)
	}
	return nil
}

func listRuns(ctx context.Context, c *callisto.Client) error {
	runs, err := c.ListRuns(ctx, 50)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs stored")
		return nil
	}
	fmt.Printf("%-36s %-10s %-20s %-4s %9s %7s %7s\n",
		"ID", "SYMBOL", "STRATEGY", "TF", "RETURN", "TRADES", "WINRATE")
	for _, r := range runs {
		fmt.Printf("%-36s %-10s %-20s %-4s %8.2f%% %7d %6.1f%%\n",
			r.ID, r.Symbol, r.Strategy, r.Timeframe,
			r.TotalReturnPercent, r.TotalTrades, r.WinRate)
	}
	return nil
}

func showRun(ctx context.Context, c *callisto.Client, id string) error {
	d, err := c.GetRun(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s %s  %s .. %s\n",
		d.Symbol, d.Timeframe, d.Strategy,
		d.Start.Format("2006-01-02"), d.End.Format("2006-01-02"))
	fmt.Printf("return: %+.2f%%  trades: %d  winrate: %.1f%%  pf: %.2f\n",
		d.TotalReturnPercent, d.TotalTrades, d.WinRate, d.ProfitFactor)
	fmt.Printf("max dd: %.2f%%  sharpe: %.2f  sortino: %.2f  calmar: %.2f\n",
		d.MaxDrawdownPercent, d.SharpeRatio, d.SortinoRatio, d.CalmarRatio)
	return nil
}

func triggerBacktest(ctx context.Context, c *callisto.Client, symbol, strat, timeframe string) error {
	resp, err := c.RunBacktest(ctx, callisto.BacktestRequest{
		Symbol:    symbol,
		Strategy:  strat,
		Timeframe: timeframe,
	})
	if err != nil {
		return err
	}
	s := resp.Summary
	fmt.Printf("run %s: %+.2f%% over %d trades (winrate %.1f%%)\n",
		resp.RunID, s.TotalReturnPercent, s.TotalTrades, s.WinRate)
	return nil
}
