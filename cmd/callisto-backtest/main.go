// callisto-backtest replays stored bars through one or all registered
// strategies, prints the result summary, saves every run, and optionally
// exports the trade list.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"callisto/internal/backtest"
	"callisto/internal/config"
	"callisto/internal/report"
	"callisto/internal/store"
	"callisto/internal/strategy"
	"callisto/internal/strategy/builtins"
	"callisto/internal/util"
)

func main() {
	symbol := flag.String("symbol", "", "symbol to test (default: every configured pair)")
	strat := flag.String("strategy", "", "strategy name (default: every registered strategy)")
	timeframe := flag.String("timeframe", "", "bar timeframe (default from config)")
	startStr := flag.String("start", "", "range start, YYYY-MM-DD (default: all stored data)")
	endStr := flag.String("end", "", "range end, YYYY-MM-DD (default: now)")
	csvPath := flag.String("csv", "", "write the trade list to this CSV file")
	jsonPath := flag.String("json", "", "write the full result to this JSON file")
	compare := flag.Bool("compare", false, "print the per-strategy aggregate over stored runs and exit")
	flag.Parse()

	cfgPath := "config/callisto.yaml"
	if p := os.Getenv("CALLISTO_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open run store: %v", err)
	}
	defer runs.Close()

	ctx := context.Background()

	if *compare {
		summaries, err := runs.ListRuns(ctx, 1000)
		if err != nil {
			log.Fatalf("failed to list runs: %v", err)
		}
		fmt.Print(report.RenderComparison(report.Aggregate(summaries)))
		return
	}

	bars := store.NewParquetStore(cfg.Storage.DataDir)

	registry := strategy.NewRegistry()
	registry.Register(builtins.NewOptimizedEMACross())
	registry.Register(builtins.NewRelaxedEMACross())
	registry.Register(builtins.NewDefaultStochRSI())

	tf := cfg.Engine.Timeframe
	if *timeframe != "" {
		tf = *timeframe
	}
	start := time.Unix(0, 0).UTC()
	if *startStr != "" {
		start, err = time.Parse("2006-01-02", *startStr)
		if err != nil {
			log.Fatalf("invalid -start: %v", err)
		}
	}
	end := time.Now().UTC()
	if *endStr != "" {
		end, err = time.Parse("2006-01-02", *endStr)
		if err != nil {
			log.Fatalf("invalid -end: %v", err)
		}
	}

	symbols := cfg.Pairs
	if *symbol != "" {
		symbols = []string{*symbol}
	}
	var strategies []string
	if *strat != "" {
		if _, ok := registry.Get(*strat); !ok {
			log.Fatalf("unknown strategy %q (have %s)", *strat, strings.Join(registry.List(), ", "))
		}
		strategies = []string{*strat}
	} else {
		strategies = registry.List()
	}
	exporting := *csvPath != "" || *jsonPath != ""
	if exporting && (len(symbols) > 1 || len(strategies) > 1) {
		log.Fatal("-csv/-json need a single -symbol and -strategy")
	}

	bt := backtest.New(backtest.Config{
		InitialCapital: cfg.Backtest.InitialCapital,
		RiskPerTrade:   cfg.Backtest.RiskPerTrade,
		FeeRate:        cfg.Backtest.FeeRate,
		SlippageRate:   cfg.Backtest.SlippageRate,
		WarmupBars:     cfg.Backtest.WarmupBars,
	})

	for _, sym := range symbols {
		series, err := bars.ReadBars(ctx, sym, tf, start, end)
		if err != nil {
			log.Fatalf("failed to read bars for %s: %v", sym, err)
		}
		if len(series) == 0 {
			fmt.Printf("no stored bars for %s %s, skipping (run callisto-fetch first)\n", sym, tf)
			continue
		}
		for _, name := range strategies {
			eval, _ := registry.Get(name)
			res := bt.Run(sym, tf, series, eval)

			id, err := runs.SaveResult(ctx, res)
			if err != nil {
				log.Fatalf("failed to save run: %v", err)
			}
			fmt.Print(report.Render(res))
			fmt.Printf("  saved as run %s\n\n", id)

			if *csvPath != "" {
				if err := writeFile(*csvPath, func(f *os.File) error {
					return report.WriteTradesCSV(f, res.Trades)
				}); err != nil {
					log.Fatalf("failed to write CSV: %v", err)
				}
				fmt.Printf("  trades written to %s\n", *csvPath)
			}
			if *jsonPath != "" {
				if err := writeFile(*jsonPath, func(f *os.File) error {
					return report.WriteResultJSON(f, res)
				}); err != nil {
					log.Fatalf("failed to write JSON: %v", err)
				}
				fmt.Printf("  result written to %s\n", *jsonPath)
			}
		}
	}
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
