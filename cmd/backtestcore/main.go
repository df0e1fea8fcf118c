// backtestcore — a parallel stock-strategy backtesting engine.
//
// Main CLI entrypoint using the cobra command framework.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/seenimoa/backtestcore/api"
	"github.com/seenimoa/backtestcore/internal/config"
	"github.com/seenimoa/backtestcore/internal/market"
	"github.com/seenimoa/backtestcore/internal/orchestrator"
	"github.com/seenimoa/backtestcore/internal/sandbox"
	"github.com/seenimoa/backtestcore/internal/universe"
	"github.com/seenimoa/backtestcore/pkg/models"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config, loaded once in PersistentPreRunE.
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "backtestcore",
	Short: "backtestcore — parallel stock-strategy backtesting engine",
	Long: `backtestcore runs a strategy written in a small sandboxed DSL
against historical bars for one or many tickers, fanning out the
per-ticker simulations across a worker pool and aggregating the
results into portfolio-level performance metrics.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateStrategyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("backtestcore %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Run Command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backtest over a ticker universe",
	Long: `Load a strategy source file, resolve a ticker universe, fetch
historical bars, and run the backtest — printing a summary, or, with
--stream, the underlying lifecycle events as they occur.

Examples:
  backtestcore run --strategy sma_crossover.strat --universe sp500 --from 2023-01-01
  backtestcore run --strategy rsi.strat --universe sp500 --universe-limit 50 --stream`,
	RunE: func(cmd *cobra.Command, args []string) error {
		strategyPath, _ := cmd.Flags().GetString("strategy")
		universeID, _ := cmd.Flags().GetString("universe")
		fromStr, _ := cmd.Flags().GetString("from")
		toStr, _ := cmd.Flags().GetString("to")
		capital, _ := cmd.Flags().GetFloat64("capital")
		positionSize, _ := cmd.Flags().GetFloat64("position-size")
		commission, _ := cmd.Flags().GetFloat64("commission")
		slippage, _ := cmd.Flags().GetFloat64("slippage")
		interval, _ := cmd.Flags().GetString("interval")
		universeLimit, _ := cmd.Flags().GetInt("universe-limit")
		workers, _ := cmd.Flags().GetInt("workers")
		outputJSON, _ := cmd.Flags().GetBool("json")
		stream, _ := cmd.Flags().GetBool("stream")

		if strategyPath == "" {
			return fmt.Errorf("--strategy is required")
		}

		source, err := os.ReadFile(strategyPath)
		if err != nil {
			return fmt.Errorf("failed to read strategy file %s: %w", strategyPath, err)
		}

		if universeID == "" {
			universeID = cfg.Universe.Default
		}

		from, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			return fmt.Errorf("invalid --from date: %w", err)
		}
		to := time.Now()
		if toStr != "" {
			to, err = time.Parse("2006-01-02", toStr)
			if err != nil {
				return fmt.Errorf("invalid --to date: %w", err)
			}
		}

		if workers <= 0 {
			workers = cfg.Backtest.Workers
		}

		btCfg := models.BacktestConfig{
			StrategySource: string(source),
			UniverseID:     universeID,
			StartDate:      from,
			EndDate:        to,
			InitialCapital: capital,
			PositionSize:   positionSize,
			Commission:     commission,
			Slippage:       slippage,
			Interval:       interval,
			UniverseLimit:  universeLimit,
			Workers:        workers,
		}.WithDefaults()
		if btCfg.InitialCapital <= 0 {
			btCfg.InitialCapital = cfg.Backtest.InitialCapital
		}

		fmt.Printf("Running backtest: %s to %s, universe=%s\n",
			from.Format("2006-01-02"), to.Format("2006-01-02"), btCfg.UniverseID)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		symbols, err := universe.NewResolver(time.Duration(cfg.Universe.CacheTTL) * time.Second).Load(ctx, btCfg.UniverseID)
		if err != nil {
			return fmt.Errorf("failed to resolve universe %q: %w", btCfg.UniverseID, err)
		}
		sort.Strings(symbols)
		if btCfg.UniverseLimit > 0 && btCfg.UniverseLimit < len(symbols) {
			symbols = symbols[:btCfg.UniverseLimit]
		}

		mkt := market.NewProvider(market.Config{
			CacheTTL:      time.Duration(cfg.Market.CacheTTL) * time.Second,
			RateLimitPerS: cfg.Market.RateLimitPerS,
		})
		bars, err := mkt.LoadBars(ctx, symbols, btCfg.StartDate, btCfg.EndDate, btCfg.Interval)
		if err != nil && len(bars) == 0 {
			return fmt.Errorf("failed to fetch bars: %w", err)
		}
		fmt.Printf("Loaded bars for %d/%d tickers\n\n", len(bars), len(symbols))

		jobID := fmt.Sprintf("cli-%d", time.Now().UnixNano())

		if stream {
			for ev := range orchestrator.RunStreaming(ctx, jobID, btCfg, bars) {
				printEvent(ev)
			}
			return nil
		}

		result, err := orchestrator.Run(ctx, jobID, btCfg, bars)
		if err != nil {
			return fmt.Errorf("backtest failed: %w", err)
		}

		if outputJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		printBacktestResult(result)
		return nil
	},
}

func init() {
	runCmd.Flags().StringP("strategy", "s", "", "strategy DSL source file (required)")
	runCmd.Flags().StringP("universe", "u", "", "ticker universe id (default from config)")
	runCmd.Flags().String("from", "2023-01-01", "start date (YYYY-MM-DD)")
	runCmd.Flags().String("to", "", "end date (YYYY-MM-DD, default: today)")
	runCmd.Flags().Float64("capital", 0, "initial capital (default from config)")
	runCmd.Flags().Float64("position-size", 0, "fraction of cash per entry, (0,1]")
	runCmd.Flags().Float64("commission", 0, "commission rate, [0,1)")
	runCmd.Flags().Float64("slippage", 0, "slippage rate, [0,1)")
	runCmd.Flags().String("interval", "", "bar interval (default: 1d)")
	runCmd.Flags().Int("universe-limit", 0, "cap the number of tickers simulated, 0 means unlimited")
	runCmd.Flags().Int("workers", 0, "worker pool size (default from config)")
	runCmd.Flags().Bool("json", false, "output result as JSON")
	runCmd.Flags().Bool("stream", false, "stream lifecycle events instead of printing a final summary")
}

// --- Validate Strategy Command ---

var validateStrategyCmd = &cobra.Command{
	Use:   "validate-strategy [file]",
	Short: "Compile a strategy source file without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read strategy file %s: %w", args[0], err)
		}

		if _, err := sandbox.Compile(string(source)); err != nil {
			fmt.Printf("INVALID: %s\n", err)
			return nil
		}

		fmt.Println("VALID")
		return nil
	},
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP REST API server for programmatic access.

The server exposes endpoints for synchronous and streaming backtests
and for strategy validation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.API.Port
		}
		host, _ := cmd.Flags().GetString("host")
		if host == "" {
			host = cfg.API.Host
		}

		srv, err := api.NewServer(cfg)
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}

		addr := fmt.Sprintf("%s:%d", host, port)
		fmt.Printf("Starting backtestcore server on %s\n", addr)
		fmt.Printf("  API: http://%s/api/v1\n", resolveDisplayAddr(host, port))
		fmt.Println()
		fmt.Println("  Endpoints:")
		fmt.Println("    GET  /health")
		fmt.Println("    POST /api/v1/backtest")
		fmt.Println("    POST /api/v1/backtest/stream")
		fmt.Println("    POST /api/v1/strategy/validate")
		fmt.Println("    GET  /api/v1/config")
		fmt.Println("    GET  /api/v1/config/keys")
		fmt.Println()
		fmt.Println("  Press Ctrl+C to stop")

		return srv.ListenAndServe(addr)
	},
}

// resolveDisplayAddr returns a display-friendly address (replaces 0.0.0.0 with localhost).
func resolveDisplayAddr(host string, port int) string {
	if host == "" || host == "0.0.0.0" {
		return fmt.Sprintf("localhost:%d", port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "server port (default from config)")
	serveCmd.Flags().String("host", "", "server host (default from config)")
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("=======================================")
		fmt.Println("  backtestcore — System Status")
		fmt.Println("=======================================")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    Default universe: %s\n", cfg.Universe.Default)
		fmt.Printf("    Default workers:  %d\n", cfg.Backtest.Workers)
		fmt.Printf("    API Server:       %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Println()

		fmt.Println("  API Keys:")
		keys := config.CheckAPIKeys(cfg)
		for _, k := range keys {
			status := "not set"
			if k.IsSet {
				status = fmt.Sprintf("set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}

		fmt.Println("=======================================")
		return nil
	},
}

// ============================================================
// Helper functions
// ============================================================

func printBacktestResult(r *models.BacktestResult) {
	fmt.Println("=======================================")
	fmt.Println("  Backtest Results")
	fmt.Println("=======================================")
	fmt.Printf("  Job ID:          %s\n", r.JobID)
	fmt.Printf("  Period:          %s to %s\n",
		r.StartedAt.Format("2006-01-02 15:04:05"), r.FinishedAt.Format("2006-01-02 15:04:05"))
	fmt.Println()
	fmt.Printf("  Total Return:    %.2f%%\n", r.Metrics.TotalReturnPercent)
	fmt.Printf("  CAGR:            %.2f%%\n", r.Metrics.CAGR*100)
	fmt.Printf("  Sharpe Ratio:    %.2f\n", r.Metrics.SharpeRatio)
	fmt.Printf("  Sortino Ratio:   %.2f\n", r.Metrics.SortinoRatio)
	fmt.Printf("  Max Drawdown:    %.2f%%\n", r.Metrics.MaxDrawdownPercent)
	fmt.Println()
	fmt.Printf("  Total Trades:    %d\n", r.Metrics.TotalTrades)
	fmt.Printf("  Win Rate:        %.2f%%\n", r.Metrics.WinRate*100)
	fmt.Printf("  Profit Factor:   %.2f\n", r.Metrics.ProfitFactor)
	fmt.Println()

	if len(r.TopPerformers) > 0 {
		fmt.Println("  Top Performers:")
		for _, p := range r.TopPerformers {
			fmt.Printf("    %-10s %+.2f\n", p.Symbol, p.TotalPnL)
		}
		fmt.Println()
	}
	if len(r.WorstPerformers) > 0 {
		fmt.Println("  Worst Performers:")
		for _, p := range r.WorstPerformers {
			fmt.Printf("    %-10s %+.2f\n", p.Symbol, p.TotalPnL)
		}
		fmt.Println()
	}
	if len(r.Failures) > 0 {
		fmt.Printf("  Failed tickers (%d): %v\n", len(r.Failures), r.Failures)
	}
	fmt.Println("=======================================")
}

func printEvent(ev models.Event) {
	switch ev.Type {
	case models.EventInit:
		fmt.Printf("[init] job=%s tickers=%d\n", ev.Init.JobID, ev.Init.TotalTickers)
	case models.EventLoading:
		fmt.Printf("[loading] %s\n", ev.Loading.Message)
	case models.EventProgress:
		fmt.Printf("[progress] %s (%d/%d, %.1f%%)\n",
			ev.Progress.Ticker, ev.Progress.Completed, ev.Progress.Total, ev.Progress.Percentage)
	case models.EventComplete:
		fmt.Println("[complete]")
		printBacktestResult(&ev.Complete.Result)
	case models.EventError:
		fmt.Printf("[error] %s\n", ev.Error.Message)
	}
}
