package models

import "time"

// TickerResult is the outcome of one instrument's simulation.
type TickerResult struct {
	Symbol      string        `json:"symbol"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Trades      []Trade       `json:"trades"`
	EquityCurve []EquityPoint `json:"equity_curve"`
	TotalPnL    float64       `json:"total_pnl"`
	WinRate     float64       `json:"win_rate"`
	BestTrade   float64       `json:"best_trade"`
	WorstTrade  float64       `json:"worst_trade"`
	Warnings    int           `json:"warnings"` // count of recovered sandbox call failures
}

// TradeAggregates is the trade-level statistics vector defined in §4.4.
type TradeAggregates struct {
	TotalTrades      int     `json:"total_trades"`
	WinningTrades    int     `json:"winning_trades"`
	LosingTrades     int     `json:"losing_trades"`
	WinRate          float64 `json:"win_rate"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
	ProfitFactor     float64 `json:"profit_factor"`
	AvgTradePnL      float64 `json:"avg_trade_pnl"`
	BestTrade        float64 `json:"best_trade"`
	WorstTrade       float64 `json:"worst_trade"`
	ConsecutiveWins  int     `json:"consecutive_wins"`
	ConsecutiveLosses int    `json:"consecutive_losses"`
}

// PerformanceMetrics is the full portfolio-level risk/return vector from §4.4.
type PerformanceMetrics struct {
	TotalReturn        float64 `json:"total_return"`
	TotalReturnPercent float64 `json:"total_return_percent"`
	CAGR               float64 `json:"cagr"`
	Volatility         float64 `json:"volatility"`
	SharpeRatio        float64 `json:"sharpe_ratio"`
	SortinoRatio       float64 `json:"sortino_ratio"`
	MaxDrawdown        float64 `json:"max_drawdown"`
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"`
	TradeAggregates
}

// PerformerSummary is a single line of the top/worst performers list.
type PerformerSummary struct {
	Symbol   string  `json:"symbol"`
	TotalPnL float64 `json:"total_pnl"`
}

// BacktestResult is the terminal, aggregate output of one backtest run.
type BacktestResult struct {
	JobID           string             `json:"job_id"`
	Metrics         PerformanceMetrics `json:"metrics"`
	EquityCurve     []EquityPoint      `json:"equity_curve"`
	TopPerformers   []PerformerSummary `json:"top_performers"`
	WorstPerformers []PerformerSummary `json:"worst_performers"`
	SampleTrades    []Trade            `json:"sample_trades"`
	Failures        []string           `json:"failures,omitempty"` // symbols whose simulation failed
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
}

// BacktestConfig carries the enumerated request options from §6.
type BacktestConfig struct {
	StrategySource string    `json:"strategy_source"`
	UniverseID     string    `json:"universe_id"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	InitialCapital float64   `json:"initial_capital"`
	PositionSize   float64   `json:"position_size"`   // fraction in (0, 1]
	MaxPositions   int       `json:"max_positions"`   // informational only
	Commission     float64   `json:"commission"`      // rate in [0, 1)
	Slippage       float64   `json:"slippage"`        // rate in [0, 1)
	Interval       string    `json:"interval"`         // default "1d"
	UniverseLimit  int       `json:"universe_limit"`  // 0 means unlimited
	Workers        int       `json:"workers"`          // 0 means use default W
}

// WithDefaults returns a copy of cfg with the documented defaults applied to
// unset fields.
func (cfg BacktestConfig) WithDefaults() BacktestConfig {
	if cfg.UniverseID == "" {
		cfg.UniverseID = "sp500"
	}
	if cfg.Interval == "" {
		cfg.Interval = "1d"
	}
	if cfg.PositionSize <= 0 {
		cfg.PositionSize = 1.0
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	return cfg
}
