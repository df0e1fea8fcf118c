// Package backtest provides an event-driven backtesting engine that drives
// one compiled strategy callable over one instrument's bar sequence: position
// state, intra-bar stop-loss/take-profit brackets, commission and slippage,
// cash and equity tracking, and the resulting trade ledger.
package backtest

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/seenimoa/backtestcore/internal/coreerr"
	"github.com/seenimoa/backtestcore/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Engine Configuration
// ════════════════════════════════════════════════════════════════════

// stopTargetUpperBound and stopTargetRatioBand are the fixed band used to disambiguate a stop/target value
// as a multiplier (entry_price * value) versus an absolute price. A value is
// a multiplier when 0 < value < stopTargetUpperBound AND |value-1| <
// stopTargetRatioBand. This is a documented, stable contract — see SPEC_FULL.md §4.1.
const (
	stopTargetUpperBound = 3.0
	stopTargetRatioBand  = 0.5
)

// Decider is the sandbox-bound strategy callable invoked once per bar.
type Decider interface {
	Decide(ctx context.Context, window models.Window, state models.State) (models.Decision, error)
}

// Config holds all parameters for one instrument's simulation run.
type Config struct {
	InitialCapital float64 // starting cash (default: 100,000)
	PositionSize   float64 // fraction of cash committed per entry, (0,1] (default: 1.0)
	Commission     float64 // commission rate per fill, [0,1) (default: 0)
	Slippage       float64 // slippage rate per fill, [0,1) (default: 0)
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 100000,
		PositionSize:   1.0,
		Commission:     0,
		Slippage:       0,
	}
}

// Engine runs a Decider against one instrument's bar sequence bar-by-bar.
type Engine struct {
	cfg Config
	mu  sync.Mutex
}

// NewEngine creates a new simulation engine with the given config.
func NewEngine(cfg Config) *Engine {
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = DefaultConfig().InitialCapital
	}
	if cfg.PositionSize <= 0 || cfg.PositionSize > 1 {
		cfg.PositionSize = 1.0
	}
	if cfg.Commission < 0 {
		cfg.Commission = 0
	}
	if cfg.Slippage < 0 {
		cfg.Slippage = 0
	}
	return &Engine{cfg: cfg}
}

// runState is the mutable per-instrument simulation state owned exclusively
// by one Run call.
type runState struct {
	symbol     string
	cash       float64
	position   *models.Position
	trades     []models.Trade
	equity     []models.EquityPoint
	warnings   int
	sandboxErr error // set on an unrecoverable NumericAnomaly
}

// Run drives strategy decide() over bars and returns a TickerResult. Bars
// are assumed sorted ascending by timestamp; Run re-sorts defensively.
func (e *Engine) Run(ctx context.Context, decider Decider, symbol string, bars []models.Bar, initialState models.State) (*models.TickerResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if decider == nil {
		return nil, fmt.Errorf("backtest: decider is nil")
	}
	if len(bars) == 0 {
		return &models.TickerResult{Symbol: symbol, Success: true}, nil
	}

	sorted := make([]models.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	rs := &runState{
		symbol: symbol,
		cash:   e.cfg.InitialCapital,
		trades: make([]models.Trade, 0),
		equity: make([]models.EquityPoint, 0, len(sorted)),
	}
	state := initialState
	if state == nil {
		state = models.NewState()
	}

	for i := range sorted {
		if err := ctx.Err(); err != nil {
			break // cooperative cancellation at a bar boundary
		}

		bar := sorted[i]
		if !bar.Valid() {
			rs.sandboxErr = &coreerr.NumericAnomaly{Symbol: symbol, Field: fmt.Sprintf("bar[%d]", i), Value: bar.Close}
			break
		}

		window := models.Window{Symbol: symbol, Bars: sorted[:i+1], Index: i}

		if rs.position != nil {
			e.checkBracketExit(rs, bar)
		}

		if rs.position != nil {
			// Still open after bracket check: ask the strategy whether to exit.
			dec, err := e.safeDecide(ctx, decider, window, state, rs)
			if err == nil && (dec.Signal == models.SignalSell || dec.Signal == models.SignalFlat) {
				e.exitAt(rs, bar.Close, bar.Timestamp, models.ExitSignal)
			}
		} else {
			dec, err := e.safeDecide(ctx, decider, window, state, rs)
			if err == nil && dec.Signal == models.SignalBuy {
				e.enterLong(rs, dec, bar)
			}
		}

		rs.equity = append(rs.equity, models.EquityPoint{
			Timestamp: bar.Timestamp,
			Equity:    rs.cash + rs.position.MarkToClose(bar.Close),
		})
	}

	if rs.sandboxErr != nil {
		return &models.TickerResult{
			Symbol:  symbol,
			Success: false,
			Error:   rs.sandboxErr.Error(),
		}, nil
	}

	// Force-close any open position at the final bar's close.
	if rs.position != nil {
		last := sorted[len(sorted)-1]
		e.exitAt(rs, last.Close, last.Timestamp, models.ExitEndOfData)
		if len(rs.equity) > 0 {
			rs.equity[len(rs.equity)-1].Equity = rs.cash
		}
	}

	return e.buildResult(rs), nil
}

// safeDecide invokes the strategy callable and recovers a failure (error or
// panic) as signal NONE, incrementing the per-instrument warning counter —
// this is the simulator's half of the sandbox's per-call discipline.
func (e *Engine) safeDecide(ctx context.Context, decider Decider, window models.Window, state models.State, rs *runState) (dec models.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("backtest: %s: decide panicked at bar %d: %v", rs.symbol, window.Index, r)
			dec = models.Decision{Signal: models.SignalNone}
			rs.warnings++
			err = nil
		}
	}()

	dec, decErr := decider.Decide(ctx, window, state)
	if decErr != nil {
		log.Printf("backtest: %s: decide failed at bar %d: %v", rs.symbol, window.Index, decErr)
		rs.warnings++
		return models.Decision{Signal: models.SignalNone}, nil
	}
	dec.Signal = models.NormalizeSignal(dec.Signal)
	return dec, nil
}

// checkBracketExit tests intra-bar stop-loss/take-profit triggers before the
// strategy is consulted. Ties resolve in favor of STOP_LOSS (documented,
// deterministic — see SPEC_FULL.md §4.1).
func (e *Engine) checkBracketExit(rs *runState, bar models.Bar) {
	p := rs.position
	if p.StopPrice > 0 && bar.Low <= p.StopPrice {
		e.exitAt(rs, p.StopPrice, bar.Timestamp, models.ExitStopLoss)
		return
	}
	if p.TargetPrice > 0 && bar.High >= p.TargetPrice {
		e.exitAt(rs, p.TargetPrice, bar.Timestamp, models.ExitTakeProfit)
	}
}

// enterLong opens a new long position at the bar's close, per the §4.1 fill
// pricing and sizing rules. A zero computed size silently skips the entry.
func (e *Engine) enterLong(rs *runState, dec models.Decision, bar models.Bar) {
	refPrice := bar.Close
	fillPrice := refPrice * (1 + e.cfg.Slippage)
	if fillPrice <= 0 {
		return
	}

	posFrac := e.cfg.PositionSize
	if dec.Size > 0 && dec.Size <= 1 {
		posFrac = dec.Size
	}

	size := math.Floor(rs.cash * posFrac / fillPrice)
	if size < 1 {
		return
	}

	commission := fillPrice * size * e.cfg.Commission
	cost := fillPrice*size + commission
	if cost > rs.cash {
		return // solvency: skip a trade that would drive cash below zero
	}

	rs.cash -= cost
	rs.position = &models.Position{
		EntryPrice:      fillPrice,
		EntryTime:       bar.Timestamp,
		Size:            size,
		EntryCommission: commission,
	}
	if stop, ok := resolveBracket(dec.StopLoss, fillPrice); ok {
		rs.position.StopPrice = stop
	}
	if target, ok := resolveBracket(dec.TakeProfit, fillPrice); ok {
		rs.position.TargetPrice = target
	}
}

// exitAt closes the current position at the given reference price, applying
// exit-side slippage and commission, and appends the resulting Trade.
func (e *Engine) exitAt(rs *runState, refPrice float64, ts time.Time, reason models.ExitReason) {
	p := rs.position
	if p == nil {
		return
	}
	fillPrice := refPrice * (1 - e.cfg.Slippage)
	exitCommission := fillPrice * p.Size * e.cfg.Commission
	totalCommission := p.EntryCommission + exitCommission

	entryNotional := p.EntryPrice * p.Size
	pnl := (fillPrice-p.EntryPrice)*p.Size - totalCommission
	var pnlPct float64
	if entryNotional != 0 {
		pnlPct = pnl / entryNotional * 100
	}

	rs.cash += fillPrice*p.Size - exitCommission

	rs.trades = append(rs.trades, models.Trade{
		Symbol:     rs.symbol,
		EntryTime:  p.EntryTime,
		EntryPrice: p.EntryPrice,
		ExitTime:   ts,
		ExitPrice:  fillPrice,
		Size:       p.Size,
		PnL:        pnl,
		PnLPercent: pnlPct,
		ExitReason: reason,
		Commission: totalCommission,
	})
	rs.position = nil
}

// resolveBracket implements the §4.1 stop/target interpretation rule: a value
// is a multiplier of entry price when it falls within the documented band,
// otherwise it is treated as an absolute price. A zero value means "not set".
func resolveBracket(value, entryPrice float64) (float64, bool) {
	if value <= 0 {
		return 0, false
	}
	if value < stopTargetUpperBound && math.Abs(value-1) < stopTargetRatioBand {
		return entryPrice * value, true
	}
	return value, true
}

func (e *Engine) buildResult(rs *runState) *models.TickerResult {
	result := &models.TickerResult{
		Symbol:      rs.symbol,
		Success:     true,
		Trades:      rs.trades,
		EquityCurve: rs.equity,
		Warnings:    rs.warnings,
	}

	agg := ComputeTradeAggregates(rs.trades)
	result.TotalPnL = agg.AvgTradePnL * float64(agg.TotalTrades)
	result.BestTrade = agg.BestTrade
	result.WorstTrade = agg.WorstTrade
	result.WinRate = agg.WinRate

	return result
}
