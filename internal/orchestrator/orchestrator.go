// Package orchestrator fans out per-instrument backtest simulations across
// a bounded worker pool and delivers results as an ordered stream of
// lifecycle events, following the same goroutine-pool-plus-channel shape as
// the rest of this codebase's concurrent fan-out/fan-in work.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/backtestcore/internal/aggregate"
	"github.com/seenimoa/backtestcore/internal/backtest"
	"github.com/seenimoa/backtestcore/internal/coreerr"
	"github.com/seenimoa/backtestcore/internal/sandbox"
	"github.com/seenimoa/backtestcore/pkg/models"
)

// DefaultWorkers is used when BacktestConfig.Workers is unset.
const DefaultWorkers = 10

// RunStreaming compiles the strategy once, fans out one simulation per
// instrument across a bounded pool of cfg.Workers goroutines, and returns a
// channel of lifecycle events: exactly one INIT, zero or more LOADING, one
// PROGRESS per completed instrument in completion order, and exactly one
// terminal COMPLETE or ERROR. The channel is closed after the terminal
// event. Cancelling ctx stops scheduling new bars at the next bar boundary
// in every in-flight simulation and suppresses the terminal COMPLETE.
func RunStreaming(ctx context.Context, jobID string, cfg models.BacktestConfig, bars map[string][]models.Bar) <-chan models.Event {
	cfg = cfg.WithDefaults()
	events := make(chan models.Event, 4)

	go func() {
		defer close(events)
		startedAt := time.Now()

		symbols := make([]string, 0, len(bars))
		for sym := range bars {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols) // deterministic job submission order

		events <- models.Event{Type: models.EventInit, Init: &models.InitPayload{JobID: jobID, TotalTickers: len(symbols)}}

		if len(symbols) == 0 {
			events <- models.Event{Type: models.EventError, Error: &models.ErrorPayload{Message: "no bars available for any instrument in the universe"}}
			return
		}

		events <- models.Event{Type: models.EventLoading, Loading: &models.LoadingPayload{Message: "compiling strategy"}}
		compiled, err := sandbox.Compile(cfg.StrategySource)
		if err != nil {
			events <- models.Event{Type: models.EventError, Error: &models.ErrorPayload{Message: err.Error()}}
			return
		}

		engineCfg := backtest.Config{
			InitialCapital: cfg.InitialCapital,
			PositionSize:   cfg.PositionSize,
			Commission:     cfg.Commission,
			Slippage:       cfg.Slippage,
		}

		resultsCh := make(chan *models.TickerResult, len(symbols))
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(cfg.Workers)

		for _, sym := range symbols {
			sym := sym
			group.Go(func() error {
				if len(bars[sym]) == 0 {
					resultsCh <- &models.TickerResult{Symbol: sym, Success: false, Error: (&coreerr.DataUnavailable{Symbol: sym}).Error()}
					return nil
				}
				// Each worker owns its own Engine and sandbox Decider/state, so
				// instruments never share mutable simulation state.
				engine := backtest.NewEngine(engineCfg)
				decider := sandbox.NewDecider(compiled)
				result, err := engine.Run(groupCtx, decider, sym, bars[sym], models.NewState())
				if err != nil {
					result = &models.TickerResult{Symbol: sym, Success: false, Error: err.Error()}
				}
				resultsCh <- result
				return nil // per-instrument failure is data (Success=false), not a group error
			})
		}

		go func() {
			group.Wait()
			close(resultsCh)
		}()

		var completed []*models.TickerResult
		n := 0
		for result := range resultsCh {
			if ctx.Err() != nil {
				continue // drain the channel without emitting further progress
			}
			n++
			completed = append(completed, result)
			events <- models.Event{Type: models.EventProgress, Progress: &models.ProgressPayload{
				Ticker:       result.Symbol,
				Completed:    n,
				Total:        len(symbols),
				Percentage:   float64(n) / float64(len(symbols)) * 100,
				TickerResult: *result,
			}}
		}

		if ctx.Err() != nil {
			return // cancelled: no terminal COMPLETE
		}

		result := aggregate.Build(jobID, cfg.InitialCapital, completed, startedAt)
		events <- models.Event{Type: models.EventComplete, Complete: &models.CompletePayload{Result: *result}}
	}()

	return events
}

// Run drives RunStreaming to completion and returns only the terminal
// result, for callers that don't need incremental progress.
func Run(ctx context.Context, jobID string, cfg models.BacktestConfig, bars map[string][]models.Bar) (*models.BacktestResult, error) {
	for ev := range RunStreaming(ctx, jobID, cfg, bars) {
		switch ev.Type {
		case models.EventComplete:
			return &ev.Complete.Result, nil
		case models.EventError:
			return nil, &sandboxCompileError{message: ev.Error.Message}
		}
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrCancelled, ctx.Err())
	}
	return nil, ctx.Err()
}

type sandboxCompileError struct{ message string }

func (e *sandboxCompileError) Error() string { return e.message }
