package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/seenimoa/backtestcore/pkg/models"
)

// CallTimeout bounds a single decide() invocation's wall-clock budget.
const CallTimeout = 5 * time.Second

// CompiledStrategy is strategy source that has already been lexed, parsed,
// and validated. It is safe to invoke concurrently across instruments: each
// Invoke call only touches the models.State passed to it.
type CompiledStrategy struct {
	source  string
	program *Program
}

// Source returns the original strategy text the program was compiled from.
func (c *CompiledStrategy) Source() string { return c.source }

// Compile lexes, parses, and validates strategy source, returning a
// CompiledStrategy ready for repeated per-bar Invoke calls. Compilation never
// runs untrusted code — only the closed grammar in parser.go is accepted, so
// a syntactically valid program cannot reference anything off the whitelist.
func Compile(source string) (*CompiledStrategy, error) {
	program, err := Parse(source)
	if err != nil {
		return nil, err
	}
	if len(program.Clauses) == 0 {
		return nil, &ValidationError{Reason: "empty-program", Message: "strategy source has no clauses"}
	}
	if err := validateProgram(program); err != nil {
		return nil, err
	}
	return &CompiledStrategy{source: source, program: program}, nil
}

// Decider adapts a CompiledStrategy to backtest.Decider. It satisfies that
// interface structurally; this package does not import the backtest package.
type Decider struct {
	Strategy *CompiledStrategy
}

// NewDecider wraps a compiled strategy as a per-bar decide() callable.
func NewDecider(cs *CompiledStrategy) *Decider { return &Decider{Strategy: cs} }

// Decide runs one bar through the compiled program under CallTimeout,
// mutating state in place and returning the resulting trading decision.
func (d *Decider) Decide(ctx context.Context, window models.Window, state models.State) (models.Decision, error) {
	callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	type result struct {
		dec models.Decision
		err error
	}
	done := make(chan result, 1)

	go func() {
		dec, err := Invoke(d.Strategy, window, state)
		done <- result{dec, err}
	}()

	select {
	case r := <-done:
		return r.dec, r.err
	case <-callCtx.Done():
		return models.Decision{Signal: models.SignalNone}, fmt.Errorf("sandbox: decide exceeded %s budget: %w", CallTimeout, callCtx.Err())
	}
}

// Invoke runs the compiled program once against the current bar window,
// evaluating clauses top-to-bottom: state assignments update `state` in
// place, the first matching signal clause (buy/sell/flat, in source order)
// determines the decision signal, and stop_loss/take_profit clauses attach
// their values to the returned decision whatever its signal (the simulator
// reads them only when it opens a position on a BUY).
func Invoke(cs *CompiledStrategy, window models.Window, state models.State) (models.Decision, error) {
	if state == nil {
		state = models.NewState()
	}
	state.Snapshot()

	dec := models.Decision{Signal: models.SignalNone}
	var stopLoss, takeProfit float64
	var signalSet bool

	for _, clause := range cs.program.Clauses {
		switch clause.Kind {
		case ClauseStateAssignment:
			v, err := evalAt(window, clause.Value, state, 0)
			if err != nil {
				return dec, err
			}
			state.Set(clause.State, v)

		case ClauseBuyWhen:
			if signalSet {
				continue
			}
			v, err := evalAt(window, clause.Value, state, 0)
			if err != nil {
				return dec, err
			}
			if floatToBool(v) {
				dec.Signal = models.SignalBuy
				signalSet = true
			}

		case ClauseSellWhen:
			if signalSet {
				continue
			}
			v, err := evalAt(window, clause.Value, state, 0)
			if err != nil {
				return dec, err
			}
			if floatToBool(v) {
				dec.Signal = models.SignalSell
				signalSet = true
			}

		case ClauseFlatWhen:
			if signalSet {
				continue
			}
			v, err := evalAt(window, clause.Value, state, 0)
			if err != nil {
				return dec, err
			}
			if floatToBool(v) {
				dec.Signal = models.SignalFlat
				signalSet = true
			}

		case ClauseStopLoss:
			v, err := evalAt(window, clause.Value, state, 0)
			if err != nil {
				return dec, err
			}
			stopLoss = v

		case ClauseTakeProfit:
			v, err := evalAt(window, clause.Value, state, 0)
			if err != nil {
				return dec, err
			}
			takeProfit = v
		}
	}

	dec.StopLoss = stopLoss
	dec.TakeProfit = takeProfit
	return dec, nil
}
