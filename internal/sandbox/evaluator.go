package sandbox

import (
	"fmt"
	"math"

	"github.com/seenimoa/backtestcore/pkg/models"
)

// indicatorFuncs are the builtins that read directly off the window (via
// callBuiltin) rather than operating on already-evaluated scalar arguments.
var indicatorFuncs = map[string]bool{
	"sma": true, "ema": true, "rsi": true,
	"bollinger_upper": true, "bollinger_lower": true,
	"atr": true, "vwap": true, "highest": true, "lowest": true,
}

// evalAt evaluates one expression node as a scalar, as of `offset` bars
// before the window's current position. offset 0 means "now". This is what
// lets crossover/crossunder compare "value as of the previous bar" against
// "value now" without propagating a full numeric series through every AST
// node: only the two comparison points are ever materialized.
func evalAt(window models.Window, node Node, state models.State, offset int) (float64, error) {
	if offset > window.Index {
		return 0, fmt.Errorf("sandbox: offset %d exceeds available history at index %d", offset, window.Index)
	}
	if offset > 0 {
		truncIndex := window.Index - offset
		window = models.Window{Symbol: window.Symbol, Bars: window.Bars[:truncIndex+1], Index: truncIndex}
	}

	switch n := node.(type) {
	case *NumberLiteral:
		return n.Value, nil

	case *Identifier:
		return evalIdentifier(window, n.Name, state, offset)

	case *UnaryExpr:
		v, err := evalAt(window, n.Operand, state, 0)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case TokenMinus:
			return -v, nil
		case TokenNOT:
			return boolToFloat(!floatToBool(v)), nil
		}
		return 0, fmt.Errorf("sandbox: unsupported unary operator %s", n.Op)

	case *BinaryExpr:
		return evalBinary(window, n, state)

	case *FunctionCall:
		return evalCall(window, n, state)
	}
	return 0, fmt.Errorf("sandbox: unsupported node type %T", node)
}

// evalIdentifier resolves a bar column or state.<name> reference. Bar
// columns read off the already-offset-truncated window; state slots have no
// per-bar history beyond one step back, so offset>0 reads State.Prev
// instead (see State.Snapshot).
func evalIdentifier(window models.Window, name string, state models.State, offset int) (float64, error) {
	if len(name) > len("state.") && name[:len("state.")] == "state." {
		slot := name[len("state."):]
		if offset > 0 {
			return state.Prev(slot), nil
		}
		return state.Get(slot), nil
	}

	bar := window.Current()
	switch name {
	case "close":
		return bar.Close, nil
	case "open":
		return bar.Open, nil
	case "high":
		return bar.High, nil
	case "low":
		return bar.Low, nil
	case "volume":
		return float64(bar.Volume), nil
	}
	return 0, fmt.Errorf("sandbox: unresolved identifier %q", name)
}

func evalBinary(window models.Window, n *BinaryExpr, state models.State) (float64, error) {
	left, err := evalAt(window, n.Left, state, 0)
	if err != nil {
		return 0, err
	}
	right, err := evalAt(window, n.Right, state, 0)
	if err != nil {
		return 0, err
	}

	switch n.Op {
	case TokenPlus:
		return left + right, nil
	case TokenMinus:
		return left - right, nil
	case TokenStar:
		return left * right, nil
	case TokenSlash:
		if right == 0 {
			return 0, nil
		}
		return left / right, nil
	case TokenGT:
		return boolToFloat(left > right), nil
	case TokenLT:
		return boolToFloat(left < right), nil
	case TokenGTE:
		return boolToFloat(left >= right), nil
	case TokenLTE:
		return boolToFloat(left <= right), nil
	case TokenEQ:
		return boolToFloat(left == right), nil
	case TokenNEQ:
		return boolToFloat(left != right), nil
	case TokenAND:
		return boolToFloat(floatToBool(left) && floatToBool(right)), nil
	case TokenOR:
		return boolToFloat(floatToBool(left) || floatToBool(right)), nil
	}
	return 0, fmt.Errorf("sandbox: unsupported binary operator %s", n.Op)
}

func evalCall(window models.Window, n *FunctionCall, state models.State) (float64, error) {
	if indicatorFuncs[n.Name] {
		return callBuiltin(n.Name, window, n.Args, state, 0)
	}

	switch n.Name {
	case "abs":
		v, err := evalAt(window, n.Args[0], state, 0)
		if err != nil {
			return 0, err
		}
		return math.Abs(v), nil

	case "min":
		a, err := evalAt(window, n.Args[0], state, 0)
		if err != nil {
			return 0, err
		}
		b, err := evalAt(window, n.Args[1], state, 0)
		if err != nil {
			return 0, err
		}
		return math.Min(a, b), nil

	case "max":
		a, err := evalAt(window, n.Args[0], state, 0)
		if err != nil {
			return 0, err
		}
		b, err := evalAt(window, n.Args[1], state, 0)
		if err != nil {
			return 0, err
		}
		return math.Max(a, b), nil

	case "crossover", "crossunder":
		return evalCrossing(window, n, state)
	}
	return 0, fmt.Errorf("sandbox: unhandled function %q", n.Name)
}

// evalCrossing compares the two argument expressions at the previous bar and
// at the current bar. crossover fires when a was at-or-below b and is now
// strictly above; crossunder is the mirror.
func evalCrossing(window models.Window, n *FunctionCall, state models.State) (float64, error) {
	if window.Index == 0 {
		return 0, nil // no prior bar to compare against
	}

	aNow, err := evalAt(window, n.Args[0], state, 0)
	if err != nil {
		return 0, err
	}
	bNow, err := evalAt(window, n.Args[1], state, 0)
	if err != nil {
		return 0, err
	}
	aPrev, err := evalAt(window, n.Args[0], state, 1)
	if err != nil {
		return 0, err
	}
	bPrev, err := evalAt(window, n.Args[1], state, 1)
	if err != nil {
		return 0, err
	}

	if n.Name == "crossover" {
		return boolToFloat(aPrev <= bPrev && aNow > bNow), nil
	}
	return boolToFloat(aPrev >= bPrev && aNow < bNow), nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func floatToBool(v float64) bool { return v != 0 }
