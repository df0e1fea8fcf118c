package sandbox

import (
	"fmt"

	"github.com/seenimoa/backtestcore/internal/analysis/technical"
	"github.com/seenimoa/backtestcore/pkg/models"
)

// columnNames are the bare identifiers a strategy may reference directly off
// the current bar, in addition to any state.<name> slot.
var columnNames = map[string]bool{
	"close":  true,
	"open":   true,
	"high":   true,
	"low":    true,
	"volume": true,
}

// builtinArity records how many arguments each whitelisted function expects,
// so a malformed call is rejected at compile time (validate.go) rather than
// at evaluation.
var builtinArity = map[string]int{
	"sma":              2,
	"ema":              2,
	"rsi":              2,
	"bollinger_upper":  3,
	"bollinger_lower":  3,
	"atr":              1,
	"vwap":             0,
	"crossover":        2,
	"crossunder":       2,
	"highest":          2,
	"lowest":           2,
	"abs":              1,
	"min":              2,
	"max":              2,
}

func isWhitelistedFunction(name string) bool {
	_, ok := builtinArity[name]
	return ok
}

func validateIdentifier(name string) *ValidationError {
	if columnNames[name] {
		return nil
	}
	if len(name) > len("state.") && name[:len("state.")] == "state." {
		return nil
	}
	return &ValidationError{Reason: "forbidden-identifier", Message: fmt.Sprintf("identifier %q is not a bar column or state.<name> reference", name)}
}

// callBuiltin dispatches one whitelisted function call against the window
// truncated to the given offset (see evalAt for what offset means). rawArgs
// are the unevaluated argument nodes; period and multiplier arguments are
// read as number literals via mustConst. The first argument of sma/ema/rsi/
// bollinger_*/highest/lowest is a placeholder for the close-price series and
// is ignored: those functions read straight off the window instead. atr's
// single argument is its period, and vwap takes no arguments.
func callBuiltin(name string, window models.Window, rawArgs []Node, state models.State, offset int) (float64, error) {
	closes := window.Closes()
	bars := window.Bars

	switch name {
	case "sma":
		period := int(mustConst(rawArgs[1]))
		return technical.SMALatest(closes, period), nil
	case "ema":
		period := int(mustConst(rawArgs[1]))
		return technical.EMALatest(closes, period), nil
	case "rsi":
		period := int(mustConst(rawArgs[1]))
		return technical.RSILatest(bars, period), nil
	case "bollinger_upper":
		period := int(mustConst(rawArgs[1]))
		mult := mustConst(rawArgs[2])
		series := technical.BollingerUpper(bars, period, mult)
		return lastOf(series), nil
	case "bollinger_lower":
		period := int(mustConst(rawArgs[1]))
		mult := mustConst(rawArgs[2])
		series := technical.BollingerLower(bars, period, mult)
		return lastOf(series), nil
	case "atr":
		period := int(mustConst(rawArgs[0]))
		return technical.ATRLatest(bars, period), nil
	case "vwap":
		return technical.VWAPLatest(bars), nil
	case "highest":
		period := int(mustConst(rawArgs[1]))
		return technical.Highest(closes, period), nil
	case "lowest":
		period := int(mustConst(rawArgs[1]))
		return technical.Lowest(closes, period), nil
	}
	return 0, fmt.Errorf("sandbox: unhandled builtin %q", name)
}

// lastOf returns a series' final element, or 0 for a nil/empty series (not
// enough bars yet for the requested period).
func lastOf(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// mustConst extracts a literal numeric argument (period, multiplier) from an
// already-parsed node. The grammar only allows number literals in these
// argument positions; anything else is a compile-time error surfaced earlier
// by validate.go.
func mustConst(n Node) float64 {
	if lit, ok := n.(*NumberLiteral); ok {
		return lit.Value
	}
	return 0
}
