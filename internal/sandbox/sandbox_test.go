package sandbox

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/seenimoa/backtestcore/pkg/models"
)

func makeWindow(closes []float64) models.Window {
	bars := make([]models.Bar, len(closes))
	for i, c := range closes {
		bars[i] = models.Bar{
			Timestamp: time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC),
			Open:      c, High: c, Low: c, Close: c, Volume: 1000,
		}
	}
	return models.Window{Symbol: "TEST", Bars: bars, Index: len(bars) - 1}
}

func TestCompileValidStrategy(t *testing.T) {
	source := `
state.fast = sma(close, 3)
state.slow = sma(close, 5)

buy when crossover(state.fast, state.slow)
sell when crossunder(state.fast, state.slow)
stop_loss 0.97
take_profit 1.08
`
	cs, err := Compile(source)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(cs.program.Clauses) != 6 {
		t.Errorf("clauses = %d, want 6", len(cs.program.Clauses))
	}
}

func TestCompileRejectsForbiddenFunction(t *testing.T) {
	_, err := Compile("buy when http_get(1) > 0")
	if err == nil {
		t.Fatal("expected an error for a non-whitelisted function")
	}
}

func TestCompileRejectsForbiddenIdentifier(t *testing.T) {
	_, err := Compile("buy when os_environ > 0")
	if err == nil {
		t.Fatal("expected an error for a non-whitelisted identifier")
	}
}

func TestCompileRejectsNoSignalClause(t *testing.T) {
	_, err := Compile("state.x = close")
	if err == nil {
		t.Fatal("expected an error for a program with no buy/sell/flat clause")
	}
}

func TestCompileRejectsBadArity(t *testing.T) {
	_, err := Compile("buy when sma(close) > 0")
	if err == nil {
		t.Fatal("expected an error for wrong argument count")
	}
}

func TestCompileRejectsEmptyProgram(t *testing.T) {
	_, err := Compile("   \n # just a comment\n")
	if err == nil {
		t.Fatal("expected an error for an empty program")
	}
}

func TestInvokeStateAssignmentAndSignal(t *testing.T) {
	cs, err := Compile(`
state.level = close * 2
buy when state.level > 100
`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	window := makeWindow([]float64{60})
	state := models.NewState()
	dec, err := Invoke(cs, window, state)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if dec.Signal != models.SignalBuy {
		t.Errorf("signal = %s, want BUY", dec.Signal)
	}
	if state.Get("level") != 120 {
		t.Errorf("state.level = %v, want 120", state.Get("level"))
	}
}

func TestInvokeStopLossTakeProfitAttached(t *testing.T) {
	cs, err := Compile(`
buy when close > 0
stop_loss 0.95
take_profit 1.1
`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	dec, err := Invoke(cs, makeWindow([]float64{100}), models.NewState())
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if dec.StopLoss != 0.95 || dec.TakeProfit != 1.1 {
		t.Errorf("brackets = (%v, %v), want (0.95, 1.1)", dec.StopLoss, dec.TakeProfit)
	}
}

func TestInvokeFirstMatchingSignalWins(t *testing.T) {
	cs, err := Compile(`
buy when close > 0
sell when close > 0
`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	dec, err := Invoke(cs, makeWindow([]float64{100}), models.NewState())
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if dec.Signal != models.SignalBuy {
		t.Errorf("signal = %s, want BUY (first matching clause)", dec.Signal)
	}
}

func TestCrossoverAndCrossunder(t *testing.T) {
	// state.fast tracks close directly; it rises from 10 (below the fixed
	// threshold of 15) to 20 (above it) between bar 0 and bar 1.
	window := makeWindow([]float64{10, 20})

	cs, err := Compile(`
state.fast = close
state.slow = 15
buy when crossover(state.fast, state.slow)
`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	state := models.NewState()
	// Prime state as of bar 0 first, mirroring how the engine drives bar-by-bar
	// and populating State.Prev for bar 1's crossover comparison.
	firstWindow := models.Window{Symbol: window.Symbol, Bars: window.Bars[:1], Index: 0}
	if _, err := Invoke(cs, firstWindow, state); err != nil {
		t.Fatalf("Invoke bar 0: %v", err)
	}
	dec, err := Invoke(cs, window, state)
	if err != nil {
		t.Fatalf("Invoke bar 1: %v", err)
	}
	if dec.Signal != models.SignalBuy {
		t.Errorf("signal = %s, want BUY on crossover", dec.Signal)
	}
}

func TestDeciderTimesOut(t *testing.T) {
	cs, err := Compile("buy when close > 0")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	d := NewDecider(cs)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err = d.Decide(ctx, makeWindow([]float64{100}), models.NewState())
	if err == nil {
		t.Fatal("expected a timeout error from an already-expired context")
	}
}

func TestBollingerBandsOrdering(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100 + math.Sin(float64(i))
	}
	window := makeWindow(closes)
	cs, err := Compile("buy when bollinger_upper(close, 20, 2) > bollinger_lower(close, 20, 2)")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	dec, err := Invoke(cs, window, models.NewState())
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if dec.Signal != models.SignalBuy {
		t.Error("expected bollinger_upper to exceed bollinger_lower")
	}
}
