// Package coreerr defines the typed error taxonomy of §7: one Go type per
// error class, inspected by callers with errors.As, following the same
// typed-error-with-fields shape as infra.ErrHTTP.
package coreerr

import (
	"errors"
	"fmt"
)

// ConfigError covers request-shape problems caught before any worker
// starts: unparseable dates, an empty date range, an out-of-bounds numeric
// field, or an unknown universe id.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationError wraps a rejected strategy source, surfaced synchronously
// before any worker starts.
type ValidationError struct {
	Line    int
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("strategy validation (line %d, %s): %s", e.Line, e.Reason, e.Message)
	}
	return fmt.Sprintf("strategy validation (%s): %s", e.Reason, e.Message)
}

// DataUnavailable means no bars were available for a symbol (per-instrument:
// that instrument fails and the run continues) or for every symbol in the
// universe (whole-universe: the caller should treat the run as a terminal
// ERROR — see orchestrator.RunStreaming, which surfaces that case itself
// rather than routing it through this type).
type DataUnavailable struct {
	Symbol string
}

func (e *DataUnavailable) Error() string {
	return fmt.Sprintf("no bars available for %s", e.Symbol)
}

// SandboxCallFailure records one recovered per-bar decide() failure
// (a panic, a timeout, or a malformed return) — engine.Run recovers from
// this locally and treats the bar as SignalNone, so this type exists for
// callers that want to inspect *why* a TickerResult's Warnings count is
// nonzero, not to propagate as a fatal error.
type SandboxCallFailure struct {
	Symbol string
	Bar    int
	Cause  error
}

func (e *SandboxCallFailure) Error() string {
	return fmt.Sprintf("sandbox call failed for %s at bar %d: %v", e.Symbol, e.Bar, e.Cause)
}

func (e *SandboxCallFailure) Unwrap() error { return e.Cause }

// SandboxFatal means the sandboxed call could not be recovered in-process
// (the documented memory-breach/process-death case) — that instrument's
// worker terminates and it is marked failed, but sibling workers continue.
type SandboxFatal struct {
	Symbol string
	Cause  error
}

func (e *SandboxFatal) Error() string {
	return fmt.Sprintf("sandbox fatal for %s: %v", e.Symbol, e.Cause)
}

func (e *SandboxFatal) Unwrap() error { return e.Cause }

// NumericAnomaly flags a non-finite price or a size overflow encountered
// mid-simulation — the affected instrument is aborted with a failed
// TickerResult, but the run as a whole continues.
type NumericAnomaly struct {
	Symbol string
	Field  string
	Value  float64
}

func (e *NumericAnomaly) Error() string {
	return fmt.Sprintf("numeric anomaly for %s: %s = %v", e.Symbol, e.Field, e.Value)
}

// ErrCancelled is returned (or wrapped) when a caller observes a
// context-cancelled run. The orchestrator does not emit a terminal error
// event for cancellation — per §4.3 the stream simply closes — so this
// sentinel exists for callers of the blocking Run wrapper, which must
// return something when the channel closes without a terminal event.
var ErrCancelled = errors.New("backtest run was cancelled")
