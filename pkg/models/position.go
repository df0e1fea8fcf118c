package models

import "time"

// PositionState is the per-instrument state machine state.
type PositionState string

const (
	StateFlat PositionState = "FLAT"
	StateLong PositionState = "LONG"
)

// Position is the single open long position an instrument may hold at a time.
type Position struct {
	EntryPrice  float64
	EntryTime   time.Time
	Size        float64 // shares, > 0
	StopPrice   float64 // 0 means unset
	TargetPrice float64 // 0 means unset

	EntryCommission float64 // commission paid on the entry fill
}

// MarkToClose returns the position's mark-to-market value at the given close.
func (p *Position) MarkToClose(close float64) float64 {
	if p == nil {
		return 0
	}
	return p.Size * close
}
