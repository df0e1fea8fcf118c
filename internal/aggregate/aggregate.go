// Package aggregate combines independent per-instrument simulation results
// into one portfolio-level BacktestResult: an equity curve resampled across
// instruments, the full metric vector, and top/worst performer summaries.
package aggregate

import (
	"sort"
	"time"

	"github.com/seenimoa/backtestcore/internal/backtest"
	"github.com/seenimoa/backtestcore/pkg/models"
)

const (
	maxPerformers   = 10
	maxSampleTrades = 20
)

// Build aggregates a set of (possibly partially failed) per-instrument
// results into the terminal result. Build's output depends only on the
// content of results, never their arrival order, so aggregation is
// independent of which instrument simulation happened to finish first.
func Build(jobID string, initialCapital float64, results []*models.TickerResult, startedAt time.Time) *models.BacktestResult {
	var successful []*models.TickerResult
	var failures []string
	var allTrades []models.Trade

	for _, r := range results {
		if r == nil {
			continue
		}
		if !r.Success {
			failures = append(failures, r.Symbol)
			continue
		}
		successful = append(successful, r)
		allTrades = append(allTrades, r.Trades...)
	}

	curve := portfolioCurve(successful, initialCapital)
	metrics := backtest.ComputeReturnMetrics(curve, initialCapital)
	metrics.TradeAggregates = backtest.ComputeTradeAggregates(allTrades)

	top, worst := performers(successful)

	return &models.BacktestResult{
		JobID:           jobID,
		Metrics:         metrics,
		EquityCurve:     curve,
		TopPerformers:   top,
		WorstPerformers: worst,
		SampleTrades:    sampleTrades(allTrades, maxSampleTrades),
		Failures:        failures,
		StartedAt:       startedAt,
		FinishedAt:      time.Now(),
	}
}

// portfolioCurve resamples every successful instrument's equity curve onto
// the union of observed timestamps, taking at each timestamp the mean of
// each already-started instrument's last-known equity (a step function),
// then rebases the whole series so its first point equals initialCapital.
func portfolioCurve(results []*models.TickerResult, initialCapital float64) []models.EquityPoint {
	if len(results) == 0 {
		return nil
	}

	seen := make(map[time.Time]bool)
	for _, r := range results {
		for _, ep := range r.EquityCurve {
			seen[ep.Timestamp] = true
		}
	}
	timestamps := make([]time.Time, 0, len(seen))
	for ts := range seen {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })

	lastKnown := make([]float64, len(results))
	started := make([]bool, len(results))
	cursor := make([]int, len(results))

	curve := make([]models.EquityPoint, 0, len(timestamps))
	for _, ts := range timestamps {
		for i, r := range results {
			for cursor[i] < len(r.EquityCurve) && !r.EquityCurve[cursor[i]].Timestamp.After(ts) {
				lastKnown[i] = r.EquityCurve[cursor[i]].Equity
				started[i] = true
				cursor[i]++
			}
		}

		sum, n := 0.0, 0
		for i := range results {
			if started[i] {
				sum += lastKnown[i]
				n++
			}
		}
		if n == 0 {
			continue
		}
		curve = append(curve, models.EquityPoint{Timestamp: ts, Equity: sum / float64(n)})
	}

	if len(curve) > 0 && curve[0].Equity > 0 && initialCapital > 0 {
		scale := initialCapital / curve[0].Equity
		for i := range curve {
			curve[i].Equity *= scale
		}
	}

	return curve
}

func performers(results []*models.TickerResult) (top, worst []models.PerformerSummary) {
	sorted := make([]*models.TickerResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TotalPnL > sorted[j].TotalPnL })

	for i := 0; i < len(sorted) && i < maxPerformers; i++ {
		top = append(top, models.PerformerSummary{Symbol: sorted[i].Symbol, TotalPnL: sorted[i].TotalPnL})
	}
	for i := len(sorted) - 1; i >= 0 && len(worst) < maxPerformers; i-- {
		worst = append(worst, models.PerformerSummary{Symbol: sorted[i].Symbol, TotalPnL: sorted[i].TotalPnL})
	}
	return top, worst
}

// sampleTrades returns the k most recent trades across all instruments by
// exit time, most recent first.
func sampleTrades(trades []models.Trade, k int) []models.Trade {
	sorted := make([]models.Trade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ExitTime.After(sorted[j].ExitTime) })
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}
