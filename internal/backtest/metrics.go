package backtest

import (
	"math"

	"github.com/seenimoa/backtestcore/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Trade Aggregates
// ════════════════════════════════════════════════════════════════════

// ComputeTradeAggregates computes the trade-level statistics vector from
// §4.4 over an arbitrary set of trades (one instrument's ledger, or the
// union across a whole portfolio).
func ComputeTradeAggregates(trades []models.Trade) models.TradeAggregates {
	var agg models.TradeAggregates
	agg.TotalTrades = len(trades)
	if agg.TotalTrades == 0 {
		return agg
	}

	var totalWin, totalLoss float64
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			agg.WinningTrades++
			totalWin += t.PnL
		case t.PnL < 0:
			agg.LosingTrades++
			totalLoss += math.Abs(t.PnL)
		}
	}

	agg.WinRate = float64(agg.WinningTrades) / float64(agg.TotalTrades)
	if agg.WinningTrades > 0 {
		agg.AvgWin = totalWin / float64(agg.WinningTrades)
	}
	if agg.LosingTrades > 0 {
		agg.AvgLoss = totalLoss / float64(agg.LosingTrades)
	}

	switch {
	case totalLoss > 0:
		agg.ProfitFactor = totalWin / totalLoss
	case totalWin > 0:
		agg.ProfitFactor = math.Inf(1)
	default:
		agg.ProfitFactor = 0
	}

	agg.BestTrade, agg.WorstTrade = bestWorst(trades)
	agg.AvgTradePnL = expectancy(trades)
	agg.ConsecutiveWins = maxConsecutive(trades, func(pnl float64) bool { return pnl > 0 })
	agg.ConsecutiveLosses = maxConsecutive(trades, func(pnl float64) bool { return pnl < 0 })

	return agg
}

func bestWorst(trades []models.Trade) (best, worst float64) {
	if len(trades) == 0 {
		return 0, 0
	}
	best, worst = trades[0].PnL, trades[0].PnL
	for _, t := range trades[1:] {
		if t.PnL > best {
			best = t.PnL
		}
		if t.PnL < worst {
			worst = t.PnL
		}
	}
	return best, worst
}

func expectancy(trades []models.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range trades {
		sum += t.PnL
	}
	return sum / float64(len(trades))
}

func maxConsecutive(trades []models.Trade, match func(pnl float64) bool) int {
	max, current := 0, 0
	for _, t := range trades {
		if match(t.PnL) {
			current++
			if current > max {
				max = current
			}
		} else {
			current = 0
		}
	}
	return max
}

// ════════════════════════════════════════════════════════════════════
// Return-series metrics (CAGR, volatility, Sharpe, Sortino, drawdown)
// ════════════════════════════════════════════════════════════════════

// ComputeReturnMetrics computes the curve-derived metric set from §4.4 over
// an equity curve. initialCapital anchors total_return and CAGR.
func ComputeReturnMetrics(curve []models.EquityPoint, initialCapital float64) models.PerformanceMetrics {
	var m models.PerformanceMetrics
	if len(curve) == 0 || initialCapital <= 0 {
		return m
	}

	finalEquity := curve[len(curve)-1].Equity
	m.TotalReturn = finalEquity - initialCapital
	m.TotalReturnPercent = m.TotalReturn / initialCapital * 100
	m.CAGR = cagr(curve, initialCapital, finalEquity)

	returns := DailyReturns(curve)
	m.Volatility = volatility(returns)
	m.SharpeRatio = sharpe(returns)
	m.SortinoRatio = sortino(returns)
	m.MaxDrawdown, m.MaxDrawdownPercent = maxDrawdown(curve)

	return m
}

func cagr(curve []models.EquityPoint, initialCapital, finalEquity float64) float64 {
	if finalEquity <= 0 {
		return 0
	}
	days := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp).Hours() / 24
	if days <= 0 {
		return 0
	}
	years := days / 365.25
	return math.Pow(finalEquity/initialCapital, 1.0/years) - 1
}

func maxDrawdown(curve []models.EquityPoint) (abs, pct float64) {
	if len(curve) == 0 {
		return 0, 0
	}
	peak := curve[0].Equity
	for _, ep := range curve {
		if ep.Equity > peak {
			peak = ep.Equity
		}
		dd := peak - ep.Equity
		if dd > abs {
			abs = dd
			if peak > 0 {
				pct = dd / peak * 100
			}
		}
	}
	return abs, pct
}

func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m, sd := mean(returns), stddev(returns)
	if sd == 0 {
		return 0
	}
	return m / sd * math.Sqrt(252)
}

func sortino(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m := mean(returns)
	var negative []float64
	for _, r := range returns {
		if r < 0 {
			negative = append(negative, r)
		}
	}
	sd := stddev(negative)
	if sd == 0 {
		return 0
	}
	return m / sd * math.Sqrt(252)
}

func volatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	return stddev(returns) * math.Sqrt(252) * 100
}

// DailyReturns computes the first-difference ratio series of an equity curve.
func DailyReturns(curve []models.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1].Equity > 0 {
			returns = append(returns, (curve[i].Equity-curve[i-1].Equity)/curve[i-1].Equity)
		}
	}
	return returns
}

func mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// stddev is the *sample* standard deviation (n-1 denominator); returns 0 for
// fewer than 2 observations, giving every caller a documented zero fallback
// instead of dividing by zero.
func stddev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	m := mean(data)
	sumSq := 0.0
	for _, v := range data {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(data)-1))
}
