package technical

import (
	"math"

	"github.com/seenimoa/backtestcore/pkg/models"
)

// RSI calculates the Relative Strength Index for the given period (default 14
// when period <= 0). Returns values in [0, 100].
func RSI(bars []models.Bar, period int) []float64 {
	if period <= 0 {
		period = 14
	}
	n := len(bars)
	if n < period+1 {
		return nil
	}

	rsi := make([]float64, n)
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	rsi[period] = rsiFromAvg(avgGain, avgLoss)

	// Wilder's smoothing for subsequent values.
	for i := period + 1; i < n; i++ {
		change := bars[i].Close - bars[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		rsi[i] = rsiFromAvg(avgGain, avgLoss)
	}

	return rsi
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// RSILatest returns only the most recent RSI value, or 0 if too short.
func RSILatest(bars []models.Bar, period int) float64 {
	vals := RSI(bars, period)
	if len(vals) == 0 {
		return 0
	}
	return vals[len(vals)-1]
}

// BollingerUpper/BollingerLower calculate the Bollinger Bands for the given
// period and standard-deviation multiplier. Defaults: period=20, mult=2.
func BollingerUpper(bars []models.Bar, period int, mult float64) []float64 {
	return bollinger(bars, period, mult, true)
}

func BollingerLower(bars []models.Bar, period int, mult float64) []float64 {
	return bollinger(bars, period, mult, false)
}

func bollinger(bars []models.Bar, period int, mult float64, upper bool) []float64 {
	if period <= 0 {
		period = 20
	}
	if mult <= 0 {
		mult = 2.0
	}
	closes := extractCloses(bars)
	n := len(closes)
	if n < period {
		return nil
	}
	result := make([]float64, n)
	for i := period - 1; i < n; i++ {
		window := closes[i-period+1 : i+1]
		mean := avg(window)
		sd := stddev(window, mean)
		if upper {
			result[i] = mean + mult*sd
		} else {
			result[i] = mean - mult*sd
		}
	}
	return result
}

// ATR calculates the Average True Range for the given period (default 14).
func ATR(bars []models.Bar, period int) []float64 {
	if period <= 0 {
		period = 14
	}
	n := len(bars)
	if n < 2 {
		return nil
	}

	tr := make([]float64, n)
	tr[0] = bars[0].High - bars[0].Low
	for i := 1; i < n; i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	atr := make([]float64, n)
	if n < period {
		return atr
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	atr[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		atr[i] = (atr[i-1]*float64(period-1) + tr[i]) / float64(period)
	}

	return atr
}

// ATRLatest returns the most recent ATR value.
func ATRLatest(bars []models.Bar, period int) float64 {
	vals := ATR(bars, period)
	if len(vals) == 0 {
		return 0
	}
	return vals[len(vals)-1]
}

// --- helper functions ---

func extractCloses(bars []models.Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

func avg(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

func stddev(data []float64, mean float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sumSq := 0.0
	for _, v := range data {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(data)))
}

func emaCalc(data []float64, period int) []float64 {
	n := len(data)
	if n == 0 || period <= 0 {
		return make([]float64, n)
	}

	ema := make([]float64, n)
	k := 2.0 / float64(period+1)

	if n < period {
		return ema
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	ema[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		ema[i] = data[i]*k + ema[i-1]*(1-k)
	}

	return ema
}
