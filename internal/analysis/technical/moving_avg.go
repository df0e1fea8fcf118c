// Package technical implements the whitelisted numeric indicator functions
// the strategy sandbox exposes to user strategies. Every function is pure:
// it takes a bar or price series and returns a derived series or a single
// value from it, with no access to anything beyond its arguments.
package technical

import (
	"github.com/seenimoa/backtestcore/pkg/models"
)

// SMA calculates the Simple Moving Average for the given period.
func SMA(data []float64, period int) []float64 {
	n := len(data)
	if n < period || period <= 0 {
		return nil
	}

	result := make([]float64, n)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	result[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		sum += data[i] - data[i-period]
		result[i] = sum / float64(period)
	}

	return result
}

// SMALatest returns the most recent SMA value, or 0 if the series is too short.
func SMALatest(data []float64, period int) float64 {
	vals := SMA(data, period)
	if len(vals) == 0 {
		return 0
	}
	return vals[len(vals)-1]
}

// EMA calculates the Exponential Moving Average for the given period.
func EMA(data []float64, period int) []float64 {
	return emaCalc(data, period)
}

// EMALatest returns the most recent EMA value.
func EMALatest(data []float64, period int) float64 {
	vals := EMA(data, period)
	if len(vals) == 0 {
		return 0
	}
	return vals[len(vals)-1]
}

// VWAP calculates a running Volume Weighted Average Price across the series.
func VWAP(bars []models.Bar) []float64 {
	n := len(bars)
	if n == 0 {
		return nil
	}

	result := make([]float64, n)
	cumVolume := 0.0
	cumTPV := 0.0

	for i := 0; i < n; i++ {
		tp := (bars[i].High + bars[i].Low + bars[i].Close) / 3
		vol := float64(bars[i].Volume)
		cumTPV += tp * vol
		cumVolume += vol

		if cumVolume > 0 {
			result[i] = cumTPV / cumVolume
		}
	}

	return result
}

// VWAPLatest returns the most recent VWAP value.
func VWAPLatest(bars []models.Bar) float64 {
	vals := VWAP(bars)
	if len(vals) == 0 {
		return 0
	}
	return vals[len(vals)-1]
}

// Highest returns the highest value over the trailing period (inclusive of
// the current bar).
func Highest(data []float64, period int) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}
	if period <= 0 || period > n {
		period = n
	}
	max := data[n-period]
	for i := n - period + 1; i < n; i++ {
		if data[i] > max {
			max = data[i]
		}
	}
	return max
}

// Lowest returns the lowest value over the trailing period (inclusive of the
// current bar).
func Lowest(data []float64, period int) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}
	if period <= 0 || period > n {
		period = n
	}
	min := data[n-period]
	for i := n - period + 1; i < n; i++ {
		if data[i] < min {
			min = data[i]
		}
	}
	return min
}
