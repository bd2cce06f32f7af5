package summary

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear annualises daily volatility.
const TradingDaysPerYear = 252

// RealizedVolatility is the annualised sample standard deviation of the last
// window log returns. It is zero when fewer than window returns exist.
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	return stat.StdDev(logReturns[len(logReturns)-window:], nil) * math.Sqrt(barsPerYear)
}

// SimpleReturns computes p_t/p_{t-1} - 1, with 0 after a non-positive price.
func SimpleReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev := prices[i-1]
		if prev <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, prices[i]/prev-1)
	}
	return out
}
