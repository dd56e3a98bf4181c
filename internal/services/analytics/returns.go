package analytics

import (
	"math"

	"MarketHub/internal/domain/models"
)

// logReturns computes r_t = ln(P_t / P_{t-1}) over a price history. It returns nil
// when fewer than two points are available.
func logReturns(history []models.PricePoint) []float64 {
	if len(history) < 2 {
		return nil
	}
	out := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		prev, cur := history[i-1].Price, history[i].Price
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// volatility is the sample standard deviation of returns, not annualized.
func volatility(returns []float64) float64 {
	n := float64(len(returns))
	if n < 2 {
		return 0
	}
	sum, sum2 := 0.0, 0.0
	for _, r := range returns {
		sum += r
		sum2 += r * r
	}
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

func sum(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s
}
