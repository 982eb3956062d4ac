package analytics

import (
	"math"

	"github.com/montanaflynn/stats"
)

// TWRR chains daily returns geometrically
func TWRR(returns []float64) float64 {
	cum := 1.0
	for _, r := range returns {
		cum *= 1 + r
	}
	return cum - 1
}

// Annualize scales a cumulative return observed over n trading days.
// It returns false when n is below minDays.
func Annualize(cum float64, n, factor, minDays int) (float64, bool) {
	if n < minDays || n <= 0 || cum <= -1 {
		return 0, false
	}
	v := math.Pow(1+cum, float64(factor)/float64(n)) - 1
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Volatility is the annualized sample standard deviation of returns, 0 below two rows
func Volatility(returns []float64, factor int) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd, err := stats.StandardDeviationSample(returns)
	if err != nil {
		return 0
	}
	return sd * math.Sqrt(float64(factor))
}

// DownsideRisk is the annualized sample standard deviation of negative returns
func DownsideRisk(returns []float64, factor int) float64 {
	var neg []float64
	for _, r := range returns {
		if r < 0 {
			neg = append(neg, r)
		}
	}
	return Volatility(neg, factor)
}

// WinRate is the share of rows with a positive return
func WinRate(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(returns))
}

// BestWorst returns the largest and smallest daily return
func BestWorst(returns []float64) (best, worst float64, ok bool) {
	if len(returns) == 0 {
		return 0, 0, false
	}
	best, err := stats.Max(returns)
	if err != nil {
		return 0, 0, false
	}
	worst, err = stats.Min(returns)
	if err != nil {
		return 0, 0, false
	}
	return best, worst, true
}

// Sum adds values
func Sum(values []float64) float64 {
	total, err := stats.Sum(values)
	if err != nil {
		return 0
	}
	return total
}

// Drawdown describes the worst peak-to-trough decline of a return series.
// Indices refer to the input slice; -1 means absent.
type Drawdown struct {
	MaxDD    float64
	Start    int
	End      int
	Recovery int
}

// Days is the number of rows from peak to trough
func (d Drawdown) Days() int {
	if d.Start < 0 || d.End < 0 {
		return 0
	}
	return d.End - d.Start
}

// MaxDrawdown scans nav = cumprod(1+r) against its running peak
func MaxDrawdown(returns []float64) Drawdown {
	res := Drawdown{Start: -1, End: -1, Recovery: -1}
	if len(returns) == 0 {
		return res
	}

	nav := make([]float64, len(returns))
	peakIdx := make([]int, len(returns))
	cum := 1.0
	best := -1
	for i, r := range returns {
		cum *= 1 + r
		nav[i] = cum
		if best < 0 || cum >= nav[best] {
			best = i
		}
		peakIdx[i] = best
	}

	end := -1
	for i := range nav {
		dd := nav[i]/nav[peakIdx[i]] - 1
		if dd < res.MaxDD {
			res.MaxDD = dd
			end = i
		}
	}
	if end < 0 {
		return res
	}

	res.End = end
	res.Start = peakIdx[end]
	peak := nav[res.Start]
	for i := end + 1; i < len(nav); i++ {
		if nav[i] >= peak {
			res.Recovery = i
			break
		}
	}
	return res
}
