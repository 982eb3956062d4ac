package analytics

import (
	"math"
	"time"

	"github.com/montanaflynn/stats"
)

// MinBenchmarkOverlap is the number of shared days needed for the benchmark block
const MinBenchmarkOverlap = 20

// BenchmarkStats compares a return series with a benchmark over shared days
type BenchmarkStats struct {
	CumReturn        float64
	Beta             float64
	Alpha            *float64
	TrackingError    float64
	InformationRatio *float64
}

// AlignBenchmark pairs series returns with benchmark returns on the same dates
func AlignBenchmark(dates []time.Time, returns []float64, bench map[time.Time]float64) (r, b []float64) {
	for i, d := range dates {
		if br, ok := bench[d]; ok {
			r = append(r, returns[i])
			b = append(b, br)
		}
	}
	return r, b
}

// CompareBenchmark computes the benchmark block. twrrAnn may be nil, in
// which case alpha is undefined. ok is false when there are fewer than
// MinBenchmarkOverlap shared days or the benchmark variance is degenerate.
func CompareBenchmark(r, b []float64, twrrCum float64, twrrAnn *float64, rf float64, factor, minDays int, eps float64) (BenchmarkStats, bool) {
	var out BenchmarkStats
	if len(r) < MinBenchmarkOverlap || len(r) != len(b) {
		return out, false
	}

	varB, err := stats.SampleVariance(b)
	if err != nil || varB <= eps {
		return out, false
	}
	cov, err := stats.Covariance(r, b)
	if err != nil {
		return out, false
	}

	out.CumReturn = TWRR(b)
	out.Beta = cov / varB

	if twrrAnn != nil {
		if benchAnn, ok := Annualize(out.CumReturn, len(b), factor, minDays); ok {
			alpha := *twrrAnn - (rf + out.Beta*(benchAnn-rf))
			out.Alpha = &alpha
		}
	}

	excess := make([]float64, len(r))
	for i := range r {
		excess[i] = r[i] - b[i]
	}
	out.TrackingError = Volatility(excess, factor)
	if out.TrackingError > eps {
		ir := (twrrCum - out.CumReturn) / out.TrackingError
		if !math.IsNaN(ir) && !math.IsInf(ir, 0) {
			out.InformationRatio = &ir
		}
	}
	return out, true
}
