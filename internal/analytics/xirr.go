package analytics

import (
	"math"
	"time"
)

// CashFlow is a dated amount from the investor's point of view:
// money paid in is negative, money received is positive.
type CashFlow struct {
	Date   time.Time
	Amount float64
}

const (
	daysPerYear   = 365.25
	newtonGuess   = 0.1
	newtonMaxIter = 100
	newtonTol     = 1e-5
	bisectMaxIter = 200
	bisectTol     = 1e-9
)

func yearFractions(flows []CashFlow) []float64 {
	years := make([]float64, len(flows))
	base := flows[0].Date
	for i, f := range flows {
		years[i] = f.Date.Sub(base).Hours() / 24 / daysPerYear
	}
	return years
}

func xnpv(rate float64, flows []CashFlow, years []float64) float64 {
	sum := 0.0
	for i, f := range flows {
		sum += f.Amount / math.Pow(1+rate, years[i])
	}
	return sum
}

func dxnpv(rate float64, flows []CashFlow, years []float64) float64 {
	sum := 0.0
	for i, f := range flows {
		if years[i] == 0 {
			continue
		}
		sum -= years[i] * f.Amount / math.Pow(1+rate, years[i]+1)
	}
	return sum
}

// XIRR solves XNPV(r) = 0 for the annual rate r. It bisects on [low, high]
// when the endpoints bracket a root, otherwise runs a damped Newton iteration
// from 0.1. It returns false when no rate is found.
func XIRR(flows []CashFlow, low, high float64) (float64, bool) {
	if len(flows) < 2 {
		return 0, false
	}
	hasNeg, hasPos := false, false
	for _, f := range flows {
		if f.Amount < 0 {
			hasNeg = true
		}
		if f.Amount > 0 {
			hasPos = true
		}
	}
	if !hasNeg || !hasPos {
		return 0, false
	}

	years := yearFractions(flows)

	fLow := xnpv(low, flows, years)
	fHigh := xnpv(high, flows, years)
	if !math.IsNaN(fLow) && !math.IsNaN(fHigh) && fLow*fHigh <= 0 {
		return bisect(flows, years, low, high, fLow)
	}
	return newton(flows, years, low)
}

func bisect(flows []CashFlow, years []float64, low, high, fLow float64) (float64, bool) {
	if fLow == 0 {
		return low, true
	}
	for i := 0; i < bisectMaxIter; i++ {
		mid := (low + high) / 2
		fMid := xnpv(mid, flows, years)
		if fMid == 0 || (high-low)/2 < bisectTol {
			return mid, true
		}
		if fLow*fMid < 0 {
			high = mid
		} else {
			low, fLow = mid, fMid
		}
	}
	return (low + high) / 2, true
}

func newton(flows []CashFlow, years []float64, floor float64) (float64, bool) {
	rate := newtonGuess
	for i := 0; i < newtonMaxIter; i++ {
		f := xnpv(rate, flows, years)
		d := dxnpv(rate, flows, years)
		if d == 0 || math.IsNaN(d) || math.IsNaN(f) {
			return 0, false
		}
		step := f / d

		// halve the step until the rate stays above the floor
		next := rate - step
		for damp := 0; next <= floor && damp < 30; damp++ {
			step /= 2
			next = rate - step
		}
		if next <= floor {
			return 0, false
		}

		if math.Abs(next-rate) < newtonTol {
			if math.IsInf(next, 0) || math.IsNaN(next) {
				return 0, false
			}
			return next, true
		}
		rate = next
	}
	return 0, false
}

// CumulativeFromAnnual converts an annual rate into the return over a span of calendar days
func CumulativeFromAnnual(annual float64, days float64) float64 {
	return math.Pow(1+annual, days/daysPerYear) - 1
}
