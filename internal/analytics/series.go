// Package analytics computes windowed return, risk and drawdown statistics
// over daily snapshot series. Everything here is pure and CPU-bound.
package analytics

import (
	"time"

	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/types"
)

// Series is a daily snapshot series in columnar float form
type Series struct {
	Dates       []time.Time
	Returns     []float64
	PnL         []float64
	Shares      []float64
	CashDiv     []float64
	Flows       []float64 // net external flow, buys negative
	MarketValue []float64
	Cycles      []int
}

// Len returns the number of rows
func (s Series) Len() int {
	return len(s.Dates)
}

// Slice returns rows [lo, hi)
func (s Series) Slice(lo, hi int) Series {
	return Series{
		Dates:       s.Dates[lo:hi],
		Returns:     s.Returns[lo:hi],
		PnL:         s.PnL[lo:hi],
		Shares:      s.Shares[lo:hi],
		CashDiv:     s.CashDiv[lo:hi],
		Flows:       s.Flows[lo:hi],
		MarketValue: s.MarketValue[lo:hi],
		Cycles:      s.Cycles[lo:hi],
	}
}

// StartValue is the market value immediately before the first row
func (s Series) StartValue() float64 {
	if s.Len() == 0 {
		return 0
	}
	return s.MarketValue[0] - s.PnL[0] + s.Flows[0] + s.CashDiv[0]
}

// IndexOf returns the position of day in the series, or -1
func (s Series) IndexOf(day time.Time) int {
	lo, hi := 0, len(s.Dates)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.Dates[mid].Before(day) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(s.Dates) && s.Dates[lo].Equal(day) {
		return lo
	}
	return -1
}

func (s *Series) append(date time.Time, ret, pnl, shares, cashDiv, flow, mv float64, cycle int) {
	s.Dates = append(s.Dates, date)
	s.Returns = append(s.Returns, ret)
	s.PnL = append(s.PnL, pnl)
	s.Shares = append(s.Shares, shares)
	s.CashDiv = append(s.CashDiv, cashDiv)
	s.Flows = append(s.Flows, flow)
	s.MarketValue = append(s.MarketValue, mv)
	s.Cycles = append(s.Cycles, cycle)
}

// FromHoldingSnapshots builds a series from snapshots ordered by date
func FromHoldingSnapshots(snaps []*models.HoldingSnapshot) Series {
	var s Series
	for _, h := range snaps {
		s.append(h.Date,
			h.DailyReturn.InexactFloat64(),
			h.DailyPnL.InexactFloat64(),
			h.Shares.InexactFloat64(),
			h.DailyCashDiv.InexactFloat64(),
			h.NetExternalFlow.InexactFloat64(),
			h.MarketValue.InexactFloat64(),
			h.Cycle,
		)
	}
	return s
}

// FromPortfolioSnapshots builds a series from portfolio snapshots ordered by
// date. Portfolio cycles advance after every day that ends with no market value.
func FromPortfolioSnapshots(snaps []*models.PortfolioSnapshot) Series {
	var s Series
	cycle := 1
	for _, p := range snaps {
		mv := p.MarketValue.InexactFloat64()
		s.append(p.Date,
			p.DailyReturn.InexactFloat64(),
			p.DailyPnL.InexactFloat64(),
			0,
			p.DailyCashDiv.InexactFloat64(),
			p.NetExternalFlow.InexactFloat64(),
			mv,
			cycle,
		)
		if mv <= types.MoneyEpsilon.InexactFloat64() {
			cycle++
		}
	}
	return s
}

// Window slices the rows of series ending at index end (inclusive) that the
// window covers.
func Window(s Series, end int, w models.AnalyticsWindow) Series {
	if end < 0 || end >= s.Len() {
		return Series{}
	}

	switch {
	case w.Kind == types.WindowRolling:
		lo := end + 1 - w.Days
		if lo < 0 {
			lo = 0
		}
		return s.Slice(lo, end+1)
	case w.SinceClear():
		cycle := s.Cycles[end]
		lo := end
		for lo > 0 && s.Cycles[lo-1] == cycle {
			lo--
		}
		return s.Slice(lo, end+1)
	default:
		return s.Slice(0, end+1)
	}
}
