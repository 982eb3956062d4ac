package analytics

import (
	"math"
	"time"

	"github.com/fund-analytics/internal/config"
	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/models"
	"github.com/shopspring/decimal"
)

// Config holds the tunables of the engine
type Config struct {
	RiskFreeRate         float64
	AnnualizationFactor  int
	MinAnnualizationDays int
	XIRRMinDays          int
	XIRRLow              float64
	XIRRHigh             float64
	Epsilon              float64
}

// DefaultConfig returns the standard engine settings
func DefaultConfig() Config {
	return Config{
		RiskFreeRate:         0.02,
		AnnualizationFactor:  252,
		MinAnnualizationDays: 30,
		XIRRMinDays:          30,
		XIRRLow:              -0.999,
		XIRRHigh:             50.0,
		Epsilon:              1e-6,
	}
}

// ConfigFrom maps application configuration onto engine settings
func ConfigFrom(c config.AnalyticsConfig) Config {
	return Config{
		RiskFreeRate:         c.RiskFreeRate,
		AnnualizationFactor:  c.AnnualizationFactor,
		MinAnnualizationDays: c.MinAnnualizationDays,
		XIRRMinDays:          c.XIRRMinDays,
		XIRRLow:              c.XIRRLow,
		XIRRHigh:             c.XIRRHigh,
		Epsilon:              c.Epsilon,
	}
}

// Result holds the statistics of one slice. Nil pointers are undefined metrics.
type Result struct {
	TwrrCum            *float64
	TwrrAnn            *float64
	IrrCum             *float64
	IrrAnn             *float64
	PeriodPnL          *float64
	PeriodPnLRatio     *float64
	Volatility         *float64
	DownsideRisk       *float64
	Sharpe             *float64
	Sortino            *float64
	Calmar             *float64
	WinRate            *float64
	MaxDD              *float64
	MaxDDStart         *time.Time
	MaxDDEnd           *time.Time
	MaxDDRecovery      *time.Time
	MaxDDDays          *int
	BestDay            *float64
	WorstDay           *float64
	BenchmarkCumReturn *float64
	Alpha              *float64
	Beta               *float64
	TrackingError      *float64
	InformationRatio   *float64
	PositionRatio      *float64
	Contribution       *float64

	// Degenerate lists the metrics left NULL for lack of usable input
	Degenerate []error
}

func ptr[T any](v T) *T {
	return &v
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Compute evaluates every metric over a window slice. bench maps dates to
// benchmark daily returns and may be nil. factor is the window's
// annualization factor (0 falls back to cfg).
func Compute(s Series, bench map[time.Time]float64, factor int, cfg Config) Result {
	var res Result
	n := s.Len()
	if n == 0 {
		return res
	}
	if factor <= 0 {
		factor = cfg.AnnualizationFactor
	}
	rf := cfg.RiskFreeRate

	twrrCum := TWRR(s.Returns)
	res.TwrrCum = finite(twrrCum)
	if ann, ok := Annualize(twrrCum, n, factor, cfg.MinAnnualizationDays); ok {
		res.TwrrAnn = ptr(ann)
	}

	periodPnL := Sum(s.PnL)
	res.PeriodPnL = ptr(periodPnL)
	base := s.StartValue()
	if base <= 1 {
		base += math.Max(0, -s.Flows[0])
	}
	if base > cfg.Epsilon {
		res.PeriodPnLRatio = finite(periodPnL / base)
	}

	vol := Volatility(s.Returns, factor)
	down := DownsideRisk(s.Returns, factor)
	res.Volatility = ptr(vol)
	res.DownsideRisk = ptr(down)
	if res.TwrrAnn != nil && vol > cfg.Epsilon {
		res.Sharpe = finite((*res.TwrrAnn - rf) / vol)
	}
	if res.TwrrAnn != nil && down > cfg.Epsilon {
		res.Sortino = finite((*res.TwrrAnn - rf) / down)
	}

	dd := MaxDrawdown(s.Returns)
	res.MaxDD = ptr(dd.MaxDD)
	if dd.End >= 0 {
		res.MaxDDStart = ptr(s.Dates[dd.Start])
		res.MaxDDEnd = ptr(s.Dates[dd.End])
		res.MaxDDDays = ptr(dd.Days())
		if dd.Recovery >= 0 {
			res.MaxDDRecovery = ptr(s.Dates[dd.Recovery])
		}
	}
	if res.TwrrAnn != nil && dd.MaxDD < 0 {
		res.Calmar = finite(*res.TwrrAnn / math.Abs(dd.MaxDD))
	}

	res.WinRate = ptr(WinRate(s.Returns))
	if best, worst, ok := BestWorst(s.Returns); ok {
		res.BestDay = ptr(best)
		res.WorstDay = ptr(worst)
	}

	if bench != nil {
		r, b := AlignBenchmark(s.Dates, s.Returns, bench)
		if bs, ok := CompareBenchmark(r, b, twrrCum, res.TwrrAnn, rf, factor, cfg.MinAnnualizationDays, cfg.Epsilon); ok {
			res.BenchmarkCumReturn = finite(bs.CumReturn)
			res.Beta = finite(bs.Beta)
			res.Alpha = bs.Alpha
			res.TrackingError = finite(bs.TrackingError)
			res.InformationRatio = bs.InformationRatio
		} else {
			res.Degenerate = append(res.Degenerate, apperrors.NewNumericError("benchmark",
				"too few overlapping days or benchmark variance below epsilon"))
		}
	}

	if n > cfg.XIRRMinDays {
		if irr, ok := XIRR(CashFlows(s), cfg.XIRRLow, cfg.XIRRHigh); ok {
			res.IrrAnn = finite(irr)
			days := s.Dates[n-1].Sub(s.Dates[0]).Hours() / 24
			res.IrrCum = finite(CumulativeFromAnnual(irr, days))
		} else {
			res.Degenerate = append(res.Degenerate, apperrors.NewNumericError("irr", "no root in the search bracket"))
		}
	}

	return res
}

// CashFlows derives the investor cash flows of a slice: an opening outflow
// equal to the start value, daily external flows plus cash dividends, and
// the closing market value.
func CashFlows(s Series) []CashFlow {
	n := s.Len()
	if n == 0 {
		return nil
	}
	flows := make([]CashFlow, 0, n+2)
	if start := s.StartValue(); start > 1 {
		flows = append(flows, CashFlow{Date: s.Dates[0], Amount: -start})
	}
	for i := 0; i < n; i++ {
		if amt := s.Flows[i] + s.CashDiv[i]; amt != 0 {
			flows = append(flows, CashFlow{Date: s.Dates[i], Amount: amt})
		}
	}
	if mv := s.MarketValue[n-1]; mv != 0 {
		flows = append(flows, CashFlow{Date: s.Dates[n-1], Amount: mv})
	}
	return flows
}

// Contribution relates a holding slice to the portfolio series. Each day's
// holding PnL is divided by the previous day's portfolio market value; days
// where that value is not above eps are skipped. The position ratio is the
// mean share of portfolio market value.
func Contribution(holding Series, portfolio Series, eps float64) (contribution, positionRatio *float64) {
	if holding.Len() == 0 || portfolio.Len() == 0 {
		return nil, nil
	}

	var contrib float64
	var ratioSum float64
	ratioDays := 0
	matched := false
	for i, d := range holding.Dates {
		j := portfolio.IndexOf(d)
		if j < 0 {
			continue
		}
		matched = true
		if j > 0 && portfolio.MarketValue[j-1] > eps {
			contrib += holding.PnL[i] / portfolio.MarketValue[j-1]
		}
		if pmv := portfolio.MarketValue[j]; pmv > eps {
			ratioSum += holding.MarketValue[i] / pmv
			ratioDays++
		}
	}
	if !matched {
		return nil, nil
	}
	contribution = finite(contrib)
	if ratioDays > 0 {
		positionRatio = finite(ratioSum / float64(ratioDays))
	}
	return contribution, positionRatio
}

func nullDecimal(v *float64, places int32) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(*v).Round(places), Valid: true}
}

// ToModel converts a result to its persisted decimal form
func (r Result) ToModel() models.AnalyticsMetrics {
	const ratio, money = 6, 4
	return models.AnalyticsMetrics{
		TwrrCum:            nullDecimal(r.TwrrCum, ratio),
		TwrrAnn:            nullDecimal(r.TwrrAnn, ratio),
		IrrCum:             nullDecimal(r.IrrCum, ratio),
		IrrAnn:             nullDecimal(r.IrrAnn, ratio),
		PeriodPnL:          nullDecimal(r.PeriodPnL, money),
		PeriodPnLRatio:     nullDecimal(r.PeriodPnLRatio, ratio),
		Volatility:         nullDecimal(r.Volatility, ratio),
		DownsideRisk:       nullDecimal(r.DownsideRisk, ratio),
		Sharpe:             nullDecimal(r.Sharpe, ratio),
		Sortino:            nullDecimal(r.Sortino, ratio),
		Calmar:             nullDecimal(r.Calmar, ratio),
		WinRate:            nullDecimal(r.WinRate, ratio),
		MaxDD:              nullDecimal(r.MaxDD, ratio),
		MaxDDStart:         r.MaxDDStart,
		MaxDDEnd:           r.MaxDDEnd,
		MaxDDRecovery:      r.MaxDDRecovery,
		MaxDDDays:          r.MaxDDDays,
		BestDay:            nullDecimal(r.BestDay, ratio),
		WorstDay:           nullDecimal(r.WorstDay, ratio),
		BenchmarkCumReturn: nullDecimal(r.BenchmarkCumReturn, ratio),
		Alpha:              nullDecimal(r.Alpha, ratio),
		Beta:               nullDecimal(r.Beta, ratio),
		TrackingError:      nullDecimal(r.TrackingError, ratio),
		InformationRatio:   nullDecimal(r.InformationRatio, ratio),
		PositionRatio:      nullDecimal(r.PositionRatio, ratio),
		Contribution:       nullDecimal(r.Contribution, ratio),
	}
}
