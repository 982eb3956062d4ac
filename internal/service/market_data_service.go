package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/logging"
	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/types"
	"github.com/shopspring/decimal"
)

// NavService stores NAV series delivered by the NAV provider
type NavService struct {
	navs     NavRepository
	calendar TradingCalendar
}

// NewNavService creates a new NAV service
func NewNavService(navs NavRepository, calendar TradingCalendar) *NavService {
	return &NavService{navs: navs, calendar: calendar}
}

// Ingest stores the points of a holding that fall on trading days. Missing
// daily returns are derived from the previous trading day's NAV.
func (s *NavService) Ingest(ctx context.Context, holdingID int64, points []*models.NavPoint) (int, error) {
	kept := make([]*models.NavPoint, 0, len(points))
	skipped := 0
	for _, p := range points {
		if !p.NavPerUnit.IsPositive() {
			return 0, apperrors.NewValidationError("nav_per_unit", fmt.Sprintf("must be positive on %s", types.FormatDay(p.Date)))
		}
		p.Date = types.Day(p.Date)
		if !s.calendar.IsTradingDay(p.Date) {
			skipped++
			continue
		}
		p.HoldingID = holdingID
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return 0, nil
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Date.Before(kept[j].Date) })

	var prev *models.NavPoint
	if day, ok := s.calendar.Prev(kept[0].Date); ok {
		var err error
		if prev, err = s.navs.Get(ctx, holdingID, day); err != nil {
			return 0, fmt.Errorf("failed to load previous nav: %w", err)
		}
	}
	for _, p := range kept {
		if !p.DailyReturn.Valid && prev != nil {
			p.DailyReturn = decimal.NullDecimal{Decimal: navReturn(prev, p), Valid: true}
		}
		prev = p
	}

	if err := s.navs.Upsert(ctx, kept); err != nil {
		return 0, fmt.Errorf("failed to store nav points: %w", err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"holding_id": holdingID,
		"stored":     len(kept),
		"skipped":    skipped,
	}).Debug("Ingested NAV points")
	return len(kept), nil
}

// navReturn prefers accumulated NAV so distributions do not read as losses
func navReturn(prev, cur *models.NavPoint) decimal.Decimal {
	if prev.AccumulatedNav.IsPositive() && cur.AccumulatedNav.IsPositive() {
		return types.Ratio(cur.AccumulatedNav.Div(prev.AccumulatedNav).Sub(decimal.NewFromInt(1)))
	}
	return types.Ratio(cur.NavPerUnit.Div(prev.NavPerUnit).Sub(decimal.NewFromInt(1)))
}

// BenchmarkClose is one closing level delivered by the benchmark provider
type BenchmarkClose struct {
	Date  time.Time       `json:"date"`
	Close decimal.Decimal `json:"close"`
}

// BenchmarkService stores benchmark series and derives daily returns
type BenchmarkService struct {
	benchmarks BenchmarkRepository
}

// NewBenchmarkService creates a new benchmark service
func NewBenchmarkService(benchmarks BenchmarkRepository) *BenchmarkService {
	return &BenchmarkService{benchmarks: benchmarks}
}

// Ingest stores closes with daily_return = close[t]/close[t-1] - 1. The
// return is zero when there is no usable previous close.
func (s *BenchmarkService) Ingest(ctx context.Context, benchmarkID int64, closes []BenchmarkClose) (int, error) {
	if len(closes) == 0 {
		return 0, nil
	}
	sorted := make([]BenchmarkClose, len(closes))
	copy(sorted, closes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	last, err := s.benchmarks.LastBefore(ctx, benchmarkID, types.Day(sorted[0].Date))
	if err != nil {
		return 0, fmt.Errorf("failed to load previous benchmark close: %w", err)
	}
	prevClose := decimal.Zero
	if last != nil {
		prevClose = last.Close
	}

	points := make([]*models.BenchmarkPoint, 0, len(sorted))
	for _, c := range sorted {
		if c.Close.IsNegative() {
			return 0, apperrors.NewValidationError("close", fmt.Sprintf("cannot be negative on %s", types.FormatDay(c.Date)))
		}
		ret := decimal.Zero
		if prevClose.IsPositive() {
			ret = types.Ratio(c.Close.Div(prevClose).Sub(decimal.NewFromInt(1)))
		}
		points = append(points, &models.BenchmarkPoint{
			BenchmarkID: benchmarkID,
			Date:        types.Day(c.Date),
			Close:       c.Close,
			DailyReturn: ret,
		})
		prevClose = c.Close
	}

	if err := s.benchmarks.Upsert(ctx, points); err != nil {
		return 0, fmt.Errorf("failed to store benchmark points: %w", err)
	}
	return len(points), nil
}
