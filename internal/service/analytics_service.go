package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fund-analytics/internal/analytics"
	"github.com/fund-analytics/internal/logging"
	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/types"
)

// lastDay bounds "all history" snapshot queries
var lastDay = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// AnalyticsService computes and stores windowed analytics rows for holdings
// and portfolios
type AnalyticsService struct {
	holdingSnapshots   HoldingSnapshotRepository
	portfolioSnapshots PortfolioSnapshotRepository
	analytics          AnalyticsRepository
	windows            WindowSource
	settings           SettingsSource
	benchmarks         BenchmarkRepository
	tx                 TxRunner
	cfg                analytics.Config
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(
	holdingSnapshots HoldingSnapshotRepository,
	portfolioSnapshots PortfolioSnapshotRepository,
	analyticsRepo AnalyticsRepository,
	windows WindowSource,
	settings SettingsSource,
	benchmarks BenchmarkRepository,
	tx TxRunner,
	cfg analytics.Config,
) *AnalyticsService {
	return &AnalyticsService{
		holdingSnapshots:   holdingSnapshots,
		portfolioSnapshots: portfolioSnapshots,
		analytics:          analyticsRepo,
		windows:            windows,
		settings:           settings,
		benchmarks:         benchmarks,
		tx:                 tx,
		cfg:                cfg,
	}
}

// userInputs are the per-user pieces every analytics run needs
type userInputs struct {
	cfg     analytics.Config
	windows []models.AnalyticsWindow
	bench   map[time.Time]float64
}

func (s *AnalyticsService) loadInputs(ctx context.Context, userID int64, from, to time.Time) (*userInputs, error) {
	windows, err := s.windows.Windows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load analytics windows: %w", err)
	}
	settings, err := s.settings.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user settings: %w", err)
	}

	in := &userInputs{cfg: s.cfg, windows: windows}
	in.cfg.RiskFreeRate = settings.RiskFreeRate.InexactFloat64()

	if settings.BenchmarkID != nil {
		points, err := s.benchmarks.ListRange(ctx, *settings.BenchmarkID, from, to)
		if err != nil {
			return nil, fmt.Errorf("failed to load benchmark series: %w", err)
		}
		in.bench = make(map[time.Time]float64, len(points))
		for _, p := range points {
			in.bench[types.Day(p.Date)] = p.DailyReturn.InexactFloat64()
		}
	}
	return in, nil
}

func (s *AnalyticsService) holdingRows(ctx context.Context, userID, holdingID int64, series, portfolio analytics.Series, end int, in *userInputs) []*models.HoldingAnalyticsSnapshot {
	rows := make([]*models.HoldingAnalyticsSnapshot, 0, len(in.windows))
	for _, w := range in.windows {
		slice := analytics.Window(series, end, w)
		res := analytics.Compute(slice, in.bench, w.AnnualizationFactor, in.cfg)
		res.Contribution, res.PositionRatio = analytics.Contribution(slice, portfolio, in.cfg.Epsilon)
		logDegenerate(ctx, res, w.Key, series.Dates[end])
		rows = append(rows, &models.HoldingAnalyticsSnapshot{
			UserID:           userID,
			HoldingID:        holdingID,
			Date:             series.Dates[end],
			WindowKey:        w.Key,
			AnalyticsMetrics: res.ToModel(),
		})
	}
	return rows
}

func (s *AnalyticsService) portfolioRows(ctx context.Context, userID int64, series analytics.Series, end int, in *userInputs) []*models.PortfolioAnalyticsSnapshot {
	rows := make([]*models.PortfolioAnalyticsSnapshot, 0, len(in.windows))
	for _, w := range in.windows {
		slice := analytics.Window(series, end, w)
		res := analytics.Compute(slice, in.bench, w.AnnualizationFactor, in.cfg)
		logDegenerate(ctx, res, w.Key, series.Dates[end])
		rows = append(rows, &models.PortfolioAnalyticsSnapshot{
			UserID:           userID,
			Date:             series.Dates[end],
			WindowKey:        w.Key,
			AnalyticsMetrics: res.ToModel(),
		})
	}
	return rows
}

func logDegenerate(ctx context.Context, res analytics.Result, window string, day time.Time) {
	for _, err := range res.Degenerate {
		logging.FromContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"window": window,
			"date":   types.FormatDay(day),
		}).Debug("Metric stored as NULL")
	}
}

// ComputeHoldingDay writes the analytics rows of (user, holding, day). A day
// without a holding snapshot ends up with no rows.
func (s *AnalyticsService) ComputeHoldingDay(ctx context.Context, userID, holdingID int64, day time.Time) (int, error) {
	day = types.Day(day)
	snaps, err := s.holdingSnapshots.ListByHolding(ctx, userID, holdingID, day)
	if err != nil {
		return 0, fmt.Errorf("failed to load holding snapshots: %w", err)
	}

	var rows []*models.HoldingAnalyticsSnapshot
	if n := len(snaps); n > 0 && snaps[n-1].Date.Equal(day) {
		series := analytics.FromHoldingSnapshots(snaps)
		portfolio, err := s.portfolioSnapshots.ListByUser(ctx, userID, day)
		if err != nil {
			return 0, fmt.Errorf("failed to load portfolio snapshots: %w", err)
		}
		in, err := s.loadInputs(ctx, userID, series.Dates[0], day)
		if err != nil {
			return 0, err
		}
		rows = s.holdingRows(ctx, userID, holdingID, series, analytics.FromPortfolioSnapshots(portfolio), n-1, in)
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.analytics.ReplaceHolding(ctx, userID, holdingID, day, rows)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store holding analytics: %w", err)
	}
	return len(rows), nil
}

// ComputePortfolioDay writes the analytics rows of (user, day)
func (s *AnalyticsService) ComputePortfolioDay(ctx context.Context, userID int64, day time.Time) (int, error) {
	day = types.Day(day)
	snaps, err := s.portfolioSnapshots.ListByUser(ctx, userID, day)
	if err != nil {
		return 0, fmt.Errorf("failed to load portfolio snapshots: %w", err)
	}

	var rows []*models.PortfolioAnalyticsSnapshot
	if n := len(snaps); n > 0 && snaps[n-1].Date.Equal(day) {
		series := analytics.FromPortfolioSnapshots(snaps)
		in, err := s.loadInputs(ctx, userID, series.Dates[0], day)
		if err != nil {
			return 0, err
		}
		rows = s.portfolioRows(ctx, userID, series, n-1, in)
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.analytics.ReplacePortfolio(ctx, userID, day, rows)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store portfolio analytics: %w", err)
	}
	return len(rows), nil
}

// RebuildHolding recomputes every analytics row of a (user, holding),
// committing one day at a time. The series is loaded once.
func (s *AnalyticsService) RebuildHolding(ctx context.Context, userID, holdingID int64) (int, error) {
	snaps, err := s.holdingSnapshots.ListByHolding(ctx, userID, holdingID, lastDay)
	if err != nil {
		return 0, fmt.Errorf("failed to load holding snapshots: %w", err)
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.analytics.DeleteHolding(ctx, userID, holdingID)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clear holding analytics: %w", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	series := analytics.FromHoldingSnapshots(snaps)
	portfolioSnaps, err := s.portfolioSnapshots.ListByUser(ctx, userID, lastDay)
	if err != nil {
		return 0, fmt.Errorf("failed to load portfolio snapshots: %w", err)
	}
	portfolio := analytics.FromPortfolioSnapshots(portfolioSnaps)
	in, err := s.loadInputs(ctx, userID, series.Dates[0], series.Dates[series.Len()-1])
	if err != nil {
		return 0, err
	}

	total := 0
	for end := 0; end < series.Len(); end++ {
		rows := s.holdingRows(ctx, userID, holdingID, series, portfolio, end, in)
		day := series.Dates[end]
		err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
			return s.analytics.ReplaceHolding(ctx, userID, holdingID, day, rows)
		})
		if err != nil {
			return total, fmt.Errorf("failed to store holding analytics for %s: %w", types.FormatDay(day), err)
		}
		total += len(rows)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id":    userID,
		"holding_id": holdingID,
		"days":       series.Len(),
		"rows":       total,
	}).Info("Rebuilt holding analytics")
	return total, nil
}

// RebuildPortfolio recomputes every portfolio analytics row of a user
func (s *AnalyticsService) RebuildPortfolio(ctx context.Context, userID int64) (int, error) {
	snaps, err := s.portfolioSnapshots.ListByUser(ctx, userID, lastDay)
	if err != nil {
		return 0, fmt.Errorf("failed to load portfolio snapshots: %w", err)
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.analytics.DeletePortfolio(ctx, userID)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clear portfolio analytics: %w", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	series := analytics.FromPortfolioSnapshots(snaps)
	in, err := s.loadInputs(ctx, userID, series.Dates[0], series.Dates[series.Len()-1])
	if err != nil {
		return 0, err
	}

	total := 0
	for end := 0; end < series.Len(); end++ {
		rows := s.portfolioRows(ctx, userID, series, end, in)
		day := series.Dates[end]
		err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
			return s.analytics.ReplacePortfolio(ctx, userID, day, rows)
		})
		if err != nil {
			return total, fmt.Errorf("failed to store portfolio analytics for %s: %w", types.FormatDay(day), err)
		}
		total += len(rows)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id": userID,
		"days":    series.Len(),
		"rows":    total,
	}).Info("Rebuilt portfolio analytics")
	return total, nil
}
