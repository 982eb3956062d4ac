package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/fund-analytics/internal/models"
	"github.com/jackc/pgx/v5"
)

const metricColumns = `twrr_cum, twrr_ann, irr_cum, irr_ann, period_pnl, period_pnl_ratio,
	volatility, downside_risk, sharpe, sortino, calmar, win_rate, max_dd, max_dd_start,
	max_dd_end, max_dd_recovery, max_dd_days, best_day, worst_day, benchmark_cum_return,
	alpha, beta, tracking_error, information_ratio, position_ratio, contribution`

// AnalyticsRepository handles analytics snapshot storage operations
type AnalyticsRepository struct {
	db *PostgresDB
}

// NewAnalyticsRepository creates a new analytics repository
func NewAnalyticsRepository(db *PostgresDB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

func metricArgs(m *models.AnalyticsMetrics) []any {
	return []any{
		m.TwrrCum, m.TwrrAnn, m.IrrCum, m.IrrAnn, m.PeriodPnL, m.PeriodPnLRatio,
		m.Volatility, m.DownsideRisk, m.Sharpe, m.Sortino, m.Calmar, m.WinRate, m.MaxDD, m.MaxDDStart,
		m.MaxDDEnd, m.MaxDDRecovery, m.MaxDDDays, m.BestDay, m.WorstDay, m.BenchmarkCumReturn,
		m.Alpha, m.Beta, m.TrackingError, m.InformationRatio, m.PositionRatio, m.Contribution,
	}
}

func metricDest(m *models.AnalyticsMetrics) []any {
	return []any{
		&m.TwrrCum, &m.TwrrAnn, &m.IrrCum, &m.IrrAnn, &m.PeriodPnL, &m.PeriodPnLRatio,
		&m.Volatility, &m.DownsideRisk, &m.Sharpe, &m.Sortino, &m.Calmar, &m.WinRate, &m.MaxDD, &m.MaxDDStart,
		&m.MaxDDEnd, &m.MaxDDRecovery, &m.MaxDDDays, &m.BestDay, &m.WorstDay, &m.BenchmarkCumReturn,
		&m.Alpha, &m.Beta, &m.TrackingError, &m.InformationRatio, &m.PositionRatio, &m.Contribution,
	}
}

// placeholders returns "$from, ..., $to"
func placeholders(from, to int) string {
	s := ""
	for i := from; i <= to; i++ {
		if i > from {
			s += ", "
		}
		s += fmt.Sprintf("$%d", i)
	}
	return s
}

var (
	insertHoldingAnalytics = `INSERT INTO holding_analytics_snapshots (user_id, holding_id, snapshot_date, window_key, ` +
		metricColumns + `) VALUES (` + placeholders(1, 30) + `)`
	insertPortfolioAnalytics = `INSERT INTO portfolio_analytics_snapshots (user_id, snapshot_date, window_key, ` +
		metricColumns + `) VALUES (` + placeholders(1, 29) + `)`
)

// Windows returns the configured analytics windows
func (r *AnalyticsRepository) Windows(ctx context.Context) ([]models.AnalyticsWindow, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT key, kind, COALESCE(days, 0), annualization_factor
		FROM analytics_windows
		ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list analytics windows: %w", err)
	}
	defer rows.Close()

	var out []models.AnalyticsWindow
	for rows.Next() {
		var w models.AnalyticsWindow
		if err := rows.Scan(&w.Key, &w.Kind, &w.Days, &w.AnnualizationFactor); err != nil {
			return nil, fmt.Errorf("failed to scan analytics window: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ReplaceHolding deletes the rows of (user, holding, day) for the given windows and inserts rows
func (r *AnalyticsRepository) ReplaceHolding(ctx context.Context, userID, holdingID int64, day time.Time, rows []*models.HoldingAnalyticsSnapshot) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM holding_analytics_snapshots WHERE user_id = $1 AND holding_id = $2 AND snapshot_date = $3`,
		userID, holdingID, day)
	for _, row := range rows {
		args := append([]any{row.UserID, row.HoldingID, row.Date, row.WindowKey}, metricArgs(&row.AnalyticsMetrics)...)
		batch.Queue(insertHoldingAnalytics, args...)
	}
	if err := sendBatch(ctx, r.db.conn(ctx), batch); err != nil {
		return fmt.Errorf("failed to replace holding analytics: %w", err)
	}
	return nil
}

// ReplacePortfolio deletes the rows of (user, day) and inserts rows
func (r *AnalyticsRepository) ReplacePortfolio(ctx context.Context, userID int64, day time.Time, rows []*models.PortfolioAnalyticsSnapshot) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM portfolio_analytics_snapshots WHERE user_id = $1 AND snapshot_date = $2`, userID, day)
	for _, row := range rows {
		args := append([]any{row.UserID, row.Date, row.WindowKey}, metricArgs(&row.AnalyticsMetrics)...)
		batch.Queue(insertPortfolioAnalytics, args...)
	}
	if err := sendBatch(ctx, r.db.conn(ctx), batch); err != nil {
		return fmt.Errorf("failed to replace portfolio analytics: %w", err)
	}
	return nil
}

// DeleteHolding removes all analytics rows of a (user, holding)
func (r *AnalyticsRepository) DeleteHolding(ctx context.Context, userID, holdingID int64) error {
	_, err := r.db.conn(ctx).Exec(ctx,
		`DELETE FROM holding_analytics_snapshots WHERE user_id = $1 AND holding_id = $2`, userID, holdingID)
	if err != nil {
		return fmt.Errorf("failed to delete holding analytics: %w", err)
	}
	return nil
}

// DeletePortfolio removes all portfolio analytics rows of a user
func (r *AnalyticsRepository) DeletePortfolio(ctx context.Context, userID int64) error {
	if _, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM portfolio_analytics_snapshots WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete portfolio analytics: %w", err)
	}
	return nil
}

// ListHolding returns the analytics rows of a (user, holding) on day
func (r *AnalyticsRepository) ListHolding(ctx context.Context, userID, holdingID int64, day time.Time) ([]*models.HoldingAnalyticsSnapshot, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT user_id, holding_id, snapshot_date, window_key, `+metricColumns+`
		FROM holding_analytics_snapshots
		WHERE user_id = $1 AND holding_id = $2 AND snapshot_date = $3
		ORDER BY window_key
	`, userID, holdingID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to list holding analytics: %w", err)
	}
	defer rows.Close()

	var out []*models.HoldingAnalyticsSnapshot
	for rows.Next() {
		var a models.HoldingAnalyticsSnapshot
		dest := append([]any{&a.UserID, &a.HoldingID, &a.Date, &a.WindowKey}, metricDest(&a.AnalyticsMetrics)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan holding analytics: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// ListPortfolio returns the portfolio analytics rows of a user on day
func (r *AnalyticsRepository) ListPortfolio(ctx context.Context, userID int64, day time.Time) ([]*models.PortfolioAnalyticsSnapshot, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT user_id, snapshot_date, window_key, `+metricColumns+`
		FROM portfolio_analytics_snapshots
		WHERE user_id = $1 AND snapshot_date = $2
		ORDER BY window_key
	`, userID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolio analytics: %w", err)
	}
	defer rows.Close()

	var out []*models.PortfolioAnalyticsSnapshot
	for rows.Next() {
		var a models.PortfolioAnalyticsSnapshot
		dest := append([]any{&a.UserID, &a.Date, &a.WindowKey}, metricDest(&a.AnalyticsMetrics)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio analytics: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
