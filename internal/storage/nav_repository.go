package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fund-analytics/internal/models"
	"github.com/jackc/pgx/v5"
)

// NavRepository handles NAV series persistence
type NavRepository struct {
	db *PostgresDB
}

// NewNavRepository creates a new NAV repository
func NewNavRepository(db *PostgresDB) *NavRepository {
	return &NavRepository{db: db}
}

// Upsert writes NAV points, replacing existing rows for the same (holding, date)
func (r *NavRepository) Upsert(ctx context.Context, points []*models.NavPoint) error {
	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`
			INSERT INTO nav_points (holding_id, nav_date, nav_per_unit, accumulated_nav, daily_return, dividend_per_share)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (holding_id, nav_date) DO UPDATE SET
				nav_per_unit = EXCLUDED.nav_per_unit,
				accumulated_nav = EXCLUDED.accumulated_nav,
				daily_return = EXCLUDED.daily_return,
				dividend_per_share = EXCLUDED.dividend_per_share
		`, p.HoldingID, p.Date, p.NavPerUnit, p.AccumulatedNav, p.DailyReturn, p.DividendPerShare)
	}
	if err := sendBatch(ctx, r.db.conn(ctx), batch); err != nil {
		return fmt.Errorf("failed to upsert nav points: %w", err)
	}
	return nil
}

// Get returns the NAV of a holding on a day, or nil when absent
func (r *NavRepository) Get(ctx context.Context, holdingID int64, day time.Time) (*models.NavPoint, error) {
	query := `
		SELECT holding_id, nav_date, nav_per_unit, accumulated_nav, daily_return, dividend_per_share
		FROM nav_points
		WHERE holding_id = $1 AND nav_date = $2
	`

	var p models.NavPoint
	err := r.db.conn(ctx).QueryRow(ctx, query, holdingID, day).Scan(
		&p.HoldingID, &p.Date, &p.NavPerUnit, &p.AccumulatedNav, &p.DailyReturn, &p.DividendPerShare,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get nav: %w", err)
	}
	return &p, nil
}

// ListRange returns NAV points of a holding within [from, to] ordered by date
func (r *NavRepository) ListRange(ctx context.Context, holdingID int64, from, to time.Time) ([]*models.NavPoint, error) {
	query := `
		SELECT holding_id, nav_date, nav_per_unit, accumulated_nav, daily_return, dividend_per_share
		FROM nav_points
		WHERE holding_id = $1 AND nav_date BETWEEN $2 AND $3
		ORDER BY nav_date
	`

	rows, err := r.db.conn(ctx).Query(ctx, query, holdingID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list nav points: %w", err)
	}
	defer rows.Close()

	var out []*models.NavPoint
	for rows.Next() {
		var p models.NavPoint
		if err := rows.Scan(&p.HoldingID, &p.Date, &p.NavPerUnit, &p.AccumulatedNav, &p.DailyReturn, &p.DividendPerShare); err != nil {
			return nil, fmt.Errorf("failed to scan nav point: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
