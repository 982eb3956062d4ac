package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fund-analytics/internal/models"
	"github.com/jackc/pgx/v5"
)

// BenchmarkRepository handles benchmark series persistence
type BenchmarkRepository struct {
	db *PostgresDB
}

// NewBenchmarkRepository creates a new benchmark repository
func NewBenchmarkRepository(db *PostgresDB) *BenchmarkRepository {
	return &BenchmarkRepository{db: db}
}

// Upsert writes benchmark points
func (r *BenchmarkRepository) Upsert(ctx context.Context, points []*models.BenchmarkPoint) error {
	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`
			INSERT INTO benchmark_points (benchmark_id, point_date, close, daily_return)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (benchmark_id, point_date) DO UPDATE SET
				close = EXCLUDED.close,
				daily_return = EXCLUDED.daily_return
		`, p.BenchmarkID, p.Date, p.Close, p.DailyReturn)
	}
	if err := sendBatch(ctx, r.db.conn(ctx), batch); err != nil {
		return fmt.Errorf("failed to upsert benchmark points: %w", err)
	}
	return nil
}

// LastBefore returns the latest benchmark point strictly before day, or nil
func (r *BenchmarkRepository) LastBefore(ctx context.Context, benchmarkID int64, day time.Time) (*models.BenchmarkPoint, error) {
	query := `
		SELECT benchmark_id, point_date, close, daily_return
		FROM benchmark_points
		WHERE benchmark_id = $1 AND point_date < $2
		ORDER BY point_date DESC
		LIMIT 1
	`

	var p models.BenchmarkPoint
	err := r.db.conn(ctx).QueryRow(ctx, query, benchmarkID, day).Scan(&p.BenchmarkID, &p.Date, &p.Close, &p.DailyReturn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get benchmark point: %w", err)
	}
	return &p, nil
}

// ListRange returns benchmark points within [from, to] ordered by date
func (r *BenchmarkRepository) ListRange(ctx context.Context, benchmarkID int64, from, to time.Time) ([]*models.BenchmarkPoint, error) {
	query := `
		SELECT benchmark_id, point_date, close, daily_return
		FROM benchmark_points
		WHERE benchmark_id = $1 AND point_date BETWEEN $2 AND $3
		ORDER BY point_date
	`

	rows, err := r.db.conn(ctx).Query(ctx, query, benchmarkID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list benchmark points: %w", err)
	}
	defer rows.Close()

	var out []*models.BenchmarkPoint
	for rows.Next() {
		var p models.BenchmarkPoint
		if err := rows.Scan(&p.BenchmarkID, &p.Date, &p.Close, &p.DailyReturn); err != nil {
			return nil, fmt.Errorf("failed to scan benchmark point: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
