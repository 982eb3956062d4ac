package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fund-analytics/internal/models"
	"github.com/jackc/pgx/v5"
)

const holdingSnapshotColumns = `user_id, holding_id, snapshot_date, cycle, cleared, shares, cost, avg_cost,
	nav, market_value, daily_buy, daily_sell, total_buy, total_sell, daily_cash_div,
	daily_reinvest_div, total_cash_div, total_dividend, net_external_flow, realized_pnl,
	unrealized_pnl, daily_pnl, daily_return, total_pnl, total_return`

const portfolioSnapshotColumns = `user_id, snapshot_date, market_value, cost, unrealized_pnl,
	net_external_flow, daily_buy, daily_sell, daily_cash_div, daily_reinvest_div, daily_pnl,
	daily_return, total_buy, total_sell, total_realized_pnl, total_cash_div, total_dividend,
	total_pnl, total_return`

// HoldingSnapshotRepository handles holding snapshot storage operations
type HoldingSnapshotRepository struct {
	db *PostgresDB
}

// NewHoldingSnapshotRepository creates a new holding snapshot repository
func NewHoldingSnapshotRepository(db *PostgresDB) *HoldingSnapshotRepository {
	return &HoldingSnapshotRepository{db: db}
}

func holdingSnapshotArgs(s *models.HoldingSnapshot) []any {
	return []any{
		s.UserID, s.HoldingID, s.Date, s.Cycle, s.Cleared, s.Shares, s.Cost, s.AvgCost,
		s.Nav, s.MarketValue, s.DailyBuy, s.DailySell, s.TotalBuy, s.TotalSell, s.DailyCashDiv,
		s.DailyReinvestDiv, s.TotalCashDiv, s.TotalDividend, s.NetExternalFlow, s.RealizedPnL,
		s.UnrealizedPnL, s.DailyPnL, s.DailyReturn, s.TotalPnL, s.TotalReturn,
	}
}

func scanHoldingSnapshot(row pgx.Row) (*models.HoldingSnapshot, error) {
	var s models.HoldingSnapshot
	err := row.Scan(
		&s.UserID, &s.HoldingID, &s.Date, &s.Cycle, &s.Cleared, &s.Shares, &s.Cost, &s.AvgCost,
		&s.Nav, &s.MarketValue, &s.DailyBuy, &s.DailySell, &s.TotalBuy, &s.TotalSell, &s.DailyCashDiv,
		&s.DailyReinvestDiv, &s.TotalCashDiv, &s.TotalDividend, &s.NetExternalFlow, &s.RealizedPnL,
		&s.UnrealizedPnL, &s.DailyPnL, &s.DailyReturn, &s.TotalPnL, &s.TotalReturn,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

const insertHoldingSnapshot = `INSERT INTO holding_snapshots (` + holdingSnapshotColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
		$19, $20, $21, $22, $23, $24, $25)`

// DeleteByHolding removes all snapshots of a (user, holding)
func (r *HoldingSnapshotRepository) DeleteByHolding(ctx context.Context, userID, holdingID int64) error {
	_, err := r.db.conn(ctx).Exec(ctx,
		`DELETE FROM holding_snapshots WHERE user_id = $1 AND holding_id = $2`, userID, holdingID)
	if err != nil {
		return fmt.Errorf("failed to delete holding snapshots: %w", err)
	}
	return nil
}

// Insert writes snapshots in one batch
func (r *HoldingSnapshotRepository) Insert(ctx context.Context, snapshots []*models.HoldingSnapshot) error {
	batch := &pgx.Batch{}
	for _, s := range snapshots {
		batch.Queue(insertHoldingSnapshot, holdingSnapshotArgs(s)...)
	}
	if err := sendBatch(ctx, r.db.conn(ctx), batch); err != nil {
		return fmt.Errorf("failed to insert holding snapshots: %w", err)
	}
	return nil
}

// Replace deletes the row with the snapshot's key and inserts the snapshot
func (r *HoldingSnapshotRepository) Replace(ctx context.Context, s *models.HoldingSnapshot) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM holding_snapshots WHERE user_id = $1 AND holding_id = $2 AND snapshot_date = $3`,
		s.UserID, s.HoldingID, s.Date)
	batch.Queue(insertHoldingSnapshot, holdingSnapshotArgs(s)...)
	if err := sendBatch(ctx, r.db.conn(ctx), batch); err != nil {
		return fmt.Errorf("failed to replace holding snapshot: %w", err)
	}
	return nil
}

// LatestBefore returns the latest snapshot of a (user, holding) dated before day, or nil
func (r *HoldingSnapshotRepository) LatestBefore(ctx context.Context, userID, holdingID int64, day time.Time) (*models.HoldingSnapshot, error) {
	query := `SELECT ` + holdingSnapshotColumns + `
		FROM holding_snapshots
		WHERE user_id = $1 AND holding_id = $2 AND snapshot_date < $3
		ORDER BY snapshot_date DESC
		LIMIT 1
	`

	s, err := scanHoldingSnapshot(r.db.conn(ctx).QueryRow(ctx, query, userID, holdingID, day))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest holding snapshot: %w", err)
	}
	return s, nil
}

// ListByHolding returns the snapshots of a (user, holding) up to and including upTo
func (r *HoldingSnapshotRepository) ListByHolding(ctx context.Context, userID, holdingID int64, upTo time.Time) ([]*models.HoldingSnapshot, error) {
	query := `SELECT ` + holdingSnapshotColumns + `
		FROM holding_snapshots
		WHERE user_id = $1 AND holding_id = $2 AND snapshot_date <= $3
		ORDER BY snapshot_date
	`
	return r.list(ctx, query, userID, holdingID, upTo)
}

// ListByUserOnDay returns all holding snapshots of a user on day
func (r *HoldingSnapshotRepository) ListByUserOnDay(ctx context.Context, userID int64, day time.Time) ([]*models.HoldingSnapshot, error) {
	query := `SELECT ` + holdingSnapshotColumns + `
		FROM holding_snapshots
		WHERE user_id = $1 AND snapshot_date = $2
		ORDER BY holding_id
	`
	return r.list(ctx, query, userID, day)
}

// ListByUser returns all holding snapshots of a user ordered by (date, holding)
func (r *HoldingSnapshotRepository) ListByUser(ctx context.Context, userID int64) ([]*models.HoldingSnapshot, error) {
	query := `SELECT ` + holdingSnapshotColumns + `
		FROM holding_snapshots
		WHERE user_id = $1
		ORDER BY snapshot_date, holding_id
	`
	return r.list(ctx, query, userID)
}

func (r *HoldingSnapshotRepository) list(ctx context.Context, query string, args ...any) ([]*models.HoldingSnapshot, error) {
	rows, err := r.db.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query holding snapshots: %w", err)
	}
	defer rows.Close()

	var out []*models.HoldingSnapshot
	for rows.Next() {
		s, err := scanHoldingSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PortfolioSnapshotRepository handles portfolio snapshot storage operations
type PortfolioSnapshotRepository struct {
	db *PostgresDB
}

// NewPortfolioSnapshotRepository creates a new portfolio snapshot repository
func NewPortfolioSnapshotRepository(db *PostgresDB) *PortfolioSnapshotRepository {
	return &PortfolioSnapshotRepository{db: db}
}

func scanPortfolioSnapshot(row pgx.Row) (*models.PortfolioSnapshot, error) {
	var s models.PortfolioSnapshot
	err := row.Scan(
		&s.UserID, &s.Date, &s.MarketValue, &s.Cost, &s.UnrealizedPnL,
		&s.NetExternalFlow, &s.DailyBuy, &s.DailySell, &s.DailyCashDiv, &s.DailyReinvestDiv, &s.DailyPnL,
		&s.DailyReturn, &s.TotalBuy, &s.TotalSell, &s.TotalRealizedPnL, &s.TotalCashDiv, &s.TotalDividend,
		&s.TotalPnL, &s.TotalReturn,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteByUser removes all portfolio snapshots of a user
func (r *PortfolioSnapshotRepository) DeleteByUser(ctx context.Context, userID int64) error {
	if _, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM portfolio_snapshots WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete portfolio snapshots: %w", err)
	}
	return nil
}

// DeleteOn removes the portfolio snapshot of a user on day
func (r *PortfolioSnapshotRepository) DeleteOn(ctx context.Context, userID int64, day time.Time) error {
	_, err := r.db.conn(ctx).Exec(ctx,
		`DELETE FROM portfolio_snapshots WHERE user_id = $1 AND snapshot_date = $2`, userID, day)
	if err != nil {
		return fmt.Errorf("failed to delete portfolio snapshot: %w", err)
	}
	return nil
}

// Replace deletes the row with the snapshot's key and inserts the snapshot
func (r *PortfolioSnapshotRepository) Replace(ctx context.Context, s *models.PortfolioSnapshot) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM portfolio_snapshots WHERE user_id = $1 AND snapshot_date = $2`, s.UserID, s.Date)
	batch.Queue(`INSERT INTO portfolio_snapshots (`+portfolioSnapshotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		s.UserID, s.Date, s.MarketValue, s.Cost, s.UnrealizedPnL,
		s.NetExternalFlow, s.DailyBuy, s.DailySell, s.DailyCashDiv, s.DailyReinvestDiv, s.DailyPnL,
		s.DailyReturn, s.TotalBuy, s.TotalSell, s.TotalRealizedPnL, s.TotalCashDiv, s.TotalDividend,
		s.TotalPnL, s.TotalReturn,
	)
	if err := sendBatch(ctx, r.db.conn(ctx), batch); err != nil {
		return fmt.Errorf("failed to replace portfolio snapshot: %w", err)
	}
	return nil
}

// LatestBefore returns the latest portfolio snapshot dated before day, or nil
func (r *PortfolioSnapshotRepository) LatestBefore(ctx context.Context, userID int64, day time.Time) (*models.PortfolioSnapshot, error) {
	query := `SELECT ` + portfolioSnapshotColumns + `
		FROM portfolio_snapshots
		WHERE user_id = $1 AND snapshot_date < $2
		ORDER BY snapshot_date DESC
		LIMIT 1
	`

	s, err := scanPortfolioSnapshot(r.db.conn(ctx).QueryRow(ctx, query, userID, day))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest portfolio snapshot: %w", err)
	}
	return s, nil
}

// ListByUser returns the portfolio snapshots of a user up to and including upTo
func (r *PortfolioSnapshotRepository) ListByUser(ctx context.Context, userID int64, upTo time.Time) ([]*models.PortfolioSnapshot, error) {
	query := `SELECT ` + portfolioSnapshotColumns + `
		FROM portfolio_snapshots
		WHERE user_id = $1 AND snapshot_date <= $2
		ORDER BY snapshot_date
	`

	rows, err := r.db.conn(ctx).Query(ctx, query, userID, upTo)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio snapshots: %w", err)
	}
	defer rows.Close()

	var out []*models.PortfolioSnapshot
	for rows.Next() {
		s, err := scanPortfolioSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan portfolio snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
