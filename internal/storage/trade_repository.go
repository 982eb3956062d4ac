package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/models"
	"github.com/jackc/pgx/v5"
)

// TradeRepository handles trade persistence
type TradeRepository struct {
	db *PostgresDB
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(db *PostgresDB) *TradeRepository {
	return &TradeRepository{db: db}
}

const tradeColumns = `id, user_id, holding_id, type, dividend_kind, trade_date, nav_per_unit,
	shares, amount, fee, cash_amount, cycle, cleared, created_at`

func scanTrade(row pgx.Row) (*models.Trade, error) {
	var t models.Trade
	err := row.Scan(
		&t.ID, &t.UserID, &t.HoldingID, &t.Type, &t.DividendKind, &t.Date, &t.NavPerUnit,
		&t.Shares, &t.Amount, &t.Fee, &t.CashAmount, &t.Cycle, &t.Cleared, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a trade and fills in its ID
func (r *TradeRepository) Create(ctx context.Context, t *models.Trade) error {
	query := `
		INSERT INTO trades (user_id, holding_id, type, dividend_kind, trade_date, nav_per_unit,
			shares, amount, fee, cash_amount, cycle, cleared)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`

	err := r.db.conn(ctx).QueryRow(ctx, query,
		t.UserID, t.HoldingID, t.Type, t.DividendKind, t.Date, t.NavPerUnit,
		t.Shares, t.Amount, t.Fee, t.CashAmount, t.Cycle, t.Cleared,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// Update rewrites the editable fields of a trade owned by the user
func (r *TradeRepository) Update(ctx context.Context, t *models.Trade) error {
	query := `
		UPDATE trades
		SET type = $3, dividend_kind = $4, trade_date = $5, nav_per_unit = $6,
			shares = $7, amount = $8, fee = $9, cash_amount = $10
		WHERE id = $1 AND user_id = $2
	`

	result, err := r.db.conn(ctx).Exec(ctx, query,
		t.ID, t.UserID, t.Type, t.DividendKind, t.Date, t.NavPerUnit,
		t.Shares, t.Amount, t.Fee, t.CashAmount,
	)
	if err != nil {
		return fmt.Errorf("failed to update trade: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("trade", fmt.Sprint(t.ID))
	}
	return nil
}

// Delete removes a trade owned by the user
func (r *TradeRepository) Delete(ctx context.Context, userID, tradeID int64) error {
	result, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM trades WHERE id = $1 AND user_id = $2`, tradeID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete trade: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("trade", fmt.Sprint(tradeID))
	}
	return nil
}

// GetByID retrieves a trade owned by the user
func (r *TradeRepository) GetByID(ctx context.Context, userID, tradeID int64) (*models.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = $1 AND user_id = $2`

	t, err := scanTrade(r.db.conn(ctx).QueryRow(ctx, query, tradeID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("trade", fmt.Sprint(tradeID))
		}
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return t, nil
}

// ListByHolding returns all trades of a (user, holding) ordered by (date, id)
func (r *TradeRepository) ListByHolding(ctx context.Context, userID, holdingID int64) ([]*models.Trade, error) {
	query := `SELECT ` + tradeColumns + `
		FROM trades
		WHERE user_id = $1 AND holding_id = $2
		ORDER BY trade_date, id
	`
	return r.list(ctx, query, userID, holdingID)
}

// ListByHoldingInRange returns trades of a (user, holding) dated within (after, upTo]
func (r *TradeRepository) ListByHoldingInRange(ctx context.Context, userID, holdingID int64, after, upTo time.Time) ([]*models.Trade, error) {
	query := `SELECT ` + tradeColumns + `
		FROM trades
		WHERE user_id = $1 AND holding_id = $2 AND trade_date > $3 AND trade_date <= $4
		ORDER BY trade_date, id
	`
	return r.list(ctx, query, userID, holdingID, after, upTo)
}

func (r *TradeRepository) list(ctx context.Context, query string, args ...any) ([]*models.Trade, error) {
	rows, err := r.db.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// UpdateCycles persists cycle and cleared flags for a set of trades
func (r *TradeRepository) UpdateCycles(ctx context.Context, trades []*models.Trade) error {
	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(
			`UPDATE trades SET cycle = $3, cleared = $4 WHERE id = $1 AND user_id = $2`,
			t.ID, t.UserID, t.Cycle, t.Cleared,
		)
	}
	if err := sendBatch(ctx, r.db.conn(ctx), batch); err != nil {
		return fmt.Errorf("failed to update trade cycles: %w", err)
	}
	return nil
}
