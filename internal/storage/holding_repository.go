package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/types"
	"github.com/jackc/pgx/v5"
)

// HoldingRepository handles holding and user holding persistence
type HoldingRepository struct {
	db *PostgresDB
}

// NewHoldingRepository creates a new holding repository
func NewHoldingRepository(db *PostgresDB) *HoldingRepository {
	return &HoldingRepository{db: db}
}

// GetByID retrieves a holding by ID
func (r *HoldingRepository) GetByID(ctx context.Context, id int64) (*models.Holding, error) {
	query := `
		SELECT id, code, name, type, currency, inception_date, created_at
		FROM holdings
		WHERE id = $1
	`

	var h models.Holding
	err := r.db.conn(ctx).QueryRow(ctx, query, id).Scan(
		&h.ID, &h.Code, &h.Name, &h.Type, &h.Currency, &h.InceptionDate, &h.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("holding", fmt.Sprint(id))
		}
		return nil, fmt.Errorf("failed to get holding: %w", err)
	}
	return &h, nil
}

// GetOrCreate returns the holding with the given code, creating it on first reference
func (r *HoldingRepository) GetOrCreate(ctx context.Context, holding *models.Holding) (*models.Holding, error) {
	query := `
		INSERT INTO holdings (code, name, type, currency, inception_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
		RETURNING id, code, name, type, currency, inception_date, created_at
	`

	currency := holding.Currency
	if currency == "" {
		currency = "CNY"
	}

	var h models.Holding
	err := r.db.conn(ctx).QueryRow(ctx, query,
		holding.Code, holding.Name, holding.Type, currency, holding.InceptionDate,
	).Scan(&h.ID, &h.Code, &h.Name, &h.Type, &h.Currency, &h.InceptionDate, &h.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create holding %s: %w", holding.Code, err)
	}
	return &h, nil
}

// GetUserHolding retrieves the per-user overlay of a holding
func (r *HoldingRepository) GetUserHolding(ctx context.Context, userID, holdingID int64) (*models.UserHolding, error) {
	query := `
		SELECT user_id, holding_id, status, nickname, updated_at
		FROM user_holdings
		WHERE user_id = $1 AND holding_id = $2
	`

	var uh models.UserHolding
	err := r.db.conn(ctx).QueryRow(ctx, query, userID, holdingID).Scan(
		&uh.UserID, &uh.HoldingID, &uh.Status, &uh.Nickname, &uh.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("user holding", fmt.Sprintf("%d/%d", userID, holdingID))
		}
		return nil, fmt.Errorf("failed to get user holding: %w", err)
	}
	return &uh, nil
}

// EnsureUserHolding creates the user holding row if it does not exist
func (r *HoldingRepository) EnsureUserHolding(ctx context.Context, userID, holdingID int64) error {
	query := `
		INSERT INTO user_holdings (user_id, holding_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, holding_id) DO NOTHING
	`

	if _, err := r.db.conn(ctx).Exec(ctx, query, userID, holdingID, types.HoldingNotHeld); err != nil {
		return fmt.Errorf("failed to ensure user holding: %w", err)
	}
	return nil
}

// UpdateStatus sets the status of a user holding
func (r *HoldingRepository) UpdateStatus(ctx context.Context, userID, holdingID int64, status types.HoldingStatus) error {
	query := `
		INSERT INTO user_holdings (user_id, holding_id, status, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, holding_id)
		DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`

	if _, err := r.db.conn(ctx).Exec(ctx, query, userID, holdingID, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to update user holding status: %w", err)
	}
	return nil
}

// ListUserHoldings returns all holdings a user has traded
func (r *HoldingRepository) ListUserHoldings(ctx context.Context, userID int64) ([]*models.UserHolding, error) {
	query := `
		SELECT user_id, holding_id, status, nickname, updated_at
		FROM user_holdings
		WHERE user_id = $1
		ORDER BY holding_id
	`

	rows, err := r.db.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user holdings: %w", err)
	}
	defer rows.Close()

	var out []*models.UserHolding
	for rows.Next() {
		var uh models.UserHolding
		if err := rows.Scan(&uh.UserID, &uh.HoldingID, &uh.Status, &uh.Nickname, &uh.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user holding: %w", err)
		}
		out = append(out, &uh)
	}
	return out, rows.Err()
}

// ListActive returns the (user, holding) pairs that need a snapshot on day:
// open positions plus anything traded on that day.
func (r *HoldingRepository) ListActive(ctx context.Context, day time.Time) ([]*models.UserHolding, error) {
	query := `
		SELECT user_id, holding_id FROM user_holdings WHERE status = $1
		UNION
		SELECT DISTINCT user_id, holding_id FROM trades WHERE trade_date = $2
		ORDER BY 1, 2
	`

	rows, err := r.db.conn(ctx).Query(ctx, query, types.HoldingHolding, day)
	if err != nil {
		return nil, fmt.Errorf("failed to list active holdings: %w", err)
	}
	defer rows.Close()

	var out []*models.UserHolding
	for rows.Next() {
		var uh models.UserHolding
		if err := rows.Scan(&uh.UserID, &uh.HoldingID); err != nil {
			return nil, fmt.Errorf("failed to scan active holding: %w", err)
		}
		out = append(out, &uh)
	}
	return out, rows.Err()
}
