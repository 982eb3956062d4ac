package service

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/logging"
	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/types"
	"github.com/shopspring/decimal"
)

// TradeService records, edits and deletes trades and keeps the derived
// snapshots of the affected holding in step
type TradeService struct {
	trades     TradeRepository
	holdings   HoldingRepository
	normalizer *CycleNormalizer
	builder    *HoldingSnapshotBuilder
	enqueuer   Enqueuer
	tx         TxRunner
}

// NewTradeService creates a new trade service
func NewTradeService(
	trades TradeRepository,
	holdings HoldingRepository,
	normalizer *CycleNormalizer,
	builder *HoldingSnapshotBuilder,
	enqueuer Enqueuer,
	tx TxRunner,
) *TradeService {
	return &TradeService{
		trades:     trades,
		holdings:   holdings,
		normalizer: normalizer,
		builder:    builder,
		enqueuer:   enqueuer,
		tx:         tx,
	}
}

// TradeUpdate carries the editable fields of a trade. Nil fields are kept.
type TradeUpdate struct {
	Date       *time.Time
	NavPerUnit *decimal.Decimal
	Shares     *decimal.Decimal
	Amount     *decimal.Decimal
	Fee        *decimal.Decimal
	CashAmount *decimal.Decimal
}

// ValidateTrade checks a trade and fills derived amounts
func ValidateTrade(t *models.Trade) error {
	if t.UserID <= 0 {
		return apperrors.NewValidationError("user_id", "must be positive")
	}
	if !t.Type.Valid() {
		return apperrors.NewValidationError("type", fmt.Sprintf("unknown trade type %q", t.Type))
	}
	if t.Date.IsZero() {
		return apperrors.NewValidationError("date", "is required")
	}
	t.Date = types.Day(t.Date)
	if t.Fee.IsNegative() {
		return apperrors.NewValidationError("fee", "cannot be negative")
	}
	if t.NavPerUnit.IsNegative() {
		return apperrors.NewValidationError("nav_per_unit", "cannot be negative")
	}

	switch t.Type {
	case types.TradeBuy, types.TradeSell:
		if t.DividendKind != types.DividendNone {
			return apperrors.NewValidationError("dividend_kind", "only allowed on dividends")
		}
		if !t.Shares.IsPositive() {
			return apperrors.NewValidationError("shares", "must be positive")
		}
		if t.Amount.IsZero() {
			t.Amount = types.Money(t.Shares.Mul(t.NavPerUnit))
		}
		if !t.Amount.IsPositive() {
			return apperrors.NewValidationError("amount", "must be positive")
		}
		if t.CashAmount.IsZero() {
			if t.Type == types.TradeBuy {
				t.CashAmount = t.Amount.Add(t.Fee)
			} else {
				t.CashAmount = t.Amount.Sub(t.Fee)
			}
		}
		if t.CashAmount.IsNegative() {
			return apperrors.NewValidationError("cash_amount", "cannot be negative")
		}

	case types.TradeDividend:
		if !t.DividendKind.Valid() {
			return apperrors.NewValidationError("dividend_kind", fmt.Sprintf("unknown dividend kind %q", t.DividendKind))
		}
		if !t.Amount.IsPositive() {
			return apperrors.NewValidationError("amount", "must be positive")
		}
		if t.DividendKind == types.DividendReinvest && !t.Shares.IsPositive() {
			return apperrors.NewValidationError("shares", "reinvested dividend must add shares")
		}
		if t.DividendKind == types.DividendCash && !t.Shares.IsZero() {
			return apperrors.NewValidationError("shares", "cash dividend cannot carry shares")
		}
		t.CashAmount = t.Amount
	}
	return nil
}

// Record stores a new trade. The holding and the user holding are created on
// first reference. An oversell rejects the trade.
func (s *TradeService) Record(ctx context.Context, holding *models.Holding, t *models.Trade) (*models.Trade, error) {
	if holding == nil || (holding.ID == 0 && holding.Code == "") {
		return nil, apperrors.NewValidationError("holding", "id or code is required")
	}
	if err := ValidateTrade(t); err != nil {
		return nil, err
	}

	h := holding
	if holding.ID == 0 {
		var err error
		if h, err = s.holdings.GetOrCreate(ctx, holding); err != nil {
			return nil, fmt.Errorf("failed to resolve holding: %w", err)
		}
	} else if _, err := s.holdings.GetByID(ctx, holding.ID); err != nil {
		return nil, err
	}
	t.HoldingID = h.ID

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.holdings.EnsureUserHolding(ctx, t.UserID, t.HoldingID); err != nil {
			return err
		}
		if err := s.trades.Create(ctx, t); err != nil {
			return err
		}
		_, err := s.normalizer.Normalize(ctx, t.UserID, t.HoldingID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recompute(ctx, t.UserID, t.HoldingID)
	return t, nil
}

// Edit changes an existing trade of the user
func (s *TradeService) Edit(ctx context.Context, userID, tradeID int64, update TradeUpdate) (*models.Trade, error) {
	t, err := s.trades.GetByID(ctx, userID, tradeID)
	if err != nil {
		return nil, err
	}

	if update.Date != nil {
		t.Date = *update.Date
	}
	if update.NavPerUnit != nil {
		t.NavPerUnit = *update.NavPerUnit
	}
	if update.Shares != nil {
		t.Shares = *update.Shares
	}
	if update.Amount != nil {
		t.Amount = *update.Amount
	}
	if update.Fee != nil {
		t.Fee = *update.Fee
	}
	// derived amounts follow the edit unless given explicitly
	t.CashAmount = decimal.Zero
	if update.CashAmount != nil {
		t.CashAmount = *update.CashAmount
	}
	if err := ValidateTrade(t); err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.trades.Update(ctx, t); err != nil {
			return err
		}
		_, err := s.normalizer.Normalize(ctx, t.UserID, t.HoldingID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recompute(ctx, t.UserID, t.HoldingID)
	return t, nil
}

// Delete removes a trade of the user. Deleting a trade that later sells
// depend on is rejected as an oversell.
func (s *TradeService) Delete(ctx context.Context, userID, tradeID int64) error {
	t, err := s.trades.GetByID(ctx, userID, tradeID)
	if err != nil {
		return err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.trades.Delete(ctx, userID, tradeID); err != nil {
			return err
		}
		_, err := s.normalizer.Normalize(ctx, userID, t.HoldingID)
		return err
	})
	if err != nil {
		return err
	}

	s.recompute(ctx, userID, t.HoldingID)
	return nil
}

// recompute rebuilds the holding snapshots now and schedules the rest. A
// failed rebuild is handed to the task layer instead.
func (s *TradeService) recompute(ctx context.Context, userID, holdingID int64) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id":    userID,
		"holding_id": holdingID,
	})

	if _, err := s.builder.Rebuild(ctx, userID, holdingID); err != nil {
		logger.WithError(err).Warn("Inline rebuild failed, deferring to task layer")
		if err := s.enqueuer.EnqueueHoldingRebuild(ctx, userID, holdingID, "trade change"); err != nil {
			logger.WithError(err).Error("Failed to enqueue holding rebuild")
		}
		return
	}
	if err := s.enqueuer.EnqueueDownstream(ctx, userID, holdingID); err != nil {
		logger.WithError(err).Error("Failed to enqueue downstream recompute")
	}
}
