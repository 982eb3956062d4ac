package service

import (
	"context"
	"fmt"

	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/logging"
	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/types"
	"github.com/shopspring/decimal"
)

// NormalizeResult reports the outcome of a cycle normalization
type NormalizeResult struct {
	Status    types.HoldingStatus `json:"status"`
	LastCycle int                 `json:"lastCycle"`
}

// CycleNormalizer assigns cycles and cleared flags to the trades of a holding
type CycleNormalizer struct {
	trades   TradeRepository
	holdings HoldingRepository
	tx       TxRunner
}

// NewCycleNormalizer creates a new cycle normalizer
func NewCycleNormalizer(trades TradeRepository, holdings HoldingRepository, tx TxRunner) *CycleNormalizer {
	return &CycleNormalizer{trades: trades, holdings: holdings, tx: tx}
}

// CycleAssignment is the cycle bookkeeping of one trade
type CycleAssignment struct {
	Cycle   int
	Cleared bool
}

// AssignCycles replays trades ordered by (date, id) and returns the cycle of
// each trade together with the final share balance. Trades are not modified;
// an oversell aborts with no assignments. A dividend between a clearing SELL
// and the next BUY belongs to the closed cycle and adds no shares.
func AssignCycles(trades []*models.Trade) ([]CycleAssignment, decimal.Decimal, error) {
	out := make([]CycleAssignment, len(trades))
	shares := decimal.Zero
	cycle := 1
	closed := false

	for i, t := range trades {
		if closed && t.Type == types.TradeDividend {
			out[i] = CycleAssignment{Cycle: cycle - 1}
			continue
		}
		closed = false

		cleared := false
		switch t.Type {
		case types.TradeBuy:
			shares = shares.Add(t.Shares)
		case types.TradeSell:
			left := shares.Sub(t.Shares)
			if left.LessThan(types.SharesEpsilon.Neg()) {
				return nil, decimal.Zero, apperrors.NewOversellError(t.UserID, t.HoldingID, t.ID,
					shares.String(), t.Shares.String())
			}
			shares = left
			cleared = shares.Abs().LessThanOrEqual(types.SharesEpsilon)
		case types.TradeDividend:
			if t.DividendKind == types.DividendReinvest {
				shares = shares.Add(t.Shares)
			}
		default:
			return nil, decimal.Zero, apperrors.NewValidationError("type", fmt.Sprintf("unknown trade type %q", t.Type))
		}

		out[i] = CycleAssignment{Cycle: cycle, Cleared: cleared}
		if cleared {
			cycle++
			shares = decimal.Zero
			closed = true
		}
	}
	return out, shares, nil
}

// statusFor derives the user holding status from the final share balance
func statusFor(shares decimal.Decimal, tradeCount int) types.HoldingStatus {
	switch {
	case shares.GreaterThan(types.SharesEpsilon):
		return types.HoldingHolding
	case tradeCount > 0:
		return types.HoldingClosed
	default:
		return types.HoldingNotHeld
	}
}

// Normalize assigns cycle and cleared to every trade of (userID, holdingID)
// and updates the user holding status. Nothing is written on oversell.
func (n *CycleNormalizer) Normalize(ctx context.Context, userID, holdingID int64) (*NormalizeResult, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id":    userID,
		"holding_id": holdingID,
	})

	trades, err := n.trades.ListByHolding(ctx, userID, holdingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}

	assignments, shares, err := AssignCycles(trades)
	if err != nil {
		logger.WithError(err).Warn("Cycle normalization rejected")
		return nil, err
	}

	var changed []*models.Trade
	for i, t := range trades {
		if t.Cycle != assignments[i].Cycle || t.Cleared != assignments[i].Cleared {
			t.Cycle = assignments[i].Cycle
			t.Cleared = assignments[i].Cleared
			changed = append(changed, t)
		}
	}

	result := &NormalizeResult{Status: statusFor(shares, len(trades))}
	if len(assignments) > 0 {
		result.LastCycle = assignments[len(assignments)-1].Cycle
	}

	err = n.tx.RunInTx(ctx, func(ctx context.Context) error {
		if len(changed) > 0 {
			if err := n.trades.UpdateCycles(ctx, changed); err != nil {
				return err
			}
		}
		return n.holdings.UpdateStatus(ctx, userID, holdingID, result.Status)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store cycles: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"trades":     len(trades),
		"updated":    len(changed),
		"status":     result.Status,
		"last_cycle": result.LastCycle,
	}).Debug("Normalized trade cycles")

	return result, nil
}
