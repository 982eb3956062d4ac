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

// PortfolioAggregator sums holding snapshots into portfolio snapshots
type PortfolioAggregator struct {
	holdingSnapshots   HoldingSnapshotRepository
	portfolioSnapshots PortfolioSnapshotRepository
	calendar           TradingCalendar
	tx                 TxRunner
}

// NewPortfolioAggregator creates a new portfolio aggregator
func NewPortfolioAggregator(
	holdingSnapshots HoldingSnapshotRepository,
	portfolioSnapshots PortfolioSnapshotRepository,
	calendar TradingCalendar,
	tx TxRunner,
) *PortfolioAggregator {
	return &PortfolioAggregator{
		holdingSnapshots:   holdingSnapshots,
		portfolioSnapshots: portfolioSnapshots,
		calendar:           calendar,
		tx:                 tx,
	}
}

// Aggregate builds the portfolio snapshot of day from the user's holding
// snapshots on that day and the previous portfolio snapshot (nil for none).
func Aggregate(userID int64, day time.Time, holdings []*models.HoldingSnapshot, prev *models.PortfolioSnapshot) *models.PortfolioSnapshot {
	p := &models.PortfolioSnapshot{UserID: userID, Date: day}
	for _, h := range holdings {
		p.MarketValue = p.MarketValue.Add(h.MarketValue)
		p.Cost = p.Cost.Add(h.Cost)
		p.UnrealizedPnL = p.UnrealizedPnL.Add(h.UnrealizedPnL)
		p.NetExternalFlow = p.NetExternalFlow.Add(h.NetExternalFlow)
		p.DailyCashDiv = p.DailyCashDiv.Add(h.DailyCashDiv)
		p.DailyReinvestDiv = p.DailyReinvestDiv.Add(h.DailyReinvestDiv)
		p.DailyBuy = p.DailyBuy.Add(h.DailyBuy)
		p.DailySell = p.DailySell.Add(h.DailySell)
	}

	if prev == nil {
		prev = &models.PortfolioSnapshot{}
	}

	p.TotalBuy = prev.TotalBuy.Add(p.DailyBuy).Add(p.DailyReinvestDiv)
	p.TotalSell = prev.TotalSell.Add(p.DailySell)
	p.TotalCashDiv = prev.TotalCashDiv.Add(p.DailyCashDiv)
	p.TotalDividend = prev.TotalDividend.Add(p.DailyCashDiv).Add(p.DailyReinvestDiv)
	p.DailyPnL = p.MarketValue.Sub(prev.MarketValue).Add(p.NetExternalFlow).Add(p.DailyCashDiv)
	p.TotalPnL = prev.TotalPnL.Add(p.DailyPnL)
	p.TotalRealizedPnL = p.TotalPnL.Sub(p.UnrealizedPnL).Sub(p.TotalDividend)

	denom := prev.MarketValue.Add(decimal.Max(decimal.Zero, p.NetExternalFlow.Neg()))
	p.DailyReturn = ratioOf(p.DailyPnL, denom)

	base := p.TotalBuy.Sub(p.TotalSell)
	switch {
	case base.GreaterThan(decimal.Zero):
	case p.Cost.GreaterThan(decimal.Zero):
		base = p.Cost
	case prev.Cost.GreaterThan(decimal.Zero):
		base = prev.Cost
	default:
		base = decimal.Zero
	}
	p.TotalReturn = ratioOf(p.TotalPnL, base)

	return p
}

// AppendDay recomputes the portfolio snapshot of one trading day. A day with
// no holding snapshots has its portfolio row removed.
func (a *PortfolioAggregator) AppendDay(ctx context.Context, userID int64, day time.Time) (*models.PortfolioSnapshot, error) {
	day = types.Day(day)
	if !a.calendar.IsTradingDay(day) {
		return nil, apperrors.NewNotTradingDayError(day)
	}

	holdings, err := a.holdingSnapshots.ListByUserOnDay(ctx, userID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to load holding snapshots: %w", err)
	}

	if len(holdings) == 0 {
		err := a.tx.RunInTx(ctx, func(ctx context.Context) error {
			return a.portfolioSnapshots.DeleteOn(ctx, userID, day)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to clear portfolio snapshot: %w", err)
		}
		return nil, nil
	}

	prev, err := a.portfolioSnapshots.LatestBefore(ctx, userID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to load previous portfolio snapshot: %w", err)
	}

	p := Aggregate(userID, day, holdings, prev)
	err = a.tx.RunInTx(ctx, func(ctx context.Context) error {
		return a.portfolioSnapshots.Replace(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store portfolio snapshot: %w", err)
	}
	return p, nil
}

// Rebuild deletes and recomputes every portfolio snapshot of a user,
// committing one day at a time.
func (a *PortfolioAggregator) Rebuild(ctx context.Context, userID int64) (int, error) {
	logger := logging.FromContext(ctx).WithField("user_id", userID)

	all, err := a.holdingSnapshots.ListByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to load holding snapshots: %w", err)
	}

	byDay := make(map[time.Time][]*models.HoldingSnapshot)
	for _, h := range all {
		d := types.Day(h.Date)
		byDay[d] = append(byDay[d], h)
	}
	days := make([]time.Time, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	err = a.tx.RunInTx(ctx, func(ctx context.Context) error {
		return a.portfolioSnapshots.DeleteByUser(ctx, userID)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clear portfolio snapshots: %w", err)
	}

	var prev *models.PortfolioSnapshot
	for _, day := range days {
		p := Aggregate(userID, day, byDay[day], prev)
		err := a.tx.RunInTx(ctx, func(ctx context.Context) error {
			return a.portfolioSnapshots.Replace(ctx, p)
		})
		if err != nil {
			return 0, fmt.Errorf("failed to store portfolio snapshot for %s: %w", types.FormatDay(day), err)
		}
		prev = p
	}

	logger.WithField("snapshots", len(days)).Info("Rebuilt portfolio snapshots")
	return len(days), nil
}
