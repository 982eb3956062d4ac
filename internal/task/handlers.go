package task

import (
	"context"
	"fmt"
	"time"

	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/service"
	"github.com/fund-analytics/internal/types"
)

// HoldingSnapshotter is the holding snapshot builder as seen by tasks
type HoldingSnapshotter interface {
	AppendDay(ctx context.Context, userID, holdingID int64, day time.Time) (*models.HoldingSnapshot, error)
	Rebuild(ctx context.Context, userID, holdingID int64) (*service.RebuildResult, error)
}

// PortfolioSnapshotter is the portfolio aggregator as seen by tasks
type PortfolioSnapshotter interface {
	AppendDay(ctx context.Context, userID int64, day time.Time) (*models.PortfolioSnapshot, error)
	Rebuild(ctx context.Context, userID int64) (int, error)
}

// AnalyticsComputer is the analytics service as seen by tasks
type AnalyticsComputer interface {
	ComputeHoldingDay(ctx context.Context, userID, holdingID int64, day time.Time) (int, error)
	ComputePortfolioDay(ctx context.Context, userID int64, day time.Time) (int, error)
	RebuildHolding(ctx context.Context, userID, holdingID int64) (int, error)
	RebuildPortfolio(ctx context.Context, userID int64) (int, error)
}

// RegisterHandlers binds every task name to the services that run it
func RegisterHandlers(r *Registry, holdings HoldingSnapshotter, portfolios PortfolioSnapshotter, analytics AnalyticsComputer) {
	r.Register(HoldingAppendDay, func(ctx context.Context, _ []interface{}, kw map[string]interface{}) (string, error) {
		u, h, day, err := userHoldingDay(kw)
		if err != nil {
			return "", err
		}
		snap, err := holdings.AppendDay(ctx, u, h, day)
		if err != nil {
			return "", err
		}
		if snap == nil {
			return "no position", nil
		}
		return fmt.Sprintf("shares=%s market_value=%s", snap.Shares, snap.MarketValue), nil
	})

	r.Register(HoldingRebuild, func(ctx context.Context, _ []interface{}, kw map[string]interface{}) (string, error) {
		u, h, err := userHolding(kw)
		if err != nil {
			return "", err
		}
		res, err := holdings.Rebuild(ctx, u, h)
		if err != nil {
			return "", err
		}
		if res.From == nil {
			return "snapshots=0", nil
		}
		return fmt.Sprintf("snapshots=%d from=%s to=%s", res.Snapshots, types.FormatDay(*res.From), types.FormatDay(*res.To)), nil
	})

	r.Register(PortfolioAppendDay, func(ctx context.Context, _ []interface{}, kw map[string]interface{}) (string, error) {
		u, err := Int64Arg(kw, "user_id")
		if err != nil {
			return "", err
		}
		day, err := DayArg(kw, "day")
		if err != nil {
			return "", err
		}
		p, err := portfolios.AppendDay(ctx, u, day)
		if err != nil {
			return "", err
		}
		if p == nil {
			return "no holdings", nil
		}
		return fmt.Sprintf("market_value=%s total_pnl=%s", p.MarketValue, p.TotalPnL), nil
	})

	r.Register(PortfolioRebuild, func(ctx context.Context, _ []interface{}, kw map[string]interface{}) (string, error) {
		u, err := Int64Arg(kw, "user_id")
		if err != nil {
			return "", err
		}
		n, err := portfolios.Rebuild(ctx, u)
		return fmt.Sprintf("snapshots=%d", n), err
	})

	r.Register(AnalyticsHoldingDay, func(ctx context.Context, _ []interface{}, kw map[string]interface{}) (string, error) {
		u, h, day, err := userHoldingDay(kw)
		if err != nil {
			return "", err
		}
		n, err := analytics.ComputeHoldingDay(ctx, u, h, day)
		return fmt.Sprintf("rows=%d", n), err
	})

	r.Register(AnalyticsPortfolioDay, func(ctx context.Context, _ []interface{}, kw map[string]interface{}) (string, error) {
		u, err := Int64Arg(kw, "user_id")
		if err != nil {
			return "", err
		}
		day, err := DayArg(kw, "day")
		if err != nil {
			return "", err
		}
		n, err := analytics.ComputePortfolioDay(ctx, u, day)
		return fmt.Sprintf("rows=%d", n), err
	})

	r.Register(AnalyticsHoldingRebuild, func(ctx context.Context, _ []interface{}, kw map[string]interface{}) (string, error) {
		u, h, err := userHolding(kw)
		if err != nil {
			return "", err
		}
		n, err := analytics.RebuildHolding(ctx, u, h)
		return fmt.Sprintf("rows=%d", n), err
	})

	r.Register(AnalyticsPortfolioRebuild, func(ctx context.Context, _ []interface{}, kw map[string]interface{}) (string, error) {
		u, err := Int64Arg(kw, "user_id")
		if err != nil {
			return "", err
		}
		n, err := analytics.RebuildPortfolio(ctx, u)
		return fmt.Sprintf("rows=%d", n), err
	})
}

func userHolding(kw map[string]interface{}) (int64, int64, error) {
	u, err := Int64Arg(kw, "user_id")
	if err != nil {
		return 0, 0, err
	}
	h, err := Int64Arg(kw, "holding_id")
	if err != nil {
		return 0, 0, err
	}
	return u, h, nil
}

func userHoldingDay(kw map[string]interface{}) (int64, int64, time.Time, error) {
	u, h, err := userHolding(kw)
	if err != nil {
		return 0, 0, time.Time{}, err
	}
	day, err := DayArg(kw, "day")
	if err != nil {
		return 0, 0, time.Time{}, err
	}
	return u, h, day, nil
}
