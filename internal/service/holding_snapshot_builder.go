package service

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/logging"
	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/storage"
	"github.com/fund-analytics/internal/types"
	"github.com/shopspring/decimal"
)

// HoldingSnapshotBuilder produces the daily position snapshots of a
// (user, holding). Both entry points hold the per-holding lock.
type HoldingSnapshotBuilder struct {
	trades    TradeRepository
	navs      NavRepository
	snapshots HoldingSnapshotRepository
	calendar  TradingCalendar
	tx        TxRunner
	locker    Locker
	enqueuer  Enqueuer
	now       func() time.Time
}

// NewHoldingSnapshotBuilder creates a new holding snapshot builder
func NewHoldingSnapshotBuilder(
	trades TradeRepository,
	navs NavRepository,
	snapshots HoldingSnapshotRepository,
	calendar TradingCalendar,
	tx TxRunner,
	locker Locker,
	enqueuer Enqueuer,
) *HoldingSnapshotBuilder {
	return &HoldingSnapshotBuilder{
		trades:    trades,
		navs:      navs,
		snapshots: snapshots,
		calendar:  calendar,
		tx:        tx,
		locker:    locker,
		enqueuer:  enqueuer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RebuildResult summarises a full rebuild
type RebuildResult struct {
	Snapshots int        `json:"snapshots"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
}

// Rebuild deletes and recomputes every snapshot of (userID, holdingID) from
// the earliest trade through the last trading day before today. On oversell
// nothing is written.
func (b *HoldingSnapshotBuilder) Rebuild(ctx context.Context, userID, holdingID int64) (*RebuildResult, error) {
	release, err := b.locker.Acquire(ctx, storage.HoldingLockKey(userID, holdingID))
	if err != nil {
		return nil, err
	}
	defer release()

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id":    userID,
		"holding_id": holdingID,
	})

	trades, err := b.trades.ListByHolding(ctx, userID, holdingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}

	snaps, err := b.replay(ctx, userID, holdingID, trades)
	if err != nil {
		return nil, err
	}

	err = b.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := b.snapshots.DeleteByHolding(ctx, userID, holdingID); err != nil {
			return err
		}
		if len(snaps) == 0 {
			return nil
		}
		return b.snapshots.Insert(ctx, snaps)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store holding snapshots: %w", err)
	}

	result := &RebuildResult{Snapshots: len(snaps)}
	if len(snaps) > 0 {
		result.From = &snaps[0].Date
		result.To = &snaps[len(snaps)-1].Date
	}
	logger.WithField("snapshots", len(snaps)).Info("Rebuilt holding snapshots")
	return result, nil
}

// replay walks trading days from the first trade and returns the snapshots to store
func (b *HoldingSnapshotBuilder) replay(ctx context.Context, userID, holdingID int64, trades []*models.Trade) ([]*models.HoldingSnapshot, error) {
	if len(trades) == 0 {
		return nil, nil
	}
	end, ok := b.calendar.Prev(b.now())
	if !ok {
		return nil, nil
	}

	byDay := make(map[time.Time][]*models.Trade)
	var first time.Time
	for _, t := range trades {
		day, ok := b.calendar.OnOrAfter(t.Date)
		if !ok || day.After(end) {
			continue
		}
		if first.IsZero() || day.Before(first) {
			first = day
		}
		byDay[day] = append(byDay[day], t)
	}
	if first.IsZero() {
		return nil, nil
	}

	points, err := b.navs.ListRange(ctx, holdingID, first, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load nav series: %w", err)
	}
	navByDay := make(map[time.Time]*models.NavPoint, len(points))
	for _, p := range points {
		navByDay[types.Day(p.Date)] = p
	}

	logger := logging.FromContext(ctx)
	tracker := newPositionTracker(userID, holdingID)
	var snaps []*models.HoldingSnapshot

	for _, day := range b.calendar.Range(first, end) {
		for _, t := range byDay[day] {
			if err := tracker.apply(t); err != nil {
				return nil, err
			}
		}
		tracker.settle()
		if !tracker.pending() {
			continue
		}

		var nav *models.NavPoint
		if tracker.needsNav() {
			nav = navByDay[day]
			if nav == nil {
				logger.WithFields(map[string]interface{}{
					"holding_id": holdingID,
					"date":       types.FormatDay(day),
				}).Debug("No NAV for open position, skipping day")
				continue
			}
		}

		snap := tracker.emit(day, nav)
		if err := checkIdentity(snap); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// AppendDay computes the snapshot of a single trading day from the prior
// day's snapshot. When the prior state is unusable a rebuild is enqueued and
// a missing-prerequisite error is returned; nothing is written.
func (b *HoldingSnapshotBuilder) AppendDay(ctx context.Context, userID, holdingID int64, day time.Time) (*models.HoldingSnapshot, error) {
	day = types.Day(day)
	if !b.calendar.IsTradingDay(day) {
		return nil, apperrors.NewNotTradingDayError(day)
	}

	release, err := b.locker.Acquire(ctx, storage.HoldingLockKey(userID, holdingID))
	if err != nil {
		return nil, err
	}
	defer release()

	prevDay, _ := b.calendar.Prev(day)

	prior, err := b.snapshots.LatestBefore(ctx, userID, holdingID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to load prior snapshot: %w", err)
	}

	var tracker *positionTracker
	switch {
	case prior != nil && prior.Date.Equal(prevDay):
		tracker = resumeFrom(prior)
	case prior != nil && prior.Open():
		return nil, b.requestRebuild(ctx, userID, holdingID, day, "prior snapshot")
	default:
		// flat or no history: only a new position may start today
		var since time.Time
		if prior != nil {
			since = prior.Date
		}
		if !prevDay.IsZero() {
			gap, err := b.trades.ListByHoldingInRange(ctx, userID, holdingID, since, prevDay)
			if err != nil {
				return nil, fmt.Errorf("failed to load trades: %w", err)
			}
			if len(gap) > 0 {
				return nil, b.requestRebuild(ctx, userID, holdingID, day, "snapshot history")
			}
		}
		if prior != nil {
			tracker = resumeFrom(prior)
		} else {
			tracker = newPositionTracker(userID, holdingID)
		}
	}

	todays, err := b.trades.ListByHoldingInRange(ctx, userID, holdingID, prevDay, day)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	if tracker.flat() && len(todays) == 0 {
		return nil, nil
	}

	for _, t := range todays {
		if err := tracker.apply(t); err != nil {
			if apperrors.IsOversell(err) {
				if qerr := b.enqueuer.EnqueueHoldingRebuild(ctx, userID, holdingID, "oversell"); qerr != nil {
					return nil, fmt.Errorf("failed to enqueue rebuild after %v: %w", err, qerr)
				}
			}
			return nil, err
		}
	}
	tracker.settle()
	if !tracker.pending() {
		return nil, nil
	}

	var nav *models.NavPoint
	if tracker.needsNav() {
		nav, err = b.navs.Get(ctx, holdingID, day)
		if err != nil {
			return nil, fmt.Errorf("failed to load nav: %w", err)
		}
		if nav == nil {
			return nil, b.requestRebuild(ctx, userID, holdingID, day, "nav")
		}
	}

	snap := tracker.emit(day, nav)
	if err := checkIdentity(snap); err != nil {
		return nil, err
	}

	err = b.tx.RunInTx(ctx, func(ctx context.Context) error {
		return b.snapshots.Replace(ctx, snap)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store holding snapshot: %w", err)
	}
	return snap, nil
}

func (b *HoldingSnapshotBuilder) requestRebuild(ctx context.Context, userID, holdingID int64, day time.Time, what string) error {
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id":    userID,
		"holding_id": holdingID,
		"date":       types.FormatDay(day),
		"missing":    what,
	}).Warn("Incremental snapshot not possible, requesting rebuild")

	if err := b.enqueuer.EnqueueHoldingRebuild(ctx, userID, holdingID, "missing "+what); err != nil {
		return fmt.Errorf("failed to enqueue rebuild: %w", err)
	}
	return apperrors.NewMissingPrereqError(what, userID, holdingID, day)
}

// checkIdentity verifies total_pnl = realized + unrealized + total_dividend
func checkIdentity(s *models.HoldingSnapshot) error {
	want := s.RealizedPnL.Add(s.UnrealizedPnL).Add(s.TotalDividend)
	if s.TotalPnL.Sub(want).Abs().GreaterThan(types.MoneyEpsilon) {
		return apperrors.NewAssertionError("accounting identity",
			fmt.Sprintf("holding %d on %s: total_pnl %s != %s", s.HoldingID, types.FormatDay(s.Date), s.TotalPnL, want))
	}
	if s.Shares.LessThan(decimal.Zero) {
		return apperrors.NewAssertionError("non-negative shares",
			fmt.Sprintf("holding %d on %s: shares %s", s.HoldingID, types.FormatDay(s.Date), s.Shares))
	}
	return nil
}
