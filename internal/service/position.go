package service

import (
	"time"

	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/types"
	"github.com/shopspring/decimal"
)

// PositionState is the running bookkeeping of one cycle of a holding
type PositionState struct {
	Cycle         int
	Shares        decimal.Decimal
	Cost          decimal.Decimal
	TotalBuy      decimal.Decimal
	TotalSell     decimal.Decimal
	TotalCashDiv  decimal.Decimal
	TotalReinvest decimal.Decimal
	RealizedPnL   decimal.Decimal

	// Cleared is set once a SELL closes the cycle; the next trade opens Cycle+1
	Cleared bool
}

// closed reports whether the cycle was cleared and no new position has opened
func (s *PositionState) closed() bool {
	return s.Cleared && s.Shares.LessThanOrEqual(types.SharesEpsilon)
}

// dayFlows accumulates the per-day amounts folded into one snapshot
type dayFlows struct {
	buy      decimal.Decimal
	sell     decimal.Decimal
	cashDiv  decimal.Decimal
	reinvest decimal.Decimal
	flow     decimal.Decimal
	cleared  bool
	lastNav  decimal.Decimal
}

func (f *dayFlows) empty() bool {
	return f.buy.IsZero() && f.sell.IsZero() && f.cashDiv.IsZero() && f.reinvest.IsZero() && f.flow.IsZero()
}

// positionTracker applies trades day by day and emits holding snapshots.
// Rebuild and incremental append share it so both produce identical rows.
type positionTracker struct {
	userID    int64
	holdingID int64
	state     PositionState
	day       dayFlows
	prevMV    decimal.Decimal // market value of the last emitted snapshot
}

func newPositionTracker(userID, holdingID int64) *positionTracker {
	return &positionTracker{
		userID:    userID,
		holdingID: holdingID,
		state:     PositionState{Cycle: 1},
	}
}

// resumeFrom re-hydrates the tracker from a stored snapshot
func resumeFrom(s *models.HoldingSnapshot) *positionTracker {
	p := newPositionTracker(s.UserID, s.HoldingID)
	p.state = PositionState{
		Cycle:         s.Cycle,
		Shares:        s.Shares,
		Cost:          s.Cost,
		TotalBuy:      s.TotalBuy,
		TotalSell:     s.TotalSell,
		TotalCashDiv:  s.TotalCashDiv,
		TotalReinvest: s.TotalDividend.Sub(s.TotalCashDiv),
		RealizedPnL:   s.RealizedPnL,
		Cleared:       s.Cleared,
	}
	p.prevMV = s.MarketValue
	return p
}

func (p *positionTracker) flat() bool {
	return p.state.Shares.LessThanOrEqual(types.SharesEpsilon)
}

// apply folds one trade into the state and the current day. A dividend
// that follows the clearing SELL is income of the closed cycle: it is
// booked as cash, adds no shares and keeps the cycle cleared.
func (p *positionTracker) apply(t *models.Trade) error {
	s := &p.state
	d := &p.day

	if s.closed() && t.Type == types.TradeDividend {
		s.TotalCashDiv = s.TotalCashDiv.Add(t.Amount)
		d.cashDiv = d.cashDiv.Add(t.Amount)
		return nil
	}
	if s.Cleared {
		p.state = PositionState{Cycle: s.Cycle + 1}
	}

	switch t.Type {
	case types.TradeBuy:
		s.Shares = s.Shares.Add(t.Shares)
		s.Cost = s.Cost.Add(t.CashAmount)
		s.TotalBuy = s.TotalBuy.Add(t.CashAmount)
		d.flow = d.flow.Sub(t.CashAmount)
		d.buy = d.buy.Add(t.CashAmount)

	case types.TradeSell:
		left := s.Shares.Sub(t.Shares)
		if s.Shares.LessThanOrEqual(decimal.Zero) || left.LessThan(types.SharesEpsilon.Neg()) {
			return apperrors.NewOversellError(p.userID, p.holdingID, t.ID, s.Shares.String(), t.Shares.String())
		}
		soldCost := types.Money(s.Cost.Div(s.Shares).Mul(t.Shares))
		s.Shares = left
		s.Cost = s.Cost.Sub(soldCost)
		s.RealizedPnL = s.RealizedPnL.Add(t.CashAmount.Sub(soldCost))
		s.TotalSell = s.TotalSell.Add(t.CashAmount)
		d.flow = d.flow.Add(t.CashAmount)
		d.sell = d.sell.Add(t.CashAmount)
		if s.Shares.Abs().LessThanOrEqual(types.SharesEpsilon) {
			s.Shares = decimal.Zero
			s.Cost = decimal.Zero
			s.Cleared = true
			d.cleared = true
		}

	case types.TradeDividend:
		if t.DividendKind == types.DividendReinvest {
			s.Shares = s.Shares.Add(t.Shares)
			s.TotalReinvest = s.TotalReinvest.Add(t.Amount)
			d.reinvest = d.reinvest.Add(t.Amount)
		} else {
			s.TotalCashDiv = s.TotalCashDiv.Add(t.Amount)
			d.cashDiv = d.cashDiv.Add(t.Amount)
		}
	}

	if !t.NavPerUnit.IsZero() {
		d.lastNav = t.NavPerUnit
	}
	return nil
}

// settle rounds the state at the day boundary
func (p *positionTracker) settle() {
	s := &p.state
	s.Shares = types.Money(s.Shares)
	s.Cost = types.Money(s.Cost)
	s.TotalBuy = types.Money(s.TotalBuy)
	s.TotalSell = types.Money(s.TotalSell)
	s.TotalCashDiv = types.Money(s.TotalCashDiv)
	s.TotalReinvest = types.Money(s.TotalReinvest)
	s.RealizedPnL = types.Money(s.RealizedPnL)
}

// pending reports whether the day needs a snapshot: an open position, a
// cycle cleared today and not reopened, or income on a closed cycle.
func (p *positionTracker) pending() bool {
	if !p.flat() {
		return true
	}
	return p.state.Cleared && (p.day.cleared || !p.day.cashDiv.IsZero())
}

// needsNav reports whether emitting the day requires a NAV point
func (p *positionTracker) needsNav() bool {
	return !p.flat()
}

// emit produces the snapshot of day and resets the daily accumulators. nav
// may be nil only when the position is flat.
func (p *positionTracker) emit(day time.Time, nav *models.NavPoint) *models.HoldingSnapshot {
	s := p.state
	d := p.day

	snap := &models.HoldingSnapshot{
		UserID:           p.userID,
		HoldingID:        p.holdingID,
		Date:             day,
		Cycle:            s.Cycle,
		DailyBuy:         types.Money(d.buy),
		DailySell:        types.Money(d.sell),
		TotalBuy:         s.TotalBuy,
		TotalSell:        s.TotalSell,
		DailyCashDiv:     types.Money(d.cashDiv),
		DailyReinvestDiv: types.Money(d.reinvest),
		TotalCashDiv:     s.TotalCashDiv,
		TotalDividend:    s.TotalCashDiv.Add(s.TotalReinvest),
		NetExternalFlow:  types.Money(d.flow),
		RealizedPnL:      s.RealizedPnL,
	}

	if nav != nil {
		snap.Nav = nav.NavPerUnit
	} else {
		snap.Nav = d.lastNav
	}

	if p.flat() {
		snap.Cleared = true
		snap.Shares = decimal.Zero
		snap.Cost = decimal.Zero
		snap.AvgCost = decimal.Zero
		snap.MarketValue = decimal.Zero
		snap.UnrealizedPnL = decimal.Zero
	} else {
		snap.Shares = s.Shares
		snap.Cost = s.Cost
		snap.AvgCost = types.Money(s.Cost.Div(s.Shares))
		snap.MarketValue = types.Money(s.Shares.Mul(snap.Nav))
		snap.UnrealizedPnL = snap.MarketValue.Sub(s.Cost)
	}
	snap.TotalPnL = snap.RealizedPnL.Add(snap.UnrealizedPnL).Add(snap.TotalDividend)

	switch {
	case p.prevMV.GreaterThan(decimal.Zero):
		snap.DailyPnL = snap.MarketValue.Sub(p.prevMV).Add(snap.NetExternalFlow).Add(snap.DailyCashDiv)
		snap.DailyReturn = types.Ratio(snap.DailyPnL.Div(p.prevMV))
		snap.TotalReturn = ratioOf(snap.TotalPnL, snap.TotalBuy)
	case s.Cleared && !d.cleared:
		// cycle closed on an earlier day: only the income is new
		snap.DailyPnL = snap.DailyCashDiv
		snap.DailyReturn = decimal.Zero
	default:
		snap.DailyPnL = snap.TotalPnL
		snap.DailyReturn = ratioOf(snap.DailyPnL, snap.TotalBuy)
		snap.TotalReturn = snap.DailyReturn
	}
	if snap.Cleared {
		snap.TotalReturn = ratioOf(snap.RealizedPnL, snap.TotalBuy)
	}

	p.prevMV = snap.MarketValue
	p.day = dayFlows{}
	return snap
}

// ratioOf divides at ratio precision, returning zero for a non-positive base
func ratioOf(num, base decimal.Decimal) decimal.Decimal {
	if base.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return types.Ratio(num.Div(base))
}
