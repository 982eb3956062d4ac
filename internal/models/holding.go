package models

import (
	"time"

	"github.com/fund-analytics/internal/types"
	"github.com/shopspring/decimal"
)

// Holding represents a fund shared across users
type Holding struct {
	ID            int64      `json:"id" db:"id"`
	Code          string     `json:"code" db:"code"`
	Name          string     `json:"name" db:"name"`
	Type          string     `json:"type" db:"type"`
	Currency      string     `json:"currency" db:"currency"`
	InceptionDate *time.Time `json:"inceptionDate,omitempty" db:"inception_date"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
}

// UserHolding is the per-user overlay of a holding
type UserHolding struct {
	UserID    int64               `json:"userId" db:"user_id"`
	HoldingID int64               `json:"holdingId" db:"holding_id"`
	Status    types.HoldingStatus `json:"status" db:"status"`
	Nickname  string              `json:"nickname,omitempty" db:"nickname"`
	UpdatedAt time.Time           `json:"updatedAt" db:"updated_at"`
}

// Trade represents a user trade in a holding
type Trade struct {
	ID           int64              `json:"id" db:"id"`
	UserID       int64              `json:"userId" db:"user_id"`
	HoldingID    int64              `json:"holdingId" db:"holding_id"`
	Type         types.TradeType    `json:"type" db:"type"`
	DividendKind types.DividendKind `json:"dividendKind,omitempty" db:"dividend_kind"`
	Date         time.Time          `json:"date" db:"trade_date"`
	NavPerUnit   decimal.Decimal    `json:"navPerUnit" db:"nav_per_unit"`
	Shares       decimal.Decimal    `json:"shares" db:"shares"`
	Amount       decimal.Decimal    `json:"amount" db:"amount"`
	Fee          decimal.Decimal    `json:"fee" db:"fee"`
	CashAmount   decimal.Decimal    `json:"cashAmount" db:"cash_amount"`
	Cycle        int                `json:"cycle" db:"cycle"`
	Cleared      bool               `json:"cleared" db:"cleared"`
	CreatedAt    time.Time          `json:"createdAt" db:"created_at"`
}

// IsReinvest reports whether the trade is a reinvested dividend
func (t *Trade) IsReinvest() bool {
	return t.Type == types.TradeDividend && t.DividendKind == types.DividendReinvest
}

// IsCashDividend reports whether the trade is a cash dividend
func (t *Trade) IsCashDividend() bool {
	return t.Type == types.TradeDividend && t.DividendKind == types.DividendCash
}

// NavPoint is one day of a holding's NAV series
type NavPoint struct {
	HoldingID        int64               `json:"holdingId" db:"holding_id"`
	Date             time.Time           `json:"date" db:"nav_date"`
	NavPerUnit       decimal.Decimal     `json:"navPerUnit" db:"nav_per_unit"`
	AccumulatedNav   decimal.Decimal     `json:"accumulatedNav" db:"accumulated_nav"`
	DailyReturn      decimal.NullDecimal `json:"dailyReturn" db:"daily_return"`
	DividendPerShare decimal.NullDecimal `json:"dividendPerShare" db:"dividend_per_share"`
}

// Benchmark represents a market index used for comparison
type Benchmark struct {
	ID   int64  `json:"id" db:"id"`
	Code string `json:"code" db:"code"`
	Name string `json:"name" db:"name"`
}

// BenchmarkPoint is one day of a benchmark series
type BenchmarkPoint struct {
	BenchmarkID int64           `json:"benchmarkId" db:"benchmark_id"`
	Date        time.Time       `json:"date" db:"point_date"`
	Close       decimal.Decimal `json:"close" db:"close"`
	DailyReturn decimal.Decimal `json:"dailyReturn" db:"daily_return"`
}
