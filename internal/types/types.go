// Package types provides common type definitions for the fund analytics system.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeType represents the kind of a user trade
type TradeType string

const (
	// TradeBuy represents a subscription into a fund
	TradeBuy TradeType = "BUY"
	// TradeSell represents a redemption out of a fund
	TradeSell TradeType = "SELL"
	// TradeDividend represents a dividend distribution (cash or reinvested)
	TradeDividend TradeType = "DIVIDEND"
)

// Valid reports whether the trade type is known
func (t TradeType) Valid() bool {
	switch t {
	case TradeBuy, TradeSell, TradeDividend:
		return true
	}
	return false
}

// DividendKind represents how a dividend is distributed
type DividendKind string

const (
	// DividendNone is used for non-dividend trades
	DividendNone DividendKind = ""
	// DividendCash represents a dividend paid out in cash
	DividendCash DividendKind = "CASH"
	// DividendReinvest represents a dividend reinvested as new shares
	DividendReinvest DividendKind = "REINVEST"
)

// Valid reports whether the dividend kind is known
func (k DividendKind) Valid() bool {
	return k == DividendCash || k == DividendReinvest
}

// HoldingStatus represents a user's position state in a holding
type HoldingStatus string

const (
	// HoldingNotHeld represents a holding the user has no trades in
	HoldingNotHeld HoldingStatus = "NOT_HELD"
	// HoldingHolding represents an open position
	HoldingHolding HoldingStatus = "HOLDING"
	// HoldingClosed represents a position that was fully sold
	HoldingClosed HoldingStatus = "CLOSED"
)

// TaskStatus represents the lifecycle state of a task log entry
type TaskStatus string

const (
	// TaskPending represents a task waiting to be picked up
	TaskPending TaskStatus = "PENDING"
	// TaskRunning represents a task claimed by a consumer
	TaskRunning TaskStatus = "RUNNING"
	// TaskSuccess represents a completed task
	TaskSuccess TaskStatus = "SUCCESS"
	// TaskRetrying represents a failed task scheduled for another attempt
	TaskRetrying TaskStatus = "RETRYING"
	// TaskFailed represents a dead-lettered task
	TaskFailed TaskStatus = "FAILED"
	// TaskCancelled represents a task cancelled by an operator
	TaskCancelled TaskStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are expected
func (s TaskStatus) Terminal() bool {
	return s == TaskSuccess || s == TaskFailed || s == TaskCancelled
}

// WindowKind represents how an analytics window slices the daily series
type WindowKind string

const (
	// WindowExpanding uses all history up to the target day
	WindowExpanding WindowKind = "expanding"
	// WindowRolling uses the last N rows ending at the target day
	WindowRolling WindowKind = "rolling"
)

// Window keys seeded by default
const (
	WindowAll  = "ALL"
	WindowCur  = "CUR"
	WindowR21  = "R21"
	WindowR63  = "R63"
	WindowR126 = "R126"
	WindowR252 = "R252"
)

// DateFormat is the canonical calendar date layout
const DateFormat = "2006-01-02"

// Precision used when persisting decimals
const (
	MoneyPlaces = 4
	RatioPlaces = 6
)

var (
	// SharesEpsilon is the tolerance under which a share balance counts as zero
	SharesEpsilon = decimal.New(1, -MoneyPlaces)
	// MoneyEpsilon is the tolerance used for money comparisons
	MoneyEpsilon = decimal.New(1, -MoneyPlaces)
)

// Day normalizes a timestamp to a calendar date at UTC midnight
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string into a calendar date
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// FormatDay formats a calendar date as YYYY-MM-DD
func FormatDay(t time.Time) string {
	return t.Format(DateFormat)
}

// Money rounds a decimal to the persisted money precision
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// Ratio rounds a decimal to the persisted ratio precision
func Ratio(d decimal.Decimal) decimal.Decimal {
	return d.Round(RatioPlaces)
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
