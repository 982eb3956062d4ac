package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// HoldingSnapshot represents a user's position in a holding at the end of a trading day
type HoldingSnapshot struct {
	UserID           int64           `json:"userId" db:"user_id"`
	HoldingID        int64           `json:"holdingId" db:"holding_id"`
	Date             time.Time       `json:"date" db:"snapshot_date"`
	Cycle            int             `json:"cycle" db:"cycle"`
	Cleared          bool            `json:"cleared" db:"cleared"`
	Shares           decimal.Decimal `json:"shares" db:"shares"`
	Cost             decimal.Decimal `json:"cost" db:"cost"`
	AvgCost          decimal.Decimal `json:"avgCost" db:"avg_cost"`
	Nav              decimal.Decimal `json:"nav" db:"nav"`
	MarketValue      decimal.Decimal `json:"marketValue" db:"market_value"`
	DailyBuy         decimal.Decimal `json:"dailyBuy" db:"daily_buy"`
	DailySell        decimal.Decimal `json:"dailySell" db:"daily_sell"`
	TotalBuy         decimal.Decimal `json:"totalBuy" db:"total_buy"`
	TotalSell        decimal.Decimal `json:"totalSell" db:"total_sell"`
	DailyCashDiv     decimal.Decimal `json:"dailyCashDiv" db:"daily_cash_div"`
	DailyReinvestDiv decimal.Decimal `json:"dailyReinvestDiv" db:"daily_reinvest_div"`
	TotalCashDiv     decimal.Decimal `json:"totalCashDiv" db:"total_cash_div"`
	TotalDividend    decimal.Decimal `json:"totalDividend" db:"total_dividend"`
	NetExternalFlow  decimal.Decimal `json:"netExternalFlow" db:"net_external_flow"`
	RealizedPnL      decimal.Decimal `json:"realizedPnl" db:"realized_pnl"`
	UnrealizedPnL    decimal.Decimal `json:"unrealizedPnl" db:"unrealized_pnl"`
	DailyPnL         decimal.Decimal `json:"dailyPnl" db:"daily_pnl"`
	DailyReturn      decimal.Decimal `json:"dailyReturn" db:"daily_return"`
	TotalPnL         decimal.Decimal `json:"totalPnl" db:"total_pnl"`
	TotalReturn      decimal.Decimal `json:"totalReturn" db:"total_return"`
}

// Open reports whether the snapshot carries a non-zero position
func (s *HoldingSnapshot) Open() bool {
	return s.Shares.GreaterThan(decimal.New(1, -4))
}

// PortfolioSnapshot represents the sum of a user's holdings at the end of a trading day
type PortfolioSnapshot struct {
	UserID           int64           `json:"userId" db:"user_id"`
	Date             time.Time       `json:"date" db:"snapshot_date"`
	MarketValue      decimal.Decimal `json:"marketValue" db:"market_value"`
	Cost             decimal.Decimal `json:"cost" db:"cost"`
	UnrealizedPnL    decimal.Decimal `json:"unrealizedPnl" db:"unrealized_pnl"`
	NetExternalFlow  decimal.Decimal `json:"netExternalFlow" db:"net_external_flow"`
	DailyBuy         decimal.Decimal `json:"dailyBuy" db:"daily_buy"`
	DailySell        decimal.Decimal `json:"dailySell" db:"daily_sell"`
	DailyCashDiv     decimal.Decimal `json:"dailyCashDiv" db:"daily_cash_div"`
	DailyReinvestDiv decimal.Decimal `json:"dailyReinvestDiv" db:"daily_reinvest_div"`
	DailyPnL         decimal.Decimal `json:"dailyPnl" db:"daily_pnl"`
	DailyReturn      decimal.Decimal `json:"dailyReturn" db:"daily_return"`
	TotalBuy         decimal.Decimal `json:"totalBuy" db:"total_buy"`
	TotalSell        decimal.Decimal `json:"totalSell" db:"total_sell"`
	TotalRealizedPnL decimal.Decimal `json:"totalRealizedPnl" db:"total_realized_pnl"`
	TotalCashDiv     decimal.Decimal `json:"totalCashDiv" db:"total_cash_div"`
	TotalDividend    decimal.Decimal `json:"totalDividend" db:"total_dividend"`
	TotalPnL         decimal.Decimal `json:"totalPnl" db:"total_pnl"`
	TotalReturn      decimal.Decimal `json:"totalReturn" db:"total_return"`
}
