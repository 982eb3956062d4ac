// Package models provides data models for the fund analytics system.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultRiskFreeRate is applied when a user has no settings row
var DefaultRiskFreeRate = decimal.NewFromFloat(0.02)

// UserSettings represents user-specific analytics settings
type UserSettings struct {
	UserID       int64           `json:"userId" db:"user_id"`
	RiskFreeRate decimal.Decimal `json:"riskFreeRate" db:"risk_free_rate"`
	BenchmarkID  *int64          `json:"benchmarkId,omitempty" db:"benchmark_id"`
	UpdatedAt    time.Time       `json:"updatedAt" db:"updated_at"`
}

// DefaultUserSettings returns the settings used for users without a row
func DefaultUserSettings(userID int64) *UserSettings {
	return &UserSettings{UserID: userID, RiskFreeRate: DefaultRiskFreeRate}
}
