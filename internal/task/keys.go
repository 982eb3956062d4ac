// Package task implements the durable task layer: a producer that records
// work in the task log and a consumer that claims and runs it.
package task

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fund-analytics/internal/types"
)

// Registered task names, "module.method"
const (
	HoldingAppendDay          = "holding.append_day"
	HoldingRebuild            = "holding.rebuild"
	PortfolioAppendDay        = "portfolio.append_day"
	PortfolioRebuild          = "portfolio.rebuild"
	AnalyticsHoldingDay       = "analytics.holding_day"
	AnalyticsPortfolioDay     = "analytics.portfolio_day"
	AnalyticsHoldingRebuild   = "analytics.holding_rebuild"
	AnalyticsPortfolioRebuild = "analytics.portfolio_rebuild"
)

// Fingerprint identifies outstanding duplicates of a task
func Fingerprint(name, businessKey string) string {
	sum := sha256.Sum256([]byte(name + businessKey))
	return hex.EncodeToString(sum[:])
}

func holdingSnapshotKey(userID int64, day time.Time, holdingID int64) string {
	return fmt.Sprintf("holding_snapshot:%d:%s:%d", userID, types.FormatDay(day), holdingID)
}

// holdingSnapshotDayPrefix matches every holding snapshot task of a user's day
func holdingSnapshotDayPrefix(userID int64, day time.Time) string {
	return fmt.Sprintf("holding_snapshot:%d:%s:", userID, types.FormatDay(day))
}

func holdingRebuildKey(userID, holdingID int64) string {
	return fmt.Sprintf("holding_rebuild:%d:%d", userID, holdingID)
}

// holdingRebuildPrefix matches every holding rebuild of a user
func holdingRebuildPrefix(userID int64) string {
	return fmt.Sprintf("holding_rebuild:%d:", userID)
}

func portfolioSnapshotKey(userID int64, day time.Time) string {
	return fmt.Sprintf("portfolio_snapshot:%d:%s", userID, types.FormatDay(day))
}

func portfolioRebuildKey(userID int64) string {
	return fmt.Sprintf("portfolio_rebuild:%d", userID)
}

func holdingAnalyticsKey(userID int64, day time.Time, holdingID int64) string {
	return fmt.Sprintf("holding_analytics:%d:%s:%d", userID, types.FormatDay(day), holdingID)
}

func portfolioAnalyticsKey(userID int64, day time.Time) string {
	return fmt.Sprintf("portfolio_analytics:%d:%s", userID, types.FormatDay(day))
}

func holdingAnalyticsRebuildKey(userID, holdingID int64) string {
	return fmt.Sprintf("holding_analytics_rebuild:%d:%d", userID, holdingID)
}

func portfolioAnalyticsRebuildKey(userID int64) string {
	return fmt.Sprintf("portfolio_analytics_rebuild:%d", userID)
}
