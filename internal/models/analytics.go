package models

import (
	"time"

	"github.com/fund-analytics/internal/types"
	"github.com/shopspring/decimal"
)

// AnalyticsWindow defines which daily rows contribute to an analytics row
type AnalyticsWindow struct {
	Key                 string           `json:"key" db:"key"`
	Kind                types.WindowKind `json:"kind" db:"kind"`
	Days                int              `json:"days,omitempty" db:"days"` // rolling only
	AnnualizationFactor int              `json:"annualizationFactor" db:"annualization_factor"`
}

// SinceClear reports whether the window covers the current open cycle only
func (w AnalyticsWindow) SinceClear() bool {
	return w.Kind == types.WindowExpanding && w.Key == types.WindowCur
}

// DefaultWindows returns the seeded window set
func DefaultWindows() []AnalyticsWindow {
	return []AnalyticsWindow{
		{Key: types.WindowAll, Kind: types.WindowExpanding, AnnualizationFactor: 252},
		{Key: types.WindowCur, Kind: types.WindowExpanding, AnnualizationFactor: 252},
		{Key: types.WindowR21, Kind: types.WindowRolling, Days: 21, AnnualizationFactor: 252},
		{Key: types.WindowR63, Kind: types.WindowRolling, Days: 63, AnnualizationFactor: 252},
		{Key: types.WindowR126, Kind: types.WindowRolling, Days: 126, AnnualizationFactor: 252},
		{Key: types.WindowR252, Kind: types.WindowRolling, Days: 252, AnnualizationFactor: 252},
	}
}

// AnalyticsMetrics holds the statistics of one (series, window) pair.
// Null means the metric is undefined for the slice.
type AnalyticsMetrics struct {
	TwrrCum            decimal.NullDecimal `json:"twrrCum" db:"twrr_cum"`
	TwrrAnn            decimal.NullDecimal `json:"twrrAnn" db:"twrr_ann"`
	IrrCum             decimal.NullDecimal `json:"irrCum" db:"irr_cum"`
	IrrAnn             decimal.NullDecimal `json:"irrAnn" db:"irr_ann"`
	PeriodPnL          decimal.NullDecimal `json:"periodPnl" db:"period_pnl"`
	PeriodPnLRatio     decimal.NullDecimal `json:"periodPnlRatio" db:"period_pnl_ratio"`
	Volatility         decimal.NullDecimal `json:"volatility" db:"volatility"`
	DownsideRisk       decimal.NullDecimal `json:"downsideRisk" db:"downside_risk"`
	Sharpe             decimal.NullDecimal `json:"sharpe" db:"sharpe"`
	Sortino            decimal.NullDecimal `json:"sortino" db:"sortino"`
	Calmar             decimal.NullDecimal `json:"calmar" db:"calmar"`
	WinRate            decimal.NullDecimal `json:"winRate" db:"win_rate"`
	MaxDD              decimal.NullDecimal `json:"maxDd" db:"max_dd"`
	MaxDDStart         *time.Time          `json:"maxDdStart" db:"max_dd_start"`
	MaxDDEnd           *time.Time          `json:"maxDdEnd" db:"max_dd_end"`
	MaxDDRecovery      *time.Time          `json:"maxDdRecovery" db:"max_dd_recovery"`
	MaxDDDays          *int                `json:"maxDdDays" db:"max_dd_days"`
	BestDay            decimal.NullDecimal `json:"bestDay" db:"best_day"`
	WorstDay           decimal.NullDecimal `json:"worstDay" db:"worst_day"`
	BenchmarkCumReturn decimal.NullDecimal `json:"benchmarkCumReturn" db:"benchmark_cum_return"`
	Alpha              decimal.NullDecimal `json:"alpha" db:"alpha"`
	Beta               decimal.NullDecimal `json:"beta" db:"beta"`
	TrackingError      decimal.NullDecimal `json:"trackingError" db:"tracking_error"`
	InformationRatio   decimal.NullDecimal `json:"informationRatio" db:"information_ratio"`
	PositionRatio      decimal.NullDecimal `json:"positionRatio" db:"position_ratio"`
	Contribution       decimal.NullDecimal `json:"contribution" db:"contribution"`
}

// HoldingAnalyticsSnapshot is an analytics row for one holding
type HoldingAnalyticsSnapshot struct {
	UserID    int64     `json:"userId" db:"user_id"`
	HoldingID int64     `json:"holdingId" db:"holding_id"`
	Date      time.Time `json:"date" db:"snapshot_date"`
	WindowKey string    `json:"windowKey" db:"window_key"`
	AnalyticsMetrics
}

// PortfolioAnalyticsSnapshot is an analytics row for a user's portfolio
type PortfolioAnalyticsSnapshot struct {
	UserID    int64     `json:"userId" db:"user_id"`
	Date      time.Time `json:"date" db:"snapshot_date"`
	WindowKey string    `json:"windowKey" db:"window_key"`
	AnalyticsMetrics
}
