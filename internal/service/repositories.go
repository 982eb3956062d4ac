package service

import (
	"context"
	"time"

	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/types"
)

// TradeRepository interface for trade data operations
type TradeRepository interface {
	Create(ctx context.Context, t *models.Trade) error
	Update(ctx context.Context, t *models.Trade) error
	Delete(ctx context.Context, userID, tradeID int64) error
	GetByID(ctx context.Context, userID, tradeID int64) (*models.Trade, error)
	ListByHolding(ctx context.Context, userID, holdingID int64) ([]*models.Trade, error)
	ListByHoldingInRange(ctx context.Context, userID, holdingID int64, after, upTo time.Time) ([]*models.Trade, error)
	UpdateCycles(ctx context.Context, trades []*models.Trade) error
}

// HoldingRepository interface for holding and user holding operations
type HoldingRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Holding, error)
	GetOrCreate(ctx context.Context, holding *models.Holding) (*models.Holding, error)
	EnsureUserHolding(ctx context.Context, userID, holdingID int64) error
	UpdateStatus(ctx context.Context, userID, holdingID int64, status types.HoldingStatus) error
}

// NavRepository interface for NAV series operations
type NavRepository interface {
	Upsert(ctx context.Context, points []*models.NavPoint) error
	Get(ctx context.Context, holdingID int64, day time.Time) (*models.NavPoint, error)
	ListRange(ctx context.Context, holdingID int64, from, to time.Time) ([]*models.NavPoint, error)
}

// BenchmarkRepository interface for benchmark series operations
type BenchmarkRepository interface {
	Upsert(ctx context.Context, points []*models.BenchmarkPoint) error
	LastBefore(ctx context.Context, benchmarkID int64, day time.Time) (*models.BenchmarkPoint, error)
	ListRange(ctx context.Context, benchmarkID int64, from, to time.Time) ([]*models.BenchmarkPoint, error)
}

// HoldingSnapshotRepository interface for holding snapshot operations
type HoldingSnapshotRepository interface {
	DeleteByHolding(ctx context.Context, userID, holdingID int64) error
	Insert(ctx context.Context, snapshots []*models.HoldingSnapshot) error
	Replace(ctx context.Context, s *models.HoldingSnapshot) error
	LatestBefore(ctx context.Context, userID, holdingID int64, day time.Time) (*models.HoldingSnapshot, error)
	ListByHolding(ctx context.Context, userID, holdingID int64, upTo time.Time) ([]*models.HoldingSnapshot, error)
	ListByUserOnDay(ctx context.Context, userID int64, day time.Time) ([]*models.HoldingSnapshot, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.HoldingSnapshot, error)
}

// PortfolioSnapshotRepository interface for portfolio snapshot operations
type PortfolioSnapshotRepository interface {
	DeleteByUser(ctx context.Context, userID int64) error
	DeleteOn(ctx context.Context, userID int64, day time.Time) error
	Replace(ctx context.Context, s *models.PortfolioSnapshot) error
	LatestBefore(ctx context.Context, userID int64, day time.Time) (*models.PortfolioSnapshot, error)
	ListByUser(ctx context.Context, userID int64, upTo time.Time) ([]*models.PortfolioSnapshot, error)
}

// AnalyticsRepository interface for analytics snapshot operations
type AnalyticsRepository interface {
	ReplaceHolding(ctx context.Context, userID, holdingID int64, day time.Time, rows []*models.HoldingAnalyticsSnapshot) error
	ReplacePortfolio(ctx context.Context, userID int64, day time.Time, rows []*models.PortfolioAnalyticsSnapshot) error
	DeleteHolding(ctx context.Context, userID, holdingID int64) error
	DeletePortfolio(ctx context.Context, userID int64) error
}

// WindowSource provides the configured analytics windows
type WindowSource interface {
	Windows(ctx context.Context) ([]models.AnalyticsWindow, error)
}

// SettingsSource provides per-user analytics settings
type SettingsSource interface {
	Get(ctx context.Context, userID int64) (*models.UserSettings, error)
}

// TxRunner runs fn inside a single database transaction
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker serializes work on a key across processes
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Enqueuer submits follow-up work to the task layer. Submitted work never
// runs synchronously.
type Enqueuer interface {
	// EnqueueHoldingRebuild schedules a full recompute of a (user, holding)
	EnqueueHoldingRebuild(ctx context.Context, userID, holdingID int64, reason string) error
	// EnqueueDownstream schedules the portfolio and analytics recompute that
	// follows a holding whose snapshots were already rebuilt
	EnqueueDownstream(ctx context.Context, userID, holdingID int64) error
}

// TradingCalendar answers trading-day questions
type TradingCalendar interface {
	IsTradingDay(d time.Time) bool
	Prev(d time.Time) (time.Time, bool)
	OnOrAfter(d time.Time) (time.Time, bool)
	Range(start, end time.Time) []time.Time
}
