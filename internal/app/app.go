// Package app wires configuration, stores and services into the object graph
// shared by the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/fund-analytics/internal/analytics"
	"github.com/fund-analytics/internal/calendar"
	"github.com/fund-analytics/internal/config"
	"github.com/fund-analytics/internal/logging"
	"github.com/fund-analytics/internal/retry"
	"github.com/fund-analytics/internal/service"
	"github.com/fund-analytics/internal/storage"
	"github.com/fund-analytics/internal/task"
)

// App holds the connections and services of one process
type App struct {
	Config   *config.Config
	Postgres *storage.PostgresDB
	Redis    *storage.RedisCache
	Calendar *calendar.Calendar

	Tasks    *storage.TaskRepository
	Holdings *storage.HoldingRepository
	Settings *storage.CachedSettings

	Builder    *service.HoldingSnapshotBuilder
	Aggregator *service.PortfolioAggregator
	Analytics  *service.AnalyticsService
	Trades     *service.TradeService
	Navs       *service.NavService
	Benchmarks *service.BenchmarkService

	Producer *task.Producer
	Manager  *task.Manager
	Registry *task.Registry
}

// InitLogging configures the global logger from cfg
func InitLogging(cfg *config.Config) *logging.Logger {
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")
	return logger
}

// New connects to Postgres and Redis and builds every service
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.FromContext(ctx)
	a := &App{Config: cfg}

	logger.Info("Connecting to databases...")

	// Postgres may still be starting when the worker comes up
	connect := retry.WithExponentialBackoff(ctx, retry.DefaultRetryConfig(), nil, func(ctx context.Context, attempt int) error {
		db, err := storage.NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			return err
		}
		a.Postgres = db
		return nil
	})
	if !connect.Success {
		return nil, fmt.Errorf("failed to connect to Postgres after %d attempts: %w", connect.Attempts, connect.LastError)
	}

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	a.Redis = redis

	cal, err := calendar.New(cfg.Calendar.Path)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := cal.EnsureLoaded(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load trading calendar: %w", err)
	}
	a.Calendar = cal

	logger.Info("Database connections established")

	// Repositories
	trades := storage.NewTradeRepository(a.Postgres)
	navs := storage.NewNavRepository(a.Postgres)
	benchmarks := storage.NewBenchmarkRepository(a.Postgres)
	holdingSnapshots := storage.NewHoldingSnapshotRepository(a.Postgres)
	portfolioSnapshots := storage.NewPortfolioSnapshotRepository(a.Postgres)
	analyticsRepo := storage.NewAnalyticsRepository(a.Postgres)
	a.Tasks = storage.NewTaskRepository(a.Postgres)
	a.Holdings = storage.NewHoldingRepository(a.Postgres)

	cache := storage.NewCacheService(a.Redis, cfg.Database.Redis.CacheTTL)
	a.Settings = storage.NewCachedSettings(storage.NewUserSettingsRepository(a.Postgres), cache)
	windows := storage.NewCachedWindows(analyticsRepo, cache)
	locker := storage.NewRedisLocker(a.Redis, cfg.Tasks.LockTTL)

	// Task layer
	a.Producer = task.NewProducer(a.Tasks, a.Holdings, cfg.Tasks.MaxRetries)
	a.Manager = task.NewManager(a.Tasks)

	// Services
	logger.Info("Initializing services...")
	normalizer := service.NewCycleNormalizer(trades, a.Holdings, a.Postgres)
	a.Builder = service.NewHoldingSnapshotBuilder(trades, navs, holdingSnapshots, a.Calendar, a.Postgres, locker, a.Producer)
	a.Aggregator = service.NewPortfolioAggregator(holdingSnapshots, portfolioSnapshots, a.Calendar, a.Postgres)
	a.Analytics = service.NewAnalyticsService(
		holdingSnapshots,
		portfolioSnapshots,
		analyticsRepo,
		windows,
		a.Settings,
		benchmarks,
		a.Postgres,
		analytics.ConfigFrom(cfg.Analytics),
	)
	a.Trades = service.NewTradeService(trades, a.Holdings, normalizer, a.Builder, a.Producer, a.Postgres)
	a.Navs = service.NewNavService(navs, a.Calendar)
	a.Benchmarks = service.NewBenchmarkService(benchmarks)

	a.Registry = task.NewRegistry()
	task.RegisterHandlers(a.Registry, a.Builder, a.Aggregator, a.Analytics)

	logger.WithField("handlers", len(a.Registry.Names())).Info("Services initialized")
	return a, nil
}

// Close releases the connections
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logging.GetGlobalLogger().WithError(err).Warn("Failed to close Redis")
		}
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
}
