// Package api provides the operations HTTP server: task inspection and
// control, recompute triggers and market data ingestion.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fund-analytics/internal/logging"
	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/service"
	"github.com/fund-analytics/internal/storage"
	"github.com/gorilla/mux"
)

// Service interfaces for dependency injection and testing

// TaskManager defines the operator actions on the task log
type TaskManager interface {
	List(ctx context.Context, f storage.TaskFilter) ([]*models.TaskLog, error)
	Get(ctx context.Context, id string) (*models.TaskLog, error)
	Cancel(ctx context.Context, id string) (*models.TaskLog, error)
	Retry(ctx context.Context, id string) (*models.TaskLog, error)
}

// RebuildTrigger defines the manual recompute entry points
type RebuildTrigger interface {
	EnqueueHoldingRecompute(ctx context.Context, userID, holdingID int64) error
	EnqueueUserRebuild(ctx context.Context, userID int64) (int, error)
}

// TradeRecorder defines the trade write path
type TradeRecorder interface {
	Record(ctx context.Context, holding *models.Holding, t *models.Trade) (*models.Trade, error)
	Edit(ctx context.Context, userID, tradeID int64, update service.TradeUpdate) (*models.Trade, error)
	Delete(ctx context.Context, userID, tradeID int64) error
}

// NavIngester stores NAV series delivered by the provider
type NavIngester interface {
	Ingest(ctx context.Context, holdingID int64, points []*models.NavPoint) (int, error)
}

// BenchmarkIngester stores benchmark closes delivered by the provider
type BenchmarkIngester interface {
	Ingest(ctx context.Context, benchmarkID int64, closes []service.BenchmarkClose) (int, error)
}

// SettingsStore reads and writes per-user analytics settings
type SettingsStore interface {
	Get(ctx context.Context, userID int64) (*models.UserSettings, error)
	Upsert(ctx context.Context, s *models.UserSettings) error
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups the collaborators the server routes to
type Services struct {
	Tasks      TaskManager
	Rebuilds   RebuildTrigger
	Trades     TradeRecorder
	Navs       NavIngester
	Benchmarks BenchmarkIngester
	Settings   SettingsStore
	Health     map[string]Pinger
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	services   Services
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  int // per client, 0 disables limiting
	Burst           int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, services Services) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		config:   config,
	}
	s.setupRouter()
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	if s.config.RequestsPerSec > 0 {
		s.router.Use(RateLimitMiddleware(NewRateLimiter(s.config.RequestsPerSec, s.config.Burst)))
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

const apiPrefix = "/api/v1"

// setupRoutes registers every route on the root router so that a method
// mismatch answers 405 instead of the subrouter's 404.
func (s *Server) setupRoutes() {
	s.router.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)
	s.router.NotFoundHandler = http.HandlerFunc(handleNotFound)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := func(path string, h http.HandlerFunc, method string) {
		s.router.HandleFunc(apiPrefix+path, h).Methods(method)
	}

	// Task log
	api("/tasks", s.handleListTasks, "GET")
	api("/tasks/{id}", s.handleGetTask, "GET")
	api("/tasks/{id}/cancel", s.handleCancelTask, "POST")
	api("/tasks/{id}/retry", s.handleRetryTask, "POST")

	// Recompute triggers
	api("/users/{user_id}/rebuild", s.handleRebuildUser, "POST")
	api("/users/{user_id}/holdings/{holding_id}/rebuild", s.handleRebuildHolding, "POST")

	// Trades
	api("/users/{user_id}/trades", s.handleRecordTrade, "POST")
	api("/users/{user_id}/trades/{trade_id}", s.handleEditTrade, "PATCH")
	api("/users/{user_id}/trades/{trade_id}", s.handleDeleteTrade, "DELETE")

	// Settings
	api("/users/{user_id}/settings", s.handleGetSettings, "GET")
	api("/users/{user_id}/settings", s.handlePutSettings, "PUT")

	// Market data
	api("/holdings/{holding_id}/navs", s.handleIngestNavs, "POST")
	api("/benchmarks/{benchmark_id}/closes", s.handleIngestBenchmark, "POST")
}

// handleHealth pings every backing store
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.services.Health))
	healthy := true
	for name, p := range s.services.Health {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"status":  status,
		"service": "fund-analytics",
		"checks":  checks,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting ops server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down ops server...")
	return s.httpServer.Shutdown(ctx)
}
