package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/service"
	"github.com/fund-analytics/internal/storage"
	"github.com/fund-analytics/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTaskManager struct {
	tasks      map[string]*models.TaskLog
	lastFilter storage.TaskFilter
}

func (m *mockTaskManager) List(ctx context.Context, f storage.TaskFilter) ([]*models.TaskLog, error) {
	m.lastFilter = f
	out := make([]*models.TaskLog, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (m *mockTaskManager) Get(ctx context.Context, id string) (*models.TaskLog, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("task", id)
	}
	return t, nil
}

func (m *mockTaskManager) Cancel(ctx context.Context, id string) (*models.TaskLog, error) {
	t, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != types.TaskPending && t.Status != types.TaskRetrying {
		return nil, apperrors.NewConflictError("task cannot be cancelled")
	}
	t.Status = types.TaskCancelled
	return t, nil
}

func (m *mockTaskManager) Retry(ctx context.Context, id string) (*models.TaskLog, error) {
	t, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != types.TaskFailed && t.Status != types.TaskCancelled {
		return nil, apperrors.NewConflictError("task cannot be retried")
	}
	t.Status = types.TaskPending
	t.Retries = 0
	return t, nil
}

type mockRebuildTrigger struct {
	holdings [][2]int64
	users    []int64
}

func (m *mockRebuildTrigger) EnqueueHoldingRecompute(ctx context.Context, userID, holdingID int64) error {
	m.holdings = append(m.holdings, [2]int64{userID, holdingID})
	return nil
}

func (m *mockRebuildTrigger) EnqueueUserRebuild(ctx context.Context, userID int64) (int, error) {
	m.users = append(m.users, userID)
	return 4, nil
}

type mockTradeRecorder struct {
	recorded []*models.Trade
	updates  []service.TradeUpdate
	err      error
}

func (m *mockTradeRecorder) Record(ctx context.Context, holding *models.Holding, t *models.Trade) (*models.Trade, error) {
	if m.err != nil {
		return nil, m.err
	}
	if t.HoldingID == 0 {
		t.HoldingID = 42
	}
	t.ID = int64(len(m.recorded) + 1)
	m.recorded = append(m.recorded, t)
	return t, nil
}

func (m *mockTradeRecorder) Edit(ctx context.Context, userID, tradeID int64, update service.TradeUpdate) (*models.Trade, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.updates = append(m.updates, update)
	return &models.Trade{ID: tradeID, UserID: userID}, nil
}

func (m *mockTradeRecorder) Delete(ctx context.Context, userID, tradeID int64) error {
	return m.err
}

type mockNavIngester struct {
	points []*models.NavPoint
}

func (m *mockNavIngester) Ingest(ctx context.Context, holdingID int64, points []*models.NavPoint) (int, error) {
	m.points = append(m.points, points...)
	return len(points) - 1, nil
}

type mockBenchmarkIngester struct {
	closes []service.BenchmarkClose
}

func (m *mockBenchmarkIngester) Ingest(ctx context.Context, benchmarkID int64, closes []service.BenchmarkClose) (int, error) {
	m.closes = append(m.closes, closes...)
	return len(closes), nil
}

type mockSettingsStore struct {
	settings map[int64]*models.UserSettings
}

func (m *mockSettingsStore) Get(ctx context.Context, userID int64) (*models.UserSettings, error) {
	if s, ok := m.settings[userID]; ok {
		return s, nil
	}
	return models.DefaultUserSettings(userID), nil
}

func (m *mockSettingsStore) Upsert(ctx context.Context, s *models.UserSettings) error {
	m.settings[s.UserID] = s
	return nil
}

type mockPinger struct{ err error }

func (m mockPinger) Ping(ctx context.Context) error { return m.err }

type testServer struct {
	*Server
	tasks      *mockTaskManager
	rebuilds   *mockRebuildTrigger
	trades     *mockTradeRecorder
	navs       *mockNavIngester
	benchmarks *mockBenchmarkIngester
	settings   *mockSettingsStore
}

func createTestServer() *testServer {
	ts := &testServer{
		tasks: &mockTaskManager{tasks: map[string]*models.TaskLog{
			"t-pending": {ID: "t-pending", Name: "holding.rebuild", Status: types.TaskPending},
			"t-failed":  {ID: "t-failed", Name: "portfolio.rebuild", Status: types.TaskFailed, Retries: 6},
			"t-running": {ID: "t-running", Name: "holding.append_day", Status: types.TaskRunning},
		}},
		rebuilds:   &mockRebuildTrigger{},
		trades:     &mockTradeRecorder{},
		navs:       &mockNavIngester{},
		benchmarks: &mockBenchmarkIngester{},
		settings:   &mockSettingsStore{settings: map[int64]*models.UserSettings{}},
	}
	ts.Server = NewServer(&ServerConfig{Host: "localhost", Port: "0", ReadTimeout: time.Second}, Services{
		Tasks:      ts.tasks,
		Rebuilds:   ts.rebuilds,
		Trades:     ts.trades,
		Navs:       ts.navs,
		Benchmarks: ts.benchmarks,
		Settings:   ts.settings,
		Health:     map[string]Pinger{"postgres": mockPinger{}},
	})
	return ts
}

func (ts *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ServiceError {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	ts := createTestServer()
	w := ts.do("GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	ts.services.Health["redis"] = mockPinger{err: errors.New("connection refused")}
	w = ts.do("GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestListTasks_Filters(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantCode   int
		wantLimit  int
		wantStatus types.TaskStatus
	}{
		{name: "defaults", query: "", wantCode: http.StatusOK, wantLimit: defaultTaskLimit},
		{name: "status filter", query: "?status=FAILED", wantCode: http.StatusOK, wantLimit: defaultTaskLimit, wantStatus: types.TaskFailed},
		{name: "excessive limit is capped", query: "?limit=10000", wantCode: http.StatusOK, wantLimit: maxTaskLimit},
		{name: "non-numeric limit uses default", query: "?limit=abc", wantCode: http.StatusOK, wantLimit: defaultTaskLimit},
		{name: "unknown status", query: "?status=DONE", wantCode: http.StatusBadRequest},
		{name: "bad user id", query: "?user_id=-1", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := createTestServer()
			w := ts.do("GET", "/api/v1/tasks"+tt.query, nil)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCode != http.StatusOK {
				assert.Equal(t, "INVALID_INPUT", decodeError(t, w).Code)
				return
			}
			assert.Equal(t, tt.wantLimit, ts.tasks.lastFilter.Limit)
			if tt.wantStatus != "" {
				require.NotNil(t, ts.tasks.lastFilter.Status)
				assert.Equal(t, tt.wantStatus, *ts.tasks.lastFilter.Status)
			}
		})
	}
}

func TestGetTask(t *testing.T) {
	ts := createTestServer()

	w := ts.do("GET", "/api/v1/tasks/t-failed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var task models.TaskLog
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	assert.Equal(t, "portfolio.rebuild", task.Name)

	w = ts.do("GET", "/api/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelAndRetryTask(t *testing.T) {
	ts := createTestServer()

	w := ts.do("POST", "/api/v1/tasks/t-pending/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.TaskCancelled, ts.tasks.tasks["t-pending"].Status)

	w = ts.do("POST", "/api/v1/tasks/t-running/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", decodeError(t, w).Code)

	w = ts.do("POST", "/api/v1/tasks/t-failed/retry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.TaskPending, ts.tasks.tasks["t-failed"].Status)

	w = ts.do("GET", "/api/v1/tasks/t-failed/retry", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, ErrCodeMethod, decodeError(t, w).Code)

	w = ts.do("DELETE", "/api/v1/users/1/settings", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = ts.do("GET", "/api/v1/no-such-route", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotFound, decodeError(t, w).Code)
}

func TestRebuildTriggers(t *testing.T) {
	ts := createTestServer()

	w := ts.do("POST", "/api/v1/users/7/rebuild", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []int64{7}, ts.rebuilds.users)

	w = ts.do("POST", "/api/v1/users/7/holdings/3/rebuild", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, [][2]int64{{7, 3}}, ts.rebuilds.holdings)

	w = ts.do("POST", "/api/v1/users/abc/rebuild", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordTrade(t *testing.T) {
	ts := createTestServer()

	w := ts.do("POST", "/api/v1/users/1/trades", map[string]interface{}{
		"holdingCode": "000001",
		"type":        "BUY",
		"date":        "2024-03-05",
		"navPerUnit":  "1.5",
		"shares":      "1000",
		"fee":         "1.5",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, ts.trades.recorded, 1)
	got := ts.trades.recorded[0]
	assert.Equal(t, int64(1), got.UserID)
	assert.Equal(t, types.TradeBuy, got.Type)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), got.Date)
	assert.True(t, decimal.RequireFromString("1000").Equal(got.Shares))
}

func TestRecordTrade_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     interface{}
		err      error
		wantCode int
	}{
		{name: "malformed json", body: "{", wantCode: http.StatusBadRequest},
		{name: "unknown field", body: map[string]interface{}{"date": "2024-03-05", "bogus": 1}, wantCode: http.StatusBadRequest},
		{name: "bad date", body: map[string]interface{}{"date": "05/03/2024"}, wantCode: http.StatusBadRequest},
		{
			name:     "oversell",
			body:     map[string]interface{}{"date": "2024-03-05", "type": "SELL"},
			err:      apperrors.NewOversellError(1, 2, 3, "10", "20"),
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "database failure hides details",
			body:     map[string]interface{}{"date": "2024-03-05", "type": "BUY"},
			err:      apperrors.NewDatabaseError("insert trade", errors.New("password authentication failed")),
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := createTestServer()
			ts.trades.err = tt.err
			w := ts.do("POST", "/api/v1/users/1/trades", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.NotContains(t, w.Body.String(), "password")
		})
	}
}

func TestEditAndDeleteTrade(t *testing.T) {
	ts := createTestServer()

	w := ts.do("PATCH", "/api/v1/users/1/trades/9", map[string]interface{}{
		"shares": "200",
		"date":   "2024-03-06",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, ts.trades.updates, 1)
	update := ts.trades.updates[0]
	require.NotNil(t, update.Shares)
	assert.True(t, decimal.NewFromInt(200).Equal(*update.Shares))
	require.NotNil(t, update.Date)
	assert.Nil(t, update.Fee)

	w = ts.do("DELETE", "/api/v1/users/1/trades/9", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	ts.trades.err = apperrors.NewNotFoundError("trade", "9")
	w = ts.do("DELETE", "/api/v1/users/1/trades/9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIngestMarketData(t *testing.T) {
	ts := createTestServer()

	w := ts.do("POST", "/api/v1/holdings/5/navs", map[string]interface{}{
		"points": []map[string]interface{}{
			{"date": "2024-03-04", "navPerUnit": "1.01", "accumulatedNav": "1.21"},
			{"date": "2024-03-05", "navPerUnit": "1.02", "accumulatedNav": "1.22", "dailyReturn": "0.0099"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, ts.navs.points, 2)
	assert.False(t, ts.navs.points[0].DailyReturn.Valid)
	assert.True(t, ts.navs.points[1].DailyReturn.Valid)
	assert.Equal(t, int64(5), ts.navs.points[0].HoldingID)
	assert.Contains(t, w.Body.String(), `"skipped":1`)

	w = ts.do("POST", "/api/v1/benchmarks/9/closes", map[string]interface{}{
		"closes": []map[string]interface{}{{"date": "2024-03-05", "close": "3500.5"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, ts.benchmarks.closes, 1)
}

func TestSettings(t *testing.T) {
	ts := createTestServer()

	w := ts.do("GET", "/api/v1/users/3/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"riskFreeRate":"0.02"`)

	w = ts.do("PUT", "/api/v1/users/3/settings", map[string]interface{}{"riskFreeRate": "0.03", "benchmarkId": 9})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, ts.settings.settings[3].BenchmarkID)
	assert.Equal(t, int64(9), *ts.settings.settings[3].BenchmarkID)

	w = ts.do("PUT", "/api/v1/users/3/settings", map[string]interface{}{"riskFreeRate": "1.5"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	ts := createTestServer()
	ts.Server = NewServer(&ServerConfig{RequestsPerSec: 1, Burst: 2}, ts.services)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, ts.do("GET", "/api/v1/tasks", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
