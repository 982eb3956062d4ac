package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fund-analytics/internal/calendar"
	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/types"
	"github.com/shopspring/decimal"
)

// Mock repositories for testing

type mockTradeRepository struct {
	mu     sync.Mutex
	trades map[int64]*models.Trade
	nextID int64
}

func newMockTradeRepository() *mockTradeRepository {
	return &mockTradeRepository{trades: make(map[int64]*models.Trade)}
}

func (m *mockTradeRepository) Create(ctx context.Context, t *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t.ID = m.nextID
	cp := *t
	m.trades[t.ID] = &cp
	return nil
}

func (m *mockTradeRepository) Update(ctx context.Context, t *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.trades[t.ID] = &cp
	return nil
}

func (m *mockTradeRepository) Delete(ctx context.Context, userID, tradeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trades[tradeID]; ok && t.UserID == userID {
		delete(m.trades, tradeID)
		return nil
	}
	return apperrors.NewNotFoundError("trade", "")
}

func (m *mockTradeRepository) GetByID(ctx context.Context, userID, tradeID int64) (*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trades[tradeID]; ok && t.UserID == userID {
		cp := *t
		return &cp, nil
	}
	return nil, apperrors.NewNotFoundError("trade", "")
}

func (m *mockTradeRepository) ListByHolding(ctx context.Context, userID, holdingID int64) ([]*models.Trade, error) {
	return m.filter(userID, holdingID, func(*models.Trade) bool { return true }), nil
}

func (m *mockTradeRepository) ListByHoldingInRange(ctx context.Context, userID, holdingID int64, after, upTo time.Time) ([]*models.Trade, error) {
	return m.filter(userID, holdingID, func(t *models.Trade) bool {
		return t.Date.After(after) && !t.Date.After(upTo)
	}), nil
}

func (m *mockTradeRepository) UpdateCycles(ctx context.Context, trades []*models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range trades {
		if stored, ok := m.trades[t.ID]; ok {
			stored.Cycle = t.Cycle
			stored.Cleared = t.Cleared
		}
	}
	return nil
}

func (m *mockTradeRepository) filter(userID, holdingID int64, keep func(*models.Trade) bool) []*models.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Trade
	for _, t := range m.trades {
		if t.UserID == userID && t.HoldingID == holdingID && keep(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type mockHoldingRepository struct {
	holdings map[int64]*models.Holding
	statuses map[[2]int64]types.HoldingStatus
	nextID   int64
}

func newMockHoldingRepository() *mockHoldingRepository {
	return &mockHoldingRepository{
		holdings: make(map[int64]*models.Holding),
		statuses: make(map[[2]int64]types.HoldingStatus),
	}
}

func (m *mockHoldingRepository) GetByID(ctx context.Context, id int64) (*models.Holding, error) {
	if h, ok := m.holdings[id]; ok {
		return h, nil
	}
	return nil, apperrors.NewNotFoundError("holding", "")
}

func (m *mockHoldingRepository) GetOrCreate(ctx context.Context, holding *models.Holding) (*models.Holding, error) {
	for _, h := range m.holdings {
		if h.Code == holding.Code {
			return h, nil
		}
	}
	m.nextID++
	cp := *holding
	cp.ID = m.nextID
	m.holdings[cp.ID] = &cp
	return &cp, nil
}

func (m *mockHoldingRepository) EnsureUserHolding(ctx context.Context, userID, holdingID int64) error {
	key := [2]int64{userID, holdingID}
	if _, ok := m.statuses[key]; !ok {
		m.statuses[key] = types.HoldingNotHeld
	}
	return nil
}

func (m *mockHoldingRepository) UpdateStatus(ctx context.Context, userID, holdingID int64, status types.HoldingStatus) error {
	m.statuses[[2]int64{userID, holdingID}] = status
	return nil
}

type mockNavRepository struct {
	points map[int64]map[time.Time]*models.NavPoint
}

func newMockNavRepository() *mockNavRepository {
	return &mockNavRepository{points: make(map[int64]map[time.Time]*models.NavPoint)}
}

func (m *mockNavRepository) set(holdingID int64, day time.Time, nav string) {
	if m.points[holdingID] == nil {
		m.points[holdingID] = make(map[time.Time]*models.NavPoint)
	}
	m.points[holdingID][day] = &models.NavPoint{HoldingID: holdingID, Date: day, NavPerUnit: dec(nav)}
}

func (m *mockNavRepository) Upsert(ctx context.Context, points []*models.NavPoint) error {
	for _, p := range points {
		if m.points[p.HoldingID] == nil {
			m.points[p.HoldingID] = make(map[time.Time]*models.NavPoint)
		}
		m.points[p.HoldingID][p.Date] = p
	}
	return nil
}

func (m *mockNavRepository) Get(ctx context.Context, holdingID int64, day time.Time) (*models.NavPoint, error) {
	return m.points[holdingID][day], nil
}

func (m *mockNavRepository) ListRange(ctx context.Context, holdingID int64, from, to time.Time) ([]*models.NavPoint, error) {
	var out []*models.NavPoint
	for d, p := range m.points[holdingID] {
		if !d.Before(from) && !d.After(to) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

type mockBenchmarkRepository struct {
	points map[int64][]*models.BenchmarkPoint
}

func newMockBenchmarkRepository() *mockBenchmarkRepository {
	return &mockBenchmarkRepository{points: make(map[int64][]*models.BenchmarkPoint)}
}

func (m *mockBenchmarkRepository) Upsert(ctx context.Context, points []*models.BenchmarkPoint) error {
	for _, p := range points {
		m.points[p.BenchmarkID] = append(m.points[p.BenchmarkID], p)
	}
	return nil
}

func (m *mockBenchmarkRepository) LastBefore(ctx context.Context, benchmarkID int64, day time.Time) (*models.BenchmarkPoint, error) {
	var last *models.BenchmarkPoint
	for _, p := range m.points[benchmarkID] {
		if p.Date.Before(day) && (last == nil || p.Date.After(last.Date)) {
			last = p
		}
	}
	return last, nil
}

func (m *mockBenchmarkRepository) ListRange(ctx context.Context, benchmarkID int64, from, to time.Time) ([]*models.BenchmarkPoint, error) {
	var out []*models.BenchmarkPoint
	for _, p := range m.points[benchmarkID] {
		if !p.Date.Before(from) && !p.Date.After(to) {
			out = append(out, p)
		}
	}
	return out, nil
}

type holdingSnapKey struct {
	userID, holdingID int64
	date              time.Time
}

type mockHoldingSnapshotRepository struct {
	rows map[holdingSnapKey]*models.HoldingSnapshot
}

func newMockHoldingSnapshotRepository() *mockHoldingSnapshotRepository {
	return &mockHoldingSnapshotRepository{rows: make(map[holdingSnapKey]*models.HoldingSnapshot)}
}

func (m *mockHoldingSnapshotRepository) DeleteByHolding(ctx context.Context, userID, holdingID int64) error {
	for k := range m.rows {
		if k.userID == userID && k.holdingID == holdingID {
			delete(m.rows, k)
		}
	}
	return nil
}

func (m *mockHoldingSnapshotRepository) Insert(ctx context.Context, snapshots []*models.HoldingSnapshot) error {
	for _, s := range snapshots {
		cp := *s
		m.rows[holdingSnapKey{s.UserID, s.HoldingID, s.Date}] = &cp
	}
	return nil
}

func (m *mockHoldingSnapshotRepository) Replace(ctx context.Context, s *models.HoldingSnapshot) error {
	return m.Insert(ctx, []*models.HoldingSnapshot{s})
}

func (m *mockHoldingSnapshotRepository) LatestBefore(ctx context.Context, userID, holdingID int64, day time.Time) (*models.HoldingSnapshot, error) {
	var last *models.HoldingSnapshot
	for k, s := range m.rows {
		if k.userID == userID && k.holdingID == holdingID && k.date.Before(day) && (last == nil || k.date.After(last.Date)) {
			last = s
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

func (m *mockHoldingSnapshotRepository) ListByHolding(ctx context.Context, userID, holdingID int64, upTo time.Time) ([]*models.HoldingSnapshot, error) {
	return m.list(func(k holdingSnapKey) bool {
		return k.userID == userID && k.holdingID == holdingID && !k.date.After(upTo)
	}), nil
}

func (m *mockHoldingSnapshotRepository) ListByUserOnDay(ctx context.Context, userID int64, day time.Time) ([]*models.HoldingSnapshot, error) {
	return m.list(func(k holdingSnapKey) bool { return k.userID == userID && k.date.Equal(day) }), nil
}

func (m *mockHoldingSnapshotRepository) ListByUser(ctx context.Context, userID int64) ([]*models.HoldingSnapshot, error) {
	return m.list(func(k holdingSnapKey) bool { return k.userID == userID }), nil
}

func (m *mockHoldingSnapshotRepository) list(keep func(holdingSnapKey) bool) []*models.HoldingSnapshot {
	var out []*models.HoldingSnapshot
	for k, s := range m.rows {
		if keep(k) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].HoldingID < out[j].HoldingID
	})
	return out
}

type portfolioSnapKey struct {
	userID int64
	date   time.Time
}

type mockPortfolioSnapshotRepository struct {
	rows map[portfolioSnapKey]*models.PortfolioSnapshot
}

func newMockPortfolioSnapshotRepository() *mockPortfolioSnapshotRepository {
	return &mockPortfolioSnapshotRepository{rows: make(map[portfolioSnapKey]*models.PortfolioSnapshot)}
}

func (m *mockPortfolioSnapshotRepository) DeleteByUser(ctx context.Context, userID int64) error {
	for k := range m.rows {
		if k.userID == userID {
			delete(m.rows, k)
		}
	}
	return nil
}

func (m *mockPortfolioSnapshotRepository) DeleteOn(ctx context.Context, userID int64, day time.Time) error {
	delete(m.rows, portfolioSnapKey{userID, day})
	return nil
}

func (m *mockPortfolioSnapshotRepository) Replace(ctx context.Context, s *models.PortfolioSnapshot) error {
	cp := *s
	m.rows[portfolioSnapKey{s.UserID, s.Date}] = &cp
	return nil
}

func (m *mockPortfolioSnapshotRepository) LatestBefore(ctx context.Context, userID int64, day time.Time) (*models.PortfolioSnapshot, error) {
	var last *models.PortfolioSnapshot
	for k, s := range m.rows {
		if k.userID == userID && k.date.Before(day) && (last == nil || k.date.After(last.Date)) {
			last = s
		}
	}
	return last, nil
}

func (m *mockPortfolioSnapshotRepository) ListByUser(ctx context.Context, userID int64, upTo time.Time) ([]*models.PortfolioSnapshot, error) {
	var out []*models.PortfolioSnapshot
	for k, s := range m.rows {
		if k.userID == userID && !k.date.After(upTo) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

type mockAnalyticsRepository struct {
	holding   map[holdingSnapKey][]*models.HoldingAnalyticsSnapshot
	portfolio map[portfolioSnapKey][]*models.PortfolioAnalyticsSnapshot
}

func newMockAnalyticsRepository() *mockAnalyticsRepository {
	return &mockAnalyticsRepository{
		holding:   make(map[holdingSnapKey][]*models.HoldingAnalyticsSnapshot),
		portfolio: make(map[portfolioSnapKey][]*models.PortfolioAnalyticsSnapshot),
	}
}

func (m *mockAnalyticsRepository) ReplaceHolding(ctx context.Context, userID, holdingID int64, day time.Time, rows []*models.HoldingAnalyticsSnapshot) error {
	key := holdingSnapKey{userID, holdingID, day}
	if len(rows) == 0 {
		delete(m.holding, key)
		return nil
	}
	m.holding[key] = rows
	return nil
}

func (m *mockAnalyticsRepository) ReplacePortfolio(ctx context.Context, userID int64, day time.Time, rows []*models.PortfolioAnalyticsSnapshot) error {
	key := portfolioSnapKey{userID, day}
	if len(rows) == 0 {
		delete(m.portfolio, key)
		return nil
	}
	m.portfolio[key] = rows
	return nil
}

func (m *mockAnalyticsRepository) DeleteHolding(ctx context.Context, userID, holdingID int64) error {
	for k := range m.holding {
		if k.userID == userID && k.holdingID == holdingID {
			delete(m.holding, k)
		}
	}
	return nil
}

func (m *mockAnalyticsRepository) DeletePortfolio(ctx context.Context, userID int64) error {
	for k := range m.portfolio {
		if k.userID == userID {
			delete(m.portfolio, k)
		}
	}
	return nil
}

type mockSettings struct {
	settings map[int64]*models.UserSettings
}

func (m *mockSettings) Get(ctx context.Context, userID int64) (*models.UserSettings, error) {
	if s, ok := m.settings[userID]; ok {
		return s, nil
	}
	return models.DefaultUserSettings(userID), nil
}

type staticWindows []models.AnalyticsWindow

func (w staticWindows) Windows(ctx context.Context) ([]models.AnalyticsWindow, error) {
	return w, nil
}

// inlineTx runs the function without a real transaction
type inlineTx struct{}

func (inlineTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockLocker struct {
	held map[string]bool
}

func newMockLocker() *mockLocker {
	return &mockLocker{held: make(map[string]bool)}
}

func (m *mockLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if m.held[key] {
		return nil, apperrors.NewLockBusyError(key)
	}
	m.held[key] = true
	return func() { delete(m.held, key) }, nil
}

type enqueuedRebuild struct {
	userID, holdingID int64
	reason            string
}

type mockEnqueuer struct {
	rebuilds   []enqueuedRebuild
	downstream []enqueuedRebuild
}

func (m *mockEnqueuer) EnqueueHoldingRebuild(ctx context.Context, userID, holdingID int64, reason string) error {
	m.rebuilds = append(m.rebuilds, enqueuedRebuild{userID, holdingID, reason})
	return nil
}

func (m *mockEnqueuer) EnqueueDownstream(ctx context.Context, userID, holdingID int64) error {
	m.downstream = append(m.downstream, enqueuedRebuild{userID: userID, holdingID: holdingID})
	return nil
}

// Fixtures

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// weekdays returns the Monday-Friday days of 2024, the trading calendar used in tests
func weekdays() []time.Time {
	var days []time.Time
	for d := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); d.Year() == 2024; d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			days = append(days, d)
		}
	}
	return days
}

var testDays = weekdays()

// td returns the n-th trading day of the test calendar
func td(n int) time.Time {
	return testDays[n]
}

type fixture struct {
	trades     *mockTradeRepository
	holdings   *mockHoldingRepository
	navs       *mockNavRepository
	benchmarks *mockBenchmarkRepository
	hsnaps     *mockHoldingSnapshotRepository
	psnaps     *mockPortfolioSnapshotRepository
	analytics  *mockAnalyticsRepository
	settings   *mockSettings
	locker     *mockLocker
	enqueuer   *mockEnqueuer
	calendar   *calendar.Calendar

	normalizer *CycleNormalizer
	builder    *HoldingSnapshotBuilder
	aggregator *PortfolioAggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		trades:     newMockTradeRepository(),
		holdings:   newMockHoldingRepository(),
		navs:       newMockNavRepository(),
		benchmarks: newMockBenchmarkRepository(),
		hsnaps:     newMockHoldingSnapshotRepository(),
		psnaps:     newMockPortfolioSnapshotRepository(),
		analytics:  newMockAnalyticsRepository(),
		settings:   &mockSettings{settings: map[int64]*models.UserSettings{}},
		locker:     newMockLocker(),
		enqueuer:   &mockEnqueuer{},
		calendar:   calendar.FromDays(testDays),
	}
	f.normalizer = NewCycleNormalizer(f.trades, f.holdings, inlineTx{})
	f.builder = NewHoldingSnapshotBuilder(f.trades, f.navs, f.hsnaps, f.calendar, inlineTx{}, f.locker, f.enqueuer)
	f.aggregator = NewPortfolioAggregator(f.hsnaps, f.psnaps, f.calendar, inlineTx{})
	return f
}

// today moves the builder clock so that day is the last trading day rebuilt
func (f *fixture) today(day time.Time) {
	next, _ := f.calendar.Next(day)
	f.builder.now = func() time.Time { return next.Add(9 * time.Hour) }
}

func (f *fixture) navSeries(holdingID int64, from int, navs ...string) {
	for i, n := range navs {
		f.navs.set(holdingID, td(from+i), n)
	}
}

func (f *fixture) flatNav(holdingID int64, from, to int, nav string) {
	for i := from; i <= to; i++ {
		f.navs.set(holdingID, td(i), nav)
	}
}

func (f *fixture) addTrade(t *models.Trade) *models.Trade {
	if err := ValidateTrade(t); err != nil {
		panic(err)
	}
	_ = f.trades.Create(context.Background(), t)
	return t
}

func buy(userID, holdingID int64, day time.Time, shares, nav, fee string) *models.Trade {
	return &models.Trade{UserID: userID, HoldingID: holdingID, Type: types.TradeBuy, Date: day,
		Shares: dec(shares), NavPerUnit: dec(nav), Fee: dec(fee)}
}

func sell(userID, holdingID int64, day time.Time, shares, nav, fee string) *models.Trade {
	return &models.Trade{UserID: userID, HoldingID: holdingID, Type: types.TradeSell, Date: day,
		Shares: dec(shares), NavPerUnit: dec(nav), Fee: dec(fee)}
}

func cashDividend(userID, holdingID int64, day time.Time, amount string) *models.Trade {
	return &models.Trade{UserID: userID, HoldingID: holdingID, Type: types.TradeDividend,
		DividendKind: types.DividendCash, Date: day, Amount: dec(amount)}
}

func reinvestDividend(userID, holdingID int64, day time.Time, shares, amount string) *models.Trade {
	return &models.Trade{UserID: userID, HoldingID: holdingID, Type: types.TradeDividend,
		DividendKind: types.DividendReinvest, Date: day, Shares: dec(shares), Amount: dec(amount)}
}

func (f *fixture) snapshot(userID, holdingID int64, day time.Time) *models.HoldingSnapshot {
	return f.hsnaps.rows[holdingSnapKey{userID, holdingID, day}]
}
