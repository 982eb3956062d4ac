package task

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/storage"
	"github.com/fund-analytics/internal/types"
)

// mockTaskRepository mirrors the task_logs semantics in memory
type mockTaskRepository struct {
	mu     sync.Mutex
	tasks  map[string]*models.TaskLog
	order  []string
	nextID int
}

func newMockTaskRepository() *mockTaskRepository {
	return &mockTaskRepository{tasks: make(map[string]*models.TaskLog)}
}

func outstanding(s types.TaskStatus) bool {
	return s == types.TaskPending || s == types.TaskRetrying
}

func (m *mockTaskRepository) duplicateOf(t *models.TaskLog) *models.TaskLog {
	for _, id := range m.order {
		other := m.tasks[id]
		if other.ID != t.ID && other.Fingerprint == t.Fingerprint && outstanding(other.Status) {
			return other
		}
	}
	return nil
}

func (m *mockTaskRepository) Create(ctx context.Context, t *models.TaskLog) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Status = types.TaskPending
	if dup := m.duplicateOf(t); dup != nil {
		t.ID = dup.ID
		return false, nil
	}
	m.nextID++
	t.ID = fmt.Sprintf("task-%03d", m.nextID)
	t.CreatedAt = time.Now()
	cp := *t
	m.tasks[t.ID] = &cp
	m.order = append(m.order, t.ID)
	return true, nil
}

func (m *mockTaskRepository) GetByID(ctx context.Context, id string) (*models.TaskLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("task", id)
	}
	cp := *t
	return &cp, nil
}

func (m *mockTaskRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.TaskLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TaskLog
	for _, id := range m.order {
		t := m.tasks[id]
		if outstanding(t.Status) && (t.NextRetryAt == nil || !t.NextRetryAt.After(now)) {
			cp := *t
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockTaskRepository) List(ctx context.Context, f storage.TaskFilter) ([]*models.TaskLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TaskLog
	for _, id := range m.order {
		t := m.tasks[id]
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.UserID != nil && (t.UserID == nil || *t.UserID != *f.UserID) {
			continue
		}
		if f.Prefix != "" && !strings.HasPrefix(t.BusinessKey, f.Prefix) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *mockTaskRepository) Claim(ctx context.Context, id string, from types.TaskStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[id]
	if t == nil || t.Status != from {
		return false, nil
	}
	t.Status = types.TaskRunning
	return true, nil
}

func (m *mockTaskRepository) running(id string) *models.TaskLog {
	if t := m.tasks[id]; t != nil && t.Status == types.TaskRunning {
		return t
	}
	return nil
}

func (m *mockTaskRepository) MarkSuccess(ctx context.Context, id string, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.running(id); t != nil {
		t.Status = types.TaskSuccess
		t.Result = &result
		t.Error = nil
	}
	return nil
}

func (m *mockTaskRepository) MarkFailed(ctx context.Context, id string, retries int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.running(id); t != nil {
		t.Status = types.TaskFailed
		t.Retries = retries
		t.Error = &errMsg
	}
	return nil
}

func (m *mockTaskRepository) MarkRetrying(ctx context.Context, id string, retries int, next time.Time, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reschedule(id, types.TaskRetrying, retries, next, &errMsg)
}

func (m *mockTaskRepository) Requeue(ctx context.Context, id string, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reschedule(id, types.TaskPending, -1, next, nil)
}

func (m *mockTaskRepository) reschedule(id string, status types.TaskStatus, retries int, next time.Time, errMsg *string) error {
	t := m.running(id)
	if t == nil {
		return nil
	}
	if m.duplicateOf(t) != nil {
		t.Status = types.TaskCancelled
		msg := "superseded by outstanding duplicate"
		t.Result = &msg
		return nil
	}
	t.Status = status
	if retries >= 0 {
		t.Retries = retries
	}
	t.NextRetryAt = &next
	if errMsg != nil {
		t.Error = errMsg
	}
	return nil
}

func (m *mockTaskRepository) Cancel(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[id]
	if t == nil || !outstanding(t.Status) {
		return false, nil
	}
	t.Status = types.TaskCancelled
	return true, nil
}

func (m *mockTaskRepository) Rearm(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[id]
	if t == nil || (t.Status != types.TaskFailed && t.Status != types.TaskCancelled) {
		return false, nil
	}
	if m.duplicateOf(t) != nil {
		return false, apperrors.NewConflictError("an identical task is already outstanding")
	}
	t.Status = types.TaskPending
	t.Retries = 0
	t.NextRetryAt = nil
	return true, nil
}

func (m *mockTaskRepository) Dependencies(ctx context.Context, prefixes []string, excludeID string) (*storage.DependencyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := &storage.DependencyState{}
	for _, id := range m.order {
		t := m.tasks[id]
		if id == excludeID {
			continue
		}
		for _, p := range prefixes {
			if !strings.HasPrefix(t.BusinessKey, p) {
				continue
			}
			switch t.Status {
			case types.TaskPending, types.TaskRunning, types.TaskRetrying:
				state.Outstanding++
			case types.TaskFailed, types.TaskCancelled:
				state.Failed++
			}
			break
		}
	}
	return state, nil
}

func (m *mockTaskRepository) byName(name string) []*models.TaskLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TaskLog
	for _, id := range m.order {
		if t := m.tasks[id]; t.Name == name {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

func (m *mockTaskRepository) setStatus(id string, s types.TaskStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id].Status = s
}

type mockHoldingLister struct {
	active map[time.Time][]*models.UserHolding
	users  map[int64][]*models.UserHolding
}

func (m *mockHoldingLister) ListActive(ctx context.Context, day time.Time) ([]*models.UserHolding, error) {
	return m.active[day], nil
}

func (m *mockHoldingLister) ListUserHoldings(ctx context.Context, userID int64) ([]*models.UserHolding, error) {
	return m.users[userID], nil
}
