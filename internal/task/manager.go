package task

import (
	"context"
	"fmt"

	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/logging"
	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/storage"
)

// Manager exposes the operator actions on the task log
type Manager struct {
	store Store
}

// NewManager creates a new task manager
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// List returns tasks matching the filter
func (m *Manager) List(ctx context.Context, f storage.TaskFilter) ([]*models.TaskLog, error) {
	return m.store.List(ctx, f)
}

// Get returns one task
func (m *Manager) Get(ctx context.Context, id string) (*models.TaskLog, error) {
	return m.store.GetByID(ctx, id)
}

// Cancel stops a PENDING or RETRYING task from running. Running tasks are
// never interrupted.
func (m *Manager) Cancel(ctx context.Context, id string) (*models.TaskLog, error) {
	t, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := m.store.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NewConflictError(fmt.Sprintf("task %s is %s and cannot be cancelled", id, t.Status))
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"task_id": id,
		"task":    t.Name,
	}).Info("Task cancelled by operator")
	return m.store.GetByID(ctx, id)
}

// Retry re-arms a FAILED or CANCELLED task with a fresh retry budget
func (m *Manager) Retry(ctx context.Context, id string) (*models.TaskLog, error) {
	t, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := m.store.Rearm(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NewConflictError(fmt.Sprintf("task %s is %s and cannot be retried", id, t.Status))
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"task_id": id,
		"task":    t.Name,
	}).Info("Task re-armed by operator")
	return m.store.GetByID(ctx, id)
}
