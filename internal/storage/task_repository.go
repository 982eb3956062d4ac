package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const taskColumns = `id, user_id, name, business_key, params, status, retries, max_retries,
	next_retry_at, error, result, fingerprint, depends_on, parent_id, created_at, updated_at,
	started_at, finished_at`

// TaskRepository handles task log persistence
type TaskRepository struct {
	db *PostgresDB
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *PostgresDB) *TaskRepository {
	return &TaskRepository{db: db}
}

// TaskFilter narrows task listings
type TaskFilter struct {
	Status *types.TaskStatus
	UserID *int64
	Prefix string // business key prefix
	Limit  int
	Offset int
}

// DependencyState summarises the prerequisite tasks matching a set of prefixes
type DependencyState struct {
	Outstanding int // PENDING, RUNNING or RETRYING
	Failed      int // FAILED or CANCELLED
}

func scanTask(row pgx.Row) (*models.TaskLog, error) {
	var t models.TaskLog
	err := row.Scan(
		&t.ID, &t.UserID, &t.Name, &t.BusinessKey, &t.Params, &t.Status, &t.Retries, &t.MaxRetries,
		&t.NextRetryAt, &t.Error, &t.Result, &t.Fingerprint, &t.DependsOn, &t.ParentID, &t.CreatedAt,
		&t.UpdatedAt, &t.StartedAt, &t.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Create inserts a PENDING task. When an outstanding task with the same
// fingerprint exists nothing is inserted, t.ID is set to the existing task
// and created is false.
func (r *TaskRepository) Create(ctx context.Context, t *models.TaskLog) (created bool, err error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.DependsOn == nil {
		t.DependsOn = []string{}
	}
	now := time.Now().UTC()
	t.Status = types.TaskPending
	t.CreatedAt = now
	t.UpdatedAt = now

	query := `
		INSERT INTO task_logs (id, user_id, name, business_key, params, status, retries, max_retries,
			next_retry_at, fingerprint, depends_on, parent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (fingerprint) WHERE status IN ('PENDING', 'RETRYING') DO NOTHING
	`

	tag, err := r.db.conn(ctx).Exec(ctx, query,
		t.ID, t.UserID, t.Name, t.BusinessKey, t.Params, t.Status, t.MaxRetries,
		t.NextRetryAt, t.Fingerprint, t.DependsOn, t.ParentID, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create task: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	err = r.db.conn(ctx).QueryRow(ctx, `
		SELECT id FROM task_logs
		WHERE fingerprint = $1 AND status IN ('PENDING', 'RETRYING')
		LIMIT 1
	`, t.Fingerprint).Scan(&t.ID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("failed to load duplicate task: %w", err)
	}
	return false, nil
}

// GetByID retrieves a task by ID
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.TaskLog, error) {
	t, err := scanTask(r.db.conn(ctx).QueryRow(ctx, `SELECT `+taskColumns+` FROM task_logs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("task", id)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// ListDue returns PENDING and RETRYING tasks whose next_retry_at has passed
func (r *TaskRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.TaskLog, error) {
	query := `SELECT ` + taskColumns + `
		FROM task_logs
		WHERE status IN ('PENDING', 'RETRYING')
		  AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY created_at, id
		LIMIT $2
	`
	return r.list(ctx, query, now, limit)
}

// List returns tasks matching the filter, newest first
func (r *TaskRepository) List(ctx context.Context, f TaskFilter) ([]*models.TaskLog, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	query := `SELECT ` + taskColumns + `
		FROM task_logs
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::bigint IS NULL OR user_id = $2)
		  AND ($3 = '' OR business_key LIKE $3 || '%')
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5
	`
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}
	return r.list(ctx, query, status, f.UserID, f.Prefix, f.Limit, f.Offset)
}

func (r *TaskRepository) list(ctx context.Context, query string, args ...any) ([]*models.TaskLog, error) {
	rows, err := r.db.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.TaskLog
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Claim moves a task from `from` to RUNNING. It reports false when another
// consumer changed the status first.
func (r *TaskRepository) Claim(ctx context.Context, id string, from types.TaskStatus) (bool, error) {
	now := time.Now().UTC()
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE task_logs
		SET status = $3, started_at = $4, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, from, types.TaskRunning, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSuccess records a successful run
func (r *TaskRepository) MarkSuccess(ctx context.Context, id string, result string) error {
	now := time.Now().UTC()
	_, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE task_logs
		SET status = $2, result = $3, error = NULL, next_retry_at = NULL, finished_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'RUNNING'
	`, id, types.TaskSuccess, result, now)
	if err != nil {
		return fmt.Errorf("failed to mark task success: %w", err)
	}
	return nil
}

// MarkFailed dead-letters a task
func (r *TaskRepository) MarkFailed(ctx context.Context, id string, retries int, errMsg string) error {
	now := time.Now().UTC()
	_, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE task_logs
		SET status = $2, retries = $3, error = $4, next_retry_at = NULL, finished_at = $5, updated_at = $5
		WHERE id = $1 AND status = 'RUNNING'
	`, id, types.TaskFailed, retries, errMsg, now)
	if err != nil {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	return nil
}

// MarkRetrying schedules another attempt of a running task
func (r *TaskRepository) MarkRetrying(ctx context.Context, id string, retries int, next time.Time, errMsg string) error {
	return r.reschedule(ctx, id, types.TaskRetrying, retries, next, &errMsg)
}

// Requeue puts a running task back to PENDING without consuming a retry
func (r *TaskRepository) Requeue(ctx context.Context, id string, next time.Time) error {
	return r.reschedule(ctx, id, types.TaskPending, -1, next, nil)
}

// reschedule moves RUNNING to an outstanding status. If an identical task was
// enqueued meanwhile, this one is cancelled in its favour.
func (r *TaskRepository) reschedule(ctx context.Context, id string, status types.TaskStatus, retries int, next time.Time, errMsg *string) error {
	now := time.Now().UTC()
	_, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE task_logs
		SET status = $2,
			retries = CASE WHEN $3 < 0 THEN retries ELSE $3 END,
			next_retry_at = $4,
			error = COALESCE($5, error),
			updated_at = $6
		WHERE id = $1 AND status = 'RUNNING'
	`, id, status, retries, next, errMsg, now)
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return fmt.Errorf("failed to reschedule task: %w", err)
	}

	_, err = r.db.conn(ctx).Exec(ctx, `
		UPDATE task_logs
		SET status = $2, result = 'superseded by outstanding duplicate', finished_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'RUNNING'
	`, id, types.TaskCancelled, now)
	if err != nil {
		return fmt.Errorf("failed to cancel superseded task: %w", err)
	}
	return nil
}

// Cancel moves a PENDING or RETRYING task to CANCELLED
func (r *TaskRepository) Cancel(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE task_logs
		SET status = $2, finished_at = $3, updated_at = $3
		WHERE id = $1 AND status IN ('PENDING', 'RETRYING')
	`, id, types.TaskCancelled, now)
	if err != nil {
		return false, fmt.Errorf("failed to cancel task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Rearm moves a FAILED or CANCELLED task back to PENDING with a fresh retry budget
func (r *TaskRepository) Rearm(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE task_logs
		SET status = $2, retries = 0, next_retry_at = NULL, finished_at = NULL, updated_at = $3
		WHERE id = $1 AND status IN ('FAILED', 'CANCELLED')
	`, id, types.TaskPending, now)
	if err != nil {
		if isUniqueViolation(err) {
			return false, apperrors.NewConflictError("an identical task is already outstanding")
		}
		return false, fmt.Errorf("failed to re-arm task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Dependencies counts the tasks, other than excludeID, whose business key
// starts with one of the prefixes.
func (r *TaskRepository) Dependencies(ctx context.Context, prefixes []string, excludeID string) (*DependencyState, error) {
	state := &DependencyState{}
	if len(prefixes) == 0 {
		return state, nil
	}

	err := r.db.conn(ctx).QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('PENDING', 'RUNNING', 'RETRYING')),
			COUNT(*) FILTER (WHERE status IN ('FAILED', 'CANCELLED'))
		FROM task_logs
		WHERE id <> $2
		  AND business_key LIKE ANY (SELECT p || '%' FROM unnest($1::text[]) AS p)
	`, prefixes, excludeID).Scan(&state.Outstanding, &state.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to check task dependencies: %w", err)
	}
	return state, nil
}
