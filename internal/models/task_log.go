package models

import (
	"time"

	"github.com/fund-analytics/internal/types"
)

// TaskParams is the late-bound call stored with a task
type TaskParams struct {
	Module string                 `json:"module"`
	Method string                 `json:"method"`
	Args   []interface{}          `json:"args"`
	Kwargs map[string]interface{} `json:"kwargs"`
}

// Name returns the registry key "module.method"
func (p TaskParams) Name() string {
	return p.Module + "." + p.Method
}

// TaskLog represents a durable unit of work
type TaskLog struct {
	ID          string           `json:"id" db:"id"`
	UserID      *int64           `json:"userId,omitempty" db:"user_id"`
	Name        string           `json:"name" db:"name"`
	BusinessKey string           `json:"businessKey" db:"business_key"`
	Params      TaskParams       `json:"params" db:"params"`
	Status      types.TaskStatus `json:"status" db:"status"`
	Retries     int              `json:"retries" db:"retries"`
	MaxRetries  int              `json:"maxRetries" db:"max_retries"`
	NextRetryAt *time.Time       `json:"nextRetryAt,omitempty" db:"next_retry_at"`
	Error       *string          `json:"error,omitempty" db:"error"`
	Result      *string          `json:"result,omitempty" db:"result"`
	Fingerprint string           `json:"fingerprint" db:"fingerprint"`
	DependsOn   []string         `json:"dependsOn,omitempty" db:"depends_on"`
	ParentID    *string          `json:"parentId,omitempty" db:"parent_id"`
	CreatedAt   time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time        `json:"updatedAt" db:"updated_at"`
	StartedAt   *time.Time       `json:"startedAt,omitempty" db:"started_at"`
	FinishedAt  *time.Time       `json:"finishedAt,omitempty" db:"finished_at"`
}
