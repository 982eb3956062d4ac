package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fund-analytics/internal/logging"
	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/storage"
	"github.com/fund-analytics/internal/types"
)

// Store is the task log persistence used by the producer and the consumer
type Store interface {
	Create(ctx context.Context, t *models.TaskLog) (bool, error)
	GetByID(ctx context.Context, id string) (*models.TaskLog, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.TaskLog, error)
	List(ctx context.Context, f storage.TaskFilter) ([]*models.TaskLog, error)
	Claim(ctx context.Context, id string, from types.TaskStatus) (bool, error)
	MarkSuccess(ctx context.Context, id string, result string) error
	MarkFailed(ctx context.Context, id string, retries int, errMsg string) error
	MarkRetrying(ctx context.Context, id string, retries int, next time.Time, errMsg string) error
	Requeue(ctx context.Context, id string, next time.Time) error
	Cancel(ctx context.Context, id string) (bool, error)
	Rearm(ctx context.Context, id string) (bool, error)
	Dependencies(ctx context.Context, prefixes []string, excludeID string) (*storage.DependencyState, error)
}

// HoldingLister enumerates the (user, holding) pairs work is produced for
type HoldingLister interface {
	ListActive(ctx context.Context, day time.Time) ([]*models.UserHolding, error)
	ListUserHoldings(ctx context.Context, userID int64) ([]*models.UserHolding, error)
}

// Submission describes a task to submit
type Submission struct {
	Name        string
	BusinessKey string
	UserID      int64 // 0 for system tasks
	Kwargs      map[string]interface{}
	DependsOn   []string
}

type parentKey struct{}

// withParent marks submissions made under ctx as children of task id
func withParent(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, parentKey{}, id)
}

func parentFrom(ctx context.Context) *string {
	if id, ok := ctx.Value(parentKey{}).(string); ok && id != "" {
		return &id
	}
	return nil
}

// Producer records work in the task log
type Producer struct {
	store      Store
	holdings   HoldingLister
	maxRetries int
}

// NewProducer creates a new producer
func NewProducer(store Store, holdings HoldingLister, maxRetries int) *Producer {
	return &Producer{store: store, holdings: holdings, maxRetries: maxRetries}
}

// Submit inserts a PENDING task. When an identical task is already
// outstanding the existing one is returned with created=false.
func (p *Producer) Submit(ctx context.Context, s Submission) (*models.TaskLog, bool, error) {
	module, method, _ := strings.Cut(s.Name, ".")
	t := &models.TaskLog{
		Name:        s.Name,
		BusinessKey: s.BusinessKey,
		Params: models.TaskParams{
			Module: module,
			Method: method,
			Args:   []interface{}{},
			Kwargs: s.Kwargs,
		},
		MaxRetries:  p.maxRetries,
		Fingerprint: Fingerprint(s.Name, s.BusinessKey),
		DependsOn:   s.DependsOn,
		ParentID:    parentFrom(ctx),
	}
	if s.UserID != 0 {
		uid := s.UserID
		t.UserID = &uid
	}

	created, err := p.store.Create(ctx, t)
	if err != nil {
		return nil, false, fmt.Errorf("failed to submit %s: %w", s.Name, err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"task_id":      t.ID,
		"task":         s.Name,
		"business_key": s.BusinessKey,
		"created":      created,
	}).Debug("Submitted task")
	return t, created, nil
}

func (p *Producer) submitAll(ctx context.Context, subs []Submission) (int, error) {
	created := 0
	for _, s := range subs {
		_, ok, err := p.Submit(ctx, s)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func userHoldingKwargs(userID, holdingID int64) map[string]interface{} {
	return map[string]interface{}{"user_id": userID, "holding_id": holdingID}
}

func portfolioRebuildSubmission(userID int64) Submission {
	return Submission{
		Name:        PortfolioRebuild,
		BusinessKey: portfolioRebuildKey(userID),
		UserID:      userID,
		Kwargs:      map[string]interface{}{"user_id": userID},
		DependsOn:   []string{holdingRebuildPrefix(userID)},
	}
}

func holdingAnalyticsRebuildSubmission(userID, holdingID int64) Submission {
	return Submission{
		Name:        AnalyticsHoldingRebuild,
		BusinessKey: holdingAnalyticsRebuildKey(userID, holdingID),
		UserID:      userID,
		Kwargs:      userHoldingKwargs(userID, holdingID),
		DependsOn:   []string{holdingRebuildKey(userID, holdingID), portfolioRebuildKey(userID)},
	}
}

func portfolioAnalyticsRebuildSubmission(userID int64) Submission {
	return Submission{
		Name:        AnalyticsPortfolioRebuild,
		BusinessKey: portfolioAnalyticsRebuildKey(userID),
		UserID:      userID,
		Kwargs:      map[string]interface{}{"user_id": userID},
		DependsOn:   []string{portfolioRebuildKey(userID)},
	}
}

func holdingRebuildSubmission(userID, holdingID int64, reason string) Submission {
	kwargs := userHoldingKwargs(userID, holdingID)
	kwargs["reason"] = reason
	return Submission{
		Name:        HoldingRebuild,
		BusinessKey: holdingRebuildKey(userID, holdingID),
		UserID:      userID,
		Kwargs:      kwargs,
	}
}

// downstreamSubmissions are the recomputes that follow a holding rebuild
func downstreamSubmissions(userID, holdingID int64) []Submission {
	return []Submission{
		portfolioRebuildSubmission(userID),
		holdingAnalyticsRebuildSubmission(userID, holdingID),
		portfolioAnalyticsRebuildSubmission(userID),
	}
}

// EnqueueHoldingRebuild schedules a full rebuild of a holding's snapshots
// followed by the portfolio and analytics rebuilds that depend on it
func (p *Producer) EnqueueHoldingRebuild(ctx context.Context, userID, holdingID int64, reason string) error {
	subs := append([]Submission{holdingRebuildSubmission(userID, holdingID, reason)}, downstreamSubmissions(userID, holdingID)...)

	_, err := p.submitAll(ctx, subs)
	return err
}

// EnqueueDownstream schedules the portfolio and analytics rebuilds after a
// holding's snapshots were rebuilt inline
func (p *Producer) EnqueueDownstream(ctx context.Context, userID, holdingID int64) error {
	_, err := p.submitAll(ctx, downstreamSubmissions(userID, holdingID))
	return err
}

// EnqueueHoldingRecompute is the operator entry point for one holding
func (p *Producer) EnqueueHoldingRecompute(ctx context.Context, userID, holdingID int64) error {
	return p.EnqueueHoldingRebuild(ctx, userID, holdingID, "manual")
}

// EnqueueUserRebuild schedules the rebuild of every holding of a user and of
// the user's portfolio. Returns the number of tasks created.
func (p *Producer) EnqueueUserRebuild(ctx context.Context, userID int64) (int, error) {
	holdings, err := p.holdings.ListUserHoldings(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list user holdings: %w", err)
	}

	var subs []Submission
	for _, h := range holdings {
		subs = append(subs,
			holdingRebuildSubmission(userID, h.HoldingID, "manual"),
			holdingAnalyticsRebuildSubmission(userID, h.HoldingID),
		)
	}
	subs = append(subs, portfolioRebuildSubmission(userID), portfolioAnalyticsRebuildSubmission(userID))
	return p.submitAll(ctx, subs)
}

// EnqueueDaily schedules the incremental work of one trading day: a snapshot
// and analytics task per active (user, holding), then the portfolio tasks
// of each user. Returns the number of tasks created.
func (p *Producer) EnqueueDaily(ctx context.Context, day time.Time) (int, error) {
	day = types.Day(day)
	active, err := p.holdings.ListActive(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("failed to list active holdings: %w", err)
	}

	dayArg := types.FormatDay(day)
	var subs []Submission
	var users []int64
	seen := make(map[int64]bool)

	for _, uh := range active {
		kwargs := userHoldingKwargs(uh.UserID, uh.HoldingID)
		kwargs["day"] = dayArg
		subs = append(subs,
			Submission{
				Name:        HoldingAppendDay,
				BusinessKey: holdingSnapshotKey(uh.UserID, day, uh.HoldingID),
				UserID:      uh.UserID,
				Kwargs:      kwargs,
			},
			Submission{
				Name:        AnalyticsHoldingDay,
				BusinessKey: holdingAnalyticsKey(uh.UserID, day, uh.HoldingID),
				UserID:      uh.UserID,
				Kwargs:      kwargs,
				DependsOn: []string{
					holdingSnapshotKey(uh.UserID, day, uh.HoldingID),
					portfolioSnapshotKey(uh.UserID, day),
				},
			},
		)
		if !seen[uh.UserID] {
			seen[uh.UserID] = true
			users = append(users, uh.UserID)
		}
	}

	for _, u := range users {
		kwargs := map[string]interface{}{"user_id": u, "day": dayArg}
		subs = append(subs,
			Submission{
				Name:        PortfolioAppendDay,
				BusinessKey: portfolioSnapshotKey(u, day),
				UserID:      u,
				Kwargs:      kwargs,
				DependsOn:   []string{holdingSnapshotDayPrefix(u, day)},
			},
			Submission{
				Name:        AnalyticsPortfolioDay,
				BusinessKey: portfolioAnalyticsKey(u, day),
				UserID:      u,
				Kwargs:      kwargs,
				DependsOn:   []string{portfolioSnapshotKey(u, day)},
			},
		)
	}

	created, err := p.submitAll(ctx, subs)
	if err != nil {
		return created, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"date":     dayArg,
		"holdings": len(active),
		"users":    len(users),
		"created":  created,
	}).Info("Enqueued daily tasks")
	return created, nil
}
