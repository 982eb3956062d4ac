package task

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

func newTestProducer() (*Producer, *mockTaskRepository, *mockHoldingLister) {
	repo := newMockTaskRepository()
	lister := &mockHoldingLister{
		active: map[time.Time][]*models.UserHolding{
			day: {
				{UserID: 1, HoldingID: 10},
				{UserID: 1, HoldingID: 11},
				{UserID: 2, HoldingID: 10},
			},
		},
		users: map[int64][]*models.UserHolding{
			1: {{UserID: 1, HoldingID: 10}, {UserID: 1, HoldingID: 11}},
		},
	}
	return NewProducer(repo, lister, 5), repo, lister
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(HoldingRebuild, "holding_rebuild:1:2")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint(HoldingRebuild, "holding_rebuild:1:2"))
	assert.NotEqual(t, a, Fingerprint(HoldingRebuild, "holding_rebuild:1:3"))
	assert.NotEqual(t, a, Fingerprint(PortfolioRebuild, "holding_rebuild:1:2"))
}

func TestProducer_EnqueueDaily(t *testing.T) {
	p, repo, _ := newTestProducer()
	ctx := context.Background()

	created, err := p.EnqueueDaily(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 10, created, "two tasks per holding, two per user")

	appends := repo.byName(HoldingAppendDay)
	require.Len(t, appends, 3)
	assert.Equal(t, "holding_snapshot:1:2024-03-05:10", appends[0].BusinessKey)
	assert.Equal(t, "holding", appends[0].Params.Module)
	assert.Equal(t, "append_day", appends[0].Params.Method)
	assert.Equal(t, 5, appends[0].MaxRetries)
	require.NotNil(t, appends[0].UserID)
	assert.Equal(t, int64(1), *appends[0].UserID)

	portfolios := repo.byName(PortfolioAppendDay)
	require.Len(t, portfolios, 2)
	assert.Equal(t, []string{"holding_snapshot:1:2024-03-05:"}, portfolios[0].DependsOn)

	analytics := repo.byName(AnalyticsHoldingDay)
	require.Len(t, analytics, 3)
	assert.Equal(t, []string{"holding_snapshot:1:2024-03-05:10", "portfolio_snapshot:1:2024-03-05"}, analytics[0].DependsOn)

	again, err := p.EnqueueDaily(ctx, day)
	require.NoError(t, err)
	assert.Zero(t, again, "outstanding duplicates are not inserted twice")
}

func TestProducer_EnqueueHoldingRebuild(t *testing.T) {
	p, repo, _ := newTestProducer()
	ctx := withParent(context.Background(), "task-parent")

	require.NoError(t, p.EnqueueHoldingRebuild(ctx, 1, 10, "oversell"))

	rebuilds := repo.byName(HoldingRebuild)
	require.Len(t, rebuilds, 1)
	assert.Equal(t, "oversell", rebuilds[0].Params.Kwargs["reason"])
	require.NotNil(t, rebuilds[0].ParentID)
	assert.Equal(t, "task-parent", *rebuilds[0].ParentID)

	portfolio := repo.byName(PortfolioRebuild)
	require.Len(t, portfolio, 1)
	assert.Equal(t, []string{"holding_rebuild:1:"}, portfolio[0].DependsOn)
	assert.Len(t, repo.byName(AnalyticsHoldingRebuild), 1)
	assert.Len(t, repo.byName(AnalyticsPortfolioRebuild), 1)

	// a second holding shares the user's portfolio tasks
	require.NoError(t, p.EnqueueDownstream(context.Background(), 1, 11))
	assert.Len(t, repo.byName(PortfolioRebuild), 1)
	assert.Len(t, repo.byName(AnalyticsHoldingRebuild), 2)
}

func TestProducer_EnqueueUserRebuild(t *testing.T) {
	p, repo, _ := newTestProducer()

	created, err := p.EnqueueUserRebuild(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 6, created)
	assert.Len(t, repo.byName(HoldingRebuild), 2)

	created, err = p.EnqueueUserRebuild(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, 2, created, "portfolio tasks still run for a user without holdings")
}

func TestProducer_StatusFreesFingerprint(t *testing.T) {
	p, repo, _ := newTestProducer()
	ctx := context.Background()

	require.NoError(t, p.EnqueueHoldingRecompute(ctx, 1, 10))
	first := repo.byName(HoldingRebuild)[0]
	repo.setStatus(first.ID, types.TaskSuccess)

	require.NoError(t, p.EnqueueHoldingRecompute(ctx, 1, 10))
	assert.Len(t, repo.byName(HoldingRebuild), 2, "finished tasks do not block a new submission")
}

func TestInt64Arg(t *testing.T) {
	var kwargs map[string]interface{}
	raw, err := json.Marshal(map[string]interface{}{"user_id": int64(7), "day": "2024-03-05"})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &kwargs))

	u, err := Int64Arg(kwargs, "user_id")
	require.NoError(t, err)
	assert.Equal(t, int64(7), u)

	d, err := DayArg(kwargs, "day")
	require.NoError(t, err)
	assert.Equal(t, day, d)

	_, err = Int64Arg(kwargs, "holding_id")
	assert.Error(t, err)
	_, err = Int64Arg(map[string]interface{}{"x": 1.5}, "x")
	assert.Error(t, err)
}
