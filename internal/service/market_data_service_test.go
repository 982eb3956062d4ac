package service

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNavService_Ingest(t *testing.T) {
	f := newFixture(t)
	svc := NewNavService(f.navs, f.calendar)
	ctx := context.Background()

	f.navs.set(1, td(0), "1.0000")
	saturday := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)

	n, err := svc.Ingest(ctx, 1, []*models.NavPoint{
		{Date: td(2), NavPerUnit: dec("1.1000")},
		{Date: saturday, NavPerUnit: dec("1.2000")},
		{Date: td(1), NavPerUnit: dec("1.0500"), AccumulatedNav: dec("1.0500")},
		{Date: td(3), NavPerUnit: dec("1.0000"), DailyReturn: decimal.NewNullDecimal(dec("0.0123"))},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Nil(t, f.navs.points[1][saturday])
	assert.InDelta(t, 0.05, f.navs.points[1][td(1)].DailyReturn.Decimal.InexactFloat64(), 1e-9)
	assert.InDelta(t, 1.1/1.05-1, f.navs.points[1][td(2)].DailyReturn.Decimal.InexactFloat64(), 1e-6)
	assert.True(t, dec("0.0123").Equal(f.navs.points[1][td(3)].DailyReturn.Decimal), "provided return kept")
	assert.Equal(t, int64(1), f.navs.points[1][td(2)].HoldingID)
}

func TestNavService_PrefersAccumulatedNav(t *testing.T) {
	f := newFixture(t)
	svc := NewNavService(f.navs, f.calendar)

	_, err := svc.Ingest(context.Background(), 1, []*models.NavPoint{
		{Date: td(0), NavPerUnit: dec("1.0"), AccumulatedNav: dec("2.0")},
		{Date: td(1), NavPerUnit: dec("0.9"), AccumulatedNav: dec("2.02")},
	})
	require.NoError(t, err)
	assert.False(t, f.navs.points[1][td(0)].DailyReturn.Valid, "no previous nav")
	assert.InDelta(t, 0.01, f.navs.points[1][td(1)].DailyReturn.Decimal.InexactFloat64(), 1e-9)
}

func TestNavService_RejectsNonPositiveNav(t *testing.T) {
	f := newFixture(t)
	svc := NewNavService(f.navs, f.calendar)

	_, err := svc.Ingest(context.Background(), 1, []*models.NavPoint{{Date: td(0), NavPerUnit: dec("0")}})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))
	assert.Empty(t, f.navs.points[1])
}

func TestBenchmarkService_Ingest(t *testing.T) {
	f := newFixture(t)
	svc := NewBenchmarkService(f.benchmarks)
	ctx := context.Background()

	n, err := svc.Ingest(ctx, 9, []BenchmarkClose{
		{Date: td(1), Close: dec("1010")},
		{Date: td(0), Close: dec("1000")},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	points := f.benchmarks.points[9]
	require.Len(t, points, 2)
	assert.True(t, points[0].DailyReturn.IsZero(), "first close has no previous")
	assert.InDelta(t, 0.01, points[1].DailyReturn.InexactFloat64(), 1e-9)

	// later batch chains from the stored close
	_, err = svc.Ingest(ctx, 9, []BenchmarkClose{{Date: td(2), Close: dec("999.99")}})
	require.NoError(t, err)
	assert.InDelta(t, 999.99/1010-1, f.benchmarks.points[9][2].DailyReturn.InexactFloat64(), 1e-6)

	_, err = svc.Ingest(ctx, 9, []BenchmarkClose{{Date: td(3), Close: dec("-1")}})
	assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))
}
