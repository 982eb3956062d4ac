package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDay(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	in := time.Date(2024, 3, 15, 23, 59, 0, 0, loc)

	got := Day(in)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), got)
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", FormatDay(d))

	_, err = ParseDay("2024-13-01")
	assert.Error(t, err)
}

func TestTradeTypeValid(t *testing.T) {
	tests := []struct {
		in   TradeType
		want bool
	}{
		{TradeBuy, true},
		{TradeSell, true},
		{TradeDividend, true},
		{"TRANSFER", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Valid(), string(tt.in))
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.True(t, TaskSuccess.Terminal())
	assert.True(t, TaskFailed.Terminal())
	assert.True(t, TaskCancelled.Terminal())
	assert.False(t, TaskPending.Terminal())
	assert.False(t, TaskRetrying.Terminal())
	assert.False(t, TaskRunning.Terminal())
}

func TestRounding(t *testing.T) {
	assert.Equal(t, "1.2346", Money(decimal.RequireFromString("1.23456")).String())
	assert.Equal(t, "0.333333", Ratio(decimal.NewFromInt(1).Div(decimal.NewFromInt(3))).String())
}
