package service

import (
	"context"
	"testing"

	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/storage"
	"github.com/fund-analytics/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTrade(t *testing.T) {
	tests := []struct {
		name       string
		trade      *models.Trade
		wantErr    bool
		wantCash   string
		wantAmount string
	}{
		{name: "buy fills amount and cash", trade: buy(1, 1, td(0), "100", "1.5", "1.5"), wantCash: "151.5", wantAmount: "150"},
		{name: "sell nets fee", trade: sell(1, 1, td(0), "100", "1.5", "1.5"), wantCash: "148.5", wantAmount: "150"},
		{name: "cash dividend", trade: cashDividend(1, 1, td(0), "20"), wantCash: "20", wantAmount: "20"},
		{name: "reinvest dividend", trade: reinvestDividend(1, 1, td(0), "2", "3"), wantCash: "3", wantAmount: "3"},
		{name: "missing user", trade: buy(0, 1, td(0), "1", "1", "0"), wantErr: true},
		{name: "zero shares", trade: buy(1, 1, td(0), "0", "1", "0"), wantErr: true},
		{name: "negative fee", trade: buy(1, 1, td(0), "1", "1", "-1"), wantErr: true},
		{name: "reinvest without shares", trade: reinvestDividend(1, 1, td(0), "0", "3"), wantErr: true},
		{name: "unknown type", trade: &models.Trade{UserID: 1, Type: "SWAP", Date: td(0)}, wantErr: true},
		{
			name:    "dividend kind on a buy",
			trade:   &models.Trade{UserID: 1, Type: types.TradeBuy, DividendKind: types.DividendCash, Date: td(0), Shares: dec("1")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTrade(tt.trade)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))
				return
			}
			require.NoError(t, err)
			assertDec(t, tt.wantCash, tt.trade.CashAmount, "cash_amount")
			assertDec(t, tt.wantAmount, tt.trade.Amount, "amount")
		})
	}
}

func newTradeService(f *fixture) *TradeService {
	return NewTradeService(f.trades, f.holdings, f.normalizer, f.builder, f.enqueuer, inlineTx{})
}

func TestTradeService_RecordByCode(t *testing.T) {
	f := newFixture(t)
	svc := newTradeService(f)
	ctx := context.Background()

	f.flatNav(1, 0, 5, "1.0")
	f.today(td(5))

	trade, err := svc.Record(ctx, &models.Holding{Code: "000001", Name: "Growth Fund"}, buy(1, 0, td(0), "100", "1.0", "0"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), trade.HoldingID)
	stored, err := f.trades.GetByID(ctx, 1, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Cycle)
	assert.Equal(t, types.HoldingHolding, f.holdings.statuses[[2]int64{1, 1}])

	snaps, _ := f.hsnaps.ListByHolding(ctx, 1, 1, lastDay)
	assert.Len(t, snaps, 6)
	assert.Equal(t, []enqueuedRebuild{{userID: 1, holdingID: 1}}, f.enqueuer.downstream)
	assert.Empty(t, f.enqueuer.rebuilds)

	// the same code resolves to the same holding
	second, err := svc.Record(ctx, &models.Holding{Code: "000001"}, buy(1, 0, td(1), "10", "1.0", "0"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.HoldingID)
}

func TestTradeService_RecordUnknownHolding(t *testing.T) {
	f := newFixture(t)
	svc := newTradeService(f)

	_, err := svc.Record(context.Background(), &models.Holding{ID: 42}, buy(1, 42, td(0), "1", "1", "0"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CategoryNotFound))

	_, err = svc.Record(context.Background(), &models.Holding{}, buy(1, 0, td(0), "1", "1", "0"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))
}

func TestTradeService_RecordOversell(t *testing.T) {
	f := newFixture(t)
	svc := newTradeService(f)
	ctx := context.Background()
	f.holdings.holdings[1] = &models.Holding{ID: 1, Code: "000001"}
	f.flatNav(1, 0, 5, "1.0")
	f.today(td(5))

	_, err := svc.Record(ctx, &models.Holding{ID: 1}, buy(1, 1, td(0), "100", "1.0", "0"))
	require.NoError(t, err)

	_, err = svc.Record(ctx, &models.Holding{ID: 1}, sell(1, 1, td(2), "150", "1.0", "0"))
	require.Error(t, err)
	assert.True(t, apperrors.IsOversell(err))
	assert.Len(t, f.enqueuer.downstream, 1, "rejected trade schedules nothing")
}

func TestTradeService_LockBusyDefersRebuild(t *testing.T) {
	f := newFixture(t)
	svc := newTradeService(f)
	ctx := context.Background()
	f.holdings.holdings[1] = &models.Holding{ID: 1, Code: "000001"}
	f.locker.held[storage.HoldingLockKey(1, 1)] = true

	_, err := svc.Record(ctx, &models.Holding{ID: 1}, buy(1, 1, td(0), "100", "1.0", "0"))
	require.NoError(t, err)
	assert.Equal(t, []enqueuedRebuild{{1, 1, "trade change"}}, f.enqueuer.rebuilds)
	assert.Empty(t, f.enqueuer.downstream)
}

func TestTradeService_EditAndDelete(t *testing.T) {
	f := newFixture(t)
	svc := newTradeService(f)
	ctx := context.Background()
	f.holdings.holdings[1] = &models.Holding{ID: 1, Code: "000001"}
	f.flatNav(1, 0, 5, "2.0")
	f.today(td(5))

	first, err := svc.Record(ctx, &models.Holding{ID: 1}, buy(1, 1, td(0), "100", "2.0", "0"))
	require.NoError(t, err)
	closing, err := svc.Record(ctx, &models.Holding{ID: 1}, sell(1, 1, td(3), "100", "2.0", "0"))
	require.NoError(t, err)
	assert.True(t, f.snapshot(1, 1, td(3)).Cleared)

	shares := decimal.NewFromInt(200)
	rederive := decimal.Zero
	edited, err := svc.Edit(ctx, 1, first.ID, TradeUpdate{Shares: &shares, Amount: &rederive})
	require.NoError(t, err)
	assertDec(t, "400", edited.CashAmount, "cash follows shares")
	assertDec(t, "100", f.snapshot(1, 1, td(5)).Shares, "sell no longer clears")
	assert.Equal(t, types.HoldingHolding, f.holdings.statuses[[2]int64{1, 1}])

	_, err = svc.Edit(ctx, 2, first.ID, TradeUpdate{Shares: &shares})
	assert.True(t, apperrors.Is(err, apperrors.CategoryNotFound), "other users cannot edit")

	require.NoError(t, svc.Delete(ctx, 1, closing.ID))
	assertDec(t, "200", f.snapshot(1, 1, td(3)).Shares, "shares")
	assert.Len(t, f.enqueuer.downstream, 4)
}
