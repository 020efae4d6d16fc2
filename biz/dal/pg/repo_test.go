package pg

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/gogogo1024/ai-trader/biz/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

func TestMain(m *testing.M) {
	if err := InitGorm(sqlite.Open("file:pg_repo_test?mode=memory&cache=shared")); err != nil {
		panic("GORM DB 初始化失败: " + err.Error())
	}
	if err := AutoMigrate(); err != nil {
		panic("GORM 自动迁移失败: " + err.Error())
	}
	os.Exit(m.Run())
}

func newTrade(id, strategyID string, exitTime int64) *model.Trade {
	return &model.Trade{
		ID:         id,
		StrategyID: strategyID,
		Symbol:     "BTCUSDT",
		Side:       model.SideLong,
		Mode:       model.ModePaper,
		EntryPrice: decimal.RequireFromString("100"),
		ExitPrice:  decimal.RequireFromString("101.5"),
		Quantity:   decimal.RequireFromString("1"),
		EntryTime:  exitTime - 1000,
		ExitTime:   exitTime,
	}
}

func TestTradeRepo(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, CreateTrade(ctx, newTrade(fmt.Sprintf("t-%d", i), "s-1", int64(10_000+i))))
	}
	require.NoError(t, CreateTrade(ctx, newTrade("t-other", "s-2", 20_000)))

	trades, err := ListTrades(ctx, TradeFilter{StrategyID: "s-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "t-2", trades[0].ID)
	assert.True(t, trades[0].ExitPrice.Equal(decimal.RequireFromString("101.5")))

	ok, err := TradeExists(ctx, "t-other")
	require.NoError(t, err)
	assert.True(t, ok)

	all, err := TradesByStrategy(ctx, "s-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestBatchInsertTradesWithoutPool(t *testing.T) {
	ctx := context.Background()
	batch := []model.Trade{*newTrade("b-1", "s-batch", 1), *newTrade("b-2", "s-batch", 2)}
	require.NoError(t, BatchInsertTrades(ctx, batch))

	all, err := TradesByStrategy(ctx, "s-batch")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpsertKline(t *testing.T) {
	ctx := context.Background()
	k := &model.Kline{
		Symbol: "ETHUSDT", Period: "1m", Timestamp: 60,
		Open: decimal.NewFromInt(1), High: decimal.NewFromInt(2), Low: decimal.NewFromInt(1),
		Close: decimal.NewFromInt(2), Volume: decimal.NewFromInt(3),
	}
	require.NoError(t, UpsertKline(ctx, k))
	k2 := *k
	k2.ID = 0
	k2.Close = decimal.NewFromInt(5)
	k2.High = decimal.NewFromInt(5)
	require.NoError(t, UpsertKline(ctx, &k2))
	require.NoError(t, UpsertKline(ctx, &model.Kline{
		Symbol: "ETHUSDT", Period: "1m", Timestamp: 120,
		Open: decimal.NewFromInt(5), High: decimal.NewFromInt(5), Low: decimal.NewFromInt(5),
		Close: decimal.NewFromInt(5), Volume: decimal.Zero,
	}))

	list, err := ListKlines(ctx, "ETHUSDT", "1m", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(60), list[0].Timestamp)
	assert.True(t, list[0].Close.Equal(decimal.NewFromInt(5)))
}

func TestStrategyRepo(t *testing.T) {
	ctx := context.Background()
	s := &model.Strategy{ID: "st-1", UserID: "u-1", Name: "cross", Symbol: "BTCUSDT", Interval: "1m",
		EntryRule: "sma(2) > sma(4)", ExitRule: "sma(2) < sma(4)", Quantity: decimal.NewFromInt(1), Enabled: true}
	require.NoError(t, CreateStrategy(ctx, s))

	enabled, err := ListEnabledStrategies(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 1)

	require.NoError(t, SetStrategyEnabled(ctx, "st-1", false))
	got, err := GetStrategy(ctx, "st-1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	require.NoError(t, DeleteStrategy(ctx, "st-1"))
	_, err = GetStrategy(ctx, "st-1")
	assert.Error(t, err)
}

func TestPriceAlertRepo(t *testing.T) {
	ctx := context.Background()
	a := &model.PriceAlert{ID: "pa-1", UserID: "u-9", Symbol: "BTCUSDT", Direction: model.DirectionAbove,
		Price: decimal.NewFromInt(100), Status: model.PriceAlertActive}
	require.NoError(t, CreatePriceAlert(ctx, a))

	active, err := ListActivePriceAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, UpdatePriceAlertStatus(ctx, "pa-1", model.PriceAlertTriggered, 42))
	active, err = ListActivePriceAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	got, err := GetPriceAlert(ctx, "pa-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.TriggeredAt)
}
