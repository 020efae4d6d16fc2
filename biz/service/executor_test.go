package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogogo1024/ai-trader/biz/broker"
	"github.com/gogogo1024/ai-trader/biz/model"
)

func TestPaperExecutorSlippage(t *testing.T) {
	e := NewPaperExecutor(d("0.01"))
	e.now = func() time.Time { return time.UnixMilli(42) }
	ctx := context.Background()

	buy, err := e.Buy(ctx, "BTCUSDT", d("2"), d("100"))
	require.NoError(t, err)
	assert.True(t, buy.Price.Equal(d("101")))
	assert.Equal(t, broker.SideBuy, buy.Side)
	assert.Equal(t, int64(42), buy.Ts)

	sell, err := e.Sell(ctx, "BTCUSDT", d("2"), d("100"))
	require.NoError(t, err)
	assert.True(t, sell.Price.Equal(d("99")))
	assert.Equal(t, model.ModePaper, e.Mode())

	_, err = e.Buy(ctx, "BTCUSDT", decimal.Zero, d("100"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

type fakePlacer struct {
	resp  *broker.OrderResponse
	err   error
	calls []string
}

func (f *fakePlacer) PlaceMarketOrder(_ context.Context, symbol, side string, qty decimal.Decimal, clientOrderID string) (*broker.OrderResponse, error) {
	f.calls = append(f.calls, side+":"+symbol+":"+qty.String())
	if clientOrderID == "" {
		return nil, errors.New("missing client order id")
	}
	return f.resp, f.err
}

func TestLiveExecutor(t *testing.T) {
	ctx := context.Background()
	p := &fakePlacer{resp: &broker.OrderResponse{OrderID: "o-1", AvgPrice: d("100.5"), ExecutedQty: d("0.9"), TransactTime: 7}}
	e := NewLiveExecutor(p)
	fill, err := e.Buy(ctx, "BTCUSDT", d("1"), d("100"))
	require.NoError(t, err)
	assert.True(t, fill.Price.Equal(d("100.5")))
	assert.True(t, fill.Quantity.Equal(d("0.9")))
	assert.Equal(t, "o-1", fill.OrderID)
	assert.Equal(t, int64(7), fill.Ts)
	assert.Equal(t, model.ModeLive, e.Mode())

	// 回报缺少均价时按参考价
	p.resp = &broker.OrderResponse{OrderID: "o-2"}
	fill, err = e.Sell(ctx, "BTCUSDT", d("1"), d("99"))
	require.NoError(t, err)
	assert.True(t, fill.Price.Equal(d("99")))
	assert.True(t, fill.Quantity.Equal(d("1")))
	assert.NotZero(t, fill.Ts)
	assert.Equal(t, []string{"BUY:BTCUSDT:1", "SELL:BTCUSDT:1"}, p.calls)

	p.err = broker.ErrRejected
	_, err = e.Buy(ctx, "BTCUSDT", d("1"), d("100"))
	assert.ErrorIs(t, err, broker.ErrRejected)
}
