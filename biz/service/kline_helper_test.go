package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogogo1024/ai-trader/biz/dal/pg"
	"github.com/gogogo1024/ai-trader/biz/model"
)

func tick(symbol, price, vol string, ts int64) model.Tick {
	return model.Tick{Symbol: symbol, Price: d(price), Volume: d(vol), Ts: ts}
}

func TestAggregatorBuckets(t *testing.T) {
	a, err := NewAggregator("BTCUSDT", "1m", 2)
	require.NoError(t, err)

	_, ok := a.Add(tick("BTCUSDT", "100", "1", 60_000))
	assert.False(t, ok)
	_, ok = a.Add(tick("BTCUSDT", "105", "2", 90_000))
	assert.False(t, ok)
	_, ok = a.Add(tick("BTCUSDT", "95", "1", 119_999))
	assert.False(t, ok)

	closed, ok := a.Add(tick("BTCUSDT", "101", "1", 120_000))
	require.True(t, ok)
	assert.Equal(t, int64(60), closed.Timestamp)
	assert.True(t, closed.Open.Equal(d("100")))
	assert.True(t, closed.High.Equal(d("105")))
	assert.True(t, closed.Low.Equal(d("95")))
	assert.True(t, closed.Close.Equal(d("95")))
	assert.True(t, closed.Volume.Equal(d("4")))

	cur, ok := a.Current()
	require.True(t, ok)
	assert.Equal(t, int64(120), cur.Timestamp)
}

func TestAggregatorDropsLateTicks(t *testing.T) {
	a, _ := NewAggregator("BTCUSDT", "1m", 10)
	a.Add(tick("BTCUSDT", "100", "1", 120_000))
	_, ok := a.Add(tick("BTCUSDT", "1", "1", 60_000))
	assert.False(t, ok)
	assert.Equal(t, int64(1), a.Dropped())
	cur, _ := a.Current()
	assert.True(t, cur.Low.Equal(d("100")))
	assert.Empty(t, a.History())
}

func TestAggregatorHistoryBounded(t *testing.T) {
	a, _ := NewAggregator("ETHUSDT", "1m", 2)
	for i := int64(0); i < 5; i++ {
		a.Add(tick("ETHUSDT", "10", "1", i*60_000))
	}
	h := a.History()
	require.Len(t, h, 2)
	assert.Equal(t, int64(120), h[0].Timestamp)
	assert.Equal(t, int64(180), h[1].Timestamp)

	// 返回的是拷贝
	h[0].Timestamp = 0
	assert.Equal(t, int64(120), a.History()[0].Timestamp)

	a.Seed([]model.Kline{{Timestamp: 1}, {Timestamp: 2}, {Timestamp: 3}})
	assert.Len(t, a.History(), 2)
}

func TestAggregatorSkippedBucket(t *testing.T) {
	a, _ := NewAggregator("BTCUSDT", "5m", 10)
	a.Add(tick("BTCUSDT", "100", "1", 0))
	closed, ok := a.Add(tick("BTCUSDT", "110", "1", 900_000))
	require.True(t, ok)
	assert.Equal(t, int64(0), closed.Timestamp)
	cur, _ := a.Current()
	assert.Equal(t, int64(900), cur.Timestamp)
}

func TestUnknownPeriod(t *testing.T) {
	_, err := NewAggregator("BTCUSDT", "7m", 10)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	s, ok := PeriodSeconds("4h")
	assert.True(t, ok)
	assert.Equal(t, int64(14400), s)
}

func TestKlineCompensation(t *testing.T) {
	ctx := context.Background()
	k := model.Kline{Symbol: "KCMUSDT", Period: "1m", Timestamp: 600,
		Open: d("1"), High: d("2"), Low: d("1"), Close: d("2"), Volume: d("3")}
	saveKlineCompensate(ctx, k)

	n, err := CompensateKlines(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ks, err := pg.ListKlines(ctx, "KCMUSDT", "1m", 10)
	require.NoError(t, err)
	require.Len(t, ks, 1)
	assert.True(t, ks[0].Close.Equal(d("2")))

	n, err = CompensateKlines(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestKlineCompensateTaskStops(t *testing.T) {
	ctx := context.Background()
	k := model.Kline{Symbol: "KCTUSDT", Period: "1m", Timestamp: 1200,
		Open: d("5"), High: d("6"), Low: d("4"), Close: d("5"), Volume: d("1")}
	saveKlineCompensate(ctx, k)

	stop := StartKlineCompensateTask(ctx, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		ks, err := pg.ListKlines(ctx, "KCTUSDT", "1m", 10)
		return err == nil && len(ks) == 1
	}, 2*time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("compensate task did not stop")
	}
}
