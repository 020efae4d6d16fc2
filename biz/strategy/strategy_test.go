package strategy

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func barsOf(closes ...float64) []Bar {
	bars := make([]Bar, len(closes))
	for i, c := range closes {
		bars[i] = Bar{Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return bars
}

func TestIndicators(t *testing.T) {
	closes := []float64{10, 11, 12, 13}
	assert.InDelta(t, 12.5, sma(closes, 2), 1e-9)
	assert.InDelta(t, 11.5, sma(closes, 4), 1e-9)
	assert.Equal(t, 0.0, sma(closes, 5))
	assert.Equal(t, 0.0, sma(closes, 0))

	// seed = (10+11)/2 = 10.5, k = 2/3
	// 12: 12*2/3 + 10.5/3 = 11.5 ; 13: 13*2/3 + 11.5/3 = 12.5
	assert.InDelta(t, 12.5, ema(closes, 2), 1e-9)

	assert.Equal(t, 13.0, highest(closes, 2))
	assert.Equal(t, 10.0, lowest(closes, 100))
	assert.InDelta(t, 30.0, change(closes, 3), 1e-9)
	assert.Equal(t, 0.0, change(closes, 4))

	assert.Equal(t, 50.0, rsi(closes, 14))
	assert.Equal(t, 100.0, rsi(closes, 3))
	assert.Equal(t, 50.0, rsi([]float64{5, 5, 5, 5}, 3))
	assert.InDelta(t, 50.0, rsi([]float64{10, 11, 10}, 2), 1e-9)
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile("   ")
	assert.ErrorIs(t, err, ErrCompile)

	_, err = Compile("close >")
	assert.ErrorIs(t, err, ErrCompile)

	_, err = Compile("unknown_var > 1")
	assert.ErrorIs(t, err, ErrCompile)

	_, err = Compile("close + 1")
	assert.ErrorIs(t, err, ErrNotBool)
}

func TestProgramEval(t *testing.T) {
	prog, err := Compile("bars >= 4 && sma(2) > sma(4) && close > prev_close")
	require.NoError(t, err)

	ok, err := prog.Eval(Snapshot{History: barsOf(10, 11, 12, 13)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = prog.Eval(Snapshot{History: barsOf(13, 12, 11, 10)})
	require.NoError(t, err)
	assert.False(t, ok)

	exit, err := Compile("position > 0 && close < entry_price * 0.9")
	require.NoError(t, err)
	ok, err = exit.Eval(Snapshot{History: barsOf(100, 80), Position: 1, EntryPrice: 100})
	require.NoError(t, err)
	assert.True(t, ok)

	// 空历史也能求值
	ok, err = prog.Eval(Snapshot{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheHitMiss(t *testing.T) {
	c := NewCache(2)
	p1, err := c.Get("close > 1")
	require.NoError(t, err)
	p2, err := c.Get("close > 1")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, int64(1), c.Hits())
	assert.Equal(t, int64(1), c.Misses())

	_, err = c.Get("close >")
	assert.ErrorIs(t, err, ErrCompile)
	assert.Equal(t, 1, c.Len())

	_, _ = c.Get("close > 2")
	_, _ = c.Get("close > 3")
	assert.Equal(t, 2, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestCacheSourceMismatchRecompiles(t *testing.T) {
	c := NewCache(4)
	// 人为制造键冲突：同一个键下放入不同源码
	key := cacheKey("close > 1")
	stale, err := Compile("close > 100")
	require.NoError(t, err)
	c.lru.Add(key, &cacheEntry{source: "close > 100", program: stale})

	p, err := c.Get("close > 1")
	require.NoError(t, err)
	assert.Equal(t, "close > 1", p.Source())
	assert.Equal(t, int64(0), c.Hits())

	ok, err := p.Eval(Snapshot{History: barsOf(50)})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCacheConcurrent(t *testing.T) {
	c := NewCache(8)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get("rsi(14) < 30")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, c.Len())
}

func TestTemplates(t *testing.T) {
	assert.Equal(t, []string{"breakout", "ma_cross", "rsi_reversion"}, TemplateNames())

	r, err := Template("ma_cross", map[string]float64{"fast": 3})
	require.NoError(t, err)
	assert.Equal(t, "bars >= 20 && sma(3) > sma(20)", r.Entry)
	assert.Equal(t, "sma(3) < sma(20)", r.Exit)

	for _, name := range TemplateNames() {
		r, err := Template(name, nil)
		require.NoError(t, err)
		_, err = Compile(r.Entry)
		assert.NoError(t, err, name)
		_, err = Compile(r.Exit)
		assert.NoError(t, err, name)
	}

	_, err = Template("nope", nil)
	assert.ErrorIs(t, err, ErrUnknownTemplate)
	_, err = Template("breakout", map[string]float64{"lookback": -1})
	assert.Error(t, err)
}
