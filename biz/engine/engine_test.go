package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame(t *testing.T) {
	b, err := Frame("tick", "BTCUSDT", map[string]string{"price": "1.5"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"tick","channel":"BTCUSDT","data":{"price":"1.5"}}`, string(b))

	b, err = Frame("alert", "", 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"alert","data":1}`, string(b))

	_, err = Frame("bad", "", func() {})
	assert.Error(t, err)
}

func TestFrameReusesBuffers(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := Frame("kline", "ETHUSDT", []int{1, 2, 3})
			assert.NoError(t, err)
			assert.JSONEq(t, `{"type":"kline","channel":"ETHUSDT","data":[1,2,3]}`, string(b))
		}()
	}
	wg.Wait()
}

func TestNewPool(t *testing.T) {
	p, err := NewPool(4)
	require.NoError(t, err)
	defer p.Release()
	assert.Equal(t, 4, p.Cap())

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, p.Submit(wg.Done))
	wg.Wait()
}
