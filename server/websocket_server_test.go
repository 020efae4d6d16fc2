package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	msgs   [][]byte
	fail   bool
	closed bool
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.msgs = append(f.msgs, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	for i, m := range f.msgs {
		out[i] = string(m)
	}
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func typesOf(msgs []string) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		var v struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal([]byte(m), &v)
		out = append(out, v.Type)
	}
	return out
}

func TestSubscribeAndBroadcast(t *testing.T) {
	var mu sync.Mutex
	refs := map[string]int{}
	h := NewHub(HubOptions{
		OnSubscribe: func(_ context.Context, symbol string) error {
			mu.Lock()
			refs[symbol]++
			mu.Unlock()
			return nil
		},
		OnUnsubscribe: func(symbol string) {
			mu.Lock()
			refs[symbol]--
			mu.Unlock()
		},
	})
	defer h.Close()

	fc := &fakeConn{}
	c := h.Register(fc, "")
	h.HandleMessage(context.Background(), c, []byte(`{"action":"subscribe","symbol":"btcusdt"}`))
	assert.Eventually(t, func() bool { return len(fc.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"type":"subscription_ack","symbol":"BTCUSDT"}`, fc.messages()[0])
	assert.Equal(t, 1, h.Subscribers("BTCUSDT"))

	// 重复订阅不增加引用
	require.NoError(t, h.Subscribe(context.Background(), c, "BTCUSDT"))
	mu.Lock()
	assert.Equal(t, 1, refs["BTCUSDT"])
	mu.Unlock()

	h.Broadcast("BTCUSDT", []byte(`{"type":"tick"}`))
	assert.Eventually(t, func() bool { return len(fc.messages()) == 2 }, time.Second, 5*time.Millisecond)

	h.HandleMessage(context.Background(), c, []byte(`{"action":"unsubscribe","symbol":"BTCUSDT"}`))
	assert.Eventually(t, func() bool { return len(fc.messages()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "unsubscription_ack", typesOf(fc.messages())[2])
	assert.Equal(t, 0, h.Subscribers("BTCUSDT"))
	mu.Lock()
	assert.Equal(t, 0, refs["BTCUSDT"])
	mu.Unlock()

	h.Broadcast("BTCUSDT", []byte(`{"type":"tick"}`))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, fc.messages(), 3)
}

func TestSubscribeRejected(t *testing.T) {
	h := NewHub(HubOptions{
		OnSubscribe: func(context.Context, string) error { return errors.New("unknown symbol") },
	})
	defer h.Close()
	fc := &fakeConn{}
	c := h.Register(fc, "")
	h.HandleMessage(context.Background(), c, []byte(`{"action":"subscribe","symbol":"XXX"}`))
	assert.Eventually(t, func() bool { return len(fc.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"error"}, typesOf(fc.messages()))
	assert.Equal(t, 0, h.Subscribers("XXX"))
}

func TestSystemChannelsSkipMarketCallback(t *testing.T) {
	called := false
	h := NewHub(HubOptions{
		OnSubscribe: func(context.Context, string) error { called = true; return nil },
	})
	defer h.Close()
	c := h.Register(&fakeConn{}, "")
	require.NoError(t, h.Subscribe(context.Background(), c, "Alerts"))
	assert.False(t, called)
	assert.Equal(t, 1, h.Subscribers(ChannelAlerts))
}

func TestPingAndUnknownAction(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Close()
	fc := &fakeConn{}
	c := h.Register(fc, "")
	h.HandleMessage(context.Background(), c, []byte(`{"action":"ping"}`))
	h.HandleMessage(context.Background(), c, []byte(`{"action":"dance"}`))
	h.HandleMessage(context.Background(), c, []byte(`not json`))
	h.HandleMessage(context.Background(), c, []byte(`{"action":"subscribe"}`))
	assert.Eventually(t, func() bool { return len(fc.messages()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"pong", "error", "error", "error"}, typesOf(fc.messages()))
}

func TestUnicastMultipleConnections(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Close()
	a, b, other := &fakeConn{}, &fakeConn{}, &fakeConn{}
	h.Register(a, "u1")
	cb := h.Register(b, "u1")
	h.Register(other, "u2")
	assert.Equal(t, 3, h.ConnCount())

	h.Unicast("u1", []byte(`{"type":"alert"}`))
	assert.Eventually(t, func() bool {
		return len(a.messages()) == 1 && len(b.messages()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, other.messages())

	h.Unregister(cb)
	h.Unregister(cb)
	assert.True(t, b.isClosed())
	assert.Equal(t, 2, h.ConnCount())
	h.Unicast("u1", []byte(`{"type":"alert"}`))
	assert.Eventually(t, func() bool { return len(a.messages()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, b.messages(), 1)
}

func TestWriteFailureEvicts(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Close()
	fc := &fakeConn{fail: true}
	c := h.Register(fc, "")
	require.NoError(t, h.Subscribe(context.Background(), c, "ETHUSDT"))
	h.Broadcast("ETHUSDT", []byte(`{}`))
	assert.Eventually(t, func() bool { return h.ConnCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, fc.isClosed())
	assert.Equal(t, 0, h.Subscribers("ETHUSDT"))
}

func TestBufferFullSpills(t *testing.T) {
	var mu sync.Mutex
	var spilled []string
	h := NewHub(HubOptions{
		Spill: func(channel string, msg []byte) {
			mu.Lock()
			spilled = append(spilled, channel+":"+string(msg))
			mu.Unlock()
		},
	})
	defer h.Close()

	// 预置一个已满且无人消费的缓冲区
	s := h.shard("SOLUSDT")
	full := make(chan []byte, 1)
	full <- []byte("old")
	s.mu.Lock()
	s.bufs["SOLUSDT"] = full
	s.mu.Unlock()

	h.Broadcast("SOLUSDT", []byte("new"))
	mu.Lock()
	assert.Equal(t, []string{"SOLUSDT:new"}, spilled)
	mu.Unlock()
}

func TestCloseDisconnectsAll(t *testing.T) {
	h := NewHub(HubOptions{})
	fc := &fakeConn{}
	c := h.Register(fc, "u1")
	require.NoError(t, h.Subscribe(context.Background(), c, "BTCUSDT"))
	h.Close()
	assert.True(t, fc.isClosed())
	assert.Equal(t, 0, h.ConnCount())
	h.Broadcast("BTCUSDT", []byte("x"))
	h.Close()
}
