package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]kafka.Message, len(msgs))
	copy(cp, msgs)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeWriter) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestBatchWriterFlushesOnTicker(t *testing.T) {
	fw := &fakeWriter{}
	bw := NewBatchWriter("trades", fw)
	defer bw.Close()

	require.True(t, bw.Send("BTCUSDT", map[string]string{"id": "1"}))
	assert.Eventually(t, func() bool { return fw.total() == 1 }, time.Second, 5*time.Millisecond)

	fw.mu.Lock()
	msg := fw.batches[0][0]
	fw.mu.Unlock()
	assert.Equal(t, "BTCUSDT", string(msg.Key))
	assert.JSONEq(t, `{"id":"1"}`, string(msg.Value))
}

func TestBatchWriterCloseDrains(t *testing.T) {
	fw := &fakeWriter{}
	bw := NewBatchWriter("trades", fw)
	for i := 0; i < 250; i++ {
		bw.SendRaw("", []byte("x"))
	}
	bw.Close()
	assert.Equal(t, 250, fw.total())
	assert.False(t, bw.SendRaw("", []byte("late")))
}

func TestNilBatchWriterIsNoop(t *testing.T) {
	var bw *BatchWriter
	assert.False(t, bw.Send("", 1))
	bw.Close()
}
