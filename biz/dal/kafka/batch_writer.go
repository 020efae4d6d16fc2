package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/segmentio/kafka-go"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Millisecond
	defaultQueueSize     = 10000
)

// MessageWriter 是 *kafka.Writer 的最小子集
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// BatchWriter 按条数或时间窗口聚合后批量写入 Kafka
type BatchWriter struct {
	name   string
	writer MessageWriter
	ch     chan kafka.Message
	done   chan struct{}
	closed chan struct{}
	once   sync.Once
}

func NewBatchWriter(name string, writer MessageWriter) *BatchWriter {
	bw := &BatchWriter{
		name:   name,
		writer: writer,
		ch:     make(chan kafka.Message, defaultQueueSize),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go bw.loop()
	return bw
}

// NewTopicBatchWriter 为逻辑 topic 创建批量写入器，Kafka 未启用时返回 nil
func NewTopicBatchWriter(name string) *BatchWriter {
	return NewRawBatchWriter(Topic(name))
}

// NewRawBatchWriter 直接按实际 topic 名创建，不做逻辑名映射
func NewRawBatchWriter(topic string) *BatchWriter {
	w := GetWriter(topic)
	if w == nil {
		return nil
	}
	return NewBatchWriter(topic, w)
}

// Send 以 JSON 编码入队，队列满时丢弃并返回 false
func (b *BatchWriter) Send(key string, v interface{}) bool {
	if b == nil {
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		hlog.Errorf("[KafkaBatch:%s] marshal failed: %v", b.name, err)
		return false
	}
	return b.SendRaw(key, data)
}

func (b *BatchWriter) SendRaw(key string, value []byte) bool {
	if b == nil {
		return false
	}
	select {
	case <-b.done:
		return false
	default:
	}
	msg := kafka.Message{Value: value}
	if key != "" {
		msg.Key = []byte(key)
	}
	select {
	case b.ch <- msg:
		return true
	default:
		hlog.Warnf("[KafkaBatch:%s] queue full, message dropped", b.name)
		return false
	}
}

func (b *BatchWriter) loop() {
	defer close(b.closed)
	batch := make([]kafka.Message, 0, defaultBatchSize)
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case msg := <-b.ch:
			batch = append(batch, msg)
			if len(batch) >= defaultBatchSize {
				b.flush(&batch)
			}
		case <-ticker.C:
			b.flush(&batch)
		case <-b.done:
			// 写完剩余数据再退出
			for {
				select {
				case msg := <-b.ch:
					batch = append(batch, msg)
				default:
					b.flush(&batch)
					return
				}
			}
		}
	}
}

func (b *BatchWriter) flush(batch *[]kafka.Message) {
	if len(*batch) == 0 {
		return
	}
	if err := b.writer.WriteMessages(context.Background(), (*batch)...); err != nil {
		hlog.Errorf("[KafkaBatch:%s] write failed, count=%d, err=%v", b.name, len(*batch), err)
	}
	*batch = (*batch)[:0]
}

// Close 刷出剩余消息后停止
func (b *BatchWriter) Close() {
	if b == nil {
		return
	}
	b.once.Do(func() { close(b.done) })
	<-b.closed
}
