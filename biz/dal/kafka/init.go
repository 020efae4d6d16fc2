package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/gogogo1024/ai-trader/conf"
	"github.com/segmentio/kafka-go"
)

var (
	writers sync.Map // map[string]*kafka.Writer
)

// Enabled 未配置 broker 时 Kafka 旁路关闭
func Enabled() bool {
	return len(conf.GetConf().Kafka.Brokers) > 0
}

// Topic 按逻辑名获取实际 topic，未配置时以逻辑名加前缀
func Topic(name string) string {
	if t, ok := conf.GetConf().Kafka.Topics[name]; ok && t != "" {
		return t
	}
	return "ai_trader_" + name
}

// GetWriter 获取指定 topic 的 kafka.Writer，自动复用
func GetWriter(topic string) *kafka.Writer {
	val, ok := writers.Load(topic)
	if ok {
		return val.(*kafka.Writer)
	}
	brokers := conf.GetConf().Kafka.Brokers
	if len(brokers) == 0 {
		return nil
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Async:                  true,
		AllowAutoTopicCreation: true,
	}
	actual, _ := writers.LoadOrStore(topic, writer)
	return actual.(*kafka.Writer)
}

// InitWriters 预初始化所有 topics 的 writer
func InitWriters() {
	for _, topic := range conf.GetConf().Kafka.Topics {
		GetWriter(topic)
	}
}

// TestKafkaConnection 测试 Kafka 连接
func TestKafkaConnection() error {
	brokers := conf.GetConf().Kafka.Brokers
	if len(brokers) == 0 {
		return fmt.Errorf("kafka brokers not configured")
	}
	conn, err := kafka.DialContext(context.Background(), "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to kafka: %w", err)
	}
	return conn.Close()
}

// CloseAllWriters 关闭所有 writer
func CloseAllWriters() {
	writers.Range(func(key, value interface{}) bool {
		if w, ok := value.(*kafka.Writer); ok {
			_ = w.Close()
		}
		return true
	})
}

// Init 初始化 Kafka；Kafka 是可选旁路，连接失败只记录日志
func Init() {
	if !Enabled() {
		hlog.Infof("[Kafka] brokers not configured, side channel disabled")
		return
	}
	if err := TestKafkaConnection(); err != nil {
		hlog.Warnf("[Kafka] %v", err)
	}
	InitWriters()
}
