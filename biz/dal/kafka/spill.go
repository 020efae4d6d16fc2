package kafka

import "sync"

const droppedPrefix = "dropped_"

// Spiller 把推送丢弃的帧按频道写入 dropped_<channel>
type Spiller struct {
	newWriter func(topic string) *BatchWriter
	mu        sync.Mutex
	writers   map[string]*BatchWriter
	closed    bool
}

// NewSpiller newWriter 为 nil 时直接写 dropped_<channel> topic
func NewSpiller(newWriter func(topic string) *BatchWriter) *Spiller {
	if newWriter == nil {
		newWriter = NewRawBatchWriter
	}
	return &Spiller{newWriter: newWriter, writers: make(map[string]*BatchWriter)}
}

func (s *Spiller) writer(channel string) *BatchWriter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	w, ok := s.writers[channel]
	if !ok {
		// Kafka 未启用时缓存 nil，避免重复创建
		w = s.newWriter(droppedPrefix + channel)
		s.writers[channel] = w
	}
	return w
}

// Spill 入队，Kafka 未启用或已关闭时静默丢弃
func (s *Spiller) Spill(channel string, msg []byte) {
	s.writer(channel).SendRaw(channel, msg)
}

func (s *Spiller) Close() {
	s.mu.Lock()
	s.closed = true
	ws := s.writers
	s.writers = map[string]*BatchWriter{}
	s.mu.Unlock()
	for _, w := range ws {
		w.Close()
	}
}
