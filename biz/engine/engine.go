package engine

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/panjf2000/ants/v2"
)

var BufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// NewPool 创建 goroutine 池，size<=0 时使用默认大小
func NewPool(size int) (*ants.Pool, error) {
	if size <= 0 {
		size = ants.DefaultAntsPoolSize
	}
	return ants.NewPool(size)
}

// Broadcaster 广播回调类型
type Broadcaster func(channel string, msg []byte)

// Unicaster 单播回调类型
type Unicaster func(userID string, msg []byte)

// Frame 组装推送帧：{"type":...,"channel":...,"data":...}
func Frame(typ, channel string, data interface{}) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer BufferPool.Put(buf)

	t, _ := json.Marshal(typ)
	buf.WriteString(`{"type":`)
	buf.Write(t)
	if channel != "" {
		ch, _ := json.Marshal(channel)
		buf.WriteString(`,"channel":`)
		buf.Write(ch)
	}
	buf.WriteString(`,"data":`)
	buf.Write(payload)
	buf.WriteByte('}')

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
