package server

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/websocket"

	"github.com/gogogo1024/ai-trader/biz/metrics"
)

const (
	shardNum        = 32
	defaultBufSize  = 4096
	clientQueueSize = 256
	writeRetries    = 3

	ChannelAlerts = "alerts"
	ChannelTrades = "trades"
)

// Conn 是 *websocket.Conn 的最小子集
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type HubOptions struct {
	// BufSize 每个频道分发缓冲区大小
	BufSize int
	// Spill 缓冲区满时丢弃的消息交给它（通常写入 Kafka）
	Spill func(channel string, msg []byte)
	// OnSubscribe/OnUnsubscribe 行情频道订阅的引用计数回调
	OnSubscribe   func(ctx context.Context, symbol string) error
	OnUnsubscribe func(symbol string)
	// Authenticate 校验 ?token=，返回用户ID
	Authenticate func(token string) (string, error)
	CheckOrigin  func(c *app.RequestContext) bool
}

type Client struct {
	hub      *Hub
	conn     Conn
	userID   string
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	channels map[string]struct{}
}

func (c *Client) UserID() string {
	return c.userID
}

func (c *Client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		metrics.WSDropped.WithLabelValues("slow_client").Inc()
		return false
	}
}

// writePump 串行写连接，重试3次仍失败则摘除连接
func (c *Client) writePump() {
	for {
		select {
		case msg := <-c.send:
			ok := false
			for i := 0; i < writeRetries; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					hlog.Warnf("[WS] write error: %v, retry %d", err, i+1)
					continue
				}
				ok = true
				break
			}
			if !ok {
				hlog.Warnf("[WS] conn write failed after retries, evicting user=%s", c.userID)
				metrics.WSDropped.WithLabelValues("write_failed").Inc()
				go c.hub.Unregister(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

type channelShard struct {
	mu   sync.RWMutex
	subs map[string]map[*Client]struct{}
	bufs map[string]chan []byte
}

// Hub 管理 WebSocket 连接、频道订阅和用户单播
type Hub struct {
	opts    HubOptions
	shards  [shardNum]*channelShard
	usersMu sync.RWMutex
	users   map[string]map[*Client]struct{}
	clients sync.Map // *Client -> struct{}
	count   atomic.Int64
	closed  atomic.Bool
	wg      sync.WaitGroup
}

func NewHub(opts HubOptions) *Hub {
	if opts.BufSize <= 0 {
		opts.BufSize = defaultBufSize
	}
	h := &Hub{opts: opts, users: make(map[string]map[*Client]struct{})}
	for i := 0; i < shardNum; i++ {
		h.shards[i] = &channelShard{
			subs: make(map[string]map[*Client]struct{}),
			bufs: make(map[string]chan []byte),
		}
	}
	return h
}

func fnv32(key string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return h
}

func (h *Hub) shard(channel string) *channelShard {
	return h.shards[fnv32(channel)%shardNum]
}

// NormalizeChannel 行情频道统一大写，系统频道保持不变
func NormalizeChannel(channel string) string {
	ch := strings.TrimSpace(channel)
	switch strings.ToLower(ch) {
	case ChannelAlerts, ChannelTrades:
		return strings.ToLower(ch)
	}
	return strings.ToUpper(ch)
}

func isMarketChannel(channel string) bool {
	return channel != ChannelAlerts && channel != ChannelTrades
}

// Register 注册连接，userID 为空表示匿名
func (h *Hub) Register(conn Conn, userID string) *Client {
	c := &Client{
		hub:      h,
		conn:     conn,
		userID:   userID,
		send:     make(chan []byte, clientQueueSize),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}
	h.clients.Store(c, struct{}{})
	h.count.Add(1)
	metrics.WSConnections.Inc()
	if userID != "" {
		h.usersMu.Lock()
		if h.users[userID] == nil {
			h.users[userID] = make(map[*Client]struct{})
		}
		h.users[userID][c] = struct{}{}
		h.usersMu.Unlock()
	}
	go c.writePump()
	return c
}

// Unregister 清理连接的所有订阅并关闭连接，可重复调用
func (h *Hub) Unregister(c *Client) {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		channels := make([]string, 0, len(c.channels))
		for ch := range c.channels {
			channels = append(channels, ch)
		}
		c.channels = map[string]struct{}{}
		c.mu.Unlock()
		for _, ch := range channels {
			h.removeSub(c, ch)
		}
		if c.userID != "" {
			h.usersMu.Lock()
			if conns, ok := h.users[c.userID]; ok {
				delete(conns, c)
				if len(conns) == 0 {
					delete(h.users, c.userID)
				}
			}
			h.usersMu.Unlock()
		}
		h.clients.Delete(c)
		h.count.Add(-1)
		metrics.WSConnections.Dec()
		if err := c.conn.Close(); err != nil {
			hlog.Debugf("[WS] close error: %v", err)
		}
	})
}

// Subscribe 订阅频道，行情频道会触发 OnSubscribe
func (h *Hub) Subscribe(ctx context.Context, c *Client, channel string) error {
	channel = NormalizeChannel(channel)
	c.mu.Lock()
	_, exists := c.channels[channel]
	c.mu.Unlock()
	if exists {
		return nil
	}
	if isMarketChannel(channel) && h.opts.OnSubscribe != nil {
		if err := h.opts.OnSubscribe(ctx, channel); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.channels[channel] = struct{}{}
	c.mu.Unlock()

	s := h.shard(channel)
	s.mu.Lock()
	if s.subs[channel] == nil {
		s.subs[channel] = make(map[*Client]struct{})
	}
	s.subs[channel][c] = struct{}{}
	if !h.closed.Load() {
		h.ensureDispatcher(s, channel)
	}
	s.mu.Unlock()
	return nil
}

// Unsubscribe 退订频道，返回之前是否订阅过
func (h *Hub) Unsubscribe(c *Client, channel string) bool {
	channel = NormalizeChannel(channel)
	c.mu.Lock()
	_, ok := c.channels[channel]
	delete(c.channels, channel)
	c.mu.Unlock()
	if !ok {
		return false
	}
	h.removeSub(c, channel)
	return true
}

func (h *Hub) removeSub(c *Client, channel string) {
	s := h.shard(channel)
	s.mu.Lock()
	if conns, ok := s.subs[channel]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(s.subs, channel)
		}
	}
	s.mu.Unlock()
	if isMarketChannel(channel) && h.opts.OnUnsubscribe != nil {
		h.opts.OnUnsubscribe(channel)
	}
}

// ensureDispatcher 调用方需持有 s.mu 写锁
func (h *Hub) ensureDispatcher(s *channelShard, channel string) chan []byte {
	if buf, ok := s.bufs[channel]; ok {
		return buf
	}
	buf := make(chan []byte, h.opts.BufSize)
	s.bufs[channel] = buf
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for msg := range buf {
			s.mu.RLock()
			conns := make([]*Client, 0, len(s.subs[channel]))
			for c := range s.subs[channel] {
				conns = append(conns, c)
			}
			s.mu.RUnlock()
			for _, c := range conns {
				c.enqueue(msg)
			}
		}
	}()
	return buf
}

// Broadcast 广播消息到频道；缓冲区满时丢弃并交给 Spill
func (h *Hub) Broadcast(channel string, msg []byte) {
	if h.closed.Load() {
		return
	}
	channel = NormalizeChannel(channel)
	s := h.shard(channel)
	s.mu.RLock()
	buf, ok := s.bufs[channel]
	if ok {
		ok = h.offer(channel, buf, msg)
		s.mu.RUnlock()
	} else {
		s.mu.RUnlock()
		s.mu.Lock()
		if !h.closed.Load() {
			ok = h.offer(channel, h.ensureDispatcher(s, channel), msg)
		}
		s.mu.Unlock()
	}
	if !ok {
		metrics.WSDropped.WithLabelValues("buffer_full").Inc()
		if h.opts.Spill != nil {
			h.opts.Spill(channel, msg)
		}
	}
}

// offer 调用方需持有 shard 锁，Close 关闭缓冲区前会取写锁
func (h *Hub) offer(channel string, buf chan []byte, msg []byte) bool {
	select {
	case buf <- msg:
		return true
	default:
		hlog.Warnf("[WS] channel %s buffer full, drop message", channel)
		return false
	}
}

// Unicast 单播消息到用户的所有连接
func (h *Hub) Unicast(userID string, msg []byte) {
	h.usersMu.RLock()
	conns := make([]*Client, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		conns = append(conns, c)
	}
	h.usersMu.RUnlock()
	for _, c := range conns {
		c.enqueue(msg)
	}
}

func (h *Hub) ConnCount() int {
	return int(h.count.Load())
}

func (h *Hub) Subscribers(channel string) int {
	channel = NormalizeChannel(channel)
	s := h.shard(channel)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[channel])
}

// Close 停止所有分发协程并断开全部连接
func (h *Hub) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	for _, s := range h.shards {
		s.mu.Lock()
		for ch, buf := range s.bufs {
			close(buf)
			delete(s.bufs, ch)
		}
		s.mu.Unlock()
	}
	h.wg.Wait()
	h.clients.Range(func(key, _ interface{}) bool {
		h.Unregister(key.(*Client))
		return true
	})
}

type Message struct {
	Action  string `json:"action"`
	Symbol  string `json:"symbol"`
	Channel string `json:"channel"`
}

func (m Message) target() string {
	if m.Symbol != "" {
		return m.Symbol
	}
	return m.Channel
}

func (c *Client) reply(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueue(b)
}

// HandleMessage 处理客户端动作：subscribe/unsubscribe/ping
func (h *Hub) HandleMessage(ctx context.Context, c *Client, data []byte) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		c.reply(map[string]interface{}{"type": "error", "message": "invalid message"})
		return
	}
	switch m.Action {
	case "subscribe":
		target := m.target()
		if target == "" {
			c.reply(map[string]interface{}{"type": "error", "message": "symbol required"})
			return
		}
		ch := NormalizeChannel(target)
		if err := h.Subscribe(ctx, c, ch); err != nil {
			c.reply(map[string]interface{}{"type": "error", "message": err.Error(), "symbol": ch})
			return
		}
		c.reply(map[string]interface{}{"type": "subscription_ack", "symbol": ch})
	case "unsubscribe":
		target := m.target()
		if target == "" {
			c.reply(map[string]interface{}{"type": "error", "message": "symbol required"})
			return
		}
		ch := NormalizeChannel(target)
		h.Unsubscribe(c, ch)
		c.reply(map[string]interface{}{"type": "unsubscription_ack", "symbol": ch})
	case "ping":
		c.reply(map[string]interface{}{"type": "pong", "ts": time.Now().UnixMilli()})
	default:
		c.reply(map[string]interface{}{"type": "error", "message": "unknown action: " + m.Action})
	}
}

// Handler 返回 /ws 的 Hertz 处理函数
func (h *Hub) Handler() app.HandlerFunc {
	upgrader := websocket.HertzUpgrader{
		CheckOrigin: func(ctx *app.RequestContext) bool {
			if h.opts.CheckOrigin != nil {
				return h.opts.CheckOrigin(ctx)
			}
			return true
		},
	}
	return func(ctx context.Context, c *app.RequestContext) {
		userID := ""
		if token := c.Query("token"); token != "" && h.opts.Authenticate != nil {
			uid, err := h.opts.Authenticate(token)
			if err != nil {
				c.JSON(consts.StatusUnauthorized, map[string]interface{}{"error": "invalid token"})
				return
			}
			userID = uid
		}
		err := upgrader.Upgrade(c, func(conn *websocket.Conn) {
			client := h.Register(conn, userID)
			hlog.CtxInfof(ctx, "[WS] connection upgraded: %v, user=%s", conn.RemoteAddr(), userID)
			defer h.Unregister(client)
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					hlog.CtxDebugf(ctx, "[WS] read error: %v", err)
					return
				}
				h.HandleMessage(ctx, client, msg)
			}
		})
		if err != nil {
			hlog.CtxErrorf(ctx, "[WS] upgrade error: %v", err)
		}
	}
}
