package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/gogogo1024/ai-trader/biz/dal/pg"
	"github.com/gogogo1024/ai-trader/biz/engine"
	"github.com/gogogo1024/ai-trader/biz/metrics"
	"github.com/gogogo1024/ai-trader/biz/model"
	"github.com/gogogo1024/ai-trader/biz/util"
)

const marketChannelPrefix = "market:"

// CandleHandler 收盘K线回调，history 为含本根在内的已收盘K线
type CandleHandler func(symbol, period string, k model.Kline, history []model.Kline)

type MarketDataOptions struct {
	Periods     []string
	History     int
	Broadcast   engine.Broadcaster
	PriceAlerts PriceChecker
	OnCandle    CandleHandler
	// Persist 为 false 时收盘K线不写 Redis/PG
	Persist bool
}

// MarketData 行情总线：按需订阅 Redis 频道，聚合K线并分发
type MarketData struct {
	rdb  *goredis.Client
	ps   *goredis.PubSub
	opts MarketDataOptions

	mu   sync.Mutex
	refs map[string]int

	aggMu sync.RWMutex
	aggs  map[string][]*Aggregator

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMarketData(ctx context.Context, rdb *goredis.Client, opts MarketDataOptions) (*MarketData, error) {
	if len(opts.Periods) == 0 {
		opts.Periods = []string{"1m"}
	}
	for _, p := range opts.Periods {
		if _, ok := PeriodSeconds(p); !ok {
			return nil, fmt.Errorf("%w: unknown period %q", ErrInvalidArgument, p)
		}
	}
	if opts.History <= 0 {
		opts.History = DefaultHistory
	}
	return &MarketData{
		rdb:  rdb,
		ps:   rdb.Subscribe(ctx),
		opts: opts,
		refs: make(map[string]int),
		aggs: make(map[string][]*Aggregator),
	}, nil
}

// Channel 交易对对应的总线频道
func Channel(symbol string) string {
	return marketChannelPrefix + util.NormalizeSymbol(symbol)
}

// Subscribe 引用计数订阅，首个引用才真正订阅 Redis 频道
func (m *MarketData) Subscribe(ctx context.Context, symbol string) error {
	symbol = util.NormalizeSymbol(symbol)
	if symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs[symbol] > 0 {
		m.refs[symbol]++
		return nil
	}
	if err := m.ps.Subscribe(ctx, Channel(symbol)); err != nil {
		return err
	}
	m.refs[symbol] = 1
	hlog.CtxInfof(ctx, "[Market] subscribed %s", Channel(symbol))
	return nil
}

// Unsubscribe 释放一个引用，归零时退订
func (m *MarketData) Unsubscribe(symbol string) {
	symbol = util.NormalizeSymbol(symbol)
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.refs[symbol]
	if !ok {
		return
	}
	if n > 1 {
		m.refs[symbol] = n - 1
		return
	}
	delete(m.refs, symbol)
	if err := m.ps.Unsubscribe(context.Background(), Channel(symbol)); err != nil {
		hlog.Warnf("[Market] unsubscribe %s failed: %v", symbol, err)
	}
}

// Subscribed 当前引用数
func (m *MarketData) Subscribed(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs[util.NormalizeSymbol(symbol)]
}

func validateTick(t *model.Tick) error {
	t.Symbol = util.NormalizeSymbol(t.Symbol)
	if t.Symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidTick)
	}
	if !t.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidTick)
	}
	if t.Volume.IsNegative() {
		return fmt.Errorf("%w: volume must not be negative", ErrInvalidTick)
	}
	if t.Ts == 0 {
		t.Ts = time.Now().UnixMilli()
	}
	return nil
}

// Publish 校验后发布到总线
func (m *MarketData) Publish(ctx context.Context, t model.Tick) error {
	if err := validateTick(&t); err != nil {
		return err
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return m.rdb.Publish(ctx, Channel(t.Symbol), b).Err()
}

// Start 启动接收循环，单协程处理保证同一交易对按到达顺序处理
func (m *MarketData) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ch := m.ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var t model.Tick
				if err := json.Unmarshal([]byte(msg.Payload), &t); err != nil {
					hlog.Warnf("[Market] invalid payload on %s: %v", msg.Channel, err)
					continue
				}
				if err := m.HandleTick(ctx, t); err != nil {
					hlog.Warnf("[Market] drop tick on %s: %v", msg.Channel, err)
				}
			}
		}
	}()
}

func (m *MarketData) aggregators(symbol string) []*Aggregator {
	m.aggMu.RLock()
	list, ok := m.aggs[symbol]
	m.aggMu.RUnlock()
	if ok {
		return list
	}
	m.aggMu.Lock()
	defer m.aggMu.Unlock()
	if list, ok = m.aggs[symbol]; ok {
		return list
	}
	list = make([]*Aggregator, 0, len(m.opts.Periods))
	for _, p := range m.opts.Periods {
		a, _ := NewAggregator(symbol, p, m.opts.History)
		list = append(list, a)
	}
	m.aggs[symbol] = list
	return list
}

func (m *MarketData) aggregator(symbol, period string) *Aggregator {
	for _, a := range m.aggregators(symbol) {
		if a.period == period {
			return a
		}
	}
	return nil
}

// Warmup 从 PG 预热各周期历史K线
func (m *MarketData) Warmup(ctx context.Context, symbols []string) {
	for _, s := range symbols {
		s = util.NormalizeSymbol(s)
		for _, a := range m.aggregators(s) {
			ks, err := pg.ListKlines(ctx, s, a.period, m.opts.History)
			if err != nil {
				hlog.CtxWarnf(ctx, "[Market] warmup %s %s failed: %v", s, a.period, err)
				continue
			}
			a.Seed(ks)
		}
	}
}

// HandleTick 处理一笔行情
func (m *MarketData) HandleTick(ctx context.Context, t model.Tick) error {
	if err := validateTick(&t); err != nil {
		return err
	}
	metrics.TicksProcessed.WithLabelValues(t.Symbol).Inc()

	if err := m.rdb.HSet(ctx, tickerKey(t.Symbol), "price", t.Price.String(), "ts", t.Ts).Err(); err != nil {
		hlog.CtxWarnf(ctx, "[Market] update ticker %s failed: %v", t.Symbol, err)
	}
	if m.opts.Broadcast != nil {
		if frame, err := engine.Frame("tick", t.Symbol, t); err == nil {
			m.opts.Broadcast(t.Symbol, frame)
		}
	}
	if m.opts.PriceAlerts != nil {
		m.opts.PriceAlerts.Check(ctx, t.Symbol, t.Price)
	}
	for _, a := range m.aggregators(t.Symbol) {
		closed, ok := a.Add(t)
		if !ok {
			continue
		}
		metrics.CandlesClosed.WithLabelValues(t.Symbol, a.period).Inc()
		if m.opts.Persist {
			persistKline(ctx, *closed)
		}
		if m.opts.Broadcast != nil {
			if frame, err := engine.Frame("kline", t.Symbol, closed); err == nil {
				m.opts.Broadcast(t.Symbol, frame)
			}
		}
		if m.opts.OnCandle != nil {
			m.opts.OnCandle(t.Symbol, a.period, *closed, a.History())
		}
	}
	return nil
}

func tickerKey(symbol string) string {
	return "ticker:" + symbol
}

// Ticker 最新价
type Ticker struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Ts     int64           `json:"ts"`
}

func (m *MarketData) Ticker(ctx context.Context, symbol string) (*Ticker, error) {
	symbol = util.NormalizeSymbol(symbol)
	vals, err := m.rdb.HGetAll(ctx, tickerKey(symbol)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	price, err := decimal.NewFromString(vals["price"])
	if err != nil {
		return nil, err
	}
	ts, _ := strconv.ParseInt(vals["ts"], 10, 64)
	return &Ticker{Symbol: symbol, Price: price, Ts: ts}, nil
}

// LastPrice 最新成交价
func (m *MarketData) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	tk, err := m.Ticker(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return tk.Price, nil
}

// History 已收盘K线，按时间升序
func (m *MarketData) History(symbol, period string) []model.Kline {
	a := m.aggregator(util.NormalizeSymbol(symbol), period)
	if a == nil {
		return nil
	}
	return a.History()
}

// Klines 优先取内存，内存为空时查 PG
func (m *MarketData) Klines(ctx context.Context, symbol, period string, limit int) ([]model.Kline, error) {
	if _, ok := PeriodSeconds(period); !ok {
		return nil, fmt.Errorf("%w: unknown period %q", ErrInvalidArgument, period)
	}
	if limit <= 0 || limit > m.opts.History {
		limit = m.opts.History
	}
	symbol = util.NormalizeSymbol(symbol)
	ks := m.History(symbol, period)
	if len(ks) == 0 && pg.GormDB != nil {
		return pg.ListKlines(ctx, symbol, period, limit)
	}
	if len(ks) > limit {
		ks = ks[len(ks)-limit:]
	}
	return ks, nil
}

// Close 停止接收循环并关闭 PubSub
func (m *MarketData) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	if err := m.ps.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		hlog.Warnf("[Market] close pubsub: %v", err)
	}
	m.wg.Wait()
}
