package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cloudwego/hertz/pkg/common/hlog"

	"github.com/gogogo1024/ai-trader/biz/dal/pg"
	"github.com/gogogo1024/ai-trader/biz/dal/redis"
	"github.com/gogogo1024/ai-trader/biz/model"
)

const (
	DefaultHistory     = 500
	redisKlineMaxItems = 1000
)

var klinePeriodSeconds = map[string]int64{
	"1m":  60,
	"5m":  300,
	"15m": 900,
	"30m": 1800,
	"1h":  3600,
	"4h":  14400,
	"1d":  86400,
	"1w":  604800,
}

// PeriodSeconds 周期字符串转秒
func PeriodSeconds(period string) (int64, bool) {
	s, ok := klinePeriodSeconds[period]
	return s, ok
}

// Aggregator 单个 (symbol, period) 的K线聚合器
type Aggregator struct {
	symbol  string
	period  string
	seconds int64
	max     int

	mu      sync.RWMutex
	cur     *model.Kline
	history []model.Kline
	dropped int64
}

func NewAggregator(symbol, period string, history int) (*Aggregator, error) {
	sec, ok := PeriodSeconds(period)
	if !ok {
		return nil, fmt.Errorf("%w: unknown period %q", ErrInvalidArgument, period)
	}
	if history <= 0 {
		history = DefaultHistory
	}
	return &Aggregator{symbol: symbol, period: period, seconds: sec, max: history}, nil
}

func (a *Aggregator) bucket(tsMs int64) int64 {
	return tsMs / 1000 / a.seconds * a.seconds
}

// Add 合入一笔成交，跨桶时返回收盘的K线；早于当前桶的成交被丢弃
func (a *Aggregator) Add(t model.Tick) (*model.Kline, bool) {
	b := a.bucket(t.Ts)
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cur == nil {
		a.cur = newKline(a.symbol, a.period, b, t)
		return nil, false
	}
	switch {
	case b == a.cur.Timestamp:
		if t.Price.GreaterThan(a.cur.High) {
			a.cur.High = t.Price
		}
		if t.Price.LessThan(a.cur.Low) {
			a.cur.Low = t.Price
		}
		a.cur.Close = t.Price
		a.cur.Volume = a.cur.Volume.Add(t.Volume)
		return nil, false
	case b > a.cur.Timestamp:
		closed := *a.cur
		a.history = append(a.history, closed)
		if len(a.history) > a.max {
			a.history = a.history[len(a.history)-a.max:]
		}
		a.cur = newKline(a.symbol, a.period, b, t)
		return &closed, true
	default:
		a.dropped++
		return nil, false
	}
}

func newKline(symbol, period string, bucket int64, t model.Tick) *model.Kline {
	return &model.Kline{
		Symbol:    symbol,
		Period:    period,
		Timestamp: bucket,
		Open:      t.Price,
		High:      t.Price,
		Low:       t.Price,
		Close:     t.Price,
		Volume:    t.Volume,
	}
}

// Seed 启动时用已持久化的K线预热历史
func (a *Aggregator) Seed(ks []model.Kline) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history[:0], ks...)
	if len(a.history) > a.max {
		a.history = a.history[len(a.history)-a.max:]
	}
}

// History 已收盘K线的拷贝，按时间升序
func (a *Aggregator) History() []model.Kline {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]model.Kline, len(a.history))
	copy(out, a.history)
	return out
}

func (a *Aggregator) Current() (model.Kline, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.cur == nil {
		return model.Kline{}, false
	}
	return *a.cur, true
}

func (a *Aggregator) Dropped() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.dropped
}

func klineRedisKey(symbol, period string) string {
	return "kline:" + symbol + ":" + period
}

// persistKline 收盘K线写 Redis 列表与 PG
func persistKline(ctx context.Context, k model.Kline) {
	if redis.Client != nil {
		b, _ := json.Marshal(k)
		key := klineRedisKey(k.Symbol, k.Period)
		pipe := redis.Client.TxPipeline()
		pipe.RPush(ctx, key, b)
		pipe.LTrim(ctx, key, -redisKlineMaxItems, -1) // 只保留最新1000条
		if _, err := pipe.Exec(ctx); err != nil {
			hlog.CtxWarnf(ctx, "[Kline] redis push failed, key=%s, err=%v", key, err)
		}
	}
	if pg.GormDB != nil {
		if err := pg.UpsertKline(ctx, &k); err != nil {
			hlog.CtxErrorf(ctx, "[Kline] upsert failed, symbol=%s, period=%s, ts=%d, err=%v", k.Symbol, k.Period, k.Timestamp, err)
			saveKlineCompensate(ctx, k)
		}
	}
}
