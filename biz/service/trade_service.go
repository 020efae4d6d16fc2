package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/shopspring/decimal"

	"github.com/gogogo1024/ai-trader/biz/dal/kafka"
	"github.com/gogogo1024/ai-trader/biz/dal/pg"
	"github.com/gogogo1024/ai-trader/biz/dal/redis"
	"github.com/gogogo1024/ai-trader/biz/engine"
	"github.com/gogogo1024/ai-trader/biz/metrics"
	"github.com/gogogo1024/ai-trader/biz/model"
	"github.com/gogogo1024/ai-trader/biz/util"
)

const (
	TradeWSChannel     = "trades"
	tradeCompensateKey = "trades"
	recentTradesMax    = 100
	defaultTradeLimit  = 50
	maxTradeLimit      = 500
)

// TradeRecorder 记录平仓成交
type TradeRecorder interface {
	Record(ctx context.Context, t *model.Trade, feeRate decimal.Decimal) error
}

// TradeService 成交流水：落库、补偿、缓存、Kafka 与推送
type TradeService struct {
	kafka     *kafka.BatchWriter
	broadcast engine.Broadcaster

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ TradeRecorder = (*TradeService)(nil)

func NewTradeService(kw *kafka.BatchWriter, broadcast engine.Broadcaster) *TradeService {
	return &TradeService{kafka: kw, broadcast: broadcast}
}

// Record 结算费用与盈亏后落库；落库失败写入 Redis 补偿表，由后台任务重试
func (s *TradeService) Record(ctx context.Context, t *model.Trade, feeRate decimal.Decimal) error {
	t.Settle(feeRate)
	if t.ID == "" {
		id, err := util.GenerateID()
		if err != nil {
			return err
		}
		t.ID = id
	}
	if t.Side == "" {
		t.Side = model.SideLong
	}
	if t.Mode == "" {
		t.Mode = model.ModePaper
	}

	if err := pg.CreateTrade(ctx, t); err != nil {
		hlog.CtxErrorf(ctx, "[Trade] persist failed, id=%s, err=%v, saving to compensation", t.ID, err)
		if cerr := redis.SaveCompensate(ctx, tradeCompensateKey, t.ID, t); cerr != nil {
			hlog.CtxErrorf(ctx, "[Trade] save compensation failed, id=%s, err=%v", t.ID, cerr)
			return cerr
		}
	}
	metrics.TradesRecorded.WithLabelValues(t.Mode).Inc()
	s.publish(ctx, t)
	return nil
}

func recentTradesKey(symbol string) string {
	return "trades:" + symbol
}

func (s *TradeService) publish(ctx context.Context, t *model.Trade) {
	b, err := json.Marshal(t)
	if err != nil {
		return
	}
	if redis.Client != nil {
		key := recentTradesKey(t.Symbol)
		pipe := redis.Client.TxPipeline()
		pipe.LPush(ctx, key, b)
		pipe.LTrim(ctx, key, 0, recentTradesMax-1)
		if _, err := pipe.Exec(ctx); err != nil {
			hlog.CtxWarnf(ctx, "[Trade] cache recent failed, key=%s, err=%v", key, err)
		}
	}
	s.kafka.SendRaw(t.Symbol, b)
	if s.broadcast != nil {
		if frame, err := engine.Frame("trade", TradeWSChannel, json.RawMessage(b)); err == nil {
			s.broadcast(TradeWSChannel, frame)
		}
	}
}

// RetryCompensations 重试一轮补偿；超过最大次数的记录放弃并删除
func (s *TradeService) RetryCompensations(ctx context.Context) (recovered int, err error) {
	records, err := redis.GetAllCompensates(ctx, tradeCompensateKey)
	if err != nil {
		return 0, err
	}
	pending := make([]model.Trade, 0, len(records))
	for id, rec := range records {
		if rec.RetryCount >= redis.MaxRetryCount {
			hlog.CtxErrorf(ctx, "[Compensate] give up trade id=%s after %d retries, payload=%s", id, rec.RetryCount, rec.Payload)
			_ = redis.DeleteCompensate(ctx, tradeCompensateKey, id)
			continue
		}
		var t model.Trade
		if err := json.Unmarshal(rec.Payload, &t); err != nil {
			hlog.CtxErrorf(ctx, "[Compensate] bad payload id=%s: %v", id, err)
			_ = redis.DeleteCompensate(ctx, tradeCompensateKey, id)
			continue
		}
		if exists, err := pg.TradeExists(ctx, id); err == nil && exists {
			_ = redis.DeleteCompensate(ctx, tradeCompensateKey, id)
			continue
		}
		pending = append(pending, t)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	if err := pg.BatchInsertTrades(ctx, pending); err != nil {
		hlog.CtxWarnf(ctx, "[Compensate] batch insert failed, count=%d, err=%v", len(pending), err)
		for _, t := range pending {
			if rec := records[t.ID]; rec != nil {
				_ = redis.UpdateCompensateRetry(ctx, tradeCompensateKey, t.ID, rec)
			}
		}
		return 0, err
	}
	for _, t := range pending {
		_ = redis.DeleteCompensate(ctx, tradeCompensateKey, t.ID)
	}
	hlog.CtxInfof(ctx, "[Compensate] recovered %d trades", len(pending))
	return len(pending), nil
}

// StartCompensation 定时补偿
func (s *TradeService) StartCompensation(ctx context.Context, interval time.Duration) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RetryCompensations(ctx); err != nil {
					hlog.CtxWarnf(ctx, "[Compensate] round failed: %v", err)
				}
			}
		}
	}()
}

func (s *TradeService) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// List 最新在前，limit 默认50，最大500
func (s *TradeService) List(ctx context.Context, f pg.TradeFilter) ([]model.Trade, error) {
	if f.Limit <= 0 {
		f.Limit = defaultTradeLimit
	}
	if f.Limit > maxTradeLimit {
		f.Limit = maxTradeLimit
	}
	if f.Symbol != "" {
		f.Symbol = util.NormalizeSymbol(f.Symbol)
	}
	return pg.ListTrades(ctx, f)
}

// Recent 最近成交缓存
func (s *TradeService) Recent(ctx context.Context, symbol string, n int64) ([]model.Trade, error) {
	if n <= 0 || n > recentTradesMax {
		n = recentTradesMax
	}
	vals, err := redis.Client.LRange(ctx, recentTradesKey(util.NormalizeSymbol(symbol)), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.Trade, 0, len(vals))
	for _, v := range vals {
		var t model.Trade
		if json.Unmarshal([]byte(v), &t) == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

// Stats 策略成交统计
func (s *TradeService) Stats(ctx context.Context, strategyID string) (model.TradeStats, error) {
	trades, err := pg.TradesByStrategy(ctx, strategyID)
	if err != nil {
		return model.TradeStats{}, err
	}
	return computeStats(strategyID, trades), nil
}

func computeStats(strategyID string, trades []model.Trade) model.TradeStats {
	st := model.TradeStats{StrategyID: strategyID, TotalPnL: decimal.Zero, TotalFee: decimal.Zero}
	var totalDur int64
	for _, t := range trades {
		st.Count++
		if t.PnL.IsPositive() {
			st.Wins++
		} else {
			st.Losses++
		}
		st.TotalPnL = st.TotalPnL.Add(t.PnL)
		st.TotalFee = st.TotalFee.Add(t.Fee)
		totalDur += t.DurationMs
	}
	if st.Count > 0 {
		st.WinRate = float64(st.Wins) / float64(st.Count)
		st.AvgDurationMs = totalDur / int64(st.Count)
	}
	return st
}
