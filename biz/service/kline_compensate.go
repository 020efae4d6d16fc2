package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"

	"github.com/gogogo1024/ai-trader/biz/dal/pg"
	"github.com/gogogo1024/ai-trader/biz/dal/redis"
	"github.com/gogogo1024/ai-trader/biz/model"
)

const klineCompensateKey = "klines"

func klineCompensateID(k model.Kline) string {
	return fmt.Sprintf("%s:%s:%d", k.Symbol, k.Period, k.Timestamp)
}

// saveKlineCompensate 落库失败的K线写入补偿表，同一根K线只保留最新值
func saveKlineCompensate(ctx context.Context, k model.Kline) {
	if redis.Client == nil {
		return
	}
	if err := redis.SaveCompensate(ctx, klineCompensateKey, klineCompensateID(k), k); err != nil {
		hlog.CtxErrorf(ctx, "[Kline] save compensation failed, id=%s, err=%v", klineCompensateID(k), err)
	}
}

// CompensateKlines 重试一轮K线补偿，返回补写成功的条数
func CompensateKlines(ctx context.Context) (int, error) {
	records, err := redis.GetAllCompensates(ctx, klineCompensateKey)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for id, rec := range records {
		if rec.RetryCount >= redis.MaxRetryCount {
			hlog.CtxErrorf(ctx, "[Compensate] give up kline id=%s after %d retries", id, rec.RetryCount)
			_ = redis.DeleteCompensate(ctx, klineCompensateKey, id)
			continue
		}
		var k model.Kline
		if err := json.Unmarshal(rec.Payload, &k); err != nil {
			_ = redis.DeleteCompensate(ctx, klineCompensateKey, id)
			continue
		}
		k.ID = 0
		if err := pg.UpsertKline(ctx, &k); err != nil {
			hlog.CtxWarnf(ctx, "[Compensate] kline upsert failed, id=%s, err=%v", id, err)
			_ = redis.UpdateCompensateRetry(ctx, klineCompensateKey, id, rec)
			continue
		}
		_ = redis.DeleteCompensate(ctx, klineCompensateKey, id)
		recovered++
	}
	if recovered > 0 {
		hlog.CtxInfof(ctx, "[Compensate] recovered %d klines", recovered)
	}
	return recovered, nil
}

// StartKlineCompensateTask 定时补偿K线，返回的 stop 取消任务并等待当前一轮结束
func StartKlineCompensateTask(ctx context.Context, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := CompensateKlines(ctx); err != nil {
					hlog.CtxWarnf(ctx, "[Compensate] kline round failed: %v", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
