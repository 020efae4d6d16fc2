package pg

import (
	"context"

	"github.com/gogogo1024/ai-trader/biz/model"
	"gorm.io/gorm/clause"
)

// UpsertKline upsert一条K线数据
func UpsertKline(ctx context.Context, kline *model.Kline) error {
	return GormDB.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "period"}, {Name: "timestamp"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "close", "high", "low", "volume"}),
		},
	).Create(kline).Error
}

// ListKlines 查询最近 limit 根K线，按时间升序返回
func ListKlines(ctx context.Context, symbol, period string, limit int) ([]model.Kline, error) {
	var klines []model.Kline
	err := GormDB.WithContext(ctx).
		Where("symbol = ? AND period = ?", symbol, period).
		Order("timestamp desc").Limit(limit).Find(&klines).Error
	if err != nil {
		return nil, err
	}
	// 逆序
	for i, j := 0, len(klines)-1; i < j; i, j = i+1, j-1 {
		klines[i], klines[j] = klines[j], klines[i]
	}
	return klines, nil
}
