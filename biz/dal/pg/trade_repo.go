package pg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gogogo1024/ai-trader/biz/model"
)

// TradeFilter 成交查询条件
type TradeFilter struct {
	Symbol     string
	StrategyID string
	UserID     string
	Limit      int
}

// CreateTrade 插入一条成交
func CreateTrade(ctx context.Context, trade *model.Trade) error {
	return GormDB.WithContext(ctx).Create(trade).Error
}

// ListTrades 按平仓时间倒序查询成交
func ListTrades(ctx context.Context, f TradeFilter) ([]model.Trade, error) {
	var trades []model.Trade
	db := GormDB.WithContext(ctx).Model(&model.Trade{})
	if f.Symbol != "" {
		db = db.Where("symbol = ?", f.Symbol)
	}
	if f.StrategyID != "" {
		db = db.Where("strategy_id = ?", f.StrategyID)
	}
	if f.UserID != "" {
		db = db.Where("user_id = ?", f.UserID)
	}
	err := db.Order("exit_time desc").Limit(f.Limit).Find(&trades).Error
	return trades, err
}

// TradesByStrategy 查询策略的全部成交
func TradesByStrategy(ctx context.Context, strategyID string) ([]model.Trade, error) {
	var trades []model.Trade
	err := GormDB.WithContext(ctx).Where("strategy_id = ?", strategyID).Find(&trades).Error
	return trades, err
}

// TradeExists 判断成交是否已落库
func TradeExists(ctx context.Context, id string) (bool, error) {
	var n int64
	err := GormDB.WithContext(ctx).Model(&model.Trade{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

// BatchInsertTrades 原生多值INSERT，连接池不可用时退化为GORM批量写入
func BatchInsertTrades(ctx context.Context, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	pool := GetPool()
	if pool == nil {
		return GormDB.WithContext(ctx).CreateInBatches(trades, 100).Error
	}
	const cols = 16
	query := "INSERT INTO trades (id, user_id, strategy_id, symbol, side, mode, entry_price, exit_price, quantity, fee, pnl, entry_time, exit_time, duration_ms, exit_reason, created_at) VALUES "
	args := make([]interface{}, 0, len(trades)*cols)
	valueStrings := make([]string, 0, len(trades))
	now := time.Now().UnixMilli()
	for i, t := range trades {
		ph := make([]string, cols)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", i*cols+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(ph, ",")+")")
		args = append(args,
			t.ID, t.UserID, t.StrategyID, t.Symbol, t.Side, t.Mode,
			t.EntryPrice.String(), t.ExitPrice.String(), t.Quantity.String(), t.Fee.String(), t.PnL.String(),
			t.EntryTime, t.ExitTime, t.DurationMs, t.ExitReason, now,
		)
	}
	query += strings.Join(valueStrings, ",") + " ON CONFLICT (id) DO NOTHING"
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := pool.Exec(ctx, query, args...)
	return err
}
