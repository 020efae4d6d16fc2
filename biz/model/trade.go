package model

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	SideLong = "long"

	ModePaper = "paper"
	ModeLive  = "live"

	ExitSignal     = "signal"
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitManual     = "manual"
)

// Trade 一笔已平仓的交易（GORM）
type Trade struct {
	ID         string          `gorm:"primaryKey;column:id" json:"id"`
	UserID     string          `gorm:"column:user_id;index" json:"user_id"`
	StrategyID string          `gorm:"column:strategy_id;index" json:"strategy_id"`
	Symbol     string          `gorm:"column:symbol;index" json:"symbol"`
	Side       string          `gorm:"column:side" json:"side"`
	Mode       string          `gorm:"column:mode" json:"mode"`
	EntryPrice decimal.Decimal `gorm:"column:entry_price;type:numeric(30,10)" json:"entry_price"`
	ExitPrice  decimal.Decimal `gorm:"column:exit_price;type:numeric(30,10)" json:"exit_price"`
	Quantity   decimal.Decimal `gorm:"column:quantity;type:numeric(30,10)" json:"quantity"`
	Fee        decimal.Decimal `gorm:"column:fee;type:numeric(30,10)" json:"fee"`
	PnL        decimal.Decimal `gorm:"column:pnl;type:numeric(30,10)" json:"pnl"`
	EntryTime  int64           `gorm:"column:entry_time" json:"entry_time"`
	ExitTime   int64           `gorm:"column:exit_time;index" json:"exit_time"`
	DurationMs int64           `gorm:"column:duration_ms" json:"duration_ms"`
	ExitReason string          `gorm:"column:exit_reason" json:"exit_reason"`
	CreatedAt  int64           `gorm:"column:created_at;autoCreateTime:milli" json:"created_at"`
	DeletedAt  gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (Trade) TableName() string {
	return "trades"
}

// Settle fills Fee, PnL and DurationMs from prices, quantity and times.
// Fee is charged on both legs.
func (t *Trade) Settle(feeRate decimal.Decimal) {
	notional := t.EntryPrice.Add(t.ExitPrice).Mul(t.Quantity)
	t.Fee = notional.Mul(feeRate)
	t.PnL = t.ExitPrice.Sub(t.EntryPrice).Mul(t.Quantity).Sub(t.Fee)
	t.DurationMs = t.ExitTime - t.EntryTime
	if t.DurationMs < 0 {
		t.DurationMs = 0
	}
}

// Position 内存中的持仓
type Position struct {
	StrategyID string          `json:"strategy_id"`
	UserID     string          `json:"user_id"`
	Symbol     string          `json:"symbol"`
	Mode       string          `json:"mode"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	EntryTime  int64           `json:"entry_time"`
}

// TradeStats 策略成交统计
type TradeStats struct {
	StrategyID    string          `json:"strategy_id"`
	Count         int             `json:"count"`
	Wins          int             `json:"wins"`
	Losses        int             `json:"losses"`
	WinRate       float64         `json:"win_rate"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	TotalFee      decimal.Decimal `json:"total_fee"`
	AvgDurationMs int64           `json:"avg_duration_ms"`
}
