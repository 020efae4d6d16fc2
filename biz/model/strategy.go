package model

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Strategy 用户定义的规则策略
// EntryRule/ExitRule 为表达式源码，按 Interval 周期的收盘K线求值
type Strategy struct {
	ID            string          `gorm:"primaryKey;column:id" json:"id"`
	UserID        string          `gorm:"column:user_id;index" json:"user_id"`
	Name          string          `gorm:"column:name" json:"name"`
	Symbol        string          `gorm:"column:symbol;index" json:"symbol"`
	Interval      string          `gorm:"column:interval" json:"interval"`
	EntryRule     string          `gorm:"column:entry_rule;type:text" json:"entry_rule"`
	ExitRule      string          `gorm:"column:exit_rule;type:text" json:"exit_rule"`
	Quantity      decimal.Decimal `gorm:"column:quantity;type:numeric(30,10)" json:"quantity"`
	FeeRate       decimal.Decimal `gorm:"column:fee_rate;type:numeric(20,10)" json:"fee_rate"`
	StopLossPct   decimal.Decimal `gorm:"column:stop_loss_pct;type:numeric(20,10)" json:"stop_loss_pct"`
	TakeProfitPct decimal.Decimal `gorm:"column:take_profit_pct;type:numeric(20,10)" json:"take_profit_pct"`
	Enabled       bool            `gorm:"column:enabled;index" json:"enabled"`
	CreatedAt     int64           `gorm:"column:created_at;autoCreateTime:milli" json:"created_at"`
	UpdatedAt     int64           `gorm:"column:updated_at;autoUpdateTime:milli" json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (Strategy) TableName() string {
	return "strategies"
}
