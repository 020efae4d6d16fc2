package model

import "github.com/shopspring/decimal"

const (
	AlertTradeOpened      = "trade_opened"
	AlertTradeClosed      = "trade_closed"
	AlertPrice            = "price"
	AlertStrategyError    = "strategy_error"
	AlertStrategyDisabled = "strategy_disabled"
)

// Alert 推送给用户的通知，UserID 为空表示广播
type Alert struct {
	ID        string `gorm:"primaryKey;column:id" json:"id"`
	UserID    string `gorm:"column:user_id;index" json:"user_id,omitempty"`
	Type      string `gorm:"column:type" json:"type"`
	Symbol    string `gorm:"column:symbol" json:"symbol,omitempty"`
	Message   string `gorm:"column:message" json:"message"`
	Payload   string `gorm:"column:payload;type:text" json:"payload,omitempty"`
	CreatedAt int64  `gorm:"column:created_at;index" json:"created_at"`
}

func (Alert) TableName() string {
	return "alerts"
}

const (
	DirectionAbove = "above"
	DirectionBelow = "below"

	PriceAlertActive    = "active"
	PriceAlertTriggered = "triggered"
	PriceAlertCancelled = "cancelled"
)

// PriceAlert 价格穿越提醒，一次性触发
type PriceAlert struct {
	ID          string          `gorm:"primaryKey;column:id" json:"id"`
	UserID      string          `gorm:"column:user_id;index" json:"user_id"`
	Symbol      string          `gorm:"column:symbol;index" json:"symbol"`
	Direction   string          `gorm:"column:direction" json:"direction"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(30,10)" json:"price"`
	Status      string          `gorm:"column:status;index" json:"status"`
	TriggeredAt int64           `gorm:"column:triggered_at" json:"triggered_at,omitempty"`
	CreatedAt   int64           `gorm:"column:created_at;autoCreateTime:milli" json:"created_at"`
}

func (PriceAlert) TableName() string {
	return "price_alerts"
}
