package model

import "github.com/shopspring/decimal"

type Kline struct {
	ID        uint            `gorm:"primaryKey" json:"-"`
	Symbol    string          `gorm:"uniqueIndex:idx_symbol_period_time" json:"symbol"`
	Period    string          `gorm:"uniqueIndex:idx_symbol_period_time" json:"period"`
	Timestamp int64           `gorm:"uniqueIndex:idx_symbol_period_time" json:"timestamp"`
	Open      decimal.Decimal `gorm:"type:numeric(30,10)" json:"open"`
	Close     decimal.Decimal `gorm:"type:numeric(30,10)" json:"close"`
	High      decimal.Decimal `gorm:"type:numeric(30,10)" json:"high"`
	Low       decimal.Decimal `gorm:"type:numeric(30,10)" json:"low"`
	Volume    decimal.Decimal `gorm:"type:numeric(30,10)" json:"volume"`
}

func (Kline) TableName() string {
	return "kline"
}
