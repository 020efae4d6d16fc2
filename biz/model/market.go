package model

import "github.com/shopspring/decimal"

// Tick 行情总线上的一笔成交价
type Tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	Ts     int64           `json:"ts"` // unix ms
}
