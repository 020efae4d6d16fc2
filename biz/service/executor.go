package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gogogo1024/ai-trader/biz/broker"
	"github.com/gogogo1024/ai-trader/biz/model"
	"github.com/gogogo1024/ai-trader/biz/util"
)

// Fill 一次成交回报
type Fill struct {
	Symbol   string
	Side     string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Ts       int64 // unix ms
	OrderID  string
}

// Executor 开平仓执行器
type Executor interface {
	Buy(ctx context.Context, symbol string, qty, refPrice decimal.Decimal) (Fill, error)
	Sell(ctx context.Context, symbol string, qty, refPrice decimal.Decimal) (Fill, error)
	Mode() string
}

// PaperExecutor 本地模拟成交，买入上滑、卖出下滑
type PaperExecutor struct {
	slippage decimal.Decimal
	now      func() time.Time
}

func NewPaperExecutor(slippage decimal.Decimal) *PaperExecutor {
	return &PaperExecutor{slippage: slippage, now: time.Now}
}

func (e *PaperExecutor) fill(symbol, side string, qty, price decimal.Decimal) (Fill, error) {
	if !qty.IsPositive() || !price.IsPositive() {
		return Fill{}, fmt.Errorf("%w: quantity and price must be positive", ErrInvalidArgument)
	}
	return Fill{
		Symbol:   symbol,
		Side:     side,
		Price:    price,
		Quantity: qty,
		Ts:       e.now().UnixMilli(),
	}, nil
}

func (e *PaperExecutor) Buy(_ context.Context, symbol string, qty, refPrice decimal.Decimal) (Fill, error) {
	return e.fill(symbol, broker.SideBuy, qty, refPrice.Mul(decimal.NewFromInt(1).Add(e.slippage)))
}

func (e *PaperExecutor) Sell(_ context.Context, symbol string, qty, refPrice decimal.Decimal) (Fill, error) {
	return e.fill(symbol, broker.SideSell, qty, refPrice.Mul(decimal.NewFromInt(1).Sub(e.slippage)))
}

func (e *PaperExecutor) Mode() string {
	return model.ModePaper
}

// LiveExecutor 通过券商接口下市价单，以回报均价成交
type LiveExecutor struct {
	placer broker.OrderPlacer
}

func NewLiveExecutor(placer broker.OrderPlacer) *LiveExecutor {
	return &LiveExecutor{placer: placer}
}

func (e *LiveExecutor) place(ctx context.Context, symbol, side string, qty, refPrice decimal.Decimal) (Fill, error) {
	clientID, err := util.GenerateID()
	if err != nil {
		return Fill{}, err
	}
	resp, err := e.placer.PlaceMarketOrder(ctx, symbol, side, qty, clientID)
	if err != nil {
		return Fill{}, err
	}
	price := resp.AvgPrice
	if !price.IsPositive() {
		price = refPrice
	}
	filled := resp.ExecutedQty
	if !filled.IsPositive() {
		filled = qty
	}
	ts := resp.TransactTime
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return Fill{
		Symbol:   symbol,
		Side:     side,
		Price:    price,
		Quantity: filled,
		Ts:       ts,
		OrderID:  resp.OrderID,
	}, nil
}

func (e *LiveExecutor) Buy(ctx context.Context, symbol string, qty, refPrice decimal.Decimal) (Fill, error) {
	return e.place(ctx, symbol, broker.SideBuy, qty, refPrice)
}

func (e *LiveExecutor) Sell(ctx context.Context, symbol string, qty, refPrice decimal.Decimal) (Fill, error) {
	return e.place(ctx, symbol, broker.SideSell, qty, refPrice)
}

func (e *LiveExecutor) Mode() string {
	return model.ModeLive
}
