package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/gogogo1024/ai-trader/biz/dal/pg"
)

// ListTrades 查询本人成交，可按 symbol/strategy_id 过滤
func ListTrades(ctx context.Context, c *app.RequestContext) {
	f := pg.TradeFilter{
		UserID:     currentUser(c),
		Symbol:     c.Query("symbol"),
		StrategyID: c.Query("strategy_id"),
		Limit:      parseLimit(c.Query("limit"), 50),
	}
	trades, err := svc.Trades.List(ctx, f)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, trades)
}

// TradeStats 策略成交统计
func TradeStats(ctx context.Context, c *app.RequestContext) {
	id := c.Query("strategy_id")
	if id == "" {
		badRequest(c, "strategy_id required")
		return
	}
	if _, err := svc.Strategies.Get(ctx, currentUser(c), id); err != nil {
		writeError(ctx, c, err)
		return
	}
	st, err := svc.Trades.Stats(ctx, id)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, st)
}

// RecentTrades 交易对最近成交（缓存）
func RecentTrades(ctx context.Context, c *app.RequestContext) {
	symbol := c.Query("symbol")
	if symbol == "" {
		badRequest(c, "symbol required")
		return
	}
	trades, err := svc.Trades.Recent(ctx, symbol, int64(parseLimit(c.Query("limit"), 20)))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, trades)
}

func ListPositions(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, svc.Runner.Positions(currentUser(c)))
}

// ClosePosition 以最新价手动平仓
func ClosePosition(ctx context.Context, c *app.RequestContext) {
	id := c.Param("strategy_id")
	var symbol string
	for _, p := range svc.Runner.Positions(currentUser(c)) {
		if p.StrategyID == id {
			symbol = p.Symbol
			break
		}
	}
	if symbol == "" {
		c.JSON(consts.StatusNotFound, map[string]interface{}{"error": "position not found"})
		return
	}
	price, err := svc.Market.LastPrice(ctx, symbol)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	trade, err := svc.Runner.ClosePosition(ctx, currentUser(c), id, price)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, trade)
}
