package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/gogogo1024/ai-trader/biz/model"
)

// PublishTick 向行情总线发布一笔成交价
func PublishTick(ctx context.Context, c *app.RequestContext) {
	var t model.Tick
	if err := c.BindJSON(&t); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if err := svc.Market.Publish(ctx, t); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusAccepted, map[string]interface{}{"status": "published"})
}

// GetTicker 最新价
func GetTicker(ctx context.Context, c *app.RequestContext) {
	symbol := c.Query("symbol")
	if symbol == "" {
		badRequest(c, "symbol required")
		return
	}
	tk, err := svc.Market.Ticker(ctx, symbol)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, tk)
}

// GetKlines 已收盘K线，period 默认 1m
func GetKlines(ctx context.Context, c *app.RequestContext) {
	symbol := c.Query("symbol")
	if symbol == "" {
		badRequest(c, "symbol required")
		return
	}
	period := c.DefaultQuery("period", "1m")
	ks, err := svc.Market.Klines(ctx, symbol, period, parseLimit(c.Query("limit"), 100))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"symbol": symbol, "period": period, "klines": ks})
}
