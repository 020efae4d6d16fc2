package router

import (
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gogogo1024/ai-trader/biz/handler"
	"github.com/gogogo1024/ai-trader/middleware"
)

// Register 注册全部路由；ws 为空时不挂载 /ws
func Register(h *server.Hertz, auth middleware.TokenParser, ws app.HandlerFunc) {
	h.GET("/healthz", handler.Healthz)
	h.GET("/metrics", adaptor.HertzHandler(promhttp.Handler()))
	if ws != nil {
		h.GET("/ws", ws)
	}

	v1 := h.Group("/api/v1")
	v1.GET("/healthz", handler.Healthz)
	v1.POST("/auth/register", handler.Register)
	v1.POST("/auth/login", handler.Login)
	v1.GET("/strategies/templates", handler.ListTemplates)
	v1.GET("/strategies/templates/:name", handler.GetTemplate)
	v1.GET("/market/ticker", handler.GetTicker)
	v1.GET("/market/klines", handler.GetKlines)
	v1.GET("/market/trades", handler.RecentTrades)
	v1.GET("/cluster/nodes", handler.ClusterNodes)

	api := v1.Group("", middleware.JWTAuth(auth))
	{
		api.POST("/strategies", handler.CreateStrategy)
		api.GET("/strategies", handler.ListStrategies)
		api.POST("/strategies/validate", handler.ValidateStrategy)
		api.GET("/strategies/:id", handler.GetStrategy)
		api.PUT("/strategies/:id", handler.UpdateStrategy)
		api.DELETE("/strategies/:id", handler.DeleteStrategy)
		api.POST("/backtest", handler.RunBacktest)

		api.GET("/trades", handler.ListTrades)
		api.GET("/trades/stats", handler.TradeStats)
		api.GET("/positions", handler.ListPositions)
		api.POST("/positions/:strategy_id/close", handler.ClosePosition)

		api.POST("/market/ticks", handler.PublishTick)

		api.GET("/alerts", handler.ListAlerts)
		api.POST("/alerts/price", handler.CreatePriceAlert)
		api.GET("/alerts/price", handler.ListPriceAlerts)
		api.DELETE("/alerts/price/:id", handler.CancelPriceAlert)
	}
}
