package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/shopspring/decimal"

	"github.com/gogogo1024/ai-trader/biz/model"
)

func ListAlerts(ctx context.Context, c *app.RequestContext) {
	alerts, err := svc.Alerts.List(ctx, currentUser(c), parseLimit(c.Query("limit"), 50))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, alerts)
}

type priceAlertRequest struct {
	Symbol    string          `json:"symbol"`
	Direction string          `json:"direction"`
	Price     decimal.Decimal `json:"price"`
}

func CreatePriceAlert(ctx context.Context, c *app.RequestContext) {
	var req priceAlertRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	pa := &model.PriceAlert{UserID: currentUser(c), Symbol: req.Symbol, Direction: req.Direction, Price: req.Price}
	if err := svc.PriceAlerts.Add(ctx, pa); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusCreated, pa)
}

func ListPriceAlerts(ctx context.Context, c *app.RequestContext) {
	list, err := svc.PriceAlerts.List(ctx, currentUser(c))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, list)
}

func CancelPriceAlert(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if err := svc.PriceAlerts.Cancel(ctx, id, currentUser(c)); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"id": id, "status": "cancelled"})
}
