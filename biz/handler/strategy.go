package handler

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/shopspring/decimal"

	"github.com/gogogo1024/ai-trader/biz/model"
	"github.com/gogogo1024/ai-trader/biz/strategy"
)

// CreateStrategy 创建策略，enabled 的立即交给运行器
func CreateStrategy(ctx context.Context, c *app.RequestContext) {
	var req model.Strategy
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if err := svc.Strategies.Create(ctx, currentUser(c), &req); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusCreated, req)
}

func ListStrategies(ctx context.Context, c *app.RequestContext) {
	list, err := svc.Strategies.List(ctx, currentUser(c))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, list)
}

func GetStrategy(ctx context.Context, c *app.RequestContext) {
	s, err := svc.Strategies.Get(ctx, currentUser(c), c.Param("id"))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, s)
}

func UpdateStrategy(ctx context.Context, c *app.RequestContext) {
	var req model.Strategy
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	s, err := svc.Strategies.Update(ctx, currentUser(c), c.Param("id"), &req)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, s)
}

func DeleteStrategy(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if err := svc.Strategies.Delete(ctx, currentUser(c), id); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"id": id, "status": "deleted"})
}

// ValidateStrategy 只校验不保存
func ValidateStrategy(ctx context.Context, c *app.RequestContext) {
	var req model.Strategy
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if err := svc.Strategies.Validate(&req); err != nil {
		c.JSON(consts.StatusOK, map[string]interface{}{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"valid": true})
}

// GetTemplate 展开内置模板，查询参数覆盖默认值
func GetTemplate(ctx context.Context, c *app.RequestContext) {
	params := map[string]float64{}
	var bad string
	c.QueryArgs().VisitAll(func(k, v []byte) {
		f, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			bad = string(k)
			return
		}
		params[string(k)] = f
	})
	if bad != "" {
		badRequest(c, "param "+bad+" must be a number")
		return
	}
	rules, err := strategy.Template(c.Param("name"), params)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, rules)
}

func ListTemplates(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]interface{}{"templates": strategy.TemplateNames()})
}

type BacktestRequest struct {
	StrategyID     string          `json:"strategy_id"`
	Strategy       *model.Strategy `json:"strategy"`
	Candles        []model.Kline   `json:"candles"`
	Period         string          `json:"period"`
	Limit          int             `json:"limit"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

var defaultInitialBalance = decimal.NewFromInt(10000)

// RunBacktest 回测已保存的策略或请求内联的策略；未给K线时取最近历史
func RunBacktest(ctx context.Context, c *app.RequestContext) {
	var req BacktestRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	var s *model.Strategy
	switch {
	case req.StrategyID != "":
		stored, err := svc.Strategies.Get(ctx, currentUser(c), req.StrategyID)
		if err != nil {
			writeError(ctx, c, err)
			return
		}
		s = stored
	case req.Strategy != nil:
		if err := svc.Strategies.Validate(req.Strategy); err != nil {
			writeError(ctx, c, err)
			return
		}
		s = req.Strategy
	default:
		badRequest(c, "strategy_id or strategy required")
		return
	}

	candles := req.Candles
	if len(candles) == 0 {
		period := req.Period
		if period == "" {
			period = s.Interval
		}
		ks, err := svc.Market.Klines(ctx, s.Symbol, period, req.Limit)
		if err != nil {
			writeError(ctx, c, err)
			return
		}
		candles = ks
	}
	initial := req.InitialBalance
	if initial.IsZero() {
		initial = defaultInitialBalance
	}
	report, err := svc.Backtester.Run(*s, candles, initial)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, report)
}
