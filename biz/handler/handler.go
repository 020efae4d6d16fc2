package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/gogogo1024/ai-trader/biz/broker"
	"github.com/gogogo1024/ai-trader/biz/service"
	"github.com/gogogo1024/ai-trader/biz/strategy"
	"github.com/gogogo1024/ai-trader/gateway"
)

// UserIDKey 认证中间件写入的用户ID键
const UserIDKey = "user_id"

// Services 处理器依赖的服务
type Services struct {
	Auth        *service.AuthService
	Strategies  *service.StrategyService
	Runner      *service.StrategyRunner
	Backtester  *service.Backtester
	Trades      *service.TradeService
	Market      *service.MarketData
	Alerts      *service.AlertService
	PriceAlerts *service.PriceAlertBook
	// Nodes 未接入 consul 时为 nil
	Nodes *gateway.NodeCache
}

var svc *Services

// Setup 在注册路由前调用
func Setup(s *Services) {
	svc = s
}

func currentUser(c *app.RequestContext) string {
	return c.GetString(UserIDKey)
}

func parseLimit(limitStr string, defaultLimit int) int {
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			return l
		}
	}
	return defaultLimit
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, strategy.ErrUnknownTemplate):
		return consts.StatusNotFound
	case errors.Is(err, service.ErrInvalidArgument), errors.Is(err, service.ErrInvalidTick),
		errors.Is(err, strategy.ErrCompile), errors.Is(err, strategy.ErrNotBool):
		return consts.StatusBadRequest
	case errors.Is(err, service.ErrUserExists), errors.Is(err, service.ErrPositionExists):
		return consts.StatusConflict
	case errors.Is(err, service.ErrBadCredentials):
		return consts.StatusUnauthorized
	case errors.Is(err, broker.ErrRejected):
		return consts.StatusBadGateway
	default:
		return consts.StatusInternalServerError
	}
}

// writeError 按错误类型映射状态码，5xx 记日志且不回显细节
func writeError(ctx context.Context, c *app.RequestContext, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == consts.StatusInternalServerError {
		hlog.CtxErrorf(ctx, "[Handler] %s %s failed: %v", c.Method(), c.Path(), err)
		msg = "internal error"
	}
	c.JSON(status, map[string]interface{}{"error": msg})
}

func badRequest(c *app.RequestContext, msg string) {
	c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": msg})
}

// Healthz 存活检查
func Healthz(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]interface{}{"status": "ok"})
}

// ClusterNodes 集群节点与本节点是否为策略 leader
func ClusterNodes(ctx context.Context, c *app.RequestContext) {
	nodes := []gateway.Node{}
	if svc.Nodes != nil {
		nodes = svc.Nodes.Nodes()
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"leader": svc.Runner.Active(), "nodes": nodes})
}
