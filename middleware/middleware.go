package middleware

import (
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/middlewares/server/recovery"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/hertz-contrib/cors"
	"github.com/hertz-contrib/gzip"
	"github.com/hertz-contrib/logger/accesslog"
	"github.com/hertz-contrib/pprof"

	"github.com/gogogo1024/ai-trader/conf"
)

// Register 按固定顺序挂载全局中间件
func Register(h *server.Hertz, cfg *conf.Config) {
	h.Use(recovery.Recovery())
	if cfg.Hertz.EnableAccessLog {
		h.Use(accesslog.New(accesslog.WithFormat("[${time}] ${status} - ${latency} ${method} ${path} ${queryParams}")))
	}
	h.Use(SecurityHeaders(cfg.Security.HSTS))
	h.Use(corsHandler(cfg.Security.AllowOrigins))
	h.Use(RateLimit(NewIPLimiter(cfg.Security.RateLimit, cfg.Security.RateLimitBurst)))
	h.Use(BodyLimit(cfg.Security.MaxBodyBytes))
	if cfg.Hertz.EnableGzip {
		h.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws", "/metrics"})))
	}
	if cfg.Hertz.EnablePprof {
		pprof.Register(h)
	}
}

func corsHandler(origins []string) app.HandlerFunc {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return cors.New(c)
}
