package middleware

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"golang.org/x/time/rate"
)

const (
	visitorIdle     = 3 * time.Minute
	visitorSweepMin = 1024
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPLimiter 按客户端IP的令牌桶
type IPLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rps       rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func NewIPLimiter(rps float64, burst int) *IPLimiter {
	return &IPLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow 消耗一个令牌
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	l.sweep(now)
	return v.limiter.AllowN(now, 1)
}

// sweep 清理长时间不活跃的IP，调用方持锁
func (l *IPLimiter) sweep(now time.Time) {
	if len(l.visitors) < visitorSweepMin || now.Sub(l.lastSweep) < visitorIdle {
		return
	}
	l.lastSweep = now
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorIdle {
			delete(l.visitors, ip)
		}
	}
}

func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// retryAfter 补满一个令牌所需秒数，至少1秒
func (l *IPLimiter) retryAfter() int {
	if l.rps <= 0 {
		return 1
	}
	return int(math.Max(1, math.Ceil(1/float64(l.rps))))
}

// RateLimit 超限返回 429 并带 Retry-After
func RateLimit(l *IPLimiter) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		ip := c.ClientIP()
		if !l.Allow(ip) {
			hlog.CtxDebugf(ctx, "[RateLimit] reject ip=%s path=%s", ip, c.Path())
			c.Response.Header.Set("Retry-After", strconv.Itoa(l.retryAfter()))
			c.AbortWithStatusJSON(consts.StatusTooManyRequests, map[string]interface{}{"error": "rate limit exceeded"})
			return
		}
		c.Next(ctx)
	}
}
