package middleware

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/gogogo1024/ai-trader/biz/handler"
)

// TokenParser 校验 token 并返回用户ID
type TokenParser func(token string) (string, error)

// JWTAuth 校验 Authorization: Bearer <token>，通过后写入用户ID
func JWTAuth(parse TokenParser) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		raw := string(c.GetHeader("Authorization"))
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, map[string]interface{}{"error": "missing bearer token"})
			return
		}
		userID, err := parse(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, map[string]interface{}{"error": "invalid token"})
			return
		}
		c.Set(handler.UserIDKey, userID)
		c.Next(ctx)
	}
}
