package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register 注册后直接签发 token
func Register(ctx context.Context, c *app.RequestContext) {
	var req credentials
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	u, err := svc.Auth.Register(ctx, req.Username, req.Password)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	token, err := svc.Auth.IssueToken(u.ID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusCreated, map[string]interface{}{"user": u, "token": token})
}

func Login(ctx context.Context, c *app.RequestContext) {
	var req credentials
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	token, err := svc.Auth.Login(ctx, req.Username, req.Password)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"token": token})
}
