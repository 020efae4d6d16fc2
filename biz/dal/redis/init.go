package redis

import (
	"context"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/gogogo1024/ai-trader/conf"
	"github.com/redis/go-redis/v9"
)

var Client *redis.Client

func Init() {
	rc := conf.GetConf().Redis
	Client = redis.NewClient(&redis.Options{
		Addr:     rc.Address,
		Username: rc.Username,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := Client.Ping(context.Background()).Err(); err != nil {
		panic(err)
	}
	hlog.Infof("[Redis] connected, addr=%s", rc.Address)
}

func Close() {
	if Client != nil {
		_ = Client.Close()
	}
}
