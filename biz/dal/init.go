package dal

import (
	"github.com/gogogo1024/ai-trader/biz/dal/kafka"
	"github.com/gogogo1024/ai-trader/biz/dal/pg"
	"github.com/gogogo1024/ai-trader/biz/dal/redis"
)

func Init() {
	pg.Init()
	redis.Init()
	kafka.Init()
}

func Close() {
	kafka.CloseAllWriters()
	redis.Close()
	pg.Close()
}
