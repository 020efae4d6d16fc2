package pg

import (
	"context"
	"fmt"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/gogogo1024/ai-trader/biz/model"
	"github.com/gogogo1024/ai-trader/conf"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var PostgresClient *pgxpool.Pool
var GormDB *gorm.DB

func Init() {
	// 初始化 Postgres 连接池
	pgConf := conf.GetConf().Postgres
	pool, err := pgxpool.New(context.Background(), pgConf.DSN)
	if err != nil {
		panic(fmt.Sprintf("failed to connect to postgres: %v", err))
	}
	if err := pool.Ping(context.Background()); err != nil {
		panic(fmt.Sprintf("failed to ping postgres: %v", err))
	}
	PostgresClient = pool

	// 初始化 GORM DB
	if err := InitGorm(postgres.Open(pgConf.DSN)); err != nil {
		panic(fmt.Sprintf("failed to init gorm: %v", err))
	}
	// 自动迁移表结构
	if err := AutoMigrate(); err != nil {
		panic(fmt.Sprintf("failed to auto migrate: %v", err))
	}
	hlog.Infof("[PG] postgres initialised")
}

// InitGorm opens GormDB with the given dialector; tests pass sqlite here.
func InitGorm(dialector gorm.Dialector) error {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return err
	}
	GormDB = db
	return nil
}

func AutoMigrate() error {
	if GormDB == nil {
		return gorm.ErrInvalidDB
	}
	return GormDB.AutoMigrate(
		&model.User{},
		&model.Strategy{},
		&model.Trade{},
		&model.Kline{},
		&model.Alert{},
		&model.PriceAlert{},
	)
}

// GetPool 返回 pgx 连接池，未初始化时为 nil
func GetPool() *pgxpool.Pool {
	return PostgresClient
}

func Close() {
	if PostgresClient != nil {
		PostgresClient.Close()
	}
	if GormDB != nil {
		if sqlDB, err := GormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
