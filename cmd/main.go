package main

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzzap "github.com/hertz-contrib/logger/zap"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gogogo1024/ai-trader/biz/broker"
	"github.com/gogogo1024/ai-trader/biz/dal"
	"github.com/gogogo1024/ai-trader/biz/dal/kafka"
	"github.com/gogogo1024/ai-trader/biz/dal/redis"
	"github.com/gogogo1024/ai-trader/biz/engine"
	"github.com/gogogo1024/ai-trader/biz/handler"
	"github.com/gogogo1024/ai-trader/biz/router"
	"github.com/gogogo1024/ai-trader/biz/service"
	"github.com/gogogo1024/ai-trader/biz/strategy"
	"github.com/gogogo1024/ai-trader/biz/util"
	"github.com/gogogo1024/ai-trader/conf"
	"github.com/gogogo1024/ai-trader/gateway"
	"github.com/gogogo1024/ai-trader/middleware"
	wsserver "github.com/gogogo1024/ai-trader/server"
)

func main() {
	_ = godotenv.Load()
	cfg := conf.GetConf()
	logSync := initLog(cfg)

	util.InitSonyFlake()
	dal.Init()

	ctx, cancel := context.WithCancel(context.Background())

	slippage, err := decimal.NewFromString(cfg.Broker.Slippage)
	if err != nil {
		hlog.Fatalf("invalid broker.slippage %q: %v", cfg.Broker.Slippage, err)
	}
	var exec service.Executor = service.NewPaperExecutor(slippage)
	if !cfg.Broker.IsDryRun() {
		exec = service.NewLiveExecutor(broker.NewRestClient(cfg.Broker))
		hlog.Warnf("live trading enabled, broker=%s", cfg.Broker.BaseURL)
	}

	pool, err := engine.NewPool(cfg.Strategy.PoolSize)
	if err != nil {
		hlog.Fatalf("create strategy pool: %v", err)
	}

	auth := service.NewAuthService(cfg.Security.JWTSecret, time.Duration(cfg.Security.TokenTTL)*time.Minute)
	spiller := kafka.NewSpiller(nil)

	// 行情与推送互相引用，先建 hub 再回填 market
	var market *service.MarketData
	hub := wsserver.NewHub(wsserver.HubOptions{
		BufSize: cfg.Hertz.WsBufferSize,
		Spill:   spiller.Spill,
		OnSubscribe: func(ctx context.Context, symbol string) error {
			return market.Subscribe(ctx, symbol)
		},
		OnUnsubscribe: func(symbol string) {
			market.Unsubscribe(symbol)
		},
		Authenticate: auth.ParseToken,
	})

	alerts := service.NewAlertService(redis.Client, hub.Broadcast, hub.Unicast)
	tradeWriter := kafka.NewTopicBatchWriter("trades")
	trades := service.NewTradeService(tradeWriter, hub.Broadcast)
	cache := strategy.NewCache(cfg.Strategy.CacheSize)
	runner := service.NewStrategyRunner(cache, exec, trades, alerts, service.RunnerOptions{
		MaxErrors: cfg.Strategy.MaxErrors,
		Pool:      pool,
	})
	priceAlerts := service.NewPriceAlertBook(alerts)

	market, err = service.NewMarketData(ctx, redis.Client, service.MarketDataOptions{
		Periods:     cfg.Market.Periods,
		History:     cfg.Market.History,
		Broadcast:   hub.Broadcast,
		PriceAlerts: priceAlerts,
		OnCandle:    runner.OnCandle,
		Persist:     true,
	})
	if err != nil {
		hlog.Fatalf("init market data: %v", err)
	}
	// 配置的交易对常驻订阅
	for _, s := range cfg.Market.Symbols {
		if err := market.Subscribe(ctx, s); err != nil {
			hlog.Fatalf("subscribe %s: %v", s, err)
		}
	}
	market.Warmup(ctx, cfg.Market.Symbols)
	market.Start(ctx)

	if err := alerts.Start(ctx); err != nil {
		hlog.Fatalf("start alert delivery: %v", err)
	}
	if err := priceAlerts.Load(ctx); err != nil {
		hlog.Errorf("load price alerts: %v", err)
	}
	if err := runner.Load(ctx); err != nil {
		hlog.Errorf("load strategies: %v", err)
	}
	trades.StartCompensation(ctx, cfg.CompensateInterval())
	stopKlineCompensate := service.StartKlineCompensateTask(ctx, cfg.CompensateInterval())

	consul, nodeID := startRegistry(ctx, cfg, runner)
	var nodes *gateway.NodeCache
	if consul != nil {
		nodes = gateway.NewNodeCache()
		go nodes.Watch(ctx, consul.Client(), cfg.Registry.ServiceName)
	}

	handler.Setup(&handler.Services{
		Auth:        auth,
		Strategies:  service.NewStrategyService(runner, cfg.Market.Periods),
		Runner:      runner,
		Backtester:  service.NewBacktester(runner, slippage),
		Trades:      trades,
		Market:      market,
		Alerts:      alerts,
		PriceAlerts: priceAlerts,
		Nodes:       nodes,
	})

	h := server.New(
		server.WithHostPorts(cfg.Hertz.Address),
		server.WithMaxRequestBodySize(cfg.Security.MaxBodyBytes),
		server.WithExitWaitTime(5*time.Second),
	)
	middleware.Register(h, cfg)
	router.Register(h, auth.ParseToken, hub.Handler())

	h.OnShutdown = append(h.OnShutdown, func(_ context.Context) {
		hlog.Infof("shutting down")
		if consul != nil {
			if err := consul.Deregister(nodeID); err != nil {
				hlog.Warnf("consul deregister: %v", err)
			}
		}
		cancel()
		market.Close()
		alerts.Close()
		runner.Wait()
		pool.Release()
		trades.Close()
		stopKlineCompensate()
		hub.Close()
		tradeWriter.Close()
		spiller.Close()
		dal.Close()
		logSync()
	})
	h.Spin()
}

// startRegistry 配置了 consul 时注册节点并参与 leader 选举，否则本节点常驻 leader
func startRegistry(ctx context.Context, cfg *conf.Config, runner *service.StrategyRunner) (*service.ConsulHelper, string) {
	if len(cfg.Registry.RegistryAddress) == 0 {
		return nil, ""
	}
	consul, err := service.NewConsulHelperWithAddrs(cfg.Registry.RegistryAddress, cfg.Registry.Username, cfg.Registry.Password)
	if err != nil {
		hlog.Fatalf("init consul: %v", err)
	}
	host, portStr, err := net.SplitHostPort(cfg.Hertz.Address)
	if err != nil {
		hlog.Fatalf("invalid hertz.address %q: %v", cfg.Hertz.Address, err)
	}
	if host == "" || host == "0.0.0.0" {
		host = util.GetLocalIP()
	}
	port, _ := strconv.Atoi(portStr)
	nodeID := cfg.Registry.ServiceName + "-" + net.JoinHostPort(host, portStr)
	if err := consul.Register(cfg.Registry.ServiceName, nodeID, host, port); err != nil {
		hlog.Fatalf("consul register: %v", err)
	}
	runner.SetActive(false)
	go consul.RunLeaderElection(ctx, cfg.Registry.LeaderKey, runner.SetActive)
	return consul, nodeID
}

// initLog hlog 接入 zap，文件按 lumberjack 滚动；test/dev 同时输出到终端
func initLog(cfg *conf.Config) func() {
	logger := hertzzap.NewLogger(hertzzap.WithZapOptions(zap.AddCaller(), zap.AddCallerSkip(3)))
	hlog.SetLogger(logger)
	hlog.SetLevel(conf.LogLevel())

	fileWriter := &zapcore.BufferedWriteSyncer{
		WS: zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Hertz.LogFileName,
			MaxSize:    cfg.Hertz.LogMaxSize,
			MaxBackups: cfg.Hertz.LogMaxBackups,
			MaxAge:     cfg.Hertz.LogMaxAge,
		}),
		FlushInterval: time.Minute,
	}
	var out io.Writer = fileWriter
	if cfg.Env == "test" || cfg.Env == "dev" {
		out = io.MultiWriter(fileWriter, os.Stdout)
	}
	hlog.SetOutput(out)
	return func() { _ = fileWriter.Sync() }
}
