package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/kr/pretty"
	"github.com/redis/go-redis/v9"
	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

var (
	conf *Config
	once sync.Once
)

type Config struct {
	Env      string
	Hertz    Hertz    `yaml:"hertz"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Registry Registry `yaml:"registry"`
	Security Security `yaml:"security"`
	Strategy Strategy `yaml:"strategy"`
	Broker   Broker   `yaml:"broker"`
	Market   Market   `yaml:"market"`
}

type Redis struct {
	Address  string `yaml:"address" validate:"nonzero"`
	Password string `yaml:"password"`
	Username string `yaml:"username"`
	DB       int    `yaml:"db"`
}

type Postgres struct {
	DSN string `yaml:"dsn" validate:"nonzero"`
}

type Kafka struct {
	Brokers []string          `yaml:"brokers"`
	Topics  map[string]string `yaml:"topics"`
}

type Registry struct {
	RegistryAddress []string `yaml:"registry_address"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	ServiceName     string   `yaml:"service_name"`
	LeaderKey       string   `yaml:"leader_key"`
}

type Security struct {
	JWTSecret      string   `yaml:"jwt_secret" validate:"min=16"`
	TokenTTL       int      `yaml:"token_ttl_minutes"`
	AllowOrigins   []string `yaml:"allow_origins"`
	RateLimit      float64  `yaml:"rate_limit"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	MaxBodyBytes   int      `yaml:"max_body_bytes"`
	HSTS           bool     `yaml:"hsts"`
}

type Strategy struct {
	CacheSize          int `yaml:"cache_size"`
	MaxErrors          int `yaml:"max_errors"`
	PoolSize           int `yaml:"pool_size"`
	CompensateInterval int `yaml:"compensate_interval_seconds"`
}

type Broker struct {
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	APISecret      string  `yaml:"api_secret"`
	DryRun         *bool   `yaml:"dry_run"`
	Slippage       string  `yaml:"slippage"`
	RateLimit      float64 `yaml:"rate_limit"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

type Market struct {
	Symbols []string `yaml:"symbols"`
	Periods []string `yaml:"periods"`
	History int      `yaml:"history"`
}

type Hertz struct {
	Service         string `yaml:"service"`
	Address         string `yaml:"address" validate:"nonzero"`
	EnablePprof     bool   `yaml:"enable_pprof"`
	EnableGzip      bool   `yaml:"enable_gzip"`
	EnableAccessLog bool   `yaml:"enable_access_log"`
	LogLevel        string `yaml:"log_level"`
	LogFileName     string `yaml:"log_file_name"`
	LogMaxSize      int    `yaml:"log_max_size"`
	LogMaxBackups   int    `yaml:"log_max_backups"`
	LogMaxAge       int    `yaml:"log_max_age"`
	WsBufferSize    int    `yaml:"ws_buffer_size"`
}

// GetConf gets configuration instance
func GetConf() *Config {
	once.Do(initConf)
	return conf
}

func initConf() {
	prefix := "conf"
	confFileRelPath := filepath.Join(prefix, filepath.Join(GetEnv(), "conf.yaml"))
	c, err := Load(confFileRelPath)
	if err != nil {
		hlog.Errorf("load config error - %v", err)
		panic(err)
	}
	conf = c
	if conf.Env != "online" {
		pretty.Printf("%+v\n", conf)
	}
}

// Load reads a yaml file, applies environment overrides and defaults, then validates.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := new(Config)
	if err := yaml.Unmarshal(content, c); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := applyEnv(c); err != nil {
		return nil, err
	}
	setDefaults(c)
	if err := validator.Validate(c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	c.Env = GetEnv()
	return c, nil
}

// applyEnv lets the hosting environment override secrets and endpoints.
func applyEnv(c *Config) error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		opt, err := redis.ParseURL(v)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		c.Redis.Address = opt.Addr
		c.Redis.Username = opt.Username
		c.Redis.Password = opt.Password
		c.Redis.DB = opt.DB
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Security.JWTSecret = v
	}
	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		c.Broker.APIKey = v
	}
	if v := os.Getenv("BROKER_API_SECRET"); v != "" {
		c.Broker.APISecret = v
	}
	if v := os.Getenv("BROKER_BASE_URL"); v != "" {
		c.Broker.BaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Hertz.Address = ":" + v
	}
	return nil
}

func setDefaults(c *Config) {
	if c.Hertz.Service == "" {
		c.Hertz.Service = "ai-trader"
	}
	if c.Hertz.WsBufferSize <= 0 {
		c.Hertz.WsBufferSize = 4096
	}
	if c.Security.TokenTTL <= 0 {
		c.Security.TokenTTL = 24 * 60
	}
	if c.Security.RateLimit <= 0 {
		c.Security.RateLimit = 20
	}
	if c.Security.RateLimitBurst <= 0 {
		c.Security.RateLimitBurst = 40
	}
	if c.Security.MaxBodyBytes <= 0 {
		c.Security.MaxBodyBytes = 1 << 20
	}
	if c.Strategy.CacheSize <= 0 {
		c.Strategy.CacheSize = 256
	}
	if c.Strategy.MaxErrors <= 0 {
		c.Strategy.MaxErrors = 3
	}
	if c.Strategy.PoolSize <= 0 {
		c.Strategy.PoolSize = 256
	}
	if c.Strategy.CompensateInterval <= 0 {
		c.Strategy.CompensateInterval = 30
	}
	if c.Broker.Slippage == "" {
		c.Broker.Slippage = "0.0005"
	}
	if c.Broker.RateLimit <= 0 {
		c.Broker.RateLimit = 5
	}
	if c.Broker.RateLimitBurst <= 0 {
		c.Broker.RateLimitBurst = 2
	}
	if c.Broker.TimeoutSeconds <= 0 {
		c.Broker.TimeoutSeconds = 10
	}
	if len(c.Market.Periods) == 0 {
		c.Market.Periods = []string{"1m"}
	}
	if c.Market.History <= 0 {
		c.Market.History = 500
	}
	if c.Kafka.Topics == nil {
		c.Kafka.Topics = map[string]string{}
	}
	if c.Kafka.Topics["trades"] == "" {
		c.Kafka.Topics["trades"] = "ai_trader_trades"
	}
	if c.Registry.ServiceName == "" {
		c.Registry.ServiceName = "ai-trader-gateway"
	}
	if c.Registry.LeaderKey == "" {
		c.Registry.LeaderKey = "ai-trader/strategy-runner"
	}
}

// IsDryRun reports whether orders are simulated locally; unset means true.
func (b Broker) IsDryRun() bool {
	return b.DryRun == nil || *b.DryRun
}

// CompensateInterval returns the retry period of the trade compensation task.
func (c *Config) CompensateInterval() time.Duration {
	return time.Duration(c.Strategy.CompensateInterval) * time.Second
}

func GetEnv() string {
	e := os.Getenv("GO_ENV")
	if len(e) == 0 {
		return "test"
	}
	return e
}

func LogLevel() hlog.Level {
	level := GetConf().Hertz.LogLevel
	switch level {
	case "trace":
		return hlog.LevelTrace
	case "debug":
		return hlog.LevelDebug
	case "info":
		return hlog.LevelInfo
	case "notice":
		return hlog.LevelNotice
	case "warn":
		return hlog.LevelWarn
	case "error":
		return hlog.LevelError
	case "fatal":
		return hlog.LevelFatal
	default:
		return hlog.LevelInfo
	}
}
