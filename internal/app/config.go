package app

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/omeyang/xrelay/pkg/business/xcost"
	"github.com/omeyang/xrelay/pkg/config/xconf"
	"github.com/omeyang/xrelay/pkg/debug/xadmin"
	"github.com/omeyang/xrelay/pkg/mq/xjob"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
	"github.com/omeyang/xrelay/pkg/resilience/xdispatch"
	"github.com/omeyang/xrelay/pkg/resilience/xlimit"
	"github.com/omeyang/xrelay/pkg/storage/xcache"
)

var ErrInvalidConfig = errors.New("app: invalid config")

// 后端类型
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"

	ProviderEcho   = "echo"
	ProviderOpenAI = "openai"

	SinkLog   = "log"
	SinkKafka = "kafka"
	SinkNone  = "none"
)

// Config 进程配置，字段名即 koanf 路径
type Config struct {
	Log      LogConfig        `koanf:"log"`
	Redis    RedisConfig      `koanf:"redis"`
	Throttle ThrottleConfig   `koanf:"throttle"`
	Cache    CacheConfig      `koanf:"cache"`
	Breaker  BreakerConfig    `koanf:"breaker"`
	Dispatch DispatchConfig   `koanf:"dispatch"`
	Provider []ProviderConfig `koanf:"providers"`
	Pricing  []xcost.Price    `koanf:"pricing"`
	Queue    QueueConfig      `koanf:"queue"`
	Admin    AdminConfig      `koanf:"admin"`
	Metrics  MetricsConfig    `koanf:"metrics"`
	Events   EventsConfig     `koanf:"events"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	// File 为空时输出到 stderr，否则按大小轮转
	File      string `koanf:"file"`
	MaxSizeMB int    `koanf:"max_size_mb"`
}

// RedisConfig 多个地址时按 Redlock 使用各自独立的节点加锁，
// 数据类状态只使用第一个地址
type RedisConfig struct {
	Addrs    []string `koanf:"addrs"`
	Password string   `koanf:"password"`
	DB       int      `koanf:"db"`
	Prefix   string   `koanf:"prefix"`
}

type ThrottleConfig struct {
	Backend       string        `koanf:"backend"`
	Fallback      string        `koanf:"fallback"`
	DefaultTier   string        `koanf:"default_tier"`
	Tiers         []xlimit.Tier `koanf:"tiers"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

type CacheConfig struct {
	Backend    string        `koanf:"backend"`
	TTL        time.Duration `koanf:"ttl"`
	MaxEntries int           `koanf:"max_entries"`
}

type BreakerConfig struct {
	Window       int           `koanf:"window"`
	FailureRatio float64       `koanf:"failure_ratio"`
	ResetTimeout time.Duration `koanf:"reset_timeout"`
}

type DispatchConfig struct {
	CallTimeout  time.Duration `koanf:"call_timeout"`
	ChainTimeout time.Duration `koanf:"chain_timeout"`
}

// ProviderConfig 回退链按列表顺序排列
type ProviderConfig struct {
	Name      string `koanf:"name"`
	Kind      string `koanf:"kind"`
	BaseURL   string `koanf:"base_url"`
	APIKeyEnv string `koanf:"api_key_env"`
	Model     string `koanf:"model"`
	// Delay 仅 echo 使用，模拟上游延迟
	Delay time.Duration `koanf:"delay"`
}

type QueueConfig struct {
	Disabled    bool   `koanf:"disabled"`
	Store       string `koanf:"store"`
	SQLitePath  string `koanf:"sqlite_path"`
	Concurrency int    `koanf:"concurrency"`
	// RateLimit 每个 RateWindow 内最多启动的任务数，0 表示不限
	RateLimit          int           `koanf:"rate_limit"`
	RateWindow         time.Duration `koanf:"rate_window"`
	MaxAttempts        int           `koanf:"max_attempts"`
	BackoffInitial     time.Duration `koanf:"backoff_initial"`
	BackoffMax         time.Duration `koanf:"backoff_max"`
	BackoffMultiplier  float64       `koanf:"backoff_multiplier"`
	Lease              time.Duration `koanf:"lease"`
	RetentionCompleted time.Duration `koanf:"retention_completed"`
	RetentionFailed    time.Duration `koanf:"retention_failed"`
}

type AdminConfig struct {
	Socket string `koanf:"socket"`
}

type MetricsConfig struct {
	// Addr 为空时不启动指标服务
	Addr string `koanf:"addr"`
	// ReportInterval 周期性输出运行快照日志，0 表示关闭
	ReportInterval time.Duration `koanf:"report_interval"`
}

type EventsConfig struct {
	Sink         string   `koanf:"sink"`
	KafkaBrokers []string `koanf:"kafka_brokers"`
	KafkaTopic   string   `koanf:"kafka_topic"`
}

// Load 读取配置文件并应用默认值与校验
func Load(path string) (*Config, xconf.Config, error) {
	src, err := xconf.New(path)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := Decode(src)
	if err != nil {
		return nil, nil, err
	}
	return cfg, src, nil
}

// Decode 从已加载的配置源解析
func Decode(src xconf.Config) (*Config, error) {
	var cfg Config
	if err := src.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("app: decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize 填充默认值
func (c *Config) Normalize() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "xrelay:"
	}

	c.Throttle.Backend = orDefault(c.Throttle.Backend, BackendMemory)
	c.Throttle.DefaultTier = orDefault(c.Throttle.DefaultTier, xlimit.TierStandard)
	if len(c.Throttle.Tiers) == 0 {
		c.Throttle.Tiers = xlimit.DefaultTiers()
	}
	if c.Throttle.SweepInterval <= 0 {
		c.Throttle.SweepInterval = time.Minute
	}

	c.Cache.Backend = orDefault(c.Cache.Backend, BackendMemory)
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = xcache.DefaultTTL
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = 10000
	}

	if c.Breaker.Window <= 0 {
		c.Breaker.Window = 20
	}
	if c.Breaker.FailureRatio <= 0 {
		c.Breaker.FailureRatio = 0.5
	}
	if c.Breaker.ResetTimeout <= 0 {
		c.Breaker.ResetTimeout = 30 * time.Second
	}

	if c.Dispatch.CallTimeout <= 0 {
		c.Dispatch.CallTimeout = xdispatch.DefaultCallTimeout
	}
	if c.Dispatch.ChainTimeout <= 0 {
		c.Dispatch.ChainTimeout = xdispatch.DefaultChainTimeout
	}
	if len(c.Provider) == 0 {
		c.Provider = []ProviderConfig{{Name: "echo", Kind: ProviderEcho}}
	}
	for i := range c.Provider {
		p := &c.Provider[i]
		p.Kind = strings.ToLower(orDefault(p.Kind, ProviderEcho))
		p.Name = orDefault(p.Name, p.Kind)
	}

	q := &c.Queue
	q.Store = orDefault(q.Store, BackendMemory)
	if q.SQLitePath == "" {
		q.SQLitePath = "xrelay-jobs.db"
	}
	if q.Concurrency <= 0 {
		q.Concurrency = xjob.DefaultConcurrency
	}
	if q.RateWindow <= 0 {
		q.RateWindow = time.Minute
	}
	if q.MaxAttempts <= 0 {
		q.MaxAttempts = xjob.DefaultMaxAttempts
	}
	if q.BackoffInitial <= 0 {
		q.BackoffInitial = time.Second
	}
	if q.BackoffMax <= 0 {
		q.BackoffMax = 5 * time.Minute
	}
	if q.BackoffMultiplier <= 1 {
		q.BackoffMultiplier = 2
	}
	if q.Lease <= 0 {
		q.Lease = xjob.DefaultLease
	}
	if q.RetentionCompleted <= 0 {
		q.RetentionCompleted = xjob.DefaultCompletedRetention
	}
	if q.RetentionFailed <= 0 {
		q.RetentionFailed = xjob.DefaultFailedRetention
	}

	c.Admin.Socket = orDefault(c.Admin.Socket, xadmin.DefaultSocketPath)
	c.Events.Sink = orDefault(c.Events.Sink, SinkLog)
	c.Events.KafkaTopic = orDefault(c.Events.KafkaTopic, "xrelay-usage")
}

// Validate 校验取值范围与组合约束
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if _, err := xlog.ParseLevel(c.Log.Level); err != nil {
		bad("log.level: %v", err)
	}
	if !slices.Contains([]string{"json", "text"}, c.Log.Format) {
		bad("log.format %q", c.Log.Format)
	}

	needRedis := false
	check := func(field, v string, allowed ...string) {
		if !slices.Contains(allowed, v) {
			bad("%s %q not in %v", field, v, allowed)
		}
		if v == BackendRedis {
			needRedis = true
		}
	}
	check("throttle.backend", c.Throttle.Backend, BackendMemory, BackendRedis)
	check("cache.backend", c.Cache.Backend, BackendMemory, BackendRedis)
	check("queue.store", c.Queue.Store, BackendMemory, BackendRedis, BackendSQLite)
	if needRedis && len(c.Redis.Addrs) == 0 {
		bad("redis.addrs required by redis backends")
	}
	if f := c.Throttle.Fallback; f != "" {
		if !slices.Contains([]xlimit.FallbackStrategy{xlimit.FallbackLocal, xlimit.FallbackOpen, xlimit.FallbackClose},
			xlimit.FallbackStrategy(f)) {
			bad("throttle.fallback %q", f)
		}
	}
	found := false
	for _, t := range c.Throttle.Tiers {
		if err := t.Validate(); err != nil {
			errs = append(errs, err)
		}
		found = found || t.Name == c.Throttle.DefaultTier
	}
	if !found {
		bad("throttle.default_tier %q not among tiers", c.Throttle.DefaultTier)
	}

	if c.Breaker.FailureRatio > 1 {
		bad("breaker.failure_ratio %v > 1", c.Breaker.FailureRatio)
	}
	if c.Dispatch.CallTimeout > c.Dispatch.ChainTimeout {
		bad("dispatch.call_timeout exceeds chain_timeout")
	}

	names := map[string]bool{}
	for _, p := range c.Provider {
		if names[p.Name] {
			bad("duplicate provider %q", p.Name)
		}
		names[p.Name] = true
		switch p.Kind {
		case ProviderEcho:
		case ProviderOpenAI:
			if p.APIKeyEnv == "" {
				bad("provider %q: api_key_env required", p.Name)
			} else if os.Getenv(p.APIKeyEnv) == "" {
				bad("provider %q: env %s is empty", p.Name, p.APIKeyEnv)
			}
		default:
			bad("provider %q: unknown kind %q", p.Name, p.Kind)
		}
	}

	if c.Queue.RateLimit < 0 {
		bad("queue.rate_limit must not be negative")
	}
	if c.Queue.Lease < time.Second {
		bad("queue.lease must be at least 1s")
	}

	switch c.Events.Sink {
	case SinkLog, SinkNone:
	case SinkKafka:
		if len(c.Events.KafkaBrokers) == 0 {
			bad("events.kafka_brokers required by kafka sink")
		}
	default:
		bad("events.sink %q", c.Events.Sink)
	}
	return errors.Join(errs...)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
