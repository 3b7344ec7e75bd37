// Package app 按配置装配 xrelay 的全部组件并管理其生命周期。
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/omeyang/xrelay/pkg/business/xcost"
	"github.com/omeyang/xrelay/pkg/business/xrelay"
	"github.com/omeyang/xrelay/pkg/config/xconf"
	"github.com/omeyang/xrelay/pkg/debug/xadmin"
	"github.com/omeyang/xrelay/pkg/distributed/xdlock"
	"github.com/omeyang/xrelay/pkg/lifecycle/xrun"
	"github.com/omeyang/xrelay/pkg/llm/xprovider"
	"github.com/omeyang/xrelay/pkg/mq/xjob"
	"github.com/omeyang/xrelay/pkg/mq/xkafka"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
	"github.com/omeyang/xrelay/pkg/observability/xmetrics"
	"github.com/omeyang/xrelay/pkg/resilience/xbreaker"
	"github.com/omeyang/xrelay/pkg/resilience/xdispatch"
	"github.com/omeyang/xrelay/pkg/resilience/xlimit"
	"github.com/omeyang/xrelay/pkg/resilience/xretry"
	"github.com/omeyang/xrelay/pkg/storage/xcache"
	"github.com/omeyang/xrelay/pkg/util/xid"
)

const shutdownTimeout = 10 * time.Second

// App 装配完成的进程
type App struct {
	cfg    *Config
	src    xconf.Config
	logger xlog.LoggerWithLevel

	Relay      *xrelay.Relay
	Limiter    *xlimit.Limiter
	Dispatcher *xdispatch.Dispatcher
	Cache      *xcache.Cache
	Queue      *xjob.Queue
	Admin      *xadmin.Server

	metricsHandler http.Handler
	closers        []func() error
}

// Build 按 cfg 创建全部组件。src 非 nil 且来自文件时启用配置热更新。
// 失败时已创建的资源会被释放。
func Build(ctx context.Context, cfg *Config, src xconf.Config, logger xlog.LoggerWithLevel) (_ *App, err error) {
	if logger == nil {
		logger = xlog.Default()
	}
	a := &App{cfg: cfg, src: src, logger: logger}
	defer func() {
		if err != nil {
			err = errors.Join(err, a.Close())
		}
	}()

	meterProvider, err := a.buildMetrics()
	if err != nil {
		return nil, err
	}
	observer, err := xmetrics.NewOTelObserver(xmetrics.WithMeterProvider(meterProvider))
	if err != nil {
		return nil, fmt.Errorf("app: observer: %w", err)
	}

	var rdb redis.UniversalClient
	if len(cfg.Redis.Addrs) > 0 {
		rdb = a.redisClient(cfg.Redis.Addrs[0])
		// 启动时 Redis 可能尚未就绪，短暂重试
		ping := xretry.NewRetryer(
			xretry.WithAttempts(3),
			xretry.WithBackoff(xretry.NewExponentialBackoff(xretry.WithInitialDelay(200*time.Millisecond))),
			xretry.WithOnRetry(func(attempt int, err error) {
				logger.Warn(ctx, "redis ping failed, retrying", slog.Int("attempt", attempt), xlog.Err(err))
			}),
		)
		if err := ping.Do(ctx, func(ctx context.Context) error { return rdb.Ping(ctx).Err() }); err != nil {
			return nil, fmt.Errorf("app: redis ping: %w", err)
		}
	}

	if a.Limiter, err = a.buildLimiter(rdb, meterProvider); err != nil {
		return nil, err
	}
	if a.Cache, err = a.buildCache(rdb); err != nil {
		return nil, err
	}
	sink, err := a.buildSink(observer)
	if err != nil {
		return nil, err
	}
	if a.Dispatcher, err = a.buildDispatcher(sink, observer); err != nil {
		return nil, err
	}
	if !cfg.Queue.Disabled {
		if a.Queue, err = a.buildQueue(ctx, rdb, observer); err != nil {
			return nil, err
		}
	}

	a.Relay, err = xrelay.New(xrelay.Options{
		Limiter:    a.Limiter,
		Dispatcher: a.Dispatcher,
		Queue:      a.Queue,
		Cache:      a.Cache,
		Logger:     logger,
		Observer:   observer,
	})
	if err != nil {
		return nil, err
	}

	reg := xadmin.NewCommandRegistry()
	xadmin.RegisterBuiltins(reg, a.Relay, logger)
	if a.Admin, err = xadmin.New(reg, xadmin.WithSocketPath(cfg.Admin.Socket), xadmin.WithLogger(logger)); err != nil {
		return nil, err
	}
	return a, nil
}

// NewLogger 按日志配置创建 Logger，返回的 cleanup 关闭轮转文件
func NewLogger(c LogConfig) (xlog.LoggerWithLevel, func() error, error) {
	b := xlog.New().SetLevelString(c.Level).SetFormat(c.Format).
		SetAttrs(slog.String("service", "xrelay"))
	if c.File != "" {
		var opts []xlog.RotationOption
		if c.MaxSizeMB > 0 {
			opts = append(opts, xlog.WithMaxSizeMB(c.MaxSizeMB))
		}
		b = b.SetRotation(c.File, opts...)
	}
	return b.Build()
}

func (a *App) onClose(fn func() error) { a.closers = append(a.closers, fn) }

func (a *App) buildMetrics() (*sdkmetric.MeterProvider, error) {
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("app: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	a.onClose(func() error { return mp.Shutdown(context.Background()) })
	a.metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return mp, nil
}

func (a *App) redisClient(addr string) redis.UniversalClient {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.onClose(rdb.Close)
	return rdb
}

func (a *App) buildLimiter(rdb redis.UniversalClient, mp *sdkmetric.MeterProvider) (*xlimit.Limiter, error) {
	tc := a.cfg.Throttle
	opts := []xlimit.Option{
		xlimit.WithTiers(tc.Tiers...),
		xlimit.WithDefaultTier(tc.DefaultTier),
		xlimit.WithLogger(a.logger),
		xlimit.WithMeterProvider(mp),
	}
	if tc.Backend == BackendRedis {
		b, err := xlimit.NewRedisBackend(rdb, a.cfg.Redis.Prefix+"throttle:")
		if err != nil {
			return nil, err
		}
		opts = append(opts, xlimit.WithBackend(b))
		if tc.Fallback != "" {
			opts = append(opts, xlimit.WithFallback(xlimit.FallbackStrategy(tc.Fallback)))
		}
	}
	l, err := xlimit.New(opts...)
	if err != nil {
		return nil, err
	}
	a.onClose(l.Close)
	return l, nil
}

func (a *App) buildCache(rdb redis.UniversalClient) (*xcache.Cache, error) {
	var (
		store xcache.Store
		err   error
	)
	switch a.cfg.Cache.Backend {
	case BackendRedis:
		store, err = xcache.NewRedisStore(rdb, a.cfg.Redis.Prefix+"cache:")
	default:
		store, err = xcache.NewMemoryStore(a.cfg.Cache.MaxEntries)
	}
	if err != nil {
		return nil, err
	}
	c, err := xcache.New(store, xcache.WithTTL(a.cfg.Cache.TTL), xcache.WithLogger(a.logger))
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}
	a.onClose(c.Close)
	return c, nil
}

func (a *App) buildSink(observer xmetrics.Observer) (xcost.Sink, error) {
	ec := a.cfg.Events
	switch ec.Sink {
	case SinkNone:
		return xcost.NopSink{}, nil
	case SinkKafka:
		p, err := xkafka.NewProducer(&kafka.ConfigMap{
			"bootstrap.servers": strings.Join(ec.KafkaBrokers, ","),
			"client.id":         "xrelay",
			"acks":              "all",
		}, xkafka.WithLogger(a.logger), xkafka.WithObserver(observer))
		if err != nil {
			return nil, err
		}
		a.onClose(p.Close)
		return xcost.NewKafkaSink(p, ec.KafkaTopic, a.logger), nil
	default:
		return xcost.LogSink{Logger: a.logger}, nil
	}
}

func (a *App) buildProviders() ([]xprovider.Provider, error) {
	out := make([]xprovider.Provider, 0, len(a.cfg.Provider))
	for _, pc := range a.cfg.Provider {
		switch pc.Kind {
		case ProviderOpenAI:
			p, err := xprovider.NewOpenAI(xprovider.OpenAIConfig{
				Name:    pc.Name,
				BaseURL: pc.BaseURL,
				APIKey:  os.Getenv(pc.APIKeyEnv),
				Model:   pc.Model,
			})
			if err != nil {
				return nil, fmt.Errorf("app: provider %s: %w", pc.Name, err)
			}
			out = append(out, p)
		default:
			out = append(out, xprovider.NewEcho(pc.Name, pc.Model, pc.Delay))
		}
	}
	return out, nil
}

func (a *App) buildDispatcher(sink xcost.Sink, observer xmetrics.Observer) (*xdispatch.Dispatcher, error) {
	providers, err := a.buildProviders()
	if err != nil {
		return nil, err
	}
	pricing, err := xcost.NewPricing(a.cfg.Pricing...)
	if err != nil {
		return nil, err
	}
	bc := a.cfg.Breaker
	return xdispatch.New(providers,
		xdispatch.WithCache(a.Cache),
		xdispatch.WithBreakerOptions(
			xbreaker.WithRollingWindow(bc.Window, bc.FailureRatio),
			xbreaker.WithResetTimeout(bc.ResetTimeout),
			xbreaker.WithLogger(a.logger),
		),
		xdispatch.WithCallTimeout(a.cfg.Dispatch.CallTimeout),
		xdispatch.WithChainTimeout(a.cfg.Dispatch.ChainTimeout),
		xdispatch.WithPricing(pricing),
		xdispatch.WithSink(sink),
		xdispatch.WithLogger(a.logger),
		xdispatch.WithObserver(observer),
	)
}

func (a *App) buildQueue(ctx context.Context, rdb redis.UniversalClient, observer xmetrics.Observer) (*xjob.Queue, error) {
	qc := a.cfg.Queue
	var (
		store xjob.Store
		err   error
	)
	switch qc.Store {
	case BackendRedis:
		store, err = xjob.NewRedisStore(rdb, a.cfg.Redis.Prefix+"{jobs}:")
	case BackendSQLite:
		store, err = xjob.NewSQLiteStore(qc.SQLitePath)
	default:
		store = xjob.NewMemoryStore()
	}
	if err != nil {
		return nil, err
	}
	a.onClose(store.Close)

	gen, err := xid.NewGenerator()
	if err != nil {
		return nil, err
	}

	// 多实例共享 Redis 时维护任务只在持锁实例执行
	var locker xdlock.Factory
	if qc.Store == BackendRedis {
		clients := make([]redis.UniversalClient, 0, len(a.cfg.Redis.Addrs))
		clients = append(clients, rdb)
		for _, addr := range a.cfg.Redis.Addrs[1:] {
			clients = append(clients, a.redisClient(addr))
		}
		if locker, err = xdlock.NewRedisFactory(clients...); err != nil {
			return nil, err
		}
	} else {
		locker = xdlock.NewLocalFactory()
	}
	a.onClose(locker.Close)

	opts := []xjob.Option{
		xjob.WithConcurrency(qc.Concurrency),
		xjob.WithMaxAttempts(qc.MaxAttempts),
		xjob.WithBackoff(xretry.NewExponentialBackoff(
			xretry.WithInitialDelay(qc.BackoffInitial),
			xretry.WithMultiplier(qc.BackoffMultiplier),
			xretry.WithMaxDelay(qc.BackoffMax),
		)),
		xjob.WithLease(qc.Lease),
		xjob.WithRetention(qc.RetentionCompleted, qc.RetentionFailed),
		xjob.WithLocker(locker),
		xjob.WithIDGenerator(gen.NewString),
		xjob.WithLogger(a.logger),
		xjob.WithObserver(observer),
	}
	if qc.RateLimit > 0 {
		var rc xjob.RateCap
		if qc.Store == BackendRedis {
			rc, err = xjob.NewRedisRateCap(rdb, a.cfg.Redis.Prefix+"jobs:ratecap", qc.RateLimit, qc.RateWindow)
		} else {
			rc, err = xjob.NewSlidingWindowCap(qc.RateLimit, qc.RateWindow)
		}
		if err != nil {
			return nil, err
		}
		opts = append(opts, xjob.WithRateCap(rc))
	}

	q, err := xjob.New(store, xrelay.NewJobHandler(a.Dispatcher, a.logger), opts...)
	if err != nil {
		return nil, err
	}
	a.logger.Info(ctx, "job queue ready", xlog.Component("app"),
		slog.String("store", qc.Store), xlog.Count(int64(qc.Concurrency)))
	return q, nil
}

// Services 进程内的常驻服务
func (a *App) Services() []xrun.Service {
	svcs := []xrun.Service{
		{Name: "admin", Run: a.Admin.Run},
		{Name: "throttle-sweeper", Run: func(ctx context.Context) error {
			return a.Limiter.RunSweeper(ctx, a.cfg.Throttle.SweepInterval)
		}},
	}
	if a.Queue != nil {
		svcs = append(svcs, xrun.Service{Name: "job-workers", Run: a.Queue.Run})
	}
	if a.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metricsHandler)
		srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		svcs = append(svcs, xrun.Service{Name: "metrics", Run: xrun.HTTPServer(srv, shutdownTimeout)})
	}
	if a.cfg.Metrics.ReportInterval > 0 {
		svcs = append(svcs, xrun.Service{Name: "stats-reporter", Run: xrun.Ticker(a.cfg.Metrics.ReportInterval, false, a.report)})
	}
	if a.src != nil && a.src.Path() != "" {
		svcs = append(svcs, xrun.Service{Name: "config-watcher", Run: a.watchConfig})
	}
	return svcs
}

// Run 运行全部服务直到 ctx 取消或收到退出信号，返回前释放资源
func (a *App) Run(ctx context.Context) error {
	err := xrun.Run(ctx, []xrun.Option{xrun.WithLogger(a.logger)}, a.Services()...)
	if errors.Is(err, xrun.ErrSignal) {
		err = nil
	}
	return errors.Join(err, a.Close())
}

// report 输出一次运行快照。统计失败不终止服务。
func (a *App) report(ctx context.Context) error {
	m, err := a.Relay.Metrics(ctx)
	if err != nil {
		a.logger.Warn(ctx, "collect stats failed", xlog.Component("app"), xlog.Err(err))
		return nil
	}
	attrs := []slog.Attr{xlog.Component("app")}
	if m.Queue != nil {
		attrs = append(attrs, slog.Int64("queue_depth", m.Queue.Depth),
			slog.Int64("jobs_completed", m.Queue.Completed), slog.Int64("jobs_failed", m.Queue.Failed))
	}
	if m.Cache != nil {
		attrs = append(attrs, slog.Int("cache_entries", m.Cache.Entries),
			slog.Float64("cache_hit_rate", m.Cache.HitRate), slog.Float64("cost_saved", m.Cache.CostSaved))
	}
	open := 0
	for _, b := range m.Breakers {
		if b.State != xbreaker.StateClosed.String() {
			open++
		}
	}
	attrs = append(attrs, slog.Int("breakers_not_closed", open))
	a.logger.Info(ctx, "relay stats", attrs...)
	return nil
}

func (a *App) watchConfig(ctx context.Context) error {
	w, err := xconf.Watch(a.src, func(src xconf.Config, err error) {
		if err == nil {
			err = a.Reload(ctx, src)
		}
		if err != nil {
			a.logger.Warn(ctx, "config reload rejected", xlog.Component("app"), xlog.Err(err))
		}
	}, xconf.WithDebounce(200*time.Millisecond))
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

// Reload 应用可热更新的配置：限流层级与日志级别。
// 其余字段的变化需要重启，新配置不合法时保持原状。
func (a *App) Reload(ctx context.Context, src xconf.Config) error {
	cfg, err := Decode(src)
	if err != nil {
		return err
	}
	if _, ok := tierNamed(cfg.Throttle.Tiers, a.cfg.Throttle.DefaultTier); !ok {
		return fmt.Errorf("%w: default tier %q removed", ErrInvalidConfig, a.cfg.Throttle.DefaultTier)
	}
	if err := a.Limiter.SetTiers(cfg.Throttle.Tiers); err != nil {
		return err
	}
	lvl, err := xlog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	a.logger.SetLevel(lvl)
	a.logger.Info(ctx, "config reloaded", xlog.Component("app"),
		xlog.Count(int64(len(cfg.Throttle.Tiers))), slog.String("log_level", lvl.String()))
	return nil
}

func tierNamed(tiers []xlimit.Tier, name string) (xlimit.Tier, bool) {
	for _, t := range tiers {
		if t.Name == name {
			return t, true
		}
	}
	return xlimit.Tier{}, false
}

// Close 按创建的逆序释放资源，可重复调用
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && !errors.Is(err, xkafka.ErrClosed) {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
