package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/omeyang/xrelay/pkg/business/xrelay"
	"github.com/omeyang/xrelay/pkg/config/xconf"
	"github.com/omeyang/xrelay/pkg/context/xctx"
	"github.com/omeyang/xrelay/pkg/debug/xadmin"
	"github.com/omeyang/xrelay/pkg/mq/xjob"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
	"github.com/omeyang/xrelay/pkg/resilience/xlimit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func decode(t *testing.T, yaml string) *Config {
	t.Helper()
	src, err := xconf.NewFromBytes([]byte(yaml), xconf.FormatYAML)
	require.NoError(t, err)
	cfg, err := Decode(src)
	require.NoError(t, err)
	return cfg
}

func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "xrly")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "admin.sock")
}

func TestDecode_Defaults(t *testing.T) {
	cfg := decode(t, "log:\n  level: debug\n")

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, BackendMemory, cfg.Throttle.Backend)
	assert.Equal(t, xlimit.TierStandard, cfg.Throttle.DefaultTier)
	assert.Len(t, cfg.Throttle.Tiers, len(xlimit.DefaultTiers()))
	assert.Equal(t, []ProviderConfig{{Name: "echo", Kind: ProviderEcho}}, cfg.Provider)
	assert.Equal(t, xjob.DefaultConcurrency, cfg.Queue.Concurrency)
	assert.Equal(t, xadmin.DefaultSocketPath, cfg.Admin.Socket)
	assert.Equal(t, SinkLog, cfg.Events.Sink)
	assert.Equal(t, "xrelay:", cfg.Redis.Prefix)
}

func TestDecode_Full(t *testing.T) {
	cfg := decode(t, `
throttle:
  default_tier: gold
  tiers:
    - name: gold
      limit: 100
      window: 1m
    - name: free
      limit: 5
      window: 1h
providers:
  - name: primary
    kind: echo
    delay: 10ms
  - kind: ECHO
    name: backup
dispatch:
  call_timeout: 2s
  chain_timeout: 5s
queue:
  rate_limit: 10
  rate_window: 1s
`)
	require.Len(t, cfg.Throttle.Tiers, 2)
	assert.Equal(t, xlimit.Tier{Name: "free", Limit: 5, Window: time.Hour}, cfg.Throttle.Tiers[1])
	assert.Equal(t, 10*time.Millisecond, cfg.Provider[0].Delay)
	assert.Equal(t, ProviderEcho, cfg.Provider[1].Kind)
	assert.Equal(t, 2*time.Second, cfg.Dispatch.CallTimeout)
	assert.Equal(t, 10, cfg.Queue.RateLimit)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad level", "log:\n  level: loud\n"},
		{"bad format", "log:\n  format: xml\n"},
		{"redis without addrs", "cache:\n  backend: redis\n"},
		{"unknown store", "queue:\n  store: mysql\n"},
		{"bad fallback", "throttle:\n  fallback: maybe\n"},
		{"missing default tier", "throttle:\n  default_tier: gold\n"},
		{"ratio above one", "breaker:\n  failure_ratio: 1.5\n"},
		{"call exceeds chain", "dispatch:\n  call_timeout: 2m\n  chain_timeout: 1m\n"},
		{"duplicate provider", "providers:\n  - name: a\n  - name: a\n"},
		{"openai without key", "providers:\n  - name: o\n    kind: openai\n"},
		{"openai key env empty", "providers:\n  - name: o\n    kind: openai\n    api_key_env: XRELAY_TEST_UNSET_KEY\n"},
		{"unknown provider kind", "providers:\n  - kind: claude\n"},
		{"negative rate", "queue:\n  rate_limit: -1\n"},
		{"kafka without brokers", "events:\n  sink: kafka\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := xconf.NewFromBytes([]byte(tt.yaml), xconf.FormatYAML)
			require.NoError(t, err)
			_, err = Decode(src)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestBuild_MemoryStack(t *testing.T) {
	cfg := decode(t, "events:\n  sink: none\n")
	cfg.Admin.Socket = socketPath(t)
	ctx := context.Background()

	a, err := Build(ctx, cfg, nil, xlog.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	require.NotNil(t, a.Queue)

	id := xctx.Identity{Tenant: "acme"}
	reply, err := a.Relay.Complete(ctx, xrelay.Call{Identity: id, Prompt: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", reply.Content)

	h, err := a.Relay.Submit(ctx, xrelay.Call{Identity: id, Prompt: "later"})
	require.NoError(t, err)
	ran, err := a.Queue.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, ran)
	st, err := a.Relay.Status(ctx, h.JobID)
	require.NoError(t, err)
	assert.Equal(t, xjob.StateCompleted, st.Status)

	assert.NoError(t, a.report(ctx))
	a.cfg.Metrics.ReportInterval = time.Minute
	var names []string
	for _, svc := range a.Services() {
		names = append(names, svc.Name)
	}
	assert.ElementsMatch(t, []string{"admin", "throttle-sweeper", "job-workers", "stats-reporter"}, names)

	rec := httptest.NewRecorder()
	a.metricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "target_info")
}

func TestBuild_RedisStack(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := decode(t, `
redis:
  addrs: ["`+mr.Addr()+`"]
throttle:
  backend: redis
  fallback: local
  tiers:
    - name: standard
      limit: 1
      window: 1m
cache:
  backend: redis
queue:
  store: redis
  rate_limit: 5
events:
  sink: none
`)
	cfg.Admin.Socket = socketPath(t)
	ctx := context.Background()

	a, err := Build(ctx, cfg, nil, xlog.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	id := xctx.Identity{Tenant: "acme"}
	_, err = a.Relay.Complete(ctx, xrelay.Call{Identity: id, Prompt: "one"})
	require.NoError(t, err)
	_, err = a.Relay.Complete(ctx, xrelay.Call{Identity: id, Prompt: "two"})
	assert.Equal(t, xrelay.CodeDenied, xrelay.Code(err))

	keys := mr.Keys()
	assert.NotEmpty(t, keys)
	for _, k := range keys {
		assert.Regexp(t, `^xrelay:`, k)
	}
}

func TestBuild_RedisUnreachable(t *testing.T) {
	cfg := decode(t, "redis:\n  addrs: [\"127.0.0.1:1\"]\ncache:\n  backend: redis\n")
	cfg.Admin.Socket = socketPath(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Build(ctx, cfg, nil, xlog.Discard())
	assert.Error(t, err)
}

func TestReload(t *testing.T) {
	cfg := decode(t, "")
	cfg.Admin.Socket = socketPath(t)
	cfg.Queue.Disabled = true
	ctx := context.Background()
	logger := xlog.Discard()

	a, err := Build(ctx, cfg, nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	assert.Nil(t, a.Queue)

	src, err := xconf.NewFromBytes([]byte(`
log:
  level: debug
throttle:
  tiers:
    - name: standard
      limit: 7
      window: 1m
`), xconf.FormatYAML)
	require.NoError(t, err)
	require.NoError(t, a.Reload(ctx, src))
	assert.Equal(t, 7, a.Limiter.Tiers()[xlimit.TierStandard].Limit)
	assert.Equal(t, xlog.LevelDebug, logger.GetLevel())

	// 新配置移除了当前默认层级时不生效
	src, err = xconf.NewFromBytes([]byte(`
throttle:
  default_tier: gold
  tiers:
    - name: gold
      limit: 1
      window: 1m
`), xconf.FormatYAML)
	require.NoError(t, err)
	assert.ErrorIs(t, a.Reload(ctx, src), ErrInvalidConfig)
	assert.Equal(t, 7, a.Limiter.Tiers()[xlimit.TierStandard].Limit)
}

func TestRun_ServesAdminUntilCancelled(t *testing.T) {
	cfg := decode(t, "metrics:\n  addr: 127.0.0.1:0\n")
	cfg.Admin.Socket = socketPath(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := Build(ctx, cfg, nil, xlog.Discard())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	client := xadmin.NewClient(cfg.Admin.Socket, time.Second)
	require.Eventually(t, func() bool {
		resp, err := client.Do(ctx, "throttle")
		return err == nil && resp.Success
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_, err = os.Stat(cfg.Admin.Socket)
	assert.True(t, os.IsNotExist(err))
}
