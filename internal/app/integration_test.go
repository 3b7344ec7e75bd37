//go:build integration

package app

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/omeyang/xrelay/pkg/business/xrelay"
	"github.com/omeyang/xrelay/pkg/context/xctx"
	"github.com/omeyang/xrelay/pkg/mq/xjob"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
)

// redisAddr 优先使用 XRELAY_REDIS_ADDR 指向的外部 Redis
func redisAddr(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv("XRELAY_REDIS_ADDR"); addr != "" {
		return addr
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("无法启动 Redis 容器: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestIntegration_RedisStack(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	addr := redisAddr(t)
	cfg := decode(t, fmt.Sprintf(`
redis:
  addrs: [%q]
  prefix: "xrelay-it:"
throttle:
  backend: redis
  tiers:
    - name: standard
      limit: 3
      window: 1m
cache:
  backend: redis
queue:
  store: redis
  rate_limit: 10
  rate_window: 1s
events:
  sink: none
`, addr))
	cfg.Admin.Socket = socketPath(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := Build(ctx, cfg, nil, xlog.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	t.Cleanup(func() { _, _ = a.Relay.FlushCache(context.Background()) })

	id := xctx.Identity{Tenant: fmt.Sprintf("it-%d", time.Now().UnixNano())}
	first, err := a.Relay.Complete(ctx, xrelay.Call{Identity: id, Prompt: "integration"})
	require.NoError(t, err)
	second, err := a.Relay.Complete(ctx, xrelay.Call{Identity: id, Prompt: "integration"})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Content, second.Content)

	h, err := a.Relay.Submit(ctx, xrelay.Call{Identity: id, Prompt: "queued"})
	require.NoError(t, err)
	ran, err := a.Queue.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	st, err := a.Relay.Status(ctx, h.JobID)
	require.NoError(t, err)
	assert.Equal(t, xjob.StateCompleted, st.Status)
	require.NotNil(t, st.Result)
	assert.Equal(t, "echo: queued", st.Result.Content)

	_, err = a.Relay.Complete(ctx, xrelay.Call{Identity: id, Prompt: "over quota"})
	assert.Equal(t, xrelay.CodeDenied, xrelay.Code(err))
}
