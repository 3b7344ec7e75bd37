package xctx_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xrelay/pkg/context/xctx"
)

func TestIdentity_Key(t *testing.T) {
	tests := []struct {
		name  string
		id    xctx.Identity
		want  string
		scope xctx.Scope
	}{
		{"tenant and user", xctx.Identity{Tenant: "acme", User: "u1", IP: "10.0.0.1"}, "t:acme:u:u1", xctx.ScopeTenantUser},
		{"tenant and ip", xctx.Identity{Tenant: "acme", IP: "10.0.0.1"}, "t:acme:ip:10.0.0.1", xctx.ScopeTenantIP},
		{"tenant only", xctx.Identity{Tenant: "acme"}, "t:acme:ip:unknown", xctx.ScopeTenantIP},
		{"ip only", xctx.Identity{IP: "10.0.0.1"}, "ip:10.0.0.1", xctx.ScopeIP},
		{"user without tenant falls back to ip", xctx.Identity{User: "u1", IP: "10.0.0.1"}, "ip:10.0.0.1", xctx.ScopeIP},
		{"mapped ipv6 is unmapped", xctx.Identity{IP: "::ffff:192.168.1.7"}, "ip:192.168.1.7", xctx.ScopeIP},
		{"whitespace trimmed", xctx.Identity{Tenant: " acme ", User: " u1 "}, "t:acme:u:u1", xctx.ScopeTenantUser},
		{"invalid ip kept verbatim", xctx.Identity{IP: "not-an-ip"}, "ip:not-an-ip", xctx.ScopeIP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.id.Key()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.scope, tt.id.Scope())
		})
	}
}

func TestIdentity_KeyEmpty(t *testing.T) {
	_, err := xctx.Identity{}.Key()
	assert.ErrorIs(t, err, xctx.ErrEmptyIdentity)

	_, err = xctx.Identity{User: "u1"}.Key()
	assert.ErrorIs(t, err, xctx.ErrEmptyIdentity)
	assert.True(t, xctx.Identity{IP: "  "}.IsZero())
}

func TestIdentity_TenantsDoNotShareIPNamespace(t *testing.T) {
	a, err := xctx.Identity{Tenant: "a", IP: "1.1.1.1"}.Key()
	require.NoError(t, err)
	b, err := xctx.Identity{Tenant: "b", IP: "1.1.1.1"}.Key()
	require.NoError(t, err)
	anon, err := xctx.Identity{IP: "1.1.1.1"}.Key()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, anon)
}

func TestWithIdentity(t *testing.T) {
	ctx, err := xctx.WithIdentity(context.Background(), xctx.Identity{Tenant: "acme", IP: "::ffff:10.1.1.1"})
	require.NoError(t, err)

	got := xctx.IdentityFrom(ctx)
	assert.Equal(t, "acme", got.Tenant)
	assert.Equal(t, "10.1.1.1", got.IP)

	assert.Equal(t, xctx.Identity{}, xctx.IdentityFrom(context.Background()))

	//nolint:staticcheck // 测试 nil context 处理
	_, err = xctx.WithIdentity(nil, xctx.Identity{})
	assert.ErrorIs(t, err, xctx.ErrNilContext)
}

func TestEnsureRequestID(t *testing.T) {
	ctx, id, err := xctx.EnsureRequestID(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, xctx.RequestID(ctx))

	ctx2, id2, err := xctx.EnsureRequestID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, id2)
	assert.Equal(t, ctx, ctx2)
}

func TestAppendAttrs(t *testing.T) {
	ctx, err := xctx.WithIdentity(context.Background(), xctx.Identity{Tenant: "acme", User: "u1"})
	require.NoError(t, err)
	ctx, err = xctx.WithRequestID(ctx, "req-1")
	require.NoError(t, err)

	attrs := xctx.AppendAttrs(nil, ctx)
	keys := make([]string, 0, len(attrs))
	for _, a := range attrs {
		keys = append(keys, a.Key)
	}
	assert.Equal(t, []string{xctx.KeyTenantID, xctx.KeyUserID, xctx.KeyRequestID}, keys)
	assert.Empty(t, xctx.AppendAttrs([]slog.Attr{}, context.Background()))
}
