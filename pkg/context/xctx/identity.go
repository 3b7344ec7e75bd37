package xctx

import (
	"context"
	"net/netip"
	"strings"
)

// Scope 表示限流键所处的命名空间
type Scope string

const (
	ScopeTenantUser Scope = "tenant_user"
	ScopeTenantIP   Scope = "tenant_ip"
	ScopeIP         Scope = "ip"
)

// unknownIP 租户存在但缺少用户与 IP 时使用的占位符
const unknownIP = "unknown"

// Identity 描述调用的发起方。三个字段均可为空。
type Identity struct {
	Tenant string `json:"tenant,omitempty"`
	User   string `json:"user,omitempty"`
	IP     string `json:"ip,omitempty"`
}

// Normalize 返回去除首尾空白、IP 规范化后的副本。
//
// IPv4-mapped IPv6 地址（::ffff:1.2.3.4）还原为 IPv4，
// 无法解析的 IP 文本原样保留，避免丢失调用方信息。
func (id Identity) Normalize() Identity {
	id.Tenant = strings.TrimSpace(id.Tenant)
	id.User = strings.TrimSpace(id.User)
	id.IP = normalizeIP(id.IP)
	return id
}

// IsZero 报告身份是否完全为空
func (id Identity) IsZero() bool {
	n := id.Normalize()
	return n.Tenant == "" && n.User == "" && n.IP == ""
}

// Scope 返回派生键所处的命名空间。身份为空时返回空字符串。
func (id Identity) Scope() Scope {
	n := id.Normalize()
	switch {
	case n.Tenant != "" && n.User != "":
		return ScopeTenantUser
	case n.Tenant != "":
		return ScopeTenantIP
	case n.IP != "":
		return ScopeIP
	default:
		return ""
	}
}

// Key 按优先级派生限流键。
//
// 相同的三元组总是得到相同的键；用户字段仅在租户存在时生效，
// 没有租户时退化为 IP 维度。
func (id Identity) Key() (string, error) {
	n := id.Normalize()
	switch n.Scope() {
	case ScopeTenantUser:
		return "t:" + n.Tenant + ":u:" + n.User, nil
	case ScopeTenantIP:
		ip := n.IP
		if ip == "" {
			ip = unknownIP
		}
		return "t:" + n.Tenant + ":ip:" + ip, nil
	case ScopeIP:
		return "ip:" + n.IP, nil
	default:
		return "", ErrEmptyIdentity
	}
}

func normalizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return raw
	}
	return addr.Unmap().String()
}

// WithIdentity 将身份注入 context
func WithIdentity(ctx context.Context, id Identity) (context.Context, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	return context.WithValue(ctx, keyIdentity, id.Normalize()), nil
}

// IdentityFrom 从 context 提取身份，不存在返回零值
func IdentityFrom(ctx context.Context) Identity {
	if ctx == nil {
		return Identity{}
	}
	if v, ok := ctx.Value(keyIdentity).(Identity); ok {
		return v
	}
	return Identity{}
}
