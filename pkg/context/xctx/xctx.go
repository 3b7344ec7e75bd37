package xctx

import "errors"

// 包私有类型，避免与其他包的 context key 冲突
type contextKey string

const (
	keyIdentity  = contextKey("xctx:identity")
	keyRequestID = contextKey("xctx:request_id")
	keyJobID     = contextKey("xctx:job_id")
)

// 日志属性 Key 常量
const (
	KeyTenantID  = "tenant_id"
	KeyUserID    = "user_id"
	KeyClientIP  = "client_ip"
	KeyRequestID = "request_id"
	KeyJobID     = "job_id"
)

var (
	// ErrNilContext 表示传入的 context 为 nil。
	ErrNilContext = errors.New("xctx: nil context")

	// ErrEmptyIdentity 表示身份三元组均为空，无法派生限流键。
	ErrEmptyIdentity = errors.New("xctx: empty identity")
)
