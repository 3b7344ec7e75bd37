package xcost

import "time"

// Kind 事件类型
type Kind string

const (
	KindCacheHit        Kind = "cache_hit"
	KindProviderSuccess Kind = "provider_success"
	KindFallbackSuccess Kind = "fallback_success"
	KindCoalesced       Kind = "coalesced"
	KindFailure         Kind = "failure"
)

// Event 一次请求的用量与成本记录。缓存命中与合并请求的 Cost 为 0。
type Event struct {
	Kind             Kind          `json:"kind"`
	Tenant           string        `json:"tenant,omitempty"`
	User             string        `json:"user,omitempty"`
	RequestID        string        `json:"request_id,omitempty"`
	JobID            string        `json:"job_id,omitempty"`
	Provider         string        `json:"provider,omitempty"`
	Model            string        `json:"model,omitempty"`
	Fingerprint      string        `json:"fingerprint,omitempty"`
	PromptTokens     int64         `json:"prompt_tokens"`
	CompletionTokens int64         `json:"completion_tokens"`
	Cost             float64       `json:"cost"`
	CacheHit         bool          `json:"cache_hit"`
	Latency          time.Duration `json:"latency"`
	Code             string        `json:"code,omitempty"`
	At               time.Time     `json:"at"`
}
