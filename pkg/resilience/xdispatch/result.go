package xdispatch

import "time"

// Origin 结果来源
type Origin string

const (
	OriginCache     Origin = "cache"
	OriginPrimary   Origin = "primary"
	OriginFallback  Origin = "fallback"
	OriginCoalesced Origin = "coalesced"
)

// Outcome 单次尝试结果
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeError       Outcome = "error"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeCircuitOpen Outcome = "circuit_open"
	OutcomeSkipped     Outcome = "skipped"
)

// Attempt 对一个提供方的一次尝试
type Attempt struct {
	Provider string        `json:"provider"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Latency  time.Duration `json:"latency"`

	err error
}

// Err 原始错误
func (a Attempt) Err() error { return a.err }

// Result 分发结果
type Result struct {
	Content          string        `json:"content"`
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
	Origin           Origin        `json:"origin"`
	CacheHit         bool          `json:"cache_hit"`
	PromptTokens     int64         `json:"prompt_tokens"`
	CompletionTokens int64         `json:"completion_tokens"`
	Cost             float64       `json:"cost"`
	Latency          time.Duration `json:"latency"`
	Fingerprint      string        `json:"fingerprint"`
	Attempts         []Attempt     `json:"attempts,omitempty"`
}

func (r *Result) clone() *Result {
	cp := *r
	cp.Attempts = append([]Attempt(nil), r.Attempts...)
	return &cp
}
