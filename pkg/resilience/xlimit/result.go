package xlimit

import (
	"math"
	"strconv"
	"time"
)

// Result 一次准入判定
type Result struct {
	Allowed    bool          `json:"allowed"`
	Tier       string        `json:"tier"`
	Key        string        `json:"key"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Headers 生成标准限流响应头。Retry-After 向上取整到整秒。
func (r *Result) Headers() map[string]string {
	h := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.ResetAt.Unix(), 10),
	}
	if r.RetryAfter > 0 {
		h["Retry-After"] = strconv.FormatInt(int64(math.Ceil(r.RetryAfter.Seconds())), 10)
	}
	return h
}

// retryAfter 距窗口重置的时间，向上取整到整秒，至少 1 秒
func retryAfter(resetAt, now time.Time) time.Duration {
	d := resetAt.Sub(now)
	secs := math.Ceil(d.Seconds())
	return time.Duration(max(secs, 1)) * time.Second
}
