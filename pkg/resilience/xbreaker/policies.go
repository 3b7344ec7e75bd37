package xbreaker

import "sync"

// TripPolicy 熔断判定策略。ReadyToTrip 在 Closed 状态记录失败后调用。
type TripPolicy interface {
	ReadyToTrip(counts Counts) bool
}

// OutcomeRecorder 需要自己记录调用结果的策略。
// 熔断器在 gobreaker 判定之前调用 Record，在状态变化或 Reset 时调用 Reset。
// 这类策略的 ReadyToTrip 在成功调用后也会被检查。
type OutcomeRecorder interface {
	Record(success bool)
	Reset()
}

// SuccessPolicy 自定义成功判定，默认 err == nil
type SuccessPolicy interface {
	IsSuccessful(err error) bool
}

// SuccessFunc 函数适配器
type SuccessFunc func(err error) bool

func (f SuccessFunc) IsSuccessful(err error) bool { return f(err) }

// ConsecutiveFailuresPolicy 连续失败 threshold 次熔断
type ConsecutiveFailuresPolicy struct {
	threshold uint32
}

func NewConsecutiveFailures(threshold uint32) *ConsecutiveFailuresPolicy {
	return &ConsecutiveFailuresPolicy{threshold: max(threshold, 1)}
}

func (p *ConsecutiveFailuresPolicy) ReadyToTrip(counts Counts) bool {
	return counts.ConsecutiveFailures >= p.threshold
}

// FailureRatioPolicy 统计周期内请求数不少于 minRequests 且失败率达到 ratio 时熔断。
// 统计周期由 WithInterval 决定，默认不清零。
type FailureRatioPolicy struct {
	ratio       float64
	minRequests uint32
}

func NewFailureRatio(ratio float64, minRequests uint32) *FailureRatioPolicy {
	return &FailureRatioPolicy{ratio: min(max(ratio, 0), 1), minRequests: minRequests}
}

func (p *FailureRatioPolicy) ReadyToTrip(counts Counts) bool {
	if counts.Requests == 0 || counts.Requests < p.minRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= p.ratio
}

// RollingWindowPolicy 最近 size 次调用的失败占比。
// 窗口未填满时不熔断，避免冷启动阶段一两次失败就打开。
type RollingWindowPolicy struct {
	size  int
	ratio float64

	mu       sync.Mutex
	ring     []bool // true 表示失败
	next     int
	filled   int
	failures int
}

var (
	_ TripPolicy      = (*RollingWindowPolicy)(nil)
	_ OutcomeRecorder = (*RollingWindowPolicy)(nil)
)

// NewRollingWindow size 必须为正，ratio 取值 (0, 1]
func NewRollingWindow(size int, ratio float64) (*RollingWindowPolicy, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if ratio <= 0 || ratio > 1 {
		return nil, ErrInvalidRatio
	}
	return &RollingWindowPolicy{size: size, ratio: ratio, ring: make([]bool, size)}, nil
}

func (p *RollingWindowPolicy) Record(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.filled == p.size && p.ring[p.next] {
		p.failures--
	}
	p.ring[p.next] = !success
	if !success {
		p.failures++
	}
	p.next = (p.next + 1) % p.size
	if p.filled < p.size {
		p.filled++
	}
}

func (p *RollingWindowPolicy) ReadyToTrip(Counts) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.filled < p.size {
		return false
	}
	return float64(p.failures)/float64(p.size) >= p.ratio
}

func (p *RollingWindowPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.ring)
	p.next, p.filled, p.failures = 0, 0, 0
}

// Window 返回窗口大小与当前窗口内的失败数
func (p *RollingWindowPolicy) Window() (size, failures int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size, p.failures
}

// Ratio 熔断阈值
func (p *RollingWindowPolicy) Ratio() float64 { return p.ratio }
