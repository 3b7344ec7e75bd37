package xbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/omeyang/xrelay/pkg/observability/xlog"
)

type (
	// Counts gobreaker 统计计数
	Counts = gobreaker.Counts

	// State 熔断器状态
	State = gobreaker.State
)

const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// 默认参数
const (
	DefaultWindowSize   = 10
	DefaultFailureRatio = 0.5
	DefaultResetTimeout = 30 * time.Second
)

// Event 状态变化事件
type Event struct {
	Name string    `json:"name"`
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Snapshot 熔断器当前状态快照
type Snapshot struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	Requests       uint32    `json:"requests"`
	Successes      uint32    `json:"successes"`
	Failures       uint32    `json:"failures"`
	WindowSize     int       `json:"window_size,omitempty"`
	WindowFailures int       `json:"window_failures"`
	OpenedAt       time.Time `json:"opened_at,omitzero"`
}

// Option 熔断器配置选项
type Option func(*Breaker)

// WithTripPolicy 设置熔断判定策略。
// 策略实例带状态时不要在多个熔断器之间共享，改用 WithRollingWindow。
func WithTripPolicy(p TripPolicy) Option {
	return func(b *Breaker) {
		if p != nil {
			b.policy = p
		}
	}
}

// WithRollingWindow 每个熔断器独立创建滚动窗口策略，参数非法时保留默认值
func WithRollingWindow(size int, ratio float64) Option {
	return func(b *Breaker) {
		if p, err := NewRollingWindow(size, ratio); err == nil {
			b.policy = p
		}
	}
}

func WithSuccessPolicy(p SuccessPolicy) Option {
	return func(b *Breaker) { b.success = p }
}

// WithResetTimeout Open 持续多久后进入 HalfOpen
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// WithInterval Closed 状态下 gobreaker 计数清零周期，默认 0 不清零
func WithInterval(d time.Duration) Option {
	return func(b *Breaker) { b.interval = d }
}

// WithOnStateChange 状态变化回调，在熔断器内部锁内同步调用，不能阻塞
func WithOnStateChange(f func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onStateChange = f }
}

// WithClock 事件与 OpenedAt 使用的时钟。gobreaker 的超时计时仍使用系统时间。
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

func WithLogger(l xlog.Logger) Option {
	return func(b *Breaker) {
		if l != nil {
			b.logger = l
		}
	}
}

// Breaker 熔断器，并发安全。
//
// 设计决策: 底层 gobreaker 实例放在 atomic.Pointer 中，Reset 直接替换为新实例。
// 每个实例带代次号，旧实例上未完成调用触发的状态回调会被忽略。
type Breaker struct {
	name          string
	policy        TripPolicy
	success       SuccessPolicy
	resetTimeout  time.Duration
	interval      time.Duration
	onStateChange func(name string, from, to State)
	now           func() time.Time
	logger        xlog.Logger

	cb  atomic.Pointer[gobreaker.CircuitBreaker[any]]
	gen atomic.Uint64
	// epoch 在每次状态变化与 Reset 时递增，跨越它的调用结果不写入窗口
	epoch atomic.Uint64

	mu       sync.Mutex
	openedAt time.Time
	subs     []chan Event
}

// New 创建熔断器。默认：最近 10 次调用失败占比 ≥ 50% 熔断，30 秒后半开探测。
func New(name string, opts ...Option) (*Breaker, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	b := &Breaker{
		name:         name,
		resetTimeout: DefaultResetTimeout,
		now:          time.Now,
		logger:       xlog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.policy == nil {
		p, err := NewRollingWindow(DefaultWindowSize, DefaultFailureRatio)
		if err != nil {
			return nil, err
		}
		b.policy = p
	}
	b.cb.Store(b.build(b.gen.Load()))
	return b, nil
}

func (b *Breaker) build(gen uint64) *gobreaker.CircuitBreaker[any] {
	st := gobreaker.Settings{
		Name:        b.name,
		MaxRequests: 1,
		Interval:    b.interval,
		Timeout:     b.resetTimeout,
		ReadyToTrip: b.policy.ReadyToTrip,
		IsSuccessful: func(err error) bool {
			var wt *windowTripError
			if errors.As(err, &wt) {
				return false
			}
			return b.isSuccessful(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if b.gen.Load() != gen {
				return
			}
			b.transition(from, to)
		},
	}
	return gobreaker.NewCircuitBreaker[any](st)
}

func (b *Breaker) isSuccessful(err error) bool {
	if b.success != nil {
		return b.success.IsSuccessful(err)
	}
	return err == nil
}

// transition 在 gobreaker 锁内调用，不能访问 b.cb 的方法
func (b *Breaker) transition(from, to State) {
	b.epoch.Add(1)
	if rec, ok := b.policy.(OutcomeRecorder); ok {
		rec.Reset()
	}
	now := b.now()
	b.mu.Lock()
	switch to {
	case StateOpen:
		b.openedAt = now
	case StateClosed:
		b.openedAt = time.Time{}
	}
	b.mu.Unlock()

	b.publish(Event{Name: b.name, From: from, To: to, At: now})
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}

	attrs := []slog.Attr{
		xlog.Component("xbreaker"),
		xlog.Provider(b.name),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	}
	if to == StateOpen {
		b.logger.Warn(context.Background(), "circuit opened", attrs...)
	} else {
		b.logger.Info(context.Background(), "circuit state changed", attrs...)
	}
}

func (b *Breaker) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe 订阅状态变化，返回事件通道与取消函数
func (b *Breaker) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, c := range b.subs {
				if c == ch {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
}

// Do 执行受保护的操作。熔断拒绝时 fn 不会被调用，返回 *BreakerError。
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Execute(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Execute 泛型版本的 Do
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if fn == nil {
		return zero, ErrNilFunc
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	rec, _ := b.policy.(OutcomeRecorder)
	result, err := b.cb.Load().Execute(func() (any, error) {
		epoch := b.epoch.Load()
		v, err := fn(ctx)
		if rec == nil || b.epoch.Load() != epoch {
			return v, err
		}
		// 先写入窗口，随后 gobreaker 才会调用 ReadyToTrip
		ok := b.isSuccessful(err)
		rec.Record(ok)
		// gobreaker 只在失败后判定，而成功调用填满窗口时同样可能达到阈值
		if ok && b.policy.ReadyToTrip(Counts{}) {
			return v, &windowTripError{err: err}
		}
		return v, err
	})
	var wt *windowTripError
	if errors.As(err, &wt) {
		err = wt.err
	}
	if err != nil {
		return zero, wrapBreakerError(err, b.name)
	}
	typed, _ := result.(T)
	return typed, nil
}

// windowTripError 让 gobreaker 把本次成功按失败计入，从而走正常的打开流程。
// Execute 返回前还原为调用本身的结果。
type windowTripError struct{ err error }

func (e *windowTripError) Error() string { return "xbreaker: rolling window reached failure ratio" }

func (e *windowTripError) Unwrap() error { return e.err }

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State { return b.cb.Load().State() }

func (b *Breaker) Counts() Counts { return b.cb.Load().Counts() }

// ResetTimeout Open 到 HalfOpen 的等待时间
func (b *Breaker) ResetTimeout() time.Duration { return b.resetTimeout }

// Snapshot 返回状态快照
func (b *Breaker) Snapshot() Snapshot {
	cb := b.cb.Load()
	counts := cb.Counts()
	s := Snapshot{
		Name:      b.name,
		State:     cb.State().String(),
		Requests:  counts.Requests,
		Successes: counts.TotalSuccesses,
		Failures:  counts.TotalFailures,
	}
	if p, ok := b.policy.(*RollingWindowPolicy); ok {
		s.WindowSize, s.WindowFailures = p.Window()
	}
	b.mu.Lock()
	s.OpenedAt = b.openedAt
	b.mu.Unlock()
	return s
}

// Reset 强制回到 Closed 并清空统计
func (b *Breaker) Reset() {
	from := b.State()
	gen := b.gen.Add(1)
	b.epoch.Add(1)
	if rec, ok := b.policy.(OutcomeRecorder); ok {
		rec.Reset()
	}
	b.cb.Store(b.build(gen))

	b.mu.Lock()
	b.openedAt = time.Time{}
	b.mu.Unlock()

	if from != StateClosed {
		b.publish(Event{Name: b.name, From: from, To: StateClosed, At: b.now()})
		if b.onStateChange != nil {
			b.onStateChange(b.name, from, StateClosed)
		}
		b.logger.Info(context.Background(), "circuit reset",
			xlog.Component("xbreaker"), xlog.Provider(b.name), slog.String("from", from.String()))
	}
}
