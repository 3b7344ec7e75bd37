package xjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/omeyang/xrelay/pkg/context/xctx"
	"github.com/omeyang/xrelay/pkg/distributed/xdlock"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
	"github.com/omeyang/xrelay/pkg/observability/xmetrics"
	"github.com/omeyang/xrelay/pkg/resilience/xretry"
	"github.com/omeyang/xrelay/pkg/util/xid"
)

// ErrJobCancelled 运行中的任务收到取消标记
var ErrJobCancelled = errors.New("xjob: job cancelled")

// errShutdown 队列停止导致处理中断
var errShutdown = errors.New("xjob: interrupted by shutdown")

// Handler 任务处理函数。返回实现 Retryable() bool 的错误可控制是否重试，
// 其他错误按可重试处理。
type Handler func(ctx context.Context, job *Job) (result []byte, err error)

// EnqueueOptions 入队参数，零值字段取队列默认值
type EnqueueOptions struct {
	Priority       int
	Delay          time.Duration
	IdempotencyKey string
	MaxAttempts    int
	Tenant         string
}

// Handle 入队结果
type Handle struct {
	JobID  string `json:"job_id"`
	Status Status `json:"status"`
	// Created 为 false 表示命中幂等键，返回的是已有任务
	Created bool `json:"created"`
}

// State 对外的任务状态词汇
type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateNotFound  State = "not_found"
)

// JobStatus 状态查询结果。Job 在 not_found 时为 nil。
type JobStatus struct {
	ID    string `json:"id"`
	State State  `json:"state"`
	Job   *Job   `json:"job,omitempty"`
}

// Stats 队列统计。Processed 等为本进程累计值。
type Stats struct {
	Counts
	Depth       int64 `json:"depth"`
	Running     int64 `json:"running"`
	Concurrency int   `json:"concurrency"`
	Processed   int64 `json:"processed"`
	Succeeded   int64 `json:"succeeded"`
	Retried     int64 `json:"retried"`
	Failures    int64 `json:"failures"`
	Reclaimed   int64 `json:"reclaimed"`
	Purged      int64 `json:"purged"`
	RateLimited int64 `json:"rate_limited"`
}

// Queue 任务队列
type Queue struct {
	store   Store
	handler Handler

	concurrency     int
	rateCap         RateCap
	maxAttempts     int
	backoff         xretry.BackoffPolicy
	lease           time.Duration
	poll            time.Duration
	retainCompleted time.Duration
	retainFailed    time.Duration
	reclaimSpec     string
	purgeSpec       string
	locker          xdlock.Factory
	owner           string
	newID           func(ctx context.Context) (string, error)
	now             func() time.Time
	logger          xlog.Logger
	observer        xmetrics.Observer

	// 设计决策: 同一进程内领取串行化，速率上限的 Peek→Claim→Take 才不会超发
	claimMu sync.Mutex
	wake    chan struct{}
	events  hub

	running     atomic.Int64
	processed   atomic.Int64
	succeeded   atomic.Int64
	retried     atomic.Int64
	failures    atomic.Int64
	reclaimed   atomic.Int64
	purged      atomic.Int64
	rateLimited atomic.Int64
}

// New 创建队列
func New(store Store, handler Handler, opts ...Option) (*Queue, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	q := &Queue{
		store:           store,
		handler:         handler,
		concurrency:     DefaultConcurrency,
		maxAttempts:     DefaultMaxAttempts,
		backoff:         DefaultBackoff(),
		lease:           DefaultLease,
		poll:            DefaultPollInterval,
		retainCompleted: DefaultCompletedRetention,
		retainFailed:    DefaultFailedRetention,
		reclaimSpec:     DefaultReclaimSpec,
		purgeSpec:       DefaultPurgeSpec,
		now:             time.Now,
		logger:          xlog.Default(),
		wake:            make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.owner == "" {
		host, _ := os.Hostname()
		q.owner = host + "-" + uuid.NewString()
	}
	if q.newID == nil {
		gen, err := xid.NewGenerator()
		if err != nil {
			return nil, fmt.Errorf("xjob: id generator: %w", err)
		}
		q.newID = gen.NewString
	}
	return q, nil
}

// Enqueue 入队。Delay > 0 的任务先进入 delayed。
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload []byte, opts EnqueueOptions) (*Handle, error) {
	if strings.TrimSpace(jobType) == "" {
		return nil, ErrEmptyType
	}
	if opts.Priority == 0 {
		opts.Priority = DefaultPriority
	}
	if opts.Priority < MinPriority || opts.Priority > MaxPriority {
		return nil, ErrInvalidPriority
	}
	if opts.Delay < 0 {
		return nil, ErrInvalidDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = q.maxAttempts
	}
	id, err := q.newID(ctx)
	if err != nil {
		return nil, fmt.Errorf("xjob: new id: %w", err)
	}

	now := q.now()
	job := &Job{
		ID:             id,
		Type:           jobType,
		Tenant:         opts.Tenant,
		Payload:        payload,
		Priority:       opts.Priority,
		Status:         StatusWaiting,
		MaxAttempts:    opts.MaxAttempts,
		IdempotencyKey: opts.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if opts.Delay > 0 {
		job.Status = StatusDelayed
		job.RunAt = now.Add(opts.Delay)
	}

	stored, created, err := q.store.Add(ctx, job)
	if err != nil {
		return nil, err
	}
	if created {
		q.publish(EventEnqueued, stored, "", 0)
		q.logger.Debug(ctx, "job enqueued", q.jobAttrs(stored, slog.Int("priority", stored.Priority))...)
		q.signal()
	}
	return &Handle{JobID: stored.ID, Status: stored.Status, Created: created}, nil
}

// Status 查询任务状态，不存在时返回 not_found 而非错误
func (q *Queue) Status(ctx context.Context, id string) (*JobStatus, error) {
	job, err := q.store.Get(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		return &JobStatus{ID: id, State: StateNotFound}, nil
	}
	if err != nil {
		return nil, err
	}
	return &JobStatus{ID: id, State: stateOf(job.Status), Job: job}, nil
}

func stateOf(s Status) State {
	switch s {
	case StatusActive:
		return StateActive
	case StatusCompleted:
		return StateCompleted
	case StatusFailed:
		return StateFailed
	default:
		return StateQueued
	}
}

// Result 返回成功任务的结果；失败任务返回 *FailedError，未结束返回 ErrJobNotFinished
func (q *Queue) Result(ctx context.Context, id string) ([]byte, error) {
	job, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case StatusCompleted:
		return job.Result, nil
	case StatusFailed:
		return nil, &FailedError{JobID: job.ID, Attempts: job.AttemptsMade, Message: job.Error, Exhausted: job.Exhausted}
	default:
		return nil, ErrJobNotFinished
	}
}

// Cancel 取消任务。运行中的任务只设置标记，由 worker 在心跳时响应。
func (q *Queue) Cancel(ctx context.Context, id string) (CancelResult, error) {
	res, err := q.store.Cancel(ctx, id, q.now())
	if err != nil {
		return "", err
	}
	if res != CancelNotCancellable {
		q.events.publish(Event{Kind: EventCancelled, JobID: id, Error: string(res), At: q.now()})
		q.logger.Info(ctx, "job cancel requested",
			xlog.Component("xjob"), xlog.JobID(id), slog.String("result", string(res)))
	}
	return res, nil
}

// Subscribe 订阅任务事件
func (q *Queue) Subscribe(buffer int) (<-chan Event, func()) {
	return q.events.subscribe(buffer)
}

// Stats 当前统计
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	c, err := q.store.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Counts:      c,
		Depth:       c.Depth(),
		Running:     q.running.Load(),
		Concurrency: q.concurrency,
		Processed:   q.processed.Load(),
		Succeeded:   q.succeeded.Load(),
		Retried:     q.retried.Load(),
		Failures:    q.failures.Load(),
		Reclaimed:   q.reclaimed.Load(),
		Purged:      q.purged.Load(),
		RateLimited: q.rateLimited.Load(),
	}, nil
}

// ProcessNext 领取并同步执行一个任务。没有可执行的任务时返回 false；
// 达到启动速率上限时返回 ErrRateLimited。
func (q *Queue) ProcessNext(ctx context.Context) (bool, error) {
	job, _, err := q.claim(ctx)
	if errors.Is(err, ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	q.execute(ctx, job)
	return true, nil
}

// claim 返回的 wait 仅在速率受限时有效
func (q *Queue) claim(ctx context.Context) (*Job, time.Duration, error) {
	q.claimMu.Lock()
	defer q.claimMu.Unlock()

	now := q.now()
	if q.rateCap != nil {
		ok, wait, err := q.rateCap.Peek(ctx, now)
		if err != nil {
			return nil, 0, fmt.Errorf("xjob: rate cap: %w", err)
		}
		if !ok {
			q.rateLimited.Add(1)
			return nil, wait, ErrRateLimited
		}
	}
	job, err := q.store.Claim(ctx, q.owner, now, q.lease)
	if err != nil {
		return nil, 0, err
	}
	if q.rateCap != nil {
		if ok, _, err := q.rateCap.Take(ctx, now); err != nil || !ok {
			// 已领取的任务照常执行，多实例共享上限时允许少量超发
			q.logger.Warn(ctx, "rate cap take rejected after claim", q.jobAttrs(job, xlog.Err(err))...)
		}
	}
	return job, 0, nil
}

// execute 运行一次尝试并落库结果。落库使用脱离取消的 context，停止时也能记录。
func (q *Queue) execute(ctx context.Context, job *Job) {
	q.running.Add(1)
	defer q.running.Add(-1)
	q.processed.Add(1)

	ctx = xctx.WithJobID(ctx, job.ID)
	ctx, span := xmetrics.Start(ctx, q.observer, xmetrics.SpanOptions{
		Component: "xjob",
		Operation: "process",
		Kind:      xmetrics.KindConsumer,
		Attrs:     []xmetrics.Attr{xmetrics.String("job_type", job.Type)},
	})
	q.publish(EventStarted, job, "", 0)

	jobCtx, cancel := context.WithCancelCause(ctx)
	stop := q.heartbeat(jobCtx, job, cancel)
	result, err := q.invoke(jobCtx, job)
	stop()
	if err != nil {
		if cause := context.Cause(jobCtx); errors.Is(cause, ErrJobCancelled) || errors.Is(cause, ErrLeaseLost) {
			err = cause
		} else if ctx.Err() != nil {
			err = errShutdown
		}
	}
	cancel(nil)

	storeCtx := context.WithoutCancel(ctx)
	if err == nil {
		err = q.complete(storeCtx, job, result)
	} else {
		q.fail(storeCtx, job, err)
	}
	span.End(xmetrics.Result{Err: err})
}

func (q *Queue) invoke(ctx context.Context, job *Job) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xretry.Permanent(fmt.Errorf("xjob: handler panic: %v", r))
		}
	}()
	return q.handler(ctx, job.Clone())
}

// heartbeat 每 lease/3 续租，并把取消标记或租约丢失转为 context 取消
func (q *Queue) heartbeat(ctx context.Context, job *Job, cancel context.CancelCauseFunc) func() {
	interval := max(q.lease/3, 10*time.Millisecond)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				cancelRequested, err := q.store.Heartbeat(ctx, job.ID, q.owner, q.now().Add(q.lease))
				switch {
				case errors.Is(err, ErrLeaseLost):
					cancel(ErrLeaseLost)
					return
				case err != nil:
					q.logger.Warn(ctx, "job heartbeat failed", q.jobAttrs(job, xlog.Err(err))...)
				case cancelRequested:
					cancel(ErrJobCancelled)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (q *Queue) complete(ctx context.Context, job *Job, result []byte) error {
	if err := q.store.Complete(ctx, job.ID, q.owner, result, q.now()); err != nil {
		q.logger.Warn(ctx, "failed to record job completion", q.jobAttrs(job, xlog.Err(err))...)
		return err
	}
	q.succeeded.Add(1)
	q.publish(EventCompleted, job, "", 0)
	q.logger.Info(ctx, "job completed", q.jobAttrs(job)...)
	return nil
}

// fail 决定重试或终止。不可重试、被取消或达到尝试上限时终止。
func (q *Queue) fail(ctx context.Context, job *Job, cause error) {
	if errors.Is(cause, ErrLeaseLost) {
		// 租约已被回收，任务状态由新的持有者负责
		q.logger.Warn(ctx, "job lease lost", q.jobAttrs(job)...)
		return
	}
	now := q.now()
	p := FailParams{Message: cause.Error()}
	retryable := !errors.Is(cause, ErrJobCancelled) && xretry.IsRetryable(cause)

	var delay time.Duration
	switch {
	case retryable && job.AttemptsMade < job.MaxAttempts:
		if !errors.Is(cause, errShutdown) {
			delay = q.backoff.NextDelay(job.AttemptsMade)
		}
		at := now.Add(delay)
		p.RetryAt = &at
	case retryable:
		p.Exhausted = true
		p.Message = fmt.Sprintf("%v: %s", ErrAttemptsExhausted, cause.Error())
	}

	if err := q.store.Fail(ctx, job.ID, q.owner, p, now); err != nil {
		q.logger.Warn(ctx, "failed to record job failure", q.jobAttrs(job, xlog.Err(err))...)
		return
	}
	if p.RetryAt != nil {
		q.retried.Add(1)
		q.publish(EventRetrying, job, p.Message, delay)
		q.logger.Warn(ctx, "job failed, will retry",
			q.jobAttrs(job, xlog.Err(cause), slog.Int("attempt", job.AttemptsMade), xlog.Duration(delay))...)
		return
	}
	q.failures.Add(1)
	q.publish(EventFailed, job, p.Message, 0)
	q.logger.Error(ctx, "job failed",
		q.jobAttrs(job, xlog.Err(cause), slog.Int("attempt", job.AttemptsMade), slog.Bool("exhausted", p.Exhausted))...)
}

// ReclaimStalled 回收租约过期的任务
func (q *Queue) ReclaimStalled(ctx context.Context) (ReclaimResult, error) {
	res, err := q.store.ReclaimStalled(ctx, q.now())
	if err != nil {
		return res, err
	}
	if n := res.Requeued + res.Failed; n > 0 {
		q.reclaimed.Add(int64(n))
		q.failures.Add(int64(res.Failed))
		q.events.publish(Event{Kind: EventReclaimed, Attempt: n, At: q.now()})
		q.logger.Warn(ctx, "stalled jobs reclaimed", xlog.Component("xjob"),
			slog.Int("requeued", res.Requeued), slog.Int("failed", res.Failed))
		if res.Requeued > 0 {
			q.signal()
		}
	}
	return res, nil
}

// Purge 删除超过保留期的终态任务
func (q *Queue) Purge(ctx context.Context) (int, error) {
	now := q.now()
	n, err := q.store.Purge(ctx, now.Add(-q.retainCompleted), now.Add(-q.retainFailed))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.purged.Add(int64(n))
		q.logger.Debug(ctx, "finished jobs purged", xlog.Component("xjob"), xlog.Count(int64(n)))
	}
	return n, nil
}

// Run 启动 worker 池与维护任务，阻塞到 ctx 取消。
// 正在执行的任务收到取消后立即重新排队，不计退避。
func (q *Queue) Run(ctx context.Context) error {
	m, err := q.startMaintenance()
	if err != nil {
		return err
	}
	defer m.Stop()

	var wg sync.WaitGroup
	for range q.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.worker(ctx)
		}()
	}
	q.logger.Info(ctx, "job queue started", xlog.Component("xjob"),
		slog.Int("concurrency", q.concurrency), slog.String("owner", q.owner))
	wg.Wait()
	return nil
}

func (q *Queue) worker(ctx context.Context) {
	timer := time.NewTimer(q.poll)
	timer.Stop()
	defer timer.Stop()
	for ctx.Err() == nil {
		job, wait, err := q.claim(ctx)
		if err == nil {
			q.execute(ctx, job)
			continue
		}
		d := q.poll
		switch {
		case errors.Is(err, ErrRateLimited):
			d = max(wait, time.Millisecond)
		case errors.Is(err, ErrNoJob), ctx.Err() != nil:
		default:
			q.logger.Warn(ctx, "job claim failed", xlog.Component("xjob"), xlog.Err(err))
		}
		timer.Reset(d)
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// signal 唤醒一个空闲 worker
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) publish(kind EventKind, job *Job, msg string, delay time.Duration) {
	q.events.publish(Event{
		Kind:    kind,
		JobID:   job.ID,
		Type:    job.Type,
		Tenant:  job.Tenant,
		Attempt: job.AttemptsMade,
		Delay:   delay,
		Error:   msg,
		At:      q.now(),
	})
}

func (q *Queue) jobAttrs(job *Job, extra ...slog.Attr) []slog.Attr {
	attrs := []slog.Attr{xlog.Component("xjob"), xlog.JobID(job.ID), slog.String("job_type", job.Type)}
	if job.Tenant != "" {
		attrs = append(attrs, xlog.Tenant(job.Tenant))
	}
	return append(attrs, extra...)
}
