package xrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/omeyang/xrelay/pkg/context/xctx"
	"github.com/omeyang/xrelay/pkg/llm/xprovider"
	"github.com/omeyang/xrelay/pkg/mq/xjob"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
	"github.com/omeyang/xrelay/pkg/observability/xmetrics"
	"github.com/omeyang/xrelay/pkg/resilience/xdispatch"
	"github.com/omeyang/xrelay/pkg/resilience/xlimit"
	"github.com/omeyang/xrelay/pkg/resilience/xretry"
	"github.com/omeyang/xrelay/pkg/storage/xcache"
)

// JobType 异步补全任务的类型
const JobType = "completion"

// DefaultStatusPath 异步句柄中状态地址的前缀
const DefaultStatusPath = "/v1/jobs/"

// Options 组件集合。Dispatcher 必填；Limiter 为 nil 时不限流；
// Queue 为 nil 时异步路径不可用；Cache 为 nil 时取 Dispatcher 的缓存。
type Options struct {
	Limiter    *xlimit.Limiter
	Dispatcher *xdispatch.Dispatcher
	Queue      *xjob.Queue
	Cache      *xcache.Cache
	Logger     xlog.Logger
	Observer   xmetrics.Observer
	StatusPath string
}

// Relay 请求核心入口，并发安全
type Relay struct {
	limiter    *xlimit.Limiter
	dispatcher *xdispatch.Dispatcher
	queue      *xjob.Queue
	cache      *xcache.Cache
	logger     xlog.Logger
	observer   xmetrics.Observer
	statusPath string
}

// New 创建 Relay
func New(opts Options) (*Relay, error) {
	if opts.Dispatcher == nil {
		return nil, ErrNilDispatcher
	}
	r := &Relay{
		limiter:    opts.Limiter,
		dispatcher: opts.Dispatcher,
		queue:      opts.Queue,
		cache:      opts.Cache,
		logger:     xlog.OrDefault(opts.Logger),
		observer:   opts.Observer,
		statusPath: opts.StatusPath,
	}
	if r.cache == nil {
		r.cache = opts.Dispatcher.Cache()
	}
	if r.statusPath == "" {
		r.statusPath = DefaultStatusPath
	}
	return r, nil
}

// Call 一次补全调用
type Call struct {
	Identity xctx.Identity `json:"identity"`
	// Tier 为空时使用限流器的默认层级
	Tier   string         `json:"tier,omitempty"`
	Prompt string         `json:"prompt"`
	Model  string         `json:"model,omitempty"`
	Params map[string]any `json:"params,omitempty"`

	Async          bool          `json:"async,omitempty"`
	Priority       int           `json:"priority,omitempty"`
	Delay          time.Duration `json:"delay,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	MaxAttempts    int           `json:"max_attempts,omitempty"`
}

func (c *Call) request() *xprovider.Request {
	id := c.Identity.Normalize()
	return &xprovider.Request{
		Prompt: c.Prompt,
		Model:  c.Model,
		Params: c.Params,
		Tenant: id.Tenant,
		User:   id.User,
	}
}

// Reply 同步补全结果，也是异步任务成功时存储的结果
type Reply struct {
	Content          string              `json:"content"`
	Provider         string              `json:"provider"`
	Model            string              `json:"model,omitempty"`
	Origin           xdispatch.Origin    `json:"origin"`
	CacheHit         bool                `json:"cache_hit"`
	PromptTokens     int64               `json:"prompt_tokens"`
	CompletionTokens int64               `json:"completion_tokens"`
	Cost             float64             `json:"cost"`
	Latency          time.Duration       `json:"latency"`
	Fingerprint      string              `json:"fingerprint"`
	RequestID        string              `json:"request_id,omitempty"`
	JobID            string              `json:"job_id,omitempty"`
	Attempts         []xdispatch.Attempt `json:"attempts,omitempty"`
	Quota            *xlimit.Result      `json:"quota,omitempty"`
}

func replyOf(res *xdispatch.Result) *Reply {
	return &Reply{
		Content:          res.Content,
		Provider:         res.Provider,
		Model:            res.Model,
		Origin:           res.Origin,
		CacheHit:         res.CacheHit,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		Cost:             res.Cost,
		Latency:          res.Latency,
		Fingerprint:      res.Fingerprint,
		Attempts:         res.Attempts,
	}
}

// Handle 异步受理结果
type Handle struct {
	JobID     string      `json:"job_id"`
	StatusURL string      `json:"status_url"`
	Status    xjob.Status `json:"status"`
	// Duplicate 为 true 表示命中幂等键，返回的是已存在的任务
	Duplicate bool           `json:"duplicate,omitempty"`
	Quota     *xlimit.Result `json:"quota,omitempty"`
}

// Response Handle 的返回值，Reply 与 Job 恰有一个非 nil
type Response struct {
	Reply *Reply  `json:"reply,omitempty"`
	Job   *Handle `json:"job,omitempty"`
}

// Handle 按 Call.Async 选择同步或异步路径
func (r *Relay) Handle(ctx context.Context, call Call) (*Response, error) {
	if call.Async {
		h, err := r.Submit(ctx, call)
		if err != nil {
			return nil, err
		}
		return &Response{Job: h}, nil
	}
	reply, err := r.Complete(ctx, call)
	if err != nil {
		return nil, err
	}
	return &Response{Reply: reply}, nil
}

// Complete 同步路径：限流 → 分发
func (r *Relay) Complete(ctx context.Context, call Call) (reply *Reply, err error) {
	ctx, reqID, err := xctx.EnsureRequestID(ctx)
	if err != nil {
		return nil, err
	}
	ctx, span := xmetrics.Start(ctx, r.observer, xmetrics.SpanOptions{
		Component: "xrelay",
		Operation: "complete",
		Kind:      xmetrics.KindServer,
		Attrs:     []xmetrics.Attr{xmetrics.String("tenant", call.Identity.Tenant)},
	})
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	req := call.request()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	quota, err := r.admit(ctx, call)
	if err != nil {
		return nil, err
	}

	res, err := r.dispatcher.Dispatch(ctx, req)
	if err != nil {
		r.logger.Warn(ctx, "completion failed",
			xlog.Component("xrelay"), xlog.Tenant(req.Tenant),
			xlog.Err(err), slog.String("code", Code(err)))
		return nil, err
	}
	reply = replyOf(res)
	reply.RequestID = reqID
	reply.Quota = quota
	return reply, nil
}

// Submit 异步路径：限流 → 入队。限流只在受理时计数一次。
func (r *Relay) Submit(ctx context.Context, call Call) (h *Handle, err error) {
	if r.queue == nil {
		return nil, ErrAsyncDisabled
	}
	ctx, reqID, err := xctx.EnsureRequestID(ctx)
	if err != nil {
		return nil, err
	}
	ctx, span := xmetrics.Start(ctx, r.observer, xmetrics.SpanOptions{
		Component: "xrelay",
		Operation: "submit",
		Kind:      xmetrics.KindProducer,
		Attrs:     []xmetrics.Attr{xmetrics.String("tenant", call.Identity.Tenant)},
	})
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	req := call.request()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	quota, err := r.admit(ctx, call)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(jobPayload{Request: *req, RequestID: reqID})
	if err != nil {
		return nil, fmt.Errorf("xrelay: encode payload: %w", err)
	}
	jh, err := r.queue.Enqueue(ctx, JobType, payload, xjob.EnqueueOptions{
		Priority:       call.Priority,
		Delay:          call.Delay,
		IdempotencyKey: call.IdempotencyKey,
		MaxAttempts:    call.MaxAttempts,
		Tenant:         req.Tenant,
	})
	if err != nil {
		return nil, err
	}
	return &Handle{
		JobID:     jh.JobID,
		StatusURL: r.statusPath + jh.JobID,
		Status:    jh.Status,
		Duplicate: !jh.Created,
		Quota:     quota,
	}, nil
}

func (r *Relay) admit(ctx context.Context, call Call) (*xlimit.Result, error) {
	if r.limiter == nil {
		return nil, nil
	}
	return r.limiter.Admit(ctx, call.Identity, call.Tier)
}

// StatusReply 任务状态
type StatusReply struct {
	JobID       string     `json:"job_id"`
	Status      xjob.State `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts,omitempty"`
	Result      *Reply     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Code        string     `json:"code,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitzero"`
	FinishedAt  time.Time  `json:"finished_at,omitzero"`
}

// Status 查询异步任务。不存在的任务返回 not_found 状态而非错误。
func (r *Relay) Status(ctx context.Context, id string) (*StatusReply, error) {
	if r.queue == nil {
		return nil, ErrAsyncDisabled
	}
	st, err := r.queue.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &StatusReply{JobID: id, Status: st.State}
	if st.Job == nil {
		out.Code = CodeJobNotFound
		return out, nil
	}
	job := st.Job
	out.Attempts = job.AttemptsMade
	out.MaxAttempts = job.MaxAttempts
	out.CreatedAt = job.CreatedAt
	out.FinishedAt = job.FinishedAt

	switch st.State {
	case xjob.StateCompleted:
		var reply Reply
		if err := json.Unmarshal(job.Result, &reply); err != nil {
			return nil, fmt.Errorf("xrelay: decode result of %s: %w", id, err)
		}
		out.Result = &reply
	case xjob.StateFailed:
		out.Error = job.Error
		out.Code = CodeJobFailed
		if job.Exhausted {
			out.Code = CodeJobAttemptsExhausted
		}
	}
	return out, nil
}

// Cancel 取消异步任务。不存在时返回 xjob.ErrJobNotFound。
func (r *Relay) Cancel(ctx context.Context, id string) (xjob.CancelResult, error) {
	if r.queue == nil {
		return "", ErrAsyncDisabled
	}
	return r.queue.Cancel(ctx, id)
}

// JobHandler 使用本 Relay 的分发器处理任务
func (r *Relay) JobHandler() xjob.Handler {
	return NewJobHandler(r.dispatcher, r.logger)
}

type jobPayload struct {
	xprovider.Request
	RequestID string `json:"request_id,omitempty"`
}

// NewJobHandler 返回处理 completion 任务的 xjob.Handler。
//
// 队列需要在 Relay 之前构造，因此处理函数只依赖分发器。
// 载荷损坏与请求非法按永久错误处理，不会重试；
// 分发失败由 UnavailableError.Retryable 决定是否重试。
func NewJobHandler(d *xdispatch.Dispatcher, logger xlog.Logger) xjob.Handler {
	logger = xlog.OrDefault(logger)
	return func(ctx context.Context, job *xjob.Job) ([]byte, error) {
		if job.Type != JobType {
			return nil, xretry.Permanent(fmt.Errorf("%w: unexpected job type %q", ErrBadPayload, job.Type))
		}
		var p jobPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, xretry.Permanent(fmt.Errorf("%w: %w", ErrBadPayload, err))
		}
		if err := p.Validate(); err != nil {
			return nil, xretry.Permanent(err)
		}
		if p.RequestID != "" {
			if c, err := xctx.WithRequestID(ctx, p.RequestID); err == nil {
				ctx = c
			}
		}
		ctx = xctx.WithJobID(ctx, job.ID)

		res, err := d.Dispatch(ctx, &p.Request)
		if err != nil {
			logger.Warn(ctx, "job dispatch failed",
				xlog.Component("xrelay"), xlog.JobID(job.ID),
				xlog.Err(err), slog.String("code", Code(err)))
			return nil, err
		}
		reply := replyOf(res)
		reply.RequestID = p.RequestID
		reply.JobID = job.ID
		return json.Marshal(reply)
	}
}
