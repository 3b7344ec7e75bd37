package xjob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix 键前缀。花括号是集群哈希标签，保证所有键落在同一槽位，
// 脚本内按前缀拼接的任务键才能在集群模式下使用。
const DefaultRedisPrefix = "xrelay:{jobs}:"

// 哈希字段
const (
	fID          = "id"
	fType        = "type"
	fTenant      = "tenant"
	fPayload     = "payload"
	fPriority    = "priority"
	fSeq         = "seq"
	fStatus      = "status"
	fAttempts    = "attempts"
	fMaxAttempts = "max_attempts"
	fIdem        = "idem"
	fIdemRef     = "idem_ref"
	fResult      = "result"
	fError       = "error"
	fExhausted   = "exhausted"
	fCancel      = "cancel"
	fLeaseOwner  = "lease_owner"
	fLeaseUntil  = "lease_until"
	fRunAt       = "run_at"
	fCreatedAt   = "created_at"
	fUpdatedAt   = "updated_at"
	fFinishedAt  = "finished_at"
)

// waiting 有序集合的分值：priority*1e12 + seq，保证先按优先级再按入队顺序
var addScript = redis.NewScript(`
if ARGV[1] ~= '' then
  local existing = redis.call('HGET', KEYS[1], ARGV[1])
  if existing then
    return {0, existing}
  end
end
local seq = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[3], 'seq', seq, unpack(ARGV, 6))
if ARGV[3] == 'delayed' then
  redis.call('ZADD', KEYS[5], ARGV[5], ARGV[2])
else
  redis.call('ZADD', KEYS[4], tonumber(ARGV[4]) * 1e12 + seq, ARGV[2])
end
if ARGV[1] ~= '' then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
end
return {1, ARGV[2]}
`)

var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[2], 'LIMIT', 0, 100)
for _, id in ipairs(due) do
  local jk = ARGV[1] .. 'job:' .. id
  redis.call('ZREM', KEYS[2], id)
  local f = redis.call('HMGET', jk, 'priority', 'seq')
  if f[1] then
    redis.call('HSET', jk, 'status', 'waiting', 'updated_at', ARGV[2])
    redis.call('ZADD', KEYS[1], tonumber(f[1]) * 1e12 + tonumber(f[2]), id)
  end
end
local top = redis.call('ZRANGE', KEYS[1], 0, 0)
if #top == 0 then
  return false
end
local id = top[1]
local jk = ARGV[1] .. 'job:' .. id
redis.call('ZREM', KEYS[1], id)
redis.call('HINCRBY', jk, 'attempts', 1)
redis.call('HSET', jk, 'status', 'active', 'lease_owner', ARGV[4], 'lease_until', ARGV[3], 'updated_at', ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], id)
return id
`)

var heartbeatScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'status', 'lease_owner', 'cancel')
if f[1] ~= 'active' or f[2] ~= ARGV[2] then
  return -1
end
redis.call('HSET', KEYS[1], 'lease_until', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
if f[3] == '1' then
  return 1
end
return 0
`)

var completeScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'status', 'lease_owner')
if f[1] ~= 'active' or f[2] ~= ARGV[2] then
  return -1
end
redis.call('HSET', KEYS[1], 'status', 'completed', 'result', ARGV[4], 'error', '',
  'lease_owner', '', 'lease_until', 0, 'updated_at', ARGV[3], 'finished_at', ARGV[3])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

var failScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'status', 'lease_owner')
if f[1] ~= 'active' or f[2] ~= ARGV[2] then
  return -1
end
redis.call('ZREM', KEYS[2], ARGV[1])
if ARGV[5] == '' then
  redis.call('HSET', KEYS[1], 'status', 'failed', 'error', ARGV[4], 'exhausted', ARGV[6],
    'lease_owner', '', 'lease_until', 0, 'updated_at', ARGV[3], 'finished_at', ARGV[3])
  redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
else
  redis.call('HSET', KEYS[1], 'status', 'delayed', 'error', ARGV[4], 'run_at', ARGV[5],
    'lease_owner', '', 'lease_until', 0, 'updated_at', ARGV[3])
  redis.call('ZADD', KEYS[4], ARGV[5], ARGV[1])
end
return 1
`)

// 返回 -1 不存在，0 已删除，1 已标记，2 不可取消
var cancelScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'status', 'idem_ref')
if not f[1] then
  return -1
end
if f[1] == 'waiting' or f[1] == 'delayed' then
  redis.call('ZREM', KEYS[2], ARGV[1])
  redis.call('ZREM', KEYS[3], ARGV[1])
  redis.call('DEL', KEYS[1])
  if f[2] and f[2] ~= '' and redis.call('HGET', KEYS[4], f[2]) == ARGV[1] then
    redis.call('HDEL', KEYS[4], f[2])
  end
  return 0
end
if f[1] == 'active' then
  redis.call('HSET', KEYS[1], 'cancel', '1', 'updated_at', ARGV[2])
  return 1
end
return 2
`)

var reclaimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[2], 'LIMIT', 0, tonumber(ARGV[3]))
local requeued, failed = 0, 0
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local jk = ARGV[1] .. 'job:' .. id
  local f = redis.call('HMGET', jk, 'attempts', 'max_attempts', 'priority', 'seq')
  if f[1] then
    if tonumber(f[1]) >= tonumber(f[2]) then
      redis.call('HSET', jk, 'status', 'failed', 'error', ARGV[4], 'exhausted', '1',
        'lease_owner', '', 'lease_until', 0, 'updated_at', ARGV[2], 'finished_at', ARGV[2])
      redis.call('ZADD', KEYS[3], ARGV[2], id)
      failed = failed + 1
    else
      redis.call('HSET', jk, 'status', 'waiting', 'lease_owner', '', 'lease_until', 0, 'updated_at', ARGV[2])
      redis.call('ZADD', KEYS[2], tonumber(f[3]) * 1e12 + tonumber(f[4]), id)
      requeued = requeued + 1
    end
  end
end
return {requeued, failed}
`)

var purgeScript = redis.NewScript(`
local n = 0
local function purge(set, before)
  local ids = redis.call('ZRANGEBYSCORE', set, '-inf', '(' .. before, 'LIMIT', 0, tonumber(ARGV[4]))
  for _, id in ipairs(ids) do
    local jk = ARGV[1] .. 'job:' .. id
    local idem = redis.call('HGET', jk, 'idem_ref')
    if idem and idem ~= '' and redis.call('HGET', KEYS[3], idem) == id then
      redis.call('HDEL', KEYS[3], idem)
    end
    redis.call('DEL', jk)
    redis.call('ZREM', set, id)
    n = n + 1
  end
end
purge(KEYS[1], ARGV[2])
purge(KEYS[2], ARGV[3])
return n
`)

// RedisStore 基于 Redis 的共享存储，多个实例可同时领取任务
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	batch  int
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore prefix 为空时使用 DefaultRedisPrefix
func NewRedisStore(rdb redis.UniversalClient, prefix string) (*RedisStore, error) {
	if rdb == nil {
		return nil, ErrNilStore
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix, batch: 500}, nil
}

func (s *RedisStore) jobKey(id string) string { return s.prefix + "job:" + id }
func (s *RedisStore) key(name string) string  { return s.prefix + name }

func (s *RedisStore) Add(ctx context.Context, job *Job) (*Job, bool, error) {
	status := StatusWaiting
	if job.Status == StatusDelayed {
		status = StatusDelayed
	}
	args := []any{
		job.idemScope(), job.ID, string(status), job.Priority, ms(job.RunAt),
		fID, job.ID,
		fType, job.Type,
		fTenant, job.Tenant,
		fPayload, job.Payload,
		fPriority, job.Priority,
		fStatus, string(status),
		fAttempts, 0,
		fMaxAttempts, job.MaxAttempts,
		fIdem, job.IdempotencyKey,
		fIdemRef, job.idemScope(),
		fRunAt, ms(job.RunAt),
		fCreatedAt, ms(job.CreatedAt),
		fUpdatedAt, ms(job.UpdatedAt),
	}
	keys := []string{s.key("idem"), s.key("seq"), s.jobKey(job.ID), s.key("waiting"), s.key("delayed")}
	res, err := addScript.Run(ctx, s.rdb, keys, args...).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("xjob: redis add: %w", err)
	}
	if len(res) != 2 {
		return nil, false, fmt.Errorf("xjob: unexpected add reply length %d", len(res))
	}
	created, _ := res[0].(int64)
	id, _ := res[1].(string)
	stored, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return stored, created == 1, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	m, err := s.rdb.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("xjob: redis get: %w", err)
	}
	if len(m) == 0 {
		return nil, ErrJobNotFound
	}
	return decodeJob(m), nil
}

func (s *RedisStore) Claim(ctx context.Context, owner string, now time.Time, lease time.Duration) (*Job, error) {
	keys := []string{s.key("waiting"), s.key("delayed"), s.key("active")}
	id, err := claimScript.Run(ctx, s.rdb, keys, s.prefix, ms(now), ms(now.Add(lease)), owner).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("xjob: redis claim: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *RedisStore) Heartbeat(ctx context.Context, id, owner string, until time.Time) (bool, error) {
	n, err := heartbeatScript.Run(ctx, s.rdb, []string{s.jobKey(id), s.key("active")}, id, owner, ms(until)).Int64()
	if err != nil {
		return false, fmt.Errorf("xjob: redis heartbeat: %w", err)
	}
	if n < 0 {
		return false, ErrLeaseLost
	}
	return n == 1, nil
}

func (s *RedisStore) Complete(ctx context.Context, id, owner string, result []byte, now time.Time) error {
	keys := []string{s.jobKey(id), s.key("active"), s.key("completed")}
	n, err := completeScript.Run(ctx, s.rdb, keys, id, owner, ms(now), result).Int64()
	if err != nil {
		return fmt.Errorf("xjob: redis complete: %w", err)
	}
	if n < 0 {
		return ErrLeaseLost
	}
	return nil
}

func (s *RedisStore) Fail(ctx context.Context, id, owner string, p FailParams, now time.Time) error {
	retryAt := ""
	if p.RetryAt != nil {
		retryAt = strconv.FormatInt(ms(*p.RetryAt), 10)
	}
	keys := []string{s.jobKey(id), s.key("active"), s.key("failed"), s.key("delayed")}
	n, err := failScript.Run(ctx, s.rdb, keys, id, owner, ms(now), p.Message, retryAt, boolField(p.Exhausted)).Int64()
	if err != nil {
		return fmt.Errorf("xjob: redis fail: %w", err)
	}
	if n < 0 {
		return ErrLeaseLost
	}
	return nil
}

func (s *RedisStore) Cancel(ctx context.Context, id string, now time.Time) (CancelResult, error) {
	keys := []string{s.jobKey(id), s.key("waiting"), s.key("delayed"), s.key("idem")}
	n, err := cancelScript.Run(ctx, s.rdb, keys, id, ms(now)).Int64()
	if err != nil {
		return "", fmt.Errorf("xjob: redis cancel: %w", err)
	}
	switch n {
	case -1:
		return "", ErrJobNotFound
	case 0:
		return CancelRemoved, nil
	case 1:
		return CancelSignalled, nil
	default:
		return CancelNotCancellable, nil
	}
}

func (s *RedisStore) ReclaimStalled(ctx context.Context, now time.Time) (ReclaimResult, error) {
	keys := []string{s.key("active"), s.key("waiting"), s.key("failed")}
	res, err := reclaimScript.Run(ctx, s.rdb, keys, s.prefix, ms(now), s.batch, stalledMessage).Int64Slice()
	if err != nil {
		return ReclaimResult{}, fmt.Errorf("xjob: redis reclaim: %w", err)
	}
	if len(res) != 2 {
		return ReclaimResult{}, fmt.Errorf("xjob: unexpected reclaim reply length %d", len(res))
	}
	return ReclaimResult{Requeued: int(res[0]), Failed: int(res[1])}, nil
}

func (s *RedisStore) Purge(ctx context.Context, completedBefore, failedBefore time.Time) (int, error) {
	keys := []string{s.key("completed"), s.key("failed"), s.key("idem")}
	n, err := purgeScript.Run(ctx, s.rdb, keys, s.prefix, ms(completedBefore), ms(failedBefore), s.batch).Int()
	if err != nil {
		return 0, fmt.Errorf("xjob: redis purge: %w", err)
	}
	return n, nil
}

func (s *RedisStore) Counts(ctx context.Context) (Counts, error) {
	pipe := s.rdb.Pipeline()
	waiting := pipe.ZCard(ctx, s.key("waiting"))
	active := pipe.ZCard(ctx, s.key("active"))
	delayed := pipe.ZCard(ctx, s.key("delayed"))
	completed := pipe.ZCard(ctx, s.key("completed"))
	failed := pipe.ZCard(ctx, s.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("xjob: redis counts: %w", err)
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Close 客户端由调用方管理
func (s *RedisStore) Close() error { return nil }

func decodeJob(m map[string]string) *Job {
	j := &Job{
		ID:              m[fID],
		Type:            m[fType],
		Tenant:          m[fTenant],
		Status:          Status(m[fStatus]),
		IdempotencyKey:  m[fIdem],
		Error:           m[fError],
		Exhausted:       m[fExhausted] == "1",
		CancelRequested: m[fCancel] == "1",
		LeaseOwner:      m[fLeaseOwner],
		LeaseUntil:      fromMS(atoi(m[fLeaseUntil])),
		RunAt:           fromMS(atoi(m[fRunAt])),
		CreatedAt:       fromMS(atoi(m[fCreatedAt])),
		UpdatedAt:       fromMS(atoi(m[fUpdatedAt])),
		FinishedAt:      fromMS(atoi(m[fFinishedAt])),
		Priority:        int(atoi(m[fPriority])),
		Seq:             atoi(m[fSeq]),
		AttemptsMade:    int(atoi(m[fAttempts])),
		MaxAttempts:     int(atoi(m[fMaxAttempts])),
	}
	if v := m[fPayload]; v != "" {
		j.Payload = []byte(v)
	}
	if v := m[fResult]; v != "" {
		j.Result = []byte(v)
	}
	return j
}

func atoi(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// ms 零值时间编码为 0
func ms(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMS(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
