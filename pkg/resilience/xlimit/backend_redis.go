package xlimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix Redis 键前缀
const DefaultRedisPrefix = "xrelay:throttle:"

// PTTL < 0 表示键不存在或没有过期时间，均视为新窗口
var takeScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  if limit < 1 then
    redis.call('SET', KEYS[1], 0, 'PX', window)
    return {0, 0, window}
  end
  redis.call('SET', KEYS[1], 1, 'PX', window)
  return {1, 1, window}
end
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur >= limit then
  return {0, cur, ttl}
end
cur = redis.call('INCR', KEYS[1])
return {1, cur, ttl}
`)

// RedisBackend 基于 Redis 的固定窗口计数，多实例共享配额。
//
// 窗口起点取决于 Redis 服务端时间，传入的 now 仅用于换算 ResetAt。
type RedisBackend struct {
	rdb    redis.UniversalClient
	prefix string
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend 创建 Redis 后端，prefix 为空时使用 DefaultRedisPrefix
func NewRedisBackend(rdb redis.UniversalClient, prefix string) (*RedisBackend, error) {
	if rdb == nil {
		return nil, ErrNilBackend
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}, nil
}

func (b *RedisBackend) Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error) {
	res, err := takeScript.Run(ctx, b.rdb, []string{b.prefix + key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("xlimit: unexpected script reply %v", res)
	}
	return Decision{
		Allowed: res[0] == 1,
		Count:   int(res[1]),
		ResetAt: now.Add(time.Duration(res[2]) * time.Millisecond),
	}, nil
}

func (b *RedisBackend) Peek(ctx context.Context, key string, now time.Time) (Decision, error) {
	pipe := b.rdb.Pipeline()
	get := pipe.Get(ctx, b.prefix+key)
	ttl := pipe.PTTL(ctx, b.prefix+key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	n, err := get.Int()
	if errors.Is(err, redis.Nil) || ttl.Val() <= 0 {
		return Decision{}, nil
	}
	if err != nil {
		return Decision{}, err
	}
	return Decision{Count: n, ResetAt: now.Add(ttl.Val())}, nil
}

func (b *RedisBackend) Reset(ctx context.Context, key string) error {
	if err := b.rdb.Del(ctx, b.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	return nil
}

// Sweep Redis 依赖 PX 自动过期
func (b *RedisBackend) Sweep(context.Context, time.Time) (int, error) { return 0, nil }

func (b *RedisBackend) Type() string { return "redis" }

// Close 客户端由调用方管理
func (b *RedisBackend) Close() error { return nil }
