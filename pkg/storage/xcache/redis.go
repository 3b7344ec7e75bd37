package xcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix Redis 键前缀
const DefaultRedisPrefix = "xrelay:cache:"

const (
	fieldValue    = "v"
	fieldMeta     = "meta"
	fieldCachedAt = "cached_at"
	fieldTTL      = "ttl"
	fieldHits     = "hits"
)

// 命中计数与续期在一个脚本内完成
var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
local ttl = tonumber(redis.call('HGET', KEYS[1], 'ttl'))
redis.call('HINCRBY', KEYS[1], 'hits', 1)
redis.call('PEXPIRE', KEYS[1], ttl)
return redis.call('HMGET', KEYS[1], 'v', 'meta', 'cached_at', 'ttl', 'hits')
`)

// RedisStore 基于 Redis 的共享缓存存储，过期由 Redis PEXPIRE 负责
type RedisStore struct {
	rdb       redis.UniversalClient
	prefix    string
	scanCount int64
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
	return &RedisStore{rdb: rdb, prefix: prefix, scanCount: 500}, nil
}

func (s *RedisStore) Touch(ctx context.Context, key string, now time.Time) (*Entry, error) {
	vals, err := touchScript.Run(ctx, s.rdb, []string{s.prefix + key}).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("xcache: touch: %w", err)
	}
	if len(vals) != 5 {
		return nil, fmt.Errorf("xcache: unexpected touch reply length %d", len(vals))
	}
	str := func(i int) string {
		s, _ := vals[i].(string)
		return s
	}

	e := &Entry{Key: key, Value: []byte(str(0))}
	if m := str(1); m != "" {
		if err := json.Unmarshal([]byte(m), &e.Meta); err != nil {
			return nil, fmt.Errorf("xcache: decode meta: %w", err)
		}
	}
	if ms, err := strconv.ParseInt(str(2), 10, 64); err == nil {
		e.CachedAt = time.UnixMilli(ms)
	}
	ttl, _ := strconv.ParseInt(str(3), 10, 64)
	e.TTL = time.Duration(ttl) * time.Millisecond
	e.HitCount, _ = strconv.ParseInt(str(4), 10, 64)
	e.ExpiresAt = now.Add(e.TTL)
	return e, nil
}

func (s *RedisStore) Set(ctx context.Context, e *Entry) error {
	meta, err := json.Marshal(e.Meta)
	if err != nil {
		return fmt.Errorf("xcache: encode meta: %w", err)
	}
	ttl := e.ExpiresAt.Sub(e.CachedAt)
	if ttl <= 0 {
		ttl = e.TTL
	}
	k := s.prefix + e.Key
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, k)
	pipe.HSet(ctx, k,
		fieldValue, e.Value,
		fieldMeta, meta,
		fieldCachedAt, e.CachedAt.UnixMilli(),
		fieldTTL, e.TTL.Milliseconds(),
		fieldHits, e.HitCount,
	)
	pipe.PExpire(ctx, k, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xcache: set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Del(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("xcache: delete: %w", err)
	}
	return n > 0, nil
}

// scan 遍历前缀下的全部键。集群模式下需要对每个主节点调用，这里只处理单节点与哨兵。
func (s *RedisStore) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, s.prefix+"*", s.scanCount).Result()
		if err != nil {
			return fmt.Errorf("xcache: scan: %w", err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (s *RedisStore) Flush(ctx context.Context) (int, error) {
	total := 0
	err := s.scan(ctx, func(keys []string) error {
		n, err := s.rdb.Del(ctx, keys...).Result()
		total += int(n)
		return err
	})
	return total, err
}

func (s *RedisStore) Stats(ctx context.Context) (StoreStats, error) {
	var st StoreStats
	err := s.scan(ctx, func(keys []string) error {
		pipe := s.rdb.Pipeline()
		cmds := make([]*redis.IntCmd, len(keys))
		for i, k := range keys {
			cmds[i] = pipe.HStrLen(ctx, k, fieldValue)
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		for _, c := range cmds {
			st.Entries++
			st.Bytes += c.Val()
		}
		return nil
	})
	return st, err
}

// Close 客户端由调用方管理
func (s *RedisStore) Close() error { return nil }
