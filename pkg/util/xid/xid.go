// Package xid 基于 sonyflake 生成全局唯一、按时间递增的 ID。
//
// 任务 ID 使用 NewString 生成的 base36 字符串，长度固定短于 UUID，
// 且字典序与生成时间基本一致，便于在 Redis/SQLite 中排查。
package xid

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"time"

	"github.com/sony/sonyflake/v2"
)

// EnvMachineID 显式指定机器 ID（0-65535）
const EnvMachineID = "XRELAY_MACHINE_ID"

var (
	ErrInvalidConfig        = errors.New("xid: invalid config")
	ErrOverTimeLimit        = errors.New("xid: time component overflow")
	ErrClockBackwardTimeout = errors.New("xid: clock backward wait timeout")
)

// Option 配置 Generator
type Option func(*Generator)

// WithMachineID 覆盖机器 ID 来源
func WithMachineID(fn func() (uint16, error)) Option {
	return func(g *Generator) {
		if fn != nil {
			g.machineID = fn
		}
	}
}

// WithMaxWait 时钟回拨时的最长等待时间，默认 500ms
func WithMaxWait(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.maxWait = d
		}
	}
}

// Generator ID 生成器，并发安全
type Generator struct {
	sf        *sonyflake.Sonyflake
	machineID func() (uint16, error)
	maxWait   time.Duration
}

// NewGenerator 创建生成器
func NewGenerator(opts ...Option) (*Generator, error) {
	g := &Generator{machineID: DefaultMachineID, maxWait: 500 * time.Millisecond}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	sf, err := sonyflake.New(sonyflake.Settings{
		MachineID: func() (int, error) {
			id, err := g.machineID()
			return int(id), err
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	g.sf = sf
	return g, nil
}

// Next 生成下一个 ID。时钟回拨时在 maxWait 内以 10ms 间隔重试。
func (g *Generator) Next(ctx context.Context) (int64, error) {
	deadline := time.Now().Add(g.maxWait)
	for {
		id, err := g.sf.NextID()
		if err == nil {
			return id, nil
		}
		if errors.Is(err, sonyflake.ErrOverTimeLimit) {
			return 0, fmt.Errorf("%w: %w", ErrOverTimeLimit, err)
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("%w: %w", ErrClockBackwardTimeout, err)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// NewString 生成 base36 字符串 ID
func (g *Generator) NewString(ctx context.Context) (string, error) {
	id, err := g.Next(ctx)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 36), nil
}

// DefaultMachineID 机器 ID 来源：环境变量 XRELAY_MACHINE_ID，否则主机名的 FNV 哈希
func DefaultMachineID() (uint16, error) {
	if s := os.Getenv(EnvMachineID); s != "" {
		id, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("xid: invalid %s %q: %w", EnvMachineID, s, err)
		}
		return uint16(id), nil
	}
	host, err := os.Hostname()
	if err != nil {
		return 0, fmt.Errorf("xid: hostname: %w", err)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(host))
	return uint16(h.Sum32()), nil
}
