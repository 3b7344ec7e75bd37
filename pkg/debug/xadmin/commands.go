package xadmin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/omeyang/xrelay/pkg/business/xrelay"
	"github.com/omeyang/xrelay/pkg/mq/xjob"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
	"github.com/omeyang/xrelay/pkg/resilience/xbreaker"
	"github.com/omeyang/xrelay/pkg/resilience/xlimit"
	"github.com/omeyang/xrelay/pkg/storage/xcache"
)

// Backend 内置命令依赖的管理能力，*xrelay.Relay 实现了该接口
type Backend interface {
	Metrics(ctx context.Context) (*xrelay.Metrics, error)
	Breakers() []xbreaker.Snapshot
	ResetBreakers() int
	CacheStats(ctx context.Context) (xcache.Stats, error)
	FlushCache(ctx context.Context) (int, error)
	QueueStats(ctx context.Context) (xjob.Stats, error)
	Throttle() (map[string]xlimit.Tier, map[string]int64)
	Status(ctx context.Context, id string) (*xrelay.StatusReply, error)
	Cancel(ctx context.Context, id string) (xjob.CancelResult, error)
}

var _ Backend = (*xrelay.Relay)(nil)

// RegisterBuiltins 注册内置命令。leveler 为 nil 时不注册 loglevel。
func RegisterBuiltins(reg *CommandRegistry, b Backend, leveler xlog.Leveler) {
	reg.Register(NewCommandFunc("help", "list commands", func(context.Context, []string) (string, error) {
		var sb strings.Builder
		for _, c := range reg.Commands() {
			fmt.Fprintf(&sb, "%-10s %s\n", c.Name(), c.Help())
		}
		return sb.String(), nil
	}))

	reg.Register(NewCommandFunc("metrics", "queue, breaker, cache and throttle snapshot",
		func(ctx context.Context, _ []string) (string, error) {
			m, err := b.Metrics(ctx)
			if err != nil {
				return "", err
			}
			return toJSON(m)
		}))

	reg.Register(NewCommandFunc("breakers", "breakers [reset]", func(_ context.Context, args []string) (string, error) {
		switch sub(args) {
		case "":
			return toJSON(b.Breakers())
		case "reset":
			return toJSON(map[string]int{"reset": b.ResetBreakers()})
		default:
			return "", fmt.Errorf("%w: breakers [reset]", ErrUsage)
		}
	}))

	reg.Register(NewCommandFunc("cache", "cache [stats|flush]", func(ctx context.Context, args []string) (string, error) {
		switch sub(args) {
		case "", "stats":
			st, err := b.CacheStats(ctx)
			if err != nil {
				return "", err
			}
			return toJSON(st)
		case "flush":
			n, err := b.FlushCache(ctx)
			if err != nil {
				return "", err
			}
			return toJSON(map[string]int{"flushed": n})
		default:
			return "", fmt.Errorf("%w: cache [stats|flush]", ErrUsage)
		}
	}))

	reg.Register(NewCommandFunc("queue", "job queue counters", func(ctx context.Context, _ []string) (string, error) {
		st, err := b.QueueStats(ctx)
		if err != nil {
			return "", err
		}
		return toJSON(st)
	}))

	reg.Register(NewCommandFunc("throttle", "tiers and per-tenant violations", func(context.Context, []string) (string, error) {
		tiers, violations := b.Throttle()
		return toJSON(map[string]any{"tiers": tiers, "violations": violations})
	}))

	reg.Register(NewCommandFunc("job", "job <id>", func(ctx context.Context, args []string) (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("%w: job <id>", ErrUsage)
		}
		st, err := b.Status(ctx, args[0])
		if err != nil {
			return "", err
		}
		return toJSON(st)
	}))

	reg.Register(NewCommandFunc("cancel", "cancel <id>", func(ctx context.Context, args []string) (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("%w: cancel <id>", ErrUsage)
		}
		res, err := b.Cancel(ctx, args[0])
		if err != nil {
			return "", err
		}
		return toJSON(map[string]string{"job_id": args[0], "result": string(res)})
	}))

	if leveler == nil {
		return
	}
	reg.Register(NewCommandFunc("loglevel", "loglevel [debug|info|warn|error]", func(_ context.Context, args []string) (string, error) {
		if len(args) > 0 {
			lvl, err := xlog.ParseLevel(args[0])
			if err != nil {
				return "", fmt.Errorf("%w: %w", ErrUsage, err)
			}
			leveler.SetLevel(lvl)
		}
		return leveler.GetLevel().String(), nil
	}))
}

func sub(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.ToLower(args[0])
}

func toJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
