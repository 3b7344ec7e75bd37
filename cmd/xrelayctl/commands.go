//go:build !windows

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xrelay/pkg/debug/xadmin"
)

// exitError 输出已完成，只需设置退出码
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

// executor 由 *xadmin.Client 实现，测试中替换
type executor interface {
	Do(ctx context.Context, command string, args ...string) (*xadmin.Response, error)
}

var newExecutor = func(socket string, timeout time.Duration) executor {
	return xadmin.NewClient(socket, timeout)
}

func clientFrom(cmd *cli.Command) executor {
	return newExecutor(cmd.String("socket"), cmd.Duration("timeout"))
}

func createCommands(stdout, stderr io.Writer) []*cli.Command {
	return []*cli.Command{
		shortcut(stdout, stderr, "metrics", "队列、熔断器、缓存与限流快照", 0),
		{
			Name:  "breakers",
			Usage: "查看熔断器状态",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "reset", Usage: "全部重置为 closed"},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				var args []string
				if cmd.Bool("reset") {
					args = []string{"reset"}
				}
				return exec(ctx, clientFrom(cmd), stdout, stderr, "breakers", args)
			},
		},
		{
			Name:      "cache",
			Usage:     "缓存统计或清空",
			ArgsUsage: "[stats|flush]",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				sub := cmd.Args().First()
				switch sub {
				case "":
					sub = "stats"
				case "stats", "flush":
				default:
					return &usageError{msg: fmt.Sprintf("未知的 cache 子命令 %q", sub)}
				}
				return exec(ctx, clientFrom(cmd), stdout, stderr, "cache", []string{sub})
			},
		},
		shortcut(stdout, stderr, "queue", "任务队列计数", 0),
		shortcut(stdout, stderr, "throttle", "限流层级与违规计数", 0),
		shortcut(stdout, stderr, "job", "查询任务状态", 1),
		shortcut(stdout, stderr, "cancel", "取消任务", 1),
		{
			Name:      "loglevel",
			Usage:     "查看或设置日志级别",
			ArgsUsage: "[debug|info|warn|error]",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return exec(ctx, clientFrom(cmd), stdout, stderr, "loglevel", cmd.Args().Slice())
			},
		},
		{
			Name:      "exec",
			Usage:     "执行任意管理命令",
			ArgsUsage: "<command> [args...]",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				args := cmd.Args().Slice()
				if len(args) == 0 {
					return &usageError{msg: "exec 需要指定命令"}
				}
				return exec(ctx, clientFrom(cmd), stdout, stderr, args[0], args[1:])
			},
		},
		{
			Name:    "repl",
			Aliases: []string{"i"},
			Usage:   "交互模式",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return runREPL(ctx, clientFrom(cmd), os.Stdin, stdout, stderr)
			},
		},
	}
}

// shortcut 创建等价于 exec <name> 的命令，nargs 为必需的位置参数个数
func shortcut(stdout, stderr io.Writer, name, usage string, nargs int) *cli.Command {
	c := &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args().Slice()
			if len(args) != nargs {
				return &usageError{msg: fmt.Sprintf("%s 需要 %d 个参数", name, nargs)}
			}
			return exec(ctx, clientFrom(cmd), stdout, stderr, name, args)
		},
	}
	if nargs == 1 {
		c.ArgsUsage = "<id>"
	}
	return c
}

func exec(ctx context.Context, c executor, stdout, stderr io.Writer, command string, args []string) error {
	resp, err := c.Do(ctx, command, args...)
	if err != nil {
		return err
	}
	if !resp.Success {
		if resp.Code != "" {
			fmt.Fprintf(stderr, "错误 [%s]: %s\n", resp.Code, resp.Error)
		} else {
			fmt.Fprintf(stderr, "错误: %s\n", resp.Error)
		}
		return &exitError{code: 1}
	}
	if resp.Output != "" {
		fmt.Fprintln(stdout, resp.Output)
	}
	if resp.Truncated {
		fmt.Fprintf(stderr, "[警告: 输出已截断，原始大小: %d 字节]\n", resp.OriginalSize)
	}
	return nil
}

// isCLIUsageError 识别 urfave/cli 产生的参数解析错误
func isCLIUsageError(err error) bool {
	msg := err.Error()
	for _, p := range []string{
		"flag provided but not defined",
		"flag needs an argument",
		"invalid value",
		"No help topic for",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// setupSignalHandler 第一次信号取消 ctx，第二次直接退出
func setupSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		<-sigCh
		signal.Stop(sigCh)
		os.Exit(130)
	}()
}
