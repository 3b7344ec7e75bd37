//go:build !windows

// xrelayctl 是 xrelayd 管理通道的命令行客户端。
//
// 用法:
//
//	xrelayctl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-s, --socket   管理 Socket 路径 (默认: /var/run/xrelay.sock)
//	-t, --timeout  单条命令超时 (默认: 30s)
//
// 退出码:
//
//	0: 成功
//	1: 命令执行失败或服务不可达
//	2: 参数错误
//
// 示例:
//
//	xrelayctl metrics
//	xrelayctl breakers --reset
//	xrelayctl cache flush
//	xrelayctl job 01J9Z3...
//	xrelayctl loglevel debug
//	xrelayctl repl
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xrelay/pkg/debug/xadmin"
)

const defaultTimeout = 30 * time.Second

// 版本信息通过 -ldflags "-X main.Version=..." 注入
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func createApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "xrelayctl",
		Usage:     "xrelayd 管理通道客户端",
		Version:   fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "socket",
				Aliases: []string{"s"},
				Usage:   "管理 Socket 路径",
				Value:   xadmin.DefaultSocketPath,
				Sources: cli.EnvVars("XRELAY_ADMIN_SOCKET"),
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "单条命令超时",
				Value:   defaultTimeout,
			},
		},
		Commands: createCommands(stdout, stderr),
		// 退出码统一由 run 映射
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(stderr, err)
			}
		},
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	err := createApp(stdout, stderr).Run(ctx, args)
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(stderr, "参数错误: %v\n", usageErr)
		return 2
	}
	if isCLIUsageError(err) {
		return 2
	}
	fmt.Fprintf(stderr, "错误: %v\n", err)
	return 1
}
