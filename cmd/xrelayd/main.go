// xrelayd 是 xrelay 守护进程：限流、缓存、多供应商回退与异步任务队列。
//
// 用法:
//
//	xrelayd [--config xrelay.yaml] [--log-level debug]
//	xrelayd check --config xrelay.yaml
//
// 未指定 --config 时使用全部默认值（内存后端、echo 供应商）。
// 运行期间修改配置文件会热更新限流层级与日志级别。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xrelay/internal/app"
	"github.com/omeyang/xrelay/pkg/config/xconf"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
)

var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

func main() {
	if err := newCommand(os.Stdout).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "xrelayd: %v\n", err)
		os.Exit(1)
	}
}

func newCommand(stdout io.Writer) *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "配置文件路径（yaml 或 json）",
			Sources: cli.EnvVars("XRELAY_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "覆盖配置中的日志级别",
			Sources: cli.EnvVars("XRELAY_LOG_LEVEL"),
		},
	}
	return &cli.Command{
		Name:    "xrelayd",
		Usage:   "LLM 请求中继守护进程",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Writer:  stdout,
		Flags:   flags,
		Action:  serve,
		Commands: []*cli.Command{
			{
				Name:   "check",
				Usage:  "校验配置并输出生效值",
				Flags:  flags,
				Action: check(stdout),
			},
		},
	}
}

func loadConfig(cmd *cli.Command) (*app.Config, xconf.Config, error) {
	var (
		cfg *app.Config
		src xconf.Config
		err error
	)
	if path := cmd.String("config"); path != "" {
		cfg, src, err = app.Load(path)
	} else {
		src, err = xconf.NewFromBytes(nil, xconf.FormatYAML)
		if err == nil {
			cfg, err = app.Decode(src)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	return cfg, src, nil
}

func serve(ctx context.Context, cmd *cli.Command) (err error) {
	cfg, src, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, closeLog, err := app.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeLog(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	a, err := app.Build(ctx, cfg, src, logger)
	if err != nil {
		logger.Error(ctx, "startup failed", xlog.Err(err))
		return err
	}
	logger.Info(ctx, "xrelayd starting", xlog.Component("xrelayd"), xlog.Operation(Version))
	if err := a.Run(ctx); err != nil {
		logger.Error(ctx, "xrelayd stopped with error", xlog.Err(err))
		return err
	}
	logger.Info(ctx, "xrelayd stopped", xlog.Component("xrelayd"))
	return nil
}

func check(stdout io.Writer) cli.ActionFunc {
	return func(_ context.Context, cmd *cli.Command) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}
}
