// Package xrun 管理进程内多个长期运行服务的生命周期。
//
// 基于 errgroup：任一服务返回错误即取消其他服务，Wait 返回第一个错误。
// Run 额外监听 SIGINT/SIGTERM/SIGHUP/SIGQUIT，收到信号后以 *SignalError
// 作为取消原因优雅退出。
//
//	err := xrun.Run(ctx, []xrun.Option{xrun.WithLogger(logger)},
//		xrun.Service{Name: "queue", Run: queue.Run},
//		xrun.Service{Name: "metrics", Run: xrun.HTTPServer(srv, 5*time.Second)},
//		xrun.Service{Name: "sweeper", Run: xrun.Ticker(time.Minute, false, sweep)},
//	)
//	if errors.Is(err, xrun.ErrSignal) { ... 正常退出 ... }
package xrun
