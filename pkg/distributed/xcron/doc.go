// Package xcron 周期性维护任务调度。
//
// 基于 robfig/cron/v3，为每个任务附加：
//   - 可选的分布式锁（xdlock.Factory），多副本部署时同一时刻只有一个实例执行
//   - 单次执行超时
//   - 执行统计（执行/成功/失败/跳过次数、最近耗时与错误）
//
// 任务队列的停滞回收与过期清理通过本包调度：
//
//	s := xcron.New(xcron.WithLocker(factory), xcron.WithSeconds())
//	_, err := s.AddFunc("@every 5s", q.ReclaimStalled, xcron.WithName("reclaim"))
//	s.Start()
//	defer s.Stop()
//
// 持锁期间按锁 TTL 的 1/3 续期，续期失败会取消任务上下文，
// 避免锁过期后与其他实例并发执行。
package xcron
