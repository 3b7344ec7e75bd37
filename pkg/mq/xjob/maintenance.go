package xjob

import (
	"context"
	"fmt"

	"github.com/omeyang/xrelay/pkg/distributed/xcron"
)

// startMaintenance 调度停滞回收与保留期清理。配置了锁时只有持锁实例执行。
func (q *Queue) startMaintenance() (*xcron.Scheduler, error) {
	opts := []xcron.SchedulerOption{xcron.WithSeconds(), xcron.WithLogger(q.logger)}
	if q.locker != nil {
		opts = append(opts, xcron.WithLocker(q.locker))
	}
	s := xcron.New(opts...)

	if _, err := s.AddFunc(q.reclaimSpec, func(ctx context.Context) error {
		_, err := q.ReclaimStalled(ctx)
		return err
	}, xcron.WithName("xjob-reclaim"), xcron.WithTimeout(q.lease), xcron.WithImmediate()); err != nil {
		return nil, fmt.Errorf("xjob: schedule reclaim: %w", err)
	}
	if _, err := s.AddFunc(q.purgeSpec, func(ctx context.Context) error {
		_, err := q.Purge(ctx)
		return err
	}, xcron.WithName("xjob-purge"), xcron.WithTimeout(q.lease)); err != nil {
		s.Stop()
		return nil, fmt.Errorf("xjob: schedule purge: %w", err)
	}
	s.Start()
	return s, nil
}
