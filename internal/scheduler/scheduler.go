// Package scheduler turns task schedules into queued run requests.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uplens/uplens/internal/core"
	"github.com/uplens/uplens/internal/metrics"
)

// DefaultInterval is the tick cadence. One tick per minute pairs with
// minute-resolution schedule times so a due task fires exactly once.
const DefaultInterval = time.Minute

// lockTTL keeps the dispatch lock alive well past the schedule slot so a
// replica restarting later the same day cannot re-dispatch it.
const lockTTL = 48 * time.Hour

// Scheduler scans enabled tasks every tick and enqueues the ones whose
// daily schedule matches the current minute. A shared lock keyed by
// (task, date, time) guarantees at most one dispatch per slot across
// replicas.
type Scheduler struct {
	tasks    core.TaskStore
	queue    core.Queue
	locks    core.LockStore
	clock    core.Clock
	logger   *zap.Logger
	interval time.Duration
}

// New constructs a Scheduler. A non-positive interval falls back to
// DefaultInterval.
func New(tasks core.TaskStore, queue core.Queue, locks core.LockStore, clock core.Clock, logger *zap.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		tasks:    tasks,
		queue:    queue,
		locks:    locks,
		clock:    clock,
		logger:   logger,
		interval: interval,
	}
}

// Run ticks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx, s.clock.Now())
		}
	}
}

// tick dispatches every enabled task due at the given instant.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	tasks, err := s.tasks.ListEnabledTasks(ctx)
	if err != nil {
		s.logger.Error("list enabled tasks failed", zap.Error(err))
		return
	}
	slot := now.Format("15:04")
	date := now.Format("2006-01-02")
	for _, task := range tasks {
		if task.Schedule.Type != core.DefaultScheduleType || task.Schedule.Time != slot {
			continue
		}
		key := fmt.Sprintf("task:%s:%s:%s", task.ID, date, slot)
		acquired, err := s.locks.AcquireOnce(ctx, key, lockTTL)
		if err != nil {
			s.logger.Error("acquire dispatch lock failed",
				zap.String("task_id", task.ID), zap.String("key", key), zap.Error(err))
			continue
		}
		if !acquired {
			metrics.ObserveLockContended()
			s.logger.Debug("dispatch slot already claimed",
				zap.String("task_id", task.ID), zap.String("key", key))
			continue
		}
		req := core.RunRequest{
			TaskID:    task.ID,
			Trigger:   core.TriggerSchedule,
			Submitted: now.Unix(),
		}
		if err := s.queue.Enqueue(ctx, req); err != nil {
			// The lock is already burned for this slot. Deliberately not
			// retried: the next slot picks the task up again.
			s.logger.Error("enqueue run request failed",
				zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		metrics.ObserveDispatch()
		s.logger.Info("task dispatched",
			zap.String("task_id", task.ID), zap.String("slot", slot))
	}
}
