// Package worker implements the run-request consumption loop.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/uplens/uplens/internal/core"
	"github.com/uplens/uplens/internal/runner"
)

// Worker consumes run requests and executes the crawl pipeline.
type Worker struct {
	queue  core.Queue
	tasks  core.TaskStore
	runner *runner.Runner
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue core.Queue, tasks core.TaskStore, run *runner.Runner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		tasks:  tasks,
		runner: run,
		logger: logger,
	}
}

// Run blocks, consuming run requests until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run request", zap.String("task_id", req.TaskID))
		w.process(ctx, req)
	}
}

// process loads the task and runs it. A request for a missing or disabled
// task is dropped: the task changed between dispatch and pickup.
func (w *Worker) process(ctx context.Context, req core.RunRequest) {
	task, err := w.tasks.GetTask(ctx, req.TaskID)
	if err != nil {
		w.logger.Warn("skipping run for unknown task",
			zap.String("task_id", req.TaskID), zap.Error(err))
		return
	}
	if task.Status != core.TaskEnabled && req.Trigger == core.TriggerSchedule {
		w.logger.Info("skipping run for disabled task", zap.String("task_id", req.TaskID))
		return
	}
	if _, err := w.runner.Run(ctx, &task, req.Trigger); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.logger.Error("run execution failed",
			zap.String("task_id", req.TaskID), zap.Error(err))
	}
}
