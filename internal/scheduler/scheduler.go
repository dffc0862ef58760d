// Package scheduler runs independently cancellable periodic tasks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"stepbystep_bot/internal/logging"
)

// Task is one periodic job. Run is called, then the task waits Interval
// before the next call. Errors are logged and never stop the loop.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner owns a set of tasks that share nothing but their dependencies.
type Runner struct {
	tasks  []Task
	logger *logrus.Entry
}

// NewRunner validates tasks and builds a runner.
func NewRunner(logger *logrus.Entry, tasks ...Task) (*Runner, error) {
	if logger == nil {
		logger = logging.Logger()
	}

	for _, task := range tasks {
		if task.Name == "" {
			return nil, errors.New("task name is required")
		}
		if task.Run == nil {
			return nil, fmt.Errorf("task %s: run function is required", task.Name)
		}
		if task.Interval <= 0 {
			return nil, fmt.Errorf("task %s: interval must be greater than 0", task.Name)
		}
	}

	return &Runner{tasks: tasks, logger: logger}, nil
}

// Run starts every task in its own goroutine and blocks until ctx is
// cancelled and all tasks have returned.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil {
		return errors.New("runner is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, task := range r.tasks {
		task := task
		group.Go(func() error {
			r.loop(groupCtx, task)
			return nil
		})
	}

	return group.Wait()
}

func (r *Runner) loop(ctx context.Context, task Task) {
	logger := r.logger.WithField("task", task.Name)
	logger.WithField("interval", task.Interval.String()).Debug("task started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("task stopped")
			return
		case <-timer.C:
		}

		r.runOnce(ctx, task, logger)
		timer.Reset(task.Interval)
	}
}

func (r *Runner) runOnce(ctx context.Context, task Task, logger *logrus.Entry) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.WithFields(logging.Fields{
				"event": "task_panicked",
				"panic": fmt.Sprint(recovered),
			}).Error("scheduled task panicked")
		}
	}()

	if err := task.Run(ctx); err != nil && ctx.Err() == nil {
		logger.WithFields(logging.Fields{
			"event": "task_failed",
			"error": err,
		}).Warn("scheduled task failed")
	}
}
