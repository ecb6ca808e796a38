package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/merchant-settlement/internal/observability"
	"go.uber.org/zap"
)

// Task is one unit of periodic work.
type Task func(ctx context.Context) error

// Worker runs a task on a fixed interval. Runs never overlap: the next tick
// is only taken after the previous run returns.
type Worker struct {
	name     string
	task     Task
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a worker with a default interval of ten seconds.
func New(name string, task Task) *Worker {
	return &Worker{
		name:     name,
		task:     task,
		interval: 10 * time.Second,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// WithInterval sets the run interval.
func (w *Worker) WithInterval(interval time.Duration) *Worker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks, running the task once immediately and then on every tick,
// until Stop is called or ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)
	zap.L().Info("worker starting", zap.String("worker", w.name), zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("worker context canceled", zap.String("worker", w.name))
			return
		case <-w.stopCh:
			zap.L().Info("worker stop signal received", zap.String("worker", w.name))
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop signals the loop to exit after the current run.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Done is closed once Start has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *Worker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce runs the task immediately.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	return w.task(ctx)
}

func (w *Worker) String() string {
	return fmt.Sprintf("Worker(%s, interval=%v)", w.name, w.interval)
}

func (w *Worker) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			observability.IncrementWorkerRun(w.name, "panic")
			zap.L().Error("worker run panicked", zap.String("worker", w.name), zap.Any("panic", r))
		}
	}()

	if err := w.task(ctx); err != nil {
		observability.IncrementWorkerRun(w.name, "failed")
		zap.L().Error("worker run failed", zap.String("worker", w.name), zap.Error(err))
		return
	}
	observability.IncrementWorkerRun(w.name, "success")
}
