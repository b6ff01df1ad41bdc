package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Task is one round of periodic background work
type Task interface {
	Run(ctx context.Context) error
}

// WorkerConfig controls how often a task runs
type WorkerConfig struct {
	Interval time.Duration
	// Timeout bounds a single run; zero means the interval
	Timeout time.Duration
	// MaxBackoff caps the delay after consecutive failures; zero means 8x the interval
	MaxBackoff time.Duration
}

// Worker runs a task every interval. After a failure the next run is delayed
// exponentially, and the first success returns it to the normal interval.
type Worker struct {
	task     Task
	cfg      WorkerConfig
	logger   *zap.Logger
	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWorker creates a new Worker instance
func NewWorker(task Task, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 8 * cfg.Interval
	}
	return &Worker{
		task:     task,
		cfg:      cfg,
		logger:   logger.Named("worker"),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

func (w *Worker) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.Interval
	b.MaxInterval = w.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Start runs the loop until ctx is done or Stop is called. It blocks.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.doneChan)

	failures := w.newBackOff()
	failed := 0
	timer := time.NewTimer(w.cfg.Interval)
	defer timer.Stop()

	w.logger.Info("worker started", zap.Duration("interval", w.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped: context cancelled")
			return
		case <-w.stopChan:
			w.logger.Info("worker stopped: stop signal received")
			return
		case <-timer.C:
		}

		next := w.cfg.Interval
		if err := w.runOnce(ctx); err != nil {
			failed++
			next = failures.NextBackOff()
			w.logger.Error("task failed",
				zap.Int("consecutive_failures", failed),
				zap.Duration("retry_in", next),
				zap.Error(err))
		} else if failed > 0 {
			w.logger.Info("task recovered", zap.Int("after_failures", failed))
			failed = 0
			failures.Reset()
		}
		timer.Reset(next)
	}
}

func (w *Worker) runOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()
	return w.task.Run(ctx)
}

// Stop ends the loop and waits for an in-flight run. Safe to call twice.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.doneChan
	w.logger.Info("worker shutdown complete")
}
