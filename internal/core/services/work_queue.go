package services

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/reviewd/backend/internal/infrastructure/logger"
	"github.com/reviewd/backend/internal/infrastructure/metrics"
)

type WorkQueueConfig struct {
	Workers int
	Size    int
	Run     func(ctx context.Context, taskID string) error
	// OnPanic is called after a worker recovered from a panic in Run.
	OnPanic func(taskID string, cause error)
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// WorkQueue hands task ids to a fixed pool of workers. Tasks left in the
// buffer at shutdown stay pending in the store and are picked up again by
// the next process.
type WorkQueue struct {
	cfg  WorkQueueConfig
	jobs chan string

	mu      sync.RWMutex
	started bool
	stopped bool
	quit    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewWorkQueue(cfg WorkQueueConfig) *WorkQueue {
	cfg.Workers = max(cfg.Workers, 1)
	cfg.Size = max(cfg.Size, 1)
	return &WorkQueue{
		cfg:  cfg,
		jobs: make(chan string, cfg.Size),
		quit: make(chan struct{}),
	}
}

func (q *WorkQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(runCtx, i)
	}
	q.cfg.Logger.Infow("work_queue_started", "workers", q.cfg.Workers, "size", q.cfg.Size)
}

// Enqueue never blocks. It returns ErrQueueFull when the buffer is full.
func (q *WorkQueue) Enqueue(taskID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return ErrQueueStopped
	}
	select {
	case q.jobs <- taskID:
		q.cfg.Metrics.SetQueueDepth(len(q.jobs))
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *WorkQueue) Depth() int {
	return len(q.jobs)
}

// Stop lets in-flight tasks finish until ctx is done, then interrupts them.
func (q *WorkQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.quit)
	cancel := q.cancel
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if cancel != nil {
			cancel()
		}
		q.cfg.Logger.Infow("work_queue_stopped", "abandoned", len(q.jobs))
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
		q.cfg.Logger.Warnw("work_queue_stop_forced", "abandoned", len(q.jobs))
		return ctx.Err()
	}
}

func (q *WorkQueue) worker(ctx context.Context, n int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.quit:
			return
		case <-ctx.Done():
			return
		case id := <-q.jobs:
			q.cfg.Metrics.SetQueueDepth(len(q.jobs))
			q.process(ctx, n, id)
		}
	}
}

func (q *WorkQueue) process(ctx context.Context, n int, taskID string) {
	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("panic: %v", r)
			q.cfg.Logger.Errorw("work_queue_panic",
				"worker", n,
				"task_id", taskID,
				"error", cause,
				"stack", string(debug.Stack()),
			)
			if q.cfg.OnPanic != nil {
				q.cfg.OnPanic(taskID, cause)
			}
		}
	}()
	if err := q.cfg.Run(ctx, taskID); err != nil {
		q.cfg.Logger.Debugw("work_queue_task_done", "worker", n, "task_id", taskID, "error", err)
	}
}
