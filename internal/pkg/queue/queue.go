package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Job 表示一个可执行的异步任务（通常是一次通知投递）。
type Job func(ctx context.Context) error

// Queue 内存任务队列与固定 worker 池，用于异步投递验证码通知。
type Queue struct {
	logger  *slog.Logger
	workers int
	jobs    chan Job

	wg     sync.WaitGroup
	closed atomic.Bool

	enqueued  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// Stats 队列统计信息快照。
type Stats struct {
	Enqueued  int64
	Processed int64
	Failed    int64
	Dropped   int64
	Panics    int64
}

// NewQueue 创建任务队列。workers 和 capacity 最小为 1。
func NewQueue(logger *slog.Logger, workers int, capacity int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		logger:  logger,
		workers: workers,
		jobs:    make(chan Job, capacity),
	}
}

// Start 启动 worker 池，直到 ctx 被取消或调用 Shutdown。
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			if q.logger != nil {
				q.logger.Debug("worker stopped", slog.Int("worker_id", id))
			}
			return

		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			if job != nil {
				q.run(ctx, job, id)
			}
		}
	}
}

// run 执行单个任务，带 panic 恢复。
func (q *Queue) run(ctx context.Context, job Job, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			if q.logger != nil {
				q.logger.Error("job panic recovered",
					slog.Int("worker_id", workerID),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
			}
		}
	}()

	err := job(ctx)
	q.processed.Add(1)

	if err != nil {
		q.failed.Add(1)
		if q.logger != nil {
			q.logger.Warn("job failed",
				slog.Int("worker_id", workerID),
				slog.String("error", err.Error()))
		}
	}
}

// Enqueue 将任务放入队列，若队列已满或已关闭则返回 false（非阻塞）。
func (q *Queue) Enqueue(job Job) bool {
	if job == nil {
		return false
	}
	if q.closed.Load() {
		if q.logger != nil {
			q.logger.Warn("queue is closed, reject job")
		}
		return false
	}

	select {
	case q.jobs <- job:
		q.enqueued.Add(1)
		return true
	default:
		q.dropped.Add(1)
		if q.logger != nil {
			q.logger.Warn("queue full, drop job",
				slog.Int("capacity", cap(q.jobs)),
				slog.Int("pending", len(q.jobs)))
		}
		return false
	}
}

// EnqueueBlocking 阻塞式入队，直到成功或 ctx 被取消。
func (q *Queue) EnqueueBlocking(ctx context.Context, job Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if q.closed.Load() {
		return fmt.Errorf("queue is closed")
	}

	select {
	case q.jobs <- job:
		q.enqueued.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown 优雅关闭：拒绝新任务，等待在途任务处理完成。
func (q *Queue) Shutdown() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.jobs)
		q.wg.Wait()
		if q.logger != nil {
			q.logger.Info("queue shutdown completed")
		}
	}
}

// Stats 返回统计信息快照。
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
		Panics:    q.panics.Load(),
	}
}

// Len 返回当前待处理的任务数量。
func (q *Queue) Len() int {
	return len(q.jobs)
}
