package workpool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Task 表示一个由 worker 池异步执行的具名任务。
type Task func(ctx context.Context) error

// FailureHandler 任务失败时的回调函数。
type FailureHandler func(name string, err error)

// Pool 固定大小的 worker 池，用于在后台执行采集工作流。
// 池满时拒绝而非阻塞提交方，保证入口永不被后台任务拖住。
type Pool struct {
	logger    *slog.Logger
	workers   int
	tasks     chan namedTask
	onFailure FailureHandler

	// 优雅关闭
	wg     sync.WaitGroup
	closed atomic.Bool

	// 指标统计
	stats poolStats
}

type namedTask struct {
	name string
	run  Task
}

// poolStats 池内部统计（atomic 类型）。
type poolStats struct {
	Submitted atomic.Int64 // 总提交任务数
	Completed atomic.Int64 // 总执行完成数
	Succeeded atomic.Int64 // 成功任务数
	Failed    atomic.Int64 // 失败任务数
	Rejected  atomic.Int64 // 拒绝任务数（池满或已关闭）
	Panics    atomic.Int64 // Panic 次数
}

// Stats 池统计信息快照（普通值类型，可安全拷贝）。
type Stats struct {
	Submitted int64
	Completed int64
	Succeeded int64
	Failed    int64
	Rejected  int64
	Panics    int64
}

// New 创建一个 worker 池。workers 和 capacity 至少为 1。
func New(logger *slog.Logger, workers int, capacity int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Pool{
		logger:  logger,
		workers: workers,
		tasks:   make(chan namedTask, capacity),
	}
}

// SetFailureHandler 设置任务失败回调。
func (p *Pool) SetFailureHandler(h FailureHandler) {
	p.onFailure = h
}

// Start 启动 worker 池，直到 ctx 被取消或调用 Shutdown。
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("worker stopped", slog.Int("worker_id", id))
			return

		case task, ok := <-p.tasks:
			if !ok {
				p.logger.Debug("worker exit on closed channel", slog.Int("worker_id", id))
				return
			}
			if task.run != nil {
				p.execute(ctx, task, id)
			}
		}
	}
}

// execute 执行单个任务，带 panic 恢复和失败回调。
func (p *Pool) execute(ctx context.Context, task namedTask, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			p.stats.Panics.Add(1)
			p.logger.Error("task panic recovered",
				slog.Int("worker_id", workerID),
				slog.String("task", task.name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	err := task.run(ctx)
	p.stats.Completed.Add(1)

	if err != nil {
		p.stats.Failed.Add(1)
		p.logger.Warn("task failed",
			slog.Int("worker_id", workerID),
			slog.String("task", task.name),
			slog.String("error", err.Error()))

		if p.onFailure != nil {
			p.onFailure(task.name, err)
		}
	} else {
		p.stats.Succeeded.Add(1)
	}
}

// Submit 将任务放入池中，若池已满或已关闭则返回 false（非阻塞）。
func (p *Pool) Submit(name string, task Task) bool {
	if task == nil {
		return false
	}

	if p.closed.Load() {
		p.logger.Warn("pool is closed, reject task", slog.String("task", name))
		return false
	}

	select {
	case p.tasks <- namedTask{name: name, run: task}:
		p.stats.Submitted.Add(1)
		return true
	default:
		p.stats.Rejected.Add(1)
		p.logger.Warn("pool full, reject task",
			slog.String("task", name),
			slog.Int("capacity", cap(p.tasks)),
			slog.Int("pending", len(p.tasks)))
		return false
	}
}

// SubmitWait 阻塞式提交，直到成功或 ctx 被取消。
func (p *Pool) SubmitWait(ctx context.Context, name string, task Task) error {
	if task == nil {
		return fmt.Errorf("task is nil")
	}

	if p.closed.Load() {
		return fmt.Errorf("pool is closed")
	}

	select {
	case p.tasks <- namedTask{name: name, run: task}:
		p.stats.Submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown 优雅关闭池：
//  1. 标记为已关闭（拒绝新任务）
//  2. 关闭任务通道
//  3. 等待所有 worker 完成当前任务
func (p *Pool) Shutdown() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.tasks)
		p.logger.Info("pool shutdown initiated, waiting for workers to finish")
		p.wg.Wait()
		p.logger.Info("pool shutdown completed")
	}
}

// ShutdownWithTimeout 带超时的优雅关闭。
func (p *Pool) ShutdownWithTimeout(timeout time.Duration) error {
	if !p.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("pool already closed")
	}

	close(p.tasks)
	p.logger.Info("pool shutdown initiated with timeout",
		slog.String("timeout", timeout.String()))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("pool shutdown completed")
		return nil
	case <-time.After(timeout):
		p.logger.Error("pool shutdown timeout")
		return fmt.Errorf("shutdown timeout after %s", timeout)
	}
}

// Stats 获取统计信息快照。
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.stats.Submitted.Load(),
		Completed: p.stats.Completed.Load(),
		Succeeded: p.stats.Succeeded.Load(),
		Failed:    p.stats.Failed.Load(),
		Rejected:  p.stats.Rejected.Load(),
		Panics:    p.stats.Panics.Load(),
	}
}

// Pending 返回当前等待执行的任务数量。
func (p *Pool) Pending() int {
	return len(p.tasks)
}

// IsClosed 返回池是否已关闭。
func (p *Pool) IsClosed() bool {
	return p.closed.Load()
}
