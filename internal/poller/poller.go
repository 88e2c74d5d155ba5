package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Arhum2/MarketPlace-Automater/internal/model"
	"github.com/Arhum2/MarketPlace-Automater/internal/pkg/clock"
	"github.com/Arhum2/MarketPlace-Automater/internal/pkg/metrics"
)

// ErrPollInFlight 表示该任务已有活跃的轮询循环。
var ErrPollInFlight = errors.New("poll loop already active for this job")

// SubmissionError 表示抓取任务创建失败。
type SubmissionError struct {
	URL   string
	Cause error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit scrape for %s: %v", e.URL, e.Cause)
}

func (e *SubmissionError) Unwrap() error { return e.Cause }

// ScrapeFailedError 表示服务端明确报告抓取失败。
type ScrapeFailedError struct {
	JobID string
}

func (e *ScrapeFailedError) Error() string {
	return fmt.Sprintf("scrape job %s failed", e.JobID)
}

// PollTimeoutError 表示轮询次数预算耗尽时任务仍未进入终态。
type PollTimeoutError struct {
	JobID    string
	Attempts int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("scrape job %s still not terminal after %d polls", e.JobID, e.Attempts)
}

// JobAPI 是轮询器依赖的远程任务接口，由 gateway 实现。
type JobAPI interface {
	SubmitScrape(ctx context.Context, url string) (jobID, productID string, err error)
	Progress(ctx context.Context, jobID string) (model.JobStatus, error)
}

// Handle 标识一个已提交的抓取任务。
type Handle struct {
	JobID       string
	ProductID   string
	SubmittedAt time.Time
}

// Config 控制一次轮询循环的节奏与预算。
type Config struct {
	Interval    time.Duration // 轮询间隔，默认 1s
	MaxAttempts int           // 轮询次数预算，默认 120
	// OnProgress 在每次轮询后上报进度估计（单调不减，终态前封顶 90，
	// 观察到 completed 后跳到 100）。
	OnProgress func(percent float64, status model.JobStatus)
}

// Outcome 是轮询循环的终态结果。
type Outcome struct {
	Status   model.JobStatus
	Attempts int
}

// Poller 驱动 submit→poll→terminate 状态机。
//
// 每个任务句柄最多一个活跃轮询循环；任务进入终态后结果被固化，
// 重复等待直接返回已记录的结果，不再发出任何轮询请求。
// 放弃等待（取消 ctx）只停止后续轮询，不会取消远端任务。
type Poller struct {
	api    JobAPI
	clk    clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	active   map[string]bool
	terminal map[string]Outcome
}

// New 创建轮询器。
func New(api JobAPI, clk clock.Clock, logger *slog.Logger) *Poller {
	if clk == nil {
		clk = clock.New()
	}
	return &Poller{
		api:      api,
		clk:      clk,
		logger:   logger,
		active:   make(map[string]bool),
		terminal: make(map[string]Outcome),
	}
}

// Submit 提交一个抓取任务。
func (p *Poller) Submit(ctx context.Context, rawURL string) (Handle, error) {
	jobID, productID, err := p.api.SubmitScrape(ctx, rawURL)
	if err != nil {
		return Handle{}, &SubmissionError{URL: rawURL, Cause: err}
	}

	h := Handle{JobID: jobID, ProductID: productID, SubmittedAt: p.clk.Now()}
	p.logger.Info("scrape job submitted",
		slog.String("job_id", jobID),
		slog.String("product_id", productID),
		slog.String("url", rawURL))
	return h, nil
}

// AwaitCompletion 轮询任务直到终态或预算耗尽。
//
// 返回值:
//
//	Outcome: 终态与耗费的轮询次数
//	error: completed 时为 nil；failed → *ScrapeFailedError；
//	       预算耗尽 → *PollTimeoutError；调用方放弃 → ctx.Err()
func (p *Poller) AwaitCompletion(ctx context.Context, h Handle, cfg Config) (Outcome, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 120
	}

	p.mu.Lock()
	if out, ok := p.terminal[h.JobID]; ok {
		p.mu.Unlock()
		return out, p.errorFor(out, h)
	}
	if p.active[h.JobID] {
		p.mu.Unlock()
		return Outcome{}, ErrPollInFlight
	}
	p.active[h.JobID] = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.active, h.JobID)
		p.mu.Unlock()
	}()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		// 先等待再发第一次轮询，与提交请求之间留出一个节拍
		select {
		case <-ctx.Done():
			p.logger.Info("poll loop abandoned",
				slog.String("job_id", h.JobID),
				slog.Int("attempts", attempt-1))
			return Outcome{}, ctx.Err()
		case <-p.clk.After(cfg.Interval):
		}

		metrics.PollAttemptsTotal.Inc()
		status, err := p.api.Progress(ctx, h.JobID)
		if err != nil {
			// 单次轮询失败视为瞬时故障：消耗一次预算后继续
			p.logger.Warn("progress poll failed",
				slog.String("job_id", h.JobID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			p.report(cfg, attempt, model.JobRunning)
			continue
		}

		switch status {
		case model.JobCompleted:
			if cfg.OnProgress != nil {
				cfg.OnProgress(100, model.JobCompleted)
			}
			out := Outcome{Status: model.JobCompleted, Attempts: attempt}
			p.recordTerminal(h.JobID, out)
			p.logger.Info("scrape job completed",
				slog.String("job_id", h.JobID),
				slog.Int("attempts", attempt))
			return out, nil

		case model.JobFailed:
			p.report(cfg, attempt, status)
			out := Outcome{Status: model.JobFailed, Attempts: attempt}
			p.recordTerminal(h.JobID, out)
			p.logger.Warn("scrape job failed",
				slog.String("job_id", h.JobID),
				slog.Int("attempts", attempt))
			return out, &ScrapeFailedError{JobID: h.JobID}

		default:
			p.report(cfg, attempt, status)
		}
	}

	out := Outcome{Status: model.JobTimedOut, Attempts: cfg.MaxAttempts}
	p.recordTerminal(h.JobID, out)
	p.logger.Warn("scrape job timed out",
		slog.String("job_id", h.JobID),
		slog.Int("attempts", cfg.MaxAttempts))
	return out, &PollTimeoutError{JobID: h.JobID, Attempts: cfg.MaxAttempts}
}

// report 上报派生进度：attempt/30 折算百分比，终态前封顶 90。
func (p *Poller) report(cfg Config, attempt int, status model.JobStatus) {
	if cfg.OnProgress == nil {
		return
	}
	pct := float64(attempt) / 30 * 100
	if pct > 90 {
		pct = 90
	}
	cfg.OnProgress(pct, status)
}

func (p *Poller) recordTerminal(jobID string, out Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// 终态只记录一次，后来者不得覆盖
	if _, ok := p.terminal[jobID]; !ok {
		p.terminal[jobID] = out
		metrics.JobOutcomeTotal.WithLabelValues(string(out.Status)).Inc()
	}
}

func (p *Poller) errorFor(out Outcome, h Handle) error {
	switch out.Status {
	case model.JobFailed:
		return &ScrapeFailedError{JobID: h.JobID}
	case model.JobTimedOut:
		return &PollTimeoutError{JobID: h.JobID, Attempts: out.Attempts}
	default:
		return nil
	}
}
