package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Arhum2/MarketPlace-Automater/internal/gateway"
	"github.com/Arhum2/MarketPlace-Automater/internal/model"
	"github.com/Arhum2/MarketPlace-Automater/internal/pkg/metrics"
	"github.com/Arhum2/MarketPlace-Automater/internal/pkg/notify"
	"github.com/Arhum2/MarketPlace-Automater/internal/pkg/workpool"
	"github.com/Arhum2/MarketPlace-Automater/internal/poller"
	"github.com/Arhum2/MarketPlace-Automater/internal/store"
)

var (
	// ErrDuplicateSubmission 同一 URL 在去重窗口内重复提交。
	ErrDuplicateSubmission = errors.New("url already submitted recently")
	// ErrWorkflowQueueFull 后台工作流队列已满，无法跟踪新任务。
	ErrWorkflowQueueFull = errors.New("workflow queue full")
	// ErrUnknownProduct 本地缓存中不存在该商品。
	ErrUnknownProduct = errors.New("product not found")
)

// Backend 是工作流依赖的远端商品生命周期操作子集。
type Backend interface {
	ListProducts(ctx context.Context) ([]model.Product, error)
	GetProduct(ctx context.Context, id string) (model.Product, error)
	UpdateFields(ctx context.Context, id string, patch gateway.FieldPatch) (model.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	DeleteImage(ctx context.Context, productID, imageID string) error
	PostToMarketplace(ctx context.Context, p model.Product) error
	TitleWarning(title *string) string
}

// JobPoller 提交并追踪抓取任务直到终态。
type JobPoller interface {
	Submit(ctx context.Context, rawURL string) (poller.Handle, error)
	AwaitCompletion(ctx context.Context, h poller.Handle, cfg poller.Config) (poller.Outcome, error)
}

// ResultAssembler 将完成的任务组装为富商品记录。
type ResultAssembler interface {
	Assemble(ctx context.Context, jobID, productID string) (model.EnrichedProduct, error)
}

// SubmissionGuard URL 提交去重。实现可以为 nil 包装（总是放行）。
type SubmissionGuard interface {
	Claim(ctx context.Context, url string) (bool, error)
	Release(ctx context.Context, url string) error
}

// allowAll 去重关闭时的空实现。
type allowAll struct{}

func (allowAll) Claim(context.Context, string) (bool, error) { return true, nil }
func (allowAll) Release(context.Context, string) error       { return nil }

// Progress 某个抓取任务面向界面的进度快照。
type Progress struct {
	JobID     string          `json:"job_id"`
	ProductID string          `json:"product_id"`
	Percent   float64         `json:"percent"`
	Status    model.JobStatus `json:"status"`
	Error     string          `json:"error,omitempty"`
}

// Submission 提交成功后的任务标识。
type Submission struct {
	JobID     string `json:"job_id"`
	ProductID string `json:"product_id"`
}

// Options 工作流引擎配置。
type Options struct {
	PollInterval    time.Duration
	MaxPollAttempts int
	PoolSize        int
	QueueCapacity   int
}

// Engine 把提交、轮询、组装、入库串成完整的采集工作流，
// 并承载商品生命周期操作（编辑、发布、删除）。
type Engine struct {
	backend  Backend
	poller   JobPoller
	asm      ResultAssembler
	store    *store.Store
	guard    SubmissionGuard
	notifier notify.Notifier
	pool     *workpool.Pool
	logger   *slog.Logger
	opts     Options

	mu       sync.Mutex
	progress map[string]Progress
}

// New 创建工作流引擎。guard 或 notifier 为 nil 时使用空实现。
func New(backend Backend, jp JobPoller, asm ResultAssembler, st *store.Store,
	guard SubmissionGuard, notifier notify.Notifier, opts Options, logger *slog.Logger) *Engine {

	if guard == nil {
		guard = allowAll{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxPollAttempts <= 0 {
		opts.MaxPollAttempts = 120
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 8
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 64
	}

	return &Engine{
		backend:  backend,
		poller:   jp,
		asm:      asm,
		store:    st,
		guard:    guard,
		notifier: notifier,
		pool:     workpool.New(logger, opts.PoolSize, opts.QueueCapacity),
		logger:   logger,
		opts:     opts,
		progress: make(map[string]Progress),
	}
}

// Start 启动后台 worker 池。
func (e *Engine) Start(ctx context.Context) {
	metrics.InitMetrics(e.opts.PoolSize)
	e.pool.Start(ctx)
}

// Shutdown 优雅关闭，等待进行中的工作流收尾。
func (e *Engine) Shutdown(timeout time.Duration) error {
	return e.pool.ShutdownWithTimeout(timeout)
}

// Store 暴露本地商品缓存给只读调用方。
func (e *Engine) Store() *store.Store {
	return e.store
}

// SubmitScrape 提交商品 URL 并启动后台跟踪工作流。
//
// 去重窗口内的重复 URL 返回 ErrDuplicateSubmission；
// 后台队列满返回 ErrWorkflowQueueFull（远端任务此时已提交，仅不再跟踪）。
func (e *Engine) SubmitScrape(ctx context.Context, rawURL string) (Submission, error) {
	ok, err := e.guard.Claim(ctx, rawURL)
	if err != nil {
		// 去重后端故障不阻断提交，降级为放行
		e.logger.Warn("dedup check failed, allowing submission",
			slog.String("url", rawURL),
			slog.String("error", err.Error()))
	} else if !ok {
		metrics.SubmissionsTotal.WithLabelValues("duplicate").Inc()
		e.logger.Info("duplicate submission skipped", slog.String("url", rawURL))
		return Submission{}, ErrDuplicateSubmission
	}

	h, err := e.poller.Submit(ctx, rawURL)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("failed").Inc()
		if rerr := e.guard.Release(ctx, rawURL); rerr != nil {
			e.logger.Warn("dedup release failed", slog.String("error", rerr.Error()))
		}
		return Submission{}, err
	}

	e.setProgress(Progress{
		JobID:     h.JobID,
		ProductID: h.ProductID,
		Percent:   0,
		Status:    model.JobQueued,
	})

	if !e.pool.Submit("job-"+h.JobID, e.watch(h, rawURL)) {
		metrics.SubmissionsTotal.WithLabelValues("failed").Inc()
		e.clearProgress(h.JobID)
		e.logger.Error("workflow queue full, job submitted but not tracked",
			slog.String("job_id", h.JobID))
		return Submission{}, ErrWorkflowQueueFull
	}

	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	e.logger.Info("scrape submitted",
		slog.String("job_id", h.JobID),
		slog.String("product_id", h.ProductID),
		slog.String("url", rawURL))

	return Submission{JobID: h.JobID, ProductID: h.ProductID}, nil
}

// watch 构造一个后台任务：等待终态、组装结果、写入缓存、发出通知。
func (e *Engine) watch(h poller.Handle, rawURL string) workpool.Task {
	return func(ctx context.Context) error {
		metrics.ActiveWorkflows.Inc()
		defer metrics.ActiveWorkflows.Dec()

		cfg := poller.Config{
			Interval:    e.opts.PollInterval,
			MaxAttempts: e.opts.MaxPollAttempts,
			OnProgress: func(percent float64, status model.JobStatus) {
				e.setProgress(Progress{
					JobID:     h.JobID,
					ProductID: h.ProductID,
					Percent:   percent,
					Status:    status,
				})
			},
		}

		out, err := e.poller.AwaitCompletion(ctx, h, cfg)
		if err != nil {
			e.failProgress(h, out.Status, err)
			e.notify(ctx, notify.Event{
				Kind:   notify.EventScrapeFailed,
				URL:    rawURL,
				Detail: err.Error(),
			})
			return fmt.Errorf("await job %s: %w", h.JobID, err)
		}

		ep, err := e.asm.Assemble(ctx, h.JobID, h.ProductID)
		if err != nil {
			e.failProgress(h, out.Status, err)
			e.notify(ctx, notify.Event{
				Kind:   notify.EventScrapeFailed,
				URL:    rawURL,
				Detail: err.Error(),
			})
			return fmt.Errorf("assemble job %s: %w", h.JobID, err)
		}

		e.store.UpsertEnriched(ep)
		e.setProgress(Progress{
			JobID:     h.JobID,
			ProductID: h.ProductID,
			Percent:   100,
			Status:    model.JobCompleted,
		})

		e.logger.Info("scrape workflow completed",
			slog.String("job_id", h.JobID),
			slog.String("product_id", ep.ID))

		e.notify(ctx, notify.Event{
			Kind:    notify.EventScrapeCompleted,
			URL:     rawURL,
			Product: &ep.Product,
		})
		return nil
	}
}

// Progress 返回任务的当前进度快照。
func (e *Engine) Progress(jobID string) (Progress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.progress[jobID]
	return p, ok
}

func (e *Engine) setProgress(p Progress) {
	e.mu.Lock()
	defer e.mu.Unlock()
	// 进度只进不退
	if prev, ok := e.progress[p.JobID]; ok && p.Percent < prev.Percent {
		p.Percent = prev.Percent
	}
	e.progress[p.JobID] = p
}

func (e *Engine) failProgress(h poller.Handle, status model.JobStatus, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.progress[h.JobID]
	p.JobID = h.JobID
	p.ProductID = h.ProductID
	if status != "" {
		p.Status = status
	} else {
		p.Status = model.JobFailed
	}
	p.Error = err.Error()
	e.progress[h.JobID] = p
}

func (e *Engine) clearProgress(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.progress, jobID)
}

// RefreshProducts 从后端拉取商品列表并合并入本地缓存。
// 已有的图片集合保留，商品字段以服务端为准。
func (e *Engine) RefreshProducts(ctx context.Context) ([]model.Product, error) {
	products, err := e.backend.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		e.store.Upsert(p)
	}
	e.logger.Debug("products refreshed", slog.Int("count", len(products)))
	return e.store.List(store.FilterAll), nil
}

// UpdateProduct 提交字段编辑并同步缓存。返回服务端确认后的记录
// 以及标题超长告警文本（为空表示无告警）。
func (e *Engine) UpdateProduct(ctx context.Context, id string, patch gateway.FieldPatch) (model.Product, string, error) {
	warning := e.backend.TitleWarning(patch.Title)

	updated, err := e.backend.UpdateFields(ctx, id, patch)
	if err != nil {
		return model.Product{}, warning, err
	}
	e.store.Upsert(updated)
	return updated, warning, nil
}

// PostProduct 把商品发布到市场。
//
// 本地缺字段校验失败返回 gateway.ValidationError；
// 同一商品已有进行中的状态变更返回 store.ErrMutationInFlight。
// 发布期间商品乐观地显示为 posted，远端失败时回滚原状态。
func (e *Engine) PostProduct(ctx context.Context, id string) (model.Product, error) {
	p, ok := e.store.Get(id)
	if !ok {
		return model.Product{}, ErrUnknownProduct
	}
	if !p.CanPost() {
		return model.Product{}, &gateway.ValidationError{
			Reason:  "missing required fields",
			Missing: p.MissingFields,
		}
	}

	txn, err := e.store.BeginStatus(id, model.StatusPosted)
	if err != nil {
		return model.Product{}, err
	}

	if err := e.backend.PostToMarketplace(ctx, p); err != nil {
		txn.Rollback()
		e.logger.Warn("post to marketplace failed",
			slog.String("product_id", id),
			slog.String("error", err.Error()))
		return model.Product{}, err
	}

	// 以服务端记录收敛；拿不到时保留乐观状态
	if auth, gerr := e.backend.GetProduct(ctx, id); gerr == nil {
		txn.Commit(&auth)
	} else {
		e.logger.Warn("fetch posted product failed, keeping optimistic state",
			slog.String("product_id", id),
			slog.String("error", gerr.Error()))
		txn.Commit(nil)
	}

	posted, _ := e.store.Get(id)
	e.logger.Info("product posted", slog.String("product_id", id))
	e.notify(ctx, notify.Event{
		Kind:    notify.EventProductPosted,
		Product: &posted,
	})
	return posted, nil
}

// DeleteProduct 删除远端商品并同步移除本地缓存（含聚焦状态）。
func (e *Engine) DeleteProduct(ctx context.Context, id string) error {
	if err := e.backend.DeleteProduct(ctx, id); err != nil {
		return err
	}
	e.store.Remove(id)
	e.logger.Info("product deleted", slog.String("product_id", id))
	return nil
}

// RemoveImage 删除远端图片并更新本地图集与选中下标。
func (e *Engine) RemoveImage(ctx context.Context, productID, imageID string) error {
	if err := e.backend.DeleteImage(ctx, productID, imageID); err != nil {
		return err
	}
	if err := e.store.RemoveImage(productID, imageID); err != nil {
		// 远端已删，本地缺失只记日志
		e.logger.Warn("local image removal failed",
			slog.String("product_id", productID),
			slog.String("image_id", imageID),
			slog.String("error", err.Error()))
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, ev notify.Event) {
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.logger.Warn("notification failed",
			slog.String("event", string(ev.Kind)),
			slog.String("error", err.Error()))
	}
}
