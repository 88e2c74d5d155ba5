package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Arhum2/MarketPlace-Automater/internal/model"
	"github.com/Arhum2/MarketPlace-Automater/internal/pkg/metrics"
)

// DefaultTitleWarnLimit 是发布标题的软校验阈值。
//
// 超过阈值只告警不拦截：权威截断发生在服务端发布时。
// 该值未经服务端确认，作为可配置策略存在。
const DefaultTitleWarnLimit = 99

// Gateway 是客户端访问远程抓取/商品 API 的唯一入口。
//
// 它把每个调用的结果归一化为成功值或错误分类：
// 非 2xx 响应（含服务端 detail 文本）统一映射为 *RemoteCallError，
// 客户端准入失败映射为 *ValidationError。
type Gateway struct {
	baseURL        string
	client         *http.Client
	logger         *slog.Logger
	titleWarnLimit int
}

// JobResult 是 GET /results_job/{id} 返回的任务结果句柄。
type JobResult struct {
	JobID     string `json:"job_id"`
	ProductID string `json:"product_id"`
	JobType   string `json:"job_type"`
	Status    string `json:"status"`
	Error     string `json:"error"`
}

// FieldPatch 是 PATCH /products/{id} 的请求体，nil 字段不更新。
type FieldPatch struct {
	Title       *string `json:"title,omitempty"`
	Price       *string `json:"price,omitempty"`
	Description *string `json:"description,omitempty"`
}

// New 创建网关。
//
// 参数:
//
//	baseURL: 远程 API 根地址（如 "http://localhost:8000/api"）
//	timeout: 单次请求超时
//	titleWarnLimit: 标题软校验阈值（<=0 使用默认值 99）
//	logger: 日志记录器
func New(baseURL string, timeout time.Duration, titleWarnLimit int, logger *slog.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if titleWarnLimit <= 0 {
		titleWarnLimit = DefaultTitleWarnLimit
	}
	return &Gateway{
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         &http.Client{Timeout: timeout},
		logger:         logger,
		titleWarnLimit: titleWarnLimit,
	}
}

// SubmitScrape 提交一个抓取任务，返回 job_id 与 product_id。
func (g *Gateway) SubmitScrape(ctx context.Context, rawURL string) (jobID, productID string, err error) {
	var resp struct {
		JobID     string `json:"job_id"`
		ProductID string `json:"product_id"`
	}
	q := url.Values{"url": []string{rawURL}}
	if err := g.do(ctx, http.MethodPost, "/scrape?"+q.Encode(), nil, &resp, "submit_scrape"); err != nil {
		return "", "", err
	}
	return resp.JobID, resp.ProductID, nil
}

// Progress 查询任务状态。
func (g *Gateway) Progress(ctx context.Context, jobID string) (model.JobStatus, error) {
	var resp struct {
		Progress string `json:"progress"`
	}
	if err := g.do(ctx, http.MethodGet, "/progress/"+url.PathEscape(jobID), nil, &resp, "progress"); err != nil {
		return "", err
	}
	return model.JobStatus(strings.ToLower(strings.TrimSpace(resp.Progress))), nil
}

// JobResult 获取任务结果句柄。
func (g *Gateway) JobResult(ctx context.Context, jobID string) (JobResult, error) {
	var resp struct {
		Result JobResult `json:"result"`
	}
	if err := g.do(ctx, http.MethodGet, "/results_job/"+url.PathEscape(jobID), nil, &resp, "job_result"); err != nil {
		return JobResult{}, err
	}
	return resp.Result, nil
}

// ListProducts 拉取全部商品（服务端顺序）。
func (g *Gateway) ListProducts(ctx context.Context) ([]model.Product, error) {
	var products []model.Product
	if err := g.do(ctx, http.MethodGet, "/products", nil, &products, "list_products"); err != nil {
		return nil, err
	}
	for i := range products {
		products[i].RecomputeMissingFields()
	}
	return products, nil
}

// GetProduct 按 id 拉取单个商品。
func (g *Gateway) GetProduct(ctx context.Context, id string) (model.Product, error) {
	var p model.Product
	if err := g.do(ctx, http.MethodGet, "/products/"+url.PathEscape(id), nil, &p, "get_product"); err != nil {
		return model.Product{}, err
	}
	p.RecomputeMissingFields()
	return p, nil
}

// GetImages 拉取商品图片列表，保持服务端返回顺序。
func (g *Gateway) GetImages(ctx context.Context, productID string) ([]model.ProductImage, error) {
	var images []model.ProductImage
	if err := g.do(ctx, http.MethodGet, "/products/"+url.PathEscape(productID)+"/images", nil, &images, "get_images"); err != nil {
		return nil, err
	}
	return images, nil
}

// UpdateFields 更新商品字段，返回服务端的权威记录。
//
// 标题超过软校验阈值时只记录告警，不阻止请求。
func (g *Gateway) UpdateFields(ctx context.Context, id string, patch FieldPatch) (model.Product, error) {
	if warn := g.TitleWarning(patch.Title); warn != "" {
		g.logger.Warn("title exceeds soft limit, server will truncate at posting time",
			slog.String("product_id", id),
			slog.String("warning", warn))
	}

	var p model.Product
	if err := g.do(ctx, http.MethodPatch, "/products/"+url.PathEscape(id), patch, &p, "update_fields"); err != nil {
		return model.Product{}, err
	}
	p.RecomputeMissingFields()
	return p, nil
}

// DeleteProduct 删除商品。
func (g *Gateway) DeleteProduct(ctx context.Context, id string) error {
	return g.do(ctx, http.MethodDelete, "/products/"+url.PathEscape(id), nil, nil, "delete_product")
}

// DeleteImage 删除商品的一张图片。
func (g *Gateway) DeleteImage(ctx context.Context, productID, imageID string) error {
	path := "/products/" + url.PathEscape(productID) + "/images/" + url.PathEscape(imageID)
	return g.do(ctx, http.MethodDelete, path, nil, nil, "delete_image")
}

// PostToMarketplace 发布商品到市场。
//
// 缺失字段时本地直接拒绝（ValidationError），不发起注定失败的请求；
// 这是对服务端不变量的客户端镜像。
func (g *Gateway) PostToMarketplace(ctx context.Context, p model.Product) error {
	if missing := model.DeriveMissingFields(p); len(missing) > 0 {
		return &ValidationError{Reason: "cannot post with missing fields", Missing: missing}
	}
	return g.do(ctx, http.MethodPost, "/products/"+url.PathEscape(p.ID)+"/post", nil, nil, "post_to_marketplace")
}

// TitleWarning 返回标题软校验的告警文本，标题在阈值内时返回空串。
func (g *Gateway) TitleWarning(title *string) string {
	if title == nil {
		return ""
	}
	if n := len([]rune(*title)); n > g.titleWarnLimit {
		return fmt.Sprintf("title is %d characters, marketplace limits titles to %d and will truncate when posting", n, g.titleWarnLimit)
	}
	return ""
}

// do 执行一次请求并把结果归一化。
//
// 任何非 2xx 响应或传输错误都返回 *RemoteCallError。
func (g *Gateway) do(ctx context.Context, method, path string, body interface{}, out interface{}, op string) error {
	start := time.Now()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &RemoteCallError{Op: op, Detail: fmt.Sprintf("encode request: %v", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return &RemoteCallError{Op: op, Detail: err.Error()}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		metrics.GatewayRequestDuration.WithLabelValues(op, "transport_error").Observe(time.Since(start).Seconds())
		return &RemoteCallError{Op: op, Detail: err.Error()}
	}
	defer resp.Body.Close()

	metrics.GatewayRequestDuration.WithLabelValues(op, fmt.Sprintf("%d", resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := readDetail(resp.Body)
		g.logger.Warn("remote call failed",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
			slog.String("detail", detail))
		return &RemoteCallError{Op: op, StatusCode: resp.StatusCode, Detail: detail}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RemoteCallError{Op: op, StatusCode: resp.StatusCode, Detail: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

// readDetail 提取服务端错误体中的 detail 字段，没有则返回原始文本。
func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return strings.TrimSpace(string(raw))
}
