package console

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Arhum2/MarketPlace-Automater/internal/config"
	"github.com/Arhum2/MarketPlace-Automater/internal/console/middleware"
	"github.com/Arhum2/MarketPlace-Automater/internal/gateway"
	"github.com/Arhum2/MarketPlace-Automater/internal/model"
	"github.com/Arhum2/MarketPlace-Automater/internal/store"
	"github.com/Arhum2/MarketPlace-Automater/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// descriptionPreviewLimit 列表视图中描述字段的截断长度。
const descriptionPreviewLimit = 200

// Engine 是控制台依赖的工作流操作面。
type Engine interface {
	SubmitScrape(ctx context.Context, rawURL string) (workflow.Submission, error)
	Progress(jobID string) (workflow.Progress, bool)
	RefreshProducts(ctx context.Context) ([]model.Product, error)
	UpdateProduct(ctx context.Context, id string, patch gateway.FieldPatch) (model.Product, string, error)
	PostProduct(ctx context.Context, id string) (model.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	RemoveImage(ctx context.Context, productID, imageID string) error
	Store() *store.Store
}

// Action 需要确认的破坏性操作类型。
type Action string

const (
	ActionDeleteProduct Action = "delete_product"
	ActionDeleteImage   Action = "delete_image"
	ActionPostProduct   Action = "post_product"
)

// Confirmer 破坏性操作的确认端口，替代浏览器里的 confirm() 弹窗。
type Confirmer interface {
	Confirm(r *http.Request, action Action) bool
}

// HeaderConfirmer 默认实现：请求头 X-Confirm: yes 或查询参数 confirm=true。
type HeaderConfirmer struct{}

func (HeaderConfirmer) Confirm(r *http.Request, _ Action) bool {
	if r.Header.Get("X-Confirm") == "yes" {
		return true
	}
	return r.URL.Query().Get("confirm") == "true"
}

// Server 本地控制台 HTTP 服务，驱动采集与商品生命周期。
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	engine    Engine
	confirmer Confirmer
	router    *gin.Engine
}

// NewServer 初始化控制台服务器。confirmer 为 nil 时使用 HeaderConfirmer。
func NewServer(cfg *config.Config, engine Engine, confirmer Confirmer, logger *slog.Logger) *Server {
	if confirmer == nil {
		confirmer = HeaderConfirmer{}
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		engine:    engine,
		confirmer: confirmer,
		router:    r,
	}
	s.registerRoutes()
	return s
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// registerRoutes 注册所有的控制台路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	api := s.router.Group("/api")
	api.POST("/scrape", s.handleSubmitScrape)
	api.GET("/jobs/:id/progress", s.handleJobProgress)

	api.GET("/products", s.handleListProducts)
	api.GET("/products/:id", s.handleGetProduct)
	api.PATCH("/products/:id", s.handleUpdateProduct)
	api.DELETE("/products/:id", s.handleDeleteProduct)
	api.POST("/products/:id/post", s.handlePostProduct)
	api.POST("/products/:id/images/select", s.handleSelectImage)
	api.DELETE("/products/:id/images/:imageID", s.handleDeleteImage)

	api.GET("/focus", s.handleGetFocus)
	api.DELETE("/focus", s.handleClearFocus)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// scrapeRequest 提交抓取的请求参数。
type scrapeRequest struct {
	URL string `json:"url" binding:"required"`
}

// handleSubmitScrape 处理提交商品 URL 的请求。
//
// POST /api/scrape
func (s *Server) handleSubmitScrape(c *gin.Context) {
	var req scrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := s.engine.SubmitScrape(c.Request.Context(), req.URL)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sub)
}

// handleJobProgress 返回任务进度快照。
//
// GET /api/jobs/:id/progress
func (s *Server) handleJobProgress(c *gin.Context) {
	prog, ok := s.engine.Progress(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	c.JSON(http.StatusOK, prog)
}

// productResponse 列表视图的商品条目。
type productResponse struct {
	ID                 string              `json:"id"`
	URL                string              `json:"url"`
	Title              string              `json:"title"`
	Price              string              `json:"price"`
	DescriptionPreview string              `json:"description_preview"`
	Status             model.ProductStatus `json:"status"`
	MissingFields      []model.FieldName   `json:"missing_fields"`
	Thumbnail          string              `json:"thumbnail,omitempty"`
	CanPost            bool                `json:"can_post"`
}

func toProductResponse(p model.Product) productResponse {
	return productResponse{
		ID:                 p.ID,
		URL:                p.URL,
		Title:              p.Title,
		Price:              p.Price,
		DescriptionPreview: p.DescriptionPreview(descriptionPreviewLimit),
		Status:             p.Status,
		MissingFields:      p.MissingFields,
		Thumbnail:          p.Thumbnail,
		CanPost:            p.CanPost(),
	}
}

// handleListProducts 刷新并返回商品列表（可按状态过滤）与各 tab 计数。
//
// GET /api/products?filter=all|ready|posted|sold|pending
func (s *Server) handleListProducts(c *gin.Context) {
	if _, err := s.engine.RefreshProducts(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}

	filter := store.Filter(c.DefaultQuery("filter", string(store.FilterAll)))
	products := s.engine.Store().List(filter)

	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}

	counts := s.engine.Store().Counts()
	c.JSON(http.StatusOK, gin.H{
		"products": out,
		"counts":   counts,
	})
}

// handleGetProduct 打开商品详情：设为聚焦并返回完整记录与图集。
//
// GET /api/products/:id
func (s *Server) handleGetProduct(c *gin.Context) {
	id := c.Param("id")

	ep, ok := s.engine.Store().GetEnriched(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown product"})
		return
	}
	if err := s.engine.Store().Focus(id); err != nil {
		s.writeError(c, err)
		return
	}
	selected, _ := s.engine.Store().SelectedImage(id)

	c.JSON(http.StatusOK, gin.H{
		"product":        ep,
		"selected_image": selected,
	})
}

// updateProductRequest 字段编辑的请求参数，缺省字段不修改。
type updateProductRequest struct {
	Title       *string `json:"title"`
	Price       *string `json:"price"`
	Description *string `json:"description"`
}

// handleUpdateProduct 提交字段编辑。
//
// PATCH /api/products/:id
func (s *Server) handleUpdateProduct(c *gin.Context) {
	var req updateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	patch := gateway.FieldPatch{
		Title:       req.Title,
		Price:       req.Price,
		Description: req.Description,
	}
	updated, warning, err := s.engine.UpdateProduct(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := gin.H{"product": updated}
	if warning != "" {
		resp["warning"] = warning
	}
	c.JSON(http.StatusOK, resp)
}

// handleDeleteProduct 删除商品（需要确认）。
//
// DELETE /api/products/:id
func (s *Server) handleDeleteProduct(c *gin.Context) {
	if !s.confirmer.Confirm(c.Request, ActionDeleteProduct) {
		c.JSON(http.StatusPreconditionRequired, gin.H{"error": "confirmation required"})
		return
	}
	if err := s.engine.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handlePostProduct 发布商品到市场（需要确认）。
//
// POST /api/products/:id/post
func (s *Server) handlePostProduct(c *gin.Context) {
	if !s.confirmer.Confirm(c.Request, ActionPostProduct) {
		c.JSON(http.StatusPreconditionRequired, gin.H{"error": "confirmation required"})
		return
	}
	posted, err := s.engine.PostProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": posted})
}

// selectImageRequest 图集选中下标。
type selectImageRequest struct {
	Index int `json:"index"`
}

// handleSelectImage 切换详情视图选中的图片。
//
// POST /api/products/:id/images/select
func (s *Server) handleSelectImage(c *gin.Context) {
	var req selectImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.Store().SelectImage(c.Param("id"), req.Index); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleDeleteImage 删除商品图片（需要确认）。
//
// DELETE /api/products/:id/images/:imageID
func (s *Server) handleDeleteImage(c *gin.Context) {
	if !s.confirmer.Confirm(c.Request, ActionDeleteImage) {
		c.JSON(http.StatusPreconditionRequired, gin.H{"error": "confirmation required"})
		return
	}
	if err := s.engine.RemoveImage(c.Request.Context(), c.Param("id"), c.Param("imageID")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleGetFocus 返回当前聚焦的商品。
//
// GET /api/focus
func (s *Server) handleGetFocus(c *gin.Context) {
	ep, ok := s.engine.Store().Focused()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no focused product"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": ep})
}

// handleClearFocus 清除聚焦状态。
//
// DELETE /api/focus
func (s *Server) handleClearFocus(c *gin.Context) {
	s.engine.Store().ClearFocus()
	c.Status(http.StatusNoContent)
}

// writeError 把内部错误分类映射为 HTTP 响应。
func (s *Server) writeError(c *gin.Context, err error) {
	var verr *gateway.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          verr.Reason,
			"missing_fields": verr.Missing,
		})
		return
	}

	var rerr *gateway.RemoteCallError
	if errors.As(err, &rerr) {
		status := rerr.StatusCode
		if status == 0 {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": rerr.UserMessage()})
		return
	}

	switch {
	case errors.Is(err, workflow.ErrDuplicateSubmission):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrWorkflowQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrMutationInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrUnknownProduct), errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.logger.Error("unhandled console error", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
