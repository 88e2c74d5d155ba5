package assembler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Arhum2/MarketPlace-Automater/internal/gateway"
	"github.com/Arhum2/MarketPlace-Automater/internal/model"
)

// AssemblyError 表示任务成功后组装商品视图失败。
type AssemblyError struct {
	Stage     string // "job_result" 或 "product"
	ProductID string
	Cause     error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assemble product %s: %s fetch failed: %v", e.ProductID, e.Stage, e.Cause)
}

func (e *AssemblyError) Unwrap() error { return e.Cause }

// ResultAPI 是装配器依赖的三个读取接口，由 gateway 实现。
type ResultAPI interface {
	JobResult(ctx context.Context, jobID string) (gateway.JobResult, error)
	GetProduct(ctx context.Context, id string) (model.Product, error)
	GetImages(ctx context.Context, productID string) ([]model.ProductImage, error)
}

// Assembler 在任务完成后把结果句柄、商品记录和图片组装成一个一致的视图。
//
// 组装是确定性的：相同的远端响应必然产出相同的 EnrichedProduct。
// 图片获取失败退化为空图集（图片对可用视图非必需），商品获取失败则整体失败。
type Assembler struct {
	api    ResultAPI
	logger *slog.Logger
}

// New 创建装配器。
func New(api ResultAPI, logger *slog.Logger) *Assembler {
	return &Assembler{api: api, logger: logger}
}

// Assemble 依次拉取任务结果、商品记录与图片列表。
func (a *Assembler) Assemble(ctx context.Context, jobID, productID string) (model.EnrichedProduct, error) {
	if _, err := a.api.JobResult(ctx, jobID); err != nil {
		return model.EnrichedProduct{}, &AssemblyError{Stage: "job_result", ProductID: productID, Cause: err}
	}

	product, err := a.api.GetProduct(ctx, productID)
	if err != nil {
		return model.EnrichedProduct{}, &AssemblyError{Stage: "product", ProductID: productID, Cause: err}
	}

	images, err := a.api.GetImages(ctx, productID)
	if err != nil {
		a.logger.Warn("image fetch failed, continuing with empty gallery",
			slog.String("product_id", productID),
			slog.String("error", err.Error()))
		images = nil
	}

	ep := model.EnrichedProduct{Product: product, Images: images}
	ep.Thumbnail = ep.FirstImagePath()
	return ep, nil
}
