package model

import (
	"strings"
	"time"
)

// ProductStatus 表示商品在发布流水线中的生命周期状态。
type ProductStatus string

const (
	StatusPending     ProductStatus = "pending"       // 任务刚创建，等待抓取
	StatusCollected   ProductStatus = "collected"     // 抓取完成但缺少字段
	StatusReadyToPost ProductStatus = "ready_to_post" // 字段齐全，可以发布
	StatusPosted      ProductStatus = "posted"        // 已发布到市场
	StatusSold        ProductStatus = "sold"          // 已售出
	StatusFailed      ProductStatus = "failed"        // 抓取或发布失败
)

// JobStatus 表示后端抓取任务的状态。
//
// 只有 completed / failed / timed_out 是终态；其余状态（包括后端可能
// 返回的中间状态如 "scraping"）都视为仍在运行。
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobTimedOut  JobStatus = "timed_out"
)

// Terminal 报告该状态是否为终态。
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobTimedOut
}

// FieldName 是商品上可能缺失的字段名。
type FieldName string

const (
	FieldTitle       FieldName = "title"
	FieldPrice       FieldName = "price"
	FieldDescription FieldName = "description"
)

// ScrapeJob 表示一次抓取任务在客户端的视图。
//
// 状态只能通过轮询结果推进，一旦进入终态不再变化。
type ScrapeJob struct {
	JobID       string    `json:"job_id"`
	ProductID   string    `json:"product_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	Status      JobStatus `json:"status"`
}

// Product 表示一条商品记录。
//
// MissingFields 是派生字段：title/price/description 中为空的那些。
// 服务端才是权威状态，客户端只持有带过期窗口的缓存。
type Product struct {
	ID            string        `json:"id"`
	URL           string        `json:"url"`
	Title         string        `json:"title"`
	Price         string        `json:"price"`
	Description   string        `json:"description"`
	Status        ProductStatus `json:"status"`
	MissingFields []FieldName   `json:"missing_fields"`
	CreatedAt     time.Time     `json:"created_at"`
	Thumbnail     string        `json:"thumbnail,omitempty"`
}

// ProductImage 表示商品的一张图片。
//
// Ordinal 定义展示顺序；图片只归属一个商品。
type ProductImage struct {
	ID      string `json:"id"`
	Path    string `json:"file_path"`
	Ordinal int    `json:"ordinal"`
}

// EnrichedProduct 是交给渲染层的单位：商品 + 有序图片列表。
//
// 它只在装配时产生，从不单独持久化。
type EnrichedProduct struct {
	Product
	Images []ProductImage `json:"images"`
}

// FirstImagePath 返回列表视图使用的缩略图路径，没有图片时返回空串。
func (p EnrichedProduct) FirstImagePath() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0].Path
}

// DeriveMissingFields 根据字段内容重新计算缺失字段集合。
func DeriveMissingFields(p Product) []FieldName {
	var missing []FieldName
	if strings.TrimSpace(p.Title) == "" {
		missing = append(missing, FieldTitle)
	}
	if strings.TrimSpace(p.Price) == "" {
		missing = append(missing, FieldPrice)
	}
	if strings.TrimSpace(p.Description) == "" {
		missing = append(missing, FieldDescription)
	}
	return missing
}

// RecomputeMissingFields 就地刷新 MissingFields。
func (p *Product) RecomputeMissingFields() {
	p.MissingFields = DeriveMissingFields(*p)
}

// CanPost 报告商品是否满足发布前置条件（字段齐全）。
//
// 调用方还需要保证同一商品没有进行中的发布操作。
func (p Product) CanPost() bool {
	return len(DeriveMissingFields(p)) == 0
}

// DescriptionPreview 返回截断到 limit 个字符的描述，用于列表展示。
func (p Product) DescriptionPreview(limit int) string {
	if limit <= 0 || len(p.Description) <= limit {
		return p.Description
	}
	return p.Description[:limit] + "..."
}
