package notify

import (
	"context"

	"github.com/Arhum2/MarketPlace-Automater/internal/model"
)

// EventKind 通知事件类型。
type EventKind string

const (
	EventScrapeCompleted EventKind = "scrape_completed" // 采集完成，商品已入库
	EventScrapeFailed    EventKind = "scrape_failed"    // 采集失败或超时
	EventProductPosted   EventKind = "product_posted"   // 商品已发布到市场
)

// Event 工作流终态事件。
type Event struct {
	Kind    EventKind
	URL     string         // 提交的商品 URL（采集事件携带）
	Product *model.Product // 相关商品（失败事件可能为 nil）
	Detail  string         // 失败原因等补充说明
}

// Notifier 定义终态事件通知接口。
type Notifier interface {
	// Notify 发送事件通知。实现不应阻塞工作流主路径过久。
	Notify(ctx context.Context, ev Event) error
}

// Nop 空实现，未配置邮件时使用。
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
