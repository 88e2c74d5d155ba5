package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/Arhum2/MarketPlace-Automater/internal/config"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// Notify 发送事件邮件。邮件配置不完整时跳过而不报错。
func (n *EmailNotifier) Notify(ctx context.Context, ev Event) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email config missing, skip notification")
		return nil
	}
	if strings.TrimSpace(n.cfg.ToEmail) == "" {
		n.logger.Warn("email recipient empty, skip notification")
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", n.cfg.ToEmail)
	m.SetHeader("Subject", subjectFor(ev.Kind))
	m.SetBody("text/html", n.buildHTMLBody(ev))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("email notification sent",
		slog.String("to", n.cfg.ToEmail),
		slog.String("event", string(ev.Kind)))
	return nil
}

func subjectFor(kind EventKind) string {
	switch kind {
	case EventScrapeCompleted:
		return "[Automater] ✅ 采集完成"
	case EventScrapeFailed:
		return "[Automater] ⚠️ 采集失败"
	case EventProductPosted:
		return "[Automater] 🚀 商品已发布"
	default:
		return "[Automater] 事件通知"
	}
}

func (n *EmailNotifier) buildHTMLBody(ev Event) string {
	title := ev.URL
	price := ""
	if ev.Product != nil {
		if ev.Product.Title != "" {
			title = ev.Product.Title
		}
		price = ev.Product.Price
	}

	detail := ev.Detail
	if detail == "" {
		detail = string(ev.Kind)
	}

	template := `
<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<style>
  body { font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937; }
  .card { max-width: 600px; margin: 24px auto; background: #ffffff; border-radius: 12px; overflow: hidden; border: 1px solid #e5e7eb; }
  .header { background: #0f172a; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold; }
  .content { padding: 20px; }
  .price { font-size: 26px; font-weight: bold; color: #ef4444; margin: 8px 0 12px; }
  .title { font-size: 16px; margin-bottom: 16px; }
  .footer { margin-top: 20px; font-size: 12px; color: #6b7280; }
</style>
</head>
<body>
  <div class="card">
    <div class="header">%s</div>
    <div class="content">
      <div class="price">%s</div>
      <div class="title">%s</div>
      <div class="footer">%s</div>
    </div>
  </div>
</body>
</html>`

	return fmt.Sprintf(template,
		subjectFor(ev.Kind),
		html.EscapeString(price),
		html.EscapeString(title),
		html.EscapeString(detail))
}
