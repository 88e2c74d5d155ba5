package gateway

import (
	"fmt"
	"strings"

	"github.com/Arhum2/MarketPlace-Automater/internal/model"
)

// RemoteCallError 表示一次远程调用的失败（非 2xx 响应或传输错误）。
//
// Detail 保留服务端返回的 detail 文本，原样展示给用户；
// StatusCode 为 0 表示请求没有到达服务端（传输层错误）。
type RemoteCallError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *RemoteCallError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: remote call failed: %s", e.Op, e.Detail)
	}
	return fmt.Sprintf("%s: remote call failed (%d): %s", e.Op, e.StatusCode, e.Detail)
}

// UserMessage 返回适合展示给用户的文本：优先服务端 detail，否则通用提示。
func (e *RemoteCallError) UserMessage() string {
	if strings.TrimSpace(e.Detail) != "" {
		return e.Detail
	}
	return "request failed, please try again"
}

// ValidationError 表示客户端准入检查失败，请求没有发出。
type ValidationError struct {
	Reason  string
	Missing []model.FieldName
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		names := make([]string, 0, len(e.Missing))
		for _, f := range e.Missing {
			names = append(names, string(f))
		}
		return fmt.Sprintf("%s: %s", e.Reason, strings.Join(names, ", "))
	}
	return e.Reason
}
