package provider

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/platematch/internal/domain"
)

// HTTPStatusError 表示接口返回了非 2xx 的 HTTP 状态码。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	// Body 是响应体的前一小段，便于定位 token 失效等问题。
	Body string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d body=%s", e.StatusCode, body)
}

// APIError 表示 HTTP 成功但接口在业务层拒绝了请求（例如 status!=1、token 过期）。
// 不重试：同样的参数再请求一次结果不会变。
type APIError struct {
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	if e == nil {
		return "api error"
	}
	msg := strings.TrimSpace(e.Msg)
	if msg == "" {
		return fmt.Sprintf("api status=%d", e.Status)
	}
	return fmt.Sprintf("api status=%d msg=%s", e.Status, msg)
}

// Error 是抓取阶段的可追溯错误。
// 上层据此把失败归类为 fetch_failed / parse_failed，并写入 report。
type Error struct {
	Source   string
	Material string
	Page     int
	Stage    string // "fetch" 或 "parse"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("source=%s material=%s page=%d stage=%s: %v", e.Source, e.Material, e.Page, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code 把 Error 映射为 report 中的 error_code。
func (e *Error) Code() string {
	if e != nil && e.Stage == "parse" {
		return domain.ErrCodeParseFailed
	}
	return domain.ErrCodeFetchFailed
}
