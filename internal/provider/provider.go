// Package provider 抓取比价接口的报价目录。
//
// 站点差异被限制在具体 Source 内部（例如 provider/tomals）；抓取循环、限速、
// 并发与去重由本包统一实现。
package provider

import (
	"context"
	"net/http"

	"github.com/John-Robertt/platematch/internal/domain"
)

// Material 是材质字典的一项（接口按 materialId 分别查询）。
type Material struct {
	ID   int
	Name string
}

// Query 是一次分页请求的参数。
type Query struct {
	Material Material
	Date     string
	Page     int
	PageSize int
}

// Source 是一个分页报价接口。
//
// 约束：
// - FetchPage 不做重试、不做限速（由 httpx 与 Crawler 统一实现）
// - ParsePage 必须是纯函数：相同输入 => 相同输出
// - 空页（返回 0 条且无错误）表示该材质已抓取完毕
type Source interface {
	Name() string
	FetchPage(ctx context.Context, q Query, c *http.Client) (raw []byte, err error)
	ParsePage(raw []byte, q Query) ([]domain.PriceRecord, error)
}
