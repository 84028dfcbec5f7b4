// Package tomals 实现 admin.tomals.com 的不锈钢比价接口（按材质、日期分页）。
package tomals

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/John-Robertt/platematch/internal/domain"
	"github.com/John-Robertt/platematch/internal/provider"
)

const (
	Name = "tomals"

	comparePath  = "/Api/Price/getCompareList"
	maxBodyBytes = 8 << 20
	snippetLen   = 200
)

// Source 实现 provider.Source。
//
// 约束：
// - FetchPage 不做重试/限速（由 httpx 与 Crawler 统一控制）
// - ParsePage 是纯函数（只依赖 raw 与 Query）
type Source struct {
	BaseURL string
	Token   string

	now func() time.Time
}

func New(baseURL, token string) *Source {
	return &Source{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Token:   strings.TrimSpace(token),
		now:     time.Now,
	}
}

func (*Source) Name() string { return Name }

// Form 构造一页请求的表单；sn 是请求时刻的 unix 秒。
func (s *Source) Form(q provider.Query) url.Values {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	v := url.Values{}
	v.Set("materialId", strconv.Itoa(q.Material.ID))
	v.Set("time", q.Date)
	v.Set("companyId", "")
	v.Set("apiType", "1")
	v.Set("token", s.Token)
	v.Set("sn", strconv.FormatInt(now().Unix(), 10))
	v.Set("pv", "web")
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("pageSize", strconv.Itoa(q.PageSize))
	return v
}

func (s *Source) FetchPage(ctx context.Context, q provider.Query, c *http.Client) ([]byte, error) {
	if c == nil {
		return nil, errors.New("http client 不能为空")
	}
	if s.BaseURL == "" {
		return nil, errors.New("base_url 不能为空")
	}
	if q.Material.ID <= 0 {
		return nil, fmt.Errorf("materialId 无效：%d", q.Material.ID)
	}

	endpoint := s.BaseURL + comparePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(s.Form(q).Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &provider.HTTPStatusError{URL: endpoint, StatusCode: resp.StatusCode, Body: snippet(b)}
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, errors.New("empty response body")
	}
	return b, nil
}

type envelope struct {
	Status int             `json:"status"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
}

type item struct {
	TypeName     text `json:"typeName"`
	CompanyName  text `json:"companyName"`
	Thickness    text `json:"thickness"`
	Place        text `json:"place"`
	AdjustStatus text `json:"adjustStatus"`
	Price        text `json:"price"`
	PriceID      text `json:"priceId"`
}

// ParsePage 解析一页响应：status!=1 视为业务错误；data 为空（null/[]/缺失）返回 0 条。
func (s *Source) ParsePage(raw []byte, q provider.Query) ([]domain.PriceRecord, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("响应不是 JSON：%w（前 %d 字符：%s）", err, snippetLen, snippet(raw))
	}
	if env.Status != 1 {
		return nil, &provider.APIError{Status: env.Status, Msg: env.Msg}
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var items []item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("data 不是数组：%w", err)
	}

	out := make([]domain.PriceRecord, 0, len(items))
	for _, it := range items {
		out = append(out, domain.PriceRecord{
			Material:   q.Material.Name,
			MaterialID: q.Material.ID,
			Spec:       string(it.TypeName),
			Company:    string(it.CompanyName),
			Thickness:  string(it.Thickness),
			Origin:     string(it.Place),
			Status:     string(it.AdjustStatus),
			Price:      string(it.Price),
			RecordID:   string(it.PriceID),
			Date:       q.Date,
		})
	}
	return out, nil
}

// text 接受 JSON 字符串、数字、布尔或 null，统一保存为去空白的字符串。
// 接口对同一字段时而返回 "0.90" 时而返回 0.9。
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*t = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(strings.TrimSpace(s))
	default:
		*t = text(string(b))
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	r := []rune(s)
	if len(r) > snippetLen {
		return string(r[:snippetLen])
	}
	return s
}
