package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	SpecStatusMatched = "matched"
	SpecStatusEmpty   = "empty"
)

const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	RunID       string `json:"run_id"`
	TextPath    string `json:"text_path"`
	CatalogPath string `json:"catalog_path"`
	OutputPath  string `json:"output_path"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Strategy 是最终生效的抽取策略；没有抽取到规格时为空。
	Strategy string `json:"strategy"`

	// Text 记录原始文本来自哪里（已有文件 / 刚识别的图片）。
	Text TextInfo `json:"text"`
	// Catalog 记录目录来自哪里（当天文件 / 快照 / 刚抓取）。
	Catalog CatalogInfo `json:"catalog"`

	Summary     ReportSummary `json:"summary"`
	Specs       []SpecResult  `json:"specs"`
	Groups      []GroupCount  `json:"groups"`
	Diagnostics []Diagnostic  `json:"diagnostics"`
}

type ReportSummary struct {
	Specs       int `json:"specs"`
	CatalogRows int `json:"catalog_rows"`
	// Matched 是去重前各规格命中数之和。
	Matched    int `json:"matched"`
	Duplicates int `json:"duplicates"`
	Output     int `json:"output"`
	Fatal      int `json:"fatal"`
}

// SpecResult 记录一个 Specification 的筛选条件与各谓词命中数。
type SpecResult struct {
	Index           int    `json:"index"`
	Line            int    `json:"line"`
	Strategy        string `json:"strategy"`
	Mode            string `json:"mode"`
	Label           string `json:"label"`
	SpecKey         string `json:"spec_key"`
	FilterThickness string `json:"filter_thickness"`

	MaterialHits  int `json:"material_hits"`
	ThicknessHits int `json:"thickness_hits"`
	DimensionHits int `json:"dimension_hits"`
	Matched       int `json:"matched"`

	Status string `json:"status"`
}

const (
	TextSourceFile       = "file"
	TextSourceRecognized = "recognized"

	CatalogSourceFresh   = "fresh"
	CatalogSourceCache   = "cache"
	CatalogSourceCrawled = "crawled"
	CatalogSourceStale   = "stale"
	CatalogSourceSkipped = "skipped"
)

type TextInfo struct {
	Source string `json:"source"`
	// Image 是被识别的图片（Source=recognized 时）。
	Image string `json:"image,omitempty"`
	Chars int    `json:"chars"`
}

type CatalogInfo struct {
	Source     string `json:"source"`
	Date       string `json:"date,omitempty"`
	Rows       int    `json:"rows"`
	Duplicates int    `json:"duplicates"`
}

// CrawlReport 是 crawl 子命令的输出。
type CrawlReport struct {
	RunID       string         `json:"run_id"`
	Source      string         `json:"source"`
	Date        string         `json:"date"`
	CatalogPath string         `json:"catalog_path"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Records     int            `json:"records"`
	Duplicates  int            `json:"duplicates"`
	Materials   []MaterialStat `json:"materials"`
	Diagnostics []Diagnostic   `json:"diagnostics"`
}

// MaterialStat 是单个材质的抓取统计。
type MaterialStat struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Pages     int    `json:"pages"`
	Records   int    `json:"records"`
	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

// Finalize 统一时间为 UTC，空切片输出为 []。
func (r *CrawlReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if r.Materials == nil {
		r.Materials = []MaterialStat{}
	}
	if r.Diagnostics == nil {
		r.Diagnostics = []Diagnostic{}
	}
}

// OK 表示所有材质都抓取成功且至少拿到一条报价。
func (r CrawlReport) OK() bool {
	if r.Records == 0 {
		return false
	}
	for _, m := range r.Materials {
		if m.ErrorCode != "" {
			return false
		}
	}
	return true
}

// GroupCount 是输出表按“匹配规格”分组的行数。
type GroupCount struct {
	Label string `json:"label"`
	Rows  int    `json:"rows"`
}

// Diagnostic 是信息性诊断；只有 Level=error 表示本次运行没有产出结果表。
type Diagnostic struct {
	Level   string `json:"level"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) specs 按 index 稳定排序；groups 按行数降序、label 升序
// 3) summary 中的派生字段由 specs/diagnostics 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	if r.Specs == nil {
		r.Specs = []SpecResult{}
	}
	if r.Groups == nil {
		r.Groups = []GroupCount{}
	}
	if r.Diagnostics == nil {
		r.Diagnostics = []Diagnostic{}
	}

	sort.SliceStable(r.Specs, func(i, j int) bool { return r.Specs[i].Index < r.Specs[j].Index })
	sort.SliceStable(r.Groups, func(i, j int) bool {
		if r.Groups[i].Rows != r.Groups[j].Rows {
			return r.Groups[i].Rows > r.Groups[j].Rows
		}
		return r.Groups[i].Label < r.Groups[j].Label
	})

	r.Summary.Specs = len(r.Specs)
	matched := 0
	for _, s := range r.Specs {
		matched += s.Matched
	}
	r.Summary.Matched = matched

	fatal := 0
	for _, d := range r.Diagnostics {
		if d.Level == LevelError {
			fatal++
		}
	}
	r.Summary.Fatal = fatal
}

// OK 表示本次运行产出了非空结果表且没有致命诊断。
func (r RunReport) OK() bool {
	return r.Summary.Fatal == 0 && r.Summary.Output > 0
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
