// Package spec 把视觉识别得到的原始文本解析为规范化的 Specification 列表。
//
// 抽取策略按优先级排列：HTML 表格 → 竖线表格 → 自由文本；第一个产出规格的策略胜出。
// 抽取器刻意“宽进”：为每个候选组合都生成规格，把精度交给匹配阶段。
// 文本为空/畸形时返回空列表 + 诊断，从不返回 error。
package spec

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/John-Robertt/platematch/internal/domain"
)

const (
	DefaultMaterial = "304"
)

var (
	DefaultOffset       = decimal.RequireFromString("0.05")
	DefaultMinThickness = decimal.RequireFromString("0.1")
	DefaultMaxThickness = decimal.RequireFromString("100")
)

// KnownMaterials 是比价接口的材质字典，用于在描述文本中识别牌号。
var KnownMaterials = []string{"304", "201/J1", "201/J2", "201/J5", "430", "316L", "201", "S32001", "201/J3", "201/J1A"}

// Options 是抽取阶段的可配置常量。
type Options struct {
	DefaultMaterial string
	// Offset 是筛选厚度相对标称厚度的下调量。零值即不下调（--offset=0），
	// New 不替换它；需要默认值时从 DefaultOptions 起步。
	Offset       decimal.Decimal
	MinThickness decimal.Decimal
	MaxThickness decimal.Decimal
	// Materials 是已知牌号；为空时使用 KnownMaterials。
	Materials []string
}

// DefaultOptions 返回与历史行为一致的默认值。
func DefaultOptions() Options {
	return Options{
		DefaultMaterial: DefaultMaterial,
		Offset:          DefaultOffset,
		MinThickness:    DefaultMinThickness,
		MaxThickness:    DefaultMaxThickness,
		Materials:       append([]string(nil), KnownMaterials...),
	}
}

// Result 是一次抽取的结果。
type Result struct {
	Specs []domain.Specification
	// Strategy 是产出规格的策略；Specs 为空时为空串。
	Strategy    domain.Strategy
	Diagnostics []domain.Diagnostic
}

// strategy 是一种抽取策略；按优先级组成策略表，而不是嵌套 if。
type strategy struct {
	name domain.Strategy
	run  func(e *Extractor, text string) ([]domain.Specification, []domain.Diagnostic)
}

// Extractor 是无状态的抽取器；并发安全。
type Extractor struct {
	opts       Options
	log        *zap.Logger
	gradeRE    *regexp.Regexp
	strategies []strategy
}

// New 构造 Extractor；除 Offset 外，零值字段回退到默认值。
func New(opts Options, log *zap.Logger) *Extractor {
	def := DefaultOptions()
	if strings.TrimSpace(opts.DefaultMaterial) == "" {
		opts.DefaultMaterial = def.DefaultMaterial
	}
	if !opts.MinThickness.IsPositive() {
		opts.MinThickness = def.MinThickness
	}
	if !opts.MaxThickness.IsPositive() || opts.MaxThickness.LessThan(opts.MinThickness) {
		opts.MaxThickness = def.MaxThickness
	}
	if len(opts.Materials) == 0 {
		opts.Materials = def.Materials
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{
		opts:    opts,
		log:     log.Named("spec"),
		gradeRE: gradeRegexp(opts.Materials),
		strategies: []strategy{
			{name: domain.StrategyHTMLTable, run: (*Extractor).extractHTMLTable},
			{name: domain.StrategyTabular, run: (*Extractor).extractTable},
			{name: domain.StrategyFreeform, run: (*Extractor).extractFreeform},
		},
	}
}

// Options 返回生效的选项（已填充默认值）。
func (e *Extractor) Options() Options { return e.opts }

// Extract 解析原始文本。
func (e *Extractor) Extract(text string) Result {
	text = normalizeText(text)
	if strings.TrimSpace(text) == "" {
		return Result{Diagnostics: []domain.Diagnostic{emptyDiagnostic("原始文本为空")}}
	}

	var diags []domain.Diagnostic
	for _, st := range e.strategies {
		specs, d := st.run(e, text)
		diags = append(diags, d...)
		if len(specs) > 0 {
			e.log.Debug("extracted specifications",
				zap.String("strategy", string(st.name)),
				zap.Int("count", len(specs)),
			)
			return Result{Specs: specs, Strategy: st.name, Diagnostics: diags}
		}
	}

	diags = append(diags, emptyDiagnostic("表格与自由文本均未解析出完整规格（材质/厚度/长宽）"))
	return Result{Diagnostics: diags}
}

// documentMaterial 在整段文本中按规则优先级识别材质：标签 > 已知牌号 > “304#”写法 > 默认值。
func (e *Extractor) documentMaterial(text string) (string, bool) {
	if hits, _, _ := materialRules[:1].first(text, nil); len(hits) > 0 {
		return strings.ToUpper(hits[0].value), true
	}
	if g := e.grade(text); g != "" {
		return g, true
	}
	if hits, _, _ := materialRules[1:].first(text, nil); len(hits) > 0 {
		return hits[0].value, true
	}
	return e.opts.DefaultMaterial, false
}

// grade 返回文本中第一个已知牌号（长牌号优先，例如 201/J1A 先于 201）。
func (e *Extractor) grade(text string) string {
	if e.gradeRE == nil {
		return ""
	}
	m := e.gradeRE.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.ToUpper(m[1])
}

func gradeRegexp(materials []string) *regexp.Regexp {
	ms := make([]string, 0, len(materials))
	for _, m := range materials {
		m = strings.TrimSpace(m)
		if m != "" {
			ms = append(ms, m)
		}
	}
	if len(ms) == 0 {
		return nil
	}
	sort.SliceStable(ms, func(i, j int) bool { return len(ms[i]) > len(ms[j]) })
	quoted := make([]string, 0, len(ms))
	for _, m := range ms {
		quoted = append(quoted, regexp.QuoteMeta(m))
	}
	// 两侧都排除小数点：0.430、1.201 这类厚度的小数部分不是牌号。
	return regexp.MustCompile(`(?i)(?:^|[^\dA-Za-z.])(` + strings.Join(quoted, "|") + `)(?:[^\dA-Za-z/.]|$)`)
}

// parseThickness 解析并校验厚度（合理范围外的取值被丢弃，不算错误）。
func (e *Extractor) parseThickness(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, false
	}
	if d.LessThan(e.opts.MinThickness) || d.GreaterThan(e.opts.MaxThickness) {
		return decimal.Decimal{}, false
	}
	return d, true
}

func (e *Extractor) acceptThickness(s string) bool {
	_, ok := e.parseThickness(s)
	return ok
}

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	// 视觉模型偶尔输出全角冒号/竖线混用，统一竖线即可；冒号由正则兼容。
	s = strings.ReplaceAll(s, "｜", "|")
	return s
}

func emptyDiagnostic(msg string) domain.Diagnostic {
	return domain.Diagnostic{
		Level:   domain.LevelWarn,
		Code:    domain.ErrCodeExtractionEmpty,
		Message: msg,
	}
}

func infoDiagnostic(code, format string, args ...any) domain.Diagnostic {
	return domain.Diagnostic{
		Level:   domain.LevelInfo,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}
