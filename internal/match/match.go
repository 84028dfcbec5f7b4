// Package match 在目录上为每个 Specification 计算满足全部条件的行。
//
// 三个谓词（材质/厚度/尺寸）各自算成一张布尔掩码，再按字段取交集；
// 宽松模式下尺寸字段内部对多个写法取并集。目录只读，命中行以副本形式返回。
package match

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/John-Robertt/platematch/internal/domain"
)

var (
	DefaultStrictTolerance     = decimal.RequireFromString("0.01")
	DefaultPermissiveTolerance = decimal.RequireFromString("0.1")
)

// Options 是匹配阶段的可配置常量。
type Options struct {
	StrictTolerance     decimal.Decimal
	PermissiveTolerance decimal.Decimal
}

func DefaultOptions() Options {
	return Options{
		StrictTolerance:     DefaultStrictTolerance,
		PermissiveTolerance: DefaultPermissiveTolerance,
	}
}

// Outcome 是一个 Specification 的匹配结果 + 各谓词的命中数（用于报告与空结果诊断）。
type Outcome struct {
	Results []domain.MatchResult

	MaterialHits  int
	ThicknessHits int
	DimensionHits int
	// CoercionFailures 是厚度无法数值化而被排除的行数。
	CoercionFailures int
}

// Matcher 无状态；可在多个规格、多次匹配之间复用。
type Matcher struct {
	opts Options
	log  *zap.Logger
}

func New(opts Options, log *zap.Logger) *Matcher {
	def := DefaultOptions()
	if opts.StrictTolerance.IsNegative() || opts.StrictTolerance.IsZero() {
		opts.StrictTolerance = def.StrictTolerance
	}
	if opts.PermissiveTolerance.IsNegative() || opts.PermissiveTolerance.IsZero() {
		opts.PermissiveTolerance = def.PermissiveTolerance
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Matcher{opts: opts, log: log.Named("match")}
}

// Tolerance 返回某个模式下的厚度容差。
func (m *Matcher) Tolerance(mode domain.Mode) decimal.Decimal {
	if mode == domain.ModePermissive {
		return m.opts.PermissiveTolerance
	}
	return m.opts.StrictTolerance
}

// Match 计算 spec 在 cat 上的命中行。specIndex 是该规格在抽取结果中的序号（0 起），随结果一起记录。
// 空结果不是错误。
func (m *Matcher) Match(s domain.Specification, specIndex int, cat domain.Catalog, cols Resolved) Outcome {
	n := len(cat.Rows)
	var out Outcome

	material := m.materialMask(s, cat, cols)
	thickness, failures := m.thicknessMask(s, cat, cols)
	dimension := m.dimensionMask(s, cat, cols)
	out.CoercionFailures = failures

	idCol, hasID := cols.Index(FieldRecordID)
	label, key, filter := s.Label(), s.SpecKey(), s.FilterThicknessText()

	for i := 0; i < n; i++ {
		if material[i] {
			out.MaterialHits++
		}
		if thickness[i] {
			out.ThicknessHits++
		}
		if dimension[i] {
			out.DimensionHits++
		}
		if !(material[i] && thickness[i] && dimension[i]) {
			continue
		}
		r := domain.MatchResult{
			RowIndex:        i,
			Row:             append([]string(nil), cat.Rows[i]...),
			SpecIndex:       specIndex,
			SpecLabel:       label,
			SpecKey:         key,
			FilterThickness: filter,
		}
		if hasID {
			r.RecordID = strings.TrimSpace(cat.Cell(i, idCol))
		}
		out.Results = append(out.Results, r)
	}

	m.log.Debug("matched specification",
		zap.Int("spec", specIndex),
		zap.String("label", label),
		zap.String("mode", string(s.Mode())),
		zap.Int("material_hits", out.MaterialHits),
		zap.Int("thickness_hits", out.ThicknessHits),
		zap.Int("dimension_hits", out.DimensionHits),
		zap.Int("matched", len(out.Results)),
	)
	return out
}

func allTrue(n int) []bool {
	mask := make([]bool, n)
	for i := range mask {
		mask[i] = true
	}
	return mask
}

// materialMask：目录材质列以不区分大小写的子串方式包含规格材质。
func (m *Matcher) materialMask(s domain.Specification, cat domain.Catalog, cols Resolved) []bool {
	col, ok := cols.Index(FieldMaterial)
	if !ok {
		return allTrue(len(cat.Rows))
	}
	want := strings.ToLower(strings.TrimSpace(s.Material))
	mask := make([]bool, len(cat.Rows))
	for i := range cat.Rows {
		mask[i] = strings.Contains(strings.ToLower(cat.Cell(i, col)), want)
	}
	return mask
}

// thicknessMask：|t − filter| ≤ tol，无法数值化的行被排除并计数。
func (m *Matcher) thicknessMask(s domain.Specification, cat domain.Catalog, cols Resolved) ([]bool, int) {
	col, ok := cols.Index(FieldThickness)
	if !ok {
		return allTrue(len(cat.Rows)), 0
	}
	filter := s.FilterThickness()
	tol := m.Tolerance(s.Mode())
	lo, hi := filter.Sub(tol), filter.Add(tol)

	failures := 0
	mask := make([]bool, len(cat.Rows))
	for i := range cat.Rows {
		t, ok := CoerceThickness(cat.Cell(i, col))
		if !ok {
			failures++
			continue
		}
		mask[i] = !t.LessThan(lo) && !t.GreaterThan(hi)
	}
	return mask, failures
}

// dimensionMask：严格模式与 SpecKey 相等；宽松模式包含任一尺寸写法（数字边界敏感）。
func (m *Matcher) dimensionMask(s domain.Specification, cat domain.Catalog, cols Resolved) []bool {
	col, ok := cols.Index(FieldSpec)
	if !ok {
		return allTrue(len(cat.Rows))
	}
	mask := make([]bool, len(cat.Rows))

	if s.Mode() == domain.ModeStrict {
		key := s.SpecKey()
		for i := range cat.Rows {
			mask[i] = NormalizeDims(cat.Cell(i, col)) == key
		}
		return mask
	}

	re := variantsRegexp(s.DimensionVariants())
	for i := range cat.Rows {
		mask[i] = re.MatchString(NormalizeDims(cat.Cell(i, col)))
	}
	return mask
}

// CoerceThickness 把目录厚度单元格转成数值：去空白、去 “mm” 后缀。
func CoerceThickness(raw string) (decimal.Decimal, bool) {
	v := strings.TrimSpace(raw)
	v = strings.TrimSuffix(strings.TrimSuffix(v, "mm"), "MM")
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

var dimsSepReplacer = strings.NewReplacer("×", "*", "x", "*", "X", "*", "＊", "*")

// NormalizeDims 统一尺寸分隔符（×/x/X/＊ → *）并去掉分隔符两侧空白。
func NormalizeDims(raw string) string {
	v := dimsSepReplacer.Replace(strings.TrimSpace(raw))
	if !strings.Contains(v, "*") {
		return v
	}
	parts := strings.Split(v, "*")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, "*")
}

func variantsRegexp(variants []string) *regexp.Regexp {
	quoted := make([]string, 0, len(variants))
	for _, v := range variants {
		quoted = append(quoted, regexp.QuoteMeta(v))
	}
	return regexp.MustCompile(`(?:^|[^\d.])(?:` + strings.Join(quoted, "|") + `)(?:[^\d.]|$)`)
}
