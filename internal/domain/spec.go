package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/John-Robertt/platematch/internal/units"
)

// Strategy 标识 Specification 由哪种抽取策略产出，同时决定匹配模式。
type Strategy string

const (
	StrategyTabular   Strategy = "tabular"
	StrategyHTMLTable Strategy = "html_table"
	StrategyFreeform  Strategy = "freeform"
)

// Mode 是匹配模式：strict 用于表格来源，permissive 用于自由文本来源。
type Mode string

const (
	ModeStrict     Mode = "strict"
	ModePermissive Mode = "permissive"
)

// Mode 由抽取策略决定，不允许逐行配置。
func (s Strategy) Mode() Mode {
	if s == StrategyFreeform {
		return ModePermissive
	}
	return ModeStrict
}

// Specification 是从原始文本中抽取并规范化后的一组规格（材质 + 厚度 + 板面尺寸）。
//
// 不变量：
// - FilterThickness/SpecKey/英尺值都是方法，每次由原始字段重新推导，不存冗余副本
// - 厚度使用 decimal，保证 Declared − Offset 精确无漂移
type Specification struct {
	Material          string
	DeclaredThickness decimal.Decimal
	RealThickness     *decimal.Decimal
	LengthMM          int
	WidthMM           int

	Source Strategy
	// Line 是来源行号/表格行序（1 起），仅用于追溯。
	Line int

	offset decimal.Decimal
}

// NewSpecification 校验输入并构造 Specification。
// 厚度必须 > 0；长宽必须 > 0。
func NewSpecification(material string, declared decimal.Decimal, real *decimal.Decimal, lengthMM, widthMM int, offset decimal.Decimal, src Strategy) (Specification, error) {
	if !declared.IsPositive() {
		return Specification{}, fmt.Errorf("厚度必须为正数：%s", declared)
	}
	if real != nil && !real.IsPositive() {
		return Specification{}, fmt.Errorf("实厚必须为正数：%s", real)
	}
	if lengthMM <= 0 || widthMM <= 0 {
		return Specification{}, fmt.Errorf("%w：长宽必须为正整数（%d×%d）", units.ErrInvalidDimension, lengthMM, widthMM)
	}
	if material == "" {
		return Specification{}, errors.New("材质不能为空")
	}
	var rt *decimal.Decimal
	if real != nil {
		v := *real
		rt = &v
	}
	return Specification{
		Material:          material,
		DeclaredThickness: declared,
		RealThickness:     rt,
		LengthMM:          lengthMM,
		WidthMM:           widthMM,
		Source:            src,
		offset:            offset,
	}, nil
}

// Offset 返回构造时使用的厚度偏移量。
func (s Specification) Offset() decimal.Decimal { return s.offset }

// FilterThickness = DeclaredThickness − Offset，是真正参与匹配的目标厚度。
func (s Specification) FilterThickness() decimal.Decimal {
	return s.DeclaredThickness.Sub(s.offset)
}

// Mode 返回该规格的匹配模式。
func (s Specification) Mode() Mode { return s.Source.Mode() }

// LengthFeet 返回长边换算后的英尺数。
func (s Specification) LengthFeet() int { return feet(s.LengthMM) }

// WidthFeet 返回短边换算后的英尺数。
func (s Specification) WidthFeet() int { return feet(s.WidthMM) }

// SpecKey 是目录“规格”列的规范形态：宽*长（英尺）。
func (s Specification) SpecKey() string {
	return strconv.Itoa(s.WidthFeet()) + "*" + strconv.Itoa(s.LengthFeet())
}

// DimensionVariants 返回宽松模式下用于包含匹配的全部尺寸写法（去重且顺序稳定）：
// 英尺 宽*长/长*宽，米（1 位与 2 位小数）两种顺序，毫米两种顺序。
func (s Specification) DimensionVariants() []string {
	wf, lf := strconv.Itoa(s.WidthFeet()), strconv.Itoa(s.LengthFeet())
	out := make([]string, 0, 8)
	seen := make(map[string]struct{}, 8)
	add := func(a, b string) {
		if a == "" || b == "" {
			return
		}
		v := a + "*" + b
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	add(wf, lf)
	add(lf, wf)
	for _, prec := range []int{1, 2} {
		wm, _ := units.ToMeters(float64(s.WidthMM), prec)
		lm, _ := units.ToMeters(float64(s.LengthMM), prec)
		add(wm, lm)
		add(lm, wm)
	}
	wmm, lmm := strconv.Itoa(s.WidthMM), strconv.Itoa(s.LengthMM)
	add(wmm, lmm)
	add(lmm, wmm)
	return out
}

// Label 是结果表“匹配规格”列的人类可读描述。
func (s Specification) Label() string {
	return fmt.Sprintf("%s 厚度%smm %d*%dmm", s.Material, thicknessText(s.DeclaredThickness), s.LengthMM, s.WidthMM)
}

// thicknessText 按浮点数写法输出厚度：至少保留一位小数（1 → 1.0，0.90 → 0.9）。
// 下游按“匹配规格”列的历史写法做比对，不能写成 1mm。
func thicknessText(d decimal.Decimal) string {
	t := d.String()
	if !strings.Contains(t, ".") {
		t += ".0"
	}
	return t
}

// FilterThicknessText 是结果表“筛选厚度”列的写法（两位小数 + mm）。
func (s Specification) FilterThicknessText() string {
	return s.FilterThickness().StringFixed(2) + "mm"
}

func feet(mm int) int {
	// 长宽在 NewSpecification 中已保证为正，换算不会失败。
	f, _ := units.ToFeet(float64(mm))
	return f
}
