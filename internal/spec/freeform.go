package spec

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/John-Robertt/platematch/internal/domain"
)

const maxDimensionMM = 100000

type dimPair struct {
	length, width int
	offset        int
}

// extractFreeform 处理散落在正文中的“材质…/厚度(mm)：…/实厚(mm)：…/长(mm)：…/宽(mm)：…”片段。
//
// - 每个字段有自己的规则表，按优先级取第一条非空结果
// - 厚度超出合理范围的取值被丢弃（记 info 诊断，不报错）
// - 长/宽按位置配对，取较短列表的长度；多余取值丢弃
// - 每个 (厚度 × 长宽对) 组合都生成一个规格
func (e *Extractor) extractFreeform(text string) ([]domain.Specification, []domain.Diagnostic) {
	var diags []domain.Diagnostic

	material, found := e.documentMaterial(text)

	thick, _, rejected := thicknessRules.first(text, e.acceptThickness)
	if len(rejected) > 0 {
		diags = append(diags, infoDiagnostic("thickness_out_of_range", "厚度超出合理范围 [%s, %s]，已丢弃：%s",
			e.opts.MinThickness, e.opts.MaxThickness, strings.Join(rejected, ", ")))
	}
	if len(thick) == 0 {
		return nil, diags
	}

	realHits, _, _ := realThicknessRules.first(text, e.acceptThickness)

	pairs, pairDiags := e.dimensionPairs(text)
	diags = append(diags, pairDiags...)
	if len(pairs) == 0 {
		return nil, diags
	}

	specs := make([]domain.Specification, 0, len(thick)*len(pairs))
	for ti, th := range thick {
		declared, _ := e.parseThickness(th.value)

		var real *decimal.Decimal
		switch {
		case ti < len(realHits):
			v, _ := e.parseThickness(realHits[ti].value)
			real = &v
		case len(realHits) == 1:
			v, _ := e.parseThickness(realHits[0].value)
			real = &v
		}

		for _, p := range pairs {
			s, err := domain.NewSpecification(material, declared, real, p.length, p.width, e.opts.Offset, domain.StrategyFreeform)
			if err != nil {
				diags = append(diags, infoDiagnostic(domain.ErrCodeInvalidDimension, "第 %d 行规格无效：%v", lineAt(text, p.offset), err))
				continue
			}
			s.Line = lineAt(text, p.offset)
			specs = append(specs, s)
		}
	}

	if len(specs) > 0 && !found {
		diags = append(diags, infoDiagnostic("material_default", "未识别到材质，使用默认值 %s", e.opts.DefaultMaterial))
	}
	return specs, diags
}

// dimensionPairs 先用带标签的长/宽规则按位置配对；一对都配不上时退化为行内 “长×宽”。
func (e *Extractor) dimensionPairs(text string) ([]dimPair, []domain.Diagnostic) {
	var diags []domain.Diagnostic

	lengths, _, _ := lengthRules.first(text, acceptDimension)
	widths, _, _ := widthRules.first(text, acceptDimension)

	n := len(lengths)
	if len(widths) < n {
		n = len(widths)
	}
	if n > 0 {
		if len(lengths) != len(widths) {
			diags = append(diags, infoDiagnostic("dimension_unpaired", "长 %d 个、宽 %d 个，仅按位置配对前 %d 组",
				len(lengths), len(widths), n))
		}
		pairs := make([]dimPair, 0, n)
		for i := 0; i < n; i++ {
			l, _ := strconv.Atoi(lengths[i].value)
			w, _ := strconv.Atoi(widths[i].value)
			pairs = append(pairs, dimPair{length: l, width: w, offset: lengths[i].offset})
		}
		return pairs, diags
	}

	var pairs []dimPair
	for _, m := range inlineDimsRE.FindAllStringSubmatchIndex(text, -1) {
		l, err1 := strconv.Atoi(text[m[2]:m[3]])
		w, err2 := strconv.Atoi(text[m[4]:m[5]])
		if err1 != nil || err2 != nil || l <= 0 || w <= 0 {
			continue
		}
		pairs = append(pairs, dimPair{length: l, width: w, offset: m[2]})
	}
	return pairs, diags
}

func acceptDimension(s string) bool {
	v, err := strconv.Atoi(s)
	return err == nil && v > 0 && v <= maxDimensionMM
}
