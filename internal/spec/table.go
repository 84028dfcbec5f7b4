package spec

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/John-Robertt/platematch/internal/domain"
)

// extractTable 解析竖线表格：每个完整匹配行产出一个 Specification，不完整的行静默跳过。
func (e *Extractor) extractTable(text string) ([]domain.Specification, []domain.Diagnostic) {
	return e.tableSpecs(text, domain.StrategyTabular)
}

// extractHTMLTable 处理视觉模型输出的 <table> 标记：先转成竖线表格，再走同一套行规则。
func (e *Extractor) extractHTMLTable(text string) ([]domain.Specification, []domain.Diagnostic) {
	if !strings.Contains(strings.ToLower(text), "<table") {
		return nil, nil
	}
	piped, err := htmlTableToPipes(text)
	if err != nil {
		return nil, []domain.Diagnostic{infoDiagnostic(domain.ErrCodeParseFailed, "HTML 表格解析失败：%v", err)}
	}
	return e.tableSpecs(piped, domain.StrategyHTMLTable)
}

func (e *Extractor) tableSpecs(text string, src domain.Strategy) ([]domain.Specification, []domain.Diagnostic) {
	matches := tableRowRE.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil, nil
	}

	docMaterial, found := e.documentMaterial(text)

	var (
		specs []domain.Specification
		diags []domain.Diagnostic
	)
	for _, m := range matches {
		line := lineAt(text, m[0])
		desc := text[m[2]:m[3]]
		lengthMM, err1 := strconv.Atoi(text[m[4]:m[5]])
		widthMM, err2 := strconv.Atoi(text[m[6]:m[7]])
		real, err3 := decimal.NewFromString(text[m[8]:m[9]])
		declared, err4 := decimal.NewFromString(text[m[10]:m[11]])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			diags = append(diags, infoDiagnostic(domain.ErrCodeParseFailed, "第 %d 行数值无法解析，已跳过", line))
			continue
		}

		// 描述列里有已知牌号时按行覆盖全文材质。
		material := docMaterial
		if g := e.grade(desc); g != "" {
			material = g
		}

		var realPtr *decimal.Decimal
		if real.IsPositive() {
			realPtr = &real
		}
		s, err := domain.NewSpecification(material, declared, realPtr, lengthMM, widthMM, e.opts.Offset, src)
		if err != nil {
			diags = append(diags, infoDiagnostic(domain.ErrCodeInvalidDimension, "第 %d 行规格无效：%v", line, err))
			continue
		}
		s.Line = line
		specs = append(specs, s)
	}

	if len(specs) > 0 && !found {
		diags = append(diags, infoDiagnostic("material_default", "未识别到材质，使用默认值 %s", e.opts.DefaultMaterial))
	}
	return specs, diags
}

// htmlTableToPipes 把文本中所有 <table> 的行转成 “| a | b | c |” 形式，每行一条。
// 表格之外的文本原样保留在最前面，以便材质规则仍能命中正文中的牌号。
func htmlTableToPipes(text string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(normSpace(doc.Find("body").Clone().Find("table").Remove().End().Text()))
	b.WriteByte('\n')

	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("th, td")
		if cells.Length() == 0 {
			return
		}
		b.WriteString("|")
		cells.Each(func(_ int, td *goquery.Selection) {
			b.WriteString(" ")
			b.WriteString(strings.ReplaceAll(normSpace(td.Text()), "|", " "))
			b.WriteString(" |")
		})
		b.WriteByte('\n')
	})
	return b.String(), nil
}

func normSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
