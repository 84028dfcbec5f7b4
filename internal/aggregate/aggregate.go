// Package aggregate 汇总各规格的命中行：按规格顺序拼接、按编号去重（先到先得）、保持插入顺序。
package aggregate

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/John-Robertt/platematch/internal/domain"
)

// Accumulator 是显式传递的累加器，代替全局可变状态。零值可用。
//
// 不变量：
// - 同一个去重键只保留第一次出现的结果
// - 输出顺序即首次加入的顺序
// - 重复 Add 同一批结果不会改变输出（幂等）
type Accumulator struct {
	results    []domain.MatchResult
	seen       map[string]struct{}
	duplicates int
}

// Key 是去重键：有编号用编号，否则回退到目录行号。
func Key(r domain.MatchResult) string {
	if r.RecordID != "" {
		return "id:" + r.RecordID
	}
	return "row:" + strconv.Itoa(r.RowIndex)
}

// Add 追加一批命中结果，返回本批新增（未被去重）的条数。
func (a *Accumulator) Add(batch []domain.MatchResult) int {
	if a.seen == nil {
		a.seen = make(map[string]struct{}, len(batch))
	}
	added := 0
	for _, r := range batch {
		k := Key(r)
		if _, ok := a.seen[k]; ok {
			a.duplicates++
			continue
		}
		a.seen[k] = struct{}{}
		a.results = append(a.results, r)
		added++
	}
	return added
}

// Len 是去重后的行数。
func (a *Accumulator) Len() int { return len(a.results) }

// Duplicates 是被去重丢弃的累计次数。
func (a *Accumulator) Duplicates() int { return a.duplicates }

// Results 返回去重后的结果副本。
func (a *Accumulator) Results() []domain.MatchResult {
	return append([]domain.MatchResult(nil), a.results...)
}

// Table 构造结果表：目录原有列 + 匹配规格/匹配规格_英尺/筛选厚度。
// 行宽不足的目录行用空串补齐，保证每行与表头等宽。
func (a *Accumulator) Table(columns []string) domain.ResultTable {
	cols := make([]string, 0, len(columns)+len(domain.MatchColumns))
	cols = append(cols, columns...)
	cols = append(cols, domain.MatchColumns...)

	rows := make([][]string, 0, len(a.results))
	for _, r := range a.results {
		row := make([]string, len(columns), len(cols))
		copy(row, r.Row)
		row = append(row, r.SpecLabel, r.SpecKey, r.FilterThickness)
		rows = append(rows, row)
	}
	return domain.ResultTable{Columns: cols, Rows: rows}
}

// Groups 按“匹配规格”统计去重后的行数（行数降序，同数按标签升序）。
func (a *Accumulator) Groups() []domain.GroupCount {
	counts := make(map[string]int)
	var order []string
	for _, r := range a.results {
		if _, ok := counts[r.SpecLabel]; !ok {
			order = append(order, r.SpecLabel)
		}
		counts[r.SpecLabel]++
	}
	out := make([]domain.GroupCount, 0, len(order))
	for _, label := range order {
		out = append(out, domain.GroupCount{Label: label, Rows: counts[label]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rows != out[j].Rows {
			return out[i].Rows > out[j].Rows
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// EmptyDiagnostics 在结果为空时列出最可能的三个原因，而不是静默返回空表。
func EmptyDiagnostics(specs int, catalogRows int) []domain.Diagnostic {
	return []domain.Diagnostic{
		{
			Level:   domain.LevelWarn,
			Code:    domain.ErrCodeNoMatch,
			Message: fmt.Sprintf("未匹配到任何目录行（规格 %d 个，目录 %d 行），可能原因如下", specs, catalogRows),
		},
		{
			Level:   domain.LevelInfo,
			Code:    "cause_extraction",
			Message: "规格识别有误：检查识别文本中的材质、厚度、长宽是否正确",
		},
		{
			Level:   domain.LevelInfo,
			Code:    "cause_catalog",
			Message: "目录中没有对应规格：检查比价数据是否为当天、是否包含该材质",
		},
		{
			Level:   domain.LevelInfo,
			Code:    "cause_tolerance",
			Message: "厚度容差过严：可调大 tolerance.strict / tolerance.permissive 或 thickness_offset",
		},
	}
}
