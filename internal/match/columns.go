package match

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/platematch/internal/domain"
)

// Field 是匹配所需的规范字段名。
type Field string

const (
	FieldMaterial  Field = "material"
	FieldThickness Field = "thickness"
	FieldSpec      Field = "spec"
	FieldRecordID  Field = "record_id"
)

// Fields 是解析顺序（也是诊断输出顺序）。
var Fields = []Field{FieldMaterial, FieldThickness, FieldSpec, FieldRecordID}

// ColumnMap 把规范字段映射到可接受的列名子串列表。
type ColumnMap map[Field][]string

// DefaultColumnMap 对应比价接口导出的中文列名。
func DefaultColumnMap() ColumnMap {
	return ColumnMap{
		FieldMaterial:  {domain.ColMaterial},
		FieldThickness: {domain.ColThickness},
		FieldSpec:      {domain.ColSpec},
		FieldRecordID:  {domain.ColRecordID, "priceId"},
	}
}

// Merge 用 o 中非空的条目覆盖 m（返回新 map，不修改 m）。
func (m ColumnMap) Merge(o ColumnMap) ColumnMap {
	out := make(ColumnMap, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	for k, v := range o {
		if len(v) > 0 {
			out[k] = append([]string(nil), v...)
		}
	}
	return out
}

// Resolved 是一次列解析的结果：每个字段对应的列下标（-1 表示缺失）。
type Resolved struct {
	index map[Field]int
}

// Resolve 在目录表头上解析每个字段的列位置，整张目录只做一次。
//
// 规则：
// - 先找与某个候选完全相等的列，再找包含候选子串的列
// - 同一优先级内取最左侧的列
// - 已被其他字段占用的列不再分配（例如“匹配规格”不会被当成“规格”）
func (m ColumnMap) Resolve(columns []string) Resolved {
	r := Resolved{index: make(map[Field]int, len(Fields))}
	used := make(map[int]bool, len(columns))

	find := func(cands []string, exact bool) int {
		for _, c := range cands {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			for i, col := range columns {
				if used[i] {
					continue
				}
				col = strings.TrimSpace(col)
				if exact && col == c {
					return i
				}
				if !exact && strings.Contains(col, c) {
					return i
				}
			}
		}
		return -1
	}

	// 第一轮只做精确匹配，避免子串匹配抢走更合适的列。
	for _, f := range Fields {
		if i := find(m[f], true); i >= 0 {
			r.index[f] = i
			used[i] = true
		}
	}
	for _, f := range Fields {
		if _, ok := r.index[f]; ok {
			continue
		}
		if i := find(m[f], false); i >= 0 {
			r.index[f] = i
			used[i] = true
		} else {
			r.index[f] = -1
		}
	}
	return r
}

// Index 返回字段对应的列下标；缺失时 ok=false。
func (r Resolved) Index(f Field) (int, bool) {
	i, ok := r.index[f]
	if !ok || i < 0 {
		return -1, false
	}
	return i, true
}

// Missing 返回未解析到的字段（按 Fields 顺序）。
func (r Resolved) Missing() []Field {
	var out []Field
	for _, f := range Fields {
		if _, ok := r.Index(f); !ok {
			out = append(out, f)
		}
	}
	return out
}

// Diagnostics 描述列缺失带来的降级：谓词字段缺失为 warn（谓词恒真），
// 编号缺失为 info（去重回退到行号）。
func (r Resolved) Diagnostics() []domain.Diagnostic {
	var out []domain.Diagnostic
	for _, f := range r.Missing() {
		if f == FieldRecordID {
			out = append(out, domain.Diagnostic{
				Level:   domain.LevelInfo,
				Code:    domain.ErrCodeCatalogMissingColumn,
				Message: "目录缺少编号列，去重改用目录行号",
			})
			continue
		}
		out = append(out, domain.Diagnostic{
			Level:   domain.LevelWarn,
			Code:    domain.ErrCodeCatalogMissingColumn,
			Message: fmt.Sprintf("目录缺少 %s 列，该条件视为恒真", f),
		})
	}
	return out
}
