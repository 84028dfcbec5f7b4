package domain

import "strconv"

// 目录（catalog）与结果表的列名是与下游消费者的兼容性契约，必须保持原样。
const (
	ColMaterial   = "材质"
	ColMaterialID = "materialId"
	ColSpec       = "规格"
	ColCompany    = "公司"
	ColThickness  = "厚度"
	ColOrigin     = "产地"
	ColStatus     = "状态"
	ColPrice      = "价格"
	ColRecordID   = "编号"
	ColDate       = "时间"

	ColMatchedSpec     = "匹配规格"
	ColMatchedSpecKey  = "匹配规格_英尺"
	ColFilterThickness = "筛选厚度"
)

// CatalogColumns 是抓取结果写出时的固定列顺序。
var CatalogColumns = []string{
	ColMaterial, ColMaterialID, ColSpec, ColCompany, ColThickness,
	ColOrigin, ColStatus, ColPrice, ColRecordID, ColDate,
}

// MatchColumns 是结果表在目录原有列之后追加的三列。
var MatchColumns = []string{ColMatchedSpec, ColMatchedSpecKey, ColFilterThickness}

// PriceRecord 是比价接口返回的一条报价。
// 厚度/价格保留接口原文（字符串），数值化由匹配阶段按需进行。
type PriceRecord struct {
	Material   string `json:"material"`
	MaterialID int    `json:"material_id"`
	Spec       string `json:"spec"`
	Company    string `json:"company"`
	Thickness  string `json:"thickness"`
	Origin     string `json:"origin"`
	Status     string `json:"status"`
	Price      string `json:"price"`
	RecordID   string `json:"record_id"`
	Date       string `json:"date"`
}

// Row 按 CatalogColumns 的顺序展开为一行。
func (r PriceRecord) Row() []string {
	return []string{
		r.Material, itoa(r.MaterialID), r.Spec, r.Company, r.Thickness,
		r.Origin, r.Status, r.Price, r.RecordID, r.Date,
	}
}

// Catalog 是一张只读的二维表：表头 + 数据行。
// 核心流程只读不写；所有筛选都产出新的行副本。
type Catalog struct {
	Columns []string
	Rows    [][]string
}

// CatalogFromRecords 把抓取结果转换为目录表。
func CatalogFromRecords(records []PriceRecord) Catalog {
	c := Catalog{
		Columns: append([]string(nil), CatalogColumns...),
		Rows:    make([][]string, 0, len(records)),
	}
	for _, r := range records {
		c.Rows = append(c.Rows, r.Row())
	}
	return c
}

// Cell 返回 (row, col) 处的值；越界时返回空串。
func (c Catalog) Cell(row, col int) string {
	if row < 0 || row >= len(c.Rows) || col < 0 {
		return ""
	}
	r := c.Rows[row]
	if col >= len(r) {
		return ""
	}
	return r[col]
}

// MatchResult 是某条目录行被某个 Specification 命中后的结果（创建后不再修改）。
type MatchResult struct {
	RowIndex int
	Row      []string

	// RecordID 是去重键；目录缺少编号列时为空，由聚合阶段回退到 RowIndex。
	RecordID string

	SpecIndex       int
	SpecLabel       string
	SpecKey         string
	FilterThickness string
}

// ResultTable 是最终输出：目录原有列 + MatchColumns。
type ResultTable struct {
	Columns []string
	Rows    [][]string
}

func itoa(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}
