// Package sheet 读写 xlsx：比价目录（compare_data.xlsx）与匹配结果（matched_result.xlsx）。
//
// 单元格一律按字符串读写，保证编号/厚度原文不被 Excel 数值格式改写。
package sheet

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/John-Robertt/platematch/internal/domain"
	"github.com/John-Robertt/platematch/internal/infra/fsx"
)

const defaultSheet = "Sheet1"

// ReadCatalog 读取 path 的第一个工作表：首行为表头，其余为数据行。
// 文件不存在时返回包装了 domain.ErrCatalogMissing 的错误。
func ReadCatalog(path string) (domain.Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Catalog{}, fmt.Errorf("%w：%s", domain.ErrCatalogMissing, path)
		}
		return domain.Catalog{}, err
	}
	defer f.Close()
	return ReadCatalogFrom(f)
}

// ReadCatalogFrom 从 r 读取目录表。
// 行宽按表头对齐：缺的单元格补空串，多出的截断；整行为空的行被跳过。
func ReadCatalogFrom(r io.Reader) (domain.Catalog, error) {
	xf, err := excelize.OpenReader(r)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("解析 xlsx 失败：%w", err)
	}
	defer xf.Close()

	sheets := xf.GetSheetList()
	if len(sheets) == 0 {
		return domain.Catalog{}, errors.New("xlsx 中没有工作表")
	}
	rows, err := xf.GetRows(sheets[0])
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("读取工作表 %q 失败：%w", sheets[0], err)
	}
	if len(rows) == 0 {
		return domain.Catalog{}, nil
	}

	cols := make([]string, len(rows[0]))
	for i, c := range rows[0] {
		cols[i] = strings.TrimSpace(c)
	}

	cat := domain.Catalog{Columns: cols, Rows: make([][]string, 0, len(rows)-1)}
	for _, raw := range rows[1:] {
		if blank(raw) {
			continue
		}
		row := make([]string, len(cols))
		copy(row, raw)
		cat.Rows = append(cat.Rows, row)
	}
	return cat, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// WriteCatalog 原子写出目录表。
func WriteCatalog(path string, cat domain.Catalog) error {
	return WriteTable(path, cat.Columns, cat.Rows)
}

// WriteResult 原子写出结果表；没有数据行时只写表头。
func WriteResult(path string, t domain.ResultTable) error {
	return WriteTable(path, t.Columns, t.Rows)
}

// WriteTable 把表头 + 数据行写成单工作表 xlsx（同目录临时文件 + rename）。
func WriteTable(path string, columns []string, rows [][]string) error {
	xf := excelize.NewFile()
	defer xf.Close()

	sw, err := xf.NewStreamWriter(defaultSheet)
	if err != nil {
		return err
	}

	// 冻结首行，表头加粗；都必须在 SetRow 之前设置。
	if err := sw.SetPanes(&excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	if len(columns) > 0 {
		if err := sw.SetColWidth(1, len(columns), 14); err != nil {
			return err
		}
	}
	headerStyle, err := xf.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	if err := sw.SetRow("A1", toCells(columns), excelize.RowOpts{StyleID: headerStyle}); err != nil {
		return err
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, toCells(r)); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}

	return fsx.WriteFileAtomicFrom(path, func(w io.Writer) error {
		return xf.Write(w)
	})
}

func toCells(vals []string) []interface{} {
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}
