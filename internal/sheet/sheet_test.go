package sheet

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/John-Robertt/platematch/internal/domain"
)

func TestWriteReadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compare_data.xlsx")
	cat := domain.CatalogFromRecords([]domain.PriceRecord{
		{Material: "304", MaterialID: 3, Spec: "4*8", Company: "甲", Thickness: "0.90", Price: "13500", RecordID: "0001", Date: "2025-06-01"},
		{Material: "201/J1", MaterialID: 7, Spec: "5*10", Company: "乙", Thickness: "1.2", Price: "8000", RecordID: "0002", Date: "2025-06-01"},
	})

	require.NoError(t, WriteCatalog(path, cat))

	got, err := ReadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, domain.CatalogColumns, got.Columns)
	require.Len(t, got.Rows, 2)
	// 原文保留：前导零与尾随零都不丢。
	assert.Equal(t, "0001", got.Rows[0][8])
	assert.Equal(t, "0.90", got.Rows[0][4])
	assert.Equal(t, "201/J1", got.Rows[1][0])
}

func TestReadCatalog_Missing(t *testing.T) {
	_, err := ReadCatalog(filepath.Join(t.TempDir(), "nope.xlsx"))
	assert.True(t, errors.Is(err, domain.ErrCatalogMissing), "err=%v", err)
}

func TestReadCatalog_PadsShortRowsAndSkipsBlank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.xlsx")
	xf := excelize.NewFile()
	require.NoError(t, xf.SetSheetRow("Sheet1", "A1", &[]interface{}{"材质", "规格", "厚度"}))
	require.NoError(t, xf.SetSheetRow("Sheet1", "A2", &[]interface{}{"304"}))
	require.NoError(t, xf.SetSheetRow("Sheet1", "A4", &[]interface{}{"201", "4*8", "1"}))
	require.NoError(t, xf.SaveAs(path))
	require.NoError(t, xf.Close())

	got, err := ReadCatalog(path)
	require.NoError(t, err)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, []string{"304", "", ""}, got.Rows[0])
	assert.Equal(t, []string{"201", "4*8", "1"}, got.Rows[1])
}

func TestWriteResult_EmptyKeepsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "matched_result.xlsx")
	var cols []string
	cols = append(cols, domain.CatalogColumns...)
	cols = append(cols, domain.MatchColumns...)

	require.NoError(t, WriteResult(path, domain.ResultTable{Columns: cols}))

	got, err := ReadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, cols, got.Columns)
	assert.Empty(t, got.Rows)
}
