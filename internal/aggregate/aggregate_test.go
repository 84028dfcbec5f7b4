package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/platematch/internal/domain"
)

func result(rowIndex int, id, label string) domain.MatchResult {
	return domain.MatchResult{
		RowIndex:        rowIndex,
		Row:             []string{"304", "4*8", id},
		RecordID:        id,
		SpecLabel:       label,
		SpecKey:         "4*8",
		FilterThickness: "0.85mm",
	}
}

func TestAccumulator_FirstWins(t *testing.T) {
	var acc Accumulator
	acc.Add([]domain.MatchResult{result(0, "a", "spec-1"), result(1, "b", "spec-1")})
	acc.Add([]domain.MatchResult{result(1, "b", "spec-2"), result(2, "c", "spec-2")})

	got := acc.Results()
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].RecordID)
	assert.Equal(t, "b", got[1].RecordID)
	assert.Equal(t, "spec-1", got[1].SpecLabel, "先处理的规格胜出")
	assert.Equal(t, "c", got[2].RecordID)
	assert.Equal(t, 1, acc.Duplicates())
}

func TestAccumulator_SameIDDifferentRows(t *testing.T) {
	var acc Accumulator
	acc.Add([]domain.MatchResult{result(0, "a", "spec-1"), result(5, "a", "spec-1")})
	got := acc.Results()
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].RowIndex)
}

func TestAccumulator_Idempotent(t *testing.T) {
	batch := []domain.MatchResult{result(0, "a", "s"), result(1, "b", "s"), result(2, "a", "s")}

	var once Accumulator
	once.Add(batch)

	var twice Accumulator
	twice.Add(batch)
	added := twice.Add(batch)

	assert.Equal(t, 0, added)
	assert.Equal(t, once.Results(), twice.Results())
	assert.Equal(t, once.Table([]string{"材质", "规格", "编号"}), twice.Table([]string{"材质", "规格", "编号"}))
}

func TestAccumulator_RowIndexFallback(t *testing.T) {
	var acc Accumulator
	acc.Add([]domain.MatchResult{result(3, "", "s1"), result(4, "", "s1")})
	acc.Add([]domain.MatchResult{result(3, "", "s2")})
	assert.Equal(t, 2, acc.Len())
	assert.Equal(t, 1, acc.Duplicates())
}

func TestAccumulator_Table(t *testing.T) {
	var acc Accumulator
	short := result(0, "a", "304 厚度0.9mm 2440*1220mm")
	short.Row = []string{"304"}
	acc.Add([]domain.MatchResult{short})

	tbl := acc.Table([]string{"材质", "规格", "编号"})
	assert.Equal(t, []string{"材质", "规格", "编号", "匹配规格", "匹配规格_英尺", "筛选厚度"}, tbl.Columns)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, []string{"304", "", "", "304 厚度0.9mm 2440*1220mm", "4*8", "0.85mm"}, tbl.Rows[0])
}

func TestAccumulator_EmptyTableKeepsHeader(t *testing.T) {
	var acc Accumulator
	tbl := acc.Table(domain.CatalogColumns)
	assert.Len(t, tbl.Columns, len(domain.CatalogColumns)+3)
	assert.Empty(t, tbl.Rows)
	assert.Empty(t, acc.Groups())
}

func TestAccumulator_Groups(t *testing.T) {
	var acc Accumulator
	acc.Add([]domain.MatchResult{result(0, "a", "B"), result(1, "b", "A"), result(2, "c", "A"), result(3, "d", "C")})
	assert.Equal(t, []domain.GroupCount{{Label: "A", Rows: 2}, {Label: "B", Rows: 1}, {Label: "C", Rows: 1}}, acc.Groups())
}

func TestEmptyDiagnostics(t *testing.T) {
	diags := EmptyDiagnostics(2, 100)
	require.Len(t, diags, 4)
	assert.Equal(t, domain.ErrCodeNoMatch, diags[0].Code)
	assert.Equal(t, domain.LevelWarn, diags[0].Level)
	assert.Contains(t, diags[0].Message, "规格 2 个")
	for _, d := range diags[1:] {
		assert.Equal(t, domain.LevelInfo, d.Level)
	}
}
