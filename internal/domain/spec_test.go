package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var offset = decimal.RequireFromString("0.05")

func TestSpecification_DerivedFields(t *testing.T) {
	real := decimal.RequireFromString("0.94")
	s, err := NewSpecification("304", decimal.RequireFromString("0.9"), &real, 2440, 1220, offset, StrategyTabular)
	require.NoError(t, err)

	assert.Equal(t, "0.85", s.FilterThickness().String())
	assert.Equal(t, 8, s.LengthFeet())
	assert.Equal(t, 4, s.WidthFeet())
	assert.Equal(t, "4*8", s.SpecKey())
	assert.Equal(t, ModeStrict, s.Mode())
	assert.Equal(t, "304 厚度0.9mm 2440*1220mm", s.Label())
	assert.Equal(t, "0.85mm", s.FilterThicknessText())
	require.NotNil(t, s.RealThickness)
	assert.Equal(t, "0.94", s.RealThickness.String())
}

func TestSpecification_LabelKeepsOneDecimal(t *testing.T) {
	cases := map[string]string{
		"1.0":  "304 厚度1.0mm 2440*1220mm",
		"2":    "304 厚度2.0mm 2440*1220mm",
		"0.90": "304 厚度0.9mm 2440*1220mm",
		"1.25": "304 厚度1.25mm 2440*1220mm",
	}
	for raw, want := range cases {
		s, err := NewSpecification("304", decimal.RequireFromString(raw), nil, 2440, 1220, offset, StrategyTabular)
		require.NoError(t, err)
		assert.Equal(t, want, s.Label(), "declared=%s", raw)
	}
}

func TestSpecification_FilterThicknessIsExact(t *testing.T) {
	for _, raw := range []string{"0.94", "1", "1.2", "0.3", "2.05", "99.99"} {
		d := decimal.RequireFromString(raw)
		s, err := NewSpecification("304", d, nil, 2440, 1220, offset, StrategyFreeform)
		require.NoError(t, err)

		want := d.Sub(offset)
		// 重复推导不得漂移。
		for i := 0; i < 3; i++ {
			assert.True(t, s.FilterThickness().Equal(want), "declared=%s", raw)
		}
	}

	s, _ := NewSpecification("304", decimal.RequireFromString("0.94"), nil, 2440, 1220, offset, StrategyTabular)
	assert.Equal(t, "0.89", s.FilterThickness().String())
}

func TestSpecification_RealThicknessIsCopied(t *testing.T) {
	real := decimal.RequireFromString("0.94")
	s, err := NewSpecification("304", decimal.RequireFromString("1"), &real, 2440, 1220, offset, StrategyTabular)
	require.NoError(t, err)

	real = decimal.RequireFromString("5")
	assert.Equal(t, "0.94", s.RealThickness.String())
}

func TestSpecification_DimensionVariants(t *testing.T) {
	s, err := NewSpecification("304", decimal.RequireFromString("1"), nil, 2440, 1220, offset, StrategyFreeform)
	require.NoError(t, err)

	assert.Equal(t, ModePermissive, s.Mode())
	assert.Equal(t, []string{
		"4*8", "8*4",
		"1.2*2.4", "2.4*1.2",
		"1.22*2.44", "2.44*1.22",
		"1220*2440", "2440*1220",
	}, s.DimensionVariants())
}

func TestSpecification_DimensionVariants_SquareDeduped(t *testing.T) {
	s, err := NewSpecification("304", decimal.RequireFromString("1"), nil, 1220, 1220, offset, StrategyFreeform)
	require.NoError(t, err)
	assert.Equal(t, []string{"4*4", "1.2*1.2", "1.22*1.22", "1220*1220"}, s.DimensionVariants())
}

func TestNewSpecification_Invalid(t *testing.T) {
	_, err := NewSpecification("304", decimal.Zero, nil, 2440, 1220, offset, StrategyTabular)
	assert.Error(t, err)

	_, err = NewSpecification("304", decimal.RequireFromString("1"), nil, 0, 1220, offset, StrategyTabular)
	assert.True(t, errors.Is(err, ErrInvalidDimension))

	_, err = NewSpecification("", decimal.RequireFromString("1"), nil, 2440, 1220, offset, StrategyTabular)
	assert.Error(t, err)
}

func TestCatalogFromRecords(t *testing.T) {
	c := CatalogFromRecords([]PriceRecord{{
		Material: "304", MaterialID: 3, Spec: "4*8", Company: "A", Thickness: "0.85",
		Origin: "佛山", Status: "平", Price: "15000", RecordID: "9001", Date: "2025-10-17",
	}})

	assert.Equal(t, CatalogColumns, c.Columns)
	require.Len(t, c.Rows, 1)
	assert.Equal(t, []string{"304", "3", "4*8", "A", "0.85", "佛山", "平", "15000", "9001", "2025-10-17"}, c.Rows[0])
	assert.Equal(t, "", c.Cell(0, 99))
	assert.Equal(t, "", c.Cell(5, 0))
}
