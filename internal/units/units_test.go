package units

import (
	"errors"
	"math"
	"testing"
)

func TestToFeet_CommonPanels(t *testing.T) {
	cases := []struct {
		mm   float64
		want int
	}{
		{2440, 8},
		{1220, 4},
		{3048, 10},
		{1524, 5},
		{0, 0},
	}
	for _, c := range cases {
		got, err := ToFeet(c.mm)
		if err != nil {
			t.Fatalf("ToFeet(%v) 不期望错误：%v", c.mm, err)
		}
		if got != c.want {
			t.Fatalf("ToFeet(%v) 期望 %d，实际 %d", c.mm, c.want, got)
		}
	}
}

func TestToFeet_MatchesRoundAndIsMonotonic(t *testing.T) {
	prev := -1
	for mm := 0.0; mm <= 7000; mm += 0.5 {
		got, err := ToFeet(mm)
		if err != nil {
			t.Fatalf("ToFeet(%v) 不期望错误：%v", mm, err)
		}
		if want := int(math.RoundToEven(mm / MMPerFoot)); got != want {
			t.Fatalf("ToFeet(%v) 期望 %d，实际 %d", mm, want, got)
		}
		if got < prev {
			t.Fatalf("ToFeet 非单调：mm=%v got=%d prev=%d", mm, got, prev)
		}
		prev = got
	}
}

func TestToFeet_Invalid(t *testing.T) {
	for _, v := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err := ToFeet(v)
		if !errors.Is(err, ErrInvalidDimension) {
			t.Fatalf("ToFeet(%v) 期望 ErrInvalidDimension，实际 %v", v, err)
		}
		var de *DimensionError
		if !errors.As(err, &de) || de.Op != "feet" {
			t.Fatalf("期望 *DimensionError(op=feet)，实际 %v", err)
		}
	}
}

func TestToMeters(t *testing.T) {
	cases := []struct {
		mm        float64
		precision int
		want      string
	}{
		{2440, 1, "2.4"},
		{2440, 2, "2.44"},
		{1220, 1, "1.2"},
		{1220, 2, "1.22"},
		{1300, 0, "1"},
		{1000, -3, "1"},
	}
	for _, c := range cases {
		got, err := ToMeters(c.mm, c.precision)
		if err != nil {
			t.Fatalf("ToMeters(%v,%d) 不期望错误：%v", c.mm, c.precision, err)
		}
		if got != c.want {
			t.Fatalf("ToMeters(%v,%d) 期望 %q，实际 %q", c.mm, c.precision, c.want, got)
		}
	}

	if _, err := ToMeters(-5, 2); !errors.Is(err, ErrInvalidDimension) {
		t.Fatalf("期望 ErrInvalidDimension，实际 %v", err)
	}
}
