// Package units 负责毫米与目录原生单位（英尺、米）之间的换算。
//
// 约束：纯函数、无状态；取整规则固定为 round-half-to-even（与历史数据的生成方式一致），
// 因为英尺值会被拼进规格字符串做精确匹配，取整规则一变就会整批匹配失败。
package units

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// MMPerFoot 是 1 英尺对应的毫米数。
const MMPerFoot = 304.8

// ErrInvalidDimension 表示尺寸输入非法（负数、NaN、Inf）。
var ErrInvalidDimension = errors.New("invalid dimension")

// DimensionError 描述一次失败的换算；只影响该字段，不影响整条流水线。
type DimensionError struct {
	Value float64
	Op    string // "feet" / "meters"
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("尺寸非法（%s）：%v", e.Op, e.Value)
}

func (e *DimensionError) Unwrap() error { return ErrInvalidDimension }

// ToFeet 把毫米换算为整数英尺：RoundToEven(mm / 304.8)。
func ToFeet(mm float64) (int, error) {
	if !valid(mm) {
		return 0, &DimensionError{Value: mm, Op: "feet"}
	}
	return int(math.RoundToEven(mm / MMPerFoot)), nil
}

// ToMeters 把毫米换算为米，并格式化为 precision 位小数。
// precision < 0 时按 0 处理。
func ToMeters(mm float64, precision int) (string, error) {
	if !valid(mm) {
		return "", &DimensionError{Value: mm, Op: "meters"}
	}
	if precision < 0 {
		precision = 0
	}
	return strconv.FormatFloat(mm/1000, 'f', precision, 64), nil
}

func valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
