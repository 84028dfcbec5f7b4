package domain

import (
	"errors"

	"github.com/John-Robertt/platematch/internal/units"
)

// 报告中的 error_code（对外稳定）。
const (
	ErrCodeInvalidDimension     = "invalid_dimension"
	ErrCodeExtractionEmpty      = "extraction_empty"
	ErrCodeCoercionFailure      = "coercion_failure"
	ErrCodeCatalogMissingColumn = "catalog_missing_column"
	ErrCodeCatalogMissing       = "catalog_missing"
	ErrCodeTextMissing          = "text_missing"
	ErrCodeNoMatch              = "no_match"
	ErrCodeIOFailed             = "io_failed"
	ErrCodeFetchFailed          = "fetch_failed"
	ErrCodeParseFailed          = "parse_failed"
	ErrCodeRecognizeFailed      = "recognize_failed"
	ErrCodeConfigNotFound       = "config_not_found"
	ErrCodeConfigInvalid        = "config_invalid"
)

var (
	// ErrInvalidDimension 与 units 包共用同一个哨兵，便于 errors.Is 跨包判断。
	ErrInvalidDimension = units.ErrInvalidDimension
	// ErrExtractionEmpty 表示原始文本中没有解析出任何规格（流水线级，可报告，不致命）。
	ErrExtractionEmpty = errors.New("no specification extracted")
	// ErrCoercionFailure 表示目录字段无法数值化（该行被排除）。
	ErrCoercionFailure = errors.New("catalog value not numeric")
	// ErrCatalogMissingColumn 表示目录缺少期望列（对应谓词退化为恒真）。
	ErrCatalogMissingColumn = errors.New("catalog column missing")
	// ErrCatalogMissing 表示根本没有目录输入（致命）。
	ErrCatalogMissing = errors.New("catalog missing")
	// ErrTextMissing 表示根本没有原始文本输入（致命）。
	ErrTextMissing = errors.New("spec text missing")
)
