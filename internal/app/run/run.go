// Package run 编排一次完整的匹配：准备文本 → 刷新目录 → 抽取规格 → 逐规格匹配 → 汇总 → 写结果表。
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/John-Robertt/platematch/internal/aggregate"
	"github.com/John-Robertt/platematch/internal/config"
	"github.com/John-Robertt/platematch/internal/domain"
	"github.com/John-Robertt/platematch/internal/match"
	"github.com/John-Robertt/platematch/internal/sheet"
	"github.com/John-Robertt/platematch/internal/spec"
)

// Options 控制一次执行的可选步骤。
type Options struct {
	// Recognize 为 true 时总是重新识别 watch_dir 中最新的图片。
	Recognize bool
	Crawl     CrawlMode
}

// Execute 执行一次 run，并返回对外稳定的 RunReport。
// 只有缺少文本/目录或结果表写入失败是致命的；其余问题都降级为诊断。
func Execute(ctx context.Context, eff config.EffectiveConfig, deps Deps, opts Options) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, deps, opts, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, deps Deps, opts Options, obs Observer) domain.RunReport {
	obs = observerOrNop(obs)
	obs.OnStart(eff)
	log := deps.logger()

	rr := domain.RunReport{
		RunID:       uuid.NewString(),
		TextPath:    eff.TextPath,
		CatalogPath: eff.CatalogPath,
		OutputPath:  eff.OutputPath,
		StartedAt:   time.Now().UTC(),
	}
	finish := func() domain.RunReport {
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		log.Info("run finished",
			zap.String("run_id", rr.RunID),
			zap.Int("specs", rr.Summary.Specs),
			zap.Int("output", rr.Summary.Output),
			zap.Int("fatal", rr.Summary.Fatal))
		return rr
	}

	// 1) 文本
	phase := time.Now()
	text, textInfo, diags, err := loadText(ctx, eff, deps, opts.Recognize)
	rr.Text = textInfo
	rr.Diagnostics = append(rr.Diagnostics, diags...)
	if err != nil {
		rr.Diagnostics = append(rr.Diagnostics, fatal(err))
		return finish()
	}
	obs.OnPhaseDone("text", map[string]any{"source": textInfo.Source, "chars": textInfo.Chars}, time.Since(phase))

	// 2) 目录
	phase = time.Now()
	mode := opts.Crawl
	if mode == "" {
		mode = CrawlAuto
	}
	catInfo, diags := ensureCatalog(ctx, eff, deps, obs, mode)
	rr.Diagnostics = append(rr.Diagnostics, diags...)
	cat, err := sheet.ReadCatalog(eff.CatalogPath)
	if err != nil {
		rr.Catalog = catInfo
		rr.Diagnostics = append(rr.Diagnostics, fatal(err))
		return finish()
	}
	catInfo.Rows = len(cat.Rows)
	rr.Catalog = catInfo
	rr.Summary.CatalogRows = len(cat.Rows)
	obs.OnPhaseDone("catalog", map[string]any{"source": catInfo.Source, "rows": len(cat.Rows)}, time.Since(phase))

	// 3) + 4) 抽取与匹配
	phase = time.Now()
	acc, specResults, strategy, diags := MatchText(text, cat, eff, log, obs)
	rr.Strategy = string(strategy)
	rr.Specs = specResults
	rr.Diagnostics = append(rr.Diagnostics, diags...)
	rr.Groups = acc.Groups()
	rr.Summary.Duplicates = acc.Duplicates()
	rr.Summary.Output = acc.Len()
	obs.OnPhaseDone("match", map[string]any{
		"specs":      len(specResults),
		"output":     acc.Len(),
		"duplicates": acc.Duplicates(),
	}, time.Since(phase))

	// 5) 结果表：即使为空也写出（只有表头），避免下游读到上一次的结果。
	phase = time.Now()
	if err := sheet.WriteResult(eff.OutputPath, acc.Table(cat.Columns)); err != nil {
		rr.Diagnostics = append(rr.Diagnostics, domain.Diagnostic{
			Level:   domain.LevelError,
			Code:    domain.ErrCodeIOFailed,
			Message: fmt.Sprintf("写入结果表失败：%v", err),
		})
		return finish()
	}
	obs.OnPhaseDone("write", map[string]any{"path": eff.OutputPath, "rows": acc.Len()}, time.Since(phase))

	return finish()
}

// MatchText 是不依赖任何 I/O 的核心流程：抽取规格，逐个匹配，按编号去重。
// 规格按抽取顺序处理，先处理的规格在去重时胜出。
func MatchText(text string, cat domain.Catalog, eff config.EffectiveConfig, log *zap.Logger, obs Observer) (*aggregate.Accumulator, []domain.SpecResult, domain.Strategy, []domain.Diagnostic) {
	obs = observerOrNop(obs)
	if log == nil {
		log = zap.NewNop()
	}

	ex := spec.New(SpecOptions(eff), log)
	extracted := ex.Extract(text)
	diags := append([]domain.Diagnostic(nil), extracted.Diagnostics...)

	cols := ColumnMap(eff).Resolve(cat.Columns)
	diags = append(diags, cols.Diagnostics()...)

	m := match.New(match.Options{
		StrictTolerance:     eff.StrictTolerance,
		PermissiveTolerance: eff.PermissiveTolerance,
	}, log)

	acc := &aggregate.Accumulator{}
	results := make([]domain.SpecResult, 0, len(extracted.Specs))
	coercion := 0
	for i, s := range extracted.Specs {
		started := time.Now()
		out := m.Match(s, i, cat, cols)
		acc.Add(out.Results)
		if out.CoercionFailures > coercion {
			coercion = out.CoercionFailures
		}

		res := domain.SpecResult{
			Index:           i,
			Line:            s.Line,
			Strategy:        string(s.Source),
			Mode:            string(s.Mode()),
			Label:           s.Label(),
			SpecKey:         s.SpecKey(),
			FilterThickness: s.FilterThicknessText(),
			MaterialHits:    out.MaterialHits,
			ThicknessHits:   out.ThicknessHits,
			DimensionHits:   out.DimensionHits,
			Matched:         len(out.Results),
			Status:          domain.SpecStatusMatched,
		}
		if len(out.Results) == 0 {
			res.Status = domain.SpecStatusEmpty
		}
		results = append(results, res)
		obs.OnSpecDone(i+1, len(extracted.Specs), res, time.Since(started))
	}

	// 每个规格看到的是同一批无法数值化的行，只报一次。
	if coercion > 0 {
		diags = append(diags, domain.Diagnostic{
			Level:   domain.LevelInfo,
			Code:    domain.ErrCodeCoercionFailure,
			Message: fmt.Sprintf("目录中有 %d 行厚度无法转换为数值，已排除", coercion),
		})
	}
	if acc.Len() == 0 {
		diags = append(diags, aggregate.EmptyDiagnostics(len(extracted.Specs), len(cat.Rows))...)
	}
	return acc, results, extracted.Strategy, diags
}

// SpecOptions 把配置转换为抽取选项。
func SpecOptions(eff config.EffectiveConfig) spec.Options {
	return spec.Options{
		DefaultMaterial: eff.DefaultMaterial,
		Offset:          eff.Offset,
		MinThickness:    eff.MinThickness,
		MaxThickness:    eff.MaxThickness,
		Materials:       eff.Crawl.MaterialNames(),
	}
}

// ColumnMap 把配置中的列名覆盖项合并到内置映射上。
func ColumnMap(eff config.EffectiveConfig) match.ColumnMap {
	override := make(match.ColumnMap, len(eff.Columns))
	for k, v := range eff.Columns {
		override[match.Field(k)] = v
	}
	return match.DefaultColumnMap().Merge(override)
}

// fatal 把致命错误映射为 error 级诊断。
func fatal(err error) domain.Diagnostic {
	code := domain.ErrCodeIOFailed
	switch {
	case errors.Is(err, domain.ErrTextMissing):
		code = domain.ErrCodeTextMissing
	case errors.Is(err, domain.ErrCatalogMissing):
		code = domain.ErrCodeCatalogMissing
	}
	return domain.Diagnostic{Level: domain.LevelError, Code: code, Message: err.Error()}
}
