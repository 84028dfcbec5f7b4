package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/John-Robertt/platematch/internal/config"
	"github.com/John-Robertt/platematch/internal/domain"
	"github.com/John-Robertt/platematch/internal/infra/cache"
	"github.com/John-Robertt/platematch/internal/infra/fsx"
	"github.com/John-Robertt/platematch/internal/infra/logx"
	"github.com/John-Robertt/platematch/internal/provider"
	"github.com/John-Robertt/platematch/internal/sheet"
)

// CrawlMode 决定 run 时如何刷新目录。
type CrawlMode string

const (
	// CrawlAuto：目录文件当天已更新则直接使用；否则先查当天快照，再抓取。
	CrawlAuto CrawlMode = "auto"
	// CrawlSkip：只使用已有目录文件。
	CrawlSkip CrawlMode = "skip"
	// CrawlForce：忽略当天文件与快照，重新抓取。
	CrawlForce CrawlMode = "force"
)

const codeCacheFailed = "cache_failed"

func crawlDate(eff config.EffectiveConfig, deps Deps) string {
	if d := strings.TrimSpace(eff.Crawl.Date); d != "" {
		return d
	}
	return deps.now().Format(time.DateOnly)
}

func materials(eff config.EffectiveConfig) []provider.Material {
	out := make([]provider.Material, 0, len(eff.Crawl.Materials))
	for _, m := range eff.Crawl.Materials {
		out = append(out, provider.Material{ID: m.ID, Name: m.Name})
	}
	return out
}

// Crawl 抓取全部材质的报价，写入 catalog_path，并在全部成功时保存当天快照。
// 单个材质失败只记诊断；一条报价都没拿到时不覆盖已有目录文件。
func Crawl(ctx context.Context, eff config.EffectiveConfig, deps Deps, obs Observer) domain.CrawlReport {
	obs = observerOrNop(obs)
	log := deps.logger().Named("crawl")
	date := crawlDate(eff, deps)

	rep := domain.CrawlReport{
		RunID:       uuid.NewString(),
		Source:      eff.Crawl.Source,
		Date:        date,
		CatalogPath: eff.CatalogPath,
		StartedAt:   time.Now().UTC(),
	}
	finish := func() domain.CrawlReport {
		rep.FinishedAt = time.Now().UTC()
		rep.Finalize()
		return rep
	}

	src, ok := deps.Registry.Get(eff.Crawl.Source)
	if !ok {
		rep.Diagnostics = append(rep.Diagnostics, domain.Diagnostic{
			Level:   domain.LevelError,
			Code:    domain.ErrCodeConfigInvalid,
			Message: fmt.Sprintf("未知的比价接口 crawl.source=%q", eff.Crawl.Source),
		})
		return finish()
	}
	if strings.TrimSpace(eff.Crawl.Token) == "" {
		rep.Diagnostics = append(rep.Diagnostics, domain.Diagnostic{
			Level:   domain.LevelWarn,
			Code:    domain.ErrCodeConfigInvalid,
			Message: "未配置 crawl.token（可通过 PLATEMATCH_CRAWL_TOKEN 提供），接口大概率会拒绝请求",
		})
	}

	log.Info("crawl started",
		zap.String("source", src.Name()),
		zap.String("date", date),
		zap.Int("materials", len(eff.Crawl.Materials)),
		logx.Secret("token", eff.Crawl.Token),
	)
	started := time.Now()
	crawler := provider.NewCrawler(src, deps.APIClient, provider.Options{
		Date:        date,
		PageSize:    eff.Crawl.PageSize,
		Concurrency: eff.Crawl.Concurrency,
		Interval:    eff.Crawl.Interval,
	}, log)
	res := crawler.Crawl(ctx, materials(eff), func(m provider.Material, page, records int) {
		obs.OnCrawlPage(m.Name, page, records)
	})

	rep.Records = len(res.Records)
	rep.Duplicates = res.Duplicates
	for _, mr := range res.Materials {
		st := domain.MaterialStat{ID: mr.Material.ID, Name: mr.Material.Name, Pages: mr.Pages, Records: mr.Records}
		if mr.Err != nil {
			st.ErrorCode = domain.ErrCodeFetchFailed
			var pe *provider.Error
			if errors.As(mr.Err, &pe) {
				st.ErrorCode = pe.Code()
			}
			st.ErrorMsg = humanizeCrawlError(mr.Err)
			rep.Diagnostics = append(rep.Diagnostics, domain.Diagnostic{
				Level:   domain.LevelWarn,
				Code:    st.ErrorCode,
				Message: fmt.Sprintf("材质 %s 抓取中断（已保留 %d 条）：%s", mr.Material.Name, mr.Records, st.ErrorMsg),
			})
		}
		rep.Materials = append(rep.Materials, st)
	}

	obs.OnPhaseDone("crawl", map[string]any{
		"date":       date,
		"materials":  len(res.Materials),
		"records":    len(res.Records),
		"duplicates": res.Duplicates,
		"failed":     len(res.Failed()),
	}, time.Since(started))

	if len(res.Records) == 0 {
		rep.Diagnostics = append(rep.Diagnostics, domain.Diagnostic{
			Level:   domain.LevelWarn,
			Code:    domain.ErrCodeFetchFailed,
			Message: "没有抓取到任何报价，请检查 crawl.token 与 crawl.date；已有目录文件保持不变",
		})
		return finish()
	}

	if err := sheet.WriteCatalog(eff.CatalogPath, domain.CatalogFromRecords(res.Records)); err != nil {
		rep.Diagnostics = append(rep.Diagnostics, domain.Diagnostic{
			Level:   domain.LevelError,
			Code:    domain.ErrCodeIOFailed,
			Message: fmt.Sprintf("写入目录失败：%v", err),
		})
		return finish()
	}
	log.Info("catalog written", zap.String("path", eff.CatalogPath), zap.String("summary", res.Summary()))

	// 部分失败的结果不进快照，否则当天后续运行都会拿到残缺目录。
	if deps.Store != nil && len(res.Failed()) == 0 {
		err := saveSnapshot(ctx, deps.Store, date, res.Records)
		switch {
		case errors.Is(err, cache.ErrReadOnly):
			log.Debug("snapshot not saved: cache is read-only", zap.String("date", date))
		case err != nil:
			rep.Diagnostics = append(rep.Diagnostics, domain.Diagnostic{
				Level:   domain.LevelWarn,
				Code:    codeCacheFailed,
				Message: fmt.Sprintf("保存快照失败：%v", err),
			})
		}
	}
	return finish()
}

func saveSnapshot(ctx context.Context, store cache.Store, date string, records []domain.PriceRecord) error {
	b, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return store.Put(ctx, cache.SnapshotKey(date), b)
}

func loadSnapshot(ctx context.Context, store cache.Store, date string) ([]domain.PriceRecord, bool, error) {
	b, ok, err := store.Get(ctx, cache.SnapshotKey(date))
	if err != nil || !ok {
		return nil, false, err
	}
	var records []domain.PriceRecord
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, false, fmt.Errorf("快照损坏：%w", err)
	}
	return records, len(records) > 0, nil
}

// ensureCatalog 按 mode 刷新目录文件（不读取目录内容）。
func ensureCatalog(ctx context.Context, eff config.EffectiveConfig, deps Deps, obs Observer, mode CrawlMode) (domain.CatalogInfo, []domain.Diagnostic) {
	log := deps.logger()
	date := crawlDate(eff, deps)
	info := domain.CatalogInfo{Source: domain.CatalogSourceSkipped}
	var diags []domain.Diagnostic

	if mode == CrawlSkip {
		return info, nil
	}

	if mode == CrawlAuto {
		fresh, err := fsx.IsModifiedToday(eff.CatalogPath, deps.now())
		if err != nil {
			diags = append(diags, domain.Diagnostic{Level: domain.LevelWarn, Code: domain.ErrCodeIOFailed, Message: fmt.Sprintf("检查目录文件失败：%v", err)})
		}
		if fresh {
			log.Info("catalog is fresh", zap.String("path", eff.CatalogPath))
			return domain.CatalogInfo{Source: domain.CatalogSourceFresh, Date: date}, diags
		}

		if deps.Store != nil {
			records, ok, err := loadSnapshot(ctx, deps.Store, date)
			if err != nil {
				diags = append(diags, domain.Diagnostic{Level: domain.LevelWarn, Code: codeCacheFailed, Message: fmt.Sprintf("读取快照失败：%v", err)})
			}
			if ok {
				if err := sheet.WriteCatalog(eff.CatalogPath, domain.CatalogFromRecords(records)); err != nil {
					diags = append(diags, domain.Diagnostic{Level: domain.LevelWarn, Code: domain.ErrCodeIOFailed, Message: fmt.Sprintf("由快照写入目录失败：%v", err)})
				} else {
					log.Info("catalog restored from snapshot", zap.String("date", date), zap.Int("records", len(records)))
					return domain.CatalogInfo{Source: domain.CatalogSourceCache, Date: date}, diags
				}
			}
		}

		if strings.TrimSpace(eff.Crawl.Token) == "" {
			diags = append(diags, domain.Diagnostic{
				Level:   domain.LevelWarn,
				Code:    "crawl_skipped",
				Message: "目录不是当天数据，但未配置 crawl.token，跳过抓取并使用已有目录",
			})
			return domain.CatalogInfo{Source: domain.CatalogSourceStale}, diags
		}
	}

	rep := Crawl(ctx, eff, deps, obs)
	diags = append(diags, rep.Diagnostics...)
	if rep.Records == 0 || hasError(rep.Diagnostics) {
		return domain.CatalogInfo{Source: domain.CatalogSourceStale, Date: date}, diags
	}
	return domain.CatalogInfo{Source: domain.CatalogSourceCrawled, Date: date, Duplicates: rep.Duplicates}, diags
}

func hasError(diags []domain.Diagnostic) bool {
	for _, d := range diags {
		if d.Level == domain.LevelError {
			return true
		}
	}
	return false
}

// humanizeCrawlError 把抓取错误转换为可操作的中文提示。
func humanizeCrawlError(err error) string {
	var ae *provider.APIError
	if errors.As(err, &ae) {
		return fmt.Sprintf("接口拒绝请求（status=%d %s），通常是 crawl.token 过期或 crawl.date 无数据", ae.Status, strings.TrimSpace(ae.Msg))
	}
	var hs *provider.HTTPStatusError
	if errors.As(err, &hs) {
		switch {
		case hs.StatusCode == 401 || hs.StatusCode == 403:
			return fmt.Sprintf("HTTP %d：没有权限，请检查 crawl.token", hs.StatusCode)
		case hs.StatusCode == 429:
			return "HTTP 429：请求过于频繁，请调大 crawl.interval_ms 或降低 crawl.concurrency"
		case hs.StatusCode >= 500:
			return fmt.Sprintf("HTTP %d：比价接口暂时不可用，稍后重试", hs.StatusCode)
		}
		return hs.Error()
	}
	if provider.IsCanceled(err) {
		return "已取消"
	}
	return err.Error()
}
