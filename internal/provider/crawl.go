package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/John-Robertt/platematch/internal/domain"
)

const (
	DefaultPageSize = 20
	// DefaultMaxPages 防止接口一直返回非空页时无限翻页。
	DefaultMaxPages = 500
)

// Options 是一次抓取的参数。
type Options struct {
	// Date 为空表示“运行当天”（本地时区）。
	Date        string
	PageSize    int
	Concurrency int
	// Interval 是全局（跨材质）请求间隔；<=0 表示不限速。
	Interval time.Duration
	MaxPages int
}

// MaterialResult 是单个材质的抓取结果。
type MaterialResult struct {
	Material Material
	Pages    int
	Records  int
	Err      error
}

// Result 是一次抓取的汇总（Records 已去重，按材质字典顺序拼接）。
type Result struct {
	Date       string
	Records    []domain.PriceRecord
	Duplicates int
	Materials  []MaterialResult
}

// Failed 返回抓取失败的材质（其已抓到的页仍保留在 Records 中）。
func (r Result) Failed() []MaterialResult {
	var out []MaterialResult
	for _, m := range r.Materials {
		if m.Err != nil {
			out = append(out, m)
		}
	}
	return out
}

// PageFunc 在每页抓取完成后调用；可能来自多个 goroutine。
type PageFunc func(m Material, page int, records int)

// Crawler 按材质并发（worker pool）翻页抓取，所有 worker 共享一个限速器。
type Crawler struct {
	src     Source
	client  *http.Client
	opts    Options
	limiter *rate.Limiter
	log     *zap.Logger
	now     func() time.Time
}

func NewCrawler(src Source, c *http.Client, opts Options, log *zap.Logger) *Crawler {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if c == nil {
		c = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.Interval > 0 {
		lim = rate.NewLimiter(rate.Every(opts.Interval), 1)
	}
	return &Crawler{src: src, client: c, opts: opts, limiter: lim, log: log, now: time.Now}
}

// Date 返回本次抓取使用的日期（YYYY-MM-DD）。
func (c *Crawler) Date() string {
	if d := strings.TrimSpace(c.opts.Date); d != "" {
		return d
	}
	return c.now().Format("2006-01-02")
}

// Crawl 抓取全部材质。单个材质失败只终止该材质，不影响其他材质。
// ctx 取消时尽快返回已抓到的数据，未完成的材质带上 ctx.Err()。
func (c *Crawler) Crawl(ctx context.Context, materials []Material, onPage PageFunc) Result {
	date := c.Date()
	res := Result{Date: date, Materials: make([]MaterialResult, len(materials))}
	if len(materials) == 0 {
		return res
	}

	workers := c.opts.Concurrency
	if workers > len(materials) {
		workers = len(materials)
	}

	type crawlResult struct {
		idx     int
		records []domain.PriceRecord
		mr      MaterialResult
	}

	jobs := make(chan int)
	results := make(chan crawlResult, len(materials))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				recs, mr := c.crawlMaterial(ctx, materials[idx], date, onPage)
				results <- crawlResult{idx: idx, records: recs, mr: mr}
			}
		}()
	}

	go func() {
		for i := range materials {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	// 结果按材质字典顺序重新拼接，保证输出与并发度无关。
	perMaterial := make([][]domain.PriceRecord, len(materials))
	for r := range results {
		perMaterial[r.idx] = r.records
		res.Materials[r.idx] = r.mr
	}

	var all []domain.PriceRecord
	for _, recs := range perMaterial {
		all = append(all, recs...)
	}
	res.Records, res.Duplicates = Dedupe(all)
	return res
}

func (c *Crawler) crawlMaterial(ctx context.Context, m Material, date string, onPage PageFunc) ([]domain.PriceRecord, MaterialResult) {
	mr := MaterialResult{Material: m}
	var out []domain.PriceRecord

	for page := 1; page <= c.opts.MaxPages; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			mr.Err = &Error{Source: c.src.Name(), Material: m.Name, Page: page, Stage: "fetch", Err: ctxErr(ctx, err)}
			break
		}

		q := Query{Material: m, Date: date, Page: page, PageSize: c.opts.PageSize}
		raw, err := c.src.FetchPage(ctx, q, c.client)
		if err != nil {
			mr.Err = &Error{Source: c.src.Name(), Material: m.Name, Page: page, Stage: "fetch", Err: err}
			break
		}
		recs, err := c.src.ParsePage(raw, q)
		if err != nil {
			mr.Err = &Error{Source: c.src.Name(), Material: m.Name, Page: page, Stage: "parse", Err: err}
			break
		}

		mr.Pages = page
		if onPage != nil {
			onPage(m, page, len(recs))
		}
		if len(recs) == 0 {
			break
		}
		out = append(out, recs...)
		c.log.Debug("page fetched",
			zap.String("material", m.Name),
			zap.Int("page", page),
			zap.Int("records", len(recs)))

		if page == c.opts.MaxPages {
			c.log.Warn("max pages reached", zap.String("material", m.Name), zap.Int("max_pages", c.opts.MaxPages))
		}
	}

	mr.Records = len(out)
	if mr.Err != nil {
		c.log.Warn("material crawl stopped",
			zap.String("material", m.Name),
			zap.Int("records", mr.Records),
			zap.Error(mr.Err))
	}
	return out, mr
}

func ctxErr(ctx context.Context, err error) error {
	if ce := ctx.Err(); ce != nil {
		return ce
	}
	return err
}

// DedupeKey 是报价去重键：公司 + 材质 + 规格 + 厚度 + 价格。
func DedupeKey(r domain.PriceRecord) string {
	return strings.Join([]string{r.Company, r.Material, r.Spec, r.Thickness, r.Price}, "\x1f")
}

// Dedupe 保留每个去重键的第一条，返回去重后的记录与被丢弃的条数。
func Dedupe(records []domain.PriceRecord) ([]domain.PriceRecord, int) {
	seen := make(map[string]struct{}, len(records))
	out := make([]domain.PriceRecord, 0, len(records))
	for _, r := range records {
		k := DedupeKey(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out, len(records) - len(out)
}

// IsCanceled 判断抓取错误是否来自 ctx 取消/超时。
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Summary 返回一行人类可读的抓取统计。
func (r Result) Summary() string {
	return fmt.Sprintf("date=%s materials=%d records=%d duplicates=%d failed=%d",
		r.Date, len(r.Materials), len(r.Records), r.Duplicates, len(r.Failed()))
}
