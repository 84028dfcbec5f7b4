package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/platematch/internal/app/run"
	"github.com/John-Robertt/platematch/internal/config"
	"github.com/John-Robertt/platematch/internal/domain"
	"github.com/John-Robertt/platematch/internal/infra/logx"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的进度输出。
//
// 约束：
// - 只写到 stderr（或 fallback 到 stdout），stdout 的 JSON 契约由 emitReport 负责
// - 抓取页事件来自多个 worker，所有方法都持锁
// - 抓取可能持续数分钟：长时间没有输出时由 ticker 补一行进度
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	pages     int
	records   int
	specsDone int
	specs     int
	matched   int
	empty     int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	fmt.Fprintf(p.w, "[%s] platematch\n", now.Format("15:04:05"))
	fmt.Fprintln(p.w, "配置（生效）:")
	if eff.ConfigPath != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigPath)
	}
	fmt.Fprintf(p.w, "  text: %s\n", eff.TextPath)
	fmt.Fprintf(p.w, "  catalog: %s\n", eff.CatalogPath)
	fmt.Fprintf(p.w, "  default_material: %s\n", eff.DefaultMaterial)
	fmt.Fprintf(p.w, "  thickness_offset: %s\n", eff.Offset)
	fmt.Fprintf(p.w, "  tolerance: strict=%s permissive=%s\n", eff.StrictTolerance, eff.PermissiveTolerance)
	fmt.Fprintf(p.w, "  thickness_range: [%s, %s]\n", eff.MinThickness, eff.MaxThickness)
	fmt.Fprintf(p.w, "  crawl: source=%s date=%s concurrency=%d interval=%s token=%s\n",
		eff.Crawl.Source, orToday(eff.Crawl.Date), eff.Crawl.Concurrency, eff.Crawl.Interval, formatSecret(eff.Crawl.Token),
	)
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.Crawl.ProxyURL))
	fmt.Fprintf(p.w, "  materials: %s\n", formatStringListJSON(eff.Crawl.MaterialNames()))
	fmt.Fprintf(p.w, "  cache: %s\n", formatCache(eff.Cache))
	fmt.Fprintf(p.w, "  vision: model=%s api_key=%s\n", eff.Vision.Model, formatSecret(eff.Vision.APIKey))

	fmt.Fprintln(p.w, "输出:")
	fmt.Fprintf(p.w, "  result: %s\n", eff.OutputPath)
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
	if !p.tickerStarted {
		p.startTickerLocked()
	}
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "text":
		fmt.Fprintf(p.w, "文本: source=%s chars=%d (%s)\n",
			stringField(fields, "source"), intField(fields, "chars"), formatShortDuration(dur),
		)
	case "crawl":
		fmt.Fprintf(p.w, "抓取: date=%s materials=%d records=%d duplicates=%d failed=%d (%s)\n",
			stringField(fields, "date"),
			intField(fields, "materials"),
			intField(fields, "records"),
			intField(fields, "duplicates"),
			intField(fields, "failed"),
			formatShortDuration(dur),
		)
	case "catalog":
		fmt.Fprintf(p.w, "目录: source=%s rows=%d (%s)\n",
			stringField(fields, "source"), intField(fields, "rows"), formatShortDuration(dur),
		)
	case "match":
		fmt.Fprintf(p.w, "匹配: specs=%d output=%d duplicates=%d (%s)\n",
			intField(fields, "specs"), intField(fields, "output"), intField(fields, "duplicates"), formatShortDuration(dur),
		)
	case "write":
		fmt.Fprintf(p.w, "写出: rows=%d %s (%s)\n",
			intField(fields, "rows"), stringField(fields, "path"), formatShortDuration(dur),
		)
	default:
		// 兜底：未知阶段也不要静默（便于调试/演进）。
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnCrawlPage(material string, page, records int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pages++
	p.records += records
	// 空页表示该材质翻页结束；逐页输出太吵，只在这里打一行。
	if records == 0 {
		fmt.Fprintf(p.w, "  %s 完成: pages=%d\n", material, page-1)
		p.lastPrinted = time.Now()
	}
}

func (p *progressUI) OnSpecDone(idx, total int, res domain.SpecResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.specsDone = idx
	p.specs = total

	status := "OK"
	if res.Status == domain.SpecStatusEmpty {
		status = "EMPTY"
		p.empty++
	} else {
		p.matched++
	}

	fmt.Fprintf(p.w, "[%d/%d] %s %s mode=%s matched=%d hits=%d/%d/%d (%s)\n",
		idx, total, truncate(res.Label, 80), status, res.Mode, res.Matched,
		res.MaterialHits, res.ThicknessHits, res.DimensionHits, formatShortDuration(dur),
	)
	p.lastPrinted = time.Now()
}

// Close 停止 keepalive；可重复调用。
func (p *progressUI) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stop := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if time.Since(p.lastPrinted) > threshold {
					fmt.Fprintln(p.w, p.progressLineLocked())
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func (p *progressUI) progressLineLocked() string {
	return fmt.Sprintf("进度: pages=%d records=%d specs=%d/%d ok=%d empty=%d elapsed=%s",
		p.pages, p.records, p.specsDone, p.specs, p.matched, p.empty, formatElapsed(time.Since(p.startedAt)),
	)
}

func orToday(date string) string {
	if strings.TrimSpace(date) == "" {
		return "today"
	}
	return date
}

func formatSecret(s string) string {
	if strings.TrimSpace(s) == "" {
		return "off"
	}
	return logx.Mask(s)
}

func formatCache(c config.CacheConfig) string {
	mode := ""
	if c.ReadOnly {
		mode = ", read-only"
	}
	if strings.TrimSpace(c.RedisAddr) != "" {
		return fmt.Sprintf("redis (%s, ttl=%s%s)", c.RedisAddr, c.TTL, mode)
	}
	return fmt.Sprintf("file (%s, ttl=%s%s)", c.Dir, c.TTL, mode)
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func formatStringListJSON(xs []string) string {
	// json.Marshal(nil slice) => "null"；对用户更友好的是 "[]"
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// truncate 按 rune 截断，避免把中文切成半个字符。
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	switch x := fields[key].(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint:
		return int(x)
	case uint32:
		return int(x)
	case uint64:
		return int(x)
	default:
		return 0
	}
}

func stringField(fields map[string]any, key string) string {
	if fields == nil {
		return ""
	}
	s, _ := fields[key].(string)
	return s
}
