package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/John-Robertt/platematch/internal/app/run"
	"github.com/John-Robertt/platematch/internal/config"
	"github.com/John-Robertt/platematch/internal/domain"
	"github.com/John-Robertt/platematch/internal/provider"
	"github.com/John-Robertt/platematch/internal/sheet"
)

const tableText = "| 序号 | 描述 | 规格 | 实厚 | 厚度 |\n" +
	"|---|---|---|---|---|\n" +
	"| 3 | X | 2440 × 1220 | 0.94 | 0.9 |\n" +
	"| 4 | Y | 2440 × 1220 | 0.9 | 0.9 |\n"

var catalogRecords = []domain.PriceRecord{
	{Material: "304", MaterialID: 3, Spec: "4*8", Company: "甲", Thickness: "0.85", Price: "13500", RecordID: "a"},
	{Material: "304", MaterialID: 3, Spec: "4*8", Company: "乙", Thickness: "0.86", Price: "13600", RecordID: "b"},
	{Material: "304", MaterialID: 3, Spec: "4*8", Company: "丙", Thickness: "0.80", Price: "13000", RecordID: "c"},
	{Material: "430", MaterialID: 27, Spec: "4*8", Company: "甲", Thickness: "0.85", Price: "8000", RecordID: "e"},
}

// oneShotSource 每个材质只有第一页有数据。
type oneShotSource struct{}

func (oneShotSource) Name() string { return "stub" }

func (oneShotSource) FetchPage(_ context.Context, q provider.Query, _ *http.Client) ([]byte, error) {
	if q.Page > 1 {
		return []byte("[]"), nil
	}
	var out []domain.PriceRecord
	for _, r := range catalogRecords {
		if r.MaterialID == q.Material.ID {
			out = append(out, r)
		}
	}
	return json.Marshal(out)
}

func (oneShotSource) ParsePage(raw []byte, q provider.Query) ([]domain.PriceRecord, error) {
	var recs []domain.PriceRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].Date = q.Date
	}
	return recs, nil
}

type harness struct {
	dir    string
	stdout bytes.Buffer
	stderr bytes.Buffer
	stdin  string
	deps   run.Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg, err := provider.NewRegistry(oneShotSource{})
	if err != nil {
		t.Fatalf("NewRegistry 失败：%v", err)
	}
	return &harness{dir: t.TempDir(), deps: run.Deps{Registry: reg}}
}

func (h *harness) run(args ...string) int {
	c := &cli{
		stdout:    &h.stdout,
		stderr:    &h.stderr,
		stdin:     strings.NewReader(h.stdin),
		getwd:     func() (string, error) { return h.dir, nil },
		newLogger: func(string, string) (*zap.Logger, error) { return zap.NewNop(), nil },
		newDeps: func(_ config.EffectiveConfig, log *zap.Logger) (run.Deps, func(), error) {
			d := h.deps
			d.Log = log
			return d, func() {}, nil
		},
	}
	return c.execute(context.Background(), args)
}

func (h *harness) write(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(h.dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("写入 %s 失败：%v", name, err)
	}
	return p
}

func (h *harness) writeCatalog(t *testing.T) {
	t.Helper()
	p := filepath.Join(h.dir, config.DefaultCatalogPath)
	if err := sheet.WriteCatalog(p, domain.CatalogFromRecords(catalogRecords)); err != nil {
		t.Fatalf("写入目录失败：%v", err)
	}
}

func decodeRunReport(t *testing.T, b []byte) domain.RunReport {
	t.Helper()
	var rr domain.RunReport
	if err := json.Unmarshal(b, &rr); err != nil {
		t.Fatalf("stdout 不是单个 JSON：%v\n%s", err, b)
	}
	return rr
}

func TestMatch_WritesJSONReportAndResult(t *testing.T) {
	h := newHarness(t)
	h.write(t, config.DefaultTextPath, tableText)
	h.writeCatalog(t)

	if code := h.run("match"); code != 0 {
		t.Fatalf("期望退出码 0，实际=%d stderr=%s", code, h.stderr.String())
	}
	rr := decodeRunReport(t, h.stdout.Bytes())
	if rr.Summary.Output != 2 || rr.Summary.Duplicates != 2 {
		t.Fatalf("期望 output=2 duplicates=2，实际=%+v", rr.Summary)
	}
	if rr.Catalog.Source != domain.CatalogSourceSkipped {
		t.Fatalf("match 不应刷新目录，实际 source=%q", rr.Catalog.Source)
	}
	if !strings.Contains(h.stderr.String(), "完成：specs=2 output=2") {
		t.Fatalf("stderr 缺少摘要：%s", h.stderr.String())
	}

	out, err := sheet.ReadCatalog(filepath.Join(h.dir, config.DefaultOutputPath))
	if err != nil {
		t.Fatalf("读取结果表失败：%v", err)
	}
	if len(out.Rows) != 2 {
		t.Fatalf("期望结果表 2 行，实际=%d", len(out.Rows))
	}
}

func TestMatch_EmptyResultExitsOne(t *testing.T) {
	h := newHarness(t)
	h.write(t, "other.txt", "| 序号 | 描述 | 规格 | 实厚 | 厚度 |\n|---|---|---|---|---|\n| 1 | X | 3000 × 1500 | 2.0 | 2.0 |\n")
	h.writeCatalog(t)

	if code := h.run("match", "--text", "other.txt"); code != 1 {
		t.Fatalf("期望退出码 1，实际=%d", code)
	}
	rr := decodeRunReport(t, h.stdout.Bytes())
	if rr.Summary.Output != 0 || rr.Summary.Fatal != 0 {
		t.Fatalf("期望无结果且无致命诊断，实际=%+v", rr.Summary)
	}
	if _, err := os.Stat(filepath.Join(h.dir, config.DefaultOutputPath)); err != nil {
		t.Fatalf("空结果也应写出只有表头的结果表：%v", err)
	}
}

func TestRun_ConfigNotFound(t *testing.T) {
	h := newHarness(t)

	if code := h.run("run", "--config", "missing.yaml"); code != 1 {
		t.Fatalf("期望退出码 1，实际=%d", code)
	}
	rr := decodeRunReport(t, h.stdout.Bytes())
	if len(rr.Diagnostics) != 1 || rr.Diagnostics[0].Code != config.ErrCodeNotFound {
		t.Fatalf("期望 config_not_found 诊断，实际=%+v", rr.Diagnostics)
	}
	if rr.Summary.Fatal != 1 {
		t.Fatalf("期望 fatal=1，实际=%d", rr.Summary.Fatal)
	}
}

func TestRun_InvalidCrawlMode(t *testing.T) {
	h := newHarness(t)

	if code := h.run("run", "--crawl", "sometimes"); code != 2 {
		t.Fatalf("期望退出码 2，实际=%d", code)
	}
	if h.stdout.Len() != 0 {
		t.Fatalf("参数错误时 stdout 应为空，实际=%s", h.stdout.String())
	}
	if !strings.Contains(h.stderr.String(), "--crawl") {
		t.Fatalf("stderr 应说明 --crawl 的取值：%s", h.stderr.String())
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	h := newHarness(t)
	if code := h.run("run", "--nope"); code != 2 {
		t.Fatalf("期望退出码 2，实际=%d", code)
	}
}

func TestCrawl_WritesCatalog(t *testing.T) {
	h := newHarness(t)
	h.write(t, "cfg.yaml", "crawl:\n  source: stub\n  token: t0k3n\n  interval_ms: -1\n  date: \"2025-06-01\"\n  materials:\n    - {id: 3, name: \"304\"}\n    - {id: 27, name: \"430\"}\n")

	if code := h.run("crawl", "--config", "cfg.yaml"); code != 0 {
		t.Fatalf("期望退出码 0，实际=%d stdout=%s", code, h.stdout.String())
	}
	var rep domain.CrawlReport
	if err := json.Unmarshal(h.stdout.Bytes(), &rep); err != nil {
		t.Fatalf("stdout 不是 CrawlReport JSON：%v", err)
	}
	if rep.Records != 4 || rep.Date != "2025-06-01" || len(rep.Materials) != 2 {
		t.Fatalf("抓取报告不符合预期：%+v", rep)
	}

	cat, err := sheet.ReadCatalog(filepath.Join(h.dir, config.DefaultCatalogPath))
	if err != nil {
		t.Fatalf("读取目录失败：%v", err)
	}
	if len(cat.Rows) != 4 {
		t.Fatalf("期望目录 4 行，实际=%d", len(cat.Rows))
	}
}

func TestExtract_FromStdin(t *testing.T) {
	h := newHarness(t)
	h.stdin = tableText

	if code := h.run("extract", "-", "--offset", "0.1"); code != 0 {
		t.Fatalf("期望退出码 0，实际=%d stderr=%s", code, h.stderr.String())
	}
	var out extractOutput
	if err := json.Unmarshal(h.stdout.Bytes(), &out); err != nil {
		t.Fatalf("stdout 不是 JSON：%v", err)
	}
	if out.Strategy != string(domain.StrategyTabular) || len(out.Specs) != 2 {
		t.Fatalf("抽取结果不符合预期：%+v", out)
	}
	s := out.Specs[0]
	if s.Material != "304" || s.SpecKey != "4*8" || s.FilterThickness != "0.8" {
		t.Fatalf("规格字段不符合预期：%+v", s)
	}
	if s.RealThickness != "0.94" {
		t.Fatalf("期望保留实厚 0.94，实际=%q", s.RealThickness)
	}
}

func TestExtract_MissingTextFile(t *testing.T) {
	h := newHarness(t)
	if code := h.run("extract"); code != 1 {
		t.Fatalf("期望退出码 1，实际=%d", code)
	}
	if !strings.Contains(h.stderr.String(), domain.ErrCodeTextMissing) {
		t.Fatalf("stderr 应包含 %s：%s", domain.ErrCodeTextMissing, h.stderr.String())
	}
}

func TestWatch_RequiresRecognizer(t *testing.T) {
	h := newHarness(t)

	if code := h.run("watch"); code != 1 {
		t.Fatalf("期望退出码 1，实际=%d", code)
	}
	rr := decodeRunReport(t, h.stdout.Bytes())
	if len(rr.Diagnostics) != 1 || rr.Diagnostics[0].Code != config.ErrCodeInvalid {
		t.Fatalf("期望 config_invalid 诊断，实际=%+v", rr.Diagnostics)
	}
}

func TestIsTTY_NonFileWriter(t *testing.T) {
	if isTTY(&bytes.Buffer{}) {
		t.Fatalf("bytes.Buffer 不应被视为终端")
	}
}
