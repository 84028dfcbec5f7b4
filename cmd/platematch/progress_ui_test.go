package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/platematch/internal/config"
	"github.com/John-Robertt/platematch/internal/domain"
)

func TestProgressUI_OnStartMasksSecrets(t *testing.T) {
	eff, err := config.LoadEffective(t.TempDir(), config.CLIArgs{})
	if err != nil {
		t.Fatalf("LoadEffective 失败：%v", err)
	}
	eff.Crawl.Token = "abcdef123456"
	eff.Vision.APIKey = "sk-0123456789"

	var buf bytes.Buffer
	ui := newProgressUI(&buf)
	ui.OnStart(eff)
	ui.Close()
	ui.Close()

	out := buf.String()
	if strings.Contains(out, "abcdef123456") || strings.Contains(out, "sk-0123456789") {
		t.Fatalf("输出中不应出现明文密钥：\n%s", out)
	}
	if !strings.Contains(out, "token=ab********56") {
		t.Fatalf("期望打码后的 token，实际：\n%s", out)
	}
	if !strings.Contains(out, "result: "+eff.OutputPath) {
		t.Fatalf("期望输出结果表路径，实际：\n%s", out)
	}
}

func TestProgressUI_Phases(t *testing.T) {
	var buf bytes.Buffer
	ui := newProgressUI(&buf)

	ui.OnPhaseDone("text", map[string]any{"source": domain.TextSourceFile, "chars": 120}, 100*time.Millisecond)
	ui.OnPhaseDone("crawl", map[string]any{"date": "2025-06-01", "materials": 2, "records": 40, "duplicates": 3, "failed": 0}, 2*time.Second)
	ui.OnPhaseDone("catalog", map[string]any{"source": domain.CatalogSourceCrawled, "rows": 37}, time.Second)
	ui.OnPhaseDone("custom", nil, 0)

	out := buf.String()
	for _, want := range []string{
		"文本: source=file chars=120 (0.1s)",
		"抓取: date=2025-06-01 materials=2 records=40 duplicates=3 failed=0 (2.0s)",
		"目录: source=crawled rows=37 (1.0s)",
		"custom (0.0s)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("缺少 %q，实际：\n%s", want, out)
		}
	}
}

func TestProgressUI_CrawlAndSpecs(t *testing.T) {
	var buf bytes.Buffer
	ui := newProgressUI(&buf)

	ui.OnCrawlPage("304", 1, 20)
	ui.OnCrawlPage("304", 2, 5)
	ui.OnCrawlPage("304", 3, 0)
	ui.OnSpecDone(1, 2, domain.SpecResult{Label: "304 厚度0.9mm 2440*1220mm", Mode: "strict", Status: domain.SpecStatusMatched, Matched: 2, MaterialHits: 4, ThicknessHits: 3, DimensionHits: 2}, 0)
	ui.OnSpecDone(2, 2, domain.SpecResult{Label: "430 厚度2.0mm 3000*1500mm", Mode: "strict", Status: domain.SpecStatusEmpty}, 0)

	out := buf.String()
	if strings.Count(out, "完成: pages=") != 1 || !strings.Contains(out, "304 完成: pages=2") {
		t.Fatalf("只应在材质翻页结束时输出一行，实际：\n%s", out)
	}
	if !strings.Contains(out, "[1/2] 304 厚度0.9mm 2440*1220mm OK mode=strict matched=2 hits=4/3/2") {
		t.Fatalf("规格行格式不符合预期：\n%s", out)
	}
	if !strings.Contains(out, "[2/2] 430 厚度2.0mm 3000*1500mm EMPTY") {
		t.Fatalf("空结果应标记 EMPTY：\n%s", out)
	}

	ui.mu.Lock()
	line := ui.progressLineLocked()
	ui.mu.Unlock()
	if !strings.HasPrefix(line, "进度: pages=3 records=25 specs=2/2 ok=1 empty=1") {
		t.Fatalf("进度行不符合预期：%s", line)
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := formatProxy(""); got != "off" {
		t.Fatalf("formatProxy 空值期望 off，实际=%q", got)
	}
	if got := formatProxy("http://u:p@127.0.0.1:7890"); got != "on (http://127.0.0.1:7890, auth=on)" {
		t.Fatalf("formatProxy 不应泄露凭据，实际=%q", got)
	}
	if got := formatStringListJSON(nil); got != "[]" {
		t.Fatalf("formatStringListJSON(nil) 期望 []，实际=%q", got)
	}
	if got := truncate("不锈钢冷轧板材", 5); got != "不锈..." {
		t.Fatalf("truncate 应按 rune 截断，实际=%q", got)
	}
	if got := formatElapsed(3725 * time.Second); got != "01:02:05" {
		t.Fatalf("formatElapsed 期望 01:02:05，实际=%q", got)
	}
	if got := formatShortDuration(-time.Second); got != "0.0s" {
		t.Fatalf("formatShortDuration 负值期望 0.0s，实际=%q", got)
	}
	if got := formatSecret(""); got != "off" {
		t.Fatalf("formatSecret 空值期望 off，实际=%q", got)
	}
	if got := formatCache(config.CacheConfig{RedisAddr: "127.0.0.1:6379", TTL: time.Hour}); got != "redis (127.0.0.1:6379, ttl=1h0m0s)" {
		t.Fatalf("formatCache 不符合预期：%q", got)
	}
	if got := formatCache(config.CacheConfig{Dir: "/tmp/c", TTL: time.Hour, ReadOnly: true}); got != "file (/tmp/c, ttl=1h0m0s, read-only)" {
		t.Fatalf("formatCache 应标出只读，实际：%q", got)
	}
	if got := intField(map[string]any{"n": int64(7)}, "n"); got != 7 {
		t.Fatalf("intField 期望 7，实际=%d", got)
	}
	if got := stringField(map[string]any{"n": 7}, "n"); got != "" {
		t.Fatalf("stringField 非字符串期望空串，实际=%q", got)
	}
}
