package domain

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestRunReport_Finalize_SortAndSummaryAndUTC(t *testing.T) {
	r := RunReport{
		StartedAt:  time.Date(2026, 2, 9, 10, 0, 0, 0, time.FixedZone("X", 8*3600)),
		FinishedAt: time.Date(2026, 2, 9, 10, 0, 1, 0, time.FixedZone("X", 8*3600)),
		Specs: []SpecResult{
			{Index: 2, Matched: 3, Status: SpecStatusMatched},
			{Index: 1, Matched: 0, Status: SpecStatusEmpty},
			{Index: 3, Matched: 2, Status: SpecStatusMatched},
		},
		Groups: []GroupCount{
			{Label: "b", Rows: 1},
			{Label: "a", Rows: 1},
			{Label: "c", Rows: 4},
		},
		Diagnostics: []Diagnostic{
			{Level: LevelWarn, Code: ErrCodeCatalogMissingColumn},
			{Level: LevelError, Code: ErrCodeCatalogMissing},
		},
	}

	r.Finalize()

	if r.Specs[0].Index != 1 || r.Specs[1].Index != 2 || r.Specs[2].Index != 3 {
		t.Fatalf("specs 排序不符合契约：%+v", r.Specs)
	}
	if r.Groups[0].Label != "c" || r.Groups[1].Label != "a" || r.Groups[2].Label != "b" {
		t.Fatalf("groups 排序不符合契约：%+v", r.Groups)
	}
	if r.Summary.Specs != 3 || r.Summary.Matched != 5 || r.Summary.Fatal != 1 {
		t.Fatalf("summary 统计不正确：%+v", r.Summary)
	}
	if r.OK() {
		t.Fatalf("存在致命诊断时 OK 应为 false")
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	if !bytes.Contains(b, []byte("\"started_at\":\"2026-02-09T02:00:00Z\"")) {
		t.Fatalf("started_at 不是 UTC RFC3339：%s", string(b))
	}
}

func TestRunReport_Finalize_NilSlicesBecomeEmptyArrays(t *testing.T) {
	var r RunReport
	r.Finalize()

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	for _, key := range []string{`"specs":[]`, `"groups":[]`, `"diagnostics":[]`} {
		if !bytes.Contains(b, []byte(key)) {
			t.Fatalf("期望包含 %s：%s", key, string(b))
		}
	}
}

func TestCrawlReport_OKAndFinalize(t *testing.T) {
	r := CrawlReport{Records: 3, Materials: []MaterialStat{{ID: 3, Name: "304", Records: 3}}}
	r.Finalize()
	if !r.OK() {
		t.Fatalf("全部成功时 OK 应为 true")
	}
	if r.Diagnostics == nil {
		t.Fatalf("Finalize 后 diagnostics 不应为 nil")
	}

	r.Materials = append(r.Materials, MaterialStat{ID: 27, Name: "430", ErrorCode: ErrCodeFetchFailed})
	if r.OK() {
		t.Fatalf("有材质失败时 OK 应为 false")
	}
	if (CrawlReport{}).OK() {
		t.Fatalf("没有报价时 OK 应为 false")
	}
}
