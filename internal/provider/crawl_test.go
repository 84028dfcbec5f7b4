package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/platematch/internal/domain"
)

// stubSource 按 materialId 返回预置的分页数据；页序号从 1 开始。
type stubSource struct {
	mu     sync.Mutex
	pages  map[int][][]domain.PriceRecord
	failAt map[int]int // materialId -> 在第几页返回 fetch 错误
	badAt  map[int]int // materialId -> 在第几页返回无法解析的内容
	calls  map[int]int
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) FetchPage(_ context.Context, q Query, _ *http.Client) ([]byte, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = map[int]int{}
	}
	s.calls[q.Material.ID]++
	s.mu.Unlock()

	if p, ok := s.failAt[q.Material.ID]; ok && p == q.Page {
		return nil, &HTTPStatusError{URL: "stub", StatusCode: 500}
	}
	if p, ok := s.badAt[q.Material.ID]; ok && p == q.Page {
		return []byte("{"), nil
	}
	pages := s.pages[q.Material.ID]
	if q.Page > len(pages) {
		return []byte("[]"), nil
	}
	return json.Marshal(pages[q.Page-1])
}

func (s *stubSource) ParsePage(raw []byte, q Query) ([]domain.PriceRecord, error) {
	var recs []domain.PriceRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].Material = q.Material.Name
		recs[i].MaterialID = q.Material.ID
		recs[i].Date = q.Date
	}
	return recs, nil
}

func rec(company, spec, thickness, price, id string) domain.PriceRecord {
	return domain.PriceRecord{Company: company, Spec: spec, Thickness: thickness, Price: price, RecordID: id}
}

var testMaterials = []Material{{ID: 3, Name: "304"}, {ID: 27, Name: "430"}, {ID: 28, Name: "316L"}}

func TestCrawl_MaterialOrderIndependentOfConcurrency(t *testing.T) {
	src := &stubSource{pages: map[int][][]domain.PriceRecord{
		3:  {{rec("甲", "4*8", "0.9", "13500", "1"), rec("乙", "4*8", "0.9", "13600", "2")}, {rec("丙", "5*10", "1.0", "13700", "3")}},
		27: {{rec("甲", "4*8", "0.5", "8000", "4")}},
		28: {{rec("丁", "4*8", "1.0", "25000", "5")}},
	}}

	for _, workers := range []int{1, 3} {
		t.Run("workers="+strconv.Itoa(workers), func(t *testing.T) {
			c := NewCrawler(src, nil, Options{Date: "2025-06-01", Concurrency: workers}, nil)
			res := c.Crawl(context.Background(), testMaterials, nil)

			var ids []string
			for _, r := range res.Records {
				ids = append(ids, r.RecordID)
			}
			assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids)
			assert.Equal(t, "2025-06-01", res.Records[0].Date)
			assert.Equal(t, "430", res.Records[3].Material)
			assert.Empty(t, res.Failed())
			assert.Equal(t, 3, res.Materials[0].Pages, "两页数据 + 一个空页")
		})
	}
}

func TestCrawl_FailureStopsOnlyThatMaterial(t *testing.T) {
	src := &stubSource{
		pages: map[int][][]domain.PriceRecord{
			3:  {{rec("甲", "4*8", "0.9", "1", "1")}, {rec("乙", "4*8", "0.9", "2", "2")}},
			27: {{rec("甲", "4*8", "0.5", "3", "3")}},
			28: {{rec("丁", "4*8", "1.0", "4", "4")}},
		},
		failAt: map[int]int{3: 2},
		badAt:  map[int]int{28: 1},
	}
	c := NewCrawler(src, nil, Options{Date: "2025-06-01", Concurrency: 2}, nil)
	var mu sync.Mutex
	pages := 0
	res := c.Crawl(context.Background(), testMaterials, func(Material, int, int) {
		mu.Lock()
		pages++
		mu.Unlock()
	})

	var ids []string
	for _, r := range res.Records {
		ids = append(ids, r.RecordID)
	}
	assert.Equal(t, []string{"1", "3"}, ids, "失败前已抓到的页保留")

	failed := res.Failed()
	require.Len(t, failed, 2)

	var pe *Error
	require.True(t, errors.As(failed[0].Err, &pe))
	assert.Equal(t, "fetch", pe.Stage)
	assert.Equal(t, 2, pe.Page)
	assert.Equal(t, domain.ErrCodeFetchFailed, pe.Code())

	var hs *HTTPStatusError
	assert.True(t, errors.As(failed[0].Err, &hs))

	require.True(t, errors.As(failed[1].Err, &pe))
	assert.Equal(t, "parse", pe.Stage)
	assert.Equal(t, domain.ErrCodeParseFailed, pe.Code())

	assert.Equal(t, 3, pages, "304 第 1 页 + 430 第 1 页与空页")
}

func TestCrawl_MaxPages(t *testing.T) {
	many := make([][]domain.PriceRecord, 10)
	for i := range many {
		many[i] = []domain.PriceRecord{rec("甲", "4*8", strconv.Itoa(i), "1", strconv.Itoa(i))}
	}
	src := &stubSource{pages: map[int][][]domain.PriceRecord{3: many}}
	c := NewCrawler(src, nil, Options{Date: "2025-06-01", MaxPages: 3}, nil)
	res := c.Crawl(context.Background(), testMaterials[:1], nil)
	assert.Len(t, res.Records, 3)
	assert.Equal(t, 3, src.calls[3])
}

func TestCrawl_CanceledContext(t *testing.T) {
	src := &stubSource{pages: map[int][][]domain.PriceRecord{3: {{rec("甲", "4*8", "1", "1", "1")}}}}
	c := NewCrawler(src, nil, Options{Date: "2025-06-01", Interval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := c.Crawl(ctx, testMaterials[:1], nil)

	require.Len(t, res.Failed(), 1)
	assert.True(t, IsCanceled(res.Failed()[0].Err))
	assert.Empty(t, res.Records)
}

func TestCrawl_DefaultDateIsToday(t *testing.T) {
	c := NewCrawler(&stubSource{}, nil, Options{}, nil)
	c.now = func() time.Time { return time.Date(2025, 10, 17, 9, 0, 0, 0, time.Local) }
	assert.Equal(t, "2025-10-17", c.Date())
}

func TestDedupe_KeepsFirst(t *testing.T) {
	a := rec("甲", "4*8", "0.9", "13500", "1")
	a.Material = "304"
	b := a
	b.RecordID = "2"
	c := a
	c.Price = "13600"
	c.RecordID = "3"

	out, dup := Dedupe([]domain.PriceRecord{a, b, c})
	require.Len(t, out, 2)
	assert.Equal(t, 1, dup)
	assert.Equal(t, "1", out[0].RecordID)
	assert.Equal(t, "3", out[1].RecordID)
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(&stubSource{})
	require.NoError(t, err)

	s, ok := reg.Get(" STUB ")
	require.True(t, ok)
	assert.Equal(t, "stub", s.Name())

	_, err = NewRegistry(&stubSource{}, &stubSource{})
	assert.Error(t, err)

	_, err = NewRegistry(nil)
	assert.Error(t, err)
}
