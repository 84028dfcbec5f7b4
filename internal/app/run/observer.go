package run

import (
	"time"

	"github.com/John-Robertt/platematch/internal/config"
	"github.com/John-Robertt/platematch/internal/domain"
)

// Observer 用于把“运行进度/阶段/规格结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：抓取页事件来自多个 worker goroutine。
type Observer interface {
	// OnStart 在执行开始时调用（应尽量早，保证用户 1 秒内看到输出）。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束时调用（text/catalog/extract/match/write）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnCrawlPage 在抓取完一页时调用。
	OnCrawlPage(material string, page, records int)
	// OnSpecDone 在某个规格匹配完成时调用。
	OnSpecDone(idx, total int, res domain.SpecResult, dur time.Duration)
}

// nopObserver 让执行流程无需到处判空。
type nopObserver struct{}

func (nopObserver) OnStart(config.EffectiveConfig)                        {}
func (nopObserver) OnPhaseDone(string, map[string]any, time.Duration)     {}
func (nopObserver) OnCrawlPage(string, int, int)                          {}
func (nopObserver) OnSpecDone(int, int, domain.SpecResult, time.Duration) {}

func observerOrNop(obs Observer) Observer {
	if obs == nil {
		return nopObserver{}
	}
	return obs
}
