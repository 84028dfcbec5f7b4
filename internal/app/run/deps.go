package run

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/platematch/internal/config"
	"github.com/John-Robertt/platematch/internal/infra/cache"
	"github.com/John-Robertt/platematch/internal/infra/httpx"
	"github.com/John-Robertt/platematch/internal/provider"
	"github.com/John-Robertt/platematch/internal/provider/tomals"
	"github.com/John-Robertt/platematch/internal/recognize"
)

// Recognizer 把一张图片识别为文本（recognize.Recognizer 满足该接口）。
type Recognizer interface {
	RecognizeFile(ctx context.Context, path string) (string, error)
}

// Deps 是执行流程的外部协作者；测试中可以逐个替换。
type Deps struct {
	Log      *zap.Logger
	Registry provider.Registry
	// APIClient 用于比价接口；为空时使用 http.DefaultClient。
	APIClient *http.Client
	// Store 是目录快照缓存；为空表示不使用缓存。
	Store cache.Store
	// Recognizer 为空表示未配置视觉模型（只能使用已有文本）。
	Recognizer Recognizer
	Now        func() time.Time
}

func (d Deps) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// NewRegistry 注册内置的比价接口。
func NewRegistry(eff config.EffectiveConfig) (provider.Registry, error) {
	return provider.NewRegistry(tomals.New(eff.Crawl.BaseURL, eff.Crawl.Token))
}

// NewDeps 按配置构造真实的协作者。
// 视觉模型未配置 api_key 时 Recognizer 为空，不视为错误。
// 返回的 cleanup 用于释放 redis 连接等资源。
func NewDeps(eff config.EffectiveConfig, log *zap.Logger) (Deps, func(), error) {
	if log == nil {
		log = zap.NewNop()
	}
	reg, err := NewRegistry(eff)
	if err != nil {
		return Deps{}, nil, err
	}
	apiClient, err := httpx.NewAPIClient(eff.Crawl.ProxyURL)
	if err != nil {
		return Deps{}, nil, fmt.Errorf("crawl.proxy_url 无效：%w", err)
	}

	cleanup := func() {}
	var store cache.Store
	if addr := strings.TrimSpace(eff.Cache.RedisAddr); addr != "" {
		rs := cache.NewRedisStore(addr, eff.Cache.TTL)
		rs.ReadOnly = eff.Cache.ReadOnly
		store = rs
		cleanup = func() { _ = rs.Close() }
	} else {
		store = cache.NewFileStore(eff.Cache.Dir, eff.Cache.TTL, eff.Cache.ReadOnly)
	}

	var rec Recognizer
	if strings.TrimSpace(eff.Vision.APIKey) != "" {
		visionClient, err := httpx.NewVisionClient(eff.Crawl.ProxyURL)
		if err != nil {
			cleanup()
			return Deps{}, nil, err
		}
		r, err := recognize.New(recognize.Options{
			APIKey:      eff.Vision.APIKey,
			BaseURL:     eff.Vision.BaseURL,
			Model:       eff.Vision.Model,
			Prompt:      eff.Vision.Prompt,
			Temperature: eff.Vision.Temperature,
		}, visionClient, log.Named("recognize"))
		if err != nil {
			cleanup()
			return Deps{}, nil, err
		}
		rec = r
	}

	return Deps{
		Log:        log,
		Registry:   reg,
		APIClient:  apiClient,
		Store:      store,
		Recognizer: rec,
		Now:        time.Now,
	}, cleanup, nil
}
