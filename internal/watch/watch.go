// Package watch 监听图片目录：新图片落盘并稳定后交给 Handler（通常是视觉识别）。
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/John-Robertt/platematch/internal/infra/fsx"
	"github.com/John-Robertt/platematch/internal/scan"
)

// ErrWatcherFailed 表示 fsnotify 初始化或添加目录失败。
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Handler 处理一张已稳定的新图片。返回错误只记录日志，不终止监听。
type Handler func(ctx context.Context, path string) error

// Options 是监听参数。
type Options struct {
	Dir        string
	Extensions []string
	// Settle 是检测到新文件后的等待时间（等写入方写完）。
	Settle time.Duration
	// Backfill 为 true 时，启动时先处理目录里已有的图片。
	Backfill bool
}

// Event 是一次处理结果（用于 CLI 输出）。
type Event struct {
	Path string
	Err  error
	Dur  time.Duration
}

// Watcher 串行处理新图片：同一路径只处理一次。
type Watcher struct {
	opts    Options
	handler Handler
	log     *zap.Logger

	mu        sync.Mutex
	processed map[string]struct{}

	events chan Event
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(opts Options, h Handler, log *zap.Logger) (*Watcher, error) {
	if h == nil {
		return nil, errors.New("handler 不能为空")
	}
	if opts.Dir == "" {
		return nil, errors.New("watch dir 不能为空")
	}
	st, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("监听目录不存在：%w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("监听路径不是目录：%s", opts.Dir)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		opts:      opts,
		handler:   h,
		log:       log,
		processed: make(map[string]struct{}),
		events:    make(chan Event, 16),
		sleep:     sleepCtx,
	}, nil
}

// Events 返回处理结果通道；Run 返回时关闭。调用方不读也不会阻塞处理（满了就丢弃）。
func (w *Watcher) Events() <-chan Event { return w.events }

// Run 阻塞监听直到 ctx 结束；ctx 取消不视为错误。
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.opts.Dir); err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	w.log.Info("watching", zap.String("dir", w.opts.Dir), zap.Strings("extensions", w.opts.Extensions))

	if w.opts.Backfill {
		images, err := scan.ScanImages(w.opts.Dir, w.opts.Extensions)
		if err != nil {
			w.log.Warn("backfill scan failed", zap.Error(err))
		}
		for _, im := range images {
			if ctx.Err() != nil {
				return nil
			}
			w.process(ctx, im.AbsPath, false)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			// 截图工具常见两种落盘方式：直接创建，或写临时文件后 rename 进来（对目录而言也是 Create）。
			if ev.Op&fsnotify.Create == 0 {
				continue
			}
			w.process(ctx, ev.Name, true)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// Accept 判断路径是否应被处理：扩展名匹配、非隐藏文件、未处理过。
func (w *Watcher) Accept(path string) bool {
	base := filepath.Base(path)
	if base == "" || base[0] == '.' {
		return false
	}
	if !scan.IsImage(path, w.opts.Extensions) {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, seen := w.processed[filepath.Clean(path)]
	return !seen
}

func (w *Watcher) markProcessed(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	path = filepath.Clean(path)
	if _, ok := w.processed[path]; ok {
		return false
	}
	w.processed[path] = struct{}{}
	return true
}

func (w *Watcher) process(ctx context.Context, path string, settle bool) {
	if !w.Accept(path) || !w.markProcessed(path) {
		return
	}
	if st, err := os.Stat(path); err != nil || st.IsDir() {
		return
	}

	w.log.Info("new image", zap.String("file", filepath.Base(path)))
	if settle && w.opts.Settle > 0 {
		if err := w.sleep(ctx, w.opts.Settle); err != nil {
			return
		}
	}

	started := time.Now()
	var err error
	if !fsx.IsReadable(path) {
		err = fmt.Errorf("文件不可读（可能仍在写入）：%s", path)
	} else {
		err = w.handler(ctx, path)
	}

	ev := Event{Path: path, Err: err, Dur: time.Since(started)}
	if err != nil {
		w.log.Warn("image failed", zap.String("file", filepath.Base(path)), zap.Error(err))
	} else {
		w.log.Info("image done", zap.String("file", filepath.Base(path)), zap.Duration("dur", ev.Dur))
	}
	select {
	case w.events <- ev:
	default:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
