package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileOp 文件变化类型.
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
)

func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	}
	return "UNKNOWN"
}

// FileEvent 一次防抖后的变化.
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// fileStamp 用修改时间和大小判断内容是否变化.
type fileStamp struct {
	mod  time.Time
	size int64
}

// FileWatcher 轮询 providers.yaml 等少量文件. 编辑器保存时会连续触发
// 多次写入, 同一路径在 debounce 窗口内只回调一次, 取最后一次的 Op.
type FileWatcher struct {
	paths    []string
	interval time.Duration
	debounce time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	callbacks []func(FileEvent)
	stamps    map[string]fileStamp
	pending   map[string]FileEvent
	running   bool
	stop      chan struct{}
}

type WatcherOption func(*FileWatcher)

// WithDebounceDelay 0 表示每轮检测到变化立即回调.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) { w.debounce = d }
}

// WithPollInterval 非正值忽略.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewFileWatcher 路径暂不存在时等待其创建; 其他 stat 错误直接返回.
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		paths:    append([]string(nil), paths...),
		interval: time.Second,
		debounce: 100 * time.Millisecond,
		logger:   zap.NewNop(),
		stamps:   make(map[string]fileStamp),
		pending:  make(map[string]FileEvent),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, p := range w.paths {
		_, err := os.Stat(p)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			w.logger.Warn("watched path missing, waiting for it to appear", zap.String("path", p))
		case err != nil:
			return nil, fmt.Errorf("watch %s: %w", p, err)
		}
	}
	return w, nil
}

// OnChange 回调在轮询 goroutine 中串行执行.
func (w *FileWatcher) OnChange(fn func(FileEvent)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Start 记录当前状态作为基线后开始轮询; ctx 取消或 Stop 后退出.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("watcher already running")
	}
	for _, p := range w.paths {
		if st, ok := stampOf(p); ok {
			w.stamps[p] = st
		}
	}
	w.running = true
	w.stop = make(chan struct{})
	go w.loop(ctx, w.stop)

	w.logger.Info("watching files",
		zap.Strings("paths", w.paths),
		zap.Duration("interval", w.interval))
	return nil
}

// Stop 可重复调用.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		close(w.stop)
		w.running = false
	}
	return nil
}

func (w *FileWatcher) Paths() []string {
	return append([]string(nil), w.paths...)
}

func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *FileWatcher) loop(ctx context.Context, stop <-chan struct{}) {
	defer func() {
		w.mu.Lock()
		if w.stop == stop {
			w.running = false
		}
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if w.scan(time.Now()) == 0 {
				continue
			}
			if w.debounce <= 0 {
				w.flush()
				continue
			}
			// 每次有新变化都重新计时
			fire = time.After(w.debounce)
		case <-fire:
			fire = nil
			w.flush()
		}
	}
}

// scan 对比 stamp, 把变化并入 pending, 返回本轮变化数.
func (w *FileWatcher) scan(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := 0
	for _, p := range w.paths {
		cur, exists := stampOf(p)
		prev, had := w.stamps[p]
		var op FileOp
		switch {
		case !exists && had:
			delete(w.stamps, p)
			op = FileOpRemove
		case exists && !had:
			w.stamps[p] = cur
			op = FileOpCreate
		case exists && cur != prev:
			w.stamps[p] = cur
			op = FileOpWrite
		default:
			continue
		}
		w.pending[p] = FileEvent{Path: p, Op: op, Timestamp: now}
		changed++
	}
	return changed
}

func (w *FileWatcher) flush() {
	w.mu.Lock()
	events := w.pending
	w.pending = make(map[string]FileEvent)
	callbacks := append(([]func(FileEvent))(nil), w.callbacks...)
	w.mu.Unlock()

	for _, evt := range events {
		w.logger.Debug("file changed", zap.String("path", evt.Path), zap.Stringer("op", evt.Op))
		for _, cb := range callbacks {
			cb(evt)
		}
	}
}

func stampOf(path string) (fileStamp, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, false
	}
	return fileStamp{mod: info.ModTime(), size: info.Size()}, true
}
