package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	appconfig "papertrade-go/config"
)

type HotReloadConfig struct {
	Enabled bool
	// 同一次保存常触发多个事件，窗口内只重载一次
	CooldownTime time.Duration
	// Poll 改用轮询（网络文件系统上 inotify 不触发）；fsnotify 不可用时自动启用。
	Poll         bool
	PollInterval time.Duration
}

func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: 500 * time.Millisecond,
		PollInterval: 2 * time.Second,
	}
}

// Section 是一个可在运行中替换的配置分类。Validate 可为空。
type Section struct {
	Validate func(appconfig.AppConfig) error
	Apply    func(appconfig.AppConfig) error
}

// SearchSection 校验 search 分类后交给 apply。
func SearchSection(apply func(appconfig.AppConfig) error) Section {
	return Section{
		Validate: func(cfg appconfig.AppConfig) error { return appconfig.ValidateSearch(cfg.Search) },
		Apply:    apply,
	}
}

// TradeSection 校验 trade 分类后交给 apply。
func TradeSection(apply func(appconfig.AppConfig) error) Section {
	return Section{
		Validate: func(cfg appconfig.AppConfig) error { return appconfig.ValidateTrade(cfg.Trade) },
		Apply:    apply,
	}
}

// HotReloader 监听配置文件，把新配置推给已注册的 Section。
// 一次重载要么所有分类都通过校验并应用，要么一个都不应用。
type HotReloader struct {
	cfg    HotReloadConfig
	path   string
	fsw    *fsnotify.Watcher
	logger *zap.Logger
	load   func(path string) (appconfig.AppConfig, error)

	mu       sync.RWMutex
	sections map[string]Section
	last     time.Time

	reloadMu sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewHotReloader(configPath string, cfg HotReloadConfig, logger *zap.Logger) (*HotReloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HotReloader{
		cfg:      cfg,
		path:     configPath,
		logger:   logger,
		load:     appconfig.LoadWithEnvOverrides,
		sections: make(map[string]Section),
	}
	if !cfg.Poll {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			logger.Warn("fsnotify unavailable, polling config file", zap.Error(err))
			h.cfg.Poll = true
		}
		h.fsw = fsw
	}
	return h, nil
}

// Register 同名覆盖。
func (h *HotReloader) Register(name string, s Section) {
	h.mu.Lock()
	h.sections[name] = s
	h.mu.Unlock()
}

// Start 不阻塞。fsnotify 模式监听所在目录，编辑器的 rename 保存也能捕获。
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.cfg.Enabled {
		return nil
	}
	if h.done != nil {
		return errors.New("hot reloader already started")
	}
	if !h.cfg.Poll {
		if err := h.fsw.Add(filepath.Dir(h.path)); err != nil {
			return fmt.Errorf("watch config dir: %w", err)
		}
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	go func() {
		defer close(h.done)
		if h.cfg.Poll {
			h.poll(ctx)
			return
		}
		h.watch(ctx)
	}()
	return nil
}

// Stop 可重复调用；未启动时只关闭 fsnotify。
func (h *HotReloader) Stop() error {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
	if h.fsw == nil {
		return nil
	}
	return h.fsw.Close()
}

// poll 由 appconfig.Watcher 负责变更检测与整体校验，这里只做分类校验与应用。
func (h *HotReloader) poll(ctx context.Context) {
	w := appconfig.Watcher{
		Path:     h.path,
		Interval: h.cfg.PollInterval,
		OnError:  h.reject,
	}
	_ = w.Start(ctx, func(cfg appconfig.AppConfig) {
		h.reloadMu.Lock()
		defer h.reloadMu.Unlock()
		if err := h.apply(cfg); err != nil {
			h.reject(err)
		}
	})
}

func (h *HotReloader) watch(ctx context.Context) {
	target := filepath.Clean(h.path)
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-h.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || ev.Op&relevant == 0 {
				continue
			}
			if time.Since(h.LastReload()) < h.cfg.CooldownTime {
				continue
			}
			if err := h.Reload(); err != nil {
				h.reject(err)
			}
		case err, ok := <-h.fsw.Errors:
			if !ok {
				return
			}
			h.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (h *HotReloader) reject(err error) {
	h.logger.Warn("config reload rejected", zap.String("path", h.path), zap.Error(err))
}

// Reload 立即读取并应用配置文件。
func (h *HotReloader) Reload() error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	cfg, err := h.load(h.path)
	if err != nil {
		return fmt.Errorf("load %s: %w", h.path, err)
	}
	return h.apply(cfg)
}

// apply 调用方持有 reloadMu。分类按名字排序，保证日志与失败顺序稳定。
func (h *HotReloader) apply(cfg appconfig.AppConfig) error {
	h.mu.RLock()
	names := make([]string, 0, len(h.sections))
	sections := make(map[string]Section, len(h.sections))
	for name, s := range h.sections {
		names = append(names, name)
		sections[name] = s
	}
	h.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		if v := sections[name].Validate; v != nil {
			if err := v(cfg); err != nil {
				return fmt.Errorf("validation failed for %s: %w", name, err)
			}
		}
	}
	for _, name := range names {
		if err := sections[name].Apply(cfg); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		h.logger.Info("config applied", zap.String("category", name))
	}

	h.mu.Lock()
	h.last = time.Now()
	h.mu.Unlock()
	return nil
}

// LastReload 返回最近一次成功应用的时间，从未应用时为零值。
func (h *HotReloader) LastReload() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}
