package config

import (
	"context"
	"os"
	"time"
)

const defaultPollInterval = 2 * time.Second

// fingerprint 判断文件是否变化：mtime 或大小任一不同即视为改动。
type fingerprint struct {
	mod  time.Time
	size int64
}

func statFingerprint(path string) (fingerprint, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return fingerprint{}, err
	}
	return fingerprint{mod: fi.ModTime(), size: fi.Size()}, nil
}

// Watcher polls the config file and reloads it when its fingerprint changes.
// internal/config.HotReloader falls back to it when fsnotify is unavailable.
// The first successful poll always loads.
type Watcher struct {
	Path     string
	Interval time.Duration
	// OnError receives load/validation failures; the previous config stays active.
	OnError func(error)

	stat func(string) (fingerprint, error)
}

// Start blocks until ctx is done.
func (w Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	interval := w.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	stat := w.stat
	if stat == nil {
		stat = statFingerprint
	}

	var (
		last   fingerprint
		loaded bool
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		fp, err := stat(w.Path)
		if err != nil {
			// 文件可能正在被编辑器替换，下一轮再看
			continue
		}
		if loaded && fp == last {
			continue
		}
		last, loaded = fp, true

		cfg, err := LoadWithEnvOverrides(w.Path)
		switch {
		case err != nil:
			if w.OnError != nil {
				w.OnError(err)
			}
		case onUpdate != nil:
			onUpdate(cfg)
		}
	}
}
